package plugin

import (
	"testing"

	"gobatis"
)

type countingInterceptor struct {
	calls *[]string
}

func (c countingInterceptor) Signatures() []gobatis.Signature {
	return []gobatis.Signature{{Target: gobatis.TargetExecutor, Method: "query"}}
}

func (c countingInterceptor) Intercept(inv gobatis.Invocation) (interface{}, error) {
	*c.calls = append(*c.calls, "before:"+inv.Method)
	result, err := inv.Proceed()
	*c.calls = append(*c.calls, "after:"+inv.Method)
	return result, err
}

func TestWrapCallsThroughTransparently(t *testing.T) {
	var calls []string
	chain := []gobatis.Interceptor{countingInterceptor{calls: &calls}}

	w := Wrap(struct{}{}, gobatis.TargetExecutor, chain, func(method string, args []interface{}) (interface{}, error) {
		calls = append(calls, "target:"+method)
		return "result", nil
	})

	out, err := w.Call("query", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "result" {
		t.Fatalf("got %v, want result", out)
	}
	want := []string{"before:query", "target:query", "after:query"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestWrapSkipsUninterestedMethod(t *testing.T) {
	var calls []string
	chain := []gobatis.Interceptor{countingInterceptor{calls: &calls}}

	w := Wrap(struct{}{}, gobatis.TargetExecutor, chain, func(method string, args []interface{}) (interface{}, error) {
		return "passthrough", nil
	})

	out, err := w.Call("update", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "passthrough" {
		t.Fatalf("got %v, want passthrough", out)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no interceptor calls for uninterested method, got %v", calls)
	}
}
