package ognl

import "testing"

type params struct {
	Name string
	Age  int
	IDs  []int
}

func TestEvaluateBooleanComparisons(t *testing.T) {
	ctx := NewContext(params{Name: "ann", Age: 0})
	ok, err := EvaluateBoolean("name != null", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected name != null to be true")
	}

	ok, err = EvaluateBoolean("age > 0", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected age > 0 to be false when age is 0")
	}
}

func TestEvaluateBooleanCombinators(t *testing.T) {
	ctx := NewContext(params{Name: "ann", Age: 5})
	ok, err := EvaluateBoolean("name != null && age > 0", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected combinator to be true")
	}
}

func TestEvaluateIterable(t *testing.T) {
	ctx := NewContext(params{IDs: []int{1, 2, 3}})
	elems, err := EvaluateIterable("IDs", ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(elems) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(elems))
	}
	if elems[1].Value.(int) != 2 {
		t.Fatalf("unexpected element: %+v", elems[1])
	}
}

func TestEvaluateIterableNullable(t *testing.T) {
	ctx := NewContext(params{})
	ctx.Bindings["missing"] = nil
	elems, err := EvaluateIterable("missing", ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(elems) != 0 {
		t.Fatalf("expected no elements, got %d", len(elems))
	}

	_, err = EvaluateIterable("missing", ctx, false)
	if err == nil {
		t.Fatal("expected error for non-nullable null iterable")
	}
}
