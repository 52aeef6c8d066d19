package sqlnode

import (
	"regexp"
	"strings"
	"testing"
)

type userParam struct {
	Name string
	Age  int
}

// S2 from spec.md §8: where-with-if.
func TestWhereWithIf(t *testing.T) {
	body := &MixedSqlNode{Contents: []SqlNode{
		&IfSqlNode{Test: "Name != null", Body: &StaticTextNode{Text: "AND name = #{Name}"}},
		&IfSqlNode{Test: "Age > 0", Body: &StaticTextNode{Text: "AND age = #{Age}"}},
	}}
	where := NewWhereSqlNode(body)

	ctx := NewDynamicContext(userParam{Name: "ann", Age: 0})
	ctx.AppendSql("SELECT * FROM u")
	where.Apply(ctx)

	got := ctx.SQL()
	want := "SELECT * FROM u WHERE name = #{Name}"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// S3 from spec.md §8: foreach uniqueness.
func TestForeachUniqueness(t *testing.T) {
	body := &StaticTextNode{Text: "#{i}"}
	fe := &ForeachSqlNode{
		CollectionExpr: "IDs",
		Item:           "i",
		Open:           "(",
		Close:          ")",
		Separator:      ",",
		Body:           body,
	}

	ctx := NewDynamicContext(struct{ IDs []int }{IDs: []int{1, 2, 3}})
	fe.Apply(ctx)

	got := ctx.SQL()
	re := regexp.MustCompile(`__frch_i_\d+`)
	names := re.FindAllString(got, -1)
	if len(names) != 3 {
		t.Fatalf("expected 3 generated names, got %v in %q", names, got)
	}
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			t.Fatalf("duplicate generated name %q in %q", n, got)
		}
		seen[n] = true
	}
	for _, n := range names {
		v, ok := ctx.Bindings[n]
		if !ok {
			t.Fatalf("missing binding for %q", n)
		}
		_ = v
	}
	if !strings.HasPrefix(got, "(") || !strings.HasSuffix(got, ")") {
		t.Fatalf("expected open/close wrapping, got %q", got)
	}
}

func TestTrimIdempotence(t *testing.T) {
	overrides := []string{"AND ", "OR "}
	once := ApplyTrim("AND name = ?", "", "", overrides, nil)
	twice := ApplyTrim(once, "", "", overrides, nil)
	if once != twice {
		t.Fatalf("trim not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestInterpolate(t *testing.T) {
	ctx := NewDynamicContext(struct{ X string }{X: "c"})
	got := Interpolate("a, b, ${X}", ctx)
	if got != "a, b, c" {
		t.Fatalf("got %q", got)
	}
}
