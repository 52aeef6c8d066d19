package sqlnode

import (
	"fmt"
	"strings"

	"gobatis/ognl"
	"gobatis/reflectx"
)

// StaticTextNode is text known at compile time to contain no ${...}
// interpolation — it never needs to be re-rendered per call.
type StaticTextNode struct {
	Text string
}

func (n *StaticTextNode) Apply(ctx *DynamicContext) bool {
	ctx.AppendSql(n.Text)
	return true
}

// TextSqlNode performs ${...} interpolation at apply time. Because the
// substituted text is spliced directly into the SQL string rather than
// bound as a parameter, callers must treat untrusted values routed through
// ${} as a code-injection surface (spec.md §4.C).
type TextSqlNode struct {
	Text string
}

// IsDynamic reports whether Text contains a ${ token — per spec.md §4.D,
// only the presence of "${" (not the element shape) decides whether a
// text node must be re-rendered on every call.
func (n *TextSqlNode) IsDynamic() bool {
	return strings.Contains(n.Text, "${")
}

func (n *TextSqlNode) Apply(ctx *DynamicContext) bool {
	ctx.AppendSql(Interpolate(n.Text, ctx))
	return true
}

// Interpolate expands every ${name} occurrence in text against ctx,
// navigating dotted property paths through the bound parameter.
func Interpolate(text string, ctx *DynamicContext) string {
	var out strings.Builder
	i := 0
	for {
		start := strings.Index(text[i:], "${")
		if start < 0 {
			out.WriteString(text[i:])
			break
		}
		start += i
		out.WriteString(text[i:start])
		end := strings.Index(text[start:], "}")
		if end < 0 {
			out.WriteString(text[start:])
			break
		}
		end += start
		name := strings.TrimSpace(text[start+2 : end])
		out.WriteString(resolveVariable(name, ctx))
		i = end + 1
	}
	return out.String()
}

func resolveVariable(name string, ctx *DynamicContext) string {
	if v, ok := ctx.Bindings[name]; ok {
		return fmt.Sprint(v)
	}
	if ctx.Parameter != nil {
		mo := reflectx.Wrap(ctx.Parameter)
		if mo.IsValid() {
			if v, err := mo.Get(name); err == nil && v != nil {
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

// MixedSqlNode is an ordered sequence of child nodes, applied in order.
type MixedSqlNode struct {
	Contents []SqlNode
}

func (n *MixedSqlNode) Apply(ctx *DynamicContext) bool {
	for _, c := range n.Contents {
		c.Apply(ctx)
	}
	return true
}

// IfSqlNode applies Body only when Test evaluates truthy.
type IfSqlNode struct {
	Test string
	Body SqlNode
}

func (n *IfSqlNode) Apply(ctx *DynamicContext) bool {
	ok, err := ognl.EvaluateBoolean(n.Test, ctx.OGNLContext())
	if err != nil {
		ctx.setErr(fmt.Errorf("sqlnode: evaluating test %q: %w", n.Test, err))
		return false
	}
	if ok {
		n.Body.Apply(ctx)
		return true
	}
	return false
}

// ChooseSqlNode picks the first matching When, else Otherwise if present.
type ChooseSqlNode struct {
	Whens     []*IfSqlNode
	Otherwise SqlNode
}

func (n *ChooseSqlNode) Apply(ctx *DynamicContext) bool {
	for _, w := range n.Whens {
		if w.Apply(ctx) {
			return true
		}
	}
	if n.Otherwise != nil {
		n.Otherwise.Apply(ctx)
		return true
	}
	return false
}

// BindSqlNode / VarDeclSqlNode evaluate Expr and store the result under
// Name in the context's bindings (spec.md's <bind> and foreach <var>
// share this shape).
type BindSqlNode struct {
	Name string
	Expr string
}

func (n *BindSqlNode) Apply(ctx *DynamicContext) bool {
	v, err := ognl.EvaluateValue(n.Expr, ctx.OGNLContext())
	if err != nil {
		ctx.setErr(fmt.Errorf("sqlnode: evaluating bind %q: %w", n.Expr, err))
		return false
	}
	ctx.Bind(n.Name, v)
	return true
}

type VarDeclSqlNode = BindSqlNode
