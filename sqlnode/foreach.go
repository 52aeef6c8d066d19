package sqlnode

import (
	"fmt"
	"regexp"
	"strings"

	"gobatis/ognl"
)

// ForeachSqlNode evaluates CollectionExpr and applies Body once per
// element, renaming #{item...}/#{index...} tokens produced by the body to
// unique names of the form __frch_{name}_{n}, where n is a monotonic
// counter scoped to the whole evaluation (spec.md §4.C, §8.3). Both the
// bare name and the unique name are bound to the element's value/index (or
// key/value, for a map collection) while the body for that match renders.
type ForeachSqlNode struct {
	CollectionExpr string
	Item           string
	Index          string
	Open           string
	Close          string
	Separator      string
	Nullable       bool
	Body           SqlNode
}

func (n *ForeachSqlNode) Apply(ctx *DynamicContext) bool {
	elements, err := ognl.EvaluateIterable(n.CollectionExpr, ctx.OGNLContext(), n.Nullable)
	if err != nil {
		ctx.setErr(fmt.Errorf("sqlnode: evaluating foreach collection %q: %w", n.CollectionExpr, err))
		return true
	}
	if len(elements) == 0 {
		return true
	}

	if n.Open != "" {
		ctx.AppendSql(n.Open)
	}

	for i, el := range elements {
		if i > 0 && n.Separator != "" {
			ctx.AppendSql(n.Separator)
		}

		if n.Item != "" {
			ctx.Bind(n.Item, el.Value)
		}
		if n.Index != "" {
			ctx.Bind(n.Index, el.Index)
		}

		child := ctx.childWithRewrite(func(text string) string {
			return rewriteForeachTokens(ctx, text, n.Item, n.Index, el)
		})
		n.Body.Apply(child)
		if child.err != nil {
			ctx.setErr(child.err)
		}
		ctx.AppendSql(child.SQL())
	}

	if n.Close != "" {
		ctx.AppendSql(n.Close)
	}

	if n.Item != "" {
		delete(ctx.Bindings, n.Item)
	}
	if n.Index != "" {
		delete(ctx.Bindings, n.Index)
	}
	return true
}

// rewriteForeachTokens replaces every #{item...} / #{index...} token
// prefix produced by one iteration's body with a freshly minted unique
// name, binding that name to the element's value/index so the placeholder
// rewriter (builder package) can resolve it later.
func rewriteForeachTokens(ctx *DynamicContext, text, item, index string, el ognl.Element) string {
	var names []string
	if item != "" {
		names = append(names, regexp.QuoteMeta(item))
	}
	if index != "" {
		names = append(names, regexp.QuoteMeta(index))
	}
	if len(names) == 0 {
		return text
	}
	pattern := regexp.MustCompile(`#\{\s*(` + strings.Join(names, "|") + `)\b`)

	return pattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := pattern.FindStringSubmatch(m)
		name := sub[1]
		n := ctx.nextUnique()
		unique := fmt.Sprintf("__frch_%s_%d", name, n)
		if name == index && index != "" {
			ctx.Bind(unique, el.Index)
		} else {
			ctx.Bind(unique, el.Value)
		}
		return strings.Replace(m, name, unique, 1)
	})
}
