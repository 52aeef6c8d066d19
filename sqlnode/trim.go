package sqlnode

import "strings"

// TrimSqlNode buffers Body's output into a child context, then trims a
// configured prefix/suffix override from the result before splicing a
// prefix/suffix affix, per spec.md §4.C. Where and Set are specializations
// with fixed affixes/overrides.
type TrimSqlNode struct {
	Body              SqlNode
	Prefix            string
	Suffix            string
	PrefixesOverride  []string
	SuffixesOverride  []string
}

func (n *TrimSqlNode) Apply(ctx *DynamicContext) bool {
	child := ctx.childBuffer()
	n.Body.Apply(child)
	if child.err != nil {
		ctx.setErr(child.err)
	}
	trimmed := ApplyTrim(child.SQL(), n.Prefix, n.Suffix, n.PrefixesOverride, n.SuffixesOverride)
	if trimmed != "" {
		ctx.AppendSql(trimmed)
	}
	return true
}

// ApplyTrim implements the trim algorithm directly (exported so the
// template compiler's equivalence tests can exercise it without building a
// full node tree, and so idempotence can be checked per spec.md §8.2):
// trim whitespace, delete at most one matching prefix override (first
// match by declaration order, case-insensitive) and at most one matching
// suffix override, then splice the configured prefix/suffix affixes.
func ApplyTrim(content, prefix, suffix string, prefixOverrides, suffixOverrides []string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	if po, ok := matchPrefix(content, prefixOverrides); ok {
		content = strings.TrimSpace(content[len(po):])
	}
	if so, ok := matchSuffix(content, suffixOverrides); ok {
		content = strings.TrimSpace(content[:len(content)-len(so)])
	}
	if content == "" {
		return ""
	}

	if prefix != "" {
		content = prefix + " " + content
	}
	if suffix != "" {
		content = content + " " + suffix
	}
	return content
}

func matchPrefix(content string, overrides []string) (string, bool) {
	upper := strings.ToUpper(content)
	for _, po := range overrides {
		poUpper := strings.ToUpper(po)
		if strings.HasPrefix(upper, poUpper) {
			return po, true
		}
	}
	return "", false
}

func matchSuffix(content string, overrides []string) (string, bool) {
	upper := strings.ToUpper(content)
	for _, so := range overrides {
		soUpper := strings.ToUpper(so)
		if strings.HasSuffix(upper, soUpper) {
			return so, true
		}
	}
	return "", false
}

// WherePrefixOverrides are the boolean-connective prefixes <where> strips
// before splicing "WHERE".
var WherePrefixOverrides = []string{"AND ", "OR ", "AND\n", "OR\n", "AND\r\n", "OR\r\n", "AND\t", "OR\t"}

// NewWhereSqlNode builds the <where> specialization of TrimSqlNode.
func NewWhereSqlNode(body SqlNode) *TrimSqlNode {
	return &TrimSqlNode{Body: body, Prefix: "WHERE", PrefixesOverride: WherePrefixOverrides}
}

// SetSuffixOverrides is the trailing-comma override <set> strips before
// splicing "SET".
var SetSuffixOverrides = []string{","}

// NewSetSqlNode builds the <set> specialization of TrimSqlNode.
func NewSetSqlNode(body SqlNode) *TrimSqlNode {
	return &TrimSqlNode{Body: body, Prefix: "SET", SuffixesOverride: SetSuffixOverrides}
}
