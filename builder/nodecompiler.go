package builder

import (
	"fmt"
	"strings"

	"gobatis/sqlnode"
)

var dynamicTags = map[string]bool{
	"if": true, "choose": true, "when": true, "otherwise": true,
	"trim": true, "where": true, "set": true, "foreach": true, "bind": true,
}

// compileResult tracks whether compilation produced any dynamic element
// node or any residual ${} interpolation, which together decide whether
// the owning statement is static (spec.md §4.D classification).
type compileResult struct {
	node              sqlnode.SqlNode
	hasDynamicElement bool
	hasInterpolation  bool
}

// compileChildren compiles an (already include-expanded) element's
// children into a node tree, dispatching element tags to their handlers
// and turning text runs into Static or Text nodes depending on whether
// they carry a ${} token. foreachNullable is the Configuration-wide
// nullableOnForEach default a <foreach> without its own nullable
// attribute inherits.
func compileChildren(elem *xmlElem, foreachNullable bool) (*compileResult, error) {
	res := &compileResult{}
	var contents []sqlnode.SqlNode

	for _, c := range elem.Children {
		switch cc := c.(type) {
		case xmlText:
			t := string(cc)
			if strings.TrimSpace(t) == "" {
				continue
			}
			if strings.Contains(t, "${") {
				contents = append(contents, &sqlnode.TextSqlNode{Text: t})
				res.hasInterpolation = true
			} else {
				contents = append(contents, &sqlnode.StaticTextNode{Text: t})
			}
		case *xmlElem:
			n, sub, err := compileElement(cc, foreachNullable)
			if err != nil {
				return nil, err
			}
			contents = append(contents, n)
			res.hasDynamicElement = true
			if sub != nil {
				res.hasDynamicElement = res.hasDynamicElement || sub.hasDynamicElement
				res.hasInterpolation = res.hasInterpolation || sub.hasInterpolation
			}
		}
	}

	res.node = &sqlnode.MixedSqlNode{Contents: contents}
	return res, nil
}

func compileElement(elem *xmlElem, foreachNullable bool) (sqlnode.SqlNode, *compileResult, error) {
	if !dynamicTags[elem.Tag] {
		return nil, nil, fmt.Errorf("builder: unknown dynamic SQL element <%s>", elem.Tag)
	}

	switch elem.Tag {
	case "if":
		sub, err := compileChildren(elem, foreachNullable)
		if err != nil {
			return nil, nil, err
		}
		return &sqlnode.IfSqlNode{Test: elem.Attrs["test"], Body: sub.node}, sub, nil

	case "choose":
		var whens []*sqlnode.IfSqlNode
		var hasDyn, hasInterp bool
		for _, w := range elem.childrenByTag("when") {
			sub, err := compileChildren(w, foreachNullable)
			if err != nil {
				return nil, nil, err
			}
			whens = append(whens, &sqlnode.IfSqlNode{Test: w.Attrs["test"], Body: sub.node})
			hasDyn = hasDyn || sub.hasDynamicElement
			hasInterp = hasInterp || sub.hasInterpolation
		}
		var otherwise sqlnode.SqlNode
		if oth := elem.childrenByTag("otherwise"); len(oth) > 0 {
			sub, err := compileChildren(oth[0], foreachNullable)
			if err != nil {
				return nil, nil, err
			}
			otherwise = sub.node
			hasDyn = hasDyn || sub.hasDynamicElement
			hasInterp = hasInterp || sub.hasInterpolation
		}
		return &sqlnode.ChooseSqlNode{Whens: whens, Otherwise: otherwise}, &compileResult{hasDynamicElement: hasDyn, hasInterpolation: hasInterp}, nil

	case "trim":
		sub, err := compileChildren(elem, foreachNullable)
		if err != nil {
			return nil, nil, err
		}
		n := &sqlnode.TrimSqlNode{
			Body:             sub.node,
			Prefix:           elem.Attrs["prefix"],
			Suffix:           elem.Attrs["suffix"],
			PrefixesOverride: splitOverrides(elem.Attrs["prefixOverrides"]),
			SuffixesOverride: splitOverrides(elem.Attrs["suffixOverrides"]),
		}
		return n, sub, nil

	case "where":
		sub, err := compileChildren(elem, foreachNullable)
		if err != nil {
			return nil, nil, err
		}
		return sqlnode.NewWhereSqlNode(sub.node), sub, nil

	case "set":
		sub, err := compileChildren(elem, foreachNullable)
		if err != nil {
			return nil, nil, err
		}
		return sqlnode.NewSetSqlNode(sub.node), sub, nil

	case "foreach":
		sub, err := compileChildren(elem, foreachNullable)
		if err != nil {
			return nil, nil, err
		}
		nullable := foreachNullable
		if v := elem.Attrs["nullable"]; v != "" {
			nullable = v == "true"
		}
		n := &sqlnode.ForeachSqlNode{
			CollectionExpr: elem.Attrs["collection"],
			Item:           elem.Attrs["item"],
			Index:          elem.Attrs["index"],
			Open:           elem.Attrs["open"],
			Close:          elem.Attrs["close"],
			Separator:      elem.Attrs["separator"],
			Nullable:       nullable,
			Body:           sub.node,
		}
		return n, sub, nil

	case "bind":
		return &sqlnode.BindSqlNode{Name: elem.Attrs["name"], Expr: elem.Attrs["value"]}, &compileResult{}, nil

	default:
		return nil, nil, fmt.Errorf("builder: unhandled dynamic SQL element <%s>", elem.Tag)
	}
}

func splitOverrides(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p)
	}
	return out
}
