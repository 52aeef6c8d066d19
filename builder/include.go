package builder

import (
	"strings"

	"gobatis"
)

// fragmentLookup resolves a qualified <sql> fragment id to its parsed
// element tree. Configuration stores fragments as interface{} (to avoid
// builder<->gobatis import cycles), so the lookup re-asserts the type.
func fragmentLookup(cfg *gobatis.Configuration, id string) (*xmlElem, bool) {
	raw, ok := cfg.GetSqlFragment(id)
	if !ok {
		return nil, false
	}
	elem, ok := raw.(*xmlElem)
	return elem, ok
}

// expandIncludes recursively expands <include refid="..."> children of
// elem, per spec.md §4.D.1: refid is qualified with namespace if bare,
// resolved against the SQL-fragment registry, cloned into the owning
// document, and its <property name=value> children are evaluated with
// ${} interpolation over the inherited variable frame to produce a new,
// include-local frame before recursing into the resolved fragment with
// included=true. When included is true, attribute values and text nodes
// have ${var} placeholders substituted from vars ("variables win at
// include-expansion time" — spec.md §9 open question (b)).
func expandIncludes(cfg *gobatis.Configuration, elem *xmlElem, namespace string, vars map[string]string, included bool) (*xmlElem, error) {
	out := &xmlElem{Tag: elem.Tag, Attrs: map[string]string{}}
	for k, v := range elem.Attrs {
		if included {
			v = interpolateVars(v, vars)
		}
		out.Attrs[k] = v
	}

	for _, c := range elem.Children {
		switch cc := c.(type) {
		case xmlText:
			t := string(cc)
			if included {
				t = interpolateVars(t, vars)
			}
			out.Children = append(out.Children, xmlText(t))
		case *xmlElem:
			if cc.Tag == "include" {
				expandedKids, err := expandOneInclude(cfg, cc, namespace, vars)
				if err != nil {
					return nil, err
				}
				out.Children = append(out.Children, expandedKids...)
				continue
			}
			child, err := expandIncludes(cfg, cc, namespace, vars, included)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, child)
		}
	}
	return out, nil
}

func expandOneInclude(cfg *gobatis.Configuration, includeElem *xmlElem, namespace string, inherited map[string]string) ([]interface{}, error) {
	refid := gobatis.Qualify(includeElem.Attrs["refid"], namespace)
	fragment, ok := fragmentLookup(cfg, refid)
	if !ok {
		return nil, &gobatis.IncompleteElementError{Kind: "statement", ID: refid, Hint: "include refid not yet registered"}
	}

	localVars := map[string]string{}
	for k, v := range inherited {
		localVars[k] = v
	}
	for _, prop := range includeElem.childrenByTag("property") {
		name := prop.Attrs["name"]
		value := interpolateVars(prop.Attrs["value"], localVars)
		localVars[name] = value
	}

	resolved := fragment.clone()
	expanded, err := expandIncludes(cfg, resolved, namespace, localVars, true)
	if err != nil {
		return nil, err
	}
	return expanded.Children, nil
}

// interpolateVars expands ${name} occurrences in s against vars, leaving
// unknown names as an empty string.
func interpolateVars(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var out strings.Builder
	i := 0
	for {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		start += i
		out.WriteString(s[i:start])
		end := strings.Index(s[start:], "}")
		if end < 0 {
			out.WriteString(s[start:])
			break
		}
		end += start
		name := strings.TrimSpace(s[start+2 : end])
		out.WriteString(vars[name])
		i = end + 1
	}
	return out.String()
}
