package builder

import (
	"reflect"
	"regexp"
	"strings"

	"gobatis"
	"gobatis/reflectx"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// RewritePlaceholders walks text for #{...} occurrences, parses each via
// ParseParamExpr, resolves its Go type, and replaces it with "?",
// returning the final prepared-statement text plus the ordered
// ParameterMapping list (spec.md §4.F). additionalBindings holds
// <bind>/<foreach>-produced values, consulted before the parameter type's
// own properties — this is where per-iteration __frch_* names are found.
// When shrinkWhitespace is set, text is first collapsed to single spaces.
func RewritePlaceholders(text string, parameterType reflect.Type, additionalBindings map[string]interface{}, shrinkWhitespace bool) (string, []gobatis.ParameterMapping, error) {
	if shrinkWhitespace {
		text = strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
	}

	var out strings.Builder
	var mappings []gobatis.ParameterMapping

	i := 0
	for {
		start := strings.Index(text[i:], "#{")
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
		inner := text[start+2 : end]

		pe, err := ParseParamExpr(inner)
		if err != nil {
			return "", nil, err
		}

		pm, err := buildParameterMapping(pe, parameterType, additionalBindings)
		if err != nil {
			return "", nil, err
		}
		mappings = append(mappings, pm)
		out.WriteString("?")

		i = end + 1
	}

	return out.String(), mappings, nil
}

func buildParameterMapping(pe *ParamExpr, parameterType reflect.Type, additionalBindings map[string]interface{}) (gobatis.ParameterMapping, error) {
	pm := gobatis.ParameterMapping{
		Property: pe.Property,
		JdbcType: firstNonEmpty(pe.Attrs["jdbcType"], pe.JdbcType),
	}
	if mode := pe.Attrs["mode"]; mode != "" {
		switch strings.ToUpper(mode) {
		case "OUT":
			pm.Mode = gobatis.ParamOut
		case "INOUT":
			pm.Mode = gobatis.ParamInOut
		default:
			pm.Mode = gobatis.ParamIn
		}
	}
	if th := pe.Attrs["typeHandler"]; th != "" {
		pm.TypeHandler = th
	}
	if rmID := pe.Attrs["resultMap"]; rmID != "" {
		pm.ResultMapID = rmID
	}

	if pe.IsExpression {
		// A parenthesized sub-expression has no statically resolvable Go
		// type; it is evaluated dynamically by the caller.
		return pm, nil
	}

	root := rootName(pe.Property)

	// additional bindings (including __frch_* names from <foreach>) win
	// over the parameter object's own properties.
	if additionalBindings != nil {
		if v, ok := additionalBindings[root]; ok {
			if rest := strings.TrimPrefix(pe.Property, root); rest != "" {
				if t, err := typeOfValuePath(v, strings.TrimPrefix(rest, ".")); err == nil {
					pm.GoType = t
					return pm, nil
				}
			} else {
				pm.GoType = reflect.TypeOf(v)
				return pm, nil
			}
		}
	}

	if pe.Property == "_parameter" {
		if parameterType != nil {
			pm.GoType = parameterType
		}
		return pm, nil
	}

	if parameterType == nil {
		return pm, nil
	}
	if isMapType(parameterType) {
		pm.GoType = nil // map parameters map to `any`
		return pm, nil
	}

	mc := reflectx.ForType(derefType(parameterType))
	t, err := mc.GetterType(pe.Property)
	if err == nil {
		pm.GoType = t
	}
	return pm, nil
}

func rootName(path string) string {
	if i := strings.IndexAny(path, ".["); i >= 0 {
		return path[:i]
	}
	return path
}

func typeOfValuePath(root interface{}, rest string) (reflect.Type, error) {
	if rest == "" {
		return reflect.TypeOf(root), nil
	}
	mc := reflectx.ForType(derefType(reflect.TypeOf(root)))
	return mc.GetterType(rest)
}

func derefType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func isMapType(t reflect.Type) bool {
	return derefType(t) != nil && derefType(t).Kind() == reflect.Map
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
