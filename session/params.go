package session

import (
	"fmt"
	"reflect"
)

// AssembleParams implements spec.md §4.N's named-parameter rules. names
// must be the same length as args; names[i] == "" means that argument
// carries no declared name (no `gobatis:"..."` tag on the mapper method's
// matching struct-tag slot — see the session's struct-of-funcs mapper
// proxy in proxy.go, the Go-native stand-in for per-parameter
// annotations).
func AssembleParams(args []interface{}, names []string) interface{} {
	if len(args) == 0 {
		return nil
	}
	anyNamed := false
	for _, n := range names {
		if n != "" {
			anyNamed = true
			break
		}
	}
	if len(args) == 1 && !anyNamed {
		return wrapSingleParam(args[0], "")
	}

	out := map[string]interface{}{}
	for i, a := range args {
		if i < len(names) && names[i] != "" {
			out[names[i]] = a
		}
	}
	for i, a := range args {
		key := fmt.Sprintf("param%d", i+1)
		if _, exists := out[key]; !exists {
			out[key] = a
		}
	}
	return out
}

// wrapSingleParam implements the single-unnamed-parameter rule: pass the
// value through unchanged unless it is a collection or array, in which
// case it is wrapped into a map exposing the "collection" key always,
// "list"/"array" depending on shape, and the parameter's actual name if
// one was configured.
func wrapSingleParam(v interface{}, actualName string) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		out := map[string]interface{}{"collection": v, "list": v}
		if actualName != "" {
			out[actualName] = v
		}
		return out
	case reflect.Array:
		out := map[string]interface{}{"collection": v, "array": v}
		if actualName != "" {
			out[actualName] = v
		}
		return out
	default:
		return v
	}
}
