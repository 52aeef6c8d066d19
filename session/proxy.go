package session

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"gobatis"
)

// BindMapper wires a struct of function-typed fields to namespace's
// mapped statements, the Go-native stand-in for spec.md §4.N's
// interface-method mapper proxy (Go cannot implement an arbitrary
// interface at runtime the way a JDK dynamic proxy does, and has no
// per-parameter annotations to recover argument names from — so each
// field plays the role one annotated interface method would: its name is
// the statement id, `namespace.FieldName`, and an optional `gobatis`
// struct tag supplies comma-separated parameter names for the named-
// parameter assembly spec.md §4.N describes). Grounded on
// geerpc/service.go's reflect-driven method/argument introspection,
// generalized from "call a located net/rpc method" to "fill in a
// function field so calling it dispatches to a mapped statement."
//
// mapper must be a pointer to a struct. Every exported field whose type
// is func(...) is bound; fields already non-nil, or of any other kind,
// are left untouched.
func BindMapper(sess *SqlSession, namespace string, mapper interface{}) error {
	pv := reflect.ValueOf(mapper)
	if pv.Kind() != reflect.Ptr || pv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("session: BindMapper requires a pointer to a struct, got %T", mapper)
	}
	sv := pv.Elem()
	st := sv.Type()

	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if field.PkgPath != "" || field.Type.Kind() != reflect.Func || !sv.Field(i).IsNil() {
			continue
		}
		statementID := gobatis.Qualify(field.Name, namespace)
		names := parseParamNames(field.Tag.Get("gobatis"))
		mapKey := field.Tag.Get("gobatismapkey")

		fn := reflect.MakeFunc(field.Type, makeDispatcher(sess, statementID, field.Type, names, mapKey))
		sv.Field(i).Set(fn)

		// The field's statement may be declared in a document that hasn't
		// loaded yet; park the check on the methods queue so a binding to a
		// statement that never registers fails the ResolveIncomplete pass
		// instead of surfacing only at first call.
		if !sess.config.HasMappedStatement(statementID) {
			sess.config.DeferMethod(deferredBindingCheck(sess.config, statementID))
		}
	}
	return nil
}

func deferredBindingCheck(config *gobatis.Configuration, statementID string) func() error {
	var retry func() error
	retry = func() error {
		if config.HasMappedStatement(statementID) {
			return nil
		}
		config.DeferMethod(retry)
		return &gobatis.IncompleteElementError{Kind: "method", ID: statementID, Hint: "bound mapper field has no mapped statement"}
	}
	return retry
}

func parseParamNames(tag string) []string {
	if tag == "" {
		return nil
	}
	parts := strings.Split(tag, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

func makeDispatcher(sess *SqlSession, statementID string, fnType reflect.Type, names []string, mapKey string) func([]reflect.Value) []reflect.Value {
	return func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		argStart := 0
		if fnType.NumIn() > 0 && fnType.In(0).Implements(contextType) {
			ctx = in[0].Interface().(context.Context)
			argStart = 1
		}

		args := make([]interface{}, 0, len(in)-argStart)
		for _, v := range in[argStart:] {
			args = append(args, v.Interface())
		}
		paramNames := names
		if len(paramNames) > len(args) {
			paramNames = paramNames[:len(args)]
		}
		parameter := AssembleParams(args, paramNames)

		ms, err := sess.resolve(statementID)
		if err != nil {
			return errorResult(fnType, err)
		}

		if ms.CommandType == gobatis.SqlFlush {
			results, err := sess.exec.FlushStatements(ctx)
			var total int64
			for _, n := range results {
				total += n
			}
			return writeResult(fnType, total, err)
		}

		if ms.CommandType != gobatis.SqlSelect {
			n, err := sess.exec.Update(ctx, ms, parameter)
			return writeResult(fnType, n, err)
		}

		bounds := gobatis.NoRowBounds
		list, err := sess.exec.Query(ctx, ms, parameter, bounds)
		if err != nil {
			return errorResult(fnType, err)
		}
		return selectResult(fnType, list, mapKey)
	}
}

func errorResult(fnType reflect.Type, err error) []reflect.Value {
	out := make([]reflect.Value, fnType.NumOut())
	for i := 0; i < fnType.NumOut(); i++ {
		if fnType.Out(i) == errorType {
			out[i] = reflect.ValueOf(&err).Elem()
		} else {
			out[i] = reflect.Zero(fnType.Out(i))
		}
	}
	return out
}

// writeResult converts a row count per spec.md §4.N's integer/long/
// boolean(>0)/void row-count conversions.
func writeResult(fnType reflect.Type, n int64, err error) []reflect.Value {
	out := make([]reflect.Value, fnType.NumOut())
	for i := 0; i < fnType.NumOut(); i++ {
		ot := fnType.Out(i)
		switch {
		case ot == errorType:
			out[i] = reflect.ValueOf(&err).Elem()
		case ot.Kind() == reflect.Bool:
			out[i] = reflect.ValueOf(n > 0)
		case ot.Kind() >= reflect.Int && ot.Kind() <= reflect.Int64:
			out[i] = reflect.ValueOf(n).Convert(ot)
		default:
			out[i] = reflect.Zero(ot)
		}
	}
	return out
}

// selectResult converts the projector's []interface{} into whichever
// shape the bound field's first return value declares: slice (list),
// map (requires mapKey), or a single value (scalar/pointer), per
// spec.md §4.N.
func selectResult(fnType reflect.Type, list []interface{}, mapKey string) []reflect.Value {
	out := make([]reflect.Value, fnType.NumOut())
	if fnType.NumOut() == 1 {
		var err error
		out[0] = reflect.ValueOf(&err).Elem()
		return out
	}
	valueType := fnType.Out(0)
	var result reflect.Value
	var convErr error

	switch valueType.Kind() {
	case reflect.Slice:
		result, convErr = convertList(list, valueType)
	case reflect.Map:
		result, convErr = convertMap(list, valueType, mapKey)
	default:
		switch len(list) {
		case 0:
			result = reflect.Zero(valueType)
		case 1:
			result, convErr = convertOne(list[0], valueType)
		default:
			convErr = fmt.Errorf("session: expected one row, got %d", len(list))
		}
	}

	if convErr != nil {
		return errorResult(fnType, convErr)
	}
	out[0] = result
	var err error
	out[1] = reflect.ValueOf(&err).Elem()
	return out
}

func convertOne(v interface{}, target reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if rv.Kind() == reflect.Ptr && rv.Type().Elem() == target {
		return rv.Elem(), nil
	}
	if target.Kind() == reflect.Ptr && target.Elem() == rv.Type() {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		return ptr, nil
	}
	if rv.Type().ConvertibleTo(target) {
		return rv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("session: cannot convert %s to %s", rv.Type(), target)
}

func convertList(list []interface{}, sliceType reflect.Type) (reflect.Value, error) {
	elemType := sliceType.Elem()
	out := reflect.MakeSlice(sliceType, 0, len(list))
	for _, v := range list {
		ev, err := convertOne(v, elemType)
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, ev)
	}
	return out, nil
}

func convertMap(list []interface{}, mapType reflect.Type, mapKey string) (reflect.Value, error) {
	if mapKey == "" {
		return reflect.Value{}, fmt.Errorf("session: map return type requires a gobatismapkey tag")
	}
	out := reflect.MakeMapWithSize(mapType, len(list))
	keyType, elemType := mapType.Key(), mapType.Elem()
	for _, v := range list {
		meta := metaObjectOf(v)
		k, err := meta.Get(mapKey)
		if err != nil {
			return reflect.Value{}, &gobatis.ReflectionError{Path: mapKey, Target: fmt.Sprintf("%T", v), Cause: err}
		}
		ev, err := convertOne(v, elemType)
		if err != nil {
			return reflect.Value{}, err
		}
		kv := reflect.ValueOf(k)
		if !kv.Type().AssignableTo(keyType) && kv.Type().ConvertibleTo(keyType) {
			kv = kv.Convert(keyType)
		}
		out.SetMapIndex(kv, ev)
	}
	return out, nil
}
