package gobatis

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"
)

// TypeHandler converts between a Go property value and the value a
// database/sql driver accepts/returns, generalizing MyBatis'
// TypeHandler<T> (spec.md glossary). ToDriverValue runs when binding a
// #{...} parameter; FromDriverValue runs when projecting a scanned column
// back into a result object's property.
type TypeHandler interface {
	ToDriverValue(value interface{}) (interface{}, error)
	FromDriverValue(raw interface{}, targetType reflect.Type) (interface{}, error)
}

// TypeHandlerRegistry resolves a TypeHandler by explicit registry key
// (the `typeHandler="..."` attribute) or falls back to a single default
// handler that covers the driver.Value-compatible primitive kinds plus
// time.Time, matching how most JDBC type handlers are never configured
// explicitly either.
type TypeHandlerRegistry struct {
	byName  map[string]TypeHandler
	Default TypeHandler
}

func NewTypeHandlerRegistry() *TypeHandlerRegistry {
	return &TypeHandlerRegistry{byName: map[string]TypeHandler{}, Default: defaultTypeHandler{}}
}

func (r *TypeHandlerRegistry) Register(name string, h TypeHandler) {
	r.byName[name] = h
}

// Resolve looks up name if non-empty, else returns the default handler.
func (r *TypeHandlerRegistry) Resolve(name string) (TypeHandler, error) {
	if name == "" {
		return r.Default, nil
	}
	if h, ok := r.byName[name]; ok {
		return h, nil
	}
	return nil, &TypeHandlerError{GoType: name}
}

// defaultTypeHandler passes driver.Value-compatible values through
// unchanged and converts everything else via reflection, matching the
// conversions database/sql itself performs for numeric/string widening.
type defaultTypeHandler struct{}

func (defaultTypeHandler) ToDriverValue(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if valuer, ok := value.(driver.Valuer); ok {
		return valuer.Value()
	}
	switch value.(type) {
	case int64, float64, bool, []byte, string, time.Time:
		return value, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32:
		return rv.Float(), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return defaultTypeHandler{}.ToDriverValue(rv.Elem().Interface())
	}
	return value, nil
}

func (defaultTypeHandler) FromDriverValue(raw interface{}, targetType reflect.Type) (interface{}, error) {
	if raw == nil || targetType == nil {
		return raw, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(targetType) {
		return raw, nil
	}
	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType).Interface(), nil
	}
	if targetType.Kind() == reflect.Ptr {
		elemType := targetType.Elem()
		converted, err := defaultTypeHandler{}.FromDriverValue(raw, elemType)
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(elemType)
		ptr.Elem().Set(reflect.ValueOf(converted))
		return ptr.Interface(), nil
	}
	if s, ok := raw.([]byte); ok && targetType.Kind() == reflect.String {
		return string(s), nil
	}
	return nil, fmt.Errorf("gobatis: cannot convert %T to %s", raw, targetType)
}
