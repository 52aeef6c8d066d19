package reflectx

import (
	"fmt"
	"reflect"
	"strconv"
)

// MetaObject wraps a live value (struct, pointer, or map) and navigates
// dotted/indexed property paths against it, generalizing the single-level
// field walk that geeorm's schema.Schema performs for exactly one struct
// into arbitrary nested graphs — the shape the result-set projector and
// the executor's deferred-load setter both need.
type MetaObject struct {
	value reflect.Value
}

// Wrap builds a MetaObject over obj. obj should be a pointer (to a struct
// or map) so that Set can mutate it.
func Wrap(obj interface{}) MetaObject {
	return MetaObject{value: reflect.ValueOf(obj)}
}

func (m MetaObject) IsValid() bool { return m.value.IsValid() }

// Value returns the underlying, fully-dereferenced value.
func (m MetaObject) Value() reflect.Value {
	v := m.value
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

// Get navigates path and returns the value found, or an error if any
// intermediate segment cannot be resolved.
func (m MetaObject) Get(path string) (interface{}, error) {
	v := m.Value()
	for _, tok := range Split(path) {
		nv, err := step(v, tok, false)
		if err != nil {
			return nil, err
		}
		v = nv
	}
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

// Set navigates path, creating intermediate structures as needed, and
// assigns value to the final segment.
func (m MetaObject) Set(path string, value interface{}) error {
	v := m.Value()
	toks := Split(path)
	for i, tok := range toks {
		last := i == len(toks)-1
		if last {
			return assign(v, tok, value)
		}
		nv, err := step(v, tok, true)
		if err != nil {
			return err
		}
		v = nv
	}
	return nil
}

func step(v reflect.Value, tok Token, create bool) (reflect.Value, error) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			if !create {
				return reflect.Value{}, fmt.Errorf("nil pointer navigating %q", tok.Name)
			}
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	var field reflect.Value
	switch v.Kind() {
	case reflect.Struct:
		field = fieldValueByName(v, tok.Name)
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("no field %q on %s", tok.Name, v.Type())
		}
	case reflect.Map:
		if v.IsNil() {
			if !create {
				return reflect.Value{}, fmt.Errorf("nil map navigating %q", tok.Name)
			}
			v.Set(reflect.MakeMap(v.Type()))
		}
		mv := v.MapIndex(reflect.ValueOf(tok.Name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return reflect.Value{}, fmt.Errorf("no key %q on map", tok.Name)
		}
		field = mv
	default:
		return reflect.Value{}, fmt.Errorf("cannot navigate %q into %s", tok.Name, v.Type())
	}

	if tok.Index == "" {
		return field, nil
	}
	return indexInto(field, tok.Index)
}

func indexInto(v reflect.Value, index string) (reflect.Value, error) {
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(index)
		if err != nil || i < 0 || i >= v.Len() {
			return reflect.Value{}, fmt.Errorf("index %q out of range", index)
		}
		return v.Index(i), nil
	case reflect.Map:
		mv := v.MapIndex(reflect.ValueOf(index).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return reflect.Value{}, fmt.Errorf("no map key %q", index)
		}
		return mv, nil
	default:
		return reflect.Value{}, fmt.Errorf("cannot index into %s", v.Type())
	}
}

func fieldValueByName(v reflect.Value, name string) reflect.Value {
	f := v.FieldByName(name)
	if f.IsValid() {
		return f
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		if eqFold(sf.Name, name) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

func assign(v reflect.Value, tok Token, value interface{}) error {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		field := fieldValueByName(v, tok.Name)
		if !field.IsValid() {
			return fmt.Errorf("no field %q on %s", tok.Name, v.Type())
		}
		if tok.Index != "" {
			target, err := indexInto(field, tok.Index)
			if err != nil {
				return err
			}
			return setValue(target, value)
		}
		return setValue(field, value)
	case reflect.Map:
		if v.IsNil() {
			v.Set(reflect.MakeMap(v.Type()))
		}
		key := reflect.ValueOf(tok.Name).Convert(v.Type().Key())
		elemType := v.Type().Elem()
		nv := reflect.New(elemType).Elem()
		if err := setValue(nv, value); err != nil {
			return err
		}
		v.SetMapIndex(key, nv)
		return nil
	default:
		return fmt.Errorf("cannot set %q into %s", tok.Name, v.Type())
	}
}

func setValue(target reflect.Value, value interface{}) error {
	if !target.CanSet() {
		return fmt.Errorf("property is not settable")
	}
	if value == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target.Type()) {
		target.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(target.Type()) {
		target.Set(rv.Convert(target.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %s to %s", rv.Type(), target.Type())
}
