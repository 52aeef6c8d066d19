package ognl

import (
	"fmt"
	"math/big"
	"reflect"
)

// EvaluateValue evaluates expr as a plain value expression, used by <bind>
// and <foreach var="..."> style variable declarations rather than boolean
// or iterable evaluation.
func EvaluateValue(expr string, ctx *Context) (interface{}, error) {
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	return evalNode(n, ctx)
}

// EvaluateBoolean evaluates expr (e.g. "name != null", "age &gt; 0" already
// XML-decoded to "age > 0") against ctx and returns its truthiness per
// spec.md §4.B: a Boolean value maps directly; a numeric value is true iff
// non-zero (compared via arbitrary-precision rational, not float); any
// other non-null value is true; null is false.
func EvaluateBoolean(expr string, ctx *Context) (bool, error) {
	n, err := parse(expr)
	if err != nil {
		return false, err
	}
	v, err := evalNode(n, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Element is one iteration element: for slices/arrays Index is the
// position (as int); for maps Index is the key.
type Element struct {
	Index interface{}
	Value interface{}
}

// EvaluateIterable evaluates expr and returns its elements per spec.md
// §4.B: sequences iterate directly, arrays become an ordered list, a map
// yields its entry set. If nullable is false, a null result is an error;
// otherwise it yields zero elements.
func EvaluateIterable(expr string, ctx *Context, nullable bool) ([]Element, error) {
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	v, err := evalNode(n, ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		if !nullable {
			return nil, fmt.Errorf("ognl: collection expression %q evaluated to null", expr)
		}
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]Element, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Element{Index: i, Value: rv.Index(i).Interface()}
		}
		return out, nil
	case reflect.Map:
		out := make([]Element, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, Element{Index: iter.Key().Interface(), Value: iter.Value().Interface()})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("ognl: expression %q is not iterable (%T)", expr, v)
	}
}

func evalNode(n *node, ctx *Context) (interface{}, error) {
	switch n.kind {
	case nodeLiteral:
		return n.literal, nil
	case nodeIdent:
		v, _ := ctx.Lookup(n.ident)
		return v, nil
	case nodeNot:
		v, err := evalNode(n.left, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case nodeAnd:
		l, err := evalNode(n.left, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := evalNode(n.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case nodeOr:
		l, err := evalNode(n.left, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := evalNode(n.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case nodeCompare:
		l, err := evalNode(n.left, ctx)
		if err != nil {
			return nil, err
		}
		r, err := evalNode(n.right, ctx)
		if err != nil {
			return nil, err
		}
		return compare(l, r, n.op)
	default:
		return nil, fmt.Errorf("ognl: unknown node kind")
	}
}

func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if rat, ok := toRat(v); ok {
		return rat.Sign() != 0
	}
	return true
}

func toRat(v interface{}) (*big.Rat, bool) {
	switch t := v.(type) {
	case string:
		r := new(big.Rat)
		if _, ok := r.SetString(t); ok {
			return r, true
		}
		return nil, false
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		r := new(big.Rat)
		rv := reflect.ValueOf(t)
		switch {
		case rv.CanInt():
			r.SetInt64(rv.Int())
		case rv.CanUint():
			r.SetUint64(rv.Uint())
		case rv.CanFloat():
			r.SetFloat64(rv.Float())
		default:
			return nil, false
		}
		return r, true
	default:
		return nil, false
	}
}

func compare(l, r interface{}, op compareOp) (bool, error) {
	if lr, ok := toRat(l); ok {
		if rr, ok2 := toRat(r); ok2 {
			c := lr.Cmp(rr)
			return applyCmp(c, op), nil
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		c := 0
		switch {
		case ls < rs:
			c = -1
		case ls > rs:
			c = 1
		}
		return applyCmp(c, op), nil
	}
	switch op {
	case cmpEq:
		return reflect.DeepEqual(l, r), nil
	case cmpNe:
		return !reflect.DeepEqual(l, r), nil
	default:
		return false, fmt.Errorf("ognl: cannot order-compare %v and %v", l, r)
	}
}

func applyCmp(c int, op compareOp) bool {
	switch op {
	case cmpEq:
		return c == 0
	case cmpNe:
		return c != 0
	case cmpLt:
		return c < 0
	case cmpLe:
		return c <= 0
	case cmpGt:
		return c > 0
	case cmpGe:
		return c >= 0
	}
	return false
}
