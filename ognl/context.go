// Package ognl implements the small object-navigation expression language
// that gobatis' dynamic SQL nodes (<if>, <foreach>, <when>, <bind>) use to
// evaluate conditions and enumerate collections against a parameter graph
// (spec.md §4.B). The name echoes the original "Object-Graph Navigation
// Language" the Java implementation embeds; this one is hand-rolled and
// much smaller, matching the spec's scope.
package ognl

import "gobatis/reflectx"

// Context is the layered lookup the evaluator reads from: first the
// binding map (set by <bind>/<foreach>), falling back to the parameter
// object's own named properties, then a "_parameter" escape hatch.
type Context struct {
	Bindings  map[string]interface{}
	Parameter interface{}
}

// NewContext builds a Context over a parameter value.
func NewContext(param interface{}) *Context {
	return &Context{Bindings: map[string]interface{}{}, Parameter: param}
}

// Lookup resolves a bare name per the layered rule described in spec.md §4.B.
func (c *Context) Lookup(name string) (interface{}, bool) {
	if name == "_parameter" {
		return c.Parameter, true
	}
	if v, ok := c.Bindings[name]; ok {
		return v, true
	}
	if c.Parameter != nil {
		mo := reflectx.Wrap(c.Parameter)
		if mo.IsValid() {
			if v, err := mo.Get(name); err == nil {
				return v, true
			}
		}
	}
	if v, ok := c.Bindings["_parameter"]; ok {
		mo := reflectx.Wrap(v)
		if mo.IsValid() {
			if gv, err := mo.Get(name); err == nil {
				return gv, true
			}
		}
	}
	return nil, false
}
