// Package sqlnode is the in-memory representation of static and dynamic
// SQL (spec.md §4.C): text, <if>, <choose>/<when>/<otherwise>,
// <trim>/<where>/<set>, <foreach>, <bind>, and ${} variable interpolation.
// Each node's Apply mutates a DynamicContext's SQL buffer and bindings.
package sqlnode

import (
	"strings"

	"gobatis/ognl"
)

// SqlNode is one node of the compiled template tree.
type SqlNode interface {
	// Apply evaluates the node against ctx, appending SQL text and/or
	// bindings. It returns false only when the node's own predicate (an
	// <if> whose test failed, for instance) suppressed its body; callers
	// generally ignore the return value except where the spec requires it.
	Apply(ctx *DynamicContext) bool
}

// DynamicContext is threaded through a SqlNode tree evaluation. It holds
// the growing SQL buffer, the binding map visible to #{...}/${...}
// resolution (layered over the parameter per ognl.Context), and a counter
// shared across the whole evaluation for <foreach>'s unique variable names.
type DynamicContext struct {
	Bindings  map[string]interface{}
	Parameter interface{}

	buf     *strings.Builder
	counter *int64
	rewrite func(string) string
	err     error
}

// NewDynamicContext starts a fresh top-level evaluation for parameter.
func NewDynamicContext(parameter interface{}) *DynamicContext {
	var counter int64
	return &DynamicContext{
		Bindings:  map[string]interface{}{},
		Parameter: parameter,
		buf:       &strings.Builder{},
		counter:   &counter,
	}
}

// OGNLContext exposes this context's bindings/parameter to the expression
// evaluator.
func (ctx *DynamicContext) OGNLContext() *ognl.Context {
	return &ognl.Context{Bindings: ctx.Bindings, Parameter: ctx.Parameter}
}

// AppendSql appends s to the buffer, inserting a single separating space
// between non-empty segments (spec.md §4.C "append-with-space semantics").
// If this context carries a <foreach> token rewrite, it is applied first.
func (ctx *DynamicContext) AppendSql(s string) {
	if ctx.rewrite != nil {
		s = ctx.rewrite(s)
	}
	if s == "" {
		return
	}
	if ctx.buf.Len() > 0 {
		ctx.buf.WriteString(" ")
	}
	ctx.buf.WriteString(s)
}

// SQL returns everything appended so far.
func (ctx *DynamicContext) SQL() string { return ctx.buf.String() }

// Err returns the first error raised by expression evaluation during this
// context's tree walk, if any.
func (ctx *DynamicContext) Err() error { return ctx.err }

func (ctx *DynamicContext) setErr(err error) {
	if ctx.err == nil {
		ctx.err = err
	}
}

// Bind stores name in the binding map, visible to the rest of this
// evaluation (and to sibling/parent nodes, since bindings are shared).
func (ctx *DynamicContext) Bind(name string, value interface{}) {
	ctx.Bindings[name] = value
}

// childBuffer returns a nested context sharing bindings/parameter/counter
// but writing into its own buffer — used by Trim/Where/Set to capture a
// body's output before trimming it.
func (ctx *DynamicContext) childBuffer() *DynamicContext {
	return &DynamicContext{
		Bindings:  ctx.Bindings,
		Parameter: ctx.Parameter,
		buf:       &strings.Builder{},
		counter:   ctx.counter,
	}
}

// childWithRewrite is the same as childBuffer but additionally filters
// appended text through rewrite — used by Foreach to mangle #{item...}
// tokens into unique per-iteration names.
func (ctx *DynamicContext) childWithRewrite(rewrite func(string) string) *DynamicContext {
	c := ctx.childBuffer()
	c.rewrite = rewrite
	return c
}

func (ctx *DynamicContext) nextUnique() int64 {
	n := *ctx.counter
	*ctx.counter++
	return n
}
