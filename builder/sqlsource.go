package builder

import (
	"reflect"

	"gobatis"
	"gobatis/sqlnode"
)

// StaticSqlSource is the product of the placeholder rewriter: prepared
// text plus a prebuilt, ordered ParameterMapping list. GetBoundSql simply
// pairs them with the invocation's parameter (spec.md §3 SqlSource,
// static shape) — no per-call re-rendering is needed.
type StaticSqlSource struct {
	SQL               string
	ParameterMappings []gobatis.ParameterMapping
	AdditionalParams  map[string]interface{}
}

func (s *StaticSqlSource) GetBoundSql(parameter interface{}) (*gobatis.BoundSql, error) {
	return &gobatis.BoundSql{
		SQL:               s.SQL,
		ParameterMappings: append([]gobatis.ParameterMapping(nil), s.ParameterMappings...),
		ParameterObject:   parameter,
		AdditionalParams:  s.AdditionalParams,
	}, nil
}

// DynamicSqlSource holds a root node tree; GetBoundSql evaluates it
// against parameter then runs the placeholder rewriter (spec.md §3
// SqlSource, dynamic shape).
type DynamicSqlSource struct {
	Root             sqlnode.SqlNode
	ParameterType    reflect.Type
	ShrinkWhitespace bool
}

func (s *DynamicSqlSource) GetBoundSql(parameter interface{}) (*gobatis.BoundSql, error) {
	ctx := sqlnode.NewDynamicContext(parameter)
	s.Root.Apply(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, mappings, err := RewritePlaceholders(ctx.SQL(), s.ParameterType, ctx.Bindings, s.ShrinkWhitespace)
	if err != nil {
		return nil, err
	}

	return &gobatis.BoundSql{
		SQL:               text,
		ParameterMappings: mappings,
		ParameterObject:   parameter,
		AdditionalParams:  ctx.Bindings,
	}, nil
}
