package statement

import (
	"context"
	"database/sql"

	"gobatis"
	"gobatis/plugin"
)

// ParameterHandler reifies the parameter-binding step as an addressable
// object so the plugin chain's TargetParameterHandler join point has a
// target to wrap (spec.md §4.I). With no interceptors registered,
// SetParameters is a plain BindArgs call.
type ParameterHandler struct {
	registry *gobatis.TypeHandlerRegistry
	chain    []gobatis.Interceptor
}

func NewParameterHandler(registry *gobatis.TypeHandlerRegistry, chain []gobatis.Interceptor) *ParameterHandler {
	return &ParameterHandler{registry: registry, chain: chain}
}

// SetParameters resolves bound's ordered mappings into driver args.
// Interceptors signed on (ParameterHandler, "SetParameters") run around
// the binding; the value they observe and may replace is the
// []interface{} arg list.
func (h *ParameterHandler) SetParameters(bound *gobatis.BoundSql) ([]interface{}, []outBinding, error) {
	var outs []outBinding
	call := func(string, []interface{}) (interface{}, error) {
		args, o, err := BindArgs(bound, h.registry)
		outs = o
		return args, err
	}
	var v interface{}
	var err error
	if len(h.chain) == 0 {
		v, err = call("", nil)
	} else {
		v, err = plugin.Wrap(h, gobatis.TargetParameterHandler, h.chain, call).Call("SetParameters", []interface{}{bound})
	}
	if err != nil {
		return nil, nil, err
	}
	args, _ := v.([]interface{})
	return args, outs, nil
}

// StatementHandler drives one statement's prepare/bind/execute flow as an
// addressable object (spec.md §4.K), giving the plugin chain's
// TargetStatementHandler join point a target; parameter binding runs
// through its own chain-aware ParameterHandler.
type StatementHandler struct {
	conn   Conn
	exec   gobatis.StatementExecContext
	params *ParameterHandler
	chain  []gobatis.Interceptor

	defaultTimeout int
}

func NewStatementHandler(conn Conn, exec gobatis.StatementExecContext, registry *gobatis.TypeHandlerRegistry, chain []gobatis.Interceptor, defaultTimeout int) *StatementHandler {
	return &StatementHandler{
		conn:           conn,
		exec:           exec,
		params:         NewParameterHandler(registry, chain),
		chain:          chain,
		defaultTimeout: defaultTimeout,
	}
}

// Update runs ms through the write flow, with interceptors signed on
// (StatementHandler, "Update") wrapping the whole of it.
func (h *StatementHandler) Update(ctx context.Context, ms *gobatis.MappedStatement, param interface{}) (int64, error) {
	call := func(string, []interface{}) (interface{}, error) {
		return updateWith(ctx, h.conn, h.exec, ms, param, h.params, h.defaultTimeout)
	}
	var v interface{}
	var err error
	if len(h.chain) == 0 {
		v, err = call("", nil)
	} else {
		v, err = plugin.Wrap(h, gobatis.TargetStatementHandler, h.chain, call).Call("Update", []interface{}{ms, param})
	}
	if err != nil {
		return 0, err
	}
	n, _ := v.(int64)
	return n, nil
}

// Query runs ms through the read flow and hands back the still-open
// *sql.Rows plus the BoundSql that produced it, with interceptors signed
// on (StatementHandler, "Query") wrapping the driver call.
func (h *StatementHandler) Query(ctx context.Context, ms *gobatis.MappedStatement, param interface{}) (*sql.Rows, *gobatis.BoundSql, error) {
	var bound *gobatis.BoundSql
	call := func(string, []interface{}) (interface{}, error) {
		rows, b, err := queryWith(ctx, h.conn, ms, param, h.params)
		bound = b
		return rows, err
	}
	var v interface{}
	var err error
	if len(h.chain) == 0 {
		v, err = call("", nil)
	} else {
		v, err = plugin.Wrap(h, gobatis.TargetStatementHandler, h.chain, call).Call("Query", []interface{}{ms, param})
	}
	if err != nil {
		return nil, nil, err
	}
	rows, _ := v.(*sql.Rows)
	return rows, bound, nil
}
