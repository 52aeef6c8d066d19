package resultset

import (
	"gobatis"
	"gobatis/plugin"
)

// ResultSetHandler reifies projection as an addressable object so the
// plugin chain's TargetResultSetHandler join point has a target to wrap
// (spec.md §4.I). With no interceptors registered, HandleResultSets is a
// plain Project call.
type ResultSetHandler struct {
	registry *gobatis.TypeHandlerRegistry
	chain    []gobatis.Interceptor
	opts     Options
}

func NewResultSetHandler(registry *gobatis.TypeHandlerRegistry, chain []gobatis.Interceptor, opts Options) *ResultSetHandler {
	return &ResultSetHandler{registry: registry, chain: chain, opts: opts}
}

// HandleResultSets projects rows per resultMaps. Interceptors signed on
// (ResultSetHandler, "HandleResultSets") run around the projection; the
// value they observe and may replace is the projected []interface{}.
func (h *ResultSetHandler) HandleResultSets(rows Rows, resultMaps []*gobatis.ResultMap) ([]interface{}, error) {
	call := func(string, []interface{}) (interface{}, error) {
		return Project(rows, resultMaps, h.registry, h.opts)
	}
	var v interface{}
	var err error
	if len(h.chain) == 0 {
		v, err = call("", nil)
	} else {
		v, err = plugin.Wrap(h, gobatis.TargetResultSetHandler, h.chain, call).Call("HandleResultSets", []interface{}{rows})
	}
	if err != nil {
		return nil, err
	}
	list, _ := v.([]interface{})
	return list, nil
}
