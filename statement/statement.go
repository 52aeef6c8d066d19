// Package statement implements the statement-handler layer (spec.md
// §4.K): binds a BoundSql's ordered ParameterMapping list into
// database/sql driver args and drives the simple/prepared/callable
// execution flow, returning SELECT rows for the executor to hand to the
// resultset projector and running key-generator pre/post hooks around writes. Grounded on
// geeorm/session/raw.go's prepare-args-execute sequence, generalized from
// one hardcoded Exec/QueryRow/QueryRows trio to the full parameter
// resolution spec.md §4.K describes.
package statement

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"gobatis"
	"gobatis/reflectx"
)

// Conn is the subset of *sql.DB / *sql.Tx that statement handlers need;
// defining it locally lets the executor pass either without statement
// importing database/sql's concrete connection pool type.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// ResolveTimeout picks the smaller of the statement's own timeout and the
// configuration default, per spec.md §4.K step 3 ("the smaller of
// statement timeout, default timeout, transaction remaining" — the
// transaction-remaining term needs driver-level deadline propagation this
// engine leaves to the caller's context, so only the two static values
// are compared here).
func ResolveTimeout(ms *gobatis.MappedStatement, defaultTimeout int) time.Duration {
	t := ms.Timeout
	if defaultTimeout > 0 && (t <= 0 || defaultTimeout < t) {
		t = defaultTimeout
	}
	if t <= 0 {
		return 0
	}
	return time.Duration(t) * time.Second
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// outBinding pairs a callable statement's OUT/INOUT ParameterMapping with
// the addressable reflect.Value its sql.Out{Dest: ...} wrapper points at,
// so applyOutBindings can read the driver-written value back out once
// ExecContext returns (spec.md §4.K, callable statements).
type outBinding struct {
	pm  gobatis.ParameterMapping
	dst reflect.Value
}

// BindArgs resolves each ParameterMapping in bound.ParameterMappings to a
// driver-ready value, in textual order (spec.md §4.K step 4): additional
// bindings first (covers <bind>/<foreach> names), then the parameter
// object's own property navigation, then the registry's type handler. A
// mapping whose Mode is ParamOut or ParamInOut is instead wrapped in a
// sql.Out so a capable driver can write its OUT value back into the arg
// slot; the returned outBindings let the caller read that value back after
// execution via applyOutBindings.
func BindArgs(bound *gobatis.BoundSql, registry *gobatis.TypeHandlerRegistry) ([]interface{}, []outBinding, error) {
	args := make([]interface{}, 0, len(bound.ParameterMappings))
	var outs []outBinding
	for _, pm := range bound.ParameterMappings {
		value, err := resolveValue(pm, bound)
		if err != nil {
			return nil, nil, err
		}
		handler, err := registry.Resolve(pm.TypeHandler)
		if err != nil {
			return nil, nil, err
		}
		driverValue, err := handler.ToDriverValue(value)
		if err != nil {
			return nil, nil, &gobatis.TypeHandlerError{GoType: fmt.Sprintf("%T", value), JdbcType: pm.JdbcType}
		}

		if pm.Mode == gobatis.ParamOut || pm.Mode == gobatis.ParamInOut {
			dst := reflect.New(outDestType(pm.GoType))
			if pm.Mode == gobatis.ParamInOut && driverValue != nil {
				if dv := reflect.ValueOf(driverValue); dv.Type().AssignableTo(dst.Elem().Type()) {
					dst.Elem().Set(dv)
				}
			}
			outs = append(outs, outBinding{pm: pm, dst: dst})
			args = append(args, sql.Out{Dest: dst.Interface(), In: pm.Mode == gobatis.ParamInOut})
			continue
		}
		args = append(args, driverValue)
	}
	return args, outs, nil
}

// outDestType picks the type of pointer sql.Out should write an OUT value
// into: the mapping's declared Go type if known, else interface{} so the
// driver's own reported type comes through unconverted.
func outDestType(t reflect.Type) reflect.Type {
	if t == nil {
		return reflect.TypeOf((*interface{})(nil)).Elem()
	}
	return t
}

// applyOutBindings copies every OUT/INOUT value a callable statement wrote
// back through sql.Out into the parameter object, by property path
// (spec.md §4.K, mirroring CallableStatementHandler.getOutputParameters —
// Mode-less IN parameters never appear here since BindArgs only records a
// binding for Mode != ParamIn).
func applyOutBindings(outs []outBinding, bound *gobatis.BoundSql, registry *gobatis.TypeHandlerRegistry) error {
	if len(outs) == 0 || bound.ParameterObject == nil {
		return nil
	}
	mo := reflectx.Wrap(bound.ParameterObject)
	if !mo.IsValid() {
		return nil
	}
	for _, ob := range outs {
		if ob.pm.Property == "" || ob.pm.Property == "_parameter" {
			continue
		}
		handler, err := registry.Resolve(ob.pm.TypeHandler)
		if err != nil {
			return err
		}
		v, err := handler.FromDriverValue(ob.dst.Elem().Interface(), ob.pm.GoType)
		if err != nil {
			return err
		}
		if err := mo.Set(ob.pm.Property, v); err != nil {
			return &gobatis.ReflectionError{Path: ob.pm.Property, Target: fmt.Sprintf("%T", bound.ParameterObject), Cause: err}
		}
	}
	return nil
}

// ApplyParameterMap fills bound's mapping list from ms's <parameterMap>
// reference when the statement text declared no inline #{...} mappings
// (the legacy bare-? style, spec.md §3 ParameterMap).
func ApplyParameterMap(ms *gobatis.MappedStatement, bound *gobatis.BoundSql) {
	if len(bound.ParameterMappings) == 0 && ms.ParameterMap != nil {
		bound.ParameterMappings = append([]gobatis.ParameterMapping(nil), ms.ParameterMap.Mappings...)
	}
}

func resolveValue(pm gobatis.ParameterMapping, bound *gobatis.BoundSql) (interface{}, error) {
	if bound.AdditionalParams != nil {
		if v, ok := bound.AdditionalParams[pm.Property]; ok {
			return v, nil
		}
	}
	if pm.Property == "_parameter" || pm.Property == "" {
		return bound.ParameterObject, nil
	}
	if bound.ParameterObject == nil {
		return nil, nil
	}
	if m, ok := bound.ParameterObject.(map[string]interface{}); ok {
		return m[pm.Property], nil
	}
	mo := reflectx.Wrap(bound.ParameterObject)
	if !mo.IsValid() {
		return bound.ParameterObject, nil
	}
	v, err := mo.Get(pm.Property)
	if err != nil {
		return nil, &gobatis.ReflectionError{Path: pm.Property, Target: fmt.Sprintf("%T", bound.ParameterObject), Cause: err}
	}
	return v, nil
}

// Update executes ms (INSERT/UPDATE/DELETE) and returns the affected row
// count, running the key generator's before/after hooks around it (spec.md
// §4.K step 6, §4.M).
func Update(ctx context.Context, conn Conn, exec gobatis.StatementExecContext, ms *gobatis.MappedStatement, param interface{}, registry *gobatis.TypeHandlerRegistry, defaultTimeout int) (int64, error) {
	return updateWith(ctx, conn, exec, ms, param, NewParameterHandler(registry, nil), defaultTimeout)
}

func updateWith(ctx context.Context, conn Conn, exec gobatis.StatementExecContext, ms *gobatis.MappedStatement, param interface{}, params *ParameterHandler, defaultTimeout int) (int64, error) {
	if ms.KeyGenerator != nil {
		if err := ms.KeyGenerator.ProcessBefore(exec, ms, param); err != nil {
			return 0, err
		}
	}

	bound, err := ms.SqlSource.GetBoundSql(param)
	if err != nil {
		return 0, err
	}
	ApplyParameterMap(ms, bound)
	args, outs, err := params.SetParameters(bound)
	if err != nil {
		return 0, err
	}

	tctx, cancel := withTimeout(ctx, ResolveTimeout(ms, defaultTimeout))
	defer cancel()

	result, err := conn.ExecContext(tctx, bound.SQL, args...)
	if err != nil {
		return 0, &gobatis.SqlExecutionError{Resource: ms.ID, Activity: "executing update", SQL: bound.SQL, Cause: err}
	}
	if ms.StatementType == gobatis.StatementCallable {
		if err := applyOutBindings(outs, bound, params.registry); err != nil {
			return 0, err
		}
	}

	if ms.KeyGenerator != nil {
		if err := ms.KeyGenerator.ProcessAfter(exec, ms, param, result); err != nil {
			return 0, err
		}
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, &gobatis.SqlExecutionError{Resource: ms.ID, Activity: "reading rows affected", SQL: bound.SQL, Cause: err}
	}
	return n, nil
}

// Query executes ms (SELECT) and returns the raw *sql.Rows plus the
// BoundSql that produced it, so the caller (the executor, which owns the
// local cache key) can hand rows to the result-set projector itself.
//
// Unlike Update, Query does not wrap ctx in its own timeout: database/sql
// ties a query's context to the lifetime of the returned *sql.Rows
// (canceling it aborts in-flight iteration), so the timeout/cancellation
// decision is left to whatever context the caller already threads through
// the session.
func Query(ctx context.Context, conn Conn, ms *gobatis.MappedStatement, param interface{}, registry *gobatis.TypeHandlerRegistry) (*sql.Rows, *gobatis.BoundSql, error) {
	return queryWith(ctx, conn, ms, param, NewParameterHandler(registry, nil))
}

func queryWith(ctx context.Context, conn Conn, ms *gobatis.MappedStatement, param interface{}, params *ParameterHandler) (*sql.Rows, *gobatis.BoundSql, error) {
	bound, err := ms.SqlSource.GetBoundSql(param)
	if err != nil {
		return nil, nil, err
	}
	ApplyParameterMap(ms, bound)
	args, _, err := params.SetParameters(bound)
	if err != nil {
		return nil, nil, err
	}

	rows, err := conn.QueryContext(ctx, bound.SQL, args...)
	if err != nil {
		return nil, nil, &gobatis.SqlExecutionError{Resource: ms.ID, Activity: "executing query", SQL: bound.SQL, Cause: err}
	}
	return rows, bound, nil
}
