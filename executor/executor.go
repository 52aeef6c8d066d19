package executor

import (
	"context"
	"database/sql"
	"reflect"
	"sync"

	"gobatis"
	"gobatis/plugin"
	"gobatis/reflectx"
	"gobatis/resultset"
	"gobatis/statement"
)

// Kind selects one of the three executor variants spec.md §4.J names.
type Kind int

const (
	Simple Kind = iota
	Reuse
	Batch
)

type batchedUpdate struct {
	ms    *gobatis.MappedStatement
	param interface{}
}

// Executor is the session-owned execution engine (spec.md §4.J): a
// first-level cache, a deferred-load queue, a query-stack depth counter,
// and dispatch into the statement-handler layer. Grounded on
// geeorm/session/session.go's single Conn + Exec/Raw flow, generalized to
// the cached, nested-query-aware, three-variant shape the spec describes.
type Executor struct {
	mu sync.Mutex

	kind     Kind
	conn     statement.Conn // what Query/Update actually execute against
	rawConn  statement.Conn // the underlying connection, always set
	config   *gobatis.Configuration
	reg      *gobatis.TypeHandlerRegistry

	local      *LocalCache
	deferred   []DeferredLoad
	queryStack int
	closed     bool

	// Batch variant: writes queued instead of executed immediately.
	pendingBatch []batchedUpdate
}

// Preparer is the subset of *sql.DB/*sql.Tx the Reuse variant needs to
// turn SQL text into a cached prepared statement.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// New builds an Executor of the given kind over conn, sharing config's
// registries. preparer is required for Reuse (spec.md §4.J "reuses
// prepared statements keyed by SQL text"); ignored for Simple/Batch.
func New(kind Kind, conn statement.Conn, config *gobatis.Configuration, reg *gobatis.TypeHandlerRegistry, preparer Preparer) *Executor {
	execConn := conn
	if kind == Reuse && preparer != nil {
		execConn = newReuseConn(preparer)
	}
	return &Executor{
		kind:    kind,
		conn:    execConn,
		rawConn: conn,
		config:  config,
		reg:     reg,
		local:   NewLocalCache(),
	}
}

// Configuration implements gobatis.StatementExecContext.
func (e *Executor) Configuration() *gobatis.Configuration { return e.config }

// useSharedCache gates the second-level cache: the Configuration-wide
// cacheEnabled switch, the statement's own useCache flag, and an actual
// region all have to line up (spec.md §3 settings / §4.J).
func (e *Executor) useSharedCache(ms *gobatis.MappedStatement) bool {
	return e.config.Settings.CacheEnabled && ms.UseCache && ms.Cache != nil
}

func (e *Executor) checkOpen() error {
	if e.closed {
		return &gobatis.ExecutorError{Msg: "executor is closed"}
	}
	return nil
}

// Update runs ms (INSERT/UPDATE/DELETE), clearing the local cache first
// per spec.md §4.J (a write invalidates any result that might now be
// stale). Batch executors queue the write instead of running it inline;
// Simple/Reuse run immediately.
func (e *Executor) Update(ctx context.Context, ms *gobatis.MappedStatement, param interface{}) (int64, error) {
	if chain := e.config.Interceptors(); len(chain) > 0 {
		w := plugin.Wrap(e, gobatis.TargetExecutor, chain, func(method string, args []interface{}) (interface{}, error) {
			return e.update(ctx, ms, param)
		})
		v, err := w.Call("Update", []interface{}{ctx, ms, param})
		if err != nil {
			return 0, err
		}
		return v.(int64), nil
	}
	return e.update(ctx, ms, param)
}

func (e *Executor) update(ctx context.Context, ms *gobatis.MappedStatement, param interface{}) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	e.local.Clear()

	if e.kind == Batch && ms.StatementType != gobatis.StatementCallable {
		e.pendingBatch = append(e.pendingBatch, batchedUpdate{ms: ms, param: param})
		return 0, nil
	}
	return e.runUpdate(ctx, ms, param)
}

// statementHandler builds the per-call handler object the plugin chain's
// TargetStatementHandler/TargetParameterHandler join points wrap
// (spec.md §4.I's newStatementHandler/newParameterHandler construction
// points).
func (e *Executor) statementHandler() *statement.StatementHandler {
	return statement.NewStatementHandler(e.conn, e, e.reg, e.config.Interceptors(), e.config.Settings.DefaultStatementTimeout)
}

func (e *Executor) runUpdate(ctx context.Context, ms *gobatis.MappedStatement, param interface{}) (int64, error) {
	return e.statementHandler().Update(ctx, ms, param)
}

// FlushStatements executes any writes queued by a Batch executor, in
// submission order, and returns the row count of each (spec.md §4.J
// "flushed on select or explicit flush").
func (e *Executor) FlushStatements(ctx context.Context) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.flushLocked(ctx)
}

func (e *Executor) flushLocked(ctx context.Context) ([]int64, error) {
	pending := e.pendingBatch
	e.pendingBatch = nil
	results := make([]int64, 0, len(pending))
	for _, b := range pending {
		n, err := e.runUpdate(ctx, b.ms, b.param)
		if err != nil {
			return results, err
		}
		results = append(results, n)
	}
	return results, nil
}

// Query runs ms (SELECT), consulting the local cache first (spec.md
// §4.J). On a cache miss it places Placeholder, runs the statement and
// projector, then replaces the sentinel with the materialized list. When
// the query-stack returns to zero it drains the deferred-load queue.
func (e *Executor) Query(ctx context.Context, ms *gobatis.MappedStatement, param interface{}, bounds gobatis.RowBounds) ([]interface{}, error) {
	if chain := e.config.Interceptors(); len(chain) > 0 {
		w := plugin.Wrap(e, gobatis.TargetExecutor, chain, func(method string, args []interface{}) (interface{}, error) {
			return e.query(ctx, ms, param, bounds)
		})
		v, err := w.Call("Query", []interface{}{ctx, ms, param, bounds})
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		return v.([]interface{}), nil
	}
	return e.query(ctx, ms, param, bounds)
}

func (e *Executor) query(ctx context.Context, ms *gobatis.MappedStatement, param interface{}, bounds gobatis.RowBounds) ([]interface{}, error) {
	e.mu.Lock()
	if err := e.checkOpen(); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if e.kind == Batch && len(e.pendingBatch) > 0 {
		if _, err := e.flushLocked(ctx); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}

	bound, err := ms.SqlSource.GetBoundSql(param)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	statement.ApplyParameterMap(ms, bound)
	args, _, err := statement.BindArgs(bound, e.reg)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	key := NewCacheKey(ms.ID, bounds.Offset, bounds.Limit, bound.SQL, args, e.config.EnvironmentID)

	if e.useSharedCache(ms) {
		if v, ok := ms.Cache.GetObject(key); ok {
			if list, ok := v.([]interface{}); ok {
				e.mu.Unlock()
				return list, nil
			}
		}
	}
	if v, ok := e.local.Get(key); ok {
		if v == Placeholder {
			e.mu.Unlock()
			return nil, &gobatis.ExecutorError{Msg: "circular nested query for cache key " + string(key)}
		}
		e.mu.Unlock()
		return v.([]interface{}), nil
	}

	e.local.Put(key, Placeholder)
	e.queryStack++
	e.mu.Unlock()

	list, err := e.runQuery(ctx, ms, param, bounds, key)

	e.mu.Lock()
	e.queryStack--
	if err != nil {
		e.local.Remove(key)
		stack := e.queryStack
		e.mu.Unlock()
		if stack == 0 {
			e.finishTopLevelQuery()
		}
		return nil, err
	}
	e.local.Put(key, list)
	if e.useSharedCache(ms) {
		ms.Cache.PutObject(key, list)
	}
	stack := e.queryStack
	e.mu.Unlock()

	if stack == 0 {
		e.finishTopLevelQuery()
	}
	return list, nil
}

// finishTopLevelQuery runs once the query stack returns to zero: drain the
// deferred-load queue, then — under STATEMENT cache scope — discard the
// local cache, which SESSION scope keeps until clear/commit/rollback
// (spec.md §4.J).
func (e *Executor) finishTopLevelQuery() {
	e.drainDeferred()
	if e.config.Settings.LocalCacheScope == gobatis.LocalCacheStatement {
		e.local.Clear()
	}
}

func (e *Executor) runQuery(ctx context.Context, ms *gobatis.MappedStatement, param interface{}, bounds gobatis.RowBounds, key CacheKey) ([]interface{}, error) {
	rows, bound, err := e.statementHandler().Query(ctx, ms, param)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		// an interceptor replaced the result set with nothing
		return nil, nil
	}
	defer rows.Close()
	_ = bound

	rsh := resultset.NewResultSetHandler(e.reg, e.config.Interceptors(), resultset.Options{
		Bounds:               bounds,
		AutoMapping:          e.config.Settings.AutoMappingBehavior,
		MapUnderscoreToCamel: e.config.Settings.MapUnderscoreToCamelCase,
		CallSettersOnNulls:   e.config.Settings.CallSettersOnNulls,
		Runner:               &nestedRunner{exec: e, parentKey: key},
		ResolveResultMap:     e.config.GetResultMap,
		ResultSetNames:       ms.ResultSets,
	})
	list, err := rsh.HandleResultSets(rows, ms.ResultMaps)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// QueryCursor runs ms like Query but hands back a lazy Cursor that streams
// rows from the still-open *sql.Rows instead of materializing a list
// (spec.md §4.J queryCursor). Cursors bypass the local cache: streaming
// results are not safe to replay from a cache entry.
func (e *Executor) QueryCursor(ctx context.Context, ms *gobatis.MappedStatement, param interface{}, bounds gobatis.RowBounds) (*Cursor, error) {
	e.mu.Lock()
	if err := e.checkOpen(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	if e.config.Settings.SafeRowBoundsEnabled && bounds != gobatis.NoRowBounds {
		return nil, &gobatis.ExecutorError{Msg: "row bounds cannot be combined with a streaming cursor while safeRowBoundsEnabled is set"}
	}

	rows, _, err := e.statementHandler().Query(ctx, ms, param)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, &gobatis.ExecutorError{Msg: "statement handler produced no result set for cursor query"}
	}
	return newCursor(rows, ms.ResultMaps, e.reg, bounds, e.config), nil
}

// DeferLoad implements spec.md §4.J deferLoad: if key's local-cache entry
// has already materialized, set the property immediately; if it still
// holds Placeholder, queue the load for stack-depth-zero; otherwise (not
// present at all) queue it and let the eventual Query call populate it.
func (e *Executor) DeferLoad(key interface{}, target reflectx.MetaObject, property string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.local.Get(key); ok && v != Placeholder {
		return applyDeferredValue(target, property, v)
	}
	e.deferred = append(e.deferred, DeferredLoad{Key: key, Target: target, Property: property})
	return nil
}

func (e *Executor) drainDeferred() {
	e.mu.Lock()
	pending := e.deferred
	e.deferred = nil
	e.mu.Unlock()

	for _, d := range pending {
		v, ok := e.local.Get(d.Key)
		if !ok || v == Placeholder {
			continue
		}
		_ = applyDeferredValue(d.Target, d.Property, v)
	}
}

// applyDeferredValue resolves a cached nested-query result onto target's
// property, mirroring the unwrapping resultset's inline
// applyNestedQuery does for the non-cyclic case: a cached Query result is
// always the statement's raw []interface{} row list, so an
// association-shaped field takes the first row and a slice-shaped field
// (a deferred collection mapping) appends every row. Values that never
// went through a nested query (DeferLoad callers passing a plain scalar,
// as the package's own unit tests do) pass straight through to Set.
func applyDeferredValue(target reflectx.MetaObject, property string, raw interface{}) error {
	list, ok := raw.([]interface{})
	if !ok {
		return target.Set(property, raw)
	}
	if v := target.Value(); v.Kind() == reflect.Struct {
		if field := v.FieldByName(property); field.IsValid() && field.Kind() == reflect.Slice {
			for _, elem := range list {
				if err := resultset.AppendNested(target, property, elem); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if len(list) == 0 {
		return nil
	}
	return target.Set(property, list[0])
}

// Commit implements spec.md §4.J: clear local cache, flush pending
// batches, commit the transaction if required.
func (e *Executor) Commit(ctx context.Context, required bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.local.Clear()
	if _, err := e.flushLocked(ctx); err != nil {
		return err
	}
	if required {
		if tx, ok := e.rawConn.(interface{ Commit() error }); ok {
			return tx.Commit()
		}
	}
	return nil
}

// Rollback implements spec.md §4.J: clear local cache, discard pending
// batches, roll the transaction back if required.
func (e *Executor) Rollback(ctx context.Context, required bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.local.Clear()
	e.pendingBatch = nil
	if required {
		if tx, ok := e.rawConn.(interface{ Rollback() error }); ok {
			return tx.Rollback()
		}
	}
	return nil
}

// Close marks the executor closed; further calls fail with ExecutorError
// (spec.md §4.J state machine).
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rc, ok := e.conn.(*reuseConn); ok {
		rc.closeAll()
	}
	e.closed = true
	return nil
}

// ExecuteForKeyGenerator implements gobatis.StatementExecContext: runs a
// <selectKey> auxiliary statement and returns its single scalar result
// (spec.md §4.M SelectKeyGenerator).
func (e *Executor) ExecuteForKeyGenerator(ms *gobatis.MappedStatement, parameter interface{}) (interface{}, error) {
	ctx := context.Background()
	if ms.CommandType == gobatis.SqlSelect {
		rows, _, err := statement.Query(ctx, e.conn, ms, parameter, e.reg)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		if !rows.Next() {
			return nil, nil
		}
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	timeout := e.config.Settings.DefaultStatementTimeout
	return statement.Update(ctx, e.conn, e, ms, parameter, e.reg, timeout)
}

// nestedRunner bridges resultset.NestedRunner to this Executor: it
// resolves the placeholder MappedStatement (which only carries an ID; see
// resultset.nestedStatementPlaceholder) against Configuration, then either
// runs the nested query inline or records a DeferredLoad, implementing
// the cycle-breaking protocol spec.md §9 describes for "blog → author →
// latest blog"-shaped graphs.
type nestedRunner struct {
	exec      *Executor
	parentKey CacheKey
}

func (n *nestedRunner) RunNestedQuery(placeholder *gobatis.MappedStatement, param interface{}, target reflectx.MetaObject, property string) (interface{}, bool, error) {
	ms, ok := n.exec.config.GetMappedStatement(placeholder.ID)
	if !ok {
		return nil, false, &gobatis.BindingError{Statement: placeholder.ID, Cause: nil}
	}

	bound, err := ms.SqlSource.GetBoundSql(param)
	if err != nil {
		return nil, false, err
	}
	statement.ApplyParameterMap(ms, bound)
	args, _, err := statement.BindArgs(bound, n.exec.reg)
	if err != nil {
		return nil, false, err
	}
	key := NewCacheKey(ms.ID, 0, -1, bound.SQL, args, n.exec.config.EnvironmentID)

	n.exec.mu.Lock()
	if v, ok := n.exec.local.Get(key); ok {
		if v == Placeholder {
			n.exec.mu.Unlock()
			if err := n.exec.DeferLoad(key, target, property); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		}
		n.exec.mu.Unlock()
		return v, false, nil
	}
	n.exec.mu.Unlock()

	list, err := n.exec.Query(context.Background(), ms, param, gobatis.NoRowBounds)
	if err != nil {
		return nil, false, err
	}
	return list, false, nil
}
