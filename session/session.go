// Package session implements the session facade (spec.md §4.N): it owns
// one Executor per session, resolves mapper-method calls to
// MappedStatements by namespace, assembles named parameters, dispatches
// to the executor for the command kind, and converts the raw row list to
// whatever shape the caller asked for. Grounded on geeorm.Engine and its
// Session/Transaction pairing, generalized from one db-backed struct to a
// configuration-driven, many-statement facade.
package session

import (
	"context"
	"fmt"

	"gobatis"
	"gobatis/executor"
	"gobatis/reflectx"
)

func metaObjectOf(row interface{}) reflectx.MetaObject { return reflectx.Wrap(row) }

// SqlSession is the per-actor handle spec.md §4.N describes: "owns an
// executor per session." It is not safe for concurrent use — the spec's
// concurrency model gives one session per concurrent actor.
type SqlSession struct {
	config *gobatis.Configuration
	exec   *executor.Executor
}

// New wraps exec with config's statement registry. Callers build exec
// themselves (executor.New) so the executor kind, connection, and
// key-generator preparer stay their decision, not the session's.
func New(config *gobatis.Configuration, exec *executor.Executor) *SqlSession {
	return &SqlSession{config: config, exec: exec}
}

func (s *SqlSession) resolve(statementID string) (*gobatis.MappedStatement, error) {
	ms, ok := s.config.GetMappedStatement(statementID)
	if !ok {
		return nil, &gobatis.BindingError{Statement: statementID, Cause: fmt.Errorf("no mapped statement registered")}
	}
	return ms, nil
}

func requireCommand(ms *gobatis.MappedStatement, want gobatis.SqlCommandType, call string) error {
	if ms.CommandType != want {
		return &gobatis.BindingError{Statement: ms.ID, Cause: fmt.Errorf("%s called on a %v statement", call, ms.CommandType)}
	}
	return nil
}

// Insert runs an INSERT mapped statement and returns the affected row count.
func (s *SqlSession) Insert(ctx context.Context, statementID string, parameter interface{}) (int64, error) {
	ms, err := s.resolve(statementID)
	if err != nil {
		return 0, err
	}
	if err := requireCommand(ms, gobatis.SqlInsert, "Insert"); err != nil {
		return 0, err
	}
	return s.exec.Update(ctx, ms, parameter)
}

// Update runs an UPDATE mapped statement and returns the affected row count.
func (s *SqlSession) Update(ctx context.Context, statementID string, parameter interface{}) (int64, error) {
	ms, err := s.resolve(statementID)
	if err != nil {
		return 0, err
	}
	if err := requireCommand(ms, gobatis.SqlUpdate, "Update"); err != nil {
		return 0, err
	}
	return s.exec.Update(ctx, ms, parameter)
}

// Delete runs a DELETE mapped statement and returns the affected row count.
func (s *SqlSession) Delete(ctx context.Context, statementID string, parameter interface{}) (int64, error) {
	ms, err := s.resolve(statementID)
	if err != nil {
		return 0, err
	}
	if err := requireCommand(ms, gobatis.SqlDelete, "Delete"); err != nil {
		return 0, err
	}
	return s.exec.Update(ctx, ms, parameter)
}

// SelectList runs a SELECT mapped statement and returns every row, per
// spec.md §4.N's list return-type conversion.
func (s *SqlSession) SelectList(ctx context.Context, statementID string, parameter interface{}, bounds gobatis.RowBounds) ([]interface{}, error) {
	ms, err := s.resolve(statementID)
	if err != nil {
		return nil, err
	}
	if err := requireCommand(ms, gobatis.SqlSelect, "SelectList"); err != nil {
		return nil, err
	}
	return s.exec.Query(ctx, ms, parameter, bounds)
}

// SelectOne runs a SELECT and returns its single row, or nil if none
// matched. It is a BindingError for the statement to produce more than
// one row (spec.md §4.N scalar return-type conversion).
func (s *SqlSession) SelectOne(ctx context.Context, statementID string, parameter interface{}) (interface{}, error) {
	list, err := s.SelectList(ctx, statementID, parameter, gobatis.NoRowBounds)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return nil, &gobatis.BindingError{Statement: statementID, Cause: fmt.Errorf("expected one row, got %d", len(list))}
	}
}

// SelectMap runs a SELECT and projects the rows into a map keyed by each
// row's mapKey property, the Go-native analog of spec.md §4.N's
// @MapKey-style map return (spec.md §4.N).
func (s *SqlSession) SelectMap(ctx context.Context, statementID string, parameter interface{}, mapKey string, bounds gobatis.RowBounds) (map[interface{}]interface{}, error) {
	list, err := s.SelectList(ctx, statementID, parameter, bounds)
	if err != nil {
		return nil, err
	}
	out := make(map[interface{}]interface{}, len(list))
	for _, row := range list {
		meta := metaObjectOf(row)
		key, gerr := meta.Get(mapKey)
		if gerr != nil {
			return nil, &gobatis.ReflectionError{Path: mapKey, Target: fmt.Sprintf("%T", row), Cause: gerr}
		}
		out[key] = row
	}
	return out, nil
}

// SelectCursor runs a SELECT lazily, streaming one row at a time instead
// of materializing the full list (spec.md §4.J queryCursor / §4.N cursor
// return-type conversion). Cursor results bypass the local cache.
func (s *SqlSession) SelectCursor(ctx context.Context, statementID string, parameter interface{}, bounds gobatis.RowBounds) (*executor.Cursor, error) {
	ms, err := s.resolve(statementID)
	if err != nil {
		return nil, err
	}
	if err := requireCommand(ms, gobatis.SqlSelect, "SelectCursor"); err != nil {
		return nil, err
	}
	return s.exec.QueryCursor(ctx, ms, parameter, bounds)
}

// FlushStatements flushes a Batch executor's queued writes (spec.md §4.J).
func (s *SqlSession) FlushStatements(ctx context.Context) ([]int64, error) {
	return s.exec.FlushStatements(ctx)
}

// Commit commits the underlying transaction, if any (spec.md §4.N).
func (s *SqlSession) Commit(ctx context.Context, required bool) error {
	return s.exec.Commit(ctx, required)
}

// Rollback rolls back the underlying transaction, if any (spec.md §4.N).
func (s *SqlSession) Rollback(ctx context.Context, required bool) error {
	return s.exec.Rollback(ctx, required)
}

// Close releases the session's executor. Per spec.md §7, the session is
// not auto-rolled-back on error — callers decide.
func (s *SqlSession) Close() error {
	return s.exec.Close()
}

// Configuration exposes the shared Configuration this session's
// statements were resolved against.
func (s *SqlSession) Configuration() *gobatis.Configuration { return s.config }
