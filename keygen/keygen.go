// Package keygen implements the pre/post hooks around a write statement
// that populate generated primary keys (spec.md §4.M): NoKeyGenerator is a
// no-op, Jdbc3KeyGenerator reads back database/sql's LastInsertId, and
// SelectKeyGenerator runs a designated auxiliary SELECT before or after
// the main statement.
package keygen

import (
	"database/sql"
	"fmt"

	"gobatis"
	"gobatis/reflectx"
)

// NoKeyGenerator is used for statements with no configured key generation.
type NoKeyGenerator struct{}

func (NoKeyGenerator) ProcessBefore(gobatis.StatementExecContext, *gobatis.MappedStatement, interface{}) error {
	return nil
}

func (NoKeyGenerator) ProcessAfter(gobatis.StatementExecContext, *gobatis.MappedStatement, interface{}, interface{}) error {
	return nil
}

// Jdbc3KeyGenerator applies sql.Result.LastInsertId() to the parameter's
// KeyProperties after the statement executes (spec.md §4.M Jdbc3Key).
type Jdbc3KeyGenerator struct {
	KeyProperties []string
}

func (Jdbc3KeyGenerator) ProcessBefore(gobatis.StatementExecContext, *gobatis.MappedStatement, interface{}) error {
	return nil
}

func (g Jdbc3KeyGenerator) ProcessAfter(_ gobatis.StatementExecContext, _ *gobatis.MappedStatement, parameter interface{}, result interface{}) error {
	res, ok := result.(sql.Result)
	if !ok {
		return fmt.Errorf("keygen: expected sql.Result, got %T", result)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("keygen: reading generated key: %w", err)
	}
	mo := reflectx.Wrap(parameter)
	for _, prop := range g.KeyProperties {
		if err := mo.Set(prop, id); err != nil {
			return fmt.Errorf("keygen: setting %q: %w", prop, err)
		}
	}
	return nil
}

// SelectKeyGenerator runs Statement (a <selectKey>) before or after the
// owning statement and stores its single-value result under KeyProperty
// (spec.md §4.M SelectKey).
type SelectKeyGenerator struct {
	Statement   *gobatis.MappedStatement
	KeyProperty string
	Before      bool
}

func (g SelectKeyGenerator) ProcessBefore(exec gobatis.StatementExecContext, _ *gobatis.MappedStatement, parameter interface{}) error {
	if !g.Before {
		return nil
	}
	return g.run(exec, parameter)
}

func (g SelectKeyGenerator) ProcessAfter(exec gobatis.StatementExecContext, _ *gobatis.MappedStatement, parameter interface{}, _ interface{}) error {
	if g.Before {
		return nil
	}
	return g.run(exec, parameter)
}

func (g SelectKeyGenerator) run(exec gobatis.StatementExecContext, parameter interface{}) error {
	value, err := exec.ExecuteForKeyGenerator(g.Statement, parameter)
	if err != nil {
		return fmt.Errorf("keygen: running selectKey statement %s: %w", g.Statement.ID, err)
	}
	mo := reflectx.Wrap(parameter)
	return mo.Set(g.KeyProperty, value)
}
