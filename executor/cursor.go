package executor

import (
	"database/sql"

	"gobatis"
	"gobatis/resultset"
)

// Cursor streams one row at a time from a still-open *sql.Rows instead of
// materializing a full list, for spec.md §4.J's queryCursor. It holds the
// statement and result set until Close is called or iteration is
// exhausted, at which point the underlying rows are closed automatically.
type Cursor struct {
	rows       *sql.Rows
	resultMaps []*gobatis.ResultMap
	registry   *gobatis.TypeHandlerRegistry
	bounds     gobatis.RowBounds
	config     *gobatis.Configuration

	closed  bool
	skipped int
	taken   int
	current interface{}
	err     error
}

func newCursor(rows *sql.Rows, resultMaps []*gobatis.ResultMap, registry *gobatis.TypeHandlerRegistry, bounds gobatis.RowBounds, config *gobatis.Configuration) *Cursor {
	return &Cursor{rows: rows, resultMaps: resultMaps, registry: registry, bounds: bounds, config: config}
}

// Next advances the cursor, projecting the next row into Current. It
// returns false once rows are exhausted, the row-bounds limit is reached,
// or the cursor has been closed.
func (c *Cursor) Next() bool {
	if c.closed || len(c.resultMaps) == 0 {
		return false
	}
	for c.bounds.Offset > 0 && c.skipped < c.bounds.Offset {
		if !c.rows.Next() {
			c.Close()
			return false
		}
		c.skipped++
		if err := discardRow(c.rows); err != nil {
			c.err = err
			c.Close()
			return false
		}
	}
	if c.bounds.Limit >= 0 && c.taken >= c.bounds.Limit {
		c.Close()
		return false
	}
	if !c.rows.Next() {
		c.Close()
		return false
	}

	list, err := resultset.Project(&oneRowRows{rows: c.rows, pending: true}, c.resultMaps, c.registry, resultset.Options{
		Bounds:               gobatis.NoRowBounds,
		AutoMapping:          c.config.Settings.AutoMappingBehavior,
		MapUnderscoreToCamel: c.config.Settings.MapUnderscoreToCamelCase,
		CallSettersOnNulls:   c.config.Settings.CallSettersOnNulls,
		ResolveResultMap:     c.config.GetResultMap,
	})
	if err != nil {
		c.err = err
		c.Close()
		return false
	}
	if len(list) == 0 {
		return false
	}
	c.current = list[0]
	c.taken++
	return true
}

// Current returns the object produced by the most recent Next call.
func (c *Cursor) Current() interface{} { return c.current }

// Err returns the first error encountered during iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the underlying *sql.Rows. Safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

func discardRow(rows *sql.Rows) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	dest := make([]interface{}, len(cols))
	for i := range dest {
		var v interface{}
		dest[i] = &v
	}
	return rows.Scan(dest...)
}

// oneRowRows adapts a *sql.Rows whose Next() has already been called once
// by Cursor.Next so resultset.Project (which drives its own Next() loop)
// sees exactly one pending row, then reports exhaustion without advancing
// the real cursor any further.
type oneRowRows struct {
	rows    *sql.Rows
	pending bool
}

func (o *oneRowRows) Columns() ([]string, error)    { return o.rows.Columns() }
func (o *oneRowRows) Scan(dest ...interface{}) error { return o.rows.Scan(dest...) }
func (o *oneRowRows) Err() error                     { return nil }

func (o *oneRowRows) Next() bool {
	if !o.pending {
		return false
	}
	o.pending = false
	return true
}
