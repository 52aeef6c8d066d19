package builder

import (
	"reflect"

	"gobatis"
	"gobatis/keygen"
)

// literalStmtSource is the SqlSource behind a Stmt: its SQL text is
// returned unchanged, with no parameter mappings, for every parameter.
type literalStmtSource struct{ sql string }

func (s literalStmtSource) GetBoundSql(param interface{}) (*gobatis.BoundSql, error) {
	return &gobatis.BoundSql{SQL: s.sql, ParameterObject: param}, nil
}

// Stmt is a fluent builder for declaring one mapped statement directly in
// Go code instead of XML — the struct-tag/builder substitute spec.md §6
// calls for in place of Java's annotation-based declarations
// (@Select/@Insert/@Update/@Delete, @Options, @SelectKey,
// @Results/@Result). Go has no annotations to attach to an interface
// method, so the same information an annotated method would carry is
// assembled through chained calls instead; Build() produces the same
// *gobatis.MappedStatement shape MapperBuilder.buildStatement produces
// from a parsed `<select>`/`<insert>`/`<update>`/`<delete>` element, so
// callers can freely mix annotation-style and XML-declared statements in
// one Configuration.
//
// Stmt accumulates one statement's declaration; obtain one with Select,
// Insert, Update, or Delete.
type Stmt struct {
	ms *gobatis.MappedStatement
}

func newStmt(id string, cmd gobatis.SqlCommandType, sql string) *Stmt {
	return &Stmt{ms: &gobatis.MappedStatement{
		ID:                 id,
		CommandType:        cmd,
		StatementType:      gobatis.StatementPrepared,
		SqlSource:          literalStmtSource{sql: sql},
		UseCache:           cmd == gobatis.SqlSelect,
		FlushCacheRequired: cmd != gobatis.SqlSelect,
		KeyGenerator:       keygen.NoKeyGenerator{},
	}}
}

// Select declares a @Select-equivalent: a SELECT statement over literal
// SQL (no dynamic node tree — use a mapper XML document via MapperBuilder
// when the statement needs <if>/<foreach>/etc).
func Select(id, sql string) *Stmt { return newStmt(id, gobatis.SqlSelect, sql) }

// Insert declares an @Insert-equivalent.
func Insert(id, sql string) *Stmt { return newStmt(id, gobatis.SqlInsert, sql) }

// Update declares an @Update-equivalent.
func Update(id, sql string) *Stmt { return newStmt(id, gobatis.SqlUpdate, sql) }

// Delete declares an @Delete-equivalent.
func Delete(id, sql string) *Stmt { return newStmt(id, gobatis.SqlDelete, sql) }

// Flush declares a @Flush-equivalent: a pseudo-statement with no SQL of
// its own whose invocation flushes a Batch executor's queued writes.
func Flush(id string) *Stmt { return newStmt(id, gobatis.SqlFlush, "") }

// ParameterType declares the Go type parameters bind against (mirrors the
// XML `parameterType` attribute; mostly documentation in a reflect-typed
// engine, since BindArgs navigates the parameter object directly).
func (s *Stmt) ParameterType(sample interface{}) *Stmt {
	s.ms.ParameterType = reflect.TypeOf(sample)
	return s
}

// ResultType declares a fully auto-mapped result (the @Select equivalent
// of XML's `resultType`): every column maps to the same-named field, with
// AutoMappingFull forced regardless of the Configuration-wide default,
// matching attachResultMaps' XML resultType behavior.
func (s *Stmt) ResultType(sample interface{}) *Stmt {
	full := gobatis.AutoMappingFull
	rm := &gobatis.ResultMap{ID: s.ms.ID + "-inline", Type: reflect.TypeOf(sample), AutoMapping: &full}
	rm.Partition()
	s.ms.ResultMaps = append(s.ms.ResultMaps, rm)
	return s
}

// Results declares an explicit @Results/@Result-equivalent column-to-
// property mapping set, for statements that need ID flags, nested
// queries, or column renames beyond what auto-mapping gives.
func (s *Stmt) Results(sample interface{}, mappings ...gobatis.ResultMapping) *Stmt {
	rm := &gobatis.ResultMap{ID: s.ms.ID + "-inline", Type: reflect.TypeOf(sample), Mappings: mappings}
	rm.Partition()
	s.ms.ResultMaps = append(s.ms.ResultMaps, rm)
	return s
}

// Options declares an @Options-equivalent: useGeneratedKeys wires a
// Jdbc3KeyGenerator (spec.md §4.M) over keyProperties, reading back
// sql.Result.LastInsertId() after the insert executes.
func (s *Stmt) Options(useGeneratedKeys bool, keyProperties ...string) *Stmt {
	if useGeneratedKeys {
		s.ms.KeyGenerator = keygen.Jdbc3KeyGenerator{KeyProperties: keyProperties}
		s.ms.KeyProperties = keyProperties
	}
	return s
}

// SelectKey declares an @SelectKey-equivalent: before (order=BEFORE) or
// after the main statement, run aux (typically a dialect-specific
// sequence/last-insert-id query) and store its scalar result under
// keyProperty.
func (s *Stmt) SelectKey(aux *gobatis.MappedStatement, keyProperty string, before bool) *Stmt {
	s.ms.KeyGenerator = &keygen.SelectKeyGenerator{Statement: aux, KeyProperty: keyProperty, Before: before}
	s.ms.KeyProperties = []string{keyProperty}
	return s
}

// Timeout overrides the statement-level timeout, in seconds.
func (s *Stmt) Timeout(seconds int) *Stmt {
	s.ms.Timeout = seconds
	return s
}

// FetchSize sets a driver fetch-size hint (spec.md §4.K); most
// database/sql drivers ignore it, but it is carried through for drivers
// (and cursor callers) that respect it.
func (s *Stmt) FetchSize(n int) *Stmt {
	s.ms.FetchSize = n
	return s
}

// Cache attaches a shared cache region, the @Options(useCache=...)
// equivalent pointed at an already-built region rather than a `<cache>`
// element (annotation-style mappers have no XML cache declaration to
// reference).
func (s *Stmt) Cache(region gobatis.CacheRegion) *Stmt {
	s.ms.Cache = region
	s.ms.UseCache = true
	return s
}

// Build finalizes the statement. It does not register it — callers pass
// the result to Configuration.AddMappedStatement, same as a parsed XML
// statement would be.
func (s *Stmt) Build() *gobatis.MappedStatement {
	return s.ms
}
