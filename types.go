// Package gobatis is the root of the data-access mapping engine: the
// shared data model (spec.md §3) plus the Configuration that owns every
// registry. It mirrors the role geeorm.Engine plays in the teacher repo,
// generalized from "one struct, one table" to namespaced mapped
// statements, parameter maps, result maps, and cache regions.
package gobatis

import "reflect"

// SqlCommandType distinguishes the four DML kinds plus the cache-flush
// pseudo-statement (spec.md §3 MappedStatement).
type SqlCommandType int

const (
	SqlUnknown SqlCommandType = iota
	SqlInsert
	SqlUpdate
	SqlDelete
	SqlSelect
	SqlFlush
)

// StatementType selects how the statement handler drives the database/sql
// API: Simple (Exec/Query with literal SQL), Prepared (placeholder-bound),
// or Callable (stored procedure, OUT parameters).
type StatementType int

const (
	StatementSimple StatementType = iota
	StatementPrepared
	StatementCallable
)

// LocalCacheScope controls how long the executor's first-level cache
// retains entries.
type LocalCacheScope int

const (
	LocalCacheSession LocalCacheScope = iota
	LocalCacheStatement
)

// AutoMappingBehavior gates automatic column->property mapping in the
// result-set projector (spec.md §4.L).
type AutoMappingBehavior int

const (
	AutoMappingNone AutoMappingBehavior = iota
	AutoMappingPartial
	AutoMappingFull
)

// ParameterMode mirrors JDBC's IN/OUT/INOUT for callable statements.
type ParameterMode int

const (
	ParamIn ParameterMode = iota
	ParamOut
	ParamInOut
)

// ParameterMapping is one #{...} slot of a prepared statement (spec.md §3).
type ParameterMapping struct {
	Property      string
	GoType        reflect.Type
	JdbcType      string
	TypeHandler   string // registry key override, "" means the registry's default handler
	Mode          ParameterMode
	NumericScale  int
	ResultMapID   string // for cursor/ref-cursor OUT parameters
}

// ParameterMap is a named, reusable ParameterMapping list declared by a
// <parameterMap> element and referenced through a statement's parameterMap
// attribute (spec.md §3) — the legacy alternative to inline #{...}
// mappings, for statement text written with bare ? placeholders.
type ParameterMap struct {
	ID       string
	Type     reflect.Type
	Mappings []ParameterMapping
}

// BoundSql is the final per-invocation artifact: prepared-statement text
// with ? placeholders, the ordered parameter mappings, the original
// parameter object, and any additional named bindings <bind>/<foreach>
// produced while rendering.
type BoundSql struct {
	SQL               string
	ParameterMappings []ParameterMapping
	ParameterObject   interface{}
	AdditionalParams  map[string]interface{}
}

// SqlSource produces a BoundSql for one invocation's parameter. The static
// shape clones a prebuilt mapping list; the dynamic shape evaluates a node
// tree then runs the placeholder rewriter (spec.md §3).
type SqlSource interface {
	GetBoundSql(parameter interface{}) (*BoundSql, error)
}

// ResultMapping is one column/property entry inside a ResultMap (spec.md §3).
type ResultMapping struct {
	Property        string
	Column          string
	GoType          reflect.Type
	JdbcType        string
	TypeHandler     string
	IsID            bool
	IsConstructorArg bool
	NestedQueryID    string
	NestedResultMapID string
	NestedResultMap  *ResultMap // resolved pointer; set either inline at parse time or by Configuration once the referenced id registers
	IsCollection     bool
	ElementType      reflect.Type // collection's ofType, when declared
	ResultSet        string
	ForeignColumn    string
	ColumnPrefix     string
	Composites       map[string]string // composite key sub-mappings, e.g. {"id":"pid"}
	NotNullColumns   []string
	Lazy             bool
}

// Discriminator selects a case ResultMap id based on a row's column value.
type Discriminator struct {
	Column    string
	GoType    reflect.Type
	JdbcType  string
	CaseMap   map[string]string // value -> result-map id
}

// ResultMap is a declarative column->property/arg mapping, possibly
// extending a parent map and/or carrying a Discriminator (spec.md §3).
type ResultMap struct {
	ID           string
	Type         reflect.Type
	Extends      string
	Mappings     []ResultMapping
	Discriminator *Discriminator
	AutoMapping  *AutoMappingBehavior // nil means "use Configuration default"

	IDMappings        []ResultMapping
	ConstructorMappings []ResultMapping
	PropertyMappings  []ResultMapping
	MappedColumns     map[string]bool
	MappedProperties  map[string]bool
	HasNestedResultMaps bool
	HasNestedQueries    bool
}

// Partition splits Mappings into the id/constructor/property partitions
// and derives the mapped-column/property sets and nesting flags, per
// spec.md §3's ResultMap derived-state invariant. Called once the map's
// mapping list is final (after extension has been applied).
func (rm *ResultMap) Partition() {
	rm.IDMappings = nil
	rm.ConstructorMappings = nil
	rm.PropertyMappings = nil
	rm.MappedColumns = map[string]bool{}
	rm.MappedProperties = map[string]bool{}
	rm.HasNestedResultMaps = false
	rm.HasNestedQueries = false

	for _, m := range rm.Mappings {
		if m.Column != "" {
			rm.MappedColumns[m.Column] = true
		}
		if m.Property != "" {
			rm.MappedProperties[m.Property] = true
		}
		if m.NestedResultMapID != "" || m.NestedResultMap != nil {
			rm.HasNestedResultMaps = true
		}
		if m.NestedQueryID != "" {
			rm.HasNestedQueries = true
		}
		switch {
		case m.IsID && m.IsConstructorArg:
			rm.ConstructorMappings = append(rm.ConstructorMappings, m)
			rm.IDMappings = append(rm.IDMappings, m)
		case m.IsConstructorArg:
			rm.ConstructorMappings = append(rm.ConstructorMappings, m)
		case m.IsID:
			rm.IDMappings = append(rm.IDMappings, m)
			rm.PropertyMappings = append(rm.PropertyMappings, m)
		default:
			rm.PropertyMappings = append(rm.PropertyMappings, m)
		}
	}
}

// RowBounds restricts a query to a row window: the projector skips
// Offset rows then stops after Limit (spec.md §4.L step 2). Limit < 0
// means unbounded.
type RowBounds struct {
	Offset int
	Limit  int
}

// NoRowBounds is the default: no offset, no limit.
var NoRowBounds = RowBounds{Offset: 0, Limit: -1}

// KeyGenerator pre/post-processes generated primary keys around a write
// statement (spec.md §4.M).
type KeyGenerator interface {
	ProcessBefore(exec StatementExecContext, ms *MappedStatement, parameter interface{}) error
	ProcessAfter(exec StatementExecContext, ms *MappedStatement, parameter interface{}, result interface{}) error
}

// StatementExecContext is the minimal surface key generators need back
// from the statement handler (kept here, not in statement/, to avoid an
// import cycle between gobatis and statement).
type StatementExecContext interface {
	Configuration() *Configuration
	// ExecuteForKeyGenerator runs ms (a <selectKey> auxiliary statement)
	// against parameter and returns its single scalar result.
	ExecuteForKeyGenerator(ms *MappedStatement, parameter interface{}) (interface{}, error)
}

// MappedStatement is the compiled, registered unit for one
// SELECT/INSERT/UPDATE/DELETE/FLUSH, identified as "namespace.id"
// (spec.md §3). Built during parse; immutable thereafter.
type MappedStatement struct {
	ID                string
	CommandType       SqlCommandType
	StatementType     StatementType
	SqlSource         SqlSource
	ParameterType     reflect.Type
	ParameterMap      *ParameterMap
	ResultMaps        []*ResultMap
	FetchSize         int
	Timeout           int
	UseCache          bool
	FlushCacheRequired bool
	ResultOrdered     bool
	DirtySelect       bool
	KeyGenerator      KeyGenerator
	KeyProperties     []string
	KeyColumns        []string
	ResultSets        []string
	Cache             CacheRegion
	LangDriver        string
}

// CacheRegion is the interface the executor/statement layers program
// against; cachelayer.Cache implements it (kept here to avoid an import
// cycle from gobatis -> cachelayer -> gobatis).
type CacheRegion interface {
	ID() string
	GetObject(key interface{}) (interface{}, bool)
	PutObject(key interface{}, value interface{})
	RemoveObject(key interface{}) (interface{}, bool)
	Clear()
	Size() int
}
