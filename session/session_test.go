package session

import (
	"context"
	"database/sql"
	"reflect"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"gobatis"
	"gobatis/executor"
)

type staticSource struct{ sql string }

func (s staticSource) GetBoundSql(param interface{}) (*gobatis.BoundSql, error) {
	return &gobatis.BoundSql{SQL: s.sql, ParameterObject: param}, nil
}

type user struct {
	ID   int64
	Name string
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite3: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO users (id, name) VALUES (1, 'ann'), (2, 'bob')`); err != nil {
		t.Fatalf("seeding table: %v", err)
	}
	return db
}

func newTestSession(t *testing.T, db *sql.DB) *SqlSession {
	t.Helper()
	config := gobatis.NewConfiguration()
	config.EnvironmentID = "test"

	userRM := &gobatis.ResultMap{
		ID:   "users.user",
		Type: reflect.TypeOf(user{}),
		Mappings: []gobatis.ResultMapping{
			{Property: "ID", Column: "id", IsID: true},
			{Property: "Name", Column: "name"},
		},
	}
	userRM.Partition()
	if err := config.AddResultMap(userRM, "users"); err != nil {
		t.Fatalf("registering result map: %v", err)
	}

	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "users.selectAll",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, name FROM users ORDER BY id"},
		ResultMaps:  []*gobatis.ResultMap{userRM},
	})
	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "users.selectByID",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, name FROM users WHERE id = 1"},
		ResultMaps:  []*gobatis.ResultMap{userRM},
	})
	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "users.insert",
		CommandType: gobatis.SqlInsert,
		SqlSource:   staticSource{sql: "INSERT INTO users (id, name) VALUES (3, 'cleo')"},
	})

	// BindMapper resolves a field's statement id as namespace.FieldName;
	// Go exported identifiers are always capitalized, unlike MyBatis'
	// lowerCamelCase interface-method convention, so the mapper-proxy
	// statements below are registered under their capitalized form.
	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "users.SelectAll",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, name FROM users ORDER BY id"},
		ResultMaps:  []*gobatis.ResultMap{userRM},
	})
	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "users.SelectByID",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, name FROM users WHERE id = 1"},
		ResultMaps:  []*gobatis.ResultMap{userRM},
	})
	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "users.Insert",
		CommandType: gobatis.SqlInsert,
		SqlSource:   staticSource{sql: "INSERT INTO users (id, name) VALUES (3, 'cleo')"},
	})
	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "users.SelectAsMap",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, name FROM users ORDER BY id"},
		ResultMaps:  []*gobatis.ResultMap{userRM},
	})

	exec := executor.New(executor.Simple, db, config, gobatis.NewTypeHandlerRegistry(), nil)
	return New(config, exec)
}

func TestSessionSelectListAndOne(t *testing.T) {
	db := openDB(t)
	sess := newTestSession(t, db)

	list, err := sess.SelectList(context.Background(), "users.selectAll", nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d rows, want 2", len(list))
	}

	one, err := sess.SelectOne(context.Background(), "users.selectByID", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := one.(*user)
	if u.ID != 1 || u.Name != "ann" {
		t.Fatalf("got %+v", u)
	}
}

func TestSessionSelectMapProjectsByKey(t *testing.T) {
	db := openDB(t)
	sess := newTestSession(t, db)

	m, err := sess.SelectMap(context.Background(), "users.selectAll", nil, "ID", gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("got %d entries, want 2", len(m))
	}
	u := m[int64(1)].(*user)
	if u.Name != "ann" {
		t.Fatalf("got %+v", u)
	}
}

func TestSessionInsertAndCommandMismatch(t *testing.T) {
	db := openDB(t)
	sess := newTestSession(t, db)

	n, err := sess.Insert(context.Background(), "users.insert", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d rows affected, want 1", n)
	}

	if _, err := sess.Insert(context.Background(), "users.selectAll", nil); err == nil {
		t.Fatalf("expected BindingError calling Insert on a SELECT statement")
	}
}

func TestAssembleParamsSingleUnnamedScalar(t *testing.T) {
	got := AssembleParams([]interface{}{int64(7)}, []string{""})
	if got != int64(7) {
		t.Fatalf("got %v, want 7", got)
	}
}

func TestAssembleParamsSingleUnnamedSliceWrapsCollection(t *testing.T) {
	got := AssembleParams([]interface{}{[]int{1, 2, 3}}, []string{""})
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a map, got %T", got)
	}
	if _, ok := m["collection"]; !ok {
		t.Fatalf("missing collection key: %+v", m)
	}
	if _, ok := m["list"]; !ok {
		t.Fatalf("missing list key: %+v", m)
	}
}

func TestAssembleParamsMultipleNamedAndPositional(t *testing.T) {
	got := AssembleParams([]interface{}{int64(1), "ann"}, []string{"id", "name"})
	m := got.(map[string]interface{})
	if m["id"] != int64(1) || m["name"] != "ann" {
		t.Fatalf("got %+v", m)
	}
	if m["param1"] != int64(1) || m["param2"] != "ann" {
		t.Fatalf("missing positional aliases: %+v", m)
	}
}

type userMapper struct {
	SelectAll   func(ctx context.Context) ([]*user, error)
	SelectByID  func(ctx context.Context) (*user, error)
	Insert      func(ctx context.Context) (int64, error)
	SelectAsMap func(ctx context.Context) (map[int64]*user, error) `gobatismapkey:"ID"`
}

func TestBindMapperDispatchesByFieldName(t *testing.T) {
	db := openDB(t)
	sess := newTestSession(t, db)

	var m userMapper
	if err := BindMapper(sess, "users", &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := m.SelectAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d rows, want 2", len(list))
	}

	one, err := m.SelectByID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if one.Name != "ann" {
		t.Fatalf("got %+v", one)
	}

	n, err := m.Insert(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}

	byID, err := m.SelectAsMap(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byID) != 3 || byID[int64(1)].Name != "ann" {
		t.Fatalf("got %+v", byID)
	}
}

// A bound field whose statement id never registers parks on the
// incomplete-methods queue and fails the ResolveIncomplete pass; a
// late-registered statement clears the check (spec.md §4.G).
func TestBindMapperUnboundStatementFailsResolveIncomplete(t *testing.T) {
	config := gobatis.NewConfiguration()
	sess := New(config, nil)

	var m struct {
		Missing func() error
		Late    func() error
	}
	if err := BindMapper(sess, "ns", &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	config.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "ns.Late",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT 1"},
	})

	errs := config.ResolveIncomplete()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
}
