package builder

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"gobatis"
	"gobatis/executor"
)

type widget struct {
	ID   int64
	Name string
}

func openWidgetsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite3: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	return db
}

// TestStmtSelectAutoMapsResultType exercises the @Select+@Options-style
// declaration path end to end against a real sqlite3 executor: no XML
// document is parsed at all, only Stmt builder calls.
func TestStmtSelectAutoMapsResultType(t *testing.T) {
	db := openWidgetsDB(t)
	if _, err := db.Exec(`INSERT INTO widgets (id, name) VALUES (1, 'cog')`); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	ms := Select("widgets.selectByID", "SELECT id, name FROM widgets WHERE id = 1").
		ResultType(widget{}).
		Build()

	cfg := gobatis.NewConfiguration()
	cfg.AddMappedStatement(ms)

	exec := executor.New(executor.Simple, db, cfg, gobatis.NewTypeHandlerRegistry(), nil)
	rows, err := exec.Query(context.Background(), ms, nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	w := rows[0].(*widget)
	if w.ID != 1 || w.Name != "cog" {
		t.Fatalf("got %+v", w)
	}
}

// TestStmtInsertWithOptionsAppliesGeneratedKey exercises the
// @Insert+@Options(useGeneratedKeys=true) path: the builder wires a
// Jdbc3KeyGenerator the same way MapperBuilder would for a `<insert
// useGeneratedKeys="true" keyProperty="ID">` element.
func TestStmtInsertWithOptionsAppliesGeneratedKey(t *testing.T) {
	db := openWidgetsDB(t)

	ms := Insert("widgets.insert", "INSERT INTO widgets (name) VALUES ('gear')").
		Options(true, "ID").
		Build()

	cfg := gobatis.NewConfiguration()
	cfg.AddMappedStatement(ms)

	exec := executor.New(executor.Simple, db, cfg, gobatis.NewTypeHandlerRegistry(), nil)
	param := &widget{Name: "gear"}
	if _, err := exec.Update(context.Background(), ms, param); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.ID == 0 {
		t.Fatalf("expected generated key to be applied, got %+v", param)
	}
}

// TestStmtResultsAppliesExplicitMapping exercises the @Results/@Result
// path, mapping a renamed column explicitly rather than relying on
// auto-mapping.
func TestStmtResultsAppliesExplicitMapping(t *testing.T) {
	db := openWidgetsDB(t)
	if _, err := db.Exec(`INSERT INTO widgets (id, name) VALUES (5, 'bolt')`); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	ms := Select("widgets.selectRenamed", "SELECT id AS widget_id, name FROM widgets WHERE id = 5").
		Results(widget{},
			gobatis.ResultMapping{Property: "ID", Column: "widget_id", IsID: true},
			gobatis.ResultMapping{Property: "Name", Column: "name"},
		).
		Build()

	cfg := gobatis.NewConfiguration()
	cfg.AddMappedStatement(ms)

	exec := executor.New(executor.Simple, db, cfg, gobatis.NewTypeHandlerRegistry(), nil)
	rows, err := exec.Query(context.Background(), ms, nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	w := rows[0].(*widget)
	if w.ID != 5 || w.Name != "bolt" {
		t.Fatalf("got %+v", w)
	}
}

// TestStmtSelectKeyRunsAuxiliaryStatementBefore exercises the
// @SelectKey(before=true)-style path against a sequence-like auxiliary
// select, mirroring databases without RETURNING/LastInsertId support.
func TestStmtSelectKeyRunsAuxiliaryStatementBefore(t *testing.T) {
	db := openWidgetsDB(t)
	if _, err := db.Exec(`CREATE TABLE widget_seq (next INTEGER)`); err != nil {
		t.Fatalf("creating sequence table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO widget_seq (next) VALUES (100)`); err != nil {
		t.Fatalf("seeding sequence: %v", err)
	}

	// ExecuteForKeyGenerator scans the auxiliary statement's single column
	// directly (it never runs result-map mapping), so no ResultType call
	// is needed here — only the literal SQL matters.
	seqStmt := Select("widgets.nextID", "SELECT next FROM widget_seq").Build()

	insertStmt := Insert("widgets.insertWithKey", "INSERT INTO widgets (id, name) VALUES (100, 'nut')").
		SelectKey(seqStmt, "ID", true).
		Build()

	cfg := gobatis.NewConfiguration()
	cfg.AddMappedStatement(seqStmt)
	cfg.AddMappedStatement(insertStmt)

	exec := executor.New(executor.Simple, db, cfg, gobatis.NewTypeHandlerRegistry(), nil)
	param := &widget{Name: "nut"}
	if _, err := exec.Update(context.Background(), insertStmt, param); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.ID != 100 {
		t.Fatalf("got ID %d, want 100 from the auxiliary select", param.ID)
	}
}
