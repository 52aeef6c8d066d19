package statement

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"gobatis"
	"gobatis/keygen"
)

// literalSource is a minimal gobatis.SqlSource: no placeholders, no
// dynamic rendering, just the literal SQL and parameter mappings handed
// back unchanged — enough to drive Update/Query against a mocked
// *sql.DB without pulling in the builder/sqlnode packages.
type literalSource struct {
	sql      string
	mappings []gobatis.ParameterMapping
}

func (s literalSource) GetBoundSql(param interface{}) (*gobatis.BoundSql, error) {
	return &gobatis.BoundSql{SQL: s.sql, ParameterMappings: s.mappings, ParameterObject: param}, nil
}

func TestUpdateBindsArgsInOrderAgainstMockedPreparedStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	defer db.Close()

	ms := &gobatis.MappedStatement{
		ID:          "users.insert",
		CommandType: gobatis.SqlInsert,
		SqlSource: literalSource{
			sql: "INSERT INTO users (id, name) VALUES (?, ?)",
			mappings: []gobatis.ParameterMapping{
				{Property: "ID"}, {Property: "Name"},
			},
		},
	}
	type user struct {
		ID   int64
		Name string
	}
	param := user{ID: 7, Name: "ann"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, name) VALUES (?, ?)")).
		WithArgs(int64(7), "ann").
		WillReturnResult(sqlmock.NewResult(7, 1))

	n, err := Update(context.Background(), db, nil, ms, param, gobatis.NewTypeHandlerRegistry(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d rows affected, want 1", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateAppliesJdbc3KeyGeneratorFromMockedResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	defer db.Close()

	ms := &gobatis.MappedStatement{
		ID:          "users.insert",
		CommandType: gobatis.SqlInsert,
		SqlSource: literalSource{
			sql: "INSERT INTO users (name) VALUES (?)",
			mappings: []gobatis.ParameterMapping{
				{Property: "Name"},
			},
		},
		KeyGenerator:  keygen.Jdbc3KeyGenerator{KeyProperties: []string{"ID"}},
		KeyProperties: []string{"ID"},
	}
	type user struct {
		ID   int64
		Name string
	}
	param := &user{Name: "cleo"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (name) VALUES (?)")).
		WithArgs("cleo").
		WillReturnResult(sqlmock.NewResult(42, 1))

	if _, err := Update(context.Background(), db, nil, ms, param, gobatis.NewTypeHandlerRegistry(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.ID != 42 {
		t.Fatalf("got ID %d, want the mocked LastInsertId 42", param.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryBindsArgsAgainstMockedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	defer db.Close()

	ms := &gobatis.MappedStatement{
		ID:          "users.selectByID",
		CommandType: gobatis.SqlSelect,
		SqlSource: literalSource{
			sql:      "SELECT id, name FROM users WHERE id = ?",
			mappings: []gobatis.ParameterMapping{{Property: "_parameter"}},
		},
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users WHERE id = ?")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(3, "dee"))

	rows, bound, err := Query(context.Background(), db, ms, int64(3), gobatis.NewTypeHandlerRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rows.Close()
	if bound.SQL != ms.SqlSource.(literalSource).sql {
		t.Fatalf("got bound SQL %q", bound.SQL)
	}
	if !rows.Next() {
		t.Fatalf("expected one row")
	}
	var id int64
	var name string
	if err := rows.Scan(&id, &name); err != nil {
		t.Fatalf("scanning row: %v", err)
	}
	if id != 3 || name != "dee" {
		t.Fatalf("got (%d, %q)", id, name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
