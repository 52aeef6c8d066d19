package statement

import (
	"database/sql"
	"reflect"
	"testing"

	"gobatis"
)

func TestBindArgsResolvesFromParameterObject(t *testing.T) {
	type user struct {
		ID   int
		Name string
	}
	bound := &gobatis.BoundSql{
		SQL: "SELECT * FROM u WHERE id = ? AND name = ?",
		ParameterMappings: []gobatis.ParameterMapping{
			{Property: "ID"},
			{Property: "Name"},
		},
		ParameterObject: user{ID: 7, Name: "ann"},
	}
	registry := gobatis.NewTypeHandlerRegistry()

	args, _, err := BindArgs(bound, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 2 || args[0] != int64(7) || args[1] != "ann" {
		t.Fatalf("got %v", args)
	}
}

func TestBindArgsPrefersAdditionalBindings(t *testing.T) {
	bound := &gobatis.BoundSql{
		SQL: "SELECT * FROM t WHERE id = ?",
		ParameterMappings: []gobatis.ParameterMapping{
			{Property: "__frch_i_0"},
		},
		ParameterObject:  map[string]interface{}{"ids": []int{1, 2, 3}},
		AdditionalParams: map[string]interface{}{"__frch_i_0": 1},
	}
	registry := gobatis.NewTypeHandlerRegistry()

	args, _, err := BindArgs(bound, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 1 || args[0] != int64(1) {
		t.Fatalf("got %v", args)
	}
}

// TestBindArgsWrapsOutParameterInSqlOut exercises spec.md §4.K's
// callable-statement binding: a ParamOut mapping is wrapped in a sql.Out
// instead of bound as a plain positional value, and the value a driver
// writes into that sql.Out's Dest is what applyOutBindings copies back
// onto the parameter object. go-sqlite3 (this engine's own test driver)
// never actually writes through such a destination — SQLite has no
// stored procedures — so the "driver writes back" step is simulated
// directly here rather than round-tripped through a real connection.
func TestBindArgsWrapsOutParameterInSqlOut(t *testing.T) {
	type params struct {
		CustomerID int64
		Total      int64
	}
	bound := &gobatis.BoundSql{
		SQL: "{call total_orders(?, ?)}",
		ParameterMappings: []gobatis.ParameterMapping{
			{Property: "CustomerID"},
			{Property: "Total", Mode: gobatis.ParamOut, GoType: reflect.TypeOf(int64(0))},
		},
		ParameterObject: params{CustomerID: 7},
	}
	registry := gobatis.NewTypeHandlerRegistry()

	args, outs, err := BindArgs(bound, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 2 || args[0] != int64(7) {
		t.Fatalf("got args %v", args)
	}
	out, ok := args[1].(sql.Out)
	if !ok {
		t.Fatalf("arg 1 is %T, want sql.Out", args[1])
	}
	if len(outs) != 1 {
		t.Fatalf("got %d outBindings, want 1", len(outs))
	}

	// Simulate a capable driver (e.g. sqlserver/godror) writing its OUT
	// value into the destination ExecContext was handed.
	*(out.Dest.(*int64)) = 42

	res := &params{}
	bound.ParameterObject = res
	if err := applyOutBindings(outs, bound, registry); err != nil {
		t.Fatalf("applying out bindings: %v", err)
	}
	if res.Total != 42 {
		t.Fatalf("got Total %d, want 42 from the OUT binding", res.Total)
	}
}

func TestResolveTimeoutPrefersSmaller(t *testing.T) {
	ms := &gobatis.MappedStatement{Timeout: 30}
	if got := ResolveTimeout(ms, 10); got.Seconds() != 10 {
		t.Fatalf("got %v, want 10s", got)
	}
	ms2 := &gobatis.MappedStatement{Timeout: 5}
	if got := ResolveTimeout(ms2, 10); got.Seconds() != 5 {
		t.Fatalf("got %v, want 5s", got)
	}
}
