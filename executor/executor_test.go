package executor

import (
	"context"
	"database/sql"
	"reflect"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"gobatis"
	"gobatis/reflectx"
)

// staticSource is a minimal gobatis.SqlSource for tests: no placeholders,
// no dynamic rendering, just the literal SQL handed back unchanged.
type staticSource struct {
	sql string
}

func (s staticSource) GetBoundSql(param interface{}) (*gobatis.BoundSql, error) {
	return &gobatis.BoundSql{SQL: s.sql, ParameterObject: param}, nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("opening sqlite3: %v", err)
	}
	// A bare ":memory:" DSN gives each new pooled connection its own
	// private database, so a nested query that grabs a second connection
	// while the outer query's Rows are still open would see none of the
	// tables created below. A named shared-cache in-memory database lets
	// every pooled connection of this test see the same tables.
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO users (id, name) VALUES (1, 'ann'), (2, 'bob')`); err != nil {
		t.Fatalf("seeding table: %v", err)
	}
	return db
}

func testConfig() *gobatis.Configuration {
	c := gobatis.NewConfiguration()
	c.EnvironmentID = "test-env"
	return c
}

type user struct {
	ID   int64
	Name string
}

func selectUsersStatement() *gobatis.MappedStatement {
	rm := &gobatis.ResultMap{
		ID:   "user",
		Type: reflect.TypeOf(user{}),
		Mappings: []gobatis.ResultMapping{
			{Property: "ID", Column: "id", IsID: true},
			{Property: "Name", Column: "name"},
		},
	}
	rm.Partition()
	return &gobatis.MappedStatement{
		ID:          "users.selectAll",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, name FROM users ORDER BY id"},
		ResultMaps:  []*gobatis.ResultMap{rm},
	}
}

func insertUserStatement() *gobatis.MappedStatement {
	return &gobatis.MappedStatement{
		ID:          "users.insert",
		CommandType: gobatis.SqlInsert,
		SqlSource:   staticSource{sql: "INSERT INTO users (id, name) VALUES (3, 'cleo')"},
	}
}

func TestExecutorQueryMaterializesRows(t *testing.T) {
	db := openTestDB(t)
	exec := New(Simple, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)

	list, err := exec.Query(context.Background(), selectUsersStatement(), nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d rows, want 2", len(list))
	}
	u := list[0].(*user)
	if u.ID != 1 || u.Name != "ann" {
		t.Fatalf("got %+v", u)
	}
}

func TestExecutorQueryHitsLocalCacheOnSecondCall(t *testing.T) {
	db := openTestDB(t)
	exec := New(Simple, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)
	ms := selectUsersStatement()

	first, err := exec.Query(context.Background(), ms, nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO users (id, name) VALUES (9, 'new')`); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	second, err := exec.Query(context.Background(), ms, nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("expected cached result of %d rows, got %d", len(first), len(second))
	}
}

func TestExecutorUpdateClearsLocalCache(t *testing.T) {
	db := openTestDB(t)
	exec := New(Simple, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)
	ms := selectUsersStatement()

	if _, err := exec.Query(context.Background(), ms, nil, gobatis.NoRowBounds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := exec.Update(context.Background(), insertUserStatement(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := exec.Query(context.Background(), ms, nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d rows after update, want 3 (cache should have been cleared)", len(list))
	}
}

func TestExecutorBatchQueuesWritesUntilFlush(t *testing.T) {
	db := openTestDB(t)
	exec := New(Batch, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)

	n, err := exec.Update(context.Background(), insertUserStatement(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("batch update should report 0 immediately, got %d", n)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 2 {
		t.Fatalf("batch write ran before flush: count=%d", count)
	}

	results, err := exec.FlushStatements(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	if err := db.QueryRow(`SELECT count(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 3 {
		t.Fatalf("flush did not run the queued write: count=%d", count)
	}
}

func TestExecutorBatchFlushesOnQuery(t *testing.T) {
	db := openTestDB(t)
	exec := New(Batch, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)

	if _, err := exec.Update(context.Background(), insertUserStatement(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := exec.Query(context.Background(), selectUsersStatement(), nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("select should observe the flushed write, got %d rows", len(list))
	}
}

func TestExecutorReuseRunsAgainstPreparedStatement(t *testing.T) {
	db := openTestDB(t)
	exec := New(Reuse, db, testConfig(), gobatis.NewTypeHandlerRegistry(), db)

	list, err := exec.Query(context.Background(), selectUsersStatement(), nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d rows, want 2", len(list))
	}

	rc, ok := exec.conn.(*reuseConn)
	if !ok {
		t.Fatalf("expected Reuse executor to wrap conn in *reuseConn, got %T", exec.conn)
	}
	if len(rc.stmts) != 1 {
		t.Fatalf("expected one cached prepared statement, got %d", len(rc.stmts))
	}

	if err := exec.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}
	if len(rc.stmts) != 0 {
		t.Fatalf("expected Close to release cached statements, got %d remaining", len(rc.stmts))
	}
}

func TestExecutorCommitAndRollbackUseUnderlyingTx(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("beginning tx: %v", err)
	}
	exec := New(Simple, tx, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)

	if _, err := exec.Update(context.Background(), insertUserStatement(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := exec.Commit(context.Background(), true); err != nil {
		t.Fatalf("unexpected error committing: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 3 {
		t.Fatalf("commit did not persist the write: count=%d", count)
	}
}

func TestExecutorClosedRejectsFurtherCalls(t *testing.T) {
	db := openTestDB(t)
	exec := New(Simple, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)
	if err := exec.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := exec.Query(context.Background(), selectUsersStatement(), nil, gobatis.NoRowBounds); err == nil {
		t.Fatalf("expected error querying a closed executor")
	}
}

func TestDeferLoadSetsImmediatelyWhenValueAlreadyMaterialized(t *testing.T) {
	db := openTestDB(t)
	exec := New(Simple, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)

	type holder struct{ Name string }
	h := &holder{}
	meta := reflectx.Wrap(h)

	key := CacheKey("some-key")
	exec.local.Put(key, "already-loaded")

	if err := exec.DeferLoad(key, meta, "Name"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Name != "already-loaded" {
		t.Fatalf("expected immediate Set, got %+v", h)
	}
}

func TestDeferLoadQueuesWhilePlaceholderThenDrains(t *testing.T) {
	db := openTestDB(t)
	exec := New(Simple, db, testConfig(), gobatis.NewTypeHandlerRegistry(), nil)

	type holder struct{ Name string }
	h := &holder{}
	meta := reflectx.Wrap(h)

	key := CacheKey("in-flight")
	exec.local.Put(key, Placeholder)

	if err := exec.DeferLoad(key, meta, "Name"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Name != "" {
		t.Fatalf("Set should not have run yet: %+v", h)
	}

	exec.local.Put(key, "resolved")
	exec.drainDeferred()

	if h.Name != "resolved" {
		t.Fatalf("expected drainDeferred to apply the resolved value, got %+v", h)
	}
}

// countingInterceptor counts how many times it intercepted a call and
// always proceeds, letting the real executor logic run underneath it.
type countingInterceptor struct {
	queryCalls  int
	updateCalls int
}

func (c *countingInterceptor) Intercept(inv gobatis.Invocation) (interface{}, error) {
	switch inv.Method {
	case "Query":
		c.queryCalls++
	case "Update":
		c.updateCalls++
	}
	return inv.Proceed()
}

func (c *countingInterceptor) Signatures() []gobatis.Signature {
	return []gobatis.Signature{
		{Target: gobatis.TargetExecutor, Method: "Query"},
		{Target: gobatis.TargetExecutor, Method: "Update"},
	}
}

// blog and author model the cyclic graph spec.md §9 uses as its worked
// example: a blog nests its author, and that author nests its own
// "latest blog" — which, for this fixture, is the same blog row, forcing
// the executor's cycle-breaking deferred-load path to actually run.
type blog struct {
	ID       int64
	Title    string
	AuthorID int64
	Author   *author
}

type author struct {
	ID           int64
	Name         string
	LatestBlogID int64
	LatestBlog   *blog
}

func cyclicGraphConfig() *gobatis.Configuration {
	blogRM := &gobatis.ResultMap{
		ID:   "blog",
		Type: reflect.TypeOf(blog{}),
		Mappings: []gobatis.ResultMapping{
			{Property: "ID", Column: "id", IsID: true},
			{Property: "Title", Column: "title"},
			{Property: "AuthorID", Column: "author_id"},
			{Property: "Author", Column: "author_id", NestedQueryID: "authors.selectByID"},
		},
	}
	blogRM.Partition()

	authorRM := &gobatis.ResultMap{
		ID:   "author",
		Type: reflect.TypeOf(author{}),
		Mappings: []gobatis.ResultMapping{
			{Property: "ID", Column: "id", IsID: true},
			{Property: "Name", Column: "name"},
			{Property: "LatestBlogID", Column: "latest_blog_id"},
			{Property: "LatestBlog", Column: "latest_blog_id", NestedQueryID: "blogs.selectByID"},
		},
	}
	authorRM.Partition()

	cfg := testConfig()
	cfg.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "blogs.selectByID",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, title, author_id FROM blogs WHERE id = :1"},
		ResultMaps:  []*gobatis.ResultMap{blogRM},
	})
	cfg.AddMappedStatement(&gobatis.MappedStatement{
		ID:          "authors.selectByID",
		CommandType: gobatis.SqlSelect,
		SqlSource:   staticSource{sql: "SELECT id, name, latest_blog_id FROM authors WHERE id = :1"},
		ResultMaps:  []*gobatis.ResultMap{authorRM},
	})
	return cfg
}

// placeholderParamSource renders its SQL verbatim and substitutes ":1"
// for the bound scalar parameter, enough to exercise real queries against
// sqlite3 without pulling in the full #{...} parser this test doesn't
// need.
type placeholderParamSource struct{ sql string }

func (s placeholderParamSource) GetBoundSql(param interface{}) (*gobatis.BoundSql, error) {
	return &gobatis.BoundSql{
		SQL:               strings.Replace(s.sql, ":1", "?", 1),
		ParameterMappings: []gobatis.ParameterMapping{{Property: "_parameter"}},
		ParameterObject:   param,
	}, nil
}

func TestExecutorResolvesCyclicNestedQueryThroughDeferredLoad(t *testing.T) {
	db := openTestDB(t)
	for _, stmt := range []string{
		`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT, latest_blog_id INTEGER)`,
		`CREATE TABLE blogs (id INTEGER PRIMARY KEY, title TEXT, author_id INTEGER)`,
		`INSERT INTO blogs (id, title, author_id) VALUES (1, 'first post', 10)`,
		`INSERT INTO authors (id, name, latest_blog_id) VALUES (10, 'ann', 1)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seeding cyclic fixture (%q): %v", stmt, err)
		}
	}

	cfg := cyclicGraphConfig()
	ms, _ := cfg.GetMappedStatement("blogs.selectByID")
	ms.SqlSource = placeholderParamSource{sql: ms.SqlSource.(staticSource).sql}
	authorsMs, _ := cfg.GetMappedStatement("authors.selectByID")
	authorsMs.SqlSource = placeholderParamSource{sql: authorsMs.SqlSource.(staticSource).sql}

	exec := New(Simple, db, cfg, gobatis.NewTypeHandlerRegistry(), nil)

	list, err := exec.Query(context.Background(), ms, int64(1), gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d rows, want 1", len(list))
	}
	b := list[0].(*blog)
	if b.Title != "first post" {
		t.Fatalf("got %+v", b)
	}
	if b.Author == nil || b.Author.Name != "ann" {
		t.Fatalf("expected nested Author to resolve, got %+v", b.Author)
	}
	// The cyclic leg: author.LatestBlog points back at the same blog row
	// this query started with, so it can only resolve once the outer
	// query's local-cache entry stops being a Placeholder — i.e. through
	// drainDeferred, not the inline nested-query path.
	if b.Author.LatestBlog == nil {
		t.Fatalf("expected deferred load to resolve Author.LatestBlog, got nil")
	}
	if b.Author.LatestBlog.Title != "first post" {
		t.Fatalf("got LatestBlog %+v", b.Author.LatestBlog)
	}
}

func TestExecutorRunsRegisteredInterceptors(t *testing.T) {
	db := openTestDB(t)
	config := testConfig()
	interceptor := &countingInterceptor{}
	config.AddInterceptor(interceptor)
	exec := New(Simple, db, config, gobatis.NewTypeHandlerRegistry(), nil)

	if _, err := exec.Query(context.Background(), selectUsersStatement(), nil, gobatis.NoRowBounds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := exec.Update(context.Background(), insertUserStatement(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if interceptor.queryCalls != 1 {
		t.Fatalf("got %d query interceptions, want 1", interceptor.queryCalls)
	}
	if interceptor.updateCalls != 1 {
		t.Fatalf("got %d update interceptions, want 1", interceptor.updateCalls)
	}
}

// joinPointInterceptor records which of the four target kinds it was
// invoked through, always proceeding (spec.md §8 property 7: an
// interceptor that calls through must leave behavior unchanged).
type joinPointInterceptor struct {
	hits map[gobatis.TargetKind]int
}

func (j *joinPointInterceptor) Intercept(inv gobatis.Invocation) (interface{}, error) {
	j.hits[inv.Target]++
	return inv.Proceed()
}

func (j *joinPointInterceptor) Signatures() []gobatis.Signature {
	return []gobatis.Signature{
		{Target: gobatis.TargetExecutor, Method: "Query"},
		{Target: gobatis.TargetStatementHandler, Method: "Query"},
		{Target: gobatis.TargetParameterHandler, Method: "SetParameters"},
		{Target: gobatis.TargetResultSetHandler, Method: "HandleResultSets"},
	}
}

func TestInterceptorsFireAtAllFourJoinPoints(t *testing.T) {
	db := openTestDB(t)
	config := testConfig()
	ic := &joinPointInterceptor{hits: map[gobatis.TargetKind]int{}}
	config.AddInterceptor(ic)
	exec := New(Simple, db, config, gobatis.NewTypeHandlerRegistry(), nil)

	list, err := exec.Query(context.Background(), selectUsersStatement(), nil, gobatis.NoRowBounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("interceptor changed the result: got %d rows, want 2", len(list))
	}

	for _, kind := range []gobatis.TargetKind{
		gobatis.TargetExecutor,
		gobatis.TargetStatementHandler,
		gobatis.TargetParameterHandler,
		gobatis.TargetResultSetHandler,
	} {
		if ic.hits[kind] == 0 {
			t.Fatalf("join point %v never fired (hits: %v)", kind, ic.hits)
		}
	}
}
