package graphdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/cypher"
	"github.com/orneryd/nornicgraph/pkg/result"
	"github.com/orneryd/nornicgraph/pkg/storage"
	"github.com/orneryd/nornicgraph/pkg/txsession"
)

func memoryFactory(name string) (storage.Engine, error) {
	return storage.NewBadgerEngineInMemory()
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(NewCatalog("", []string{"other"}, memoryFactory, nil), opts...)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	engine, err := storage.NewBadgerEngineInMemory()
	require.NoError(t, err)
	db := New("neo4j", engine, nil)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var coded *Error
	require.ErrorAs(t, err, &coded)
	return coded.Code
}

func TestBookmarkFormat(t *testing.T) {
	b := FormatBookmark("neo4j", 42)
	assert.Equal(t, "nornicgraph:neo4j:42", b)

	name, clock, err := ParseBookmark(b)
	require.NoError(t, err)
	assert.Equal(t, "neo4j", name)
	assert.Equal(t, int64(42), clock)

	name, _, err = ParseBookmark("nornicgraph:my:db:7")
	require.NoError(t, err)
	assert.Equal(t, "my:db", name, "the clock is the last segment")

	for _, bad := range []string{"", "neo4j:1", "nornicgraph:neo4j", "nornicgraph::3", "nornicgraph:neo4j:x", "nornicgraph:neo4j:-1"} {
		_, _, err := ParseBookmark(bad)
		assert.ErrorIs(t, err, ErrInvalidBookmark, bad)
	}
}

func TestDB_ExecuteAdvancesClockOnWrites(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	assert.Equal(t, "nornicgraph:neo4j:0", db.Bookmark())

	res, err := db.Execute(ctx, "CREATE (n:Person {name: 'Alice'})", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"nornicgraph:neo4j:1"}, res.Bookmarks)
	assert.Equal(t, "neo4j", res.Summary.Database)

	res, err = db.Execute(ctx, "MATCH (n:Person) RETURN n.name AS name", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"nornicgraph:neo4j:1"}, res.Bookmarks, "reads leave the clock alone")
	assert.Equal(t, int64(1), db.Clock())
}

func TestDB_ExecuteIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.Execute(ctx, "CREATE (n:Tmp) RETURN n.missing AS x", nil)
	var evalErr *cypher.EvaluationError
	require.ErrorAs(t, err, &evalErr)

	count, err := db.Storage().NodeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a failed auto-commit query leaves nothing behind")
	assert.Zero(t, db.Clock())
}

func TestDB_AwaitBookmarks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AwaitBookmarks(ctx, nil))
	require.NoError(t, db.AwaitBookmarks(ctx, []string{"nornicgraph:other:99"}), "other databases are ignored")
	assert.ErrorIs(t, db.AwaitBookmarks(ctx, []string{"garbage"}), ErrInvalidBookmark)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, db.AwaitBookmarks(short, []string{"nornicgraph:neo4j:1"}), ErrBookmarkTimeout)

	done := make(chan error, 1)
	go func() {
		wait, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		done <- db.AwaitBookmarks(wait, []string{"nornicgraph:neo4j:2"})
	}()
	db.Advance()
	db.Advance()
	require.NoError(t, <-done)
}

func TestDB_Close(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")
	assert.True(t, db.IsClosed())

	_, err := db.Execute(context.Background(), "RETURN 1 AS one", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCatalog(t *testing.T) {
	opened := 0
	factory := func(name string) (storage.Engine, error) {
		opened++
		return storage.NewBadgerEngineInMemory()
	}
	c := NewCatalog("", []string{"analytics", "", "neo4j", "analytics"}, factory, nil)
	defer c.Close()

	assert.Equal(t, "neo4j", c.DefaultName())
	assert.Equal(t, []string{"neo4j", "analytics"}, c.Names())

	def, err := c.Get("")
	require.NoError(t, err)
	assert.Equal(t, "neo4j", def.Name())
	again, err := c.Get("neo4j")
	require.NoError(t, err)
	assert.Same(t, def, again)
	assert.Equal(t, 1, opened, "databases open once, lazily")

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrDatabaseNotFound)

	require.NoError(t, c.Close())
	_, err = c.Get("analytics")
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, def.IsClosed())
}

func TestCatalog_FactoryError(t *testing.T) {
	boom := errors.New("disk full")
	c := NewCatalog("neo4j", nil, func(string) (storage.Engine, error) { return nil, boom }, nil)
	_, err := c.Get("")
	assert.ErrorIs(t, err, boom)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"syntax", &cypher.SyntaxError{Message: "bad"}, CodeSyntaxError, http.StatusBadRequest},
		{"evaluation", &cypher.EvaluationError{Key: "n.age", Message: "missing"}, CodeSemanticError, http.StatusBadRequest},
		{"parameter", &cypher.EvaluationError{Key: "$name", Message: "missing parameter"}, CodeParameterMissing, http.StatusBadRequest},
		{"transaction", fmt.Errorf("x: %w", txsession.ErrNotFound), CodeTransactionNotFound, http.StatusNotFound},
		{"access mode", txsession.ErrInvalidAccessMode, CodeInvalidRequest, http.StatusBadRequest},
		{"database", ErrDatabaseNotFound, CodeDatabaseNotFound, http.StatusNotFound},
		{"bookmark", ErrInvalidBookmark, CodeInvalidBookmark, http.StatusBadRequest},
		{"bookmark timeout", ErrBookmarkTimeout, CodeBookmarkTimeout, http.StatusServiceUnavailable},
		{"closed", ErrClosed, CodeDatabaseUnavailable, http.StatusServiceUnavailable},
		{"storage closed", storage.ErrStorageClosed, CodeDatabaseUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), CodeUnknownError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coded := Classify(tt.err)
			assert.Equal(t, tt.code, coded.Code)
			assert.Equal(t, tt.status, coded.Status)
			assert.ErrorIs(t, coded, tt.err)
		})
	}

	assert.Nil(t, Classify(nil))
	pre := NewError(CodeForbidden, http.StatusForbidden, "no")
	assert.Same(t, pre, Classify(fmt.Errorf("wrapped: %w", pre)))
}

func TestService_Run(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Run(ctx, RunRequest{Query: "CREATE (:Person {name: 'Alice'}), (:Person {name: 'Bob'})"})
	require.NoError(t, err)

	res, err := svc.Run(ctx, RunRequest{Query: "MATCH (n:Person) RETURN n.name AS name"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, res.Keys)
	require.Len(t, res.Records, 2)
	assert.Equal(t, result.QueryTypeRead, res.Summary.QueryType)
	assert.Equal(t, []string{"nornicgraph:neo4j:1"}, res.Bookmarks)

	res, err = svc.Run(ctx, RunRequest{Query: "MATCH (n:Person) RETURN count(*) AS c", Database: "other"})
	require.NoError(t, err)
	c, _ := res.Records[0].Get("c")
	assert.Equal(t, int64(0), c.Any(), "databases are separate")
}

func TestService_RunErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithBookmarkWait(10*time.Millisecond))

	tests := []struct {
		name string
		req  RunRequest
		code string
	}{
		{"empty query", RunRequest{}, CodeInvalidRequest},
		{"syntax", RunRequest{Query: "MATCH (n RETURN n"}, CodeSyntaxError},
		{"missing parameter", RunRequest{Query: "RETURN $x AS x"}, CodeParameterMissing},
		{"unknown database", RunRequest{Query: "RETURN 1 AS x", Database: "nope"}, CodeDatabaseNotFound},
		{"invalid bookmark", RunRequest{Query: "RETURN 1 AS x", Bookmarks: []string{"abc"}}, CodeInvalidBookmark},
		{"future bookmark", RunRequest{Query: "RETURN 1 AS x", Bookmarks: []string{"nornicgraph:neo4j:5"}}, CodeBookmarkTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(ctx, tt.req)
			assert.Equal(t, tt.code, codeOf(t, err))
		})
	}
}

func TestService_TransactionCommit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	begin, err := svc.Begin(ctx, BeginRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, begin.ID)
	assert.Equal(t, "WRITE", begin.AccessMode)
	assert.Equal(t, 1, svc.Health().OpenTransactions)

	res, err := svc.RunInTransaction(ctx, begin.ID, TxRunRequest{Query: "CREATE (n:Node) RETURN true AS created"})
	require.NoError(t, err)
	created, _ := res.Records[0].Get("created")
	assert.Equal(t, true, created.Any())
	assert.Empty(t, res.Bookmarks, "bookmarks settle at commit")

	commit, err := svc.Commit(ctx, begin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"nornicgraph:neo4j:1"}, commit.Bookmarks)
	assert.Equal(t, 0, svc.Health().OpenTransactions)

	_, err = svc.Commit(ctx, begin.ID)
	assert.Equal(t, CodeTransactionNotFound, codeOf(t, err))

	// The commit bookmark is immediately satisfiable.
	res, err = svc.Run(ctx, RunRequest{Query: "MATCH (n:Node) RETURN count(*) AS c", Bookmarks: commit.Bookmarks})
	require.NoError(t, err)
	c, _ := res.Records[0].Get("c")
	assert.Equal(t, int64(1), c.Any())
}

func TestService_ReadOnlyCommitKeepsClock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	begin, err := svc.Begin(ctx, BeginRequest{AccessMode: "READ"})
	require.NoError(t, err)
	assert.Equal(t, "READ", begin.AccessMode)
	_, err = svc.RunInTransaction(ctx, begin.ID, TxRunRequest{Query: "MATCH (n) RETURN n"})
	require.NoError(t, err)
	commit, err := svc.Commit(ctx, begin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"nornicgraph:neo4j:0"}, commit.Bookmarks)
}

func TestService_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	begin, err := svc.Begin(ctx, BeginRequest{Database: "neo4j"})
	require.NoError(t, err)
	_, err = svc.RunInTransaction(ctx, begin.ID, TxRunRequest{Query: "CREATE (n:Node)"})
	require.NoError(t, err)

	_, err = svc.RunInTransaction(ctx, begin.ID, TxRunRequest{Query: "MATCH (n RETURN n"})
	assert.Equal(t, CodeSyntaxError, codeOf(t, err))

	require.NoError(t, svc.Rollback(ctx, begin.ID))
	err = svc.Rollback(ctx, begin.ID)
	assert.Equal(t, CodeTransactionNotFound, codeOf(t, err))

	res, err := svc.Run(ctx, RunRequest{Query: "MATCH (n:Node) RETURN count(*) AS c"})
	require.NoError(t, err)
	c, _ := res.Records[0].Get("c")
	assert.Equal(t, int64(0), c.Any())
	assert.Equal(t, []string{"nornicgraph:neo4j:0"}, res.Bookmarks)
}

func TestService_BeginErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Begin(ctx, BeginRequest{AccessMode: "ADMIN"})
	assert.Equal(t, CodeInvalidRequest, codeOf(t, err))
	_, err = svc.Begin(ctx, BeginRequest{Database: "nope"})
	assert.Equal(t, CodeDatabaseNotFound, codeOf(t, err))
	_, err = svc.RunInTransaction(ctx, "unknown", TxRunRequest{Query: "RETURN 1 AS x"})
	assert.Equal(t, CodeTransactionNotFound, codeOf(t, err))
}

func TestService_CloseRollsBackOpenTransactions(t *testing.T) {
	ctx := context.Background()
	var engine storage.Engine
	catalog := NewCatalog("", nil, func(string) (storage.Engine, error) {
		e, err := storage.NewBadgerEngineInMemory()
		engine = e
		return e, err
	}, nil)
	svc := NewService(catalog)

	begin, err := svc.Begin(ctx, BeginRequest{})
	require.NoError(t, err)
	_, err = svc.RunInTransaction(ctx, begin.ID, TxRunRequest{Query: "CREATE (n:Node)"})
	require.NoError(t, err)
	count, err := engine.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, svc.Close(ctx))
	assert.Equal(t, 0, svc.Transactions().Len())

	_, err = svc.Run(ctx, RunRequest{Query: "RETURN 1 AS x"})
	assert.Equal(t, CodeDatabaseUnavailable, codeOf(t, err))
}

func TestService_Health(t *testing.T) {
	svc := newTestService(t)
	h := svc.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, []string{"neo4j", "other"}, h.Databases)
	assert.Equal(t, "neo4j", h.DefaultDatabase)
}

func TestService_Analyze(t *testing.T) {
	svc := newTestService(t)

	info, err := svc.Analyze("MATCH (n:Person) RETURN n.name")
	require.NoError(t, err)
	assert.False(t, info.IsWriteQuery)

	info, err = svc.Analyze("MERGE (n:Person {name: 'Ada'})")
	require.NoError(t, err)
	assert.True(t, info.IsWriteQuery)

	_, err = svc.Analyze("CRATE (n)")
	assert.Equal(t, CodeSyntaxError, codeOf(t, err))
}

func TestService_AnalyzeAgreesWithExecution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Run(ctx, RunRequest{Query: "MATCH (n) // x\nDETACH DELETE n"})
	require.NoError(t, err)

	commented := "MATCH (n) // x DETACH DELETE n"
	info, err := svc.Analyze(commented)
	require.NoError(t, err)
	assert.False(t, info.IsWriteQuery)

	res, err := svc.Run(ctx, RunRequest{Query: commented})
	require.NoError(t, err)
	assert.Equal(t, result.QueryTypeRead, res.Summary.QueryType)

	writing := "MATCH (n) // x\nSET n.seen = true"
	info, err = svc.Analyze(writing)
	require.NoError(t, err)
	assert.True(t, info.IsWriteQuery)
}
