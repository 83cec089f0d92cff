package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/result"
)

// fakeServer records every request before handing it to its routes.
type fakeServer struct {
	*httptest.Server

	mu     sync.Mutex
	calls  []string
	auth   []string
	bodies map[string][]byte
}

func newFakeServer(t *testing.T, routes map[string]http.HandlerFunc) *fakeServer {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	fs := &fakeServer{bodies: make(map[string][]byte)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		call := r.Method + " " + r.URL.Path
		fs.mu.Lock()
		fs.calls = append(fs.calls, call)
		fs.auth = append(fs.auth, r.Header.Get("Authorization"))
		fs.bodies[call] = body
		fs.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) Calls() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.calls...)
}

func (fs *fakeServer) Body(call string) []byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.bodies[call]
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func errorReply(status int, code, message string) http.HandlerFunc {
	body, _ := json.Marshal(map[string]any{"error": map[string]string{"code": code, "message": message}})
	return reply(status, string(body))
}

func newHTTPDriver(t *testing.T, fs *fakeServer, token AuthToken) *Driver {
	t.Helper()
	drv, err := NewDriver(fs.URL, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close(context.Background()) })
	return drv
}

func newHTTPSession(t *testing.T, drv *Driver, cfg SessionConfig) *Session {
	t.Helper()
	session, err := drv.NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close(context.Background()) })
	return session
}

func TestHTTP_ExecuteWriteCommitsAndTracksBookmarks(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /tx/begin": reply(http.StatusOK, `{"id":"tx-1","accessMode":"WRITE"}`),
		"POST /tx/tx-1": reply(http.StatusOK, `{"keys":["created"],"records":[[true]],`+
			`"summary":{"queryType":"w","counters":{"nodesCreated":1}},"bookmarks":[]}`),
		"POST /tx/tx-1/commit": reply(http.StatusOK, `{"bookmarks":["bm-1"]}`),
	})
	session := newHTTPSession(t, newHTTPDriver(t, fs, NoAuth()), SessionConfig{})
	ctx := context.Background()

	created, err := ExecuteWrite(ctx, session, func(tx *Transaction) (bool, error) {
		res, err := tx.Run(ctx, "CREATE (n:Node) RETURN true as created", nil)
		if err != nil {
			return false, err
		}
		v, err := res.Records[0].Get("created")
		if err != nil {
			return false, err
		}
		b, _ := v.AsBool()
		return b, nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"bm-1"}, session.LastBookmarks())
	assert.Equal(t, []string{"POST /tx/begin", "POST /tx/tx-1", "POST /tx/tx-1/commit"}, fs.Calls())

	var begin graphdb.BeginRequest
	require.NoError(t, json.Unmarshal(fs.Body("POST /tx/begin"), &begin))
	assert.Equal(t, "neo4j", begin.Database)
	assert.Equal(t, "WRITE", begin.AccessMode)

	var run graphdb.TxRunRequest
	require.NoError(t, json.Unmarshal(fs.Body("POST /tx/tx-1"), &run))
	assert.Equal(t, "CREATE (n:Node) RETURN true as created", run.Query)
}

func TestHTTP_ExecuteWriteFailureRollsBackWithoutCommit(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /tx/begin":         reply(http.StatusOK, `{"id":"tx-1","accessMode":"WRITE"}`),
		"POST /tx/tx-1":          errorReply(http.StatusBadRequest, graphdb.CodeSyntaxError, "Invalid input 'CRATE'"),
		"POST /tx/tx-1/rollback": reply(http.StatusOK, `{}`),
		"POST /tx/tx-1/commit":   reply(http.StatusOK, `{"bookmarks":["never"]}`),
	})
	session := newHTTPSession(t, newHTTPDriver(t, fs, NoAuth()), SessionConfig{})
	ctx := context.Background()

	_, err := session.ExecuteWrite(ctx, func(tx *Transaction) (any, error) {
		return tx.Run(ctx, "CRATE (n)", nil)
	})
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, graphdb.CodeSyntaxError, serverErr.Code)
	assert.Equal(t, http.StatusBadRequest, serverErr.StatusCode)

	assert.Equal(t, []string{"POST /tx/begin", "POST /tx/tx-1", "POST /tx/tx-1/rollback"}, fs.Calls())
	assert.Empty(t, session.LastBookmarks())
}

func TestHTTP_RollbackFailureDoesNotMaskWorkError(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /tx/begin":         reply(http.StatusOK, `{"id":"tx-9","accessMode":"READ"}`),
		"POST /tx/tx-9/rollback": errorReply(http.StatusInternalServerError, graphdb.CodeUnknownError, "boom"),
	})
	session := newHTTPSession(t, newHTTPDriver(t, fs, NoAuth()), SessionConfig{})

	errWork := errors.New("work failed")
	_, err := ExecuteRead(context.Background(), session, func(tx *Transaction) (int, error) {
		assert.Equal(t, AccessModeRead, tx.AccessMode())
		return 0, errWork
	})
	assert.ErrorIs(t, err, errWork)
	assert.Contains(t, fs.Calls(), "POST /tx/tx-9/rollback")

	// The session is free for another transaction.
	_, err = session.BeginTransaction(context.Background())
	require.NoError(t, err)
}

func TestHTTP_RunSummaryCounters(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /cypher": reply(http.StatusOK, `{"keys":["count"],"records":[[5]],`+
			`"summary":{"queryType":"w","counters":{"nodesCreated":5,"propertiesSet":10}},"bookmarks":["bm-2"]}`),
	})
	session := newHTTPSession(t, newHTTPDriver(t, fs, NoAuth()), SessionConfig{})

	res, err := session.Run(context.Background(), "CREATE (n:Person) RETURN count(*) as count", nil)
	require.NoError(t, err)
	assert.Equal(t, result.QueryTypeWrite, res.Summary.QueryType)
	assert.Equal(t, int64(5), res.Summary.Counters.NodesCreated)
	assert.Equal(t, int64(10), res.Summary.Counters.PropertiesSet)
	assert.True(t, res.Summary.Counters.ContainsUpdates())

	rec, err := res.Single()
	require.NoError(t, err)
	v, err := rec.Get("count")
	require.NoError(t, err)
	n, ok := v.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, []string{"bm-2"}, session.LastBookmarks())
}

func TestHTTP_ErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantAuth   bool
		wantCode   string
		wantStatus int
	}{
		{
			name:       "unauthorized",
			handler:    errorReply(http.StatusUnauthorized, graphdb.CodeUnauthorized, "bad credentials"),
			wantAuth:   true,
			wantCode:   graphdb.CodeUnauthorized,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "forbidden",
			handler:    errorReply(http.StatusForbidden, graphdb.CodeForbidden, "read only"),
			wantAuth:   true,
			wantCode:   graphdb.CodeForbidden,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "security code on another status",
			handler:    errorReply(http.StatusBadRequest, "Neo.ClientError.Security.TokenExpired", "expired"),
			wantAuth:   true,
			wantCode:   "Neo.ClientError.Security.TokenExpired",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "statement error",
			handler:    errorReply(http.StatusBadRequest, graphdb.CodeSyntaxError, "bad"),
			wantCode:   graphdb.CodeSyntaxError,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "opaque code passes through",
			handler:    errorReply(http.StatusConflict, "Custom.Vendor.Code", "conflict"),
			wantCode:   "Custom.Vendor.Code",
			wantStatus: http.StatusConflict,
		},
		{
			name:       "non-json body",
			handler:    reply(http.StatusBadGateway, "upstream down"),
			wantCode:   graphdb.CodeUnknownError,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t, map[string]http.HandlerFunc{"POST /cypher": tt.handler})
			session := newHTTPSession(t, newHTTPDriver(t, fs, BasicAuth("neo4j", "wrong")), SessionConfig{})

			_, err := session.Run(context.Background(), "RETURN 1 AS x", nil)
			require.Error(t, err)

			var serverErr *ServerError
			require.ErrorAs(t, err, &serverErr)
			assert.Equal(t, tt.wantCode, serverErr.Code)
			assert.Equal(t, tt.wantStatus, serverErr.StatusCode)

			var authErr *AuthenticationError
			assert.Equal(t, tt.wantAuth, errors.As(err, &authErr))
		})
	}
}

func TestHTTP_AuthorizationHeader(t *testing.T) {
	tests := []struct {
		name  string
		token AuthToken
		want  string
	}{
		{"basic", BasicAuth("neo4j", "password"), "Basic bmVvNGo6cGFzc3dvcmQ="},
		{"bearer", BearerAuth("abc.def.ghi"), "Bearer abc.def.ghi"},
		{"none", NoAuth(), ""},
		{"zero value", AuthToken{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t, map[string]http.HandlerFunc{
				"GET /health": reply(http.StatusOK, `{"status":"healthy","databases":["neo4j"]}`),
			})
			drv := newHTTPDriver(t, fs, tt.token)
			require.NoError(t, drv.VerifyConnectivity(context.Background()))

			fs.mu.Lock()
			defer fs.mu.Unlock()
			require.Len(t, fs.auth, 1)
			assert.Equal(t, tt.want, fs.auth[0])
		})
	}
}

func TestHTTP_BookmarksFlowBetweenRequests(t *testing.T) {
	var n int
	var mu sync.Mutex
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /cypher": func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			n++
			first := n == 1
			mu.Unlock()
			if first {
				reply(http.StatusOK, `{"keys":[],"records":[],"summary":{"queryType":"w"},"bookmarks":["b1"]}`)(w, r)
				return
			}
			reply(http.StatusOK, `{"keys":[],"records":[],"summary":{"queryType":"r"}}`)(w, r)
		},
	})
	session := newHTTPSession(t, newHTTPDriver(t, fs, NoAuth()), SessionConfig{Bookmark: "b0"})
	assert.Equal(t, []string{"b0"}, session.LastBookmarks())
	ctx := context.Background()

	_, err := session.Run(ctx, "CREATE (n)", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, session.LastBookmarks())

	// A response without bookmarks leaves them unchanged.
	_, err = session.Run(ctx, "MATCH (n) RETURN n", nil, WithRouting(map[string]any{"address": "x"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, session.LastBookmarks())

	var req graphdb.RunRequest
	require.NoError(t, json.Unmarshal(fs.Body("POST /cypher"), &req))
	assert.Equal(t, []string{"b1"}, req.Bookmarks)
	assert.Equal(t, "neo4j", req.Database)
	assert.Equal(t, "x", req.Routing["address"])
}

func TestHTTP_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	drv, err := NewDriver(url, NoAuth())
	require.NoError(t, err)
	session, err := drv.NewSession(SessionConfig{})
	require.NoError(t, err)

	_, err = session.Run(context.Background(), "RETURN 1 AS x", nil)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "POST /cypher", netErr.Op)

	var serverErr *ServerError
	assert.False(t, errors.As(err, &serverErr))

	assert.Error(t, drv.VerifyConnectivity(context.Background()))
}

func TestNewDriver_InvalidTarget(t *testing.T) {
	for _, target := range []string{"", "localhost:7474", "bolt://localhost:7687", "http://", "://bad"} {
		_, err := NewDriver(target, NoAuth())
		assert.Error(t, err, target)
	}
}

func TestHTTP_CloseDuringCommitWins(t *testing.T) {
	committing := make(chan struct{})
	release := make(chan struct{})
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /tx/begin": reply(http.StatusOK, `{"id":"tx-1","accessMode":"WRITE"}`),
		"POST /tx/tx-1/commit": func(w http.ResponseWriter, r *http.Request) {
			close(committing)
			<-release
			reply(http.StatusOK, `{"bookmarks":["bm-late"]}`)(w, r)
		},
		"POST /tx/tx-1/rollback": reply(http.StatusOK, `{}`),
	})
	session := newHTTPSession(t, newHTTPDriver(t, fs, NoAuth()), SessionConfig{Bookmarks: []string{"bm-0"}})
	ctx := context.Background()

	tx, err := session.BeginTransaction(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- tx.Commit(ctx) }()

	<-committing
	require.NoError(t, session.Close(ctx))
	close(release)

	err = <-done
	var stateErr *TransactionStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, ReasonClosed, stateErr.Reason)
	assert.False(t, tx.IsOpen())
	assert.Equal(t, []string{"bm-0"}, session.LastBookmarks())

	// The transaction stays rolled back: a second commit is refused and a
	// rollback is a no-op.
	assert.Error(t, tx.Commit(ctx))
	assert.NoError(t, tx.Rollback(ctx))
	assert.Contains(t, fs.Calls(), "POST /tx/tx-1/rollback")
}
