package graphdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/cache"
	"github.com/orneryd/nornicgraph/pkg/cypher"
	"github.com/orneryd/nornicgraph/pkg/metrics"
	"github.com/orneryd/nornicgraph/pkg/result"
	"github.com/orneryd/nornicgraph/pkg/txsession"
)

// RunRequest is an auto-commit query (POST /cypher).
type RunRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Database   string         `json:"database,omitempty"`
	Bookmarks  []string       `json:"bookmarks,omitempty"`
	Routing    map[string]any `json:"routing,omitempty"`
}

// BeginRequest opens an explicit transaction (POST /tx/begin).
type BeginRequest struct {
	Database   string   `json:"database,omitempty"`
	AccessMode string   `json:"accessMode,omitempty"`
	Bookmarks  []string `json:"bookmarks,omitempty"`
}

// BeginResponse identifies the new transaction.
type BeginResponse struct {
	ID         string `json:"id"`
	AccessMode string `json:"accessMode"`
}

// TxRunRequest is a query inside a transaction (POST /tx/{id}).
type TxRunRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommitResponse carries the bookmark settled by a commit.
type CommitResponse struct {
	Bookmarks []string `json:"bookmarks"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status           string   `json:"status"`
	Databases        []string `json:"databases"`
	DefaultDatabase  string   `json:"defaultDatabase"`
	OpenTransactions int      `json:"openTransactions"`
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithTransactionTTL sets how long an idle explicit transaction lives.
func WithTransactionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.txTTL = ttl }
}

// WithBookmarkWait sets how long a request waits for its bookmarks to be
// reached before failing with BookmarkTimeout.
func WithBookmarkWait(d time.Duration) ServiceOption {
	return func(s *Service) { s.bookmarkWait = d }
}

// Service implements the driver protocol over a Catalog: auto-commit runs,
// explicit transactions and bookmarks. Every error it returns is an *Error.
//
// Access modes are recorded on transactions but not enforced, and routing
// context is accepted and ignored.
type Service struct {
	catalog      *Catalog
	txs          *txsession.Manager
	analyzer     *cypher.QueryAnalyzer
	logger       *zap.Logger
	txTTL        time.Duration
	bookmarkWait time.Duration
}

// NewService creates a service over catalog.
func NewService(catalog *Catalog, opts ...ServiceOption) *Service {
	s := &Service{
		catalog:      catalog,
		analyzer:     cypher.NewQueryAnalyzer(0),
		logger:       zap.NewNop(),
		bookmarkWait: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.txs = txsession.NewManager(s.txTTL,
		txsession.WithLogger(s.logger),
		txsession.OnExpire(func(*txsession.Session) {
			metrics.TransactionsTotal.WithLabelValues(metrics.OutcomeExpired).Inc()
			metrics.OpenTransactions.Dec()
		}))
	return s
}

// Catalog returns the databases the service runs against.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Transactions returns the explicit transaction registry.
func (s *Service) Transactions() *txsession.Manager { return s.txs }

// StartReaper expires idle transactions in the background until ctx ends.
func (s *Service) StartReaper(ctx context.Context) {
	s.txs.StartReaper(ctx, 0)
}

// Analyze classifies query without running it. The server uses it to
// refuse writes from read-only users before any database work starts.
func (s *Service) Analyze(query string) (*cypher.QueryInfo, error) {
	info, err := s.analyzer.Analyze(query)
	if err != nil {
		return nil, Classify(err)
	}
	return info, nil
}

// Run executes an auto-commit query.
func (s *Service) Run(ctx context.Context, req RunRequest) (*result.QueryResult, error) {
	if req.Query == "" {
		return nil, s.fail(NewError(CodeInvalidRequest, http.StatusBadRequest, "query is required"))
	}
	db, err := s.catalog.Get(req.Database)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.awaitBookmarks(ctx, db, req.Bookmarks); err != nil {
		return nil, s.fail(err)
	}

	start := time.Now()
	res, err := db.Execute(ctx, req.Query, req.Parameters)
	metrics.QueryDuration.WithLabelValues(db.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.fail(err)
	}
	metrics.QueriesTotal.WithLabelValues(db.Name(), string(res.Summary.QueryType)).Inc()
	return res, nil
}

// Begin opens an explicit transaction after waiting for req's bookmarks.
func (s *Service) Begin(ctx context.Context, req BeginRequest) (*BeginResponse, error) {
	db, err := s.catalog.Get(req.Database)
	if err != nil {
		return nil, s.fail(err)
	}
	if db.IsClosed() {
		return nil, s.fail(ErrClosed)
	}
	if err := s.awaitBookmarks(ctx, db, req.Bookmarks); err != nil {
		return nil, s.fail(err)
	}

	session, err := s.txs.Open(ctx, db, req.AccessMode)
	if err != nil {
		return nil, s.fail(err)
	}
	metrics.TransactionsTotal.WithLabelValues(metrics.OutcomeBegun).Inc()
	metrics.OpenTransactions.Inc()
	return &BeginResponse{ID: session.ID, AccessMode: session.AccessMode}, nil
}

// RunInTransaction executes a query inside an open transaction. Results
// carry no bookmarks; those settle at commit. A failing query leaves the
// transaction open.
func (s *Service) RunInTransaction(ctx context.Context, txID string, req TxRunRequest) (*result.QueryResult, error) {
	if req.Query == "" {
		return nil, s.fail(NewError(CodeInvalidRequest, http.StatusBadRequest, "query is required"))
	}
	session, err := s.txs.Get(ctx, txID)
	if err != nil {
		return nil, s.fail(err)
	}

	start := time.Now()
	res, err := s.txs.ExecuteInSession(ctx, session, req.Query, req.Parameters)
	metrics.QueryDuration.WithLabelValues(session.Database).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.fail(err)
	}
	metrics.QueriesTotal.WithLabelValues(session.Database, string(res.Summary.QueryType)).Inc()
	res.Summary.Database = session.Database
	res.Bookmarks = []string{}
	return res, nil
}

// Commit keeps the transaction's writes. A transaction that wrote anything
// advances its database's clock.
func (s *Service) Commit(ctx context.Context, txID string) (*CommitResponse, error) {
	session, err := s.txs.Get(ctx, txID)
	if err != nil {
		return nil, s.fail(err)
	}
	counters, err := s.txs.CommitAndDelete(ctx, session)
	if err != nil {
		return nil, s.fail(err)
	}
	metrics.TransactionsTotal.WithLabelValues(metrics.OutcomeCommitted).Inc()
	metrics.OpenTransactions.Dec()

	db, ok := session.Backend.(*DB)
	if !ok {
		return &CommitResponse{Bookmarks: []string{}}, nil
	}
	if counters.ContainsUpdates() {
		db.Advance()
	}
	return &CommitResponse{Bookmarks: []string{db.Bookmark()}}, nil
}

// Rollback undoes the transaction's writes.
func (s *Service) Rollback(ctx context.Context, txID string) error {
	session, err := s.txs.Get(ctx, txID)
	if err != nil {
		return s.fail(err)
	}
	err = s.txs.RollbackAndDelete(ctx, session)
	if errors.Is(err, txsession.ErrNotFound) {
		return s.fail(err)
	}
	// The session is gone even when undo reported errors.
	metrics.TransactionsTotal.WithLabelValues(metrics.OutcomeRolledBack).Inc()
	metrics.OpenTransactions.Dec()
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// Health reports the served databases and open transaction count.
func (s *Service) Health() HealthStatus {
	return HealthStatus{
		Status:           "healthy",
		Databases:        s.catalog.Names(),
		DefaultDatabase:  s.catalog.DefaultName(),
		OpenTransactions: s.txs.Len(),
	}
}

// QueryCacheStats returns the parsed-query cache statistics of every opened
// database, keyed by name.
func (s *Service) QueryCacheStats() map[string]cache.Stats {
	stats := make(map[string]cache.Stats)
	for _, db := range s.catalog.Opened() {
		stats[db.Name()] = db.Executor().CacheStats()
	}
	return stats
}

// DatabaseStats holds the size of one database.
type DatabaseStats struct {
	Nodes         int64 `json:"nodes"`
	Relationships int64 `json:"relationships"`
}

// DatabaseStats counts nodes and relationships in every opened database,
// keyed by name. Databases nobody has touched yet are not opened for it.
func (s *Service) DatabaseStats(ctx context.Context) (map[string]DatabaseStats, error) {
	stats := make(map[string]DatabaseStats)
	for _, db := range s.catalog.Opened() {
		nodes, err := db.Storage().NodeCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("count nodes in %s: %w", db.Name(), err)
		}
		edges, err := db.Storage().EdgeCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("count relationships in %s: %w", db.Name(), err)
		}
		stats[db.Name()] = DatabaseStats{Nodes: nodes, Relationships: edges}
	}
	return stats, nil
}

// Close rolls back open transactions, then closes every database.
func (s *Service) Close(ctx context.Context) error {
	n := s.txs.Len()
	txErr := s.txs.Close(ctx)
	metrics.OpenTransactions.Sub(float64(n))
	return errors.Join(txErr, s.catalog.Close())
}

func (s *Service) awaitBookmarks(ctx context.Context, db *DB, bookmarks []string) error {
	if len(bookmarks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.bookmarkWait)
	defer cancel()
	return db.AwaitBookmarks(ctx, bookmarks)
}

// fail classifies err, records it and logs server-side failures.
func (s *Service) fail(err error) *Error {
	coded := Classify(err)
	metrics.QueryErrorsTotal.WithLabelValues(coded.Code).Inc()
	if coded.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", coded.Code), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("code", coded.Code), zap.String("message", coded.Message))
	}
	return coded
}
