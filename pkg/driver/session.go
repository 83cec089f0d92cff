package driver

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/result"
)

// AccessMode tells the server whether a transaction intends to write. It
// is advisory.
type AccessMode string

const (
	AccessModeRead  AccessMode = "READ"
	AccessModeWrite AccessMode = "WRITE"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Database defaults to DefaultDatabase.
	Database string
	// AccessMode is used by BeginTransaction when no mode is given.
	// Defaults to WRITE.
	AccessMode AccessMode
	// Bookmarks the session's first request waits for.
	Bookmarks []string
	// Bookmark is a single bookmark; it is appended to Bookmarks.
	Bookmark string
}

// Session is a causally chained sequence of queries and transactions.
//
// A Session holds at most one open Transaction. It is not safe for
// concurrent use: concurrent calls are a caller error, though the
// single-transaction rule still holds because BeginTransaction checks and
// claims the slot before any request is sent.
type Session struct {
	driver     *Driver
	database   string
	accessMode AccessMode
	logger     *zap.Logger

	mu            sync.Mutex
	closed        bool
	lastBookmarks []string
	current       *Transaction
}

func newSession(d *Driver, cfg SessionConfig) *Session {
	s := &Session{
		driver:     d,
		database:   cfg.Database,
		accessMode: cfg.AccessMode,
		logger:     d.logger,
	}
	if s.database == "" {
		s.database = DefaultDatabase
	}
	if s.accessMode == "" {
		s.accessMode = AccessModeWrite
	}
	s.lastBookmarks = slices.Clone(cfg.Bookmarks)
	if cfg.Bookmark != "" {
		s.lastBookmarks = append(s.lastBookmarks, cfg.Bookmark)
	}
	if s.lastBookmarks == nil {
		s.lastBookmarks = []string{}
	}
	return s
}

// Database returns the database the session runs against.
func (s *Session) Database() string { return s.database }

// LastBookmarks returns the bookmarks of the session's latest write.
func (s *Session) LastBookmarks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lastBookmarks)
}

// RunOption adjusts a single auto-commit run.
type RunOption func(*graphdb.RunRequest)

// WithDatabase runs against another database than the session's.
func WithDatabase(name string) RunOption {
	return func(r *graphdb.RunRequest) { r.Database = name }
}

// WithBookmarks waits for bookmarks instead of the session's own.
func WithBookmarks(bookmarks ...string) RunOption {
	return func(r *graphdb.RunRequest) { r.Bookmarks = bookmarks }
}

// WithRouting passes a routing context. The server accepts and ignores it.
func WithRouting(routing map[string]any) RunOption {
	return func(r *graphdb.RunRequest) { r.Routing = routing }
}

// Run executes query in its own auto-commit transaction. Bookmarks in the
// response replace the session's; a response without bookmarks leaves them
// unchanged.
func (s *Session) Run(ctx context.Context, query string, params map[string]any, opts ...RunOption) (*result.QueryResult, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	req := graphdb.RunRequest{
		Query:      query,
		Parameters: params,
		Database:   s.database,
		Bookmarks:  slices.Clone(s.lastBookmarks),
	}
	s.mu.Unlock()

	for _, opt := range opts {
		opt(&req)
	}
	res, err := s.driver.endpoint.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	s.updateBookmarks(res.Bookmarks)
	return res, nil
}

// TxOption configures BeginTransaction.
type TxOption func(*txConfig)

type txConfig struct {
	accessMode AccessMode
}

// WithAccessMode sets the transaction's access mode.
func WithAccessMode(mode AccessMode) TxOption {
	return func(c *txConfig) { c.accessMode = mode }
}

// BeginTransaction opens an explicit transaction. It fails with a
// TransactionStateError while another transaction of this session is open.
func (s *Session) BeginTransaction(ctx context.Context, opts ...TxOption) (*Transaction, error) {
	cfg := txConfig{accessMode: s.accessMode}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.current != nil && s.current.IsOpen() {
		s.mu.Unlock()
		return nil, &TransactionStateError{Reason: ReasonAlreadyOpen}
	}
	// Claim the slot before the request so a concurrent begin sees it.
	tx := &Transaction{session: s, accessMode: cfg.accessMode, state: txOpen}
	s.current = tx
	req := graphdb.BeginRequest{
		Database:   s.database,
		AccessMode: string(cfg.accessMode),
		Bookmarks:  slices.Clone(s.lastBookmarks),
	}
	s.mu.Unlock()

	resp, err := s.driver.endpoint.Begin(ctx, req)
	if err != nil {
		tx.mu.Lock()
		tx.state = txFailed
		tx.mu.Unlock()
		s.release(tx)
		return nil, err
	}

	tx.mu.Lock()
	tx.id = resp.ID
	if resp.AccessMode != "" {
		tx.accessMode = AccessMode(resp.AccessMode)
	}
	abandoned := tx.state != txOpen
	tx.mu.Unlock()
	if abandoned {
		// The session closed while the begin was in flight.
		if err := s.driver.endpoint.Rollback(context.WithoutCancel(ctx), resp.ID); err != nil {
			s.logger.Debug("rollback failed", zap.String("tx", resp.ID), zap.Error(err))
		}
		return nil, &SessionClosedError{}
	}
	s.logger.Debug("transaction begun", zap.String("tx", resp.ID), zap.String("database", s.database))
	return tx, nil
}

// TransactionWork is the unit of work of a managed transaction.
type TransactionWork func(tx *Transaction) (any, error)

// ExecuteRead runs work in a READ transaction. See ExecuteWrite.
func (s *Session) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	return s.executeManaged(ctx, AccessModeRead, work)
}

// ExecuteWrite runs work in a WRITE transaction and commits it when work
// succeeds. When work fails the transaction is rolled back and work's error
// is returned. Work runs exactly once; there is no retry.
func (s *Session) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	return s.executeManaged(ctx, AccessModeWrite, work)
}

// ExecuteRead is the typed form of Session.ExecuteRead.
func ExecuteRead[T any](ctx context.Context, s *Session, work func(tx *Transaction) (T, error)) (T, error) {
	return executeTyped(ctx, s, AccessModeRead, work)
}

// ExecuteWrite is the typed form of Session.ExecuteWrite.
func ExecuteWrite[T any](ctx context.Context, s *Session, work func(tx *Transaction) (T, error)) (T, error) {
	return executeTyped(ctx, s, AccessModeWrite, work)
}

func executeTyped[T any](ctx context.Context, s *Session, mode AccessMode, work func(tx *Transaction) (T, error)) (T, error) {
	var out T
	_, err := s.executeManaged(ctx, mode, func(tx *Transaction) (any, error) {
		v, err := work(tx)
		out = v
		return v, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (s *Session) executeManaged(ctx context.Context, mode AccessMode, work TransactionWork) (out any, err error) {
	tx, err := s.BeginTransaction(ctx, WithAccessMode(mode))
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			s.rollbackQuietly(ctx, tx)
			panic(r)
		}
	}()

	out, err = work(tx)
	if err != nil {
		s.rollbackQuietly(ctx, tx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		s.rollbackQuietly(ctx, tx)
		return nil, err
	}
	return out, nil
}

// rollbackQuietly rolls tx back without letting a rollback failure replace
// the error the caller is about to see.
func (s *Session) rollbackQuietly(ctx context.Context, tx *Transaction) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.logger.Debug("rollback failed", zap.String("tx", tx.ID()), zap.Error(err))
	}
}

// Close rolls back the open transaction, if any, and closes the session.
// Closing twice is a no-op. A failed rollback is logged, not returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tx := s.current
	s.current = nil
	s.mu.Unlock()

	if tx != nil && tx.IsOpen() {
		s.rollbackQuietly(ctx, tx)
	}
	return nil
}

func (s *Session) usableLocked() error {
	if s.closed {
		return &SessionClosedError{}
	}
	if s.driver.isClosed() {
		return &DriverClosedError{}
	}
	return nil
}

func (s *Session) updateBookmarks(bookmarks []string) {
	if len(bookmarks) == 0 {
		return
	}
	s.mu.Lock()
	s.lastBookmarks = slices.Clone(bookmarks)
	s.mu.Unlock()
}

// release clears tx as the current transaction.
func (s *Session) release(tx *Transaction) {
	s.mu.Lock()
	if s.current == tx {
		s.current = nil
	}
	s.mu.Unlock()
}
