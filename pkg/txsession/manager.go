// Package txsession keeps the server side of explicit transactions.
//
// Each open transaction pairs a storage.Transaction (an undo journal over
// the database's engine) with an executor bound to that journal. Writes hit
// the engine immediately; rollback replays the journal backwards. Idle
// transactions expire after a TTL and are rolled back.
package txsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/cypher"
	"github.com/orneryd/nornicgraph/pkg/result"
	"github.com/orneryd/nornicgraph/pkg/storage"
)

// DefaultTTL is how long an idle transaction stays open.
const DefaultTTL = 30 * time.Second

// Access modes accepted by Open.
const (
	AccessModeRead  = "READ"
	AccessModeWrite = "WRITE"
)

var (
	// ErrNotFound is returned for unknown, finished or expired transactions.
	ErrNotFound = errors.New("transaction not found")

	// ErrInvalidAccessMode is returned by Open for modes other than READ/WRITE.
	ErrInvalidAccessMode = errors.New("invalid access mode")
)

// Backend is the database a transaction runs against.
type Backend interface {
	Name() string
	Storage() storage.Engine
	Executor() *cypher.StorageExecutor
}

// Session is one open explicit transaction.
type Session struct {
	ID         string
	Database   string
	AccessMode string
	Backend    Backend
	Tx         *storage.Transaction
	Executor   *cypher.StorageExecutor
	Expires    time.Time

	// Counters accumulates the counters of every statement run so far.
	Counters result.Counters

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = now }
}

// WithIDFunc replaces the uuid id generator.
func WithIDFunc(fn func() string) Option {
	return func(m *Manager) { m.idFunc = fn }
}

// OnExpire registers a callback run after an expired transaction has been
// rolled back.
func OnExpire(fn func(*Session)) Option {
	return func(m *Manager) { m.onExpire = fn }
}

// Manager tracks explicit transaction sessions and lifecycle operations.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Statements within one session
//	are serialized by the session's own lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl      time.Duration
	nowFunc  func() time.Time
	idFunc   func() string
	onExpire func(*Session)
	logger   *zap.Logger
}

// NewManager creates a manager. A non-positive ttl uses DefaultTTL.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		nowFunc:  time.Now,
		idFunc:   uuid.NewString,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the idle timeout.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Open begins a transaction on backend. An empty access mode means WRITE.
func (m *Manager) Open(ctx context.Context, backend Backend, accessMode string) (*Session, error) {
	switch accessMode {
	case "":
		accessMode = AccessModeWrite
	case AccessModeRead, AccessModeWrite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccessMode, accessMode)
	}
	if err := backend.Storage().Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	tx := storage.NewTransaction(backend.Storage())
	session := &Session{
		ID:         m.idFunc(),
		Database:   backend.Name(),
		AccessMode: accessMode,
		Backend:    backend,
		Tx:         tx,
		Executor:   backend.Executor().WithEngine(tx),
		Expires:    m.nowFunc().Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Debug("transaction opened",
		zap.String("tx", session.ID),
		zap.String("database", session.Database),
		zap.String("mode", accessMode))
	return session, nil
}

// Get returns an open session. A session past its expiry is rolled back and
// reported as not found.
func (m *Manager) Get(ctx context.Context, txID string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[txID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txID)
	}
	if m.expired(session) {
		m.expire(ctx, session)
		return nil, fmt.Errorf("%w: %s (expired)", ErrNotFound, txID)
	}
	return session, nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Touch pushes the session's expiry one TTL past now.
func (m *Manager) Touch(session *Session) {
	if session == nil {
		return
	}
	session.Expires = m.nowFunc().Add(m.ttl)
}

// ExecuteInSession runs one statement inside the transaction. A failing
// statement leaves the transaction open; its partial writes stay journaled
// and are undone by a later rollback.
func (m *Manager) ExecuteInSession(ctx context.Context, session *Session, query string, params map[string]any) (*result.QueryResult, error) {
	if session == nil || session.Executor == nil {
		return nil, fmt.Errorf("transaction session is not available")
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.Tx.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, session.ID)
	}

	res, err := session.Executor.Execute(ctx, query, params)
	m.Touch(session)
	if err != nil {
		return nil, err
	}
	session.Counters.Add(res.Summary.Counters)
	return res, nil
}

// CommitAndDelete keeps the transaction's writes and forgets the session.
// It returns the accumulated counters.
func (m *Manager) CommitAndDelete(ctx context.Context, session *Session) (result.Counters, error) {
	if session == nil || session.Tx == nil {
		return result.Counters{}, fmt.Errorf("transaction session is not available")
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	defer m.Delete(session.ID)

	if err := session.Tx.Commit(); err != nil {
		if errors.Is(err, storage.ErrTransactionClosed) {
			return result.Counters{}, fmt.Errorf("%w: %s", ErrNotFound, session.ID)
		}
		return result.Counters{}, err
	}
	m.logger.Debug("transaction committed",
		zap.String("tx", session.ID),
		zap.Int64("nodesCreated", session.Counters.NodesCreated),
		zap.Bool("containsUpdates", session.Counters.ContainsUpdates()))
	return session.Counters, nil
}

// RollbackAndDelete undoes the transaction's writes and forgets the session.
func (m *Manager) RollbackAndDelete(ctx context.Context, session *Session) error {
	if session == nil || session.Tx == nil {
		return fmt.Errorf("transaction session is not available")
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	defer m.Delete(session.ID)

	err := session.Tx.Rollback(ctx)
	if errors.Is(err, storage.ErrTransactionClosed) {
		return fmt.Errorf("%w: %s", ErrNotFound, session.ID)
	}
	m.logger.Debug("transaction rolled back", zap.String("tx", session.ID), zap.Error(err))
	return err
}

// Delete forgets a session without touching its transaction.
func (m *Manager) Delete(txID string) {
	m.mu.Lock()
	delete(m.sessions, txID)
	m.mu.Unlock()
}

// Reap rolls back every expired session and returns how many it removed.
func (m *Manager) Reap(ctx context.Context) int {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range all {
		if m.expired(s) {
			m.expire(ctx, s)
			n++
		}
	}
	return n
}

// StartReaper calls Reap every interval until ctx is done.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.ttl / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Reap(ctx); n > 0 {
					m.logger.Info("expired idle transactions", zap.Int("count", n))
				}
			}
		}
	}()
}

// Close rolls back every open session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := m.RollbackAndDelete(ctx, s); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) expired(s *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.nowFunc().After(s.Expires)
}

func (m *Manager) expire(ctx context.Context, s *Session) {
	m.mu.Lock()
	_, present := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	if !present {
		return
	}

	s.mu.Lock()
	err := s.Tx.Rollback(ctx)
	s.mu.Unlock()
	if err != nil && !errors.Is(err, storage.ErrTransactionClosed) {
		m.logger.Warn("rollback of expired transaction failed", zap.String("tx", s.ID), zap.Error(err))
	} else {
		m.logger.Debug("transaction expired", zap.String("tx", s.ID))
	}
	if m.onExpire != nil {
		m.onExpire(s)
	}
}
