// Package graphdb is the server-side facade over the graph engine.
//
// A DB pairs one storage engine with a Cypher executor and a write clock
// used for bookmarks. A Catalog holds the named databases, and Service
// implements the driver protocol (auto-commit runs and explicit
// transactions) on top of both.
//
// Example:
//
//	engine, _ := storage.NewBadgerEngine("./data/neo4j")
//	db := graphdb.New("neo4j", engine, logger)
//	defer db.Close()
//
//	res, err := db.Execute(ctx, "CREATE (n:Person {name: $name})", map[string]any{"name": "Alice"})
//	fmt.Println(res.Bookmarks) // [nornicgraph:neo4j:1]
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/cypher"
	"github.com/orneryd/nornicgraph/pkg/result"
	"github.com/orneryd/nornicgraph/pkg/storage"
)

// bookmarkPrefix starts every bookmark this server issues.
const bookmarkPrefix = "nornicgraph"

// DB is one named graph database.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Close waits for running
//	queries to finish.
type DB struct {
	name     string
	storage  storage.Engine
	executor *cypher.StorageExecutor
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool

	clock    atomic.Int64
	waitMu   sync.Mutex
	advanced chan struct{}
}

// New wraps engine as the database called name. A nil logger discards output.
func New(name string, engine storage.Engine, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		name:     name,
		storage:  engine,
		executor: cypher.NewStorageExecutor(engine),
		logger:   logger.With(zap.String("database", name)),
		advanced: make(chan struct{}),
	}
}

// Name returns the database name.
func (db *DB) Name() string { return db.name }

// Storage returns the underlying engine.
func (db *DB) Storage() storage.Engine { return db.storage }

// Executor returns the Cypher executor bound to the engine.
func (db *DB) Executor() *cypher.StorageExecutor { return db.executor }

// Clock returns the number of committed writes so far.
func (db *DB) Clock() int64 { return db.clock.Load() }

// Bookmark returns the bookmark for the current clock value.
func (db *DB) Bookmark() string {
	return FormatBookmark(db.name, db.clock.Load())
}

// Advance moves the write clock forward by one and wakes bookmark waiters.
func (db *DB) Advance() int64 {
	n := db.clock.Add(1)
	db.waitMu.Lock()
	close(db.advanced)
	db.advanced = make(chan struct{})
	db.waitMu.Unlock()
	return n
}

// Execute runs query as an auto-commit query. The query runs inside an
// undo journal, so a failure leaves no writes behind. A query that changed
// anything advances the clock; the result carries the resulting bookmark.
func (db *DB) Execute(ctx context.Context, query string, params map[string]any) (*result.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	if err := db.storage.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	tx := storage.NewTransaction(db.storage)
	res, err := db.executor.WithEngine(tx).Execute(ctx, query, params)
	if err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			db.logger.Warn("auto-commit rollback failed", zap.Error(rbErr))
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if res.Summary.Counters.ContainsUpdates() {
		db.Advance()
	}
	res.Summary.Database = db.name
	res.Bookmarks = []string{db.Bookmark()}
	return res, nil
}

// AwaitBookmarks blocks until the clock reaches every bookmark issued for
// this database, or ctx ends. Bookmarks of other databases are ignored.
func (db *DB) AwaitBookmarks(ctx context.Context, bookmarks []string) error {
	var target int64
	for _, b := range bookmarks {
		name, clock, err := ParseBookmark(b)
		if err != nil {
			return err
		}
		if name == db.name && clock > target {
			target = clock
		}
	}

	for {
		db.waitMu.Lock()
		ch := db.advanced
		db.waitMu.Unlock()
		if db.clock.Load() >= target {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s needs clock %d, at %d", ErrBookmarkTimeout, db.name, target, db.clock.Load())
		}
	}
}

// Close closes the storage engine. Calling Close more than once is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if err := db.storage.Close(); err != nil && !errors.Is(err, storage.ErrStorageClosed) {
		return fmt.Errorf("closing storage for %s: %w", db.name, err)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (db *DB) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// FormatBookmark renders the bookmark for clock on database name.
func FormatBookmark(name string, clock int64) string {
	return bookmarkPrefix + ":" + name + ":" + strconv.FormatInt(clock, 10)
}

// ParseBookmark splits a bookmark into its database name and clock value.
func ParseBookmark(bookmark string) (string, int64, error) {
	rest, ok := strings.CutPrefix(bookmark, bookmarkPrefix+":")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidBookmark, bookmark)
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidBookmark, bookmark)
	}
	clock, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil || clock < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidBookmark, bookmark)
	}
	return rest[:i], clock, nil
}
