package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Executor is the single capability SQLEngine needs from a backend: run one
// statement and get back zero or more rows plus an affected-row count.
// Implementations are expected to serialize statements against one store.
type Executor interface {
	Exec(ctx context.Context, statement string, args ...any) (*StatementResult, error)
}

// StatementResult is the outcome of one statement.
type StatementResult struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// SQLExecutor runs statements through database/sql.
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor wraps an open database handle.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// OpenSQLite opens (or creates) a sqlite database at path. Use ":memory:"
// for a private in-memory database.
//
// The pool is limited to one connection: sqlite allows a single writer, and
// every connection to ":memory:" would otherwise see its own empty database.
func OpenSQLite(path string) (*SQLExecutor, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return &SQLExecutor{db: db}, nil
}

// Exec runs statement. Statements that produce rows (SELECT, WITH, PRAGMA or
// anything with RETURNING) are run as queries; RowsAffected is then the
// number of rows returned.
func (e *SQLExecutor) Exec(ctx context.Context, statement string, args ...any) (*StatementResult, error) {
	if !returnsRows(statement) {
		res, err := e.db.ExecContext(ctx, statement, args...)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		return &StatementResult{RowsAffected: affected}, nil
	}

	rows, err := e.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &StatementResult{Columns: columns}
	for rows.Next() {
		dest := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range dest {
			if b, ok := v.([]byte); ok {
				dest[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowsAffected = int64(len(result.Rows))
	return result, nil
}

// Close closes the underlying database.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

func returnsRows(statement string) bool {
	upper := strings.ToUpper(strings.TrimSpace(statement))
	return strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "WITH") ||
		strings.HasPrefix(upper, "PRAGMA") ||
		strings.Contains(upper, " RETURNING ")
}
