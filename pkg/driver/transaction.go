package driver

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/result"
)

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
	txFailed // begin was rejected
)

// Transaction is an explicit transaction owned by one Session.
//
// State machine:
//
//	Open -> Committed   (Commit succeeded)
//	Open -> RolledBack  (Rollback, whatever the server answered)
//
// A failed Commit leaves the transaction Open so it can be rolled back.
type Transaction struct {
	session    *Session
	id         string
	accessMode AccessMode

	mu    sync.Mutex
	state txState
}

// ID returns the server-assigned transaction id.
func (tx *Transaction) ID() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.id
}

// AccessMode returns the mode the server granted.
func (tx *Transaction) AccessMode() AccessMode {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.accessMode
}

// IsOpen reports whether the transaction still accepts queries.
func (tx *Transaction) IsOpen() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state == txOpen
}

// Run executes query inside the transaction. Results carry no bookmarks;
// those arrive with the commit.
func (tx *Transaction) Run(ctx context.Context, query string, params map[string]any) (*result.QueryResult, error) {
	id, err := tx.openID()
	if err != nil {
		return nil, err
	}
	return tx.session.driver.endpoint.RunInTransaction(ctx, id, graphdb.TxRunRequest{
		Query:      query,
		Parameters: params,
	})
}

// Commit makes the transaction's writes durable and hands the resulting
// bookmarks to the session. When the session closed the transaction while
// the commit was in flight, the transaction stays RolledBack, the session's
// bookmarks are left alone and Commit reports a closed transaction.
func (tx *Transaction) Commit(ctx context.Context) error {
	id, err := tx.openID()
	if err != nil {
		return err
	}
	resp, err := tx.session.driver.endpoint.Commit(ctx, id)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	if tx.state != txOpen {
		tx.mu.Unlock()
		return &TransactionStateError{Reason: ReasonClosed}
	}
	tx.state = txCommitted
	tx.mu.Unlock()
	tx.session.updateBookmarks(resp.Bookmarks)
	tx.session.release(tx)
	tx.session.logger.Debug("transaction committed", zap.String("tx", id))
	return nil
}

// Rollback discards the transaction's writes. It is a no-op once the
// transaction has finished. The transaction is RolledBack afterwards even
// when the server reports an error.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	if tx.state != txOpen {
		tx.mu.Unlock()
		return nil
	}
	tx.state = txRolledBack
	id := tx.id
	tx.mu.Unlock()
	defer tx.session.release(tx)

	// A begin still in flight has no id yet; it rolls itself back on arrival.
	if id == "" {
		return nil
	}
	return tx.session.driver.endpoint.Rollback(ctx, id)
}

func (tx *Transaction) openID() (string, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txOpen {
		return "", &TransactionStateError{Reason: ReasonClosed}
	}
	if tx.session.driver.isClosed() {
		return "", &DriverClosedError{}
	}
	return tx.id, nil
}
