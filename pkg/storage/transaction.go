// Package storage - Transaction support for atomic operations.
//
// # Implementation Strategy
//
// Engines have no native rollback, so a Transaction is an undo journal:
//  1. BEGIN: wrap the engine, start an empty journal
//  2. Operations: apply each write to the engine immediately and record
//     the state it replaced
//  3. COMMIT: drop the journal
//  4. ROLLBACK: replay the journal backwards, restoring every old state
//
// Writes are visible to other readers of the same engine before commit
// (read-uncommitted). Callers that need stronger isolation serialize
// transactions against one store.
//
// # ELI12 (Explain Like I'm 12)
//
// Imagine you're moving furniture in your room, but you write down where
// every piece stood before you moved it. If you change your mind, you walk
// the list backwards and put everything back.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// Transaction errors
var (
	ErrTransactionClosed = errors.New("transaction already closed")
)

// TransactionStatus represents the current state of a transaction.
type TransactionStatus string

const (
	TxStatusActive     TransactionStatus = "active"
	TxStatusCommitted  TransactionStatus = "committed"
	TxStatusRolledBack TransactionStatus = "rolled_back"
)

// OperationType represents the type of operation in a transaction.
type OperationType string

const (
	OpCreateNode OperationType = "create_node"
	OpUpdateNode OperationType = "update_node"
	OpDeleteNode OperationType = "delete_node"
	OpCreateEdge OperationType = "create_edge"
	OpDeleteEdge OperationType = "delete_edge"
)

// Operation is one journal entry. OldNode and OldEdge hold the state to
// restore on rollback; they are nil for creations.
type Operation struct {
	Type      OperationType
	Timestamp time.Time

	NodeID  NodeID
	OldNode *Node

	EdgeID  EdgeID
	OldEdge *Edge
}

// Transaction is an Engine that journals every write against an underlying
// engine so the writes can be undone.
//
// Example:
//
//	tx := storage.NewTransaction(engine)
//	id, err := tx.CreateNode(ctx, []string{"User"}, nil)
//	if err != nil {
//		tx.Rollback(ctx)
//		return err
//	}
//	return tx.Commit()
type Transaction struct {
	mu sync.Mutex

	ID        string
	StartTime time.Time
	Status    TransactionStatus

	operations []Operation
	engine     Engine
}

// NewTransaction starts a transaction over engine.
func NewTransaction(engine Engine) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		Status:    TxStatusActive,
		engine:    engine,
	}
}

// IsActive returns true while the transaction accepts writes.
func (tx *Transaction) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.Status == TxStatusActive
}

// OperationCount returns the number of journaled writes.
func (tx *Transaction) OperationCount() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.operations)
}

// write runs fn with the journal locked. fn returns the entry to record, or
// nil when nothing changed.
func (tx *Transaction) write(fn func() (*Operation, error)) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	op, err := fn()
	if err != nil {
		return err
	}
	if op != nil {
		op.Timestamp = time.Now()
		tx.operations = append(tx.operations, *op)
	}
	return nil
}

// snapshotNode returns the current node or nil when it does not exist.
func (tx *Transaction) snapshotNode(ctx context.Context, id NodeID) (*Node, error) {
	n, err := tx.engine.GetNode(ctx, id)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidID) {
		return nil, nil
	}
	return n, err
}

func (tx *Transaction) snapshotEdge(ctx context.Context, id EdgeID) (*Edge, error) {
	e, err := tx.engine.GetEdge(ctx, id)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidID) {
		return nil, nil
	}
	return e, err
}

// Initialize initializes the underlying engine.
func (tx *Transaction) Initialize(ctx context.Context) error {
	return tx.engine.Initialize(ctx)
}

// CreateNode creates a node and journals its removal.
func (tx *Transaction) CreateNode(ctx context.Context, labels []string, properties value.Map) (NodeID, error) {
	var id NodeID
	err := tx.write(func() (*Operation, error) {
		var err error
		id, err = tx.engine.CreateNode(ctx, labels, properties)
		if err != nil {
			return nil, err
		}
		return &Operation{Type: OpCreateNode, NodeID: id}, nil
	})
	return id, err
}

// UpdateNode merges properties and journals the previous node.
func (tx *Transaction) UpdateNode(ctx context.Context, id NodeID, properties value.Map) error {
	return tx.write(func() (*Operation, error) {
		old, err := tx.snapshotNode(ctx, id)
		if err != nil || old == nil {
			return nil, err
		}
		if err := tx.engine.UpdateNode(ctx, id, properties); err != nil {
			return nil, err
		}
		return &Operation{Type: OpUpdateNode, NodeID: id, OldNode: old}, nil
	})
}

// SetLabels replaces labels and journals the previous node.
func (tx *Transaction) SetLabels(ctx context.Context, id NodeID, labels []string) error {
	return tx.write(func() (*Operation, error) {
		old, err := tx.snapshotNode(ctx, id)
		if err != nil || old == nil {
			return nil, err
		}
		if err := tx.engine.SetLabels(ctx, id, labels); err != nil {
			return nil, err
		}
		return &Operation{Type: OpUpdateNode, NodeID: id, OldNode: old}, nil
	})
}

// DeleteNode deletes a node and journals it for restoration.
func (tx *Transaction) DeleteNode(ctx context.Context, id NodeID) error {
	return tx.write(func() (*Operation, error) {
		old, err := tx.snapshotNode(ctx, id)
		if err != nil || old == nil {
			return nil, err
		}
		if err := tx.engine.DeleteNode(ctx, id); err != nil {
			return nil, err
		}
		return &Operation{Type: OpDeleteNode, NodeID: id, OldNode: old}, nil
	})
}

// CreateEdge creates a relationship and journals its removal.
func (tx *Transaction) CreateEdge(ctx context.Context, edgeType string, start, end NodeID, properties value.Map) (EdgeID, error) {
	var id EdgeID
	err := tx.write(func() (*Operation, error) {
		var err error
		id, err = tx.engine.CreateEdge(ctx, edgeType, start, end, properties)
		if err != nil {
			return nil, err
		}
		return &Operation{Type: OpCreateEdge, EdgeID: id}, nil
	})
	return id, err
}

// DeleteEdge deletes a relationship and journals it for restoration.
func (tx *Transaction) DeleteEdge(ctx context.Context, id EdgeID) error {
	return tx.write(func() (*Operation, error) {
		old, err := tx.snapshotEdge(ctx, id)
		if err != nil || old == nil {
			return nil, err
		}
		if err := tx.engine.DeleteEdge(ctx, id); err != nil {
			return nil, err
		}
		return &Operation{Type: OpDeleteEdge, EdgeID: id, OldEdge: old}, nil
	})
}

// RestoreNode passes through; restores are not journaled.
func (tx *Transaction) RestoreNode(ctx context.Context, node *Node) error {
	return tx.engine.RestoreNode(ctx, node)
}

// RestoreEdge passes through; restores are not journaled.
func (tx *Transaction) RestoreEdge(ctx context.Context, edge *Edge) error {
	return tx.engine.RestoreEdge(ctx, edge)
}

func (tx *Transaction) GetNode(ctx context.Context, id NodeID) (*Node, error) {
	return tx.engine.GetNode(ctx, id)
}

func (tx *Transaction) GetEdge(ctx context.Context, id EdgeID) (*Edge, error) {
	return tx.engine.GetEdge(ctx, id)
}

func (tx *Transaction) AllNodes(ctx context.Context) ([]*Node, error) {
	return tx.engine.AllNodes(ctx)
}

func (tx *Transaction) GetNodesByLabel(ctx context.Context, label string) ([]*Node, error) {
	return tx.engine.GetNodesByLabel(ctx, label)
}

func (tx *Transaction) GetEdgesForNode(ctx context.Context, id NodeID) ([]*Edge, error) {
	return tx.engine.GetEdgesForNode(ctx, id)
}

func (tx *Transaction) NodeCount(ctx context.Context) (int64, error) {
	return tx.engine.NodeCount(ctx)
}

func (tx *Transaction) EdgeCount(ctx context.Context) (int64, error) {
	return tx.engine.EdgeCount(ctx)
}

// Commit keeps every write and closes the transaction.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	tx.operations = nil
	tx.Status = TxStatusCommitted
	return nil
}

// Rollback undoes every journaled write, newest first, and closes the
// transaction. Undo continues past individual failures; all failures are
// returned joined.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}

	var errs []error
	for i := len(tx.operations) - 1; i >= 0; i-- {
		if err := tx.undo(ctx, tx.operations[i]); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", tx.operations[i].Type, err))
		}
	}
	tx.operations = nil
	tx.Status = TxStatusRolledBack
	return errors.Join(errs...)
}

func (tx *Transaction) undo(ctx context.Context, op Operation) error {
	switch op.Type {
	case OpCreateNode:
		return tx.engine.DeleteNode(ctx, op.NodeID)
	case OpUpdateNode, OpDeleteNode:
		return tx.engine.RestoreNode(ctx, op.OldNode)
	case OpCreateEdge:
		return tx.engine.DeleteEdge(ctx, op.EdgeID)
	case OpDeleteEdge:
		return tx.engine.RestoreEdge(ctx, op.OldEdge)
	}
	return fmt.Errorf("unknown operation %q", op.Type)
}

// Close rolls back an active transaction. The underlying engine stays open.
func (tx *Transaction) Close() error {
	err := tx.Rollback(context.Background())
	if errors.Is(err, ErrTransactionClosed) {
		return nil
	}
	return err
}

var _ Engine = (*Transaction)(nil)
