// Package storage provides the graph store for NornicGraph.
//
// The store owns nodes and relationships (edges) and exposes the
// create/read/update/delete primitives the Cypher executor builds on. Two
// implementations share the Engine contract:
//
//   - SQLEngine: rows in a relational schema driven through the Executor
//     statement capability (sqlite by default). Labels and properties are
//     stored as JSON text.
//   - BadgerEngine: byte-prefixed keys in BadgerDB with a label index and
//     msgpack-encoded values.
//
// Ids are positive integers assigned by the store, allocated independently
// for nodes and edges, and never reused within a store's lifetime.
//
// Example Usage:
//
//	engine, err := storage.NewBadgerEngineInMemory()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	alice, _ := engine.CreateNode(ctx, []string{"Person"}, value.Map{
//		"name": value.String("Alice"),
//	})
//	bob, _ := engine.CreateNode(ctx, []string{"Person"}, value.Map{
//		"name": value.String("Bob"),
//	})
//	engine.CreateEdge(ctx, "KNOWS", alice, bob, nil)
//
// Thread Safety:
//
//	Engines are safe for concurrent use, but the executor above them assumes
//	statements against one store are serialized (see graphdb.DB).
package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrInvalidType   = errors.New("invalid relationship type: must be non-empty")
	ErrStorageClosed = errors.New("storage closed")
)

// NodeID identifies a node. Valid ids are positive.
type NodeID int64

// EdgeID identifies a relationship. Valid ids are positive and allocated
// independently of NodeIDs.
type EdgeID int64

// Node is a labeled property-graph vertex.
//
// ID is immutable once assigned. UpdatedAt advances on every property or
// label mutation and never on read.
type Node struct {
	ID         NodeID
	Labels     []string
	Properties value.Map
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Edge is a directed, typed relationship between two nodes. Edges are
// immutable after creation except for deletion, so there is no UpdatedAt.
// StartNode and EndNode are stored as given; the store does not check that
// they reference live nodes.
type Edge struct {
	ID         EdgeID
	Type       string
	StartNode  NodeID
	EndNode    NodeID
	Properties value.Map
	CreatedAt  time.Time
}

// HasLabel reports whether n carries label.
func (n *Node) HasLabel(label string) bool {
	return slices.Contains(n.Labels, label)
}

// Value converts n into the entity value bound to pattern variables.
func (n *Node) Value() value.Value {
	return value.NodeOf(&value.Node{
		ID:         int64(n.ID),
		Labels:     slices.Clone(n.Labels),
		Properties: n.Properties,
	})
}

// Value converts e into the entity value bound to pattern variables.
func (e *Edge) Value() value.Value {
	return value.RelationshipOf(&value.Relationship{
		ID:         int64(e.ID),
		Type:       e.Type,
		StartID:    int64(e.StartNode),
		EndID:      int64(e.EndNode),
		Properties: e.Properties,
	})
}

// Engine is the graph store contract.
//
// Reads of a missing id return ErrNotFound. UpdateNode, DeleteNode and
// DeleteEdge on a missing id are no-ops, matching idempotent delete
// semantics. Nil label slices and property maps are stored and returned as
// empty collections.
type Engine interface {
	// Initialize creates the backing structures if absent. It is cheap to
	// call repeatedly; the work runs at most once per engine instance.
	Initialize(ctx context.Context) error

	// Node operations
	CreateNode(ctx context.Context, labels []string, properties value.Map) (NodeID, error)
	GetNode(ctx context.Context, id NodeID) (*Node, error)
	UpdateNode(ctx context.Context, id NodeID, properties value.Map) error
	SetLabels(ctx context.Context, id NodeID, labels []string) error
	DeleteNode(ctx context.Context, id NodeID) error

	// Edge operations
	CreateEdge(ctx context.Context, edgeType string, start, end NodeID, properties value.Map) (EdgeID, error)
	GetEdge(ctx context.Context, id EdgeID) (*Edge, error)
	DeleteEdge(ctx context.Context, id EdgeID) error

	// Scans, in ascending id order.
	AllNodes(ctx context.Context) ([]*Node, error)
	GetNodesByLabel(ctx context.Context, label string) ([]*Node, error)
	GetEdgesForNode(ctx context.Context, id NodeID) ([]*Edge, error)

	// Restore operations write a full row back under its original id. They
	// exist for undo journals and never allocate ids.
	RestoreNode(ctx context.Context, node *Node) error
	RestoreEdge(ctx context.Context, edge *Edge) error

	// Stats, reported per database on /status.
	NodeCount(ctx context.Context) (int64, error)
	EdgeCount(ctx context.Context) (int64, error)

	// Lifecycle
	Close() error
}

// mergeProperties applies updates to existing: keys in updates overwrite,
// null values remove the key, everything else is left untouched.
func mergeProperties(existing, updates value.Map) value.Map {
	merged := existing.Clone()
	for k, v := range updates {
		if v.IsNull() {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// normalizeLabels returns a non-nil copy of labels without duplicates,
// keeping first-occurrence order.
func normalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// normalizeProperties returns a non-nil map with null values dropped.
func normalizeProperties(props value.Map) value.Map {
	out := make(value.Map, len(props))
	for k, v := range props {
		if !v.IsNull() {
			out[k] = v
		}
	}
	return out
}

func copyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Labels = slices.Clone(n.Labels)
	cp.Properties = n.Properties.Clone()
	return &cp
}

func copyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Properties = e.Properties.Clone()
	return &cp
}
