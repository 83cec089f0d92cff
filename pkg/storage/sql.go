package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// schemaStatements create the row shapes. AUTOINCREMENT keeps ids from being
// reused after the highest row is deleted.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		labels TEXT NOT NULL DEFAULT '[]',
		properties TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS relationships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		start_node_id INTEGER NOT NULL,
		end_node_id INTEGER NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_start ON relationships(start_node_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_end ON relationships(end_node_id)`,
}

const (
	nodeColumns = "id, labels, properties, created_at, updated_at"
	edgeColumns = "id, type, start_node_id, end_node_id, properties, created_at"
)

// SQLEngine stores the graph in two tables reached through an Executor.
//
// Labels are stored as a JSON array and properties as a JSON object, so the
// backend only needs plain statements: no JSON functions, no transactions,
// no schema introspection.
//
// Example:
//
//	exec, err := storage.OpenSQLite("./data/graph.db")
//	if err != nil {
//		return err
//	}
//	engine := storage.NewSQLEngine(exec)
//	defer engine.Close()
type SQLEngine struct {
	exec Executor

	initMu      sync.Mutex
	initialized bool
	closed      atomic.Bool

	now func() time.Time
}

// NewSQLEngine creates an engine over exec. The schema is created by the
// first call to Initialize or to any other operation. If exec implements
// io.Closer, Close closes it.
func NewSQLEngine(exec Executor) *SQLEngine {
	return &SQLEngine{exec: exec, now: time.Now}
}

// Initialize creates the tables if absent. Only the first successful call
// touches the backend.
func (s *SQLEngine) Initialize(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStorageClosed
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}
	for _, stmt := range schemaStatements {
		if _, err := s.exec.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	s.initialized = true
	return nil
}

// ============================================================================
// Node Operations
// ============================================================================

// CreateNode inserts a node and returns its new id.
func (s *SQLEngine) CreateNode(ctx context.Context, labels []string, properties value.Map) (NodeID, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	labelText, propText, err := encodeNodeColumns(normalizeLabels(labels), normalizeProperties(properties))
	if err != nil {
		return 0, err
	}
	now := s.now().UnixMilli()
	res, err := s.exec.Exec(ctx,
		`INSERT INTO nodes (labels, properties, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING id`,
		labelText, propText, now, now)
	if err != nil {
		return 0, fmt.Errorf("create node: %w", err)
	}
	id, err := returnedID(res)
	if err != nil {
		return 0, fmt.Errorf("create node: %w", err)
	}
	return NodeID(id), nil
}

// GetNode reads a node by id.
func (s *SQLEngine) GetNode(ctx context.Context, id NodeID) (*Node, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	res, err := s.exec.Exec(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get node %d: %w", id, err)
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	return decodeNodeRow(res.Rows[0])
}

// UpdateNode merges properties into the node. A missing node is a no-op.
func (s *SQLEngine) UpdateNode(ctx context.Context, id NodeID, properties value.Map) error {
	existing, err := s.GetNode(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	merged := mergeProperties(existing.Properties, properties)
	propText, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	updated := nextUpdate(existing.UpdatedAt, s.now())
	if _, err := s.exec.Exec(ctx,
		`UPDATE nodes SET properties = ?, updated_at = ? WHERE id = ?`,
		string(propText), updated.UnixMilli(), int64(id)); err != nil {
		return fmt.Errorf("update node %d: %w", id, err)
	}
	return nil
}

// SetLabels replaces the node's labels. A missing node is a no-op.
func (s *SQLEngine) SetLabels(ctx context.Context, id NodeID, labels []string) error {
	existing, err := s.GetNode(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	labelText, err := json.Marshal(normalizeLabels(labels))
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	updated := nextUpdate(existing.UpdatedAt, s.now())
	if _, err := s.exec.Exec(ctx,
		`UPDATE nodes SET labels = ?, updated_at = ? WHERE id = ?`,
		string(labelText), updated.UnixMilli(), int64(id)); err != nil {
		return fmt.Errorf("set labels on node %d: %w", id, err)
	}
	return nil
}

// DeleteNode removes the node row. Relationships touching it are left
// alone; DETACH semantics belong to the caller.
func (s *SQLEngine) DeleteNode(ctx context.Context, id NodeID) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	if _, err := s.exec.Exec(ctx, `DELETE FROM nodes WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete node %d: %w", id, err)
	}
	return nil
}

// RestoreNode writes node back under its original id.
func (s *SQLEngine) RestoreNode(ctx context.Context, node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID <= 0 {
		return ErrInvalidID
	}
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	labelText, propText, err := encodeNodeColumns(normalizeLabels(node.Labels), normalizeProperties(node.Properties))
	if err != nil {
		return err
	}
	if _, err := s.exec.Exec(ctx,
		`INSERT OR REPLACE INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?)`,
		int64(node.ID), labelText, propText, node.CreatedAt.UnixMilli(), node.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("restore node %d: %w", node.ID, err)
	}
	return nil
}

// AllNodes returns every node in id order.
func (s *SQLEngine) AllNodes(ctx context.Context) ([]*Node, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	res, err := s.exec.Exec(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	nodes := make([]*Node, 0, len(res.Rows))
	for _, row := range res.Rows {
		n, err := decodeNodeRow(row)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// GetNodesByLabel returns the nodes carrying label, in id order. Filtering
// happens after decoding so the backend needs no JSON support.
func (s *SQLEngine) GetNodesByLabel(ctx context.Context, label string) ([]*Node, error) {
	all, err := s.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if n.HasLabel(label) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ============================================================================
// Edge Operations
// ============================================================================

// CreateEdge inserts a relationship and returns its new id.
func (s *SQLEngine) CreateEdge(ctx context.Context, edgeType string, start, end NodeID, properties value.Map) (EdgeID, error) {
	if edgeType == "" {
		return 0, ErrInvalidType
	}
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	propText, err := json.Marshal(normalizeProperties(properties))
	if err != nil {
		return 0, fmt.Errorf("encode properties: %w", err)
	}
	res, err := s.exec.Exec(ctx,
		`INSERT INTO relationships (type, start_node_id, end_node_id, properties, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		edgeType, int64(start), int64(end), string(propText), s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create relationship: %w", err)
	}
	id, err := returnedID(res)
	if err != nil {
		return 0, fmt.Errorf("create relationship: %w", err)
	}
	return EdgeID(id), nil
}

// GetEdge reads a relationship by id.
func (s *SQLEngine) GetEdge(ctx context.Context, id EdgeID) (*Edge, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	res, err := s.exec.Exec(ctx, `SELECT `+edgeColumns+` FROM relationships WHERE id = ?`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get relationship %d: %w", id, err)
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	return decodeEdgeRow(res.Rows[0])
}

// DeleteEdge removes a relationship. A missing id is a no-op.
func (s *SQLEngine) DeleteEdge(ctx context.Context, id EdgeID) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	if _, err := s.exec.Exec(ctx, `DELETE FROM relationships WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete relationship %d: %w", id, err)
	}
	return nil
}

// RestoreEdge writes edge back under its original id.
func (s *SQLEngine) RestoreEdge(ctx context.Context, edge *Edge) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID <= 0 {
		return ErrInvalidID
	}
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	propText, err := json.Marshal(normalizeProperties(edge.Properties))
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	if _, err := s.exec.Exec(ctx,
		`INSERT OR REPLACE INTO relationships (`+edgeColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(edge.ID), edge.Type, int64(edge.StartNode), int64(edge.EndNode), string(propText), edge.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("restore relationship %d: %w", edge.ID, err)
	}
	return nil
}

// GetEdgesForNode returns relationships starting or ending at id.
func (s *SQLEngine) GetEdgesForNode(ctx context.Context, id NodeID) ([]*Edge, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	res, err := s.exec.Exec(ctx,
		`SELECT `+edgeColumns+` FROM relationships WHERE start_node_id = ? OR end_node_id = ? ORDER BY id`,
		int64(id), int64(id))
	if err != nil {
		return nil, fmt.Errorf("scan relationships of node %d: %w", id, err)
	}
	return decodeEdgeRows(res.Rows)
}

// ============================================================================
// Stats and lifecycle
// ============================================================================

// NodeCount returns the number of stored nodes.
func (s *SQLEngine) NodeCount(ctx context.Context) (int64, error) {
	return s.count(ctx, "nodes")
}

// EdgeCount returns the number of stored relationships.
func (s *SQLEngine) EdgeCount(ctx context.Context) (int64, error) {
	return s.count(ctx, "relationships")
}

func (s *SQLEngine) count(ctx context.Context, table string) (int64, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	res, err := s.exec.Exec(ctx, `SELECT COUNT(*) FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0, nil
	}
	return asInt64(res.Rows[0][0])
}

// Close marks the engine closed and closes the executor when it is closable.
func (s *SQLEngine) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c, ok := s.exec.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ============================================================================
// Row decoding helpers
// ============================================================================

func encodeNodeColumns(labels []string, props value.Map) (string, string, error) {
	labelText, err := json.Marshal(labels)
	if err != nil {
		return "", "", fmt.Errorf("encode labels: %w", err)
	}
	propText, err := json.Marshal(props)
	if err != nil {
		return "", "", fmt.Errorf("encode properties: %w", err)
	}
	return string(labelText), string(propText), nil
}

func decodeNodeRow(row []any) (*Node, error) {
	if len(row) != 5 {
		return nil, fmt.Errorf("%w: node row has %d columns", ErrInvalidData, len(row))
	}
	id, err := asInt64(row[0])
	if err != nil {
		return nil, err
	}
	labels := []string{}
	if text := asString(row[1]); text != "" {
		if err := json.Unmarshal([]byte(text), &labels); err != nil {
			return nil, fmt.Errorf("decode labels of node %d: %w", id, err)
		}
	}
	if labels == nil {
		labels = []string{}
	}
	props, err := value.ParseJSONMap(asString(row[2]))
	if err != nil {
		return nil, fmt.Errorf("decode properties of node %d: %w", id, err)
	}
	created, err := asInt64(row[3])
	if err != nil {
		return nil, err
	}
	updated, err := asInt64(row[4])
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:         NodeID(id),
		Labels:     labels,
		Properties: props,
		CreatedAt:  time.UnixMilli(created),
		UpdatedAt:  time.UnixMilli(updated),
	}, nil
}

func decodeEdgeRows(rows [][]any) ([]*Edge, error) {
	edges := make([]*Edge, 0, len(rows))
	for _, row := range rows {
		e, err := decodeEdgeRow(row)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func decodeEdgeRow(row []any) (*Edge, error) {
	if len(row) != 6 {
		return nil, fmt.Errorf("%w: relationship row has %d columns", ErrInvalidData, len(row))
	}
	ints := make([]int64, 0, 4)
	for _, idx := range []int{0, 2, 3, 5} {
		v, err := asInt64(row[idx])
		if err != nil {
			return nil, err
		}
		ints = append(ints, v)
	}
	props, err := value.ParseJSONMap(asString(row[4]))
	if err != nil {
		return nil, fmt.Errorf("decode properties of relationship %d: %w", ints[0], err)
	}
	return &Edge{
		ID:         EdgeID(ints[0]),
		Type:       asString(row[1]),
		StartNode:  NodeID(ints[1]),
		EndNode:    NodeID(ints[2]),
		Properties: props,
		CreatedAt:  time.UnixMilli(ints[3]),
	}, nil
}

func returnedID(res *StatementResult) (int64, error) {
	if res == nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0, fmt.Errorf("%w: statement returned no id", ErrInvalidData)
	}
	return asInt64(res.Rows[0][0])
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: expected integer column, got %T", ErrInvalidData, v)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

// nextUpdate returns a timestamp strictly after prev so that UpdatedAt
// advances even when two writes land in the same millisecond.
func nextUpdate(prev, now time.Time) time.Time {
	now = now.Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}
