package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixNode          = byte(0x01) // nodes:nodeID -> Node
	prefixEdge          = byte(0x02) // edges:edgeID -> Edge
	prefixLabelIndex    = byte(0x03) // label:labelName:nodeID -> []byte{}
	prefixOutgoingIndex = byte(0x04) // outgoing:nodeID:edgeID -> []byte{}
	prefixIncomingIndex = byte(0x05) // incoming:nodeID:edgeID -> []byte{}
	prefixSequence      = byte(0x10) // sequence:name -> badger.Sequence state
)

// sequenceBandwidth is how many ids a sequence leases per disk write.
const sequenceBandwidth = 128

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Nodes: 0x01 + nodeID(8 bytes BE) -> msgpack(storedNode)
//   - Edges: 0x02 + edgeID(8 bytes BE) -> msgpack(storedEdge)
//   - Label Index: 0x03 + label + 0x00 + nodeID -> empty
//   - Outgoing Index: 0x04 + nodeID + edgeID -> empty
//   - Incoming Index: 0x05 + nodeID + edgeID -> empty
//
// Big-endian ids keep prefix scans in ascending id order, which is the
// order every scan in the Engine contract promises.
//
// Ids come from badger sequences, so they are never reused even across
// restarts (a restart may skip up to one leased block).
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/graph")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	id, _ := engine.CreateNode(ctx, []string{"User"}, value.Map{
//		"name": value.String("Alice"),
//	})
type BadgerEngine struct {
	db *badger.DB

	mu      sync.RWMutex // Protects closed and the sequences
	closed  bool
	nodeSeq *badger.Sequence
	edgeSeq *badger.Sequence

	now func() time.Time
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB stays quiet.
	Logger badger.Logger
}

// NewBadgerEngine creates a persistent engine rooted at dataDir.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// The memory settings are always the constrained ones: the graph store is
// expected to run in containers next to the HTTP service.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{db: db, now: time.Now}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// Initialize leases the id sequences. Later calls are no-ops.
func (b *BadgerEngine) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked()
}

func (b *BadgerEngine) initLocked() error {
	if b.closed {
		return ErrStorageClosed
	}
	if b.nodeSeq != nil && b.edgeSeq != nil {
		return nil
	}
	if b.nodeSeq == nil {
		seq, err := b.db.GetSequence([]byte{prefixSequence, 'n'}, sequenceBandwidth)
		if err != nil {
			return fmt.Errorf("lease node sequence: %w", err)
		}
		b.nodeSeq = seq
	}
	if b.edgeSeq == nil {
		seq, err := b.db.GetSequence([]byte{prefixSequence, 'e'}, sequenceBandwidth)
		if err != nil {
			return fmt.Errorf("lease relationship sequence: %w", err)
		}
		b.edgeSeq = seq
	}
	return nil
}

// nextID hands out the next id from seq. Sequences start at zero; ids start
// at one.
func (b *BadgerEngine) nextID(pick func() *badger.Sequence) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.initLocked(); err != nil {
		return 0, err
	}
	n, err := pick().Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func idBytes(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, idBytes(int64(id))...)
}

func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, idBytes(int64(id))...)
}

// labelIndexKey: prefix + label + 0x00 + nodeID
func labelIndexKey(label string, nodeID NodeID) []byte {
	key := labelIndexPrefix(label)
	return append(key, idBytes(int64(nodeID))...)
}

func labelIndexPrefix(label string) []byte {
	key := make([]byte, 0, len(label)+2)
	key = append(key, prefixLabelIndex)
	key = append(key, label...)
	return append(key, 0x00)
}

func adjacencyKey(prefix byte, nodeID NodeID, edgeID EdgeID) []byte {
	key := adjacencyPrefix(prefix, nodeID)
	return append(key, idBytes(int64(edgeID))...)
}

func adjacencyPrefix(prefix byte, nodeID NodeID) []byte {
	return append([]byte{prefix}, idBytes(int64(nodeID))...)
}

// trailingID reads the 8-byte id at the end of an index key.
func trailingID(key []byte) int64 {
	if len(key) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// ============================================================================
// Serialization
// ============================================================================

type storedNode struct {
	Labels     []string  `msgpack:"l"`
	Properties value.Map `msgpack:"p"`
	CreatedAt  int64     `msgpack:"c"`
	UpdatedAt  int64     `msgpack:"u"`
}

type storedEdge struct {
	Type       string    `msgpack:"t"`
	StartNode  int64     `msgpack:"s"`
	EndNode    int64     `msgpack:"e"`
	Properties value.Map `msgpack:"p"`
	CreatedAt  int64     `msgpack:"c"`
}

func encodeNode(n *Node) ([]byte, error) {
	return msgpack.Marshal(&storedNode{
		Labels:     n.Labels,
		Properties: n.Properties,
		CreatedAt:  n.CreatedAt.UnixNano(),
		UpdatedAt:  n.UpdatedAt.UnixNano(),
	})
}

func decodeNode(id NodeID, data []byte) (*Node, error) {
	var s storedNode
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode node %d: %w", id, err)
	}
	if s.Labels == nil {
		s.Labels = []string{}
	}
	if s.Properties == nil {
		s.Properties = value.Map{}
	}
	return &Node{
		ID:         id,
		Labels:     s.Labels,
		Properties: s.Properties,
		CreatedAt:  time.Unix(0, s.CreatedAt),
		UpdatedAt:  time.Unix(0, s.UpdatedAt),
	}, nil
}

func encodeEdge(e *Edge) ([]byte, error) {
	return msgpack.Marshal(&storedEdge{
		Type:       e.Type,
		StartNode:  int64(e.StartNode),
		EndNode:    int64(e.EndNode),
		Properties: e.Properties,
		CreatedAt:  e.CreatedAt.UnixNano(),
	})
}

func decodeEdge(id EdgeID, data []byte) (*Edge, error) {
	var s storedEdge
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode relationship %d: %w", id, err)
	}
	if s.Properties == nil {
		s.Properties = value.Map{}
	}
	return &Edge{
		ID:         id,
		Type:       s.Type,
		StartNode:  NodeID(s.StartNode),
		EndNode:    NodeID(s.EndNode),
		Properties: s.Properties,
		CreatedAt:  time.Unix(0, s.CreatedAt),
	}, nil
}

// ============================================================================
// Node Operations
// ============================================================================

// CreateNode creates a new node in persistent storage.
func (b *BadgerEngine) CreateNode(ctx context.Context, labels []string, properties value.Map) (NodeID, error) {
	raw, err := b.nextID(func() *badger.Sequence { return b.nodeSeq })
	if err != nil {
		return 0, err
	}
	now := b.now()
	node := &Node{
		ID:         NodeID(raw),
		Labels:     normalizeLabels(labels),
		Properties: normalizeProperties(properties),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return putNode(txn, node, nil)
	}); err != nil {
		return 0, err
	}
	return node.ID, nil
}

// putNode stores node and rewrites its label index entries. previous holds
// the labels currently indexed, if any.
func putNode(txn *badger.Txn, node *Node, previous []string) error {
	data, err := encodeNode(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	if err := txn.Set(nodeKey(node.ID), data); err != nil {
		return err
	}
	for _, label := range previous {
		if err := txn.Delete(labelIndexKey(label, node.ID)); err != nil {
			return err
		}
	}
	for _, label := range node.Labels {
		if err := txn.Set(labelIndexKey(label, node.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func getNodeInTxn(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var node *Node
	err = item.Value(func(val []byte) error {
		var decodeErr error
		node, decodeErr = decodeNode(id, val)
		return decodeErr
	})
	return node, err
}

// GetNode retrieves a node by ID.
func (b *BadgerEngine) GetNode(ctx context.Context, id NodeID) (*Node, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		node, err = getNodeInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNode merges properties into an existing node.
func (b *BadgerEngine) UpdateNode(ctx context.Context, id NodeID, properties value.Map) error {
	return b.mutateNode(id, func(n *Node) {
		n.Properties = mergeProperties(n.Properties, properties)
	})
}

// SetLabels replaces the node's labels and its label index entries.
func (b *BadgerEngine) SetLabels(ctx context.Context, id NodeID, labels []string) error {
	return b.mutateNode(id, func(n *Node) {
		n.Labels = normalizeLabels(labels)
	})
}

func (b *BadgerEngine) mutateNode(id NodeID, fn func(*Node)) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		node, err := getNodeInTxn(txn, id)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		previous := node.Labels
		fn(node)
		node.UpdatedAt = nextUpdate(node.UpdatedAt, b.now())
		return putNode(txn, node, previous)
	})
}

// DeleteNode removes a node and its label index entries. Relationships are
// left in place; adjacency entries that point at them remain valid.
func (b *BadgerEngine) DeleteNode(ctx context.Context, id NodeID) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		node, err := getNodeInTxn(txn, id)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		for _, label := range node.Labels {
			if err := txn.Delete(labelIndexKey(label, id)); err != nil {
				return err
			}
		}
		return txn.Delete(nodeKey(id))
	})
}

// RestoreNode writes node back under its original id.
func (b *BadgerEngine) RestoreNode(ctx context.Context, node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID <= 0 {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	restored := copyNode(node)
	restored.Labels = normalizeLabels(restored.Labels)
	restored.Properties = normalizeProperties(restored.Properties)
	return b.db.Update(func(txn *badger.Txn) error {
		var previous []string
		if existing, err := getNodeInTxn(txn, node.ID); err == nil {
			previous = existing.Labels
		} else if err != ErrNotFound {
			return err
		}
		return putNode(txn, restored, previous)
	})
}

// ============================================================================
// Edge Operations
// ============================================================================

// CreateEdge creates a relationship and its adjacency index entries.
func (b *BadgerEngine) CreateEdge(ctx context.Context, edgeType string, start, end NodeID, properties value.Map) (EdgeID, error) {
	if edgeType == "" {
		return 0, ErrInvalidType
	}
	raw, err := b.nextID(func() *badger.Sequence { return b.edgeSeq })
	if err != nil {
		return 0, err
	}
	edge := &Edge{
		ID:         EdgeID(raw),
		Type:       edgeType,
		StartNode:  start,
		EndNode:    end,
		Properties: normalizeProperties(properties),
		CreatedAt:  b.now(),
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return putEdge(txn, edge)
	}); err != nil {
		return 0, err
	}
	return edge.ID, nil
}

func putEdge(txn *badger.Txn, edge *Edge) error {
	data, err := encodeEdge(edge)
	if err != nil {
		return fmt.Errorf("failed to encode relationship: %w", err)
	}
	if err := txn.Set(edgeKey(edge.ID), data); err != nil {
		return err
	}
	if err := txn.Set(adjacencyKey(prefixOutgoingIndex, edge.StartNode, edge.ID), []byte{}); err != nil {
		return err
	}
	return txn.Set(adjacencyKey(prefixIncomingIndex, edge.EndNode, edge.ID), []byte{})
}

func getEdgeInTxn(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var edge *Edge
	err = item.Value(func(val []byte) error {
		var decodeErr error
		edge, decodeErr = decodeEdge(id, val)
		return decodeErr
	})
	return edge, err
}

// GetEdge retrieves a relationship by ID.
func (b *BadgerEngine) GetEdge(ctx context.Context, id EdgeID) (*Edge, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var edge *Edge
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		edge, err = getEdgeInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// DeleteEdge removes a relationship and its adjacency entries.
func (b *BadgerEngine) DeleteEdge(ctx context.Context, id EdgeID) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		edge, err := getEdgeInTxn(txn, id)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(adjacencyKey(prefixOutgoingIndex, edge.StartNode, id)); err != nil {
			return err
		}
		if err := txn.Delete(adjacencyKey(prefixIncomingIndex, edge.EndNode, id)); err != nil {
			return err
		}
		return txn.Delete(edgeKey(id))
	})
}

// RestoreEdge writes edge back under its original id.
func (b *BadgerEngine) RestoreEdge(ctx context.Context, edge *Edge) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID <= 0 {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	restored := copyEdge(edge)
	restored.Properties = normalizeProperties(restored.Properties)
	return b.db.Update(func(txn *badger.Txn) error {
		return putEdge(txn, restored)
	})
}

// ============================================================================
// Query Operations
// ============================================================================

// AllNodes returns every node in id order.
func (b *BadgerEngine) AllNodes(ctx context.Context) ([]*Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	nodes := []*Node{}
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixNode}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := NodeID(trailingID(item.Key()))
			if err := item.Value(func(val []byte) error {
				node, err := decodeNode(id, val)
				if err != nil {
					return err
				}
				nodes = append(nodes, node)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNodesByLabel returns all nodes with the given label via the label
// index.
func (b *BadgerEngine) GetNodesByLabel(ctx context.Context, label string) ([]*Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	nodes := []*Node{}
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := labelIndexPrefix(label)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			nodeID := NodeID(trailingID(it.Item().Key()))
			node, err := getNodeInTxn(txn, nodeID)
			if err == ErrNotFound {
				continue // index entry outlived the node
			}
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetEdgesForNode returns the relationships starting or ending at id, each
// once, in id order.
func (b *BadgerEngine) GetEdgesForNode(ctx context.Context, id NodeID) ([]*Edge, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	seen := make(map[EdgeID]bool)
	edges := []*Edge{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		for _, p := range []byte{prefixOutgoingIndex, prefixIncomingIndex} {
			prefix := adjacencyPrefix(p, id)
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				edgeID := EdgeID(trailingID(it.Item().Key()))
				if seen[edgeID] {
					continue
				}
				seen[edgeID] = true
				edge, err := getEdgeInTxn(txn, edgeID)
				if err == ErrNotFound {
					continue
				}
				if err != nil {
					it.Close()
					return err
				}
				edges = append(edges, edge)
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

// ============================================================================
// Stats
// ============================================================================

// NodeCount returns the total number of nodes.
func (b *BadgerEngine) NodeCount(ctx context.Context) (int64, error) {
	return b.countPrefix(prefixNode)
}

// EdgeCount returns the total number of relationships.
func (b *BadgerEngine) EdgeCount(ctx context.Context) (int64, error) {
	return b.countPrefix(prefixEdge)
}

func (b *BadgerEngine) countPrefix(p byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{p}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the id leases and closes the BadgerDB database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, seq := range []*badger.Sequence{b.nodeSeq, b.edgeSeq} {
		if seq == nil {
			continue
		}
		if err := seq.Release(); err != nil {
			b.db.Close()
			return fmt.Errorf("release sequence: %w", err)
		}
	}
	return b.db.Close()
}
