package cypher

import (
	"context"
	"errors"
	"time"

	"github.com/orneryd/nornicgraph/pkg/cache"
	"github.com/orneryd/nornicgraph/pkg/result"
	"github.com/orneryd/nornicgraph/pkg/storage"
	"github.com/orneryd/nornicgraph/pkg/value"
)

// StorageExecutor executes Cypher queries against a storage backend.
//
// Execution runs clause by clause over a set of rows. Each row binds the
// pattern variables seen so far; MATCH multiplies rows, CREATE/SET/DELETE
// act once per row, and RETURN projects rows into records.
//
// The executor never rolls back. When a clause fails, writes made by
// earlier clauses stay in the store; run the query through a
// storage.Transaction when all-or-nothing behavior is needed.
//
// Example:
//
//	exec := cypher.NewStorageExecutor(engine)
//
//	res, _ := exec.Execute(ctx, "CREATE (n:Person {name: $name}) RETURN n", map[string]any{
//		"name": "Alice",
//	})
//	fmt.Println(res.Summary.Counters.NodesCreated) // 1
//
// Thread Safety:
//
//	Execute may be called concurrently; the storage engine is expected to
//	serialize the statements of concurrent queries.
type StorageExecutor struct {
	storage  storage.Engine
	analyzer *QueryAnalyzer
	now      func() time.Time
}

// NewStorageExecutor creates a new Cypher executor with the given storage backend.
func NewStorageExecutor(store storage.Engine) *StorageExecutor {
	return &StorageExecutor{
		storage:  store,
		analyzer: NewQueryAnalyzer(1000),
		now:      time.Now,
	}
}

// WithEngine returns an executor running against store that shares this
// executor's parse cache. It is how a transaction gets an executor over its
// journaling engine.
func (e *StorageExecutor) WithEngine(store storage.Engine) *StorageExecutor {
	cp := *e
	cp.storage = store
	return &cp
}

// Analyze parses cypher (through the cache) without executing it.
func (e *StorageExecutor) Analyze(cypher string) (*QueryInfo, error) {
	return e.analyzer.Analyze(cypher)
}

// CacheStats reports the parsed-query cache statistics.
func (e *StorageExecutor) CacheStats() cache.Stats {
	return e.analyzer.CacheStats()
}

// Execute parses and executes a Cypher query with optional parameters.
//
// Errors:
//   - *SyntaxError when the text does not parse
//   - *EvaluationError for missing or unsupported parameters, unknown
//     variables, projected properties missing from a bound entity, type
//     errors, and deleting a node that still has relationships without DETACH
//   - storage errors wrapped with %w
func (e *StorageExecutor) Execute(ctx context.Context, cypher string, params map[string]any) (*result.QueryResult, error) {
	start := e.now()

	info, err := e.analyzer.Analyze(cypher)
	if err != nil {
		return nil, err
	}

	paramValues, err := convertParams(params)
	if err != nil {
		return nil, err
	}
	for _, name := range info.Query.Parameters {
		if _, ok := paramValues[name]; !ok {
			return nil, evalErrorf("$"+name, "missing parameter")
		}
	}

	if err := e.storage.Initialize(ctx); err != nil {
		return nil, err
	}

	x := &execution{
		ctx:          ctx,
		store:        e.storage,
		ev:           &evaluator{params: paramValues},
		nodes:        make(map[storage.NodeID]*value.Node),
		edges:        make(map[storage.EdgeID]*value.Relationship),
		deletedNodes: make(map[storage.NodeID]bool),
		deletedEdges: make(map[storage.EdgeID]bool),
		scans:        make(map[string][]*storage.Node),
	}

	res := &result.QueryResult{Keys: []string{}, Records: []*result.Record{}}
	rows := []row{{}}
	for _, clause := range info.Query.Clauses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch c := clause.(type) {
		case *MatchClause:
			rows, err = x.match(c, rows)
		case *CreateClause:
			rows, err = x.create(c, rows)
		case *MergeClause:
			rows, err = x.merge(c, rows)
		case *SetClause:
			err = x.set(c.Items, rows)
		case *RemoveClause:
			err = x.remove(c, rows)
		case *DeleteClause:
			err = x.delete(c, rows)
		case *ReturnClause:
			res.Keys, res.Records, err = x.project(c, rows)
		default:
			err = evalErrorf("", "unsupported clause %T", clause)
		}
		if err != nil {
			return nil, err
		}
	}

	elapsed := e.now().Sub(start).Milliseconds()
	res.Summary = result.Summary{
		QueryType:            info.Type(),
		Counters:             x.counters,
		ResultAvailableAfter: elapsed,
		ResultConsumedAfter:  elapsed,
	}
	return res, nil
}

func convertParams(params map[string]any) (value.Map, error) {
	out := make(value.Map, len(params))
	for k, raw := range params {
		v, err := value.FromAny(raw)
		if err != nil {
			return nil, evalErrorf("$"+k, "unsupported parameter value: %v", err)
		}
		out[k] = v
	}
	return out, nil
}

// execution is the state of one Execute call.
type execution struct {
	ctx      context.Context
	store    storage.Engine
	ev       *evaluator
	counters result.Counters

	// One value per entity id, so that every row binding the same entity
	// observes SET and REMOVE made through any other row.
	nodes map[storage.NodeID]*value.Node
	edges map[storage.EdgeID]*value.Relationship

	deletedNodes map[storage.NodeID]bool
	deletedEdges map[storage.EdgeID]bool

	// label -> nodes; "" holds the full scan. Cleared on every write.
	scans map[string][]*storage.Node
}

func (x *execution) wrote() {
	if len(x.scans) > 0 {
		x.scans = make(map[string][]*storage.Node)
	}
}

// nodeValue returns the shared entity value for n, refreshing it from n.
func (x *execution) nodeValue(n *storage.Node) value.Value {
	if cached, ok := x.nodes[n.ID]; ok {
		return value.NodeOf(cached)
	}
	v := &value.Node{ID: int64(n.ID), Labels: n.Labels, Properties: n.Properties}
	x.nodes[n.ID] = v
	return value.NodeOf(v)
}

func (x *execution) edgeValue(e *storage.Edge) value.Value {
	if cached, ok := x.edges[e.ID]; ok {
		return value.RelationshipOf(cached)
	}
	v := &value.Relationship{
		ID:         int64(e.ID),
		Type:       e.Type,
		StartID:    int64(e.StartNode),
		EndID:      int64(e.EndNode),
		Properties: e.Properties,
	}
	x.edges[e.ID] = v
	return value.RelationshipOf(v)
}

// refreshNode re-reads a node after a write and updates the shared value.
func (x *execution) refreshNode(id storage.NodeID) error {
	x.wrote()
	n, err := x.store.GetNode(x.ctx, id)
	if err != nil {
		return err
	}
	if cached, ok := x.nodes[id]; ok {
		cached.Labels = n.Labels
		cached.Properties = n.Properties
		return nil
	}
	x.nodeValue(n)
	return nil
}

// loadNode fetches a node; ok is false when it no longer exists.
func (x *execution) loadNode(id storage.NodeID) (value.Value, bool, error) {
	if x.deletedNodes[id] {
		return value.Null(), false, nil
	}
	n, err := x.store.GetNode(x.ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return value.Null(), false, nil
	}
	if err != nil {
		return value.Null(), false, err
	}
	return x.nodeValue(n), true, nil
}

// scanNodes returns the nodes carrying label, or all nodes for "".
func (x *execution) scanNodes(label string) ([]*storage.Node, error) {
	if nodes, ok := x.scans[label]; ok {
		return nodes, nil
	}
	var (
		nodes []*storage.Node
		err   error
	)
	if label == "" {
		nodes, err = x.store.AllNodes(x.ctx)
	} else {
		nodes, err = x.store.GetNodesByLabel(x.ctx, label)
	}
	if err != nil {
		return nil, err
	}
	x.scans[label] = nodes
	return nodes, nil
}
