package cypher

import (
	"slices"

	"github.com/orneryd/nornicgraph/pkg/storage"
	"github.com/orneryd/nornicgraph/pkg/value"
)

// ============================================================================
// SET
// ============================================================================

// set applies SET items row by row. A null target is skipped; relationships
// are immutable and cannot be targeted.
func (x *execution) set(items []SetItem, rows []row) error {
	for _, r := range rows {
		for _, item := range items {
			n, err := x.writableNode(item.Variable, r)
			if err != nil {
				return err
			}
			if n == nil {
				continue
			}
			if err := x.setItem(item, n, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *execution) setItem(item SetItem, n *value.Node, r row) error {
	id := storage.NodeID(n.ID)

	if item.Kind == SetLabels {
		labels := slices.Clone(n.Labels)
		for _, l := range item.Labels {
			if !slices.Contains(labels, l) {
				labels = append(labels, l)
				x.counters.LabelsAdded++
			}
		}
		if len(labels) == len(n.Labels) {
			return nil
		}
		if err := x.store.SetLabels(x.ctx, id, labels); err != nil {
			return err
		}
		return x.refreshNode(id)
	}

	v, err := x.ev.eval(item.Value, r)
	if err != nil {
		return err
	}

	var updates value.Map
	switch item.Kind {
	case SetProperty:
		updates = value.Map{item.Property: v}
	case SetMerge, SetReplace:
		m, err := assignableMap(item.Variable, v)
		if err != nil {
			return err
		}
		updates = m.Clone()
		if item.Kind == SetReplace {
			for k := range n.Properties {
				if _, keep := updates[k]; !keep {
					updates[k] = value.Null()
				}
			}
		}
	}

	changed := 0
	for k, nv := range updates {
		if nv.IsNull() {
			if _, had := n.Properties[k]; !had {
				delete(updates, k)
				continue
			}
		}
		changed++
	}
	if changed == 0 {
		return nil
	}
	if err := x.store.UpdateNode(x.ctx, id, updates); err != nil {
		return err
	}
	x.counters.PropertiesSet += int64(changed)
	return x.refreshNode(id)
}

// assignableMap converts the right-hand side of "n += ..." or "n = ...".
func assignableMap(variable string, v value.Value) (value.Map, error) {
	switch v.Kind() {
	case value.KindNull:
		return value.Map{}, nil
	case value.KindMap, value.KindNode, value.KindRelationship:
		props, _, err := propertiesOf(variable, v)
		return props, err
	}
	return nil, evalErrorf(variable, "expected a map, got %s", v.Kind())
}

// writableNode resolves a SET or REMOVE target. It returns nil for null.
func (x *execution) writableNode(variable string, r row) (*value.Node, error) {
	v, ok := r[variable]
	if !ok {
		return nil, evalErrorf(variable, "variable not defined")
	}
	switch v.Kind() {
	case value.KindNull:
		return nil, nil
	case value.KindNode:
		n, _ := v.AsNode()
		if x.deletedNodes[storage.NodeID(n.ID)] {
			return nil, evalErrorf(variable, "node %d has been deleted", n.ID)
		}
		return n, nil
	case value.KindRelationship:
		return nil, evalErrorf(variable, "relationships are immutable")
	}
	return nil, evalErrorf(variable, "expected a node, got %s", v.Kind())
}

// ============================================================================
// REMOVE
// ============================================================================

func (x *execution) remove(c *RemoveClause, rows []row) error {
	for _, r := range rows {
		for _, item := range c.Items {
			n, err := x.writableNode(item.Variable, r)
			if err != nil {
				return err
			}
			if n == nil {
				continue
			}
			id := storage.NodeID(n.ID)

			if item.Property != "" {
				if _, had := n.Properties[item.Property]; !had {
					continue
				}
				if err := x.store.UpdateNode(x.ctx, id, value.Map{item.Property: value.Null()}); err != nil {
					return err
				}
				x.counters.PropertiesSet++
				if err := x.refreshNode(id); err != nil {
					return err
				}
				continue
			}

			labels := slices.DeleteFunc(slices.Clone(n.Labels), func(l string) bool {
				return slices.Contains(item.Labels, l)
			})
			removed := len(n.Labels) - len(labels)
			if removed == 0 {
				continue
			}
			if err := x.store.SetLabels(x.ctx, id, labels); err != nil {
				return err
			}
			x.counters.LabelsRemoved += int64(removed)
			if err := x.refreshNode(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
// DELETE
// ============================================================================

// delete gathers the entities named by every row, then removes
// relationships before nodes. Without DETACH a node that keeps a
// relationship not deleted by the same clause is an error, detected before
// anything is removed.
func (x *execution) delete(c *DeleteClause, rows []row) error {
	var (
		nodeIDs []storage.NodeID
		edgeIDs []storage.EdgeID
	)
	for _, r := range rows {
		for _, expr := range c.Expressions {
			v, err := x.ev.eval(expr, r)
			if err != nil {
				return err
			}
			switch v.Kind() {
			case value.KindNull:
			case value.KindNode:
				n, _ := v.AsNode()
				if id := storage.NodeID(n.ID); !slices.Contains(nodeIDs, id) {
					nodeIDs = append(nodeIDs, id)
				}
			case value.KindRelationship:
				rel, _ := v.AsRelationship()
				if id := storage.EdgeID(rel.ID); !slices.Contains(edgeIDs, id) {
					edgeIDs = append(edgeIDs, id)
				}
			default:
				return evalErrorf(exprName(expr), "cannot delete %s", v.Kind())
			}
		}
	}

	attached := make(map[storage.NodeID][]storage.EdgeID, len(nodeIDs))
	for _, id := range nodeIDs {
		if x.deletedNodes[id] {
			continue
		}
		edges, err := x.store.GetEdgesForNode(x.ctx, id)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if x.deletedEdges[e.ID] || slices.Contains(edgeIDs, e.ID) {
				continue
			}
			if !c.Detach {
				return evalErrorf(exprName(c.Expressions[0]),
					"cannot delete node %d: it still has relationships; use DETACH DELETE", id)
			}
			attached[id] = append(attached[id], e.ID)
		}
	}

	for _, id := range nodeIDs {
		edgeIDs = append(edgeIDs, attached[id]...)
	}
	for _, id := range edgeIDs {
		if x.deletedEdges[id] {
			continue
		}
		if err := x.store.DeleteEdge(x.ctx, id); err != nil {
			return err
		}
		x.deletedEdges[id] = true
		x.counters.RelationshipsDeleted++
	}
	for _, id := range nodeIDs {
		if x.deletedNodes[id] {
			continue
		}
		if err := x.store.DeleteNode(x.ctx, id); err != nil {
			return err
		}
		x.deletedNodes[id] = true
		x.counters.NodesDeleted++
	}
	x.wrote()
	return nil
}

func exprName(expr Expression) string {
	if v, ok := expr.(*Variable); ok {
		return v.Name
	}
	return ""
}
