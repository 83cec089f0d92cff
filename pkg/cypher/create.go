package cypher

import (
	"github.com/orneryd/nornicgraph/pkg/storage"
	"github.com/orneryd/nornicgraph/pkg/value"
)

// create executes a CREATE clause once per input row.
//
// Node patterns whose variable is already bound refer to the bound node and
// create nothing; such a pattern may not add labels or properties.
//
// Counters:
//   - nodesCreated / relationshipsCreated per entity
//   - labelsAdded per label on a created node
//   - propertiesSet per non-null property written
func (x *execution) create(c *CreateClause, rows []row) ([]row, error) {
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		nr := r.clone()
		for _, p := range c.Patterns {
			if err := x.createPattern(p, nr); err != nil {
				return nil, err
			}
		}
		out = append(out, nr)
	}
	return out, nil
}

// createPattern creates the unbound parts of p and binds them into r.
func (x *execution) createPattern(p Pattern, r row) error {
	ids := make([]storage.NodeID, len(p.Nodes))
	for i, np := range p.Nodes {
		v, err := x.createNode(np, r)
		if err != nil {
			return err
		}
		n, _ := v.AsNode()
		ids[i] = storage.NodeID(n.ID)
	}
	for i, ep := range p.Edges {
		start, end := ids[i], ids[i+1]
		if ep.Direction == EdgeIncoming {
			start, end = end, start
		}
		if _, err := x.createEdge(ep, start, end, r); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) createNode(np NodePattern, r row) (value.Value, error) {
	if np.Variable != "" {
		if bound, ok := r[np.Variable]; ok {
			if len(np.Labels) > 0 || np.Properties != nil {
				return value.Null(), evalErrorf(np.Variable, "variable already declared")
			}
			if _, isNode := bound.AsNode(); !isNode {
				return value.Null(), evalErrorf(np.Variable, "expected a node, got %s", bound.Kind())
			}
			return bound, nil
		}
	}

	props, err := x.patternProperties(np.Properties, r)
	if err != nil {
		return value.Null(), err
	}
	id, err := x.store.CreateNode(x.ctx, np.Labels, props)
	if err != nil {
		return value.Null(), err
	}
	x.wrote()
	n, err := x.store.GetNode(x.ctx, id)
	if err != nil {
		return value.Null(), err
	}

	x.counters.NodesCreated++
	x.counters.LabelsAdded += int64(len(n.Labels))
	x.counters.PropertiesSet += int64(len(n.Properties))

	v := x.nodeValue(n)
	bindVar(r, np.Variable, v)
	return v, nil
}

func (x *execution) createEdge(ep EdgePattern, start, end storage.NodeID, r row) (value.Value, error) {
	if ep.Variable != "" {
		if _, ok := r[ep.Variable]; ok {
			return value.Null(), evalErrorf(ep.Variable, "variable already declared")
		}
	}
	props, err := x.patternProperties(ep.Properties, r)
	if err != nil {
		return value.Null(), err
	}
	id, err := x.store.CreateEdge(x.ctx, ep.Types[0], start, end, props)
	if err != nil {
		return value.Null(), err
	}
	x.wrote()
	e, err := x.store.GetEdge(x.ctx, id)
	if err != nil {
		return value.Null(), err
	}

	x.counters.RelationshipsCreated++
	x.counters.PropertiesSet += int64(len(e.Properties))

	v := x.edgeValue(e)
	bindVar(r, ep.Variable, v)
	return v, nil
}

// patternProperties evaluates a pattern's property map, dropping nulls.
func (x *execution) patternProperties(m *MapLiteral, r row) (value.Map, error) {
	if m == nil {
		return value.Map{}, nil
	}
	props, err := x.ev.evalMap(m, r)
	if err != nil {
		return nil, err
	}
	for k, v := range props {
		if v.IsNull() {
			delete(props, k)
		}
	}
	return props, nil
}

// merge executes a MERGE clause once per input row: the pattern is matched
// as a whole, and created as a whole when no match exists. ON MATCH items
// run for every matched row, ON CREATE items for the created one.
//
// Rows processed later see what earlier rows created, so merging the same
// pattern twice creates it once.
func (x *execution) merge(c *MergeClause, rows []row) ([]row, error) {
	var out []row
	for _, r := range rows {
		matched, err := x.expandPattern(c.Pattern, partial{r: r})
		if err != nil {
			return nil, err
		}
		if len(matched) > 0 {
			merged := make([]row, len(matched))
			for i, m := range matched {
				merged[i] = m.r
			}
			if err := x.set(c.OnMatch, merged); err != nil {
				return nil, err
			}
			out = append(out, merged...)
			continue
		}

		nr := r.clone()
		if err := x.createPattern(mergeable(c.Pattern), nr); err != nil {
			return nil, err
		}
		if err := x.set(c.OnCreate, []row{nr}); err != nil {
			return nil, err
		}
		out = append(out, nr)
	}
	return out, nil
}

// mergeable returns p with undirected relationships made outgoing, the
// direction MERGE creates them in.
func mergeable(p Pattern) Pattern {
	cp := Pattern{Nodes: p.Nodes, Edges: make([]EdgePattern, len(p.Edges))}
	for i, e := range p.Edges {
		if e.Direction == EdgeBoth {
			e.Direction = EdgeOutgoing
		}
		cp.Edges[i] = e
	}
	return cp
}
