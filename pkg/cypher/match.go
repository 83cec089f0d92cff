package cypher

import (
	"slices"

	"github.com/orneryd/nornicgraph/pkg/storage"
	"github.com/orneryd/nornicgraph/pkg/value"
)

// partial is a row under construction while a MATCH expands its patterns,
// together with the relationships it already uses. A relationship binds at
// most once per MATCH clause.
type partial struct {
	r    row
	used []storage.EdgeID
}

// match executes a MATCH clause for every input row.
//
// Each input row expands into one output row per way the patterns can be
// bound, filtered by WHERE. OPTIONAL MATCH keeps an input row that found
// nothing and binds the clause's new variables to null.
func (x *execution) match(c *MatchClause, rows []row) ([]row, error) {
	var out []row
	for _, r := range rows {
		matched, err := x.matchPatterns(c.Patterns, r)
		if err != nil {
			return nil, err
		}
		kept := matched[:0]
		for _, m := range matched {
			if c.Where != nil {
				ok, err := x.ev.matches(c.Where, m)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 && c.Optional {
			nr := r.clone()
			for _, name := range patternVariables(c.Patterns) {
				if _, bound := nr[name]; !bound {
					nr[name] = value.Null()
				}
			}
			out = append(out, nr)
			continue
		}
		out = append(out, kept...)
	}
	return out, nil
}

// matchPatterns binds every pattern in turn, each extending the rows of the
// one before.
func (x *execution) matchPatterns(patterns []Pattern, r row) ([]row, error) {
	parts := []partial{{r: r}}
	for _, p := range patterns {
		var next []partial
		for _, base := range parts {
			expanded, err := x.expandPattern(p, base)
			if err != nil {
				return nil, err
			}
			next = append(next, expanded...)
		}
		parts = next
		if len(parts) == 0 {
			return nil, nil
		}
	}
	rows := make([]row, len(parts))
	for i, p := range parts {
		rows[i] = p.r
	}
	return rows, nil
}

// expandPattern finds every binding of p consistent with base.
func (x *execution) expandPattern(p Pattern, base partial) ([]partial, error) {
	candidates, err := x.nodeCandidates(p.Nodes[0], base.r)
	if err != nil {
		return nil, err
	}
	var out []partial
	for _, cand := range candidates {
		r := base.r.clone()
		bindVar(r, p.Nodes[0].Variable, cand)
		if err := x.walk(p, 1, cand, r, base.used, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// walk extends a partial binding across Edges[i-1] to Nodes[i].
func (x *execution) walk(p Pattern, i int, prev value.Value, r row, used []storage.EdgeID, out *[]partial) error {
	if i == len(p.Nodes) {
		*out = append(*out, partial{r: r, used: used})
		return nil
	}
	ep := p.Edges[i-1]
	np := p.Nodes[i]
	prevNode, _ := prev.AsNode()
	prevID := storage.NodeID(prevNode.ID)

	edges, err := x.store.GetEdgesForNode(x.ctx, prevID)
	if err != nil {
		return err
	}
	seen := make(map[storage.EdgeID]bool, len(edges))
	for _, e := range edges {
		if seen[e.ID] || x.deletedEdges[e.ID] || slices.Contains(used, e.ID) {
			continue
		}
		seen[e.ID] = true

		var ends []storage.NodeID
		switch ep.Direction {
		case EdgeOutgoing:
			if e.StartNode == prevID {
				ends = append(ends, e.EndNode)
			}
		case EdgeIncoming:
			if e.EndNode == prevID {
				ends = append(ends, e.StartNode)
			}
		default:
			if e.StartNode == prevID {
				ends = append(ends, e.EndNode)
			}
			if e.EndNode == prevID && e.StartNode != e.EndNode {
				ends = append(ends, e.StartNode)
			}
		}
		if len(ends) == 0 {
			continue
		}

		rel := x.edgeValue(e)
		ok, err := x.edgeMatches(ep, rel, r)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		for _, endID := range ends {
			end, found, err := x.loadNode(endID)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			ok, err := x.nodeMatches(np, end, r)
			if err != nil || !ok {
				if err != nil {
					return err
				}
				continue
			}
			nr := r.clone()
			bindVar(nr, ep.Variable, rel)
			bindVar(nr, np.Variable, end)
			nextUsed := append(slices.Clone(used), e.ID)
			if err := x.walk(p, i+1, end, nr, nextUsed, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// nodeCandidates returns the nodes that may bind np: the already bound node
// when np's variable is in scope, otherwise a label (or full) scan.
func (x *execution) nodeCandidates(np NodePattern, r row) ([]value.Value, error) {
	if np.Variable != "" {
		if bound, ok := r[np.Variable]; ok {
			ok, err := x.nodeMatches(np, bound, r)
			if err != nil || !ok {
				return nil, err
			}
			return []value.Value{bound}, nil
		}
	}

	label := ""
	if len(np.Labels) > 0 {
		label = np.Labels[0]
	}
	nodes, err := x.scanNodes(label)
	if err != nil {
		return nil, err
	}
	var out []value.Value
	for _, n := range nodes {
		if x.deletedNodes[n.ID] {
			continue
		}
		v := x.nodeValue(n)
		ok, err := x.nodeMatches(np, v, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// nodeMatches checks v against np's labels, its property map and any
// existing binding of its variable.
func (x *execution) nodeMatches(np NodePattern, v value.Value, r row) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	n, ok := v.AsNode()
	if !ok {
		return false, evalErrorf(np.Variable, "expected a node, got %s", v.Kind())
	}
	if np.Variable != "" {
		if bound, ok := r[np.Variable]; ok {
			bn, isNode := bound.AsNode()
			if !isNode {
				if bound.IsNull() {
					return false, nil
				}
				return false, evalErrorf(np.Variable, "expected a node, got %s", bound.Kind())
			}
			if bn.ID != n.ID {
				return false, nil
			}
		}
	}
	for _, l := range np.Labels {
		if !slices.Contains(n.Labels, l) {
			return false, nil
		}
	}
	return x.propertiesMatch(np.Properties, n.Properties, r)
}

func (x *execution) edgeMatches(ep EdgePattern, v value.Value, r row) (bool, error) {
	rel, _ := v.AsRelationship()
	if ep.Variable != "" {
		if bound, ok := r[ep.Variable]; ok {
			br, isRel := bound.AsRelationship()
			if !isRel {
				if bound.IsNull() {
					return false, nil
				}
				return false, evalErrorf(ep.Variable, "expected a relationship, got %s", bound.Kind())
			}
			if br.ID != rel.ID {
				return false, nil
			}
		}
	}
	if len(ep.Types) > 0 && !slices.Contains(ep.Types, rel.Type) {
		return false, nil
	}
	return x.propertiesMatch(ep.Properties, rel.Properties, r)
}

// propertiesMatch applies a pattern's property map: every key must be
// present with an equal value of the same kind. A null in the pattern
// never matches.
func (x *execution) propertiesMatch(m *MapLiteral, props value.Map, r row) (bool, error) {
	if m == nil {
		return true, nil
	}
	want, err := x.ev.evalMap(m, r)
	if err != nil {
		return false, err
	}
	for k, w := range want {
		got, ok := props[k]
		if !ok || w.IsNull() || !value.Equal(got, w) {
			return false, nil
		}
	}
	return true, nil
}

func bindVar(r row, name string, v value.Value) {
	if name != "" {
		r[name] = v
	}
}

// patternVariables lists the named variables of patterns in source order.
func patternVariables(patterns []Pattern) []string {
	var names []string
	add := func(name string) {
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	for _, p := range patterns {
		for i, n := range p.Nodes {
			add(n.Variable)
			if i < len(p.Edges) {
				add(p.Edges[i].Variable)
			}
		}
	}
	return names
}
