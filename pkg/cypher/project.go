package cypher

import (
	"sort"

	"github.com/orneryd/nornicgraph/pkg/result"
	"github.com/orneryd/nornicgraph/pkg/value"
)

// projected is one output row before it becomes a Record. source is the row
// it was computed from, kept for ORDER BY expressions that are not columns.
type projected struct {
	values []value.Value
	source row
	ev     *evaluator
}

// project executes RETURN: projection (with aggregation when any item
// aggregates), DISTINCT, ORDER BY, SKIP and LIMIT, in that order.
func (x *execution) project(c *ReturnClause, rows []row) ([]string, []*result.Record, error) {
	keys := make([]string, len(c.Items))
	for i, item := range c.Items {
		keys[i] = item.Alias
	}

	var aggs []*FunctionCall
	grouping := make([]bool, len(c.Items))
	for i, item := range c.Items {
		before := len(aggs)
		if err := collectAggregates(item.Expression, &aggs); err != nil {
			return nil, nil, err
		}
		grouping[i] = len(aggs) == before
	}

	var (
		out []projected
		err error
	)
	if len(aggs) > 0 {
		out, err = x.aggregate(c, rows, aggs, grouping)
	} else {
		out, err = x.projectRows(c, rows)
	}
	if err != nil {
		return nil, nil, err
	}

	if c.Distinct {
		out = distinct(out)
	}
	if len(c.OrderBy) > 0 {
		if err := x.orderBy(c, out); err != nil {
			return nil, nil, err
		}
	}
	out, err = x.paginate(c, out)
	if err != nil {
		return nil, nil, err
	}

	records := make([]*result.Record, 0, len(out))
	for _, p := range out {
		rec, err := result.NewRecord(keys, p.values)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	return keys, records, nil
}

func (x *execution) projectRows(c *ReturnClause, rows []row) ([]projected, error) {
	out := make([]projected, 0, len(rows))
	for _, r := range rows {
		vals := make([]value.Value, len(c.Items))
		for i, item := range c.Items {
			v, err := x.projectItem(x.ev, item, r)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, projected{values: vals, source: r, ev: x.ev})
	}
	return out, nil
}

// projectItem evaluates one RETURN item. Projecting a property straight off
// a bound node or relationship requires the property to exist.
func (x *execution) projectItem(ev *evaluator, item ReturnItem, r row) (value.Value, error) {
	pa, ok := item.Expression.(*PropertyAccess)
	if !ok {
		return ev.eval(item.Expression, r)
	}
	subject, err := ev.eval(pa.Subject, r)
	if err != nil {
		return value.Null(), err
	}
	v, found, err := property(subject, pa.Property)
	if err != nil {
		return value.Null(), err
	}
	if !found {
		switch subject.Kind() {
		case value.KindNode:
			n, _ := subject.AsNode()
			return value.Null(), evalErrorf(item.Text, "node %d has no property %q", n.ID, pa.Property)
		case value.KindRelationship:
			rel, _ := subject.AsRelationship()
			return value.Null(), evalErrorf(item.Text, "relationship %d has no property %q", rel.ID, pa.Property)
		}
	}
	return v, nil
}

// group is the set of rows sharing the values of the non-aggregate items.
type group struct {
	keys  []value.Value
	first row
	aggs  []*aggregator
}

// aggregate groups rows by the non-aggregate items and folds every
// aggregate call over each group. With no grouping items there is exactly
// one group, even over zero rows.
func (x *execution) aggregate(c *ReturnClause, rows []row, calls []*FunctionCall, grouping []bool) ([]projected, error) {
	var groups []*group
	newGroup := func(keys []value.Value, first row) *group {
		g := &group{keys: keys, first: first, aggs: make([]*aggregator, len(calls))}
		for i, call := range calls {
			g.aggs[i] = newAggregator(call)
		}
		groups = append(groups, g)
		return g
	}

	hasKeys := false
	for _, gr := range grouping {
		hasKeys = hasKeys || gr
	}
	if !hasKeys {
		newGroup(nil, row{})
	}

	for _, r := range rows {
		var keys []value.Value
		for i, item := range c.Items {
			if !grouping[i] {
				continue
			}
			v, err := x.projectItem(x.ev, item, r)
			if err != nil {
				return nil, err
			}
			keys = append(keys, v)
		}

		var g *group
		for _, cand := range groups {
			if sameValues(cand.keys, keys) {
				g = cand
				break
			}
		}
		if g == nil {
			g = newGroup(keys, r)
		}
		for _, a := range g.aggs {
			if err := a.add(x.ev, r); err != nil {
				return nil, err
			}
		}
	}

	out := make([]projected, 0, len(groups))
	for _, g := range groups {
		ev := &evaluator{params: x.ev.params, aggregates: make(map[*FunctionCall]value.Value, len(calls))}
		for i, call := range calls {
			ev.aggregates[call] = g.aggs[i].result()
		}
		vals := make([]value.Value, len(c.Items))
		k := 0
		for i, item := range c.Items {
			if grouping[i] {
				vals[i] = g.keys[k]
				k++
				continue
			}
			v, err := ev.eval(item.Expression, g.first)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, projected{values: vals, source: g.first, ev: ev})
	}
	return out, nil
}

func sameValues(a, b []value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !value.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func distinct(in []projected) []projected {
	out := in[:0]
	for _, p := range in {
		dup := false
		for _, q := range out {
			if sameValues(p.values, q.values) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}

// orderBy sorts rows in place. An ORDER BY item naming a column (by alias
// or by identical text) sorts on the projected value; any other expression
// is evaluated against the source row with the columns in scope.
func (x *execution) orderBy(c *ReturnClause, rows []projected) error {
	sortKeys := make([][]value.Value, len(rows))
	for i, p := range rows {
		scope := p.source.clone()
		for j, item := range c.Items {
			scope[item.Alias] = p.values[j]
		}
		keys := make([]value.Value, len(c.OrderBy))
		for j, o := range c.OrderBy {
			if col := columnIndex(c, o); col >= 0 {
				keys[j] = p.values[col]
				continue
			}
			v, err := p.ev.eval(o.Expression, scope)
			if err != nil {
				return err
			}
			keys[j] = v
		}
		sortKeys[i] = keys
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := sortKeys[idx[a]], sortKeys[idx[b]]
		for j, o := range c.OrderBy {
			cmp := orderCompare(ka[j], kb[j])
			if cmp == 0 {
				continue
			}
			if o.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	sorted := make([]projected, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
	return nil
}

func columnIndex(c *ReturnClause, o OrderItem) int {
	for i, item := range c.Items {
		if o.Text == item.Alias || o.Text == item.Text {
			return i
		}
	}
	return -1
}

// orderCompare orders values for ORDER BY: comparable values by Compare,
// otherwise by kind, with null after everything in ascending order.
func orderCompare(a, b value.Value) int {
	if c, ok := value.Compare(a, b); ok {
		return c
	}
	return kindRank(a) - kindRank(b)
}

func (x *execution) paginate(c *ReturnClause, rows []projected) ([]projected, error) {
	if c.Skip != nil {
		n, err := x.count("SKIP", c.Skip)
		if err != nil {
			return nil, err
		}
		if n >= int64(len(rows)) {
			return rows[:0], nil
		}
		rows = rows[n:]
	}
	if c.Limit != nil {
		n, err := x.count("LIMIT", c.Limit)
		if err != nil {
			return nil, err
		}
		if n < int64(len(rows)) {
			rows = rows[:n]
		}
	}
	return rows, nil
}

// count evaluates a SKIP or LIMIT expression, which may only use literals
// and parameters.
func (x *execution) count(clause string, expr Expression) (int64, error) {
	v, err := x.ev.eval(expr, row{})
	if err != nil {
		return 0, err
	}
	n, ok := v.AsInt()
	if !ok || n < 0 {
		return 0, evalErrorf(clause, "expected a non-negative integer, got %s", v.String())
	}
	return n, nil
}
