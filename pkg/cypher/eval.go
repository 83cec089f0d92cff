package cypher

import (
	"math"
	"strings"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// row binds variable names to values for one candidate result row.
type row map[string]value.Value

// clone copies r so that extending it does not affect sibling rows.
func (r row) clone() row {
	cp := make(row, len(r)+2)
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// evaluator evaluates expressions against a row. aggregates, when set,
// supplies precomputed values for aggregate calls during projection.
type evaluator struct {
	params     value.Map
	aggregates map[*FunctionCall]value.Value
}

func (ev *evaluator) eval(expr Expression, r row) (value.Value, error) {
	switch e := expr.(type) {
	case *Literal:
		return e.Value, nil

	case *Parameter:
		v, ok := ev.params[e.Name]
		if !ok {
			return value.Null(), evalErrorf("$"+e.Name, "missing parameter")
		}
		return v, nil

	case *Variable:
		v, ok := r[e.Name]
		if !ok {
			return value.Null(), evalErrorf(e.Name, "variable not defined")
		}
		return v, nil

	case *PropertyAccess:
		subject, err := ev.eval(e.Subject, r)
		if err != nil {
			return value.Null(), err
		}
		v, _, err := property(subject, e.Property)
		return v, err

	case *Index:
		return ev.evalIndex(e, r)

	case *ListLiteral:
		items := make([]value.Value, 0, len(e.Items))
		for _, item := range e.Items {
			v, err := ev.eval(item, r)
			if err != nil {
				return value.Null(), err
			}
			items = append(items, v)
		}
		return value.List(items...), nil

	case *MapLiteral:
		m, err := ev.evalMap(e, r)
		if err != nil {
			return value.Null(), err
		}
		return value.MapOf(m), nil

	case *Not:
		v, err := ev.eval(e.Expr, r)
		if err != nil {
			return value.Null(), err
		}
		if v.IsNull() {
			return value.Null(), nil
		}
		b, ok := v.AsBool()
		if !ok {
			return value.Null(), evalErrorf("NOT", "expected boolean, got %s", v.Kind())
		}
		return value.Bool(!b), nil

	case *Negate:
		v, err := ev.eval(e.Expr, r)
		if err != nil {
			return value.Null(), err
		}
		switch v.Kind() {
		case value.KindNull:
			return v, nil
		case value.KindInt:
			i, _ := v.AsInt()
			return value.Int(-i), nil
		case value.KindFloat:
			f, _ := v.AsFloat()
			return value.Float(-f), nil
		}
		return value.Null(), evalErrorf("-", "cannot negate %s", v.Kind())

	case *IsNull:
		v, err := ev.eval(e.Expr, r)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(v.IsNull() != e.Negated), nil

	case *Logical:
		return ev.evalLogical(e, r)

	case *Comparison:
		left, err := ev.eval(e.Left, r)
		if err != nil {
			return value.Null(), err
		}
		right, err := ev.eval(e.Right, r)
		if err != nil {
			return value.Null(), err
		}
		return compareValues(e.Operator, left, right)

	case *BinaryOp:
		left, err := ev.eval(e.Left, r)
		if err != nil {
			return value.Null(), err
		}
		right, err := ev.eval(e.Right, r)
		if err != nil {
			return value.Null(), err
		}
		return arithmetic(e.Operator, left, right)

	case *FunctionCall:
		if isAggregate(e.Name) {
			if v, ok := ev.aggregates[e]; ok {
				return v, nil
			}
			return value.Null(), evalErrorf(e.Name, "aggregate function is only allowed in RETURN")
		}
		args := make([]value.Value, 0, len(e.Args))
		for _, a := range e.Args {
			v, err := ev.eval(a, r)
			if err != nil {
				return value.Null(), err
			}
			args = append(args, v)
		}
		return callFunction(e.Name, args)
	}
	return value.Null(), evalErrorf("", "unsupported expression %T", expr)
}

func (ev *evaluator) evalMap(m *MapLiteral, r row) (value.Map, error) {
	out := make(value.Map, len(m.Keys))
	for i, k := range m.Keys {
		v, err := ev.eval(m.Values[i], r)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (ev *evaluator) evalIndex(e *Index, r row) (value.Value, error) {
	subject, err := ev.eval(e.Subject, r)
	if err != nil {
		return value.Null(), err
	}
	idx, err := ev.eval(e.Index, r)
	if err != nil {
		return value.Null(), err
	}
	if subject.IsNull() || idx.IsNull() {
		return value.Null(), nil
	}
	if list, ok := subject.AsList(); ok {
		i, ok := idx.AsInt()
		if !ok {
			return value.Null(), evalErrorf("[]", "list index must be an integer, got %s", idx.Kind())
		}
		if i < 0 {
			i += int64(len(list))
		}
		if i < 0 || i >= int64(len(list)) {
			return value.Null(), nil
		}
		return list[i], nil
	}
	key, ok := idx.AsString()
	if !ok {
		return value.Null(), evalErrorf("[]", "key must be a string, got %s", idx.Kind())
	}
	v, _, err := property(subject, key)
	return v, err
}

// evalLogical applies three-valued logic: null stands for unknown.
func (ev *evaluator) evalLogical(e *Logical, r row) (value.Value, error) {
	left, err := ev.evalBool(e.Left, r)
	if err != nil {
		return value.Null(), err
	}
	// short circuit where the answer no longer depends on the right side
	if e.Operator == "AND" && left == boolFalse {
		return value.Bool(false), nil
	}
	if e.Operator == "OR" && left == boolTrue {
		return value.Bool(true), nil
	}
	right, err := ev.evalBool(e.Right, r)
	if err != nil {
		return value.Null(), err
	}

	switch e.Operator {
	case "AND":
		switch {
		case right == boolFalse:
			return value.Bool(false), nil
		case left == boolNull || right == boolNull:
			return value.Null(), nil
		}
		return value.Bool(true), nil
	case "OR":
		switch {
		case right == boolTrue:
			return value.Bool(true), nil
		case left == boolNull || right == boolNull:
			return value.Null(), nil
		}
		return value.Bool(false), nil
	default: // XOR
		if left == boolNull || right == boolNull {
			return value.Null(), nil
		}
		return value.Bool(left != right), nil
	}
}

type triBool int

const (
	boolNull triBool = iota
	boolFalse
	boolTrue
)

func (ev *evaluator) evalBool(expr Expression, r row) (triBool, error) {
	v, err := ev.eval(expr, r)
	if err != nil {
		return boolNull, err
	}
	if v.IsNull() {
		return boolNull, nil
	}
	b, ok := v.AsBool()
	if !ok {
		return boolNull, evalErrorf("", "expected boolean, got %s", v.Kind())
	}
	if b {
		return boolTrue, nil
	}
	return boolFalse, nil
}

// matches reports whether expr evaluates to true. Null and false both
// reject the row.
func (ev *evaluator) matches(expr Expression, r row) (bool, error) {
	t, err := ev.evalBool(expr, r)
	return t == boolTrue, err
}

// property reads key from an entity or map. found is false when the subject
// has no such key; the value is then null. Reading from null yields null.
func property(subject value.Value, key string) (v value.Value, found bool, err error) {
	var props value.Map
	switch subject.Kind() {
	case value.KindNull:
		return value.Null(), false, nil
	case value.KindNode:
		n, _ := subject.AsNode()
		props = n.Properties
	case value.KindRelationship:
		rel, _ := subject.AsRelationship()
		props = rel.Properties
	case value.KindMap:
		props, _ = subject.AsMap()
	default:
		return value.Null(), false, evalErrorf(key, "cannot read property of %s", subject.Kind())
	}
	v, found = props[key]
	if !found {
		return value.Null(), false, nil
	}
	return v, true, nil
}

// compareValues implements the comparison operators. Numbers compare by
// value across integer and float; all other kinds compare only with their
// own kind. Comparisons involving null are null.
func compareValues(op string, left, right value.Value) (value.Value, error) {
	switch op {
	case "IN":
		if right.IsNull() {
			return value.Null(), nil
		}
		list, ok := right.AsList()
		if !ok {
			return value.Null(), evalErrorf("IN", "expected list, got %s", right.Kind())
		}
		if left.IsNull() {
			return value.Null(), nil
		}
		sawNull := false
		for _, item := range list {
			if item.IsNull() {
				sawNull = true
				continue
			}
			if equalValues(left, item) {
				return value.Bool(true), nil
			}
		}
		if sawNull {
			return value.Null(), nil
		}
		return value.Bool(false), nil

	case "STARTS WITH", "ENDS WITH", "CONTAINS":
		ls, lok := left.AsString()
		rs, rok := right.AsString()
		if !lok || !rok {
			return value.Null(), nil
		}
		switch op {
		case "STARTS WITH":
			return value.Bool(strings.HasPrefix(ls, rs)), nil
		case "ENDS WITH":
			return value.Bool(strings.HasSuffix(ls, rs)), nil
		}
		return value.Bool(strings.Contains(ls, rs)), nil
	}

	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}

	switch op {
	case "=":
		return value.Bool(equalValues(left, right)), nil
	case "<>":
		return value.Bool(!equalValues(left, right)), nil
	}

	c, ok := value.Compare(left, right)
	if !ok {
		return value.Null(), nil
	}
	switch op {
	case "<":
		return value.Bool(c < 0), nil
	case "<=":
		return value.Bool(c <= 0), nil
	case ">":
		return value.Bool(c > 0), nil
	case ">=":
		return value.Bool(c >= 0), nil
	}
	return value.Null(), evalErrorf(op, "unknown comparison operator")
}

// equalValues is expression equality: numerically equal ints and floats are
// equal, everything else needs the same kind.
func equalValues(a, b value.Value) bool {
	if a.Kind() != b.Kind() {
		af, aok := a.AsNumber()
		bf, bok := b.AsNumber()
		return aok && bok && af == bf
	}
	return value.Equal(a, b)
}

func arithmetic(op string, left, right value.Value) (value.Value, error) {
	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}

	if op == "+" {
		if ll, ok := left.AsList(); ok {
			if rl, ok := right.AsList(); ok {
				return value.List(append(append([]value.Value{}, ll...), rl...)...), nil
			}
			return value.List(append(append([]value.Value{}, ll...), right)...), nil
		}
		ls, lok := left.AsString()
		rs, rok := right.AsString()
		switch {
		case lok && rok:
			return value.String(ls + rs), nil
		case lok && isNumber(right):
			return value.String(ls + right.String()), nil
		case rok && isNumber(left):
			return value.String(left.String() + rs), nil
		}
	}

	li, lInt := left.AsInt()
	ri, rInt := right.AsInt()
	if lInt && rInt {
		switch op {
		case "+":
			return value.Int(li + ri), nil
		case "-":
			return value.Int(li - ri), nil
		case "*":
			return value.Int(li * ri), nil
		case "/", "%":
			if ri == 0 {
				return value.Null(), evalErrorf(op, "division by zero")
			}
			if op == "/" {
				return value.Int(li / ri), nil
			}
			return value.Int(li % ri), nil
		}
	}

	lf, lok := left.AsNumber()
	rf, rok := right.AsNumber()
	if !lok || !rok {
		return value.Null(), evalErrorf(op, "cannot apply %s to %s and %s", op, left.Kind(), right.Kind())
	}
	switch op {
	case "+":
		return value.Float(lf + rf), nil
	case "-":
		return value.Float(lf - rf), nil
	case "*":
		return value.Float(lf * rf), nil
	case "/":
		return value.Float(lf / rf), nil
	case "%":
		return value.Float(math.Mod(lf, rf)), nil
	}
	return value.Null(), evalErrorf(op, "unknown operator")
}

func isNumber(v value.Value) bool {
	_, ok := v.AsNumber()
	return ok
}
