package cypher

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// callFunction evaluates a scalar function. Names arrive lower-cased.
func callFunction(name string, args []value.Value) (value.Value, error) {
	fn, ok := scalarFunctions[name]
	if !ok {
		return value.Null(), evalErrorf(name, "unknown function")
	}
	if fn.arity >= 0 && len(args) != fn.arity {
		return value.Null(), evalErrorf(name, "expected %d argument(s), got %d", fn.arity, len(args))
	}
	return fn.call(args)
}

type scalarFunction struct {
	arity int // -1 for variadic
	call  func(args []value.Value) (value.Value, error)
}

var scalarFunctions = map[string]scalarFunction{
	"id": {1, func(args []value.Value) (value.Value, error) {
		switch args[0].Kind() {
		case value.KindNull:
			return value.Null(), nil
		case value.KindNode:
			n, _ := args[0].AsNode()
			return value.Int(n.ID), nil
		case value.KindRelationship:
			r, _ := args[0].AsRelationship()
			return value.Int(r.ID), nil
		}
		return value.Null(), evalErrorf("id", "expected node or relationship, got %s", args[0].Kind())
	}},

	"labels": {1, func(args []value.Value) (value.Value, error) {
		if args[0].IsNull() {
			return value.Null(), nil
		}
		n, ok := args[0].AsNode()
		if !ok {
			return value.Null(), evalErrorf("labels", "expected node, got %s", args[0].Kind())
		}
		out := make([]value.Value, len(n.Labels))
		for i, l := range n.Labels {
			out[i] = value.String(l)
		}
		return value.List(out...), nil
	}},

	"type": {1, func(args []value.Value) (value.Value, error) {
		if args[0].IsNull() {
			return value.Null(), nil
		}
		r, ok := args[0].AsRelationship()
		if !ok {
			return value.Null(), evalErrorf("type", "expected relationship, got %s", args[0].Kind())
		}
		return value.String(r.Type), nil
	}},

	"keys": {1, func(args []value.Value) (value.Value, error) {
		props, ok, err := propertiesOf("keys", args[0])
		if err != nil || !ok {
			return value.Null(), err
		}
		keys := props.Keys()
		out := make([]value.Value, len(keys))
		for i, k := range keys {
			out[i] = value.String(k)
		}
		return value.List(out...), nil
	}},

	"properties": {1, func(args []value.Value) (value.Value, error) {
		props, ok, err := propertiesOf("properties", args[0])
		if err != nil || !ok {
			return value.Null(), err
		}
		return value.MapOf(props.Clone()), nil
	}},

	"coalesce": {-1, func(args []value.Value) (value.Value, error) {
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return value.Null(), nil
	}},

	"tostring": {1, func(args []value.Value) (value.Value, error) {
		switch args[0].Kind() {
		case value.KindNull:
			return value.Null(), nil
		case value.KindString, value.KindInt, value.KindFloat, value.KindBool:
			return value.String(args[0].String()), nil
		}
		return value.Null(), evalErrorf("toString", "cannot convert %s", args[0].Kind())
	}},

	"toupper": {1, stringFunc("toUpper", strings.ToUpper)},
	"tolower": {1, stringFunc("toLower", strings.ToLower)},
	"trim":    {1, stringFunc("trim", strings.TrimSpace)},

	"size": {1, func(args []value.Value) (value.Value, error) {
		v := args[0]
		if s, ok := v.AsString(); ok {
			return value.Int(int64(utf8.RuneCountInString(s))), nil
		}
		if l, ok := v.AsList(); ok {
			return value.Int(int64(len(l))), nil
		}
		if v.IsNull() {
			return value.Null(), nil
		}
		return value.Null(), evalErrorf("size", "expected string or list, got %s", v.Kind())
	}},

	"tointeger": {1, func(args []value.Value) (value.Value, error) {
		v := args[0]
		switch v.Kind() {
		case value.KindInt:
			return v, nil
		case value.KindFloat:
			f, _ := v.AsFloat()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return value.Null(), nil
			}
			return value.Int(int64(f)), nil
		case value.KindString:
			s, _ := v.AsString()
			s = strings.TrimSpace(s)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return value.Int(i), nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return value.Int(int64(f)), nil
			}
			return value.Null(), nil
		case value.KindNull:
			return value.Null(), nil
		}
		return value.Null(), evalErrorf("toInteger", "cannot convert %s", v.Kind())
	}},

	"tofloat": {1, func(args []value.Value) (value.Value, error) {
		v := args[0]
		switch v.Kind() {
		case value.KindFloat:
			return v, nil
		case value.KindInt:
			i, _ := v.AsInt()
			return value.Float(float64(i)), nil
		case value.KindString:
			s, _ := v.AsString()
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return value.Float(f), nil
			}
			return value.Null(), nil
		case value.KindNull:
			return value.Null(), nil
		}
		return value.Null(), evalErrorf("toFloat", "cannot convert %s", v.Kind())
	}},
}

func stringFunc(name string, fn func(string) string) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		if args[0].IsNull() {
			return value.Null(), nil
		}
		s, ok := args[0].AsString()
		if !ok {
			return value.Null(), evalErrorf(name, "expected string, got %s", args[0].Kind())
		}
		return value.String(fn(s)), nil
	}
}

// propertiesOf returns the property map of a node, relationship or map.
// ok is false for null input.
func propertiesOf(fn string, v value.Value) (value.Map, bool, error) {
	switch v.Kind() {
	case value.KindNull:
		return nil, false, nil
	case value.KindNode:
		n, _ := v.AsNode()
		return n.Properties, true, nil
	case value.KindRelationship:
		r, _ := v.AsRelationship()
		return r.Properties, true, nil
	case value.KindMap:
		m, _ := v.AsMap()
		return m, true, nil
	}
	return nil, false, evalErrorf(fn, "expected node, relationship or map, got %s", v.Kind())
}

// ============================================================================
// Aggregates
// ============================================================================

func isAggregate(name string) bool {
	switch name {
	case "count", "collect", "sum", "avg", "min", "max":
		return true
	}
	return false
}

// aggregator accumulates one aggregate call over the rows of a group.
type aggregator struct {
	call *FunctionCall

	count    int64
	items    []value.Value
	seen     []value.Value // for DISTINCT
	sumInt   int64
	sumFloat float64
	isFloat  bool
	best     value.Value
	hasBest  bool
}

func newAggregator(call *FunctionCall) *aggregator {
	return &aggregator{call: call}
}

func (a *aggregator) add(ev *evaluator, r row) error {
	if a.call.Star {
		a.count++
		return nil
	}
	if len(a.call.Args) != 1 {
		return evalErrorf(a.call.Name, "expected 1 argument, got %d", len(a.call.Args))
	}
	v, err := ev.eval(a.call.Args[0], r)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	if a.call.Distinct {
		for _, s := range a.seen {
			if equalValues(s, v) {
				return nil
			}
		}
		a.seen = append(a.seen, v)
	}

	switch a.call.Name {
	case "count":
		a.count++
	case "collect":
		a.items = append(a.items, v)
	case "sum", "avg":
		a.count++
		if i, ok := v.AsInt(); ok {
			a.sumInt += i
			a.sumFloat += float64(i)
			return nil
		}
		f, ok := v.AsFloat()
		if !ok {
			return evalErrorf(a.call.Name, "expected number, got %s", v.Kind())
		}
		a.isFloat = true
		a.sumFloat += f
	case "min", "max":
		if !a.hasBest {
			a.best, a.hasBest = v, true
			return nil
		}
		c, ok := value.Compare(v, a.best)
		if !ok {
			c = kindRank(v) - kindRank(a.best)
		}
		if (a.call.Name == "min" && c < 0) || (a.call.Name == "max" && c > 0) {
			a.best = v
		}
	}
	return nil
}

func (a *aggregator) result() value.Value {
	switch a.call.Name {
	case "count":
		return value.Int(a.count)
	case "collect":
		return value.List(a.items...)
	case "sum":
		if a.isFloat {
			return value.Float(a.sumFloat)
		}
		return value.Int(a.sumInt)
	case "avg":
		if a.count == 0 {
			return value.Null()
		}
		return value.Float(a.sumFloat / float64(a.count))
	case "min", "max":
		if !a.hasBest {
			return value.Null()
		}
		return a.best
	}
	return value.Null()
}

// collectAggregates finds every aggregate call in expr, outermost first.
// Aggregates nested inside another aggregate's arguments are rejected.
func collectAggregates(expr Expression, out *[]*FunctionCall) error {
	var walk func(e Expression, inside bool) error
	walk = func(e Expression, inside bool) error {
		switch x := e.(type) {
		case *FunctionCall:
			agg := isAggregate(x.Name)
			if agg {
				if inside {
					return evalErrorf(x.Name, "aggregate functions cannot be nested")
				}
				*out = append(*out, x)
			}
			for _, a := range x.Args {
				if err := walk(a, inside || agg); err != nil {
					return err
				}
			}
		case *PropertyAccess:
			return walk(x.Subject, inside)
		case *Index:
			if err := walk(x.Subject, inside); err != nil {
				return err
			}
			return walk(x.Index, inside)
		case *Comparison:
			if err := walk(x.Left, inside); err != nil {
				return err
			}
			return walk(x.Right, inside)
		case *BinaryOp:
			if err := walk(x.Left, inside); err != nil {
				return err
			}
			return walk(x.Right, inside)
		case *Logical:
			if err := walk(x.Left, inside); err != nil {
				return err
			}
			return walk(x.Right, inside)
		case *Not:
			return walk(x.Expr, inside)
		case *Negate:
			return walk(x.Expr, inside)
		case *IsNull:
			return walk(x.Expr, inside)
		case *ListLiteral:
			for _, item := range x.Items {
				if err := walk(item, inside); err != nil {
					return err
				}
			}
		case *MapLiteral:
			for _, v := range x.Values {
				if err := walk(v, inside); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(expr, false)
}

// kindRank gives a total order across kinds for sorting mixed values.
func kindRank(v value.Value) int {
	switch v.Kind() {
	case value.KindMap:
		return 0
	case value.KindNode:
		return 1
	case value.KindRelationship:
		return 2
	case value.KindList:
		return 3
	case value.KindString:
		return 4
	case value.KindBool:
		return 5
	case value.KindInt, value.KindFloat:
		return 6
	}
	return 7 // null sorts last
}
