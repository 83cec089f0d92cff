// Package value provides the typed property value used throughout NornicGraph.
//
// Node and relationship properties, query parameters and result columns are
// all carried as Value: a tagged union over the JSON-compatible kinds (null,
// boolean, integer, float, string, list, map) plus the two graph entity kinds
// produced by pattern matching (node, relationship).
//
// Keeping the kind explicit means MATCH property filters compare type and
// value exactly (the integer 1 never equals the string "1"), and every codec
// (JSON for the SQL backend and the HTTP wire, msgpack for badger) round-trips
// integers as integers and floats as floats.
//
// Example:
//
//	props, err := value.MapFromAny(map[string]any{
//		"name": "Alice",
//		"age":  30,
//		"tags": []any{"admin", "dev"},
//	})
//	if err != nil {
//		return err
//	}
//	name, _ := props["name"].AsString()
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which member of the union a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindNode
	KindRelationship
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOLEAN"
	case KindInt:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	case KindString:
		return "STRING"
	case KindList:
		return "LIST"
	case KindMap:
		return "MAP"
	case KindNode:
		return "NODE"
	case KindRelationship:
		return "RELATIONSHIP"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged union. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    Map
	node *Node
	rel  *Relationship
}

// Map is a property map keyed by name.
type Map map[string]Value

// Node is the graph entity bound to a node pattern variable.
type Node struct {
	ID         int64
	Labels     []string
	Properties Map
}

// Relationship is the graph entity bound to a relationship pattern variable.
type Relationship struct {
	ID         int64
	Type       string
	StartID    int64
	EndID      int64
	Properties Map
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps a list of values.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// MapOf wraps a property map. A nil map becomes an empty map.
func MapOf(m Map) Value {
	if m == nil {
		m = Map{}
	}
	return Value{kind: KindMap, m: m}
}

// NodeOf wraps a node entity.
func NodeOf(n *Node) Value {
	if n == nil {
		return Null()
	}
	return Value{kind: KindNode, node: n}
}

// RelationshipOf wraps a relationship entity.
func RelationshipOf(r *Relationship) Value {
	if r == nil {
		return Null()
	}
	return Value{kind: KindRelationship, rel: r}
}

// Kind reports the member held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and true when v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer and true when v is an integer.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float and true when v is a float.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsNumber returns v as a float64 when it is an integer or a float.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// AsString returns the string and true when v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns the elements and true when v is a list.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the map and true when v is a map.
func (v Value) AsMap() (Map, bool) { return v.m, v.kind == KindMap }

// AsNode returns the node and true when v is a node.
func (v Value) AsNode() (*Node, bool) { return v.node, v.kind == KindNode }

// AsRelationship returns the relationship and true when v is a relationship.
func (v Value) AsRelationship() (*Relationship, bool) { return v.rel, v.kind == KindRelationship }

// Any converts v to plain Go values: nil, bool, int64, float64, string,
// []any and map[string]any. Nodes and relationships become maps in the wire
// shape ("identity", "labels"/"type", "properties").
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		return v.m.Any()
	case KindNode:
		labels := make([]any, len(v.node.Labels))
		for i, l := range v.node.Labels {
			labels[i] = l
		}
		return map[string]any{
			"identity":   v.node.ID,
			"labels":     labels,
			"properties": v.node.Properties.Any(),
		}
	case KindRelationship:
		return map[string]any{
			"identity":   v.rel.ID,
			"type":       v.rel.Type,
			"start":      v.rel.StartID,
			"end":        v.rel.EndID,
			"properties": v.rel.Properties.Any(),
		}
	}
	return nil
}

// String renders v the way Cypher's toString and error messages show it.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.literal()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		return v.m.String()
	case KindNode:
		var sb strings.Builder
		sb.WriteString("(")
		sb.WriteString(strconv.FormatInt(v.node.ID, 10))
		for _, l := range v.node.Labels {
			sb.WriteString(":")
			sb.WriteString(l)
		}
		if len(v.node.Properties) > 0 {
			sb.WriteString(" ")
			sb.WriteString(v.node.Properties.String())
		}
		sb.WriteString(")")
		return sb.String()
	case KindRelationship:
		return fmt.Sprintf("[%d:%s %d->%d]", v.rel.ID, v.rel.Type, v.rel.StartID, v.rel.EndID)
	}
	return "?"
}

// literal renders strings quoted, everything else like String.
func (v Value) literal() string {
	if v.kind == KindString {
		return strconv.Quote(v.s)
	}
	return v.String()
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Equal reports whether a and b hold the same kind and the same value.
// Lists compare element-wise, maps key-wise, graph entities by id.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return a.m.Equal(b.m)
	case KindNode:
		return a.node.ID == b.node.ID
	case KindRelationship:
		return a.rel.ID == b.rel.ID
	}
	return false
}

// Compare orders two values for ORDER BY and range predicates. Integers and
// floats compare numerically with each other; strings and booleans compare
// within their kind. ok is false when the pair has no defined order.
func Compare(a, b Value) (cmp int, ok bool) {
	if an, aok := a.AsNumber(); aok {
		bn, bok := b.AsNumber()
		if !bok || math.IsNaN(an) || math.IsNaN(bn) {
			return 0, false
		}
		if a.kind == KindInt && b.kind == KindInt {
			return compareInt(a.i, b.i), true
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindString:
		return strings.Compare(a.s, b.s), true
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		}
		return 1, true
	case KindNode:
		return compareInt(a.node.ID, b.node.ID), true
	case KindRelationship:
		return compareInt(a.rel.ID, b.rel.ID), true
	}
	return 0, false
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Clone returns a shallow copy of m. Values are immutable so this is enough
// to let the caller add or remove keys independently.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the keys of m in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether m and other hold the same keys with equal values.
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// Any converts m to a map of plain Go values.
func (m Map) Any() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

func (m Map) String() string {
	keys := m.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + m[k].literal()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
