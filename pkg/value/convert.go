package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// FromAny converts a plain Go value into a Value.
//
// Accepted inputs: nil, bool, all integer and float widths, string,
// json.Number, Value, Map, *Node, *Relationship, slices and arrays (including
// []any and []string) and maps with string keys. Anything else is rejected so
// that unsupported property types surface at the API boundary instead of
// being stored as opaque blobs.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case Map:
		return MapOf(v), nil
	case *Node:
		return NodeOf(v), nil
	case *Relationship:
		return RelationshipOf(v), nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return fromUint(v)
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case json.Number:
		return fromNumber(string(v))
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			converted, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("list element %d: %w", i, err)
			}
			items[i] = converted
		}
		return List(items...), nil
	case []string:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = String(item)
		}
		return List(items...), nil
	case map[string]any:
		m, err := MapFromAny(v)
		if err != nil {
			return Null(), err
		}
		return MapOf(m), nil
	case map[any]any:
		m := make(Map, len(v))
		for k, item := range v {
			key, ok := k.(string)
			if !ok {
				return Null(), fmt.Errorf("map key %v: keys must be strings", k)
			}
			converted, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("map key %q: %w", key, err)
			}
			m[key] = converted
		}
		return MapOf(m), nil
	}
	return fromReflect(x)
}

// MapFromAny converts a map of plain Go values into a Map. A nil input
// yields an empty map.
func MapFromAny(m map[string]any) (Map, error) {
	out := make(Map, len(m))
	for k, item := range m {
		converted, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = converted
	}
	return out, nil
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Null(), fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// fromNumber keeps integral JSON numbers as integers.
func fromNumber(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Null(), fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Float(f), nil
}

// fromReflect handles typed slices and maps such as []int64 or
// map[string]string.
func fromReflect(x any) (Value, error) {
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			converted, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Null(), fmt.Errorf("list element %d: %w", i, err)
			}
			items[i] = converted
		}
		return List(items...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null(), fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			converted, err := FromAny(iter.Value().Interface())
			if err != nil {
				return Null(), fmt.Errorf("map key %q: %w", key, err)
			}
			m[key] = converted
		}
		return MapOf(m), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromAny(rv.Elem().Interface())
	}
	return Null(), fmt.Errorf("unsupported property type %T", x)
}
