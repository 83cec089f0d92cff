// Package result holds the values a query produces: ordered records, the
// mutation summary and the wire form shared by the server and the driver.
package result

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// RecordAccessError reports a lookup of a key or index the record does not
// have. Keys lists what the record does have.
type RecordAccessError struct {
	Key     string
	Index   int
	ByIndex bool
	Keys    []string
}

func (e *RecordAccessError) Error() string {
	if e.ByIndex {
		if len(e.Keys) == 0 {
			return fmt.Sprintf("record index %d out of range: record has no fields", e.Index)
		}
		return fmt.Sprintf("record index %d out of range: valid indexes are 0..%d", e.Index, len(e.Keys)-1)
	}
	return fmt.Sprintf("record has no key %q; available keys: [%s]", e.Key, strings.Join(e.Keys, ", "))
}

// Record is one immutable result row: values in column order with lookup by
// column name. When a name repeats, lookups resolve to its first occurrence.
type Record struct {
	keys   []string
	values []value.Value
	index  map[string]int
}

// NewRecord builds a record. keys and values must have the same length.
func NewRecord(keys []string, values []value.Value) (*Record, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("record has %d keys but %d values", len(keys), len(values))
	}
	r := &Record{
		keys:   append([]string(nil), keys...),
		values: append([]value.Value(nil), values...),
		index:  make(map[string]int, len(keys)),
	}
	for i, k := range r.keys {
		if _, dup := r.index[k]; !dup {
			r.index[k] = i
		}
	}
	return r, nil
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.values) }

// Keys returns a copy of the column names in order.
func (r *Record) Keys() []string { return append([]string(nil), r.keys...) }

// Values returns a copy of the values in column order.
func (r *Record) Values() []value.Value { return append([]value.Value(nil), r.values...) }

// Get returns the value stored under key.
func (r *Record) Get(key string) (value.Value, error) {
	i, ok := r.index[key]
	if !ok {
		return value.Null(), &RecordAccessError{Key: key, Keys: r.Keys()}
	}
	return r.values[i], nil
}

// GetAt returns the value at position i.
func (r *Record) GetAt(i int) (value.Value, error) {
	if i < 0 || i >= len(r.values) {
		return value.Null(), &RecordAccessError{Index: i, ByIndex: true, Keys: r.Keys()}
	}
	return r.values[i], nil
}

// AsMap returns the record as a column-to-value map; repeated keys keep
// their first value.
func (r *Record) AsMap() value.Map {
	m := make(value.Map, len(r.index))
	for k, i := range r.index {
		m[k] = r.values[i]
	}
	return m
}

// MarshalJSON encodes the record as its value array. Column names travel
// once per result, not once per row.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.values)
}

func (r *Record) String() string {
	parts := make([]string, len(r.keys))
	for i, k := range r.keys {
		parts[i] = k + ": " + r.values[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
