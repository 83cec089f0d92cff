package result

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/value"
)

func TestRecord_GetByKeyAndIndex(t *testing.T) {
	keys := []string{"name", "age", "active"}
	vals := []value.Value{value.String("Alice"), value.Int(30), value.Bool(true)}

	r, err := NewRecord(keys, vals)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, keys, r.Keys())

	for i, k := range keys {
		byKey, err := r.Get(k)
		require.NoError(t, err)
		byIndex, err := r.GetAt(i)
		require.NoError(t, err)
		assert.True(t, value.Equal(vals[i], byKey))
		assert.True(t, value.Equal(vals[i], byIndex))
	}
}

func TestRecord_UnknownKeyListsAvailableKeys(t *testing.T) {
	r, err := NewRecord([]string{"a", "b"}, []value.Value{value.Int(1), value.Int(2)})
	require.NoError(t, err)

	_, err = r.Get("c")
	var accessErr *RecordAccessError
	require.True(t, errors.As(err, &accessErr))
	assert.Equal(t, "c", accessErr.Key)
	assert.Equal(t, []string{"a", "b"}, accessErr.Keys)
	assert.Contains(t, err.Error(), "a, b")
}

func TestRecord_OutOfRangeStatesValidRange(t *testing.T) {
	r, err := NewRecord([]string{"a", "b"}, []value.Value{value.Int(1), value.Int(2)})
	require.NoError(t, err)

	for _, i := range []int{-1, 2, 10} {
		_, err := r.GetAt(i)
		var accessErr *RecordAccessError
		require.True(t, errors.As(err, &accessErr), "index %d", i)
		assert.True(t, accessErr.ByIndex)
		assert.Contains(t, err.Error(), "0..1")
	}

	empty, err := NewRecord(nil, nil)
	require.NoError(t, err)
	_, err = empty.GetAt(0)
	assert.ErrorContains(t, err, "no fields")
}

func TestRecord_DuplicateKeysResolveToFirst(t *testing.T) {
	r, err := NewRecord([]string{"x", "x"}, []value.Value{value.Int(1), value.Int(2)})
	require.NoError(t, err)
	v, err := r.Get("x")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(1), v))
	assert.Equal(t, 2, r.Len())
}

func TestRecord_IsImmutable(t *testing.T) {
	keys := []string{"a"}
	vals := []value.Value{value.Int(1)}
	r, err := NewRecord(keys, vals)
	require.NoError(t, err)

	keys[0] = "mutated"
	vals[0] = value.Int(99)
	r.Keys()[0] = "mutated"

	v, err := r.Get("a")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(1), v))
}

func TestNewRecord_LengthMismatch(t *testing.T) {
	_, err := NewRecord([]string{"a"}, nil)
	assert.Error(t, err)
}

func TestCounters_ContainsUpdates(t *testing.T) {
	assert.False(t, Counters{}.ContainsUpdates())
	assert.True(t, Counters{LabelsRemoved: 1}.ContainsUpdates())

	c := Counters{NodesCreated: 2}
	c.Add(Counters{NodesCreated: 3, PropertiesSet: 10})
	assert.Equal(t, Counters{NodesCreated: 5, PropertiesSet: 10}, c)
}

func TestQueryResult_WireForm(t *testing.T) {
	rec, err := NewRecord([]string{"name", "n"}, []value.Value{
		value.String("Alice"),
		value.NodeOf(&value.Node{ID: 1, Labels: []string{"Person"}, Properties: value.Map{"name": value.String("Alice")}}),
	})
	require.NoError(t, err)

	res := &QueryResult{
		Keys:    []string{"name", "n"},
		Records: []*Record{rec},
		Summary: Summary{
			QueryType: QueryTypeRead,
			Counters:  Counters{},
		},
		Bookmarks: []string{"nornicgraph:neo4j:3"},
	}

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"keys": ["name", "n"],
		"records": [["Alice", {"identity": 1, "labels": ["Person"], "properties": {"name": "Alice"}}]],
		"summary": {
			"queryType": "r",
			"counters": {"nodesCreated":0,"nodesDeleted":0,"relationshipsCreated":0,"relationshipsDeleted":0,"propertiesSet":0,"labelsAdded":0,"labelsRemoved":0}
		},
		"bookmarks": ["nornicgraph:neo4j:3"]
	}`, string(data))

	var decoded QueryResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, res.Keys, decoded.Keys)
	assert.Equal(t, res.Bookmarks, decoded.Bookmarks)
	if diff := cmp.Diff(res.Summary, decoded.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, decoded.Records, 1)
	name, err := decoded.Records[0].Get("name")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.String("Alice"), name))
	n, err := decoded.Records[0].Get("n")
	require.NoError(t, err)
	assert.Equal(t, value.KindMap, n.Kind())
}

func TestQueryResult_EmptyEncodesArrays(t *testing.T) {
	data, err := json.Marshal(&QueryResult{Summary: Summary{QueryType: QueryTypeWrite}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"keys":[]`)
	assert.Contains(t, string(data), `"records":[]`)
	assert.Contains(t, string(data), `"bookmarks":[]`)
}
