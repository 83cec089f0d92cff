package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/result"
)

func TestQueryInfo_Type(t *testing.T) {
	tests := []struct {
		query string
		want  result.QueryType
	}{
		{"MATCH (n:Person) RETURN n.name AS name", result.QueryTypeRead},
		{"RETURN 1 AS one", result.QueryTypeRead},
		{"OPTIONAL MATCH (n) RETURN n", result.QueryTypeRead},
		{"CREATE (n:Person) RETURN n", result.QueryTypeWrite},
		{"CREATE (n:Node) RETURN true as created", result.QueryTypeWrite},
		{"MATCH (a), (b) CREATE (a)-[:KNOWS]->(b)", result.QueryTypeReadWrite},
		{"MATCH (n) SET n.x = 1", result.QueryTypeReadWrite},
		{"MATCH (n) DETACH DELETE n", result.QueryTypeReadWrite},
		{"MATCH (n) REMOVE n:Tmp", result.QueryTypeReadWrite},
		{"MERGE (n:Person {name: 'A'})", result.QueryTypeWrite},
		{"MERGE (n:X {k: 1}) RETURN n.k AS k", result.QueryTypeWrite},
		{"MATCH (a:P), (b:Q) MERGE (a)-[:R]->(b)", result.QueryTypeReadWrite},
	}
	a := NewQueryAnalyzer(10)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			info, err := a.Analyze(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Type())
			assert.Equal(t, tt.want != result.QueryTypeRead, info.IsWriteQuery)
			assert.Equal(t, !info.IsWriteQuery, info.IsReadOnly)
		})
	}
}

func TestQueryInfo_Metadata(t *testing.T) {
	info, err := NewQueryAnalyzer(10).Analyze(
		"MATCH (a:Person)-[:KNOWS|LIKES]->(b:Person:Admin) OPTIONAL MATCH (b)-[:KNOWS]-(c) RETURN a ORDER BY a.name SKIP 1 LIMIT 2")
	require.NoError(t, err)

	assert.True(t, info.HasMatch)
	assert.True(t, info.HasOptionalMatch)
	assert.True(t, info.HasReturn)
	assert.True(t, info.HasOrderBy)
	assert.True(t, info.HasSkip)
	assert.True(t, info.HasLimit)
	assert.False(t, info.HasCreate)
	assert.Equal(t, []string{"Person", "Admin"}, info.Labels)
	assert.Equal(t, []string{"KNOWS", "LIKES"}, info.RelationshipTypes)
}

func TestQueryAnalyzer_Cache(t *testing.T) {
	a := NewQueryAnalyzer(2)

	first, err := a.Analyze("MATCH (n)  RETURN n")
	require.NoError(t, err)
	second, err := a.Analyze("MATCH (n)\n\tRETURN n")
	require.NoError(t, err)
	assert.Same(t, first, second, "whitespace variants share one entry")
	assert.Equal(t, 1, a.CacheSize())

	_, err = a.Analyze("MATCH (n RETURN n")
	require.Error(t, err)
	assert.Equal(t, 1, a.CacheSize(), "parse failures are not cached")

	_, _ = a.Analyze("RETURN 1 AS a")
	_, _ = a.Analyze("RETURN 2 AS b")
	assert.Equal(t, 2, a.CacheSize(), "cache stays within its bound")

	a.ClearCache()
	assert.Equal(t, 0, a.CacheSize())
}

func TestQueryAnalyzer_CommentsNeverShareAnEntryWithCode(t *testing.T) {
	deleting := "MATCH (n) // x\nDETACH DELETE n"
	commented := "MATCH (n) // x DETACH DELETE n"

	for _, order := range [][]string{{deleting, commented}, {commented, deleting}} {
		a := NewQueryAnalyzer(10)
		for _, q := range order {
			info, err := a.Analyze(q)
			require.NoError(t, err)
			if q == deleting {
				assert.True(t, info.HasDetachDelete, q)
				assert.Equal(t, result.QueryTypeReadWrite, info.Type(), q)
			} else {
				assert.False(t, info.HasDelete, q)
				assert.Equal(t, result.QueryTypeRead, info.Type(), q)
			}
		}
		assert.Equal(t, 2, a.CacheSize())
	}
}

func TestQueryAnalyzer_SharesEntryAcrossCommentsAndWhitespace(t *testing.T) {
	a := NewQueryAnalyzer(10)
	first, err := a.Analyze("MATCH (n) /* all */ RETURN n")
	require.NoError(t, err)
	second, err := a.Analyze("MATCH (n) // all\nRETURN   n")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "MATCH (n) RETURN n", first.NormalizedQuery)

	strs, err := a.Analyze("RETURN 'a  b' AS s")
	require.NoError(t, err)
	other, err := a.Analyze("RETURN 'a b' AS s")
	require.NoError(t, err)
	assert.NotSame(t, strs, other, "whitespace inside strings is significant")
}

func TestCanonicalText(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"  MATCH   (n)\n RETURN n  ", "MATCH (n) RETURN n"},
		{"RETURN   'a   b'", "RETURN 'a   b'"},
		{`RETURN  "it\"s  x"`, `RETURN "it\"s  x"`},
		{"RETURN 1 // one\n", "RETURN 1"},
		{"RETURN n.name/* c */AS x", "RETURN n.name AS x"},
		{"RETURN `a  //b`", "RETURN `a  //b`"},
	}
	for _, tt := range tests {
		tokens, err := tokenize(tt.src)
		require.NoError(t, err)
		assert.Equal(t, tt.want, canonicalText(tt.src, tokens), tt.src)
	}
}
