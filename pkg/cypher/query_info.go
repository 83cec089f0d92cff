// Package cypher - Query analysis and AST capture.
package cypher

import (
	"github.com/orneryd/nornicgraph/pkg/cache"
	"github.com/orneryd/nornicgraph/pkg/result"
)

// QueryInfo contains metadata derived from a parsed query.
// It is computed once per distinct query text and cached.
type QueryInfo struct {
	HasMatch         bool
	HasOptionalMatch bool
	HasCreate        bool
	HasMerge         bool
	HasDelete        bool
	HasDetachDelete  bool
	HasSet           bool
	HasRemove        bool
	HasReturn        bool
	HasOrderBy       bool
	HasLimit         bool
	HasSkip          bool

	// IsReadOnly is true when no clause can mutate the graph.
	IsReadOnly bool
	// IsWriteQuery is true when any clause can mutate the graph.
	IsWriteQuery bool

	// Labels and RelationshipTypes mentioned in patterns.
	Labels            []string
	RelationshipTypes []string

	// The parsed query.
	Query *Query

	// NormalizedQuery is the cache key: the query's tokens without
	// comments, separated by single spaces.
	NormalizedQuery string
}

// Type classifies the query for the result summary:
//
//	MATCH ... RETURN          -> r
//	CREATE ... RETURN         -> w
//	MATCH ... CREATE/SET/...  -> rw
//
// Only MATCH marks a query as reading; MERGE on its own is a write.
func (info *QueryInfo) Type() result.QueryType {
	switch {
	case info.HasMatch && info.IsWriteQuery:
		return result.QueryTypeReadWrite
	case info.IsWriteQuery:
		return result.QueryTypeWrite
	default:
		return result.QueryTypeRead
	}
}

// QueryAnalyzer parses and analyzes queries with an LRU cache of results.
type QueryAnalyzer struct {
	parser *Parser
	cache  *cache.QueryCache[*QueryInfo]
}

// NewQueryAnalyzer creates a new query analyzer caching up to maxSize
// distinct queries (1000 when maxSize is not positive).
func NewQueryAnalyzer(maxSize int) *QueryAnalyzer {
	return &QueryAnalyzer{
		parser: NewParser(),
		cache:  cache.NewQueryCache[*QueryInfo](maxSize, 0),
	}
}

// Analyze parses cypher and extracts its metadata, using the cache when a
// query with the same tokens was seen before. Queries that differ only in
// whitespace or comments share an entry. Parse failures are not cached.
//
// The returned QueryInfo is shared; callers must not modify it or its Query.
func (a *QueryAnalyzer) Analyze(cypher string) (*QueryInfo, error) {
	tokens, err := tokenize(cypher)
	if err != nil {
		return nil, err
	}
	normalized := canonicalText(cypher, tokens)
	if info, ok := a.cache.Get(normalized); ok {
		return info, nil
	}

	q, err := a.parser.parseTokens(cypher, tokens)
	if err != nil {
		return nil, err
	}
	info := analyzeQuery(q)
	info.NormalizedQuery = normalized
	a.cache.Put(normalized, info)
	return info, nil
}

// ClearCache clears the analysis cache.
func (a *QueryAnalyzer) ClearCache() { a.cache.Clear() }

// CacheSize returns current cache size.
func (a *QueryAnalyzer) CacheSize() int { return a.cache.Len() }

// CacheStats returns hit/miss statistics of the analysis cache.
func (a *QueryAnalyzer) CacheStats() cache.Stats { return a.cache.Stats() }

// analyzeQuery walks the clauses of q. Unlike keyword scanning, keywords
// inside string literals or property names never affect the result.
func analyzeQuery(q *Query) *QueryInfo {
	info := &QueryInfo{Query: q}
	labels := map[string]bool{}
	types := map[string]bool{}

	addPatterns := func(patterns ...Pattern) {
		for _, p := range patterns {
			for _, n := range p.Nodes {
				for _, l := range n.Labels {
					if !labels[l] {
						labels[l] = true
						info.Labels = append(info.Labels, l)
					}
				}
			}
			for _, e := range p.Edges {
				for _, t := range e.Types {
					if !types[t] {
						types[t] = true
						info.RelationshipTypes = append(info.RelationshipTypes, t)
					}
				}
			}
		}
	}

	for _, clause := range q.Clauses {
		switch c := clause.(type) {
		case *MatchClause:
			info.HasMatch = true
			if c.Optional {
				info.HasOptionalMatch = true
			}
			addPatterns(c.Patterns...)
		case *CreateClause:
			info.HasCreate = true
			addPatterns(c.Patterns...)
		case *MergeClause:
			info.HasMerge = true
			addPatterns(c.Pattern)
		case *SetClause:
			info.HasSet = true
		case *RemoveClause:
			info.HasRemove = true
		case *DeleteClause:
			info.HasDelete = true
			if c.Detach {
				info.HasDetachDelete = true
			}
		case *ReturnClause:
			info.HasReturn = true
			info.HasOrderBy = len(c.OrderBy) > 0
			info.HasSkip = c.Skip != nil
			info.HasLimit = c.Limit != nil
		}
	}

	info.IsWriteQuery = info.HasCreate || info.HasMerge || info.HasDelete ||
		info.HasSet || info.HasRemove
	info.IsReadOnly = !info.IsWriteQuery
	return info
}
