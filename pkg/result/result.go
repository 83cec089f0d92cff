package result

import (
	"encoding/json"
	"fmt"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// QueryResult is everything one query returns.
type QueryResult struct {
	Keys      []string
	Records   []*Record
	Summary   Summary
	Bookmarks []string
}

// Single returns the only record, failing when there are zero or several.
func (r *QueryResult) Single() (*Record, error) {
	if len(r.Records) != 1 {
		return nil, fmt.Errorf("expected exactly one record, got %d", len(r.Records))
	}
	return r.Records[0], nil
}

// wireResult is the JSON body shared by POST /cypher and POST /tx/{id}.
type wireResult struct {
	Keys      []string        `json:"keys"`
	Records   [][]value.Value `json:"records"`
	Summary   Summary         `json:"summary"`
	Bookmarks []string        `json:"bookmarks"`
}

// MarshalJSON encodes r in the wire form: records are value arrays ordered
// like keys. Empty collections encode as [] rather than null.
func (r *QueryResult) MarshalJSON() ([]byte, error) {
	w := wireResult{
		Keys:      r.Keys,
		Records:   make([][]value.Value, len(r.Records)),
		Summary:   r.Summary,
		Bookmarks: r.Bookmarks,
	}
	if w.Keys == nil {
		w.Keys = []string{}
	}
	if w.Bookmarks == nil {
		w.Bookmarks = []string{}
	}
	for i, rec := range r.Records {
		w.Records[i] = rec.values
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. Entity values arrive as plain maps;
// the wire form does not tag them.
func (r *QueryResult) UnmarshalJSON(data []byte) error {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	records := make([]*Record, 0, len(w.Records))
	for i, row := range w.Records {
		rec, err := NewRecord(w.Keys, row)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	*r = QueryResult{
		Keys:      w.Keys,
		Records:   records,
		Summary:   w.Summary,
		Bookmarks: w.Bookmarks,
	}
	if r.Keys == nil {
		r.Keys = []string{}
	}
	return nil
}
