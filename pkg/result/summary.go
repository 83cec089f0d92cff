package result

// QueryType classifies a query by the clauses it contains.
type QueryType string

const (
	QueryTypeRead      QueryType = "r"
	QueryTypeWrite     QueryType = "w"
	QueryTypeReadWrite QueryType = "rw"
)

// Counters tallies the mutations a query performed.
type Counters struct {
	NodesCreated         int64 `json:"nodesCreated"`
	NodesDeleted         int64 `json:"nodesDeleted"`
	RelationshipsCreated int64 `json:"relationshipsCreated"`
	RelationshipsDeleted int64 `json:"relationshipsDeleted"`
	PropertiesSet        int64 `json:"propertiesSet"`
	LabelsAdded          int64 `json:"labelsAdded"`
	LabelsRemoved        int64 `json:"labelsRemoved"`
}

// ContainsUpdates reports whether any counter is nonzero.
func (c Counters) ContainsUpdates() bool {
	return c.NodesCreated != 0 ||
		c.NodesDeleted != 0 ||
		c.RelationshipsCreated != 0 ||
		c.RelationshipsDeleted != 0 ||
		c.PropertiesSet != 0 ||
		c.LabelsAdded != 0 ||
		c.LabelsRemoved != 0
}

// Add accumulates other into c.
func (c *Counters) Add(other Counters) {
	c.NodesCreated += other.NodesCreated
	c.NodesDeleted += other.NodesDeleted
	c.RelationshipsCreated += other.RelationshipsCreated
	c.RelationshipsDeleted += other.RelationshipsDeleted
	c.PropertiesSet += other.PropertiesSet
	c.LabelsAdded += other.LabelsAdded
	c.LabelsRemoved += other.LabelsRemoved
}

// Summary describes how a query ran. The timing fields are milliseconds and
// are passed through untouched by every layer above the engine.
type Summary struct {
	QueryType            QueryType `json:"queryType"`
	Counters             Counters  `json:"counters"`
	Database             string    `json:"database,omitempty"`
	ResultAvailableAfter int64     `json:"resultAvailableAfter,omitempty"`
	ResultConsumedAfter  int64     `json:"resultConsumedAfter,omitempty"`
}
