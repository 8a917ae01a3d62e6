package graph

// Default type values applied when extraction leaves a type blank.
const (
	DefaultEntityType   = "CONCEPT"
	DefaultRelationType = "related_to"
)

// Entity is a named node in a project's knowledge graph.
type Entity struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	SourceChunkID string `json:"source_chunk_id,omitempty"`
}

// Relation is a directed, typed edge between two entities. Both endpoints
// always reference entities present in the same store.
type Relation struct {
	SourceID      string `json:"source_id"`
	TargetID      string `json:"target_id"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	SourceText    string `json:"source_text,omitempty"`
	SourceChunkID string `json:"source_chunk_id,omitempty"`
}

// Neighbor is one hop from an entity: the entity on the other side of a
// relation plus the relation itself. Outgoing reports whether the queried
// entity is the relation's source.
type Neighbor struct {
	Entity   Entity   `json:"entity"`
	Relation Relation `json:"relation"`
	Outgoing bool     `json:"outgoing"`
}

// Stats holds the node and edge counters of a store.
type Stats struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}

// TypeBreakdown counts entities and relations per type.
type TypeBreakdown struct {
	EntityTypes   map[string]int `json:"entity_types"`
	RelationTypes map[string]int `json:"relation_types"`
}

// Snapshot is a point-in-time copy of the whole graph.
type Snapshot struct {
	Nodes []Entity   `json:"nodes"`
	Edges []Relation `json:"edges"`
}
