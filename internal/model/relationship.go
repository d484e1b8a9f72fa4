package model

import "time"

// Common relationship types. RelationshipType is open-ended: callers may
// supply any non-empty label, these are the ones the tooling knows about.
const (
	RelReferences RelationshipType = "references"
	RelImplements RelationshipType = "implements"
	RelFixes      RelationshipType = "fixes"
	RelCausedBy   RelationshipType = "caused_by"
	RelRelatedTo  RelationshipType = "related_to"
)

// RelationshipType labels a directed edge between two knowledge items.
type RelationshipType string

// Relationship is a typed directed edge between two knowledge items.
// Immutable once created; parallel edges between the same pair are allowed.
type Relationship struct {
	ID               int64            `json:"id"`
	FromID           string           `json:"from_id"`
	FromType         ItemType         `json:"from_type"`
	ToID             string           `json:"to_id"`
	ToType           ItemType         `json:"to_type"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Strength         float64          `json:"strength"`
	CreatedAt        time.Time        `json:"created_at"`
}

// RelatedItem is one entry in a traversal result: a neighbor reached through
// an outgoing edge, annotated with the edge that reached it.
type RelatedItem struct {
	ID           string           `json:"id"`
	Type         ItemType         `json:"type"`
	Relationship RelationshipType `json:"relationship"`
	Strength     float64          `json:"strength"`
}

// GraphNode is an item projected for graph export.
type GraphNode struct {
	ID     string   `json:"id"`
	Type   ItemType `json:"type"`
	Status string   `json:"status"`
	Tags   []string `json:"tags"`
}

// GraphExport is the full-graph view served to visualization tooling.
type GraphExport struct {
	Nodes []GraphNode    `json:"nodes"`
	Edges []Relationship `json:"edges"`
}
