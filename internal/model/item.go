// Package model defines the domain types shared by the storage layer and
// services: knowledge items, relationships, debates, and remediation results.
package model

import (
	"fmt"
	"time"
)

// ItemType identifies which of the four knowledge item kinds an id refers to.
type ItemType string

const (
	ItemTypeADR      ItemType = "adr"
	ItemTypeFailure  ItemType = "failure"
	ItemTypeMeeting  ItemType = "meeting"
	ItemTypeSnapshot ItemType = "snapshot"
)

// ItemTypes lists all valid item types in a stable order.
var ItemTypes = []ItemType{ItemTypeADR, ItemTypeFailure, ItemTypeMeeting, ItemTypeSnapshot}

// ParseItemType validates a raw string against the known item types.
func ParseItemType(s string) (ItemType, error) {
	switch ItemType(s) {
	case ItemTypeADR, ItemTypeFailure, ItemTypeMeeting, ItemTypeSnapshot:
		return ItemType(s), nil
	}
	return "", &ValidationError{Field: "item_type", Reason: fmt.Sprintf("unknown item type %q", s)}
}

// IDPrefix returns the human-readable id prefix for this item type
// (e.g. "ADR" for adr items, producing ids like ADR-42).
func (t ItemType) IDPrefix() string {
	switch t {
	case ItemTypeADR:
		return "ADR"
	case ItemTypeFailure:
		return "FAIL"
	case ItemTypeMeeting:
		return "MEET"
	case ItemTypeSnapshot:
		return "SNAP"
	}
	return ""
}

// Item statuses this core reads or writes. Each item kind has its own wider
// status vocabulary owned by the ingestion layer; the core only needs the
// live states it sweeps and the archived terminal state it assigns.
const (
	StatusActive     = "active"
	StatusResolved   = "resolved"
	StatusSuperseded = "superseded"
	StatusArchived   = "archived"
)

// ItemRef identifies an item by (id, type). The same id under two types
// refers to two distinct items.
type ItemRef struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type"`
}

// KnowledgeItem is the projection of a stored item that the core reads.
// The full rows are owned by the ingestion layer; this core only ever
// mutates Status.
type KnowledgeItem struct {
	ID             string    `json:"id"`
	Type           ItemType  `json:"type"`
	Status         string    `json:"status"`
	Tags           []string  `json:"tags"`
	Date           time.Time `json:"date"`
	AccessCount30d int       `json:"access_count_30d"`
	ReferenceCount int       `json:"reference_count"`
}
