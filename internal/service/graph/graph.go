// Package graph provides typed relationship traversal and text-driven
// auto-linking between knowledge items.
//
// Edges are immutable inserts: there is no update path and no dedup, so
// concurrent writers can at worst create parallel edges, which the data
// model permits.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/telemetry"
)

// DefaultTraversalDepth is used when callers do not specify a depth.
const DefaultTraversalDepth = 2

// DefaultExportMaxNodes bounds exportGraph when callers do not specify a cap.
const DefaultExportMaxNodes = 1000

// Store is the storage surface the graph service needs.
type Store interface {
	CreateRelationship(ctx context.Context, r model.Relationship) (model.Relationship, error)
	OutgoingRelationships(ctx context.Context, id string, t model.ItemType) ([]model.Relationship, error)
	AllRelationships(ctx context.Context) ([]model.Relationship, error)
	ListGraphNodes(ctx context.Context, t model.ItemType, includeArchived bool, limit int) ([]model.GraphNode, error)
}

// Service implements relationship creation, traversal, auto-linking, and
// full graph export.
type Service struct {
	store  Store
	logger *slog.Logger

	traversalDuration metric.Float64Histogram
	autoLinkedEdges   metric.Int64Counter
}

// New creates a graph Service.
func New(store Store, logger *slog.Logger) *Service {
	meter := telemetry.Meter("kioku/graph")
	travDur, _ := meter.Float64Histogram("kioku.graph.traversal.duration",
		metric.WithDescription("Time to run a findRelated traversal (ms)"),
		metric.WithUnit("ms"),
	)
	linked, _ := meter.Int64Counter("kioku.graph.autolinked_edges",
		metric.WithDescription("Edges created by text auto-linking"),
	)
	return &Service{
		store:             store,
		logger:            logger,
		traversalDuration: travDur,
		autoLinkedEdges:   linked,
	}
}

// CreateRelationship validates endpoint types and inserts a new edge.
// Strength 0 means "use the default" (1.0). Always inserts: repeated calls
// with identical arguments produce parallel edges.
func (s *Service) CreateRelationship(ctx context.Context, fromID string, fromType model.ItemType, toID string, toType model.ItemType, relType model.RelationshipType, strength float64) (model.Relationship, error) {
	if _, err := model.ParseItemType(string(fromType)); err != nil {
		return model.Relationship{}, err
	}
	if _, err := model.ParseItemType(string(toType)); err != nil {
		return model.Relationship{}, err
	}
	if relType == "" {
		return model.Relationship{}, &model.ValidationError{Field: "relationship_type", Reason: "must not be empty"}
	}
	if strength == 0 {
		strength = 1.0
	}

	rel, err := s.store.CreateRelationship(ctx, model.Relationship{
		FromID:           fromID,
		FromType:         fromType,
		ToID:             toID,
		ToType:           toType,
		RelationshipType: relType,
		Strength:         strength,
	})
	if err != nil {
		return model.Relationship{}, fmt.Errorf("graph: %w", err)
	}
	return rel, nil
}

// nodeKey identifies a graph node for the traversal's visited set.
type nodeKey struct {
	id string
	t  model.ItemType
}

type frame struct {
	key   nodeKey
	depth int
}

// FindRelated explores outgoing edges from (itemID, itemType) up to depth
// levels, returning every traversed edge in depth-first discovery order.
//
// A single visited set is shared across the whole call, so each (id, type)
// pair is expanded at most once and the traversal terminates on cyclic
// graphs. The walk uses an explicit stack rather than recursion to bound
// stack depth on adversarial cycles. An unknown item id yields an empty
// result: absence of edges is not an error.
func (s *Service) FindRelated(ctx context.Context, itemID string, itemType model.ItemType, depth int) ([]model.RelatedItem, error) {
	if _, err := model.ParseItemType(string(itemType)); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = DefaultTraversalDepth
	}

	start := time.Now()
	defer func() {
		s.traversalDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	visited := make(map[nodeKey]bool)
	results := []model.RelatedItem{}
	stack := []frame{{key: nodeKey{id: itemID, t: itemType}, depth: depth}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth <= 0 || visited[f.key] {
			continue
		}
		visited[f.key] = true

		edges, err := s.store.OutgoingRelationships(ctx, f.key.id, f.key.t)
		if err != nil {
			return nil, fmt.Errorf("graph: %w", err)
		}

		// Collect every direct edge first, then descend into the
		// neighbors in edge order. Pushing in reverse keeps the pop
		// order identical to the recursive formulation.
		for _, e := range edges {
			results = append(results, model.RelatedItem{
				ID:           e.ToID,
				Type:         e.ToType,
				Relationship: e.RelationshipType,
				Strength:     e.Strength,
			})
		}
		for i := len(edges) - 1; i >= 0; i-- {
			next := nodeKey{id: edges[i].ToID, t: edges[i].ToType}
			if !visited[next] {
				stack = append(stack, frame{key: next, depth: f.depth - 1})
			}
		}
	}

	return results, nil
}

// Auto-link patterns: one per item type, matched case-sensitively against
// free text. The numeric id format is fixed by the ingestion layer.
var autoLinkPatterns = []struct {
	re *regexp.Regexp
	t  model.ItemType
}{
	{regexp.MustCompile(`ADR-\d+`), model.ItemTypeADR},
	{regexp.MustCompile(`FAIL-\d+`), model.ItemTypeFailure},
	{regexp.MustCompile(`MEET-\d+`), model.ItemTypeMeeting},
	{regexp.MustCompile(`SNAP-\d+`), model.ItemTypeSnapshot},
}

// AutoLinkItem scans content for embedded item-id references and creates a
// "references" edge for each match that is not the item itself. Repeated
// mentions of the same id produce repeated edges: mention frequency is
// signal, and dedup is deliberately absent everywhere in edge creation.
func (s *Service) AutoLinkItem(ctx context.Context, itemID string, itemType model.ItemType, content string) ([]model.Relationship, error) {
	if _, err := model.ParseItemType(string(itemType)); err != nil {
		return nil, err
	}

	var created []model.Relationship
	for _, p := range autoLinkPatterns {
		for _, match := range p.re.FindAllString(content, -1) {
			if match == itemID {
				continue
			}
			rel, err := s.store.CreateRelationship(ctx, model.Relationship{
				FromID:           itemID,
				FromType:         itemType,
				ToID:             match,
				ToType:           p.t,
				RelationshipType: model.RelReferences,
				Strength:         1.0,
			})
			if err != nil {
				return created, fmt.Errorf("graph: auto-link %s -> %s: %w", itemID, match, err)
			}
			created = append(created, rel)
		}
	}

	if len(created) > 0 {
		s.autoLinkedEdges.Add(ctx, int64(len(created)))
		s.logger.Debug("auto-linked item references",
			"item_id", itemID, "item_type", itemType, "edges", len(created))
	}
	return created, nil
}

// ExportGraph returns up to maxNodes/4 items per type plus every edge, for
// visualization and debug tooling. Archived items are excluded unless
// includeArchived is set.
func (s *Service) ExportGraph(ctx context.Context, includeArchived bool, maxNodes int) (model.GraphExport, error) {
	if maxNodes <= 0 {
		maxNodes = DefaultExportMaxNodes
	}
	perType := maxNodes / len(model.ItemTypes)

	export := model.GraphExport{Nodes: []model.GraphNode{}, Edges: []model.Relationship{}}
	for _, t := range model.ItemTypes {
		nodes, err := s.store.ListGraphNodes(ctx, t, includeArchived, perType)
		if err != nil {
			return model.GraphExport{}, fmt.Errorf("graph: export %s nodes: %w", t, err)
		}
		export.Nodes = append(export.Nodes, nodes...)
	}

	edges, err := s.store.AllRelationships(ctx)
	if err != nil {
		return model.GraphExport{}, fmt.Errorf("graph: export edges: %w", err)
	}
	export.Edges = append(export.Edges, edges...)

	return export, nil
}
