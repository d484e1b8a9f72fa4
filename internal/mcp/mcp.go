// Package mcp implements the Model Context Protocol server for Kioku.
//
// The MCP server exposes the same capabilities as the HTTP API through
// MCP resources and tools, allowing MCP-compatible AI agents to traverse
// the knowledge graph, join debates, and look up remediation guidance.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/service/debate"
	"github.com/kioku-ai/kioku/internal/service/graph"
	"github.com/kioku-ai/kioku/internal/service/remediation"
)

// Server wraps the MCP server with Kioku's service layer.
type Server struct {
	mcpServer      *mcpserver.MCPServer
	graphSvc       *graph.Service
	debateSvc      *debate.Service
	remediationSvc *remediation.Service
	logger         *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(graphSvc *graph.Service, debateSvc *debate.Service, remediationSvc *remediation.Service, logger *slog.Logger) *Server {
	s := &Server{
		graphSvc:       graphSvc,
		debateSvc:      debateSvc,
		remediationSvc: remediationSvc,
		logger:         logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kioku",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// kioku://graph/export — full knowledge graph for visualization.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kioku://graph/export",
			"Knowledge Graph",
			mcplib.WithResourceDescription("Nodes and edges of the organizational knowledge graph"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleGraphExport,
	)
}

func (s *Server) registerTools() {
	// kioku_find_related — traverse the relationship graph from an item.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_find_related",
			mcplib.WithDescription("Find knowledge items connected to a given item by following outgoing relationships up to a depth"),
			mcplib.WithString("item_type", mcplib.Description("Item type: adr, failure, meeting, or snapshot"), mcplib.Required()),
			mcplib.WithString("item_id", mcplib.Description("Item identifier, e.g. ADR-12"), mcplib.Required()),
			mcplib.WithNumber("depth", mcplib.Description("Maximum traversal depth (default 2)")),
		),
		s.handleFindRelated,
	)

	// kioku_auto_link — extract item references from text and create edges.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_auto_link",
			mcplib.WithDescription("Scan text for item references (ADR-n, FAIL-n, MEET-n, SNAP-n) and create 'references' relationships from the given item"),
			mcplib.WithString("item_type", mcplib.Description("Source item type"), mcplib.Required()),
			mcplib.WithString("item_id", mcplib.Description("Source item identifier"), mcplib.Required()),
			mcplib.WithString("content", mcplib.Description("Text to scan for references"), mcplib.Required()),
		),
		s.handleAutoLink,
	)

	// kioku_contribute — add a stance to a debate thread.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_contribute",
			mcplib.WithDescription("Contribute an argument to the debate attached to a knowledge item. The debate is created on first contribution and judged automatically once enough messages arrive."),
			mcplib.WithString("resource_type", mcplib.Description("Debated item type"), mcplib.Required()),
			mcplib.WithString("resource_id", mcplib.Description("Debated item identifier"), mcplib.Required()),
			mcplib.WithString("contributor_id", mcplib.Description("Identifier of the contributing agent or human"), mcplib.Required()),
			mcplib.WithString("contributor_type", mcplib.Description("Contributor type: agent or human"), mcplib.Required()),
			mcplib.WithString("stance", mcplib.Description("Stance: agree, disagree, neutral, or question"), mcplib.Required()),
			mcplib.WithString("argument", mcplib.Description("Argument text (10-5000 characters)"), mcplib.Required()),
		),
		s.handleContribute,
	)

	// kioku_remediate — match a failure against resolved precedents.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_remediate",
			mcplib.WithDescription("Classify an error and find resolved failures with similar descriptions, returning their resolutions and a remediation checklist"),
			mcplib.WithString("message", mcplib.Description("Error message")),
			mcplib.WithString("stack_trace", mcplib.Description("Stack trace, if available")),
			mcplib.WithString("pattern", mcplib.Description("Optional classification override")),
			mcplib.WithNumber("top_k", mcplib.Description("Maximum matches to return (default 5)")),
		),
		s.handleRemediate,
	)
}

func (s *Server) handleGraphExport(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	export, err := s.graphSvc.ExportGraph(ctx, false, graph.DefaultExportMaxNodes)
	if err != nil {
		return nil, fmt.Errorf("mcp: graph export: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal export: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kioku://graph/export",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleFindRelated(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	itemType := request.GetString("item_type", "")
	itemID := request.GetString("item_id", "")
	if itemType == "" || itemID == "" {
		return errorResult("item_type and item_id are required"), nil
	}
	depth := request.GetInt("depth", graph.DefaultTraversalDepth)

	related, err := s.graphSvc.FindRelated(ctx, itemID, model.ItemType(itemType), depth)
	if err != nil {
		return errorResult(fmt.Sprintf("find related failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"related": related,
		"total":   len(related),
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleAutoLink(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	itemType := request.GetString("item_type", "")
	itemID := request.GetString("item_id", "")
	content := request.GetString("content", "")
	if itemType == "" || itemID == "" || content == "" {
		return errorResult("item_type, item_id, and content are required"), nil
	}

	created, err := s.graphSvc.AutoLinkItem(ctx, itemID, model.ItemType(itemType), content)
	if err != nil {
		return errorResult(fmt.Sprintf("auto link failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"created": created,
		"count":   len(created),
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleContribute(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	resourceType := request.GetString("resource_type", "")
	resourceID := request.GetString("resource_id", "")
	contributorID := request.GetString("contributor_id", "")
	contributorType := request.GetString("contributor_type", "")
	stance := request.GetString("stance", "")
	argument := request.GetString("argument", "")

	if resourceType == "" || resourceID == "" || contributorID == "" {
		return errorResult("resource_type, resource_id, and contributor_id are required"), nil
	}

	d, err := s.debateSvc.GetOrCreateDebate(ctx, resourceID, model.ItemType(resourceType))
	if err != nil {
		return errorResult(fmt.Sprintf("open debate failed: %v", err)), nil
	}

	msg, err := s.debateSvc.AddMessage(ctx, d.ID, contributorID,
		model.ContributorType(contributorType), model.Stance(stance), argument)
	if err != nil {
		return errorResult(fmt.Sprintf("contribute failed: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"debate_id":  d.ID,
		"message_id": msg.ID,
		"status":     "recorded",
	})

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleRemediate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	message := request.GetString("message", "")
	stackTrace := request.GetString("stack_trace", "")
	topK := request.GetInt("top_k", 0)

	var override *model.ErrorPattern
	if raw := request.GetString("pattern", ""); raw != "" {
		p := model.ErrorPattern(raw)
		override = &p
	}

	report, err := s.remediationSvc.Remediate(ctx, message, stackTrace, override, topK)
	if err != nil {
		return errorResult(fmt.Sprintf("remediate failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(report, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
