// Package tools exposes the scene import pipeline as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/osmscene/pkg/monitoring"
	"github.com/NERVsystems/osmscene/pkg/scene"
	"github.com/NERVsystems/osmscene/pkg/tracing"
)

// Deps are the collaborators the tools run against.
type Deps struct {
	Builder *scene.Builder
	// Health backs service_health. Optional.
	Health *monitoring.HealthChecker
	// OutputDir receives exported files. Empty means exports are returned
	// inline (GeoJSON only).
	OutputDir string
}

// Registry contains all tool definitions and handlers.
type Registry struct {
	logger *slog.Logger
	deps   Deps
}

// NewRegistry creates a tool registry.
func NewRegistry(deps Deps, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, deps: deps}
}

// ToolHandler is the signature of every tool handler.
type ToolHandler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// ToolDefinition pairs an MCP tool with its handler.
type ToolDefinition struct {
	Name    string
	Tool    mcp.Tool
	Handler ToolHandler
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:    "import_scene",
			Tool:    ImportSceneTool(),
			Handler: r.HandleImportScene,
		},
		{
			Name:    "parse_location",
			Tool:    ParseLocationTool(),
			Handler: r.HandleParseLocation,
		},
		{
			Name:    "parse_map_link",
			Tool:    ParseMapLinkTool(),
			Handler: r.HandleParseMapLink,
		},
		{
			Name:    "list_presets",
			Tool:    ListPresetsTool(),
			Handler: r.HandleListPresets,
		},
		{
			Name:    "service_health",
			Tool:    ServiceHealthTool(),
			Handler: r.HandleServiceHealth,
		},
		{
			Name:    "get_version",
			Tool:    GetVersionTool(),
			Handler: HandleGetVersion,
		},
	}
}

// GetToolNames returns the names of all tools.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Debug("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrapWithTracing(def.Name, def.Handler))
	}
}

// wrapWithTracing wraps a tool handler with a span and records its outcome.
func (r *Registry) wrapWithTracing(toolName string, handler ToolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("mcp.tool.%s", toolName),
			trace.WithAttributes(attribute.String(tracing.AttrMCPToolName, toolName)),
		)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, req)
		durationMs := time.Since(start).Milliseconds()

		status := tracing.StatusSuccess
		switch {
		case err != nil:
			status = tracing.StatusError
			span.RecordError(err)
			span.SetAttributes(tracing.ErrorAttributes(err)...)
			span.SetStatus(codes.Error, err.Error())
		case result != nil && result.IsError:
			status = tracing.StatusError
			span.SetStatus(codes.Error, "tool returned an error result")
		default:
			span.SetStatus(codes.Ok, "")
		}
		if status == tracing.StatusError {
			monitoring.RecordError("tool", toolName)
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, merr := json.Marshal(result.Content); merr == nil {
				resultSize = len(data)
			}
		}
		span.SetAttributes(
			attribute.String(tracing.AttrMCPToolStatus, status),
			attribute.Int64(tracing.AttrMCPToolDuration, durationMs),
			attribute.Int(tracing.AttrMCPResultSize, resultSize),
		)

		r.logger.Debug("tool executed",
			"tool", toolName,
			"duration_ms", durationMs,
			"status", status,
			"result_size", resultSize,
		)
		return result, err
	}
}
