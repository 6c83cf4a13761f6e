package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/version"
)

// BuildInfo contains the module build information, when available.
var BuildInfo *debug.BuildInfo

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		BuildInfo = info
	}
}

// VersionInfo represents version information for the service
type VersionInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildDate   string `json:"build_date"`
	Summary     string `json:"summary"`
	GoVersion   string `json:"go_version,omitempty"`
	VCSRevision string `json:"vcs_revision,omitempty"`
}

// GetVersionTool returns a tool definition for retrieving version information
func GetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the version and build information of the scene import service"),
	)
}

// HandleGetVersion implements version information retrieval
func HandleGetVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := VersionInfo{
		Version:   version.BuildVersion,
		Commit:    version.BuildCommit,
		BuildDate: version.BuildDate,
		Summary:   version.String(),
	}
	if BuildInfo != nil {
		info.GoVersion = BuildInfo.GoVersion
		for _, setting := range BuildInfo.Settings {
			if setting.Key == "vcs.revision" {
				info.VCSRevision = setting.Value
			}
		}
	}

	resultBytes, err := json.Marshal(info)
	if err != nil {
		slog.Default().Error("failed to marshal version info", "tool", "get_version", "error", err)
		return ErrorResponse("Failed to retrieve version information"), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

// PresetInfo describes one building height preset.
type PresetInfo struct {
	Name                    string `json:"name"`
	DefaultBuildingHeightMM int    `json:"default_building_height_mm"`
	LevelHeightMM           int    `json:"level_height_mm"`
}

// ListPresetsTool returns a tool definition for listing height presets.
func ListPresetsTool() mcp.Tool {
	return mcp.NewTool("list_presets",
		mcp.WithDescription("List the building height presets accepted by import_scene"),
	)
}

// HandleListPresets returns every known preset.
func (r *Registry) HandleListPresets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput("list_presets", r.logger,
		func(ctx context.Context, _ struct{}, _ *slog.Logger) (any, error) {
			names := classify.PresetNames()
			out := make([]PresetInfo, 0, len(names))
			for _, name := range names {
				p, err := classify.PolicyByName(name)
				if err != nil {
					return nil, err
				}
				out = append(out, PresetInfo{
					Name:                    p.Name,
					DefaultBuildingHeightMM: p.DefaultBuildingHeightMM,
					LevelHeightMM:           p.LevelHeightMM,
				})
			}
			return map[string]any{"presets": out}, nil
		})(ctx, req)
}

// ServiceHealthTool returns a tool definition for the upstream health report.
func ServiceHealthTool() mcp.Tool {
	return mcp.NewTool("service_health",
		mcp.WithDescription("Report the reachability of the map API and the elevation service"),
	)
}

// HandleServiceHealth returns the current health snapshot.
func (r *Registry) HandleServiceHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if r.deps.Health == nil {
		return ErrorResponse("health monitoring is not enabled"), nil
	}
	data, err := json.Marshal(r.deps.Health.Health())
	if err != nil {
		r.logger.Error("failed to marshal health", "tool", "service_health", "error", err)
		return ErrorResponse("Failed to generate health report"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
