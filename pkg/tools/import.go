package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/coords"
	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/export"
	"github.com/NERVsystems/osmscene/pkg/geo"
	"github.com/NERVsystems/osmscene/pkg/scene"
)

// Export formats accepted by import_scene.
const (
	FormatNone    = "none"
	FormatGeoJSON = "geojson"
	FormatOBJ     = "obj"
)

// DefaultLengthKm is the edge length used when the caller gives none.
const DefaultLengthKm = 1.0

// ImportSceneTool returns a tool definition for importing an area.
func ImportSceneTool() mcp.Tool {
	return mcp.NewTool("import_scene",
		mcp.WithDescription("Import the OpenStreetMap data of a square area into a 3D scene of buildings, roads, paths and land use, optionally draped on terrain"),
		mcp.WithNumber("latitude",
			mcp.Description("Latitude of the area centre in decimal degrees"),
		),
		mcp.WithNumber("longitude",
			mcp.Description("Longitude of the area centre in decimal degrees"),
		),
		mcp.WithString("location",
			mcp.Description("Area centre in any notation (decimal, DMS, UTM, MGRS) or a web map link; used instead of latitude/longitude"),
		),
		mcp.WithNumber("length_km",
			mcp.Description("Edge length of the square area in kilometres (max 10)"),
			mcp.DefaultNumber(DefaultLengthKm),
		),
		mcp.WithBoolean("elevation",
			mcp.Description("Sample terrain heights and build an elevation surface"),
			mcp.DefaultBool(false),
		),
		mcp.WithString("preset",
			mcp.Description("Building height preset"),
			mcp.Enum(classify.PresetNames()...),
		),
		mcp.WithString("format",
			mcp.Description("Export format for the built scene"),
			mcp.Enum(FormatNone, FormatGeoJSON, FormatOBJ),
			mcp.DefaultString(FormatNone),
		),
	)
}

type importSceneInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Location  string   `json:"location"`
	LengthKm  float64  `json:"length_km"`
	Elevation bool     `json:"elevation"`
	Preset    string   `json:"preset"`
	Format    string   `json:"format"`
}

// ImportSummary is the result of import_scene.
type ImportSummary struct {
	Center          geo.Location    `json:"center"`
	LengthKm        float64         `json:"length_km"`
	Preset          string          `json:"preset"`
	Bounds          geo.BoundingBox `json:"bounds"`
	BaseHeightMM    float64         `json:"base_height_mm"`
	Ways            int             `json:"ways"`
	Emitted         map[string]int  `json:"emitted"`
	Skipped         int             `json:"skipped"`
	TagWarnings     int             `json:"tag_warnings"`
	ElevationMisses int             `json:"elevation_misses"`
	Terrain         bool            `json:"terrain"`
	DurationMs      int64           `json:"duration_ms"`
	Objects         int             `json:"objects"`
	Groups          map[string]int  `json:"groups"`
	OSMURL          string          `json:"osm_url"`
	ExportPath      string          `json:"export_path,omitempty"`
	GeoJSON         json.RawMessage `json:"geojson,omitempty"`
}

// groupSizes counts the objects in each group of doc.
func groupSizes(doc *scene.Document) map[string]int {
	sizes := make(map[string]int)
	for _, o := range doc.Objects() {
		if o.Kind == scene.KindGroup {
			sizes[o.Label] = len(doc.Members(o.Handle))
		}
	}
	return sizes
}

func (in importSceneInput) center() (geo.Location, error) {
	if strings.TrimSpace(in.Location) != "" {
		res, err := resolveLocation(in.Location)
		if err != nil {
			return geo.Location{}, err
		}
		return res.Location, nil
	}
	if in.Latitude == nil || in.Longitude == nil {
		return geo.Location{}, core.NewError(core.ErrInvalidInput, "no area centre given").
			WithGuidance("pass latitude and longitude, or a location string")
	}
	return geo.Location{Latitude: *in.Latitude, Longitude: *in.Longitude}, nil
}

// HandleImportScene runs one import and optionally exports the result.
func (r *Registry) HandleImportScene(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput("import_scene", r.logger, r.importScene)(ctx, req)
}

func (r *Registry) importScene(ctx context.Context, in importSceneInput, logger *slog.Logger) (any, error) {
	if r.deps.Builder == nil {
		return nil, core.NewError(core.ErrServiceUnavailable, "scene builder is not configured")
	}

	center, err := in.center()
	if err != nil {
		return nil, err
	}
	if in.LengthKm == 0 {
		in.LengthKm = DefaultLengthKm
	}
	format := strings.ToLower(in.Format)
	if format == "" {
		format = FormatNone
	}
	switch format {
	case FormatNone, FormatGeoJSON, FormatOBJ:
	default:
		return nil, core.NewError(core.ErrInvalidInput, fmt.Sprintf("unknown export format %q", in.Format))
	}
	if format == FormatOBJ && r.deps.OutputDir == "" {
		return nil, core.NewError(core.ErrInvalidInput, "OBJ export needs an output directory").
			WithGuidance("start the server with an output directory or request geojson")
	}

	var policy classify.Policy
	if in.Preset != "" {
		if policy, err = classify.PolicyByName(in.Preset); err != nil {
			return nil, core.Wrap(core.ErrInvalidInput, "invalid preset", err)
		}
	}

	doc := scene.NewDocument("OSM")
	res, err := r.deps.Builder.Import(ctx, doc, scene.Request{
		Lat:       center.Latitude,
		Lon:       center.Longitude,
		LengthKm:  in.LengthKm,
		Elevation: in.Elevation,
		Policy:    policy,
		Status: func(msg string) {
			logger.Debug("import status", "status", msg)
		},
	})
	if err != nil {
		return nil, err
	}

	summary := ImportSummary{
		Center:          center,
		LengthKm:        in.LengthKm,
		Preset:          res.Preset,
		Bounds:          res.Bounds,
		BaseHeightMM:    res.BaseHeightMM,
		Ways:            res.Ways,
		Emitted:         res.Emitted,
		Skipped:         res.Skipped,
		TagWarnings:     res.TagWarnings,
		ElevationMisses: res.ElevationMisses,
		Terrain:         res.Terrain,
		DurationMs:      res.Duration.Milliseconds(),
		Objects:         doc.Len(),
		Groups:          groupSizes(doc),
		OSMURL:          coords.OSMWebURL(center.Latitude, center.Longitude),
	}

	if format == FormatNone {
		return summary, nil
	}

	var buf bytes.Buffer
	switch format {
	case FormatGeoJSON:
		err = export.WriteGeoJSON(&buf, doc)
	case FormatOBJ:
		err = export.WriteOBJ(&buf, doc)
	}
	if err != nil {
		return nil, core.Wrap(core.ErrInternalError, "export failed", err)
	}

	if r.deps.OutputDir == "" {
		summary.GeoJSON = json.RawMessage(buf.Bytes())
		return summary, nil
	}

	name := fmt.Sprintf("scene_%.5f_%.5f_%.1fkm.%s", center.Latitude, center.Longitude, in.LengthKm, format)
	path := filepath.Join(r.deps.OutputDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, core.Wrap(core.ErrInternalError, "could not write export", err)
	}
	logger.Info("scene exported", "path", path, "format", format, "bytes", buf.Len())
	summary.ExportPath = path
	return summary, nil
}
