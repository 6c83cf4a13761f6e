package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmscene/pkg/coords"
	"github.com/NERVsystems/osmscene/pkg/core"
)

// LocationOutput describes a resolved location.
type LocationOutput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Format    string  `json:"format"`
	MGRS      string  `json:"mgrs,omitempty"`
	OSMURL    string  `json:"osm_url"`
}

func locationOutput(res *coords.ParseResult) LocationOutput {
	out := LocationOutput{
		Latitude:  res.Location.Latitude,
		Longitude: res.Location.Longitude,
		Format:    res.Format.String(),
		OSMURL:    coords.OSMWebURL(res.Location.Latitude, res.Location.Longitude),
	}
	if grid, err := coords.ToMGRS(res.Location.Latitude, res.Location.Longitude, 5); err == nil {
		out.MGRS = grid
	}
	return out
}

// resolveLocation accepts any coordinate notation or a map link.
func resolveLocation(input string) (*coords.ParseResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, core.NewError(core.ErrInvalidInput, "location is empty")
	}
	return coords.Resolve(input)
}

// ParseLocationTool returns a tool definition for coordinate parsing.
func ParseLocationTool() mcp.Tool {
	return mcp.NewTool("parse_location",
		mcp.WithDescription("Parse a location given as decimal degrees, DMS, UTM, MGRS or a web map link"),
		mcp.WithString("location",
			mcp.Required(),
			mcp.Description("The location, e.g. '30.9010, 75.8573', '43R DM 12345 67890' or an openstreetmap.org link"),
		),
	)
}

type parseLocationInput struct {
	Location string `json:"location"`
}

// HandleParseLocation resolves a location in any supported notation.
func (r *Registry) HandleParseLocation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput("parse_location", r.logger,
		func(ctx context.Context, in parseLocationInput, logger *slog.Logger) (any, error) {
			res, err := resolveLocation(in.Location)
			if err != nil {
				return nil, err
			}
			logger.Debug("location parsed", "format", res.Format.String())
			return locationOutput(res), nil
		})(ctx, req)
}

// ParseMapLinkTool returns a tool definition for map link parsing.
func ParseMapLinkTool() mcp.Tool {
	return mcp.NewTool("parse_map_link",
		mcp.WithDescription("Extract latitude and longitude from a web map link"),
		mcp.WithString("link",
			mcp.Required(),
			mcp.Description("The map link, e.g. https://www.openstreetmap.org/#map=16/48.1372/11.5755"),
		),
		mcp.WithString("separator",
			mcp.Description("Regular expression splitting the link; detected from the host when empty"),
		),
		mcp.WithBoolean("swap",
			mcp.Description("The link lists the longitude first"),
			mcp.DefaultBool(false),
		),
	)
}

type parseMapLinkInput struct {
	Link      string `json:"link"`
	Separator string `json:"separator"`
	Swap      bool   `json:"swap"`
}

type mapLinkOutput struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Separator string `json:"separator"`
	OSMURL    string `json:"osm_url,omitempty"`
}

// HandleParseMapLink splits a map link into its coordinate strings.
func (r *Registry) HandleParseMapLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput("parse_map_link", r.logger,
		func(ctx context.Context, in parseMapLinkInput, logger *slog.Logger) (any, error) {
			sep := in.Separator
			if sep == "" {
				sep = coords.DetectSeparator(in.Link)
			}
			lat, lon, err := coords.ParseMapLink(in.Link, sep)
			if err != nil {
				return nil, err
			}
			if in.Swap {
				lat, lon = coords.Swap(lat, lon)
			}

			out := mapLinkOutput{Latitude: lat, Longitude: lon, Separator: sep}
			if res, err := coords.ParseDecimal(lat + "," + lon); err == nil {
				out.OSMURL = coords.OSMWebURL(res.Location.Latitude, res.Location.Longitude)
			} else {
				logger.Debug("link coordinates out of range", "error", err)
			}
			return out, nil
		})(ctx, req)
}
