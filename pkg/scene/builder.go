package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/elevation"
	"github.com/NERVsystems/osmscene/pkg/geo"
	"github.com/NERVsystems/osmscene/pkg/monitoring"
	"github.com/NERVsystems/osmscene/pkg/osm"
	"github.com/NERVsystems/osmscene/pkg/tracing"
)

// Object labels created by every import.
const (
	BasePlaneLabel = "area"
	TerrainLabel   = "Elevation_Area"
)

// TerrainTransparency is applied to the terrain surface.
const TerrainTransparency = 75

// groupOrder is the order groups are created in.
var groupOrder = []classify.SemanticType{classify.Path, classify.Road, classify.Landuse, classify.Building}

// Fetcher resolves an import area to map data. *osm.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon, halfKm float64) (*osm.Document, error)
}

// Options configures a Builder.
type Options struct {
	Fetcher Fetcher
	// Resolver is required for imports with elevation.
	Resolver elevation.Resolver
	Policy   classify.Policy
	Logger   *slog.Logger
}

// Builder turns map data into scene objects.
type Builder struct {
	fetcher  Fetcher
	resolver elevation.Resolver
	policy   classify.Policy
	logger   *slog.Logger
}

// NewBuilder validates opts. A zero Policy selects classify.PolicyGIS.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("scene builder needs a fetcher")
	}
	if opts.Policy == (classify.Policy{}) {
		opts.Policy = classify.PolicyGIS
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Builder{
		fetcher:  opts.Fetcher,
		resolver: opts.Resolver,
		policy:   opts.Policy,
		logger:   opts.Logger.With("component", "scene_builder"),
	}, nil
}

// Request describes one import.
type Request struct {
	Lat       float64
	Lon       float64
	LengthKm  float64
	Elevation bool
	// Policy overrides the builder's height policy when set.
	Policy classify.Policy

	// Progress receives 0..100. Optional.
	Progress func(percent int)
	// Status receives human readable phase descriptions. Optional.
	Status func(msg string)
}

func (r Request) progress(p int) {
	if r.Progress != nil {
		r.Progress(p)
	}
}

func (r Request) status(msg string) {
	if r.Status != nil {
		r.Status(msg)
	}
}

// Result summarizes an import.
type Result struct {
	Bounds          geo.BoundingBox `json:"bounds"`
	Preset          string          `json:"preset"`
	BaseHeightMM    float64         `json:"baseHeightMM"`
	Ways            int             `json:"ways"`
	Emitted         map[string]int  `json:"emitted"`
	Skipped         int             `json:"skipped"`
	TagWarnings     int             `json:"tagWarnings"`
	ElevationMisses int             `json:"elevationMisses"`
	Terrain         bool            `json:"terrain"`
	Duration        time.Duration   `json:"duration"`
}

// EmittedTotal returns the number of ways emitted across all types.
func (r *Result) EmittedTotal() int {
	n := 0
	for _, c := range r.Emitted {
		n += c
	}
	return n
}

// importRun holds the per-import state shared by the way loop.
type importRun struct {
	em        Emitter
	doc       *osm.Document
	bounds    geo.SceneBounds
	base      float64
	elevation bool
	policy    classify.Policy
	samples   elevation.Samples
	groups    map[classify.SemanticType]Handle
	result    *Result
}

// Import fetches the area described by req and emits it into em. It fails
// only when the input is invalid, the data cannot be retrieved or parsed,
// the base objects cannot be created, or ctx is cancelled. Problems with a
// single way are logged and that way is skipped.
func (b *Builder) Import(ctx context.Context, em Emitter, req Request) (res *Result, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "scene.import",
		trace.WithAttributes(tracing.ImportAttributes(req.Lat, req.Lon, req.LengthKm, req.Elevation)...),
	)
	defer func() {
		monitoring.RecordImport(time.Since(start), req.Elevation, err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := core.ValidateImport(req.Lat, req.Lon, req.LengthKm); err != nil {
		return nil, err
	}
	if req.Elevation && b.resolver == nil {
		return nil, core.NewError(core.ErrInvalidInput, "elevation requested but no elevation resolver is configured")
	}

	logger := b.logger.With("lat", req.Lat, "lon", req.Lon, "length_km", req.LengthKm, "elevation", req.Elevation)

	req.progress(0)
	req.status("Get data from openstreetmap.org and parse it for later usage ...")

	doc, err := b.fetcher.Fetch(ctx, req.Lat, req.Lon, req.LengthKm/2)
	if err != nil {
		logger.Error("map data retrieval failed", "error", err)
		return nil, err
	}

	req.status("Transform data ...")
	if req.Policy != (classify.Policy{}) {
		logger = logger.With("preset", req.Policy.Name)
	}
	run := &importRun{
		em:        em,
		doc:       doc,
		bounds:    geo.NewSceneBounds(doc.Bounds),
		elevation: req.Elevation,
		policy:    b.policy,
		groups:    make(map[classify.SemanticType]Handle, len(groupOrder)),
		result: &Result{
			Bounds:  doc.Bounds,
			Ways:    len(doc.Ways),
			Emitted: make(map[string]int, len(groupOrder)),
		},
	}
	if req.Policy != (classify.Policy{}) {
		run.policy = req.Policy
	}
	run.result.Preset = run.policy.Name

	req.status("create visualizations...")
	if err := b.emitBase(ctx, run, req, logger); err != nil {
		return nil, err
	}

	for _, t := range groupOrder {
		h, err := em.CreateGroup(t.Group())
		if err != nil {
			return nil, core.Wrap(core.ErrInternalError, "failed to create group "+t.Group(), err)
		}
		run.groups[t] = h
	}

	if req.Elevation {
		run.samples = b.sampleWays(ctx, run, logger)
	}

	n := len(doc.Ways)
	for i, way := range doc.Ways {
		if err := ctx.Err(); err != nil {
			logger.Warn("import cancelled", "processed", i, "ways", n)
			run.result.Duration = time.Since(start)
			return run.result, err
		}

		wayType, err := b.buildWay(run, way)
		if err != nil {
			run.result.Skipped++
			monitoring.RecordWay(wayType.String(), "skipped")
			name, _ := way.Tags.Find(classify.KeyName)
			logger.Warn("way skipped", "way", way.ID, "name", name, "error", err)
			logger.Debug("skipped way tags", "way", way.ID, "tags", way.Tags.Map())
		} else {
			run.result.Emitted[wayType.String()]++
			monitoring.RecordWay(wayType.String(), "emitted")
		}

		req.progress(100 * (i + 1) / n)
	}

	run.result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int(tracing.AttrImportWays, run.result.EmittedTotal()),
		attribute.Int(tracing.AttrImportSkipped, run.result.Skipped),
	)
	monitoring.RecordElevationMisses(run.result.ElevationMisses)

	req.progress(100)
	req.status("import finished.")
	logger.Info("import finished",
		"ways", n,
		"emitted", run.result.EmittedTotal(),
		"skipped", run.result.Skipped,
		"tag_warnings", run.result.TagWarnings,
		"elevation_misses", run.result.ElevationMisses,
		"duration", run.result.Duration,
	)
	return run.result, nil
}

// emitBase creates the base plane and, with elevation, the terrain surface.
func (b *Builder) emitBase(ctx context.Context, run *importRun, req Request, logger *slog.Logger) error {
	hw, hh := run.bounds.HalfWidth, run.bounds.HalfHeight
	corners := []geo.ProjectedPoint{
		{X: -hw, Y: -hh},
		{X: hw, Y: -hh},
		{X: hw, Y: hh},
		{X: -hw, Y: hh},
	}
	plane, err := run.em.CreatePolygon(BasePlaneLabel, corners, true, NoGroup)
	if err != nil {
		return core.Wrap(core.ErrInternalError, "failed to create base plane", err)
	}

	if !req.Elevation {
		return nil
	}

	base, err := b.resolver.SampleOne(ctx, req.Lat, req.Lon)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("no elevation at import centre, using 0 as base height", "error", err)
		run.result.ElevationMisses++
		base = 0
	}
	run.base = base
	run.result.BaseHeightMM = base

	grid := TerrainGrid(run.bounds, TerrainStepMM)
	misses, err := DrapeTerrain(ctx, b.resolver, run.bounds, grid, base)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("terrain sampling failed, terrain left flat", "error", err)
	} else if misses > 0 {
		logger.Info("terrain points without elevation", "missed", misses)
	}

	surface, err := run.em.CreateSurface(TerrainLabel, grid, NoGroup)
	if err != nil {
		logger.Warn("failed to create terrain surface", "error", err)
		return nil
	}
	if err := run.em.AssignStyle(surface, Style{Transparency: TerrainTransparency}); err != nil {
		logger.Warn("failed to style terrain surface", "error", err)
	}
	if err := run.em.AssignStyle(plane, Style{Hidden: true}); err != nil {
		logger.Warn("failed to hide base plane", "error", err)
	}
	run.result.Terrain = true
	return nil
}

// sampleWays batch-samples every node referenced by a way, once.
func (b *Builder) sampleWays(ctx context.Context, run *importRun, logger *slog.Logger) elevation.Samples {
	var points []elevation.Point
	seen := make(map[string]struct{})
	for _, w := range run.doc.Ways {
		for _, ref := range w.NodeRefs {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			if n, ok := run.doc.Node(ref); ok {
				points = append(points, elevation.Point{ID: n.ID, Lat: n.Lat, Lon: n.Lon})
			}
		}
	}

	samples, err := b.resolver.SampleBatch(ctx, points)
	if err != nil {
		logger.Warn("way elevation sampling failed, using base height", "points", len(points), "error", err)
	}
	if samples == nil {
		samples = elevation.Samples{}
	}
	return samples
}

// buildWay classifies and emits one way. Panics from the emitter are turned
// into errors so one bad way cannot end the import.
func (b *Builder) buildWay(run *importRun, way osm.Way) (t classify.SemanticType, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewError(core.ErrPerWayFailure, fmt.Sprintf("panic while building way %s: %v", way.ID, r))
		}
	}()

	c, warnings := classify.Classify(way.Tags, run.policy)
	t = c.Type
	for _, w := range warnings {
		run.result.TagWarnings++
		monitoring.RecordTagWarning(w.Key)
		b.logger.Warn("tag skipped", "way", way.ID, "key", w.Key, "value", w.Value, "error", w.Err)
	}

	refs := way.NodeRefs
	closed := way.Closed()
	if closed {
		refs = refs[:len(refs)-1]
	}

	nodes := make([]osm.Node, 0, len(refs))
	for _, ref := range refs {
		n, ok := run.doc.Node(ref)
		if !ok {
			return t, core.NewError(core.ErrPerWayFailure, fmt.Sprintf("way %s references unknown node %s", way.ID, ref))
		}
		nodes = append(nodes, n)
	}
	if len(nodes) < 2 {
		return t, core.NewError(core.ErrPerWayFailure, fmt.Sprintf("way %s has %d usable vertices", way.ID, len(nodes)))
	}

	points := make([]geo.ProjectedPoint, len(nodes))
	for i, n := range nodes {
		points[i] = run.bounds.Local(n.Lat, n.Lon)
	}

	if run.elevation {
		heights, misses := AssignHeights(t, nodes, run.base, run.samples)
		if misses > 0 {
			run.result.ElevationMisses += misses
			b.logger.Debug("vertices without elevation, using base height", "way", way.ID, "missed", misses)
		}
		for i := range points {
			points[i].Z = heights[i] - run.base
		}
	}

	group := run.groups[t]
	poly, err := run.em.CreatePolygon(way.ID, points, closed, group)
	if err != nil {
		return t, core.Wrap(core.ErrPerWayFailure, "failed to create polygon for way "+way.ID, err)
	}

	e := extrusionFor(c, run.policy)
	obj, err := run.em.CreateExtrusion(c.DisplayName, poly, e.heightMM, e.solid, group)
	if err != nil {
		b.discard(run.em, way.ID, poly)
		return t, core.Wrap(core.ErrPerWayFailure, "failed to extrude way "+way.ID, err)
	}
	if err := run.em.AssignStyle(obj, e.style); err != nil {
		b.discard(run.em, way.ID, obj, poly)
		return t, core.Wrap(core.ErrPerWayFailure, "failed to style way "+way.ID, err)
	}
	return t, nil
}

// discard removes the partial objects of a skipped way. Emitters without
// Remove keep them.
func (b *Builder) discard(em Emitter, wayID string, handles ...Handle) {
	r, ok := em.(Remover)
	if !ok {
		b.logger.Debug("emitter cannot remove objects, partial way left in document", "way", wayID)
		return
	}
	for _, h := range handles {
		if err := r.Remove(h); err != nil {
			b.logger.Debug("failed to remove partial object", "way", wayID, "handle", h, "error", err)
		}
	}
}
