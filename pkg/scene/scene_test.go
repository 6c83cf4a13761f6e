package scene

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/elevation"
	"github.com/NERVsystems/osmscene/pkg/geo"
	"github.com/NERVsystems/osmscene/pkg/osm"
)

const testMap = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
 <bounds minlat="47.3700000" minlon="8.5400000" maxlat="47.3800000" maxlon="8.5500000"/>
 <node id="1" lat="47.3710000" lon="8.5410000"/>
 <node id="2" lat="47.3720000" lon="8.5420000"/>
 <node id="3" lat="47.3730000" lon="8.5410000"/>
 <node id="4" lat="47.3740000" lon="8.5430000"/>
 <node id="5" lat="47.3750000" lon="8.5440000"/>
 <node id="6" lat="47.3760000" lon="8.5450000"/>
 <node id="7" lat="47.3770000" lon="8.5460000"/>
 <way id="100">
  <nd ref="1"/><nd ref="2"/>
  <tag k="highway" v="residential"/>
  <tag k="name" v="Main St"/>
 </way>
 <way id="200">
  <nd ref="3"/><nd ref="4"/><nd ref="5"/><nd ref="6"/><nd ref="3"/>
  <tag k="building" v="yes"/>
  <tag k="building:levels" v="3"/>
 </way>
 <way id="300">
  <nd ref="4"/><nd ref="5"/><nd ref="6"/><nd ref="4"/>
  <tag k="landuse" v="meadow"/>
 </way>
 <way id="400">
  <nd ref="6"/><nd ref="7"/>
 </way>
 <way id="500">
  <nd ref="1"/><nd ref="99"/>
  <tag k="highway" v="footway"/>
 </way>
 <way id="600">
  <nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="2"/>
  <tag k="building" v="yes"/>
  <tag k="building:height" v="abc"/>
 </way>
</osm>`

type fakeFetcher struct {
	doc    *osm.Document
	err    error
	halfKm float64
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, lat, lon, halfKm float64) (*osm.Document, error) {
	f.calls++
	f.halfKm = halfKm
	return f.doc, f.err
}

func mustParse(t *testing.T, data string) *osm.Document {
	t.Helper()
	doc, err := osm.Parse([]byte(data))
	require.NoError(t, err)
	return doc
}

// slope returns a distinct height for every coordinate, in mm.
func slope(lat, lon float64) (float64, bool) {
	return (lat-47)*1e6 + (lon-8)*1e5, true
}

func newTestBuilder(t *testing.T, fetcher Fetcher, resolver elevation.Resolver) *Builder {
	t.Helper()
	b, err := NewBuilder(Options{Fetcher: fetcher, Resolver: resolver})
	require.NoError(t, err)
	return b
}

// findLabel returns the first object with the given label.
func findLabel(doc *Document, label string) (Object, bool) {
	for _, o := range doc.Objects() {
		if o.Label == label {
			return o, true
		}
	}
	return Object{}, false
}

func extrusionOf(t *testing.T, doc *Document, label string) (Object, Object) {
	t.Helper()
	for _, o := range doc.Objects() {
		if o.Kind != KindExtrusion {
			continue
		}
		base, ok := doc.Object(o.Base)
		require.True(t, ok)
		if base.Label == label {
			return o, base
		}
	}
	t.Fatalf("no extrusion for way %s", label)
	return Object{}, Object{}
}

func TestImportScene(t *testing.T) {
	fetcher := &fakeFetcher{doc: mustParse(t, testMap)}
	resolver := elevation.StaticResolver{Func: slope}
	b := newTestBuilder(t, fetcher, resolver)

	var progress []int
	var statuses []string
	doc := NewDocument("OSM")
	res, err := b.Import(context.Background(), doc, Request{
		Lat: 47.375, Lon: 8.545, LengthKm: 1, Elevation: true,
		Progress: func(p int) { progress = append(progress, p) },
		Status:   func(s string) { statuses = append(statuses, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, fetcher.halfKm)
	assert.Equal(t, 6, res.Ways)
	assert.Equal(t, 1, res.Skipped, "way with unknown node ref")
	assert.Equal(t, map[string]int{"road": 1, "building": 2, "landuse": 1, "path": 1}, res.Emitted)
	assert.Equal(t, 1, res.TagWarnings)
	assert.True(t, res.Terrain)

	base, _ := slope(47.375, 8.545)
	assert.InDelta(t, base, res.BaseHeightMM, 1e-6)

	assert.Equal(t, 0, progress[0])
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.Equal(t, "import finished.", statuses[len(statuses)-1])

	t.Run("base objects", func(t *testing.T) {
		area, ok := findLabel(doc, BasePlaneLabel)
		require.True(t, ok)
		assert.True(t, area.Style.Hidden)
		assert.Len(t, area.Points, 4)

		terrain, ok := findLabel(doc, TerrainLabel)
		require.True(t, ok)
		assert.Equal(t, KindSurface, terrain.Kind)
		assert.Equal(t, TerrainTransparency, terrain.Style.Transparency)

		for _, name := range []string{"Paths", "Roads", "Landuse", "Buildings"} {
			g, ok := findLabel(doc, name)
			require.True(t, ok, name)
			assert.Equal(t, KindGroup, g.Kind)
		}
	})

	t.Run("road has independent heights and no depth", func(t *testing.T) {
		ext, poly := extrusionOf(t, doc, "100")
		assert.Equal(t, "Main St", ext.Label)
		assert.Zero(t, ext.HeightMM)
		assert.Equal(t, "Roads", doc.GroupName(ext.Group))
		require.NotNil(t, ext.Style.LineColor)
		assert.Equal(t, Blue, *ext.Style.LineColor)
		assert.Equal(t, 10.0, ext.Style.LineWidth)

		require.Len(t, poly.Points, 2)
		h1, _ := slope(47.371, 8.541)
		h2, _ := slope(47.372, 8.542)
		assert.InDelta(t, h1-base, poly.Points[0].Z, 1e-6)
		assert.InDelta(t, h2-base, poly.Points[1].Z, 1e-6)
		assert.NotEqual(t, poly.Points[0].Z, poly.Points[1].Z)
	})

	t.Run("building shares first vertex height", func(t *testing.T) {
		ext, poly := extrusionOf(t, doc, "200")
		assert.Equal(t, 9000.0, ext.HeightMM)
		assert.True(t, ext.Solid)
		assert.Equal(t, "Buildings", doc.GroupName(ext.Group))
		require.NotNil(t, ext.Style.ShapeColor)
		assert.Equal(t, White, *ext.Style.ShapeColor)

		assert.True(t, poly.Closed)
		require.Len(t, poly.Points, 4)
		first, _ := slope(47.373, 8.541)
		for _, p := range poly.Points {
			assert.InDelta(t, first-base, p.Z, 1e-6)
		}
	})

	t.Run("landuse sits one millimetre above base", func(t *testing.T) {
		ext, poly := extrusionOf(t, doc, "300")
		assert.Equal(t, 1.0, ext.HeightMM)
		require.NotNil(t, ext.Style.ShapeColor)
		assert.Equal(t, Meadow, *ext.Style.ShapeColor)
		for _, p := range poly.Points {
			assert.InDelta(t, LanduseOffsetMM, p.Z, 1e-9)
		}
	})

	t.Run("untagged way is a yellow path", func(t *testing.T) {
		ext, _ := extrusionOf(t, doc, "400")
		assert.Equal(t, "path", ext.Label)
		assert.Equal(t, "Paths", doc.GroupName(ext.Group))
		require.NotNil(t, ext.Style.ShapeColor)
		assert.Equal(t, Yellow, *ext.Style.ShapeColor)
	})

	t.Run("malformed height falls back to default", func(t *testing.T) {
		ext, _ := extrusionOf(t, doc, "600")
		assert.Equal(t, float64(classify.PolicyGIS.DefaultBuildingHeightMM), ext.HeightMM)
	})
}

func TestImportWithoutElevation(t *testing.T) {
	fetcher := &fakeFetcher{doc: mustParse(t, testMap)}
	b := newTestBuilder(t, fetcher, nil)

	doc := NewDocument("OSM")
	res, err := b.Import(context.Background(), doc, Request{Lat: 47.375, Lon: 8.545, LengthKm: 1})
	require.NoError(t, err)

	assert.False(t, res.Terrain)
	_, ok := findLabel(doc, TerrainLabel)
	assert.False(t, ok)

	area, ok := findLabel(doc, BasePlaneLabel)
	require.True(t, ok)
	assert.False(t, area.Style.Hidden)

	for _, o := range doc.Objects() {
		for _, p := range o.Points {
			assert.Zero(t, p.Z, o.Label)
		}
	}
}

func TestImportPolicyOverride(t *testing.T) {
	b := newTestBuilder(t, &fakeFetcher{doc: mustParse(t, testMap)}, nil)

	doc := NewDocument("OSM")
	res, err := b.Import(context.Background(), doc, Request{Lat: 47.375, Lon: 8.545, LengthKm: 1, Policy: classify.PolicyGeodata})
	require.NoError(t, err)
	assert.Equal(t, classify.PolicyGeodata.Name, res.Preset)

	ext, _ := extrusionOf(t, doc, "600")
	assert.Equal(t, float64(classify.PolicyGeodata.DefaultBuildingHeightMM), ext.HeightMM)
	ext, _ = extrusionOf(t, doc, "200")
	assert.Equal(t, 9000.0, ext.HeightMM)
}

func TestImportElevationRequiresResolver(t *testing.T) {
	b := newTestBuilder(t, &fakeFetcher{doc: mustParse(t, testMap)}, nil)
	_, err := b.Import(context.Background(), NewDocument("x"), Request{Lat: 47.375, Lon: 8.545, LengthKm: 1, Elevation: true})
	assert.Equal(t, core.ErrInvalidInput, core.CodeOf(err))
}

func TestImportRetrievalFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: core.NewError(core.ErrRetrieval, "offline")}
	b := newTestBuilder(t, fetcher, nil)

	doc := NewDocument("OSM")
	res, err := b.Import(context.Background(), doc, Request{Lat: 47.375, Lon: 8.545, LengthKm: 1})
	assert.Nil(t, res)
	assert.True(t, core.IsFatal(err))
	assert.Zero(t, doc.Len(), "nothing emitted on retrieval failure")
}

func TestImportInvalidInput(t *testing.T) {
	fetcher := &fakeFetcher{doc: mustParse(t, testMap)}
	b := newTestBuilder(t, fetcher, nil)

	_, err := b.Import(context.Background(), NewDocument("x"), Request{Lat: 95, Lon: 8, LengthKm: 1})
	assert.Equal(t, core.ErrInvalidLatitude, core.CodeOf(err))
	assert.Zero(t, fetcher.calls)
}

func TestImportMissingSamplesFallBackToBase(t *testing.T) {
	// Only the import centre has a sample.
	resolver := elevation.StaticResolver{Func: func(lat, lon float64) (float64, bool) {
		if lat == 47.375 && lon == 8.545 {
			return 500000, true
		}
		return 0, false
	}}
	b := newTestBuilder(t, &fakeFetcher{doc: mustParse(t, testMap)}, resolver)

	doc := NewDocument("OSM")
	res, err := b.Import(context.Background(), doc, Request{Lat: 47.375, Lon: 8.545, LengthKm: 1, Elevation: true})
	require.NoError(t, err)
	assert.Equal(t, 500000.0, res.BaseHeightMM)
	assert.Positive(t, res.ElevationMisses)

	_, road := extrusionOf(t, doc, "100")
	for _, p := range road.Points {
		assert.Zero(t, p.Z)
	}
	_, building := extrusionOf(t, doc, "200")
	for _, p := range building.Points {
		assert.Zero(t, p.Z)
	}
}

func TestImportElevationServiceDown(t *testing.T) {
	resolver := elevation.StaticResolver{Func: func(lat, lon float64) (float64, bool) { return 0, false }}
	b := newTestBuilder(t, &fakeFetcher{doc: mustParse(t, testMap)}, resolver)

	res, err := b.Import(context.Background(), NewDocument("OSM"), Request{Lat: 47.375, Lon: 8.545, LengthKm: 1, Elevation: true})
	require.NoError(t, err)
	assert.Zero(t, res.BaseHeightMM)
	assert.Equal(t, 5, res.EmittedTotal())
}

// failingEmitter fails or panics on chosen way ids.
type failingEmitter struct {
	*Document
	fail        string
	panic       string
	failExtrude string
	failStyle   string
}

func (f *failingEmitter) wayOf(h Handle) string {
	o, ok := f.Document.Object(h)
	if !ok {
		return ""
	}
	if o.Kind == KindExtrusion {
		if base, ok := f.Document.Object(o.Base); ok {
			return base.Label
		}
	}
	return o.Label
}

func (f *failingEmitter) CreateExtrusion(label string, base Handle, heightMM float64, solid bool, group Handle) (Handle, error) {
	if f.failExtrude != "" && f.wayOf(base) == f.failExtrude {
		return 0, errors.New("extrusion failed")
	}
	return f.Document.CreateExtrusion(label, base, heightMM, solid, group)
}

func (f *failingEmitter) AssignStyle(h Handle, style Style) error {
	if f.failStyle != "" && f.wayOf(h) == f.failStyle {
		return errors.New("style failed")
	}
	return f.Document.AssignStyle(h, style)
}

// emitterOnly hides the Remove method of the wrapped emitter.
type emitterOnly struct {
	Emitter
}

func (f *failingEmitter) CreatePolygon(label string, pts []geo.ProjectedPoint, closed bool, group Handle) (Handle, error) {
	if label == f.fail {
		return 0, errors.New("kernel error")
	}
	if label == f.panic {
		panic("kernel crashed")
	}
	return f.Document.CreatePolygon(label, pts, closed, group)
}

func TestImportSkipsFailingWays(t *testing.T) {
	b := newTestBuilder(t, &fakeFetcher{doc: mustParse(t, testMap)}, nil)

	em := &failingEmitter{Document: NewDocument("OSM"), fail: "100", panic: "200"}
	res, err := b.Import(context.Background(), em, Request{Lat: 47.375, Lon: 8.545, LengthKm: 1})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 3, res.EmittedTotal())
	_, ok := findLabel(em.Document, "Main St")
	assert.False(t, ok)

	t.Run("partial objects are removed", func(t *testing.T) {
		em := &failingEmitter{Document: NewDocument("OSM"), failExtrude: "300", failStyle: "400"}
		res, err := b.Import(context.Background(), em, Request{Lat: 47.375, Lon: 8.545, LengthKm: 1})
		require.NoError(t, err)

		assert.Equal(t, 3, res.Skipped)
		assert.Equal(t, 3, res.EmittedTotal())
		for _, way := range []string{"300", "400"} {
			_, ok := findLabel(em.Document, way)
			assert.False(t, ok, "polygon of way %s left behind", way)
		}
		for _, o := range em.Objects() {
			if o.Kind == KindExtrusion {
				_, ok := em.Object(o.Base)
				assert.True(t, ok, "extrusion %q lost its base", o.Label)
			}
		}
		assert.Len(t, em.Objects(), em.Len())
	})

	t.Run("emitter without remove keeps partial objects", func(t *testing.T) {
		doc := NewDocument("OSM")
		em := emitterOnly{&failingEmitter{Document: doc, failExtrude: "300"}}
		res, err := b.Import(context.Background(), em, Request{Lat: 47.375, Lon: 8.545, LengthKm: 1})
		require.NoError(t, err)

		assert.Equal(t, 2, res.Skipped)
		_, ok := findLabel(doc, "300")
		assert.True(t, ok)
	})
}

func TestImportReportsEffectivePreset(t *testing.T) {
	b := newTestBuilder(t, &fakeFetcher{doc: mustParse(t, testMap)}, nil)
	res, err := b.Import(context.Background(), NewDocument("OSM"), Request{Lat: 47.375, Lon: 8.545, LengthKm: 1})
	require.NoError(t, err)
	assert.Equal(t, classify.PolicyGIS.Name, res.Preset)
}

func TestDocumentRemove(t *testing.T) {
	doc := NewDocument("OSM")
	g, err := doc.CreateGroup("Roads")
	require.NoError(t, err)
	p1, err := doc.CreatePolygon("1", []geo.ProjectedPoint{{}, {X: 1}}, false, g)
	require.NoError(t, err)
	p2, err := doc.CreatePolygon("2", []geo.ProjectedPoint{{}, {Y: 1}}, false, g)
	require.NoError(t, err)

	require.NoError(t, doc.Remove(p1))
	assert.Error(t, doc.Remove(p1), "already removed")
	assert.Error(t, doc.Remove(42))

	_, ok := doc.Object(p1)
	assert.False(t, ok)
	o, ok := doc.Object(p2)
	require.True(t, ok, "other handles stay valid")
	assert.Equal(t, "2", o.Label)
	assert.Equal(t, 2, doc.Len())
	assert.Len(t, doc.Members(g), 1)

	_, err = doc.CreateExtrusion("ext", p1, 10, true, g)
	assert.Error(t, err, "removed polygon is not a valid base")
}

func TestImportCancelled(t *testing.T) {
	b := newTestBuilder(t, &fakeFetcher{doc: mustParse(t, testMap)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := b.Import(ctx, NewDocument("OSM"), Request{
		Lat: 47.375, Lon: 8.545, LengthKm: 1,
		Progress: func(p int) {
			if p > 0 {
				cancel()
			}
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.EmittedTotal()+res.Skipped)
}

func TestAssignHeights(t *testing.T) {
	nodes := []osm.Node{
		{ID: "a", Lat: 1, Lon: 1},
		{ID: "b", Lat: 2, Lon: 2},
		{ID: "c", Lat: 3, Lon: 3},
	}
	samples := elevation.Samples{
		geo.HeightKey(1, 1): 100,
		geo.HeightKey(3, 3): 300,
	}
	const base = 50.0

	tests := []struct {
		name   string
		typ    classify.SemanticType
		want   []float64
		misses int
	}{
		{"building uses first vertex", classify.Building, []float64{100, 100, 100}, 0},
		{"road samples each vertex", classify.Road, []float64{100, base, 300}, 1},
		{"path samples each vertex", classify.Path, []float64{100, base, 300}, 1},
		{"landuse is base plus one", classify.Landuse, []float64{base + 1, base + 1, base + 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, misses := AssignHeights(tt.typ, nodes, base, samples)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.misses, misses)
		})
	}

	t.Run("building without first sample uses base", func(t *testing.T) {
		got, misses := AssignHeights(classify.Building, nodes[1:], base, samples)
		assert.Equal(t, []float64{base, base}, got)
		assert.Equal(t, 1, misses)
	})
}

func TestLanduseColors(t *testing.T) {
	tests := []struct {
		subtype string
		want    *Color
	}{
		{"residential", &Residential},
		{"meadow", &Meadow},
		{"farmland", &Farmland},
		{"forest", &Forest},
		{"quarry", nil},
	}
	for _, tt := range tests {
		e := extrusionFor(classify.Classification{Type: classify.Landuse, UseSubtype: tt.subtype}, classify.PolicyGIS)
		if tt.want == nil {
			assert.Nil(t, e.style.ShapeColor, tt.subtype)
			continue
		}
		require.NotNil(t, e.style.ShapeColor, tt.subtype)
		assert.Equal(t, *tt.want, *e.style.ShapeColor, tt.subtype)
	}
}

func TestTerrainGrid(t *testing.T) {
	b := geo.NewSceneBounds(geo.BoundingBox{MinLat: 47.37, MinLon: 8.54, MaxLat: 47.38, MaxLon: 8.55})
	grid := TerrainGrid(b, TerrainStepMM)

	require.GreaterOrEqual(t, len(grid), 2)
	row := grid[0]
	require.GreaterOrEqual(t, len(row), 2)

	assert.InDelta(t, -b.HalfWidth, row[0].X, 1e-6)
	assert.InDelta(t, b.HalfWidth, row[len(row)-1].X, 1e-6)
	assert.InDelta(t, -b.HalfHeight, grid[0][0].Y, 1e-6)
	assert.InDelta(t, b.HalfHeight, grid[len(grid)-1][0].Y, 1e-6)
	for i := 1; i < len(row)-1; i++ {
		assert.InDelta(t, TerrainStepMM, row[i].X-row[i-1].X, 1e-6)
	}
}

func TestAxis(t *testing.T) {
	assert.Equal(t, []float64{-100000, 0, 100000}, axis(100000, 100000))
	got := axis(150000, 100000)
	assert.Equal(t, []float64{-150000, -50000, 50000, 150000}, got)
	assert.False(t, math.IsNaN(got[0]))
}

func TestDocumentValidation(t *testing.T) {
	doc := NewDocument("x")
	g, err := doc.CreateGroup("G")
	require.NoError(t, err)

	_, err = doc.CreatePolygon("one", []geo.ProjectedPoint{{}}, false, g)
	assert.Error(t, err)

	p, err := doc.CreatePolygon("two", []geo.ProjectedPoint{{}, {X: 1}}, false, g)
	require.NoError(t, err)

	_, err = doc.CreatePolygon("bad group", []geo.ProjectedPoint{{}, {X: 1}}, false, p)
	assert.Error(t, err)

	_, err = doc.CreateExtrusion("ext", g, 10, true, g)
	assert.Error(t, err, "base must be a polygon")

	_, err = doc.CreateExtrusion("neg", p, -1, true, g)
	assert.Error(t, err)

	_, err = doc.CreateSurface("ragged", [][]geo.ProjectedPoint{{{}, {}}, {{}}}, NoGroup)
	assert.Error(t, err)

	assert.Error(t, doc.AssignStyle(99, Style{}))
	assert.Len(t, doc.Members(g), 1)
}
