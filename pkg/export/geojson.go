// Package export writes a built scene to interchange formats.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/NERVsystems/osmscene/pkg/geo"
	"github.com/NERVsystems/osmscene/pkg/scene"
)

// Feature property keys.
const (
	PropLabel    = "label"
	PropWay      = "way"
	PropGroup    = "group"
	PropKind     = "kind"
	PropHeightMM = "heightMM"
	PropSolid    = "solid"
	PropZ        = "z"
	PropAreaMM2  = "areaMM2"
)

// FeatureCollection converts doc to GeoJSON in scene-local millimetre
// coordinates. Extrusions become features carrying their base outline; the
// base plane is included, the terrain surface is not.
func FeatureCollection(doc *scene.Document) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	extruded := make(map[scene.Handle]bool)

	for _, o := range doc.Objects() {
		if o.Kind != scene.KindExtrusion {
			continue
		}
		base, ok := doc.Object(o.Base)
		if !ok {
			continue
		}
		extruded[base.Handle] = true

		f := outlineFeature(base)
		f.Properties[PropLabel] = o.Label
		f.Properties[PropWay] = base.Label
		f.Properties[PropGroup] = doc.GroupName(o.Group)
		f.Properties[PropKind] = string(o.Kind)
		f.Properties[PropHeightMM] = o.HeightMM
		f.Properties[PropSolid] = o.Solid
		fc.Append(f)
	}

	// polygons without an extrusion, such as the base plane
	for _, o := range doc.Objects() {
		if o.Kind != scene.KindPolygon || extruded[o.Handle] {
			continue
		}
		f := outlineFeature(o)
		f.Properties[PropLabel] = o.Label
		f.Properties[PropKind] = string(o.Kind)
		fc.Append(f)
	}
	return fc
}

func outlineFeature(poly scene.Object) *geojson.Feature {
	var g orb.Geometry
	if poly.Closed && len(poly.Points) >= 3 {
		ring := make(orb.Ring, 0, len(poly.Points)+1)
		for _, p := range poly.Points {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		ring = append(ring, ring[0])
		g = orb.Polygon{ring}
	} else {
		ls := make(orb.LineString, 0, len(poly.Points))
		for _, p := range poly.Points {
			ls = append(ls, orb.Point{p.X, p.Y})
		}
		g = ls
	}

	f := geojson.NewFeature(g)
	f.Properties[PropZ] = zValues(poly.Points)
	if _, ok := g.(orb.Polygon); ok {
		f.Properties[PropAreaMM2] = math.Abs(planar.Area(g))
	}
	return f
}

func zValues(pts []geo.ProjectedPoint) []float64 {
	zs := make([]float64, len(pts))
	for i, p := range pts {
		zs[i] = p.Z
	}
	return zs
}

// WriteGeoJSON writes doc as a GeoJSON feature collection.
func WriteGeoJSON(w io.Writer, doc *scene.Document) error {
	data, err := json.MarshalIndent(FeatureCollection(doc), "", " ")
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
