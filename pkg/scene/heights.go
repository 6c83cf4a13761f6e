package scene

import (
	"github.com/NERVsystems/osmscene/pkg/classify"
	"github.com/NERVsystems/osmscene/pkg/elevation"
	"github.com/NERVsystems/osmscene/pkg/osm"
)

// LanduseOffsetMM lifts landuse sheets above the terrain.
const LanduseOffsetMM = 1.0

// AssignHeights returns the absolute height of every vertex of a way of the
// given type, and how many vertices fell back to base for lack of a sample.
//
// Buildings take the sample of their first vertex for every vertex. Roads and
// paths sample each vertex. Landuse ignores samples and sits at base+1.
func AssignHeights(t classify.SemanticType, nodes []osm.Node, base float64, samples elevation.Samples) (heights []float64, misses int) {
	heights = make([]float64, len(nodes))
	if len(nodes) == 0 {
		return heights, 0
	}

	switch t {
	case classify.Landuse:
		for i := range heights {
			heights[i] = base + LanduseOffsetMM
		}

	case classify.Building:
		// TODO: use the lowest vertex once footprints on slopes are handled.
		h, ok := samples.Lookup(nodes[0].Lat, nodes[0].Lon)
		if !ok {
			h = base
			misses++
		}
		for i := range heights {
			heights[i] = h
		}

	default:
		for i, n := range nodes {
			h, ok := samples.Lookup(n.Lat, n.Lon)
			if !ok {
				h = base
				misses++
			}
			heights[i] = h
		}
	}

	return heights, misses
}

// extrusion describes the extrusion and styling of a classified way.
type extrusion struct {
	heightMM float64
	solid    bool
	style    Style
}

func colorPtr(c Color) *Color { return &c }

// landuseColors maps landuse values to sheet colours. Other values keep the
// host default.
var landuseColors = map[string]Color{
	"residential": Residential,
	"meadow":      Meadow,
	"farmland":    Farmland,
	"forest":      Forest,
}

func extrusionFor(c classify.Classification, p classify.Policy) extrusion {
	switch c.Type {
	case classify.Building:
		return extrusion{
			heightMM: float64(p.BuildingHeightMM(c)),
			solid:    true,
			style:    Style{ShapeColor: colorPtr(White)},
		}
	case classify.Road:
		return extrusion{
			style: Style{LineColor: colorPtr(Blue), LineWidth: 10},
		}
	case classify.Landuse:
		e := extrusion{heightMM: 1, solid: true}
		if col, ok := landuseColors[c.UseSubtype]; ok {
			e.style.ShapeColor = colorPtr(col)
		}
		return e
	default:
		return extrusion{
			heightMM: 1,
			solid:    true,
			style:    Style{ShapeColor: colorPtr(Yellow)},
		}
	}
}
