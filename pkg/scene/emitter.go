// Package scene builds the 3D import scene: a base plane, an optional
// terrain surface and one extruded object per classified way.
package scene

import "github.com/NERVsystems/osmscene/pkg/geo"

// Handle identifies an object created by an Emitter.
type Handle int

// NoGroup places an object at the document root.
const NoGroup Handle = 0

// Color is an RGB triple in 0..1.
type Color struct {
	R, G, B float64
}

// Palette used by the builder.
var (
	White       = Color{1, 1, 1}
	Blue        = Color{0, 0, 1}
	Yellow      = Color{1, 1, 0}
	Residential = Color{1, 0.6, 0.6}
	Meadow      = Color{0, 1, 0}
	Farmland    = Color{0.8, 0.8, 0}
	Forest      = Color{1, 0.4, 0.4}
)

// Style is the view styling of an object. Nil colours keep the host default.
type Style struct {
	ShapeColor   *Color  `json:"shapeColor,omitempty"`
	LineColor    *Color  `json:"lineColor,omitempty"`
	LineWidth    float64 `json:"lineWidth,omitempty"`
	Transparency int     `json:"transparency,omitempty"`
	Hidden       bool    `json:"hidden,omitempty"`
}

// Emitter is the narrow capability the builder needs from a host document.
// Implementations decide how objects are stored or rendered.
//
// A way is emitted as a polygon, then an extrusion, then a style. If a later
// step fails, the objects already created for that way stay in the document
// unless the emitter also implements Remover.
type Emitter interface {
	CreateGroup(name string) (Handle, error)
	// CreatePolygon creates a wire through points; closed joins last to first.
	CreatePolygon(label string, points []geo.ProjectedPoint, closed bool, group Handle) (Handle, error)
	// CreateExtrusion extrudes base along +Z by heightMM.
	CreateExtrusion(label string, base Handle, heightMM float64, solid bool, group Handle) (Handle, error)
	// CreateSurface creates a surface through a row-major grid of points.
	CreateSurface(label string, grid [][]geo.ProjectedPoint, group Handle) (Handle, error)
	AssignStyle(h Handle, style Style) error
}

// Remover is implemented by emitters that can delete objects. The builder
// uses it to drop the partial objects of a way that failed to build.
type Remover interface {
	Remove(h Handle) error
}
