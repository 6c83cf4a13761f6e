package scene

import (
	"fmt"
	"sync"

	"github.com/NERVsystems/osmscene/pkg/geo"
)

// Kind is the object kind in a Document.
type Kind string

const (
	KindGroup     Kind = "group"
	KindPolygon   Kind = "polygon"
	KindExtrusion Kind = "extrusion"
	KindSurface   Kind = "surface"
)

// Object is one entry of a Document.
type Object struct {
	Handle Handle `json:"handle"`
	Kind   Kind   `json:"kind"`
	Label  string `json:"label"`
	Group  Handle `json:"group,omitempty"`

	Points []geo.ProjectedPoint `json:"points,omitempty"`
	Closed bool                 `json:"closed,omitempty"`

	Base     Handle  `json:"base,omitempty"`
	HeightMM float64 `json:"heightMM,omitempty"`
	Solid    bool    `json:"solid,omitempty"`

	Grid [][]geo.ProjectedPoint `json:"grid,omitempty"`

	Style Style `json:"style"`

	removed bool
}

// Document is an in-memory Emitter. The builder receives it explicitly;
// there is no current document.
type Document struct {
	Name string

	mu      sync.RWMutex
	objects []*Object
}

// NewDocument creates an empty document.
func NewDocument(name string) *Document {
	return &Document{Name: name}
}

func (d *Document) add(o *Object) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	o.Handle = Handle(len(d.objects) + 1)
	d.objects = append(d.objects, o)
	return o.Handle
}

func (d *Document) get(h Handle) (*Object, error) {
	if h <= 0 || int(h) > len(d.objects) {
		return nil, fmt.Errorf("unknown object handle %d", h)
	}
	o := d.objects[h-1]
	if o.removed {
		return nil, fmt.Errorf("object %d was removed", h)
	}
	return o, nil
}

func (d *Document) checkGroup(group Handle) error {
	if group == NoGroup {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, err := d.get(group)
	if err != nil {
		return err
	}
	if o.Kind != KindGroup {
		return fmt.Errorf("object %d is a %s, not a group", group, o.Kind)
	}
	return nil
}

// CreateGroup implements Emitter.
func (d *Document) CreateGroup(name string) (Handle, error) {
	return d.add(&Object{Kind: KindGroup, Label: name}), nil
}

// CreatePolygon implements Emitter.
func (d *Document) CreatePolygon(label string, points []geo.ProjectedPoint, closed bool, group Handle) (Handle, error) {
	if len(points) < 2 {
		return 0, fmt.Errorf("polygon %q needs at least 2 points, got %d", label, len(points))
	}
	if err := d.checkGroup(group); err != nil {
		return 0, err
	}
	pts := make([]geo.ProjectedPoint, len(points))
	copy(pts, points)
	return d.add(&Object{Kind: KindPolygon, Label: label, Points: pts, Closed: closed, Group: group}), nil
}

// CreateExtrusion implements Emitter.
func (d *Document) CreateExtrusion(label string, base Handle, heightMM float64, solid bool, group Handle) (Handle, error) {
	if heightMM < 0 {
		return 0, fmt.Errorf("extrusion %q has negative height %f", label, heightMM)
	}
	d.mu.RLock()
	b, err := d.get(base)
	d.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	if b.Kind != KindPolygon {
		return 0, fmt.Errorf("extrusion base %d is a %s, not a polygon", base, b.Kind)
	}
	if err := d.checkGroup(group); err != nil {
		return 0, err
	}
	return d.add(&Object{Kind: KindExtrusion, Label: label, Base: base, HeightMM: heightMM, Solid: solid, Group: group}), nil
}

// CreateSurface implements Emitter.
func (d *Document) CreateSurface(label string, grid [][]geo.ProjectedPoint, group Handle) (Handle, error) {
	if len(grid) < 2 || len(grid[0]) < 2 {
		return 0, fmt.Errorf("surface %q needs a grid of at least 2x2", label)
	}
	for i, row := range grid {
		if len(row) != len(grid[0]) {
			return 0, fmt.Errorf("surface %q row %d has %d points, want %d", label, i, len(row), len(grid[0]))
		}
	}
	if err := d.checkGroup(group); err != nil {
		return 0, err
	}
	return d.add(&Object{Kind: KindSurface, Label: label, Grid: grid, Group: group}), nil
}

// AssignStyle implements Emitter.
func (d *Document) AssignStyle(h Handle, style Style) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(h)
	if err != nil {
		return err
	}
	o.Style = style
	return nil
}

// Remove implements Remover. Handles of other objects stay valid.
func (d *Document) Remove(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(h)
	if err != nil {
		return err
	}
	o.removed = true
	return nil
}

// Objects returns a snapshot of all objects in creation order.
func (d *Document) Objects() []Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Object, 0, len(d.objects))
	for _, o := range d.objects {
		if !o.removed {
			out = append(out, *o)
		}
	}
	return out
}

// Object returns the object with handle h.
func (d *Document) Object(h Handle) (Object, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, err := d.get(h)
	if err != nil {
		return Object{}, false
	}
	return *o, true
}

// Members returns the objects of a group in creation order.
func (d *Document) Members(group Handle) []Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Object
	for _, o := range d.objects {
		if o.Group == group && o.Kind != KindGroup && !o.removed {
			out = append(out, *o)
		}
	}
	return out
}

// GroupName returns the label of a group handle, or "" for NoGroup.
func (d *Document) GroupName(group Handle) string {
	if group == NoGroup {
		return ""
	}
	o, ok := d.Object(group)
	if !ok {
		return ""
	}
	return o.Label
}

// Len returns the number of objects.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, o := range d.objects {
		if !o.removed {
			n++
		}
	}
	return n
}
