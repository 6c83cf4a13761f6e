package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	earcut "github.com/flywave/go-earcut"

	"github.com/NERVsystems/osmscene/pkg/geo"
	"github.com/NERVsystems/osmscene/pkg/scene"
)

// objWriter tracks the running 1-based vertex index of an OBJ file.
type objWriter struct {
	w    *bufio.Writer
	next int
	err  error
}

func (o *objWriter) printf(format string, args ...any) {
	if o.err != nil {
		return
	}
	_, o.err = fmt.Fprintf(o.w, format, args...)
}

// vertices writes pts lifted by dz and returns the index of the first one.
func (o *objWriter) vertices(pts []geo.ProjectedPoint, dz float64) int {
	first := o.next
	for _, p := range pts {
		o.printf("v %.3f %.3f %.3f\n", p.X, p.Y, p.Z+dz)
	}
	o.next += len(pts)
	return first
}

func (o *objWriter) face(idx ...int) {
	var b strings.Builder
	b.WriteString("f")
	for _, i := range idx {
		fmt.Fprintf(&b, " %d", i)
	}
	o.printf("%s\n", b.String())
}

var objNameReplacer = strings.NewReplacer(" ", "_", "\t", "_", "\n", "_", "/", "_")

// WriteOBJ writes doc as Wavefront OBJ in millimetres. Extrusions become
// prisms with triangulated caps, zero-height extrusions become polylines and
// the terrain surface becomes a quad mesh.
func WriteOBJ(w io.Writer, doc *scene.Document) error {
	o := &objWriter{w: bufio.NewWriter(w), next: 1}
	o.printf("# %s\n", doc.Name)

	extruded := make(map[scene.Handle]bool)
	for _, obj := range doc.Objects() {
		if obj.Kind == scene.KindExtrusion {
			extruded[obj.Base] = true
		}
	}

	for _, obj := range doc.Objects() {
		switch obj.Kind {
		case scene.KindExtrusion:
			base, ok := doc.Object(obj.Base)
			if !ok {
				continue
			}
			o.printf("o %s_%s\n", objNameReplacer.Replace(obj.Label), base.Label)
			if obj.HeightMM == 0 {
				writePolyline(o, base)
				continue
			}
			if err := writePrism(o, base, obj.HeightMM); err != nil {
				return fmt.Errorf("way %s: %w", base.Label, err)
			}

		case scene.KindPolygon:
			if extruded[obj.Handle] || obj.Style.Hidden {
				continue
			}
			o.printf("o %s\n", objNameReplacer.Replace(obj.Label))
			if obj.Closed {
				if err := writeCap(o, obj.Points, o.vertices(obj.Points, 0), false); err != nil {
					return fmt.Errorf("polygon %s: %w", obj.Label, err)
				}
			} else {
				writePolyline(o, obj)
			}

		case scene.KindSurface:
			o.printf("o %s\n", objNameReplacer.Replace(obj.Label))
			writeGrid(o, obj.Grid)
		}
	}

	if o.err != nil {
		return fmt.Errorf("write obj: %w", o.err)
	}
	if err := o.w.Flush(); err != nil {
		return fmt.Errorf("write obj: %w", err)
	}
	return nil
}

func writePolyline(o *objWriter, poly scene.Object) {
	first := o.vertices(poly.Points, 0)
	var b strings.Builder
	b.WriteString("l")
	for i := range poly.Points {
		fmt.Fprintf(&b, " %d", first+i)
	}
	if poly.Closed {
		fmt.Fprintf(&b, " %d", first)
	}
	o.printf("%s\n", b.String())
}

func writePrism(o *objWriter, base scene.Object, height float64) error {
	n := len(base.Points)
	bottom := o.vertices(base.Points, 0)
	top := o.vertices(base.Points, height)

	sides := n - 1
	if base.Closed {
		sides = n
	}
	for i := 0; i < sides; i++ {
		j := (i + 1) % n
		o.face(bottom+i, bottom+j, top+j, top+i)
	}

	if !base.Closed || n < 3 {
		return nil
	}
	if err := writeCap(o, base.Points, bottom, true); err != nil {
		return err
	}
	return writeCap(o, base.Points, top, false)
}

// writeCap triangulates the outline and writes faces over vertices starting
// at first. flip reverses the winding for downward facing caps.
func writeCap(o *objWriter, pts []geo.ProjectedPoint, first int, flip bool) error {
	coords := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		coords = append(coords, p.X, p.Y)
	}
	tris, err := earcut.Earcut(coords, nil, 2)
	if err != nil {
		return fmt.Errorf("triangulate: %w", err)
	}
	for i := 0; i+2 < len(tris); i += 3 {
		a, b, c := first+tris[i], first+tris[i+1], first+tris[i+2]
		if flip {
			b, c = c, b
		}
		o.face(a, b, c)
	}
	return nil
}

func writeGrid(o *objWriter, grid [][]geo.ProjectedPoint) {
	if len(grid) == 0 {
		return
	}
	cols := len(grid[0])
	first := o.next
	for _, row := range grid {
		o.vertices(row, 0)
	}
	for j := 0; j+1 < len(grid); j++ {
		for i := 0; i+1 < cols; i++ {
			a := first + j*cols + i
			o.face(a, a+1, a+cols+1, a+cols)
		}
	}
}
