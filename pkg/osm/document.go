package osm

import (
	"bytes"
	"encoding/xml"
	"strconv"

	paulosm "github.com/paulmach/osm"

	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/geo"
)

// Node is a single geographic point.
type Node struct {
	ID  string
	Lat float64
	Lon float64
}

// Tag is one key/value attribute of a way.
type Tag struct {
	Key   string
	Value string
}

// Tags keeps tags in document order.
type Tags []Tag

// Map returns the tags as a mapping; the last value wins on duplicate keys.
func (ts Tags) Map() map[string]string {
	m := make(map[string]string, len(ts))
	for _, t := range ts {
		m[t.Key] = t.Value
	}
	return m
}

// Find returns the last value for key.
func (ts Tags) Find(key string) (string, bool) {
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].Key == key {
			return ts[i].Value, true
		}
	}
	return "", false
}

// Way is an ordered list of node references with tags. Closed ways repeat
// the first reference at the end.
type Way struct {
	ID       string
	NodeRefs []string
	Tags     Tags
}

// Closed reports whether the way ends where it starts.
func (w Way) Closed() bool {
	return len(w.NodeRefs) > 2 && w.NodeRefs[0] == w.NodeRefs[len(w.NodeRefs)-1]
}

// Document is a parsed map payload. It is read-only after Parse.
type Document struct {
	Bounds geo.BoundingBox
	Nodes  map[string]Node
	Ways   []Way
}

// Node looks up a node by id.
func (d *Document) Node(id string) (Node, bool) {
	n, ok := d.Nodes[id]
	return n, ok
}

// Parse decodes an OSM 0.6 XML payload. A payload without <bounds> is
// rejected, since the scene cannot be placed without it. A zero-width or
// zero-height <bounds> is widened to the extent of the nodes.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, core.NewError(core.ErrParse, "empty map payload")
	}

	var raw paulosm.OSM
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, core.Wrap(core.ErrParse, "malformed map XML", err)
	}
	if raw.Bounds == nil {
		return nil, core.NewError(core.ErrParse, "map payload has no <bounds> element").
			WithGuidance("The response does not look like an OSM 0.6 map document")
	}

	bounds := geo.BoundingBox{
		MinLat: raw.Bounds.MinLat,
		MinLon: raw.Bounds.MinLon,
		MaxLat: raw.Bounds.MaxLat,
		MaxLon: raw.Bounds.MaxLon,
	}
	if !bounds.Valid() {
		return nil, core.NewError(core.ErrParse, "map payload has inverted <bounds>")
	}

	if bounds.MinLat == bounds.MaxLat || bounds.MinLon == bounds.MaxLon {
		bounds = nodeBounds(bounds, raw.Nodes)
	}

	doc := &Document{
		Bounds: bounds,
		Nodes:  make(map[string]Node, len(raw.Nodes)),
		Ways:   make([]Way, 0, len(raw.Ways)),
	}

	for _, n := range raw.Nodes {
		id := strconv.FormatInt(int64(n.ID), 10)
		doc.Nodes[id] = Node{ID: id, Lat: n.Lat, Lon: n.Lon}
	}

	for _, w := range raw.Ways {
		way := Way{
			ID:       strconv.FormatInt(int64(w.ID), 10),
			NodeRefs: make([]string, 0, len(w.Nodes)),
			Tags:     make(Tags, 0, len(w.Tags)),
		}
		for _, wn := range w.Nodes {
			way.NodeRefs = append(way.NodeRefs, strconv.FormatInt(int64(wn.ID), 10))
		}
		for _, t := range w.Tags {
			way.Tags = append(way.Tags, Tag{Key: t.Key, Value: t.Value})
		}
		doc.Ways = append(doc.Ways, way)
	}

	return doc, nil
}

// nodeBounds widens a degenerate <bounds> box to cover every node.
func nodeBounds(declared geo.BoundingBox, nodes paulosm.Nodes) geo.BoundingBox {
	b := geo.NewBoundingBox()
	b.ExtendWithPoint(declared.MinLat, declared.MinLon)
	b.ExtendWithPoint(declared.MaxLat, declared.MaxLon)
	for _, n := range nodes {
		b.ExtendWithPoint(n.Lat, n.Lon)
	}
	return *b
}
