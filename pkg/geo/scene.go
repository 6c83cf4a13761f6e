package geo

// ProjectedPoint is a vertex in the local scene plane, in millimetres.
type ProjectedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns p - q.
func (p ProjectedPoint) Sub(q ProjectedPoint) ProjectedPoint {
	return ProjectedPoint{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// SceneBounds describes the scene extent derived from a bounding box.
type SceneBounds struct {
	Projection *TransverseMercator
	Center     ProjectedPoint
	CornerMin  ProjectedPoint
	CornerMax  ProjectedPoint
	HalfWidth  float64
	HalfHeight float64
}

// NewSceneBounds centres a projection on the box and computes the corners.
func NewSceneBounds(b BoundingBox) SceneBounds {
	c := b.Center()
	tm := NewTransverseMercator(c.Latitude, c.Longitude)

	center := tm.Project(c.Latitude, c.Longitude)
	cornerMin := tm.Project(b.MinLat, b.MinLon)
	cornerMax := tm.Project(b.MaxLat, b.MaxLon)

	return SceneBounds{
		Projection: tm,
		Center:     center,
		CornerMin:  cornerMin,
		CornerMax:  cornerMax,
		HalfWidth:  center.X - cornerMin.X,
		HalfHeight: center.Y - cornerMin.Y,
	}
}

// Local projects a coordinate relative to the scene centre.
func (s SceneBounds) Local(lat, lon float64) ProjectedPoint {
	return s.Projection.Project(lat, lon).Sub(s.Center)
}

// Geographic converts a scene-local point back to lat/lon.
func (s SceneBounds) Geographic(p ProjectedPoint) (lat, lon float64) {
	return s.Projection.ToGeographic(p.X+s.Center.X, p.Y+s.Center.Y)
}
