package geo

import "math"

// EarthRadiusMM is the sphere radius used by the projection, in millimetres.
const EarthRadiusMM = 6378137000.0

// TransverseMercator is a spherical transverse Mercator projection centred
// on an arbitrary point. Output is in millimetres. The zero value is centred
// on (0, 0); use NewTransverseMercator for a scene centre.
type TransverseMercator struct {
	lat0  float64
	lon0  float64
	scale float64
}

// NewTransverseMercator returns a projection centred on (lat0, lon0).
func NewTransverseMercator(lat0, lon0 float64) *TransverseMercator {
	return &TransverseMercator{lat0: lat0, lon0: lon0, scale: 1}
}

// Center returns the projection centre.
func (tm *TransverseMercator) Center() Location {
	return Location{Latitude: tm.lat0, Longitude: tm.lon0}
}

func (tm *TransverseMercator) radius() float64 {
	k := tm.scale
	if k == 0 {
		k = 1
	}
	return k * EarthRadiusMM
}

// FromGeographic projects lat/lon in degrees to plane coordinates.
func (tm *TransverseMercator) FromGeographic(lat, lon float64) (x, y float64) {
	r := tm.radius()
	phi := radians(lat)
	dLambda := radians(lon - tm.lon0)

	b := math.Sin(dLambda) * math.Cos(phi)
	x = 0.5 * r * math.Log((1+b)/(1-b))
	y = r * (math.Atan2(math.Tan(phi), math.Cos(dLambda)) - radians(tm.lat0))
	return x, y
}

// ToGeographic is the inverse of FromGeographic.
func (tm *TransverseMercator) ToGeographic(x, y float64) (lat, lon float64) {
	r := tm.radius()
	xr := x / r
	d := y/r + radians(tm.lat0)

	lon = tm.lon0 + degrees(math.Atan2(math.Sinh(xr), math.Cos(d)))
	lat = degrees(math.Asin(math.Sin(d) / math.Cosh(xr)))
	return lat, lon
}

// Project returns the projected point for a coordinate with z = 0.
func (tm *TransverseMercator) Project(lat, lon float64) ProjectedPoint {
	x, y := tm.FromGeographic(lat, lon)
	return ProjectedPoint{X: x, Y: y}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
