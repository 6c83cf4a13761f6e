// Package geo provides geographic primitives and the local plane projection
// used to place OpenStreetMap data in a scene.
package geo

import (
	"fmt"
	"math"
)

const (
	// KmPerDegreeLat is the approximate length of one degree of latitude.
	KmPerDegreeLat = 111.3
	// KmPerDegreeLon is the approximate length of one degree of longitude at
	// the reference latitude. Not geodesically exact.
	KmPerDegreeLon = 71.3
)

// Location is a point in decimal degrees (WGS84).
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BoundingBox is a geographic rectangle in degrees.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// NewBoundingBox returns an empty box that any extended point will replace.
func NewBoundingBox() *BoundingBox {
	return &BoundingBox{
		MinLat: math.Inf(1),
		MinLon: math.Inf(1),
		MaxLat: math.Inf(-1),
		MaxLon: math.Inf(-1),
	}
}

// ExtendWithPoint grows the box to include the point.
func (b *BoundingBox) ExtendWithPoint(lat, lon float64) {
	b.MinLat = math.Min(b.MinLat, lat)
	b.MinLon = math.Min(b.MinLon, lon)
	b.MaxLat = math.Max(b.MaxLat, lat)
	b.MaxLon = math.Max(b.MaxLon, lon)
}

// Valid reports whether min <= max on both axes.
func (b BoundingBox) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Location {
	return Location{
		Latitude:  0.5 * (b.MinLat + b.MaxLat),
		Longitude: 0.5 * (b.MinLon + b.MaxLon),
	}
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// QueryString formats the box the way the OSM map API expects it:
// minLon,minLat,maxLon,maxLat.
func (b BoundingBox) QueryString() string {
	return fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ExpandBox builds the request box around a point with the given half edge
// length in kilometres.
func ExpandBox(lat, lon, halfKm float64) BoundingBox {
	dLat := halfKm / KmPerDegreeLat
	dLon := halfKm / KmPerDegreeLon
	return BoundingBox{
		MinLat: lat - dLat,
		MinLon: lon - dLon,
		MaxLat: lat + dLat,
		MaxLon: lon + dLon,
	}
}

// HeightKey quantizes a coordinate to the key used for elevation samples.
func HeightKey(lat, lon float64) string {
	return fmt.Sprintf("%.7f %.7f", lat, lon)
}
