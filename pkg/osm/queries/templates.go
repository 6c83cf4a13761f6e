// Package queries builds request URLs for the OSM 0.6 map API.
package queries

import (
	"net/url"
	"strings"

	"github.com/NERVsystems/osmscene/pkg/geo"
)

// MapBuilder composes map API URLs against a configurable base.
type MapBuilder struct {
	base string
}

// NewMapBuilder trims a trailing slash from base.
func NewMapBuilder(base string) *MapBuilder {
	return &MapBuilder{base: strings.TrimRight(base, "/")}
}

// Base returns the normalized base URL.
func (b *MapBuilder) Base() string { return b.base }

// Map returns the bounding-box query URL
// <base>/map?bbox=<minLon>,<minLat>,<maxLon>,<maxLat>. The comma separated
// value is left unescaped, as the public API documents it.
func (b *MapBuilder) Map(box geo.BoundingBox) string {
	return b.base + "/map?bbox=" + box.QueryString()
}

// Capabilities returns the URL of the API capabilities document, used as a
// cheap health check.
func (b *MapBuilder) Capabilities() string {
	return b.base + "/capabilities"
}

// Host returns the host part of the base URL, or "" if it does not parse.
func (b *MapBuilder) Host() string {
	u, err := url.Parse(b.base)
	if err != nil {
		return ""
	}
	return u.Host
}
