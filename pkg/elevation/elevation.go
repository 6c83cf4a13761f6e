// Package elevation samples terrain heights for geographic points. Heights
// are in millimetres.
package elevation

import (
	"context"
	"fmt"

	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/geo"
)

// Point is one location to sample. ID is informational, usually the node id.
type Point struct {
	ID  string
	Lat float64
	Lon float64
}

// Key returns the sample key of the point.
func (p Point) Key() string { return geo.HeightKey(p.Lat, p.Lon) }

// Samples maps geo.HeightKey to a height in millimetres. A missing key means
// the service had no answer for that point.
type Samples map[string]float64

// Lookup returns the sample for a coordinate.
func (s Samples) Lookup(lat, lon float64) (float64, bool) {
	h, ok := s[geo.HeightKey(lat, lon)]
	return h, ok
}

// Resolver samples heights. Implementations must be safe for concurrent use.
type Resolver interface {
	// SampleBatch returns what it could sample. Points that failed are absent
	// from the result; an error is returned only when nothing could be sampled.
	SampleBatch(ctx context.Context, points []Point) (Samples, error)
	// SampleOne returns an ErrElevationMiss error when the point has no sample.
	SampleOne(ctx context.Context, lat, lon float64) (float64, error)
}

// dedupe drops repeated keys, keeping the first occurrence.
func dedupe(points []Point) []Point {
	seen := make(map[string]struct{}, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

func missError(lat, lon float64) error {
	return core.NewError(core.ErrElevationMiss, fmt.Sprintf("no elevation sample for %s", geo.HeightKey(lat, lon)))
}

func sampleOneVia(ctx context.Context, r Resolver, lat, lon float64) (float64, error) {
	samples, err := r.SampleBatch(ctx, []Point{{Lat: lat, Lon: lon}})
	if err != nil {
		return 0, err
	}
	h, ok := samples.Lookup(lat, lon)
	if !ok {
		return 0, missError(lat, lon)
	}
	return h, nil
}
