package scene

import (
	"context"
	"math"

	"github.com/NERVsystems/osmscene/pkg/elevation"
	"github.com/NERVsystems/osmscene/pkg/geo"
)

// TerrainStepMM is the terrain grid spacing. Public elevation data is 30 m
// to 90 m resolution, so a finer grid adds nothing.
const TerrainStepMM = 100000.0

// axis returns positions from -half to +half at step spacing, always
// including both ends.
func axis(half, step float64) []float64 {
	if half <= 0 {
		return []float64{0, 0}
	}
	n := int(math.Ceil(2*half/step - 1e-9))
	if n < 1 {
		n = 1
	}
	out := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, -half+float64(i)*step)
	}
	return append(out, half)
}

// TerrainGrid returns scene-local grid points covering the bounds, one row
// per y position from south to north, z = 0.
func TerrainGrid(b geo.SceneBounds, step float64) [][]geo.ProjectedPoint {
	xs := axis(b.HalfWidth, step)
	ys := axis(b.HalfHeight, step)

	grid := make([][]geo.ProjectedPoint, len(ys))
	for j, y := range ys {
		row := make([]geo.ProjectedPoint, len(xs))
		for i, x := range xs {
			row[i] = geo.ProjectedPoint{X: x, Y: y}
		}
		grid[j] = row
	}
	return grid
}

// DrapeTerrain samples every grid point and sets z to sample - base. Points
// without a sample stay at 0. It returns the number of misses.
func DrapeTerrain(ctx context.Context, r elevation.Resolver, b geo.SceneBounds, grid [][]geo.ProjectedPoint, base float64) (int, error) {
	points := make([]elevation.Point, 0, len(grid)*len(grid[0]))
	for _, row := range grid {
		for _, p := range row {
			lat, lon := b.Geographic(p)
			points = append(points, elevation.Point{Lat: lat, Lon: lon})
		}
	}

	samples, err := r.SampleBatch(ctx, points)
	if err != nil && len(samples) == 0 {
		return len(points), err
	}

	misses := 0
	k := 0
	for j := range grid {
		for i := range grid[j] {
			p := points[k]
			k++
			if h, ok := samples.Lookup(p.Lat, p.Lon); ok {
				grid[j][i].Z = h - base
			} else {
				misses++
			}
		}
	}
	return misses, nil
}
