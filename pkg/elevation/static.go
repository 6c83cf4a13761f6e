package elevation

import "context"

// StaticResolver answers from a function. It is used offline and in tests.
type StaticResolver struct {
	Func func(lat, lon float64) (float64, bool)
}

// Flat returns a resolver that reports the same height everywhere.
func Flat(heightMM float64) StaticResolver {
	return StaticResolver{Func: func(float64, float64) (float64, bool) { return heightMM, true }}
}

// SampleBatch implements Resolver.
func (r StaticResolver) SampleBatch(ctx context.Context, points []Point) (Samples, error) {
	samples := make(Samples, len(points))
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if h, ok := r.Func(p.Lat, p.Lon); ok {
			samples[p.Key()] = h
		}
	}
	return samples, nil
}

// SampleOne implements Resolver.
func (r StaticResolver) SampleOne(ctx context.Context, lat, lon float64) (float64, error) {
	return sampleOneVia(ctx, r, lat, lon)
}
