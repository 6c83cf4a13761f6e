package elevation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/monitoring"
	"github.com/NERVsystems/osmscene/pkg/osm"
	"github.com/NERVsystems/osmscene/pkg/tracing"
)

const (
	// DefaultBaseURL is the public Open-Elevation service
	DefaultBaseURL = "https://api.open-elevation.com"

	// DefaultChunkSize is the number of points per lookup request
	DefaultChunkSize = 100

	// DefaultConcurrency is the number of lookup requests in flight
	DefaultConcurrency = 4

	lookupPath = "/api/v1/lookup"
)

// HTTPOptions configures an HTTPResolver. Zero values select defaults.
type HTTPOptions struct {
	BaseURL     string
	ChunkSize   int
	Concurrency int
	Retry       *core.RetryOptions
	Logger      *slog.Logger
}

// HTTPResolver queries an Open-Elevation compatible lookup endpoint.
type HTTPResolver struct {
	url         string
	chunkSize   int
	concurrency int
	retry       core.RetryOptions
	logger      *slog.Logger
}

type lookupLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupRequest struct {
	Locations []lookupLocation `json:"locations"`
}

type lookupResult struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation *float64 `json:"elevation"`
}

type lookupResponse struct {
	Results []lookupResult `json:"results"`
}

// NewHTTPResolver creates a resolver and registers its host for rate limiting.
func NewHTTPResolver(opts HTTPOptions) *HTTPResolver {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	r := &HTTPResolver{
		url:         base + lookupPath,
		chunkSize:   opts.ChunkSize,
		concurrency: opts.Concurrency,
		retry:       core.DefaultRetryOptions,
		logger:      opts.Logger,
	}
	if r.chunkSize <= 0 {
		r.chunkSize = DefaultChunkSize
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}
	if opts.Retry != nil {
		r.retry = *opts.Retry
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "elevation", "url", r.url)

	osm.RegisterServiceURL(tracing.ServiceElevation, base)
	return r
}

// SampleBatch implements Resolver. Chunks are fetched concurrently; a failed
// chunk is logged and its points are left out of the result.
func (r *HTTPResolver) SampleBatch(ctx context.Context, points []Point) (Samples, error) {
	points = dedupe(points)

	ctx, span := tracing.StartSpan(ctx, "elevation.sample_batch",
		trace.WithAttributes(attribute.Int(tracing.AttrElevationPoints, len(points))),
	)
	defer span.End()

	samples := make(Samples, len(points))
	if len(points) == 0 {
		return samples, nil
	}

	var (
		mu      sync.Mutex
		failed  int
		lastErr error
	)

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for start := 0; start < len(points); start += r.chunkSize {
		end := min(start+r.chunkSize, len(points))
		chunk := points[start:end]

		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			got, err := r.lookup(ctx, chunk)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				r.logger.Warn("elevation chunk failed", "points", len(chunk), "error", err)
				return nil
			}
			for k, h := range got {
				samples[k] = h
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	missed := len(points) - len(samples)
	span.SetAttributes(attribute.Int(tracing.AttrElevationMissed, missed))

	if len(samples) == 0 && failed > 0 {
		err := core.Wrap(core.ErrElevationFailed, "elevation service returned no samples", lastErr).
			WithGuidance("Import without elevation or try again later")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no samples")
		return samples, err
	}
	if missed > 0 {
		r.logger.Info("elevation batch incomplete", "requested", len(points), "missed", missed)
	}
	return samples, nil
}

// SampleOne implements Resolver.
func (r *HTTPResolver) SampleOne(ctx context.Context, lat, lon float64) (float64, error) {
	return sampleOneVia(ctx, r, lat, lon)
}

// lookup sends one chunk. Results are matched to the request by position,
// which is how the service orders them.
func (r *HTTPResolver) lookup(ctx context.Context, chunk []Point) (Samples, error) {
	body := lookupRequest{Locations: make([]lookupLocation, len(chunk))}
	for i, p := range chunk {
		body.Locations[i] = lookupLocation{Latitude: p.Lat, Longitude: p.Lon}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode lookup request: %w", err)
	}

	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := core.WithRetry(ctx, factory, osm.ServiceClient{Operation: "lookup"}, r.retry)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		monitoring.RecordError(tracing.ServiceElevation, "decode_error")
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}

	if len(out.Results) != len(chunk) {
		r.logger.Warn("lookup result count mismatch", "requested", len(chunk), "returned", len(out.Results))
	}

	samples := make(Samples, len(chunk))
	for i, res := range out.Results {
		if i >= len(chunk) {
			break
		}
		if res.Elevation == nil {
			continue
		}
		samples[chunk[i].Key()] = *res.Elevation * 1000
	}
	return samples, nil
}

// CheckHealth looks up a single point without retries.
func (r *HTTPResolver) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	single := *r
	single.retry.MaxAttempts = 1
	if _, err := single.lookup(ctx, []Point{{Lat: 0, Lon: 0}}); err != nil {
		return fmt.Errorf("elevation health check failed: %w", err)
	}
	return nil
}
