package osm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/osmscene/pkg/cache"
	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/geo"
	"github.com/NERVsystems/osmscene/pkg/monitoring"
	"github.com/NERVsystems/osmscene/pkg/osm/queries"
	"github.com/NERVsystems/osmscene/pkg/tracing"
)

// FetcherOptions configures a Fetcher. Zero values select defaults.
type FetcherOptions struct {
	// BaseURL of the 0.6 API, DefaultMapAPIURL if empty
	BaseURL string
	// Store persists raw payloads; nil disables the disk cache
	Store *cache.Store
	// MemoTTL keeps parsed documents in memory; zero disables the memo
	MemoTTL time.Duration
	Retry   *core.RetryOptions
	Logger  *slog.Logger
}

// Fetcher resolves an import area to a parsed Document, from memory, from
// disk, or from the remote map API in that order.
type Fetcher struct {
	urls   *queries.MapBuilder
	store  *cache.Store
	memo   *TTLCache[string, *Document]
	retry  core.RetryOptions
	logger *slog.Logger
}

// NewFetcher creates a Fetcher and registers its API host for rate limiting.
func NewFetcher(opts FetcherOptions) *Fetcher {
	base := opts.BaseURL
	if base == "" {
		base = DefaultMapAPIURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := core.DefaultRetryOptions
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	f := &Fetcher{
		urls:   queries.NewMapBuilder(base),
		store:  opts.Store,
		retry:  retry,
		logger: logger.With("component", "osm_fetcher"),
	}
	if opts.MemoTTL > 0 {
		f.memo = NewTTLCache[string, *Document](opts.MemoTTL, 16)
	}

	RegisterServiceURL(tracing.ServiceMapAPI, f.urls.Base())
	return f
}

// CacheKey formats the request parameters deterministically.
func CacheKey(lat, lon, halfKm float64) string {
	return fmt.Sprintf("%.7f_%.7f_%.4f", lat, lon, halfKm)
}

// Fetch returns the map data for the box of half edge halfKm around lat, lon.
// Errors are core.ErrRetrieval or core.ErrParse and are fatal for an import.
func (f *Fetcher) Fetch(ctx context.Context, lat, lon, halfKm float64) (*Document, error) {
	key := CacheKey(lat, lon, halfKm)

	ctx, span := tracing.StartSpan(ctx, "osm.fetch",
		trace.WithAttributes(attribute.String(tracing.AttrCacheKey, key)),
	)
	defer span.End()

	logger := f.logger.With("key", key)

	if f.memo != nil {
		if doc, ok := f.memo.Get(key); ok {
			monitoring.RecordCacheHit(tracing.CacheTypeMemory)
			span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeMemory, true, key)...)
			return doc, nil
		}
		monitoring.RecordCacheMiss(tracing.CacheTypeMemory)
	}

	if doc, ok := f.readStore(key, logger); ok {
		span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeDisk, true, key)...)
		f.remember(key, doc)
		return doc, nil
	}
	span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeDisk, false, key)...)

	box := geo.ExpandBox(lat, lon, halfKm)
	data, err := f.download(ctx, box)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}

	doc, err := Parse(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("parse map payload for %s: %w", key, err)
	}

	if f.store != nil {
		if err := f.store.Write(key, data); err != nil {
			logger.Warn("failed to cache map payload", "error", err)
		}
	}
	f.remember(key, doc)

	logger.Info("map data fetched", "bytes", len(data), "nodes", len(doc.Nodes), "ways", len(doc.Ways))
	return doc, nil
}

// readStore returns a parsed cached document. Entries that fail to parse are
// removed so the next run re-fetches them.
func (f *Fetcher) readStore(key string, logger *slog.Logger) (*Document, bool) {
	if f.store == nil {
		return nil, false
	}

	data, err := f.store.Read(key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.Warn("cache entry unreadable", "error", err)
		}
		return nil, false
	}

	doc, err := Parse(data)
	if err != nil {
		logger.Warn("discarding unparsable cache entry", "error", err)
		f.store.Delete(key)
		return nil, false
	}
	logger.Debug("map data read from cache")
	return doc, true
}

func (f *Fetcher) remember(key string, doc *Document) {
	if f.memo == nil {
		return
	}
	f.memo.Set(key, doc)
	monitoring.UpdateCacheSize(tracing.CacheTypeMemory, f.memo.Size())
}

func (f *Fetcher) download(ctx context.Context, box geo.BoundingBox) ([]byte, error) {
	u := f.urls.Map(box)
	f.logger.Info("requesting map data", "url", u)

	factory := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := core.WithRetry(ctx, factory, ServiceClient{Operation: "map"}, f.retry)
	if err != nil {
		return nil, core.Wrap(core.ErrRetrieval, "could not retrieve map data", err).
			WithGuidance("Check the network connection or try a smaller area")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Wrap(core.ErrRetrieval, "could not read map response", err)
	}
	return data, nil
}

// CheckHealth queries the configured map API.
func (f *Fetcher) CheckHealth(ctx context.Context) error {
	return CheckMapAPIHealth(ctx, f.urls.Base())
}
