// Package osm fetches, caches and parses OpenStreetMap map payloads.
package osm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/osmscene/pkg/osm/queries"
	"github.com/NERVsystems/osmscene/pkg/tracing"
	"github.com/NERVsystems/osmscene/pkg/version"
)

const (
	// DefaultMapAPIURL is the public OSM 0.6 API
	DefaultMapAPIURL = "https://api.openstreetmap.org/api/0.6"

	// DefaultTimeout bounds a single map request
	DefaultTimeout = 60 * time.Second
)

// DefaultUserAgent identifies the importer to the public APIs, which reject
// anonymous clients.
var DefaultUserAgent = "osmscene/" + version.BuildVersion

var (
	// Global HTTP client with connection pooling
	httpClient *http.Client

	// Rate limiters for each service
	mapAPILimiter    *rate.Limiter
	elevationLimiter *rate.Limiter
	limiterLock      sync.RWMutex

	// host -> service name, filled by RegisterServiceURL
	serviceHosts     = map[string]string{}
	serviceHostsLock sync.RWMutex

	// User agent string
	userAgent     string
	userAgentLock sync.RWMutex
)

func init() {
	httpClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: DefaultTimeout,
	}

	initRateLimiters()
	SetUserAgent(DefaultUserAgent)
	RegisterServiceURL(tracing.ServiceMapAPI, DefaultMapAPIURL)
}

// initRateLimiters initializes the rate limiters with default values
func initRateLimiters() {
	// The map API asks for no more than one heavy request at a time.
	mapAPILimiter = rate.NewLimiter(rate.Limit(1), 1)
	// Elevation chunks are fetched four at a time.
	elevationLimiter = rate.NewLimiter(rate.Limit(4), 4)
}

// UpdateMapAPIRateLimits updates the map API rate limiter
func UpdateMapAPIRateLimits(rps float64, burst int) {
	limiterLock.Lock()
	defer limiterLock.Unlock()
	mapAPILimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// UpdateElevationRateLimits updates the elevation service rate limiter
func UpdateElevationRateLimits(rps float64, burst int) {
	limiterLock.Lock()
	defer limiterLock.Unlock()
	elevationLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// SetTimeout changes the timeout of the shared HTTP client.
func SetTimeout(d time.Duration) {
	if d > 0 {
		httpClient.Timeout = d
	}
}

// SetUserAgent sets the User-Agent string
func SetUserAgent(ua string) {
	userAgentLock.Lock()
	defer userAgentLock.Unlock()
	userAgent = ua
}

// GetUserAgent returns the current User-Agent string
func GetUserAgent() string {
	userAgentLock.RLock()
	defer userAgentLock.RUnlock()
	return userAgent
}

// RegisterServiceURL associates the host of baseURL with a service name so
// requests to it are rate limited and labelled in metrics.
func RegisterServiceURL(service, baseURL string) {
	host := hostFromURL(baseURL)
	if host == "" {
		return
	}
	serviceHostsLock.Lock()
	defer serviceHostsLock.Unlock()
	serviceHosts[host] = service
}

// hostFromURL extracts the host from a URL string
func hostFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}

// getServiceFromRequest determines which service is being called based on the request URL
func getServiceFromRequest(req *http.Request) string {
	serviceHostsLock.RLock()
	defer serviceHostsLock.RUnlock()
	if s, ok := serviceHosts[req.URL.Host]; ok {
		return s
	}
	return "unknown"
}

func limiterFor(service string) *rate.Limiter {
	limiterLock.RLock()
	defer limiterLock.RUnlock()
	switch service {
	case tracing.ServiceMapAPI:
		return mapAPILimiter
	case tracing.ServiceElevation:
		return elevationLimiter
	}
	return nil
}

// waitForRateLimit waits for the appropriate rate limiter based on the request URL
func waitForRateLimit(ctx context.Context, req *http.Request) error {
	service := getServiceFromRequest(req)
	limiter := limiterFor(service)
	if limiter == nil {
		return nil
	}

	if limiter.Allow() {
		return nil
	}

	startWait := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(
			attribute.String(tracing.AttrRateLimitService, service),
		),
	)

	err := limiter.Wait(ctx)

	waitDuration := time.Since(startWait)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, service),
		attribute.Int64(tracing.AttrRateLimitWaitMs, waitDuration.Milliseconds()),
	)
	return err
}

// ServiceClient adapts MonitoredDoRequest to the Do method expected by the
// retry helpers in pkg/core.
type ServiceClient struct {
	Operation string
}

// Do sends req with rate limiting and monitoring.
func (c ServiceClient) Do(req *http.Request) (*http.Response, error) {
	return MonitoredDoRequest(req.Context(), req, c.Operation)
}

// CheckMapAPIHealth queries the capabilities endpoint of the map API at baseURL.
func CheckMapAPIHealth(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queries.NewMapBuilder(baseURL).Capabilities(), nil)
	if err != nil {
		return fmt.Errorf("failed to create map api health check request: %w", err)
	}

	resp, err := MonitoredDoRequest(ctx, req, "health")
	if err != nil {
		return fmt.Errorf("map api health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("map api health check returned status %d", resp.StatusCode)
	}

	slog.Default().Debug("map api healthy", "url", baseURL)
	return nil
}
