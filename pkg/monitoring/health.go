package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Upstream states
const (
	StatusConnected = "connected"
	StatusError     = "error"
	StatusUnknown   = "unknown"
)

// Overall states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// UpstreamStatus is the last check result for one external service.
type UpstreamStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Health is the JSON body served on /health.
type Health struct {
	Service   string                    `json:"service"`
	Version   string                    `json:"version"`
	Status    string                    `json:"status"`
	Uptime    string                    `json:"uptime"`
	StartTime time.Time                 `json:"start_time"`
	Upstreams map[string]UpstreamStatus `json:"upstreams"`
	Runtime   map[string]any            `json:"runtime"`
}

// HealthChecker tracks the reachability of the map API and the elevation
// service. The map API is required for uncached imports; elevation only
// degrades the result, so an elevation outage reports "degraded".
type HealthChecker struct {
	service   string
	version   string
	required  map[string]bool
	startTime time.Time

	mu        sync.RWMutex
	upstreams map[string]*UpstreamStatus
}

// NewHealthChecker creates a checker. Upstreams named in required make the
// service unhealthy when they fail.
func NewHealthChecker(service, version string, required ...string) *HealthChecker {
	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}
	return &HealthChecker{
		service:   service,
		version:   version,
		required:  req,
		startTime: time.Now(),
		upstreams: make(map[string]*UpstreamStatus),
	}
}

// Update records a check result.
func (h *HealthChecker) Update(name string, latency time.Duration, err error) {
	st := &UpstreamStatus{
		Name:      name,
		Status:    StatusConnected,
		LatencyMs: latency.Milliseconds(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		st.Status = StatusError
		st.Error = err.Error()
	}

	h.mu.Lock()
	h.upstreams[name] = st
	h.mu.Unlock()
}

// Health returns a snapshot of the current state.
func (h *HealthChecker) Health() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthHealthy
	upstreams := make(map[string]UpstreamStatus, len(h.upstreams))
	for name, st := range h.upstreams {
		upstreams[name] = *st
		if st.Status != StatusError {
			continue
		}
		if h.required[name] {
			status = HealthUnhealthy
		} else if status == HealthHealthy {
			status = HealthDegraded
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Health{
		Service:   h.service,
		Version:   h.version,
		Status:    status,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		StartTime: h.startTime,
		Upstreams: upstreams,
		Runtime: map[string]any{
			"goroutines":      runtime.NumGoroutine(),
			"memory_alloc_mb": m.Alloc / 1024 / 1024,
			"gc_runs":         m.NumGC,
		},
	}
}

// HealthHandler serves the snapshot; unhealthy answers 503.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.Health()
		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler always answers 200 while the process serves requests.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alive":  true,
			"uptime": time.Since(h.startTime).Round(time.Second).String(),
		})
	}
}

// CheckFunc checks an upstream and records the result.
type CheckFunc func(ctx context.Context) error

// Monitor runs check immediately and then every interval until ctx ends.
func (h *HealthChecker) Monitor(ctx context.Context, name string, interval time.Duration, check CheckFunc) {
	run := func() {
		start := time.Now()
		err := check(ctx)
		if ctx.Err() != nil {
			return
		}
		h.Update(name, time.Since(start), err)
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
