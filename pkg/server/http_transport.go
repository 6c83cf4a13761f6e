package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/monitoring"
)

// HTTPTransportConfig holds configuration for the HTTP transport
type HTTPTransportConfig struct {
	Addr           string  `json:"addr"`
	BaseURL        string  `json:"base_url"`
	AuthToken      string  `json:"-"` // bearer token; empty disables auth
	SSEEndpoint    string  `json:"sse_endpoint"`
	MsgEndpoint    string  `json:"msg_endpoint"`
	RateLimit      float64 `json:"rate_limit"` // requests per second per IP, 0 disables
	RateBurst      int     `json:"rate_burst"`
	MaxRequestSize int64   `json:"max_request_size"`
	// WriteTimeout bounds a response. Imports of large areas with
	// elevation can take minutes.
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultHTTPTransportConfig returns sensible defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           ":7082",
		SSEEndpoint:    "/sse",
		MsgEndpoint:    "/message",
		RateLimit:      10,
		RateBurst:      20,
		MaxRequestSize: 1 << 20,
		WriteTimeout:   5 * time.Minute,
	}
}

// HTTPTransport serves MCP over HTTP+SSE next to the JSON API, health
// endpoints and metrics.
type HTTPTransport struct {
	config        HTTPTransportConfig
	logger        *slog.Logger
	sseServer     *mcpserver.SSEServer
	mux           *http.ServeMux
	httpSrv       *http.Server
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker
	mu            sync.RWMutex
}

// NewHTTPTransport creates a new HTTP transport instance
func NewHTTPTransport(srv *Server, config HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}

	sseServer := mcpserver.NewSSEServer(
		srv.GetMCPServer(),
		mcpserver.WithSSEEndpoint(config.SSEEndpoint),
		mcpserver.WithMessageEndpoint(config.MsgEndpoint),
		mcpserver.WithBaseURL(config.BaseURL),
	)

	t := &HTTPTransport{
		config:    config,
		logger:    logger,
		sseServer: sseServer,
		mux:       http.NewServeMux(),
	}
	if config.RateLimit > 0 {
		t.rateLimiter = NewRateLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	t.setupRoutes(NewHandler(srv.Registry(), logger))
	return t
}

// SetHealthChecker sets the health checker for the HTTP transport
func (t *HTTPTransport) SetHealthChecker(hc *monitoring.HealthChecker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthChecker = hc
}

// Handler returns the full middleware chain. Exposed for tests.
func (t *HTTPTransport) Handler() http.Handler {
	handler := http.Handler(t.mux)
	handler = TracingMiddleware()(handler)
	handler = LoggingMiddleware(t.logger)(handler)
	handler = SecurityHeaders(handler)
	if t.config.MaxRequestSize > 0 {
		handler = RequestSizeLimiter(t.config.MaxRequestSize)(handler)
	}
	return handler
}

func (t *HTTPTransport) setupRoutes(api *Handler) {
	protect := func(h http.Handler) http.Handler {
		h = BearerAuth(t.config.AuthToken, t.logger)(h)
		if t.rateLimiter != nil {
			h = t.rateLimiter.Middleware(h)
		}
		return h
	}

	t.mux.HandleFunc("/", t.handleServiceDiscovery)
	t.mux.HandleFunc("/health", t.handleHealth)
	t.mux.HandleFunc("/live", t.handleLive)
	t.mux.Handle("/metrics", promhttp.Handler())

	t.mux.Handle("/api/", protect(api))
	t.mux.Handle(t.config.SSEEndpoint, protect(t.sseServer.SSEHandler()))
	t.mux.Handle(t.config.MsgEndpoint, protect(t.sseServer.MessageHandler()))
}

func (t *HTTPTransport) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	baseURL := t.config.BaseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	discovery := map[string]any{
		"service":   ServerName,
		"transport": "HTTP+SSE",
		"endpoints": map[string]string{
			"sse":      baseURL + t.config.SSEEndpoint,
			"message":  baseURL + t.config.MsgEndpoint,
			"import":   baseURL + "/api/import",
			"location": baseURL + "/api/location",
		},
		"auth": map[string]any{
			"required": t.config.AuthToken != "",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(discovery); err != nil {
		t.logger.Error("failed to encode service discovery response", "error", err)
	}
}

func (t *HTTPTransport) checker() *monitoring.HealthChecker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.healthChecker
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hc := t.checker(); hc != nil {
		hc.HealthHandler()(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (t *HTTPTransport) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hc := t.checker(); hc != nil {
		hc.LivenessHandler()(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"alive": true})
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrInternalError, "HTTP transport already started").
			WithGuidance("Stop the running transport before starting it again")
	}
	t.httpSrv = &http.Server{
		Addr:         t.config.Addr,
		Handler:      t.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: t.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	srv := t.httpSrv
	t.mu.Unlock()

	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"sse_endpoint", t.config.SSEEndpoint,
		"message_endpoint", t.config.MsgEndpoint,
		"auth", t.config.AuthToken != "",
		"rate_limit", t.config.RateLimit)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP transport
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if t.httpSrv == nil {
		return nil
	}

	t.logger.Info("shutting down HTTP transport")
	if err := t.sseServer.Shutdown(ctx); err != nil {
		t.logger.Error("failed to shutdown SSE server", "error", err)
	}
	err := t.httpSrv.Shutdown(ctx)
	t.httpSrv = nil
	return err
}

// GetConfig returns the transport configuration
func (t *HTTPTransport) GetConfig() HTTPTransportConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}
