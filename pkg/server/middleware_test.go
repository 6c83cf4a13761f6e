package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/osmscene/pkg/tracing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterMiddleware_TooManyRequests(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Second), 1)
	t.Cleanup(rl.Stop)
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 Too Many Requests, got %d", rec2.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "5.6.7.8:1234"
	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, other)
	if rec3.Code != http.StatusOK {
		t.Fatalf("other clients must keep their own budget, got %d", rec3.Code)
	}
}

func TestRateLimiterEvictsLeastRecentClient(t *testing.T) {
	rl := newRateLimiter(rate.Every(time.Minute), 1, 2)
	t.Cleanup(rl.Stop)

	rl.limiter("1.1.1.1")
	rl.limiter("2.2.2.2")
	rl.limiter("3.3.3.3")

	if rl.clients.Contains("1.1.1.1") {
		t.Error("least recent client was not evicted")
	}
	if !rl.clients.Contains("2.2.2.2") || !rl.clients.Contains("3.3.3.3") {
		t.Error("expected newer clients to remain")
	}
	if n := rl.clients.Len(); n != 2 {
		t.Errorf("expected 2 clients, got %d", n)
	}
}

func TestGetIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:5555", "10.0.0.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:5555", "203.0.113.7"},
		{"bad forwarded for", map[string]string{"X-Forwarded-For": "garbage"}, "10.0.0.1:5555", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:5555", "198.51.100.2"},
		{"no port", nil, "10.0.0.9", "10.0.0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getIP(req); got != tt.want {
				t.Errorf("getIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"valid", "s3cret-token", "Bearer s3cret-token", http.StatusOK},
		{"missing", "s3cret-token", "", http.StatusUnauthorized},
		{"wrong", "s3cret-token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "s3cret-token", "Basic s3cret-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := BearerAuth(tt.token, logger)(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/sse", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Error("expected a WWW-Authenticate challenge")
			}
		})
	}
}

func TestTracingMiddleware(t *testing.T) {
	ctx := context.Background()
	shutdown, err := tracing.Init(ctx, tracing.Options{Version: "test"})
	if err != nil {
		t.Fatalf("tracing init: %v", err)
	}
	defer shutdown(ctx)

	var sawSpan bool
	handler := TracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSpan = trace.SpanFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodPost, "/message?sessionId=abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !sawSpan {
		t.Error("no span in request context")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 to pass through, got %d", rec.Code)
	}
}

func TestResponseWriterPreservesFlusher(t *testing.T) {
	var flusher bool
	handler := LoggingMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(
		TracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, flusher = w.(http.Flusher)
			w.Write([]byte("data: x\n\n"))
		})),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	if !flusher {
		t.Error("wrapped writer must implement http.Flusher for SSE")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}
