package osm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/NERVsystems/osmscene/pkg/tracing"
)

func TestGetServiceFromRequest(t *testing.T) {
	RegisterServiceURL(tracing.ServiceElevation, "https://elevation.example.org/api/v1")

	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"map API", "https://api.openstreetmap.org/api/0.6/map?bbox=0,0,1,1", tracing.ServiceMapAPI},
		{"elevation", "https://elevation.example.org/api/v1/lookup", tracing.ServiceElevation},
		{"unknown", "https://example.com/api", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			if err != nil {
				t.Fatalf("failed to create request: %v", err)
			}
			if got := getServiceFromRequest(req); got != tt.expected {
				t.Errorf("expected service %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestMonitoredDoRequestSuccess(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var (
		mu                            sync.Mutex
		requestCalled, responseCalled bool
		capturedService, capturedOp   string
		capturedSuccess               bool
	)
	SetMonitoringHooks(&MonitoringHooks{
		OnRequest: func(service, operation string) {
			mu.Lock()
			defer mu.Unlock()
			requestCalled = true
			capturedService = service
			capturedOp = operation
		},
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			mu.Lock()
			defer mu.Unlock()
			responseCalled = true
			capturedSuccess = success
		},
	})
	defer SetMonitoringHooks(nil)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := MonitoredDoRequest(context.Background(), req, "map")
	if err != nil {
		t.Fatalf("MonitoredDoRequest failed: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if !requestCalled || !responseCalled {
		t.Error("expected request and response hooks to be called")
	}
	if capturedService != "unknown" {
		t.Errorf("expected service 'unknown', got %s", capturedService)
	}
	if capturedOp != "map" {
		t.Errorf("expected operation 'map', got %s", capturedOp)
	}
	if !capturedSuccess {
		t.Error("request should have been successful")
	}
	if gotUA != GetUserAgent() {
		t.Errorf("expected user agent %q, got %q", GetUserAgent(), gotUA)
	}
}

func TestMonitoredDoRequestHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var errorCalled, capturedSuccess bool
	SetMonitoringHooks(&MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			capturedSuccess = success
		},
		OnError: func(service, errorType string) {
			errorCalled = true
		},
	})
	defer SetMonitoringHooks(nil)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := MonitoredDoRequest(context.Background(), req, "map")
	if err != nil {
		t.Fatalf("MonitoredDoRequest failed: %v", err)
	}
	resp.Body.Close()

	if capturedSuccess {
		t.Error("request should not have been successful")
	}
	// Error hook is for transport failures only
	if errorCalled {
		t.Error("OnError should not have been called for HTTP error status")
	}
}

func TestMonitoredDoRequestNetworkError(t *testing.T) {
	var capturedErrorType string
	SetMonitoringHooks(&MonitoringHooks{
		OnError: func(service, errorType string) {
			capturedErrorType = errorType
		},
	})
	defer SetMonitoringHooks(nil)

	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	if _, err := MonitoredDoRequest(context.Background(), req, "map"); err == nil {
		t.Error("expected network error")
	}
	if capturedErrorType != "request_error" {
		t.Errorf("expected error type 'request_error', got %s", capturedErrorType)
	}
}

func TestMonitoredDoRequestRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	RegisterServiceURL(tracing.ServiceElevation, server.URL)
	UpdateElevationRateLimits(4, 1)
	defer UpdateElevationRateLimits(4, 4)

	var waited time.Duration
	SetMonitoringHooks(&MonitoringHooks{
		OnRateLimit: func(service string, waitTime time.Duration) {
			waited = waitTime
		},
	})
	defer SetMonitoringHooks(nil)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		resp, err := MonitoredDoRequest(context.Background(), req, "lookup")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
	}

	if waited <= 100*time.Millisecond {
		t.Errorf("expected the second request to wait for the limiter, waited %v", waited)
	}
}

func TestServiceClientCarriesOperation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var op string
	SetMonitoringHooks(&MonitoringHooks{
		OnRequest: func(service, operation string) { op = operation },
	})
	defer SetMonitoringHooks(nil)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := ServiceClient{Operation: "capabilities"}.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if op != "capabilities" {
		t.Errorf("expected operation 'capabilities', got %q", op)
	}
}

func TestCheckMapAPIHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/0.6/capabilities" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := CheckMapAPIHealth(context.Background(), server.URL+"/api/0.6"); err != nil {
		t.Errorf("expected healthy API, got %v", err)
	}
	if err := CheckMapAPIHealth(context.Background(), server.URL+"/other"); err == nil {
		t.Error("expected health check failure")
	}
}

func BenchmarkGetServiceFromRequest(b *testing.B) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.openstreetmap.org/api/0.6/map", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getServiceFromRequest(req)
	}
}
