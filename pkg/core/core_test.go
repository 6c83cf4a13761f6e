package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var fastRetry = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2,
}

func getFactory(url string) RequestFactory {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestWithRetryRecoversFromServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	resp, err := WithRetry(context.Background(), getFactory(srv.URL), srv.Client(), fastRetry)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	resp.Body.Close()

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestWithRetryStopsOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := WithRetry(context.Background(), getFactory(srv.URL), srv.Client(), fastRetry)
	if err == nil {
		t.Fatal("expected error")
	}
	if CodeOf(err) != ErrInvalidInput {
		t.Errorf("expected %s, got %s (%v)", ErrInvalidInput, CodeOf(err), err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestWithRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := WithRetry(context.Background(), getFactory(srv.URL), srv.Client(), fastRetry)
	if CodeOf(err) != ErrServiceUnavailable {
		t.Errorf("expected %s, got %v", ErrServiceUnavailable, err)
	}
}

func TestWithRetryCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fastRetry
	opts.InitialDelay = time.Second
	_, err := WithRetry(ctx, getFactory(srv.URL), srv.Client(), opts)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  ErrorCode
		fatal bool
	}{
		{"retrieval", NewError(ErrRetrieval, "x"), ErrRetrieval, true},
		{"parse wrapped", fmt.Errorf("fetch: %w", NewError(ErrParse, "bad xml")), ErrParse, true},
		{"per way", NewError(ErrPerWayFailure, "x"), ErrPerWayFailure, false},
		{"plain", errors.New("plain"), "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf = %q, want %q", got, tt.code)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(ErrRetrieval, "could not retrieve map data", cause).WithGuidance("Check your connection")

	want := "RETRIEVAL_ERROR: could not retrieve map data: dial tcp: refused. Check your connection"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
}

func TestServiceError(t *testing.T) {
	tests := []struct {
		status int
		code   ErrorCode
	}{
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusGatewayTimeout, ErrServiceTimeout},
		{http.StatusBadRequest, ErrInvalidInput},
		{http.StatusInternalServerError, ErrServiceUnavailable},
	}
	for _, tt := range tests {
		if got := ServiceError("osm", tt.status, "x").Code; got != tt.code {
			t.Errorf("status %d: got %s, want %s", tt.status, got, tt.code)
		}
	}
}

func TestValidateImport(t *testing.T) {
	tests := []struct {
		name             string
		lat, lon, length float64
		code             ErrorCode
	}{
		{"valid", 47.37, 8.54, 1, ""},
		{"bad latitude", 91, 8.54, 1, ErrInvalidLatitude},
		{"bad longitude", 47, -181, 1, ErrInvalidLongitude},
		{"zero length", 47, 8, 0, ErrInvalidLength},
		{"too long", 47, 8, MaxLengthKm + 1, ErrInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImport(tt.lat, tt.lon, tt.length)
			if got := CodeOf(err); got != tt.code {
				t.Errorf("got %q (%v), want %q", got, err, tt.code)
			}
		})
	}
}
