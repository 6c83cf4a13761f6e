package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/osmscene/pkg/tracing"
)

// RetryOptions configures retry behavior for HTTP requests
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions provides the defaults for external services
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

// DefaultClient is used when callers pass a nil client. The map API can take
// a while to assemble large boxes.
var DefaultClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// RequestFactory creates a fresh request for every attempt so bodies can be replayed.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Doer sends a request. *http.Client satisfies it; the osm package wraps it
// with rate limiting and monitoring.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// retryable reports whether a status code is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// WithRetry performs requests built by factory with exponential backoff.
// Network errors, 429 and 5xx are retried; other non-200 statuses fail at once.
// On success the caller owns the response body.
func WithRetry(ctx context.Context, factory RequestFactory, doer Doer, options RetryOptions) (*http.Response, error) {
	if doer == nil {
		doer = DefaultClient
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = 1
	}

	ctx, span := tracing.StartSpan(ctx, "http.request",
		trace.WithAttributes(attribute.Int("http.retry.max_attempts", options.MaxAttempts)),
	)
	defer span.End()

	logger := slog.Default()
	delay := options.InitialDelay
	var lastErr error

	for attempt := 0; attempt < options.MaxAttempts; attempt++ {
		if attempt > 0 {
			tracing.AddEvent(ctx, "retry_attempt",
				trace.WithAttributes(
					attribute.Int("attempt", attempt+1),
					attribute.Int64("delay_ms", delay.Milliseconds()),
					attribute.String("error", fmt.Sprintf("%v", lastErr)),
				),
			)
			logger.Info("retrying request",
				"attempt", attempt+1,
				"max_attempts", options.MaxAttempts,
				"delay", delay,
				"last_error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * options.Multiplier)
			if delay > options.MaxDelay {
				delay = options.MaxDelay
			}
		}

		req, err := factory(ctx)
		if err != nil {
			span.SetStatus(codes.Error, "request creation failed")
			return nil, Wrap(ErrInternalError, "failed to create request", err)
		}

		resp, err := doer.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			span.SetAttributes(
				attribute.String(tracing.AttrHTTPMethod, req.Method),
				attribute.String("http.host", req.URL.Host),
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			span.SetStatus(codes.Ok, "")
			logger.Debug("request successful",
				"url", req.URL.String(),
				"status", resp.StatusCode,
				"content_length", resp.ContentLength,
			)
			return resp, nil
		}

		if err != nil {
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctx.Err()
			}
			lastErr = Wrap(ErrNetworkError, "request failed", err)
			logger.Warn("request failed", "error", err, "attempt", attempt+1, "url", req.URL.String())
			continue
		}

		lastErr = ServiceError(req.URL.Host, resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
		logger.Warn("request returned error status",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"url", req.URL.String(),
		)
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("failed to close response body", "error", cerr)
		}
		if !retryable(resp.StatusCode) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "request failed")
	return nil, lastErr
}
