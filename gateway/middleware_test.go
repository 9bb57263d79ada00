package gateway

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

func TestCorrelationIDGenerated(t *testing.T) {
	var seen string
	handler := CorrelationID(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/objects", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestCorrelationIDHonored(t *testing.T) {
	var seen string
	handler := CorrelationID(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/objects", nil)
	req.Header.Set("X-Correlation-ID", "trace-abc-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "trace-abc-123", seen)
	assert.Equal(t, "trace-abc-123", rec.Header().Get("X-Correlation-ID"))
}

func TestCorrelationIDUnique(t *testing.T) {
	handler := CorrelationID(discardLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	ids := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/objects", nil))
		id := rec.Header().Get("X-Correlation-ID")
		require.False(t, ids[id], "generated duplicate correlation id %s", id)
		ids[id] = true
	}
}

func TestCorrelationFromContextAbsent(t *testing.T) {
	assert.Empty(t, CorrelationFromContext(context.Background()))
}

func TestContextHandlerStampsCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithCorrelation(context.Background(), "corr-xyz")
	logger.InfoContext(ctx, "request completed")

	assert.Contains(t, buf.String(), "correlation_id=corr-xyz")
}

func TestContextHandlerSkipsBareContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "startup")

	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestContextHandlerSurvivesWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil)))

	// logger.With derives a new handler via WithAttrs; the correlation
	// stamp must survive the derivation.
	derived := logger.With("component", "gateway")
	derived.InfoContext(WithCorrelation(context.Background(), "corr-derived"), "hello")

	out := buf.String()
	assert.Contains(t, out, "component=gateway")
	assert.Contains(t, out, "correlation_id=corr-derived")
}

func TestRateLimiterAllow(t *testing.T) {
	limiter := NewRateLimiter(1, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "burst of 2 exhausted")

	// Another host has its own bucket.
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/objects", nil)
	req.RemoteAddr = "10.0.0.9:55001"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiterPurge(t *testing.T) {
	limiter := NewRateLimiter(10, 10)
	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	require.Len(t, limiter.buckets, 2)

	// Nothing is old enough yet.
	limiter.purge(time.Now().Add(-time.Minute))
	assert.Len(t, limiter.buckets, 2)

	// Everything is older than a cutoff in the future.
	limiter.purge(time.Now().Add(time.Minute))
	assert.Empty(t, limiter.buckets)
}
