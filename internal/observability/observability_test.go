package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/logging"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "trace-1", TraceIDFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(TraceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "trace-1", rr.Header().Get(TraceHeader))
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get(TraceHeader))
}

func TestTraceIDContextHelpers(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
	assert.Equal(t, "abc123", TraceIDFromContext(ContextWithTraceID(context.Background(), "abc123")))
	assert.NotEqual(t, NewTraceID(), NewTraceID())
}

func TestLoggingMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, "json", logging.InfoLevel)

	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sql", nil))

	assert.Contains(t, buf.String(), `"status":202`)
	assert.Contains(t, buf.String(), `"path":"/v1/sql"`)
	assert.Contains(t, buf.String(), `"bytes":2`)
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/metrics-test", "418")
	before := testutil.ToFloat64(counter)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics-test", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestDomainMetrics(t *testing.T) {
	accepted := requestsTotal.WithLabelValues(OutcomeAccepted)
	before := testutil.ToFloat64(accepted)

	ObserveRequest(OutcomeAccepted, 2)
	assert.Equal(t, before+1, testutil.ToFloat64(accepted))

	refreshed := refreshTotal.WithLabelValues(RefreshEmbedded)
	beforeRefresh := testutil.ToFloat64(refreshed)
	ObserveRefresh(RefreshEmbedded)
	assert.Equal(t, beforeRefresh+1, testutil.ToFloat64(refreshed))

	SetIndexedUnits(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(indexedUnits))

	SetIndexedUnits(-1)
	assert.Equal(t, float64(0), testutil.ToFloat64(indexedUnits))

	ObserveStage(StageRetrieve, 5*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(stageDurationSeconds, "sqlrag_stage_duration_seconds"))
}
