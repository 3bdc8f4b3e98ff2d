package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRound(t *testing.T) {
	before := testutil.ToFloat64(RoundsTotal.WithLabelValues("accepted"))
	ObserveRound("accepted", 1500*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(RoundsTotal.WithLabelValues("accepted")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	ObserveHTTP(http.MethodGet, "/api/evaluations", http.StatusOK)
	StreamFragmentsTotal.Add(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `camrate_http_requests_total{method="GET",path="/api/evaluations",status="200"}`)
	assert.Contains(t, body, "camrate_stream_fragments_total")
}

func TestStartSpan_LogsOnlyWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	shutdown, err := Setup(context.Background(), Config{Enabled: false}, logger)
	require.NoError(t, err)
	buf.Reset()
	_, end := StartSpan(context.Background(), "gateway", "stream")
	end(nil)
	assert.Empty(t, buf.String())
	require.NoError(t, shutdown(context.Background()))

	shutdown, err = Setup(context.Background(), Config{Enabled: true}, logger)
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, end = StartSpan(context.Background(), "gateway", "stream")
	end(errors.New("upstream closed"))
	out := buf.String()
	assert.Contains(t, out, "obs span start")
	assert.Contains(t, out, "upstream closed")
	assert.True(t, Enabled())
}
