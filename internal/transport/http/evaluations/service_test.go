package evaluations

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camrate-server-go/internal/domain/eventbus"
	"camrate-server-go/internal/domain/gallery"
	"camrate-server-go/internal/domain/history"
	"camrate-server-go/internal/platform/storage"
	testhelpers "camrate-server-go/internal/platform/testing"
	httptransport "camrate-server-go/internal/transport/http"
)

type stubLister struct {
	items []gallery.Item
	err   error
}

func (s stubLister) List(context.Context) ([]gallery.Item, error) {
	return s.items, s.err
}

func newRouter(t *testing.T, lister Lister, repo history.Repository) *httptransport.Router {
	t.Helper()

	cfg := testhelpers.SetupTestConfig(t)
	cfg.Log.Level = "info"
	cfg.Server.RateLimit.RPS = 0
	logger, _ := testhelpers.SetupTestLogger(t)

	router, err := httptransport.Build(httptransport.Options{Config: cfg, Logger: logger})
	require.NoError(t, err)

	svc, err := NewService(lister, repo, logger)
	require.NoError(t, err)
	svc.Register(router)
	return router
}

func newRepo(t *testing.T) history.Repository {
	t.Helper()
	db, err := storage.Open(storage.Config{DSN: filepath.Join(t.TempDir(), "rounds.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	return history.NewRepository(db)
}

func get(router *httptransport.Router, target string, header map[string]string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	router.Engine.ServeHTTP(rec, req)
	return rec
}

func TestListEvaluations(t *testing.T) {
	items := []gallery.Item{
		{URL: "/static/images/b.jpg", Date: "2026-01-02 10:00:00", Filename: "b.jpg", Rate: 5, Reason: "sharp"},
		{URL: "/static/images/a.jpg", Date: "2026-01-01 10:00:00", Filename: "a.jpg", Rate: 1, Reason: "none"},
	}
	router := newRouter(t, stubLister{items: items}, nil)

	rec := get(router, "/api/evaluations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []gallery.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, items, got)
}

func TestListEvaluationsGzip(t *testing.T) {
	router := newRouter(t, stubLister{items: []gallery.Item{{Filename: "a.jpg", Rate: 3, Reason: "ok"}}}, nil)

	rec := get(router, "/api/evaluations", map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"filename":"a.jpg"`)
}

func TestListEvaluationsEmptyAndError(t *testing.T) {
	router := newRouter(t, stubLister{}, nil)
	rec := get(router, "/api/evaluations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	router = newRouter(t, stubLister{err: errors.New("disk on fire")}, nil)
	rec = get(router, "/api/evaluations", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestRoundsAndStats(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, outcome := range []string{eventbus.OutcomeAccepted, eventbus.OutcomeRejected, eventbus.OutcomeAccepted} {
		require.NoError(t, repo.Record(ctx, eventbus.RoundSummary{
			SessionID:   "s1",
			Outcome:     outcome,
			Fragments:   i + 1,
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	router := newRouter(t, stubLister{}, repo)

	rec := get(router, "/api/rounds?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rounds struct {
		Success bool            `json:"success"`
		Data    []history.Round `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rounds))
	assert.True(t, rounds.Success)
	require.Len(t, rounds.Data, 2)
	assert.Equal(t, 3, rounds.Data[0].Fragments)

	rec = get(router, "/api/rounds?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(router, "/api/rounds/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, map[string]int64{"accepted": 2, "rejected": 1}, stats.Data)
}

func TestRoundsWithoutHistory(t *testing.T) {
	router := newRouter(t, stubLister{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/api/rounds", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/api/rounds/stats", nil).Code)
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	assert.Error(t, err)
}
