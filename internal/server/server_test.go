package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/charts"
	"github.com/aristath/allocator/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/allocator/internal/modules/optimization/handlers"
	"github.com/aristath/allocator/internal/scheduler"
	testingpkg "github.com/aristath/allocator/internal/testing"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func newTestServer(t *testing.T, withDB bool) (*Server, *scheduler.Scheduler) {
	var db *database.DB
	if withDB {
		db, _ = testingpkg.NewTestDB(t, database.HistoryDBName)
	}
	sched := scheduler.New(zerolog.Nop())

	service := optimization.NewOptimizerService(testingpkg.NewStaticProvider(120), optimization.DefaultServiceConfig(), zerolog.Nop())
	s := New(Config{
		Log:          zerolog.Nop(),
		HistoryDB:    db,
		Scheduler:    sched,
		Optimization: optimizationhandlers.NewHandler(service, charts.NewService(zerolog.Nop()), zerolog.Nop()),
		Port:         0,
	})
	return s, sched
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ok", body.Database)
}

func TestHealth_WithoutCache(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Database)
}

func TestSystemStatus(t *testing.T) {
	s, sched := newTestServer(t, true)
	job := &stubJob{name: "price_cache_prune"}
	s.SetJobs(job)
	require.NoError(t, sched.RunNow(context.Background(), job))

	rec := do(s, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.GreaterOrEqual(t, body.UptimeSeconds, 0.0)
	assert.NotEmpty(t, body.GoVersion)
	require.NotNil(t, body.PriceCache)
	assert.Greater(t, body.PriceCache.PageSize, int64(0))
	assert.Contains(t, body.Jobs, "price_cache_prune")
}

func TestTriggerJob(t *testing.T) {
	s, _ := newTestServer(t, false)
	ok := &stubJob{name: "ok"}
	failing := &stubJob{name: "failing", err: errors.New("disk full")}
	s.SetJobs(ok, failing)

	rec := do(s, http.MethodPost, "/api/jobs/ok/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ok.runs)

	rec = do(s, http.MethodPost, "/api/jobs/failing/run", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")

	rec = do(s, http.MethodPost, "/api/jobs/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecommendRoutes(t *testing.T) {
	s, _ := newTestServer(t, false)
	body := []byte(`{"symbols":["AAPL","MSFT"],"start_date":"2023-01-01","end_date":"2023-12-31"}`)

	for _, path := range []string{"/recommend", "/api/optimizer/recommend", "/api/optimizer/recommend/chart"} {
		rec := do(s, http.MethodPost, path, body)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("Content-Type"))
	}

	rec := do(s, http.MethodPost, "/recommend", []byte(`{"symbols":[]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/recommend", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
