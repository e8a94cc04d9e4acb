package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/poultrydesk/internal/metrics"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore/sqltest"
	"github.com/mamadbah2/poultrydesk/internal/server/handlers"
	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
	"github.com/mamadbah2/poultrydesk/internal/service/cycles"
	"github.com/mamadbah2/poultrydesk/internal/service/reporting"
	"github.com/mamadbah2/poultrydesk/internal/service/syncer"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

type testServer struct {
	engine *gin.Engine
	clock  *clock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := sqltest.Store(t)
	clk := &clock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	m, err := metrics.NewFeedMetrics(reg)
	require.NoError(t, err)

	engine := accrual.NewEngine(store, nil, accrual.WithClock(clk.Now), accrual.WithMetrics(m))
	driver := syncer.NewDriver(store, engine, nil, syncer.WithMetrics(m), syncer.WithClock(clk.Now))
	lifecycle := cycles.NewService(store, engine, nil, nil)
	dashboard := reporting.NewService(store, 5, nil)

	r := New(Handlers{
		Sync:      handlers.NewSyncHandler(driver, dashboard, nil, nil),
		Farmers:   handlers.NewFarmerHandler(lifecycle, dashboard, nil),
		Cycles:    handlers.NewCycleHandler(lifecycle, dashboard, nil),
		Dashboard: handlers.NewDashboardHandler(dashboard, nil),
	}, reg, nil)

	return &testServer{engine: r, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(handlers.UserHeader, user)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresUserHeader(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/cycles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCycleLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/farmers", "u1", map[string]any{"name": "North"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	farmer := decode[struct {
		ID string `json:"id"`
	}](t, w)

	w = s.do(t, http.MethodPost, "/api/farmers/"+farmer.ID+"/stock", "u1", map[string]any{"amount": 20})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/cycles", "u1", map[string]any{
		"farmerId": farmer.ID, "name": "Shed", "doc": 1000, "age": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := decode[struct {
		Cycle struct {
			ID     string  `json:"id"`
			Age    int     `json:"age"`
			Intake float64 `json:"intake"`
		} `json:"cycle"`
	}](t, w)
	assert.Equal(t, 5, started.Cycle.Age)
	assert.InDelta(t, 2.4, started.Cycle.Intake, 1e-9)
	id := started.Cycle.ID

	w = s.do(t, http.MethodPost, "/api/cycles", "u1", map[string]any{"name": "shed", "doc": 10})
	assert.Equal(t, http.StatusConflict, w.Code)

	s.clock.AddDays(2)

	w = s.do(t, http.MethodGet, "/api/cron/update-feed?userId=u1", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cron := decode[struct {
		Success bool   `json:"success"`
		Mode    string `json:"mode"`
		Count   int    `json:"count"`
		Updates []struct {
			Name      string  `json:"name"`
			Age       int     `json:"age"`
			AddedBags float64 `json:"addedBags"`
		} `json:"updates"`
	}](t, w)
	assert.True(t, cron.Success)
	assert.Equal(t, "User Sync (u1)", cron.Mode)
	require.Equal(t, 1, cron.Count)
	assert.Equal(t, 7, cron.Updates[0].Age)
	assert.InDelta(t, 3.92-2.4, cron.Updates[0].AddedBags, 1e-9)

	w = s.do(t, http.MethodPost, "/api/sync", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	manual := decode[struct {
		UpdatedCount int   `json:"updatedCount"`
		Results      []any `json:"results"`
	}](t, w)
	assert.Zero(t, manual.UpdatedCount)
	assert.Empty(t, manual.Results)

	w = s.do(t, http.MethodGet, "/api/dashboard", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode[reporting.Summary](t, w)
	assert.Equal(t, 1, dash.ActiveCycles)
	require.Len(t, dash.Stocks, 1)
	assert.InDelta(t, 20-3.92, dash.Stocks[0].Remaining, 1e-9)

	w = s.do(t, http.MethodPost, "/api/cycles/"+id+"/mortality", "u1", map[string]any{"amount": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/cycles/"+id+"/feed", "u1", map[string]any{"amount": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "pooled cycles take feed from the farmer")

	w = s.do(t, http.MethodGet, "/api/cycles/"+id, "u2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/cycles/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[struct {
		Cycle struct {
			PoolBalance *float64 `json:"poolBalance"`
		} `json:"cycle"`
		Logs []any `json:"logs"`
	}](t, w)
	require.NotNil(t, details.Cycle.PoolBalance)
	assert.NotEmpty(t, details.Logs)

	w = s.do(t, http.MethodDelete, "/api/cycles/"+id, "u1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/cycles/"+id+"/end", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/cycles/"+id+"/end", "u1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodGet, "/api/cycles?status=archived", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	archived := decode[struct {
		Total int `json:"total"`
	}](t, w)
	assert.Equal(t, 1, archived.Total)

	w = s.do(t, http.MethodDelete, "/api/cycles/"+id, "u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "poultrydesk_accruals_total"))
}

func TestValidationErrorsAreBadRequest(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/farmers", "u1", map[string]any{"name": "no/slashes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/cycles", "u1", map[string]any{"name": "a", "doc": 10, "age": 40})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/cycles", "u1", map[string]any{"name": "a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
