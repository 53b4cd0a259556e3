package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	inventorydomain "github.com/smallbiznis/lantern/internal/inventory/domain"
	inventoryrepository "github.com/smallbiznis/lantern/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/lantern/internal/inventory/service"
	"github.com/smallbiznis/lantern/internal/lock"
	"github.com/smallbiznis/lantern/internal/observability"
	"github.com/smallbiznis/lantern/internal/ratelimit"
	reportservice "github.com/smallbiznis/lantern/internal/report/service"
	"github.com/smallbiznis/lantern/internal/testutil"
	"github.com/smallbiznis/lantern/internal/tracker"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	"github.com/smallbiznis/lantern/internal/usage/canonical"
	usagerepository "github.com/smallbiznis/lantern/internal/usage/repository"
	usageservice "github.com/smallbiznis/lantern/internal/usage/service"
	"github.com/smallbiznis/lantern/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	engine *gin.Engine
	acc    *accumulator.Accumulator
	root   string
}

func newTestServer(t *testing.T, inventoryRoot string, limiter *ratelimit.TrackLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t, inventorydomain.Models()...)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	settings := config.NewStaticTrackingSettings(config.DefaultTrackingSettings())
	log := zap.NewNop()

	cfg := config.Config{DefaultTenantID: 1, InventoryRoot: inventoryRoot, HTTPAddr: ":0"}
	canon := canonical.New(log, []string{"twig", "html"}, nil)

	acc := accumulator.New(accumulator.Params{
		Store: accumulator.NewMemoryStore(clk, 24*time.Hour),
		Canon: canon,
		Clock: clk,
		Log:   log,
	})
	usage := usageservice.New(usageservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        usagerepository.Provide(),
		Accumulator: acc,
		Settings:    settings,
		Clock:       clk,
		Locker:      lock.NewMemoryLocker(clk),
	})
	inventory := inventoryservice.New(inventoryservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Repo:   inventoryrepository.Provide(),
		Canon:  canon,
		Config: cfg,
		Clock:  clk,
	})
	reports := reportservice.NewService(reportservice.Params{DB: db, Log: log, Clock: clk})

	engine := NewEngine(observability.Config{Environment: "test", LogLevel: "info"}, nil)
	srv := NewServer(ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		Log:         log,
		Usage:       usage,
		Accumulator: acc,
		Tracker:     tracker.New(tracker.Params{Log: log, Accumulator: acc}),
		Inventory:   inventory,
		Reports:     reports,
		Limiter:     limiter,
		Settings:    settings,
	})
	srv.RegisterRoutes()

	return &testServer{engine: engine, acc: acc, root: inventoryRoot}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrackAccumulatesCanonicalKey(t *testing.T) {
	ts := newTestServer(t, "", nil)

	for _, name := range []string{"/pages/about.twig", "pages/about", "pages/about.html"} {
		rec := ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: name})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodGet, "/v1/accumulator", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp accumulatorResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, int64(1), resp.TenantID)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "pages/about", resp.Entries[0].ResourceKey)
	assert.Equal(t, int64(3), resp.Entries[0].Hits)
}

func TestTrackValidation(t *testing.T) {
	ts := newTestServer(t, "", nil)

	rec := ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "x"}, HeaderTenant, "abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_tenant", payload.Errors[0].Code)
}

func TestTenantHeaderIsolatesAccumulators(t *testing.T) {
	ts := newTestServer(t, "", nil)

	rec := ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "home"}, HeaderTenant, "7")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/accumulator?tenant_id=7", nil)
	var seven accumulatorResponse
	decodeData(t, rec, &seven)
	assert.Equal(t, int64(1), seven.TotalHits)

	rec = ts.do(t, http.MethodGet, "/v1/accumulator", nil)
	var def accumulatorResponse
	decodeData(t, rec, &def)
	assert.Zero(t, def.TotalHits)
}

func TestFlushThenQueryTotals(t *testing.T) {
	ts := newTestServer(t, "", nil)
	for i := 0; i < 2; i++ {
		ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "blog/post"})
	}

	rec := ts.do(t, http.MethodPost, "/v1/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var flushed struct {
		Success            bool  `json:"success"`
		ResourcesProcessed int   `json:"resources_processed"`
		TotalHitsProcessed int64 `json:"total_hits_processed"`
	}
	decodeData(t, rec, &flushed)
	assert.True(t, flushed.Success)
	assert.Equal(t, 1, flushed.ResourcesProcessed)
	assert.Equal(t, int64(2), flushed.TotalHitsProcessed)

	rec = ts.do(t, http.MethodGet, "/v1/usage/total?resource=blog/post.twig", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var total struct {
		ResourceKey string `json:"resource_key"`
		TotalHits   int64  `json:"total_hits"`
	}
	decodeData(t, rec, &total)
	assert.Equal(t, "blog/post", total.ResourceKey)
	assert.Equal(t, int64(2), total.TotalHits)

	rec = ts.do(t, http.MethodGet, "/v1/usage/daily", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var daily []map[string]any
	decodeData(t, rec, &daily)
	assert.Len(t, daily, 1)

	rec = ts.do(t, http.MethodGet, "/v1/accumulator", nil)
	var pending accumulatorResponse
	decodeData(t, rec, &pending)
	assert.Empty(t, pending.Entries)
}

func TestListTotalsPages(t *testing.T) {
	ts := newTestServer(t, "", nil)
	for name, hits := range map[string]int{"a": 3, "b": 2, "c": 2} {
		for i := 0; i < hits; i++ {
			ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: name})
		}
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/flush", nil).Code)

	var keys []string
	path := "/v1/usage/totals?page_size=2"
	for i := 0; i < 3 && path != ""; i++ {
		rec := ts.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Data []struct {
				ResourceKey string `json:"resource_key"`
			} `json:"data"`
			PageInfo pagination.PageInfo `json:"page_info"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		for _, item := range resp.Data {
			keys = append(keys, item.ResourceKey)
		}
		path = ""
		if resp.PageInfo.HasMore {
			path = "/v1/usage/totals?page_size=2&page_token=" + resp.PageInfo.NextPageToken
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestGetTotalNotFound(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rec := ts.do(t, http.MethodGet, "/v1/usage/total?resource=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/usage/total", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryValidation(t *testing.T) {
	ts := newTestServer(t, "", nil)

	rec := ts.do(t, http.MethodGet, "/v1/usage/daily?from=2026-13-01", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_date", payload.Errors[0].Code)

	rec = ts.do(t, http.MethodGet, "/v1/usage/monthly?from=2026-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/usage/totals?page_size=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/usage/totals?page_token=garbage!", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAggregateRejectsBadMonth(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rec := ts.do(t, http.MethodPost, "/v1/aggregate", map[string]any{"since_month": "2026/01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAggregateRejectsInvalidPlan(t *testing.T) {
	ts := newTestServer(t, "", nil)

	rec := ts.do(t, http.MethodPost, "/v1/aggregate", map[string]any{"since_month": "2026-02", "until_month": "2025-12"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_range", payload.Errors[0].Code)

	rec = ts.do(t, http.MethodPost, "/v1/aggregate", map[string]any{"tenant_ids": []int64{0}})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	payload = decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_tenant", payload.Errors[0].Code)
	assert.Equal(t, "tenant", payload.Errors[0].Field)
}

func TestAggregateDryRun(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rec := ts.do(t, http.MethodPost, "/v1/aggregate", map[string]any{"dry_run": true, "until_month": "2026-02"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Success bool `json:"success"`
		DryRun  bool `json:"dry_run"`
	}
	decodeData(t, rec, &res)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
}

func TestInventoryScanWithoutRoot(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rec := ts.do(t, http.MethodPost, "/v1/inventory/scan", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeError(t, rec).Type)
}

func TestInventoryScanAndOrphans(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pages", "about.twig"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pages", "contact.twig"), []byte("x"), 0o600))
	ts := newTestServer(t, root, nil)

	rec := ts.do(t, http.MethodPost, "/v1/inventory/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/inventory", nil)
	var known []inventorydomain.KnownResource
	decodeData(t, rec, &known)
	assert.Len(t, known, 2)

	ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "pages/about"})
	ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "legacy/gone"})
	rec = ts.do(t, http.MethodPost, "/v1/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/reports/orphans", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var orphans struct {
		NeverUsed []struct {
			ResourceKey string `json:"resource_key"`
		} `json:"never_used"`
		Missing []struct {
			ResourceKey string `json:"resource_key"`
		} `json:"missing"`
	}
	decodeData(t, rec, &orphans)
	require.Len(t, orphans.NeverUsed, 1)
	assert.Equal(t, "pages/contact", orphans.NeverUsed[0].ResourceKey)
	require.Len(t, orphans.Missing, 1)
	assert.Equal(t, "legacy/gone", orphans.Missing[0].ResourceKey)

	rec = ts.do(t, http.MethodGet, "/v1/reports/stale?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearAccumulator(t *testing.T) {
	ts := newTestServer(t, "", nil)
	ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "a"})
	ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "b"})

	rec := ts.do(t, http.MethodDelete, "/v1/accumulator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared accumulator.ClearResult
	decodeData(t, rec, &cleared)
	assert.Equal(t, 2, cleared.Resources)

	count, err := ts.acc.Count(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTrackRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewTrackLimiter(ratelimit.Params{
		Config: config.Config{TrackRate: 0.01, TrackBurst: 1, Store: config.StoreConfig{KeyPrefix: "test"}},
		Client: client,
	})
	require.NoError(t, err)
	ts := newTestServer(t, "", limiter)

	rec := ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "a"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "a"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = ts.do(t, http.MethodPost, "/v1/track", trackRequest{Name: "a"}, HeaderTenant, "2")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(ErrRateLimited)
	assert.Equal(t, "rate_limited", typ)
	assert.Equal(t, "rate_limited", code)

	typ, code = classifyErrorForLog(newValidationError("days", "invalid_days", "bad"))
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_days", code)
}
