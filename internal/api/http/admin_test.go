package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/cache"
	"github.com/arkilian/qgate/internal/ledger"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/internal/scheduler"
	"github.com/arkilian/qgate/internal/server"
	"github.com/arkilian/qgate/pkg/types"
)

func newTestAdmin(t *testing.T) (*Admin, Sources, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics()
	q := scheduler.NewTaskQueue(scheduler.WithMetrics(metrics))
	q.Enqueue(scheduler.Task{ClientID: "c1", Priority: 4, Query: "SELECT 1"})

	l := ledger.New()
	l.Append(types.Outcome{Rows: 1, Source: types.SourceDB})

	qs := observability.NewQueryStats(time.Hour)
	qs.Record(cache.Fingerprint("SELECT 1"), cache.Normalize("SELECT 1"), types.SourceDB)

	src := Sources{
		Queue:    q,
		Cache:    cache.New(nil, cache.NewMemoryBackend(0), cache.Options{TTL: time.Minute}),
		Ledger:   l,
		Queries:  qs,
		Shutdown: server.NewShutdownManager(server.DefaultShutdownConfig(), nil),
	}
	return NewAdmin(src, metrics, nil), src, metrics
}

func TestAdmin_Stats(t *testing.T) {
	admin, _, _ := newTestAdmin(t)
	h := admin.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats?pending=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id")
	}

	var s Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.QueueDepth != 1 || len(s.Pending) != 1 || s.Pending[0].Priority != 4 {
		t.Errorf("unexpected queue stats: %+v", s)
	}
	if s.LedgerSize != 1 {
		t.Errorf("LedgerSize = %d", s.LedgerSize)
	}
	if s.Cache == nil || s.Cache.Backend != "memory" {
		t.Errorf("unexpected cache stats: %+v", s.Cache)
	}
	if s.Pool != nil {
		t.Error("pool stats should be omitted without a pool")
	}
	if len(s.TopQueries) != 1 || s.TopQueries[0].Query != "SELECT 1" {
		t.Errorf("unexpected top queries: %+v", s.TopQueries)
	}
	// The stats request itself is tracked while it is served
	if s.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", s.InFlight)
	}
}

func TestAdmin_StatsValidation(t *testing.T) {
	admin, _, _ := newTestAdmin(t)
	h := admin.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats?top=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad top, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/stats", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestAdmin_Healthz(t *testing.T) {
	admin, src, _ := newTestAdmin(t)
	h := admin.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected healthz: %d %s", rec.Code, rec.Body)
	}

	src.Shutdown.Shutdown(context.Background(), "test")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during shutdown, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected stats to be refused during shutdown, got %d", rec.Code)
	}
	if src.Shutdown.InFlightCount() != 0 {
		t.Fatalf("refused request left in-flight work: %d", src.Shutdown.InFlightCount())
	}
}

func TestAdmin_Metrics(t *testing.T) {
	admin, _, metrics := newTestAdmin(t)
	metrics.CacheLookup("memory", true)

	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"qgate_tasks_enqueued_total", "qgate_cache_lookups_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.RequestID != "req-1" {
		t.Errorf("expected request id in error body, got %+v", resp)
	}

	// A generated id is echoed in both the header and the body
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	resp = ErrorResponse{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.RequestID == "" || resp.RequestID != rec.Header().Get("X-Request-ID") {
		t.Errorf("expected generated request id %q in body, got %+v", rec.Header().Get("X-Request-ID"), resp)
	}
}
