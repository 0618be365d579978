package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/cache"
	"github.com/arkilian/qgate/internal/ledger"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/internal/query/executor"
	"github.com/arkilian/qgate/internal/scheduler"
	"github.com/arkilian/qgate/internal/server"
)

// Sources are the components the stats endpoint reports on. Nil fields are
// omitted from the snapshot.
type Sources struct {
	Queue    *scheduler.TaskQueue
	Pool     *executor.ConnectionPool
	Cache    *cache.QueryCache
	Ledger   *ledger.Ledger
	Queries  *observability.QueryStats
	Listener *server.Listener
	Shutdown *server.ShutdownManager
}

// Stats is the /v1/stats response.
type Stats struct {
	Time              time.Time                        `json:"time"`
	QueueDepth        int                              `json:"queue_depth"`
	Pending           []scheduler.PendingTask          `json:"pending,omitempty"`
	Pool              *executor.PoolStats              `json:"pool,omitempty"`
	Cache             *cache.Stats                     `json:"cache,omitempty"`
	LedgerSize        int                              `json:"ledger_size"`
	ActiveConnections int                              `json:"active_connections"`
	TopQueries        []observability.FingerprintStats `json:"top_queries,omitempty"`
	ShuttingDown      bool                             `json:"shutting_down"`
	InFlight          int64                            `json:"in_flight"`
}

// defaultTopQueries is the number of fingerprints listed without ?top=
const defaultTopQueries = 10

// Admin serves the admin endpoints.
type Admin struct {
	src     Sources
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAdmin creates the admin handler set.
func NewAdmin(src Sources, metrics *observability.Metrics, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{src: src, metrics: metrics, logger: logger.Named("admin")}
}

// Handler returns the admin mux: /metrics, /healthz and /v1/stats. Stats
// requests count as in-flight work and are refused once shutdown begins.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	middleware := DefaultMiddleware(a.logger)

	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("/healthz", middleware(http.HandlerFunc(a.healthz)))
	var stats http.Handler = http.HandlerFunc(a.stats)
	if a.src.Shutdown != nil {
		stats = server.ShutdownMiddleware(a.src.Shutdown)(stats)
	}
	mux.Handle("/v1/stats", middleware(stats))
	return mux
}

func (a *Admin) healthz(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if a.src.Shutdown != nil && a.src.Shutdown.IsShuttingDown() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "qgate",
	})
}

func (a *Admin) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}

	top := defaultTopQueries
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer", GetRequestID(r.Context()))
			return
		}
		top = n
	}

	writeJSON(w, http.StatusOK, a.Snapshot(top, r.URL.Query().Get("pending") == "true"))
}

// Snapshot collects the current stats. pending includes the queued tasks.
func (a *Admin) Snapshot(top int, pending bool) Stats {
	s := Stats{Time: time.Now().UTC()}
	if q := a.src.Queue; q != nil {
		s.QueueDepth = q.Len()
		if pending {
			s.Pending = q.Snapshot()
		}
	}
	if p := a.src.Pool; p != nil {
		ps := p.Stats()
		s.Pool = &ps
	}
	if c := a.src.Cache; c != nil {
		cs := c.Stats()
		s.Cache = &cs
	}
	if l := a.src.Ledger; l != nil {
		s.LedgerSize = l.Len()
	}
	if l := a.src.Listener; l != nil {
		s.ActiveConnections = l.ActiveConnections()
	}
	if qs := a.src.Queries; qs != nil && top > 0 {
		s.TopQueries = qs.Top(top)
	}
	if sm := a.src.Shutdown; sm != nil {
		s.ShuttingDown = sm.IsShuttingDown()
		s.InFlight = sm.InFlightCount()
	}
	return s
}
