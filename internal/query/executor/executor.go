package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/cache"
	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/internal/instrument"
	"github.com/arkilian/qgate/internal/ledger"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/pkg/types"
)

// Executor answers a query from the cache or by running it on a session.
type Executor struct {
	cache     *cache.QueryCache
	collector instrument.Collector
	ledger    *ledger.Ledger

	countCacheHits bool
	queryTimeout   time.Duration
	now            func() time.Time

	stats   *observability.QueryStats
	logger  *zap.Logger
	metrics *observability.Metrics
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	// CountCacheHits records cache hits into the ledger
	CountCacheHits bool

	// QueryTimeout bounds a single database query; zero means none
	QueryTimeout time.Duration
}

// NewExecutor creates an executor. c may be nil to disable caching and
// collector may be nil to measure latency only.
func NewExecutor(
	c *cache.QueryCache,
	collector instrument.Collector,
	l *ledger.Ledger,
	cfg ExecutorConfig,
	stats *observability.QueryStats,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Executor {
	if collector == nil {
		collector = instrument.NopCollector{}
	}
	if l == nil {
		l = ledger.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cache:          c,
		collector:      collector,
		ledger:         l,
		countCacheHits: cfg.CountCacheHits,
		queryTimeout:   cfg.QueryTimeout,
		now:            time.Now,
		stats:          stats,
		logger:         logger.Named("executor"),
		metrics:        metrics,
	}
}

// Execute returns the outcome of query. A cache hit never touches sess.
// Every database execution is recorded in the ledger and cached; hits are
// recorded only when cache hits count toward the scenario.
func (e *Executor) Execute(ctx context.Context, sess *Session, query string) (types.Outcome, error) {
	if e.cache != nil {
		if res, ok := e.cache.Lookup(ctx, query); ok {
			o := res.Outcome()
			if e.countCacheHits {
				e.ledger.Append(o)
			}
			e.record(query, o)
			return o, nil
		}
	}

	var rows int64
	usage, latency, err := e.collector.Measure(ctx, func(ctx context.Context) error {
		if e.queryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
			defer cancel()
		}
		var qerr error
		rows, qerr = sess.Query(ctx, query)
		return qerr
	})
	if err != nil {
		return types.Outcome{}, qerrors.NewExecutionError(qerrors.CodeQueryFailed, "query failed", err)
	}

	o := types.Outcome{
		Usage:      usage,
		LatencySec: latency.Seconds(),
		Rows:       rows,
		Throughput: types.Throughput(rows, latency),
		Source:     types.SourceDB,
	}
	e.ledger.Append(o)

	if e.cache != nil {
		e.cache.Store(ctx, query, types.NewCachedResult(o, e.now()))
	}
	e.record(query, o)
	return o, nil
}

func (e *Executor) record(query string, o types.Outcome) {
	e.metrics.QueryServed(o.Source, o.LatencySec)
	if e.stats != nil {
		e.stats.Record(cache.Fingerprint(query), cache.Normalize(query), o.Source)
	}
}

// Ledger returns the ledger outcomes are recorded into.
func (e *Executor) Ledger() *ledger.Ledger {
	return e.ledger
}
