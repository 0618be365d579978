// Package app wires the qgate serving pipeline and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	grpcapi "github.com/arkilian/qgate/internal/api/grpc"
	httpapi "github.com/arkilian/qgate/internal/api/http"
	"github.com/arkilian/qgate/internal/cache"
	"github.com/arkilian/qgate/internal/config"
	"github.com/arkilian/qgate/internal/instrument"
	"github.com/arkilian/qgate/internal/ledger"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/internal/query/executor"
	"github.com/arkilian/qgate/internal/report"
	"github.com/arkilian/qgate/internal/scheduler"
	"github.com/arkilian/qgate/internal/server"
	"github.com/arkilian/qgate/internal/storage"
)

// queryStatsWindow is how long an unseen fingerprint stays in the stats
const queryStatsWindow = time.Hour

// App owns every component of a running gateway.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	pool       *executor.ConnectionPool
	cache      *cache.QueryCache
	ledger     *ledger.Ledger
	queries    *observability.QueryStats
	queue      *scheduler.TaskQueue
	dispatcher *executor.Dispatcher
	reports    *report.Service
	listener   *server.Listener
	shutdown   *server.ShutdownManager

	adminServer *http.Server
	adminLn     net.Listener
	health      *grpcapi.HealthServer

	// Lifecycle
	mu      sync.Mutex
	running bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// New validates the configuration and prepares an App.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}, nil
}

// Start builds the pipeline, binds every listener and starts serving.
// Pool construction and bind failures are returned; nothing is left running.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		Timeout:      a.cfg.Server.ShutdownGrace + 10*time.Second,
		DrainTimeout: a.cfg.Server.ShutdownGrace,
	}, a.logger)

	if err := a.initPipeline(ctx); err != nil {
		a.cleanup()
		return err
	}
	if err := a.bind(); err != nil {
		a.cleanup()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	if err := a.dispatcher.Start(ctx); err != nil {
		cancel()
		a.cleanup()
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	a.registerClosers()

	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	g.Go(func() error {
		return a.listener.Serve(gctx)
	})
	if a.adminServer != nil {
		g.Go(func() error {
			a.logger.Info("admin HTTP server listening", zap.String("addr", a.adminLn.Addr().String()))
			if err := a.adminServer.Serve(a.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}
	if a.health != nil {
		g.Go(func() error {
			return a.health.Serve(gctx)
		})
	}
	g.Go(func() error {
		a.pruneQueryStats(gctx)
		return nil
	})

	// Any service failing, or the parent context ending, shuts the rest down
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return a.shutdown.Shutdown(context.Background(), "service stopped")
		case <-a.shutdown.ShutdownCh():
			return nil
		}
	})

	a.running = true
	a.logger.Info("qgate started",
		zap.String("addr", a.listener.Addr().String()),
		zap.Int("pool_size", a.pool.Size()),
		zap.String("cache", a.cache.Stats().Backend))
	return nil
}

// initPipeline builds the components in dependency order.
func (a *App) initPipeline(ctx context.Context) error {
	var err error

	a.pool, err = executor.NewConnectionPool(ctx,
		executor.PoolConfigFrom(a.cfg.Pool, a.cfg.Database),
		a.logger, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize connection pool: %w", err)
	}

	a.cache = cache.Open(ctx, a.cfg.Cache, a.logger, a.metrics)

	var collector instrument.Collector = instrument.NopCollector{}
	if a.cfg.Instrument.Enabled {
		pc, err := instrument.NewProcessCollector(a.cfg.Instrument, a.logger)
		if err != nil {
			a.logger.Warn("resource sampler unavailable, measuring latency only", zap.Error(err))
		} else {
			collector = pc
		}
	}

	a.ledger = ledger.New()
	a.queries = observability.NewQueryStats(queryStatsWindow)
	exec := executor.NewExecutor(a.cache, collector, a.ledger, executor.ExecutorConfig{
		CountCacheHits: a.cfg.Cache.CountInScenario,
		QueryTimeout:   a.cfg.Database.QueryTimeout,
	}, a.queries, a.logger, a.metrics)

	a.queue = scheduler.NewTaskQueue(scheduler.WithMetrics(a.metrics))
	a.dispatcher = executor.NewDispatcher(a.queue, a.pool, exec, executor.DispatcherConfig{
		Workers:     a.pool.Size(),
		Backoff:     a.cfg.Scheduler.Backoff,
		PingTimeout: a.cfg.Database.PingTimeout,
	}, a.logger, a.metrics)

	store, err := storage.Open(ctx, a.cfg.Report.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize report storage: %w", err)
	}
	a.reports = report.NewService(a.ledger, report.NewFileRenderer(a.cfg.Report.Dir), report.ServiceConfig{
		CountInScenario: a.cfg.Cache.CountInScenario,
		Store:           store,
		Prefix:          a.cfg.Report.Storage.Prefix,
	}, a.logger.Named("report"), a.metrics)

	a.listener = server.NewListener(server.ListenerConfig{
		Addr:            a.cfg.Server.Addr,
		MaxPayloadBytes: a.cfg.Server.MaxPayloadBytes,
	}, a.queue, a.reports, a.shutdown, a.logger, a.metrics)

	if a.cfg.Admin.HTTPAddr != "" {
		admin := httpapi.NewAdmin(httpapi.Sources{
			Queue:    a.queue,
			Pool:     a.pool,
			Cache:    a.cache,
			Ledger:   a.ledger,
			Queries:  a.queries,
			Listener: a.listener,
			Shutdown: a.shutdown,
		}, a.metrics, a.logger)
		a.adminServer = &http.Server{
			Addr:              a.cfg.Admin.HTTPAddr,
			Handler:           admin.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if a.cfg.Admin.GRPCEnabled && a.cfg.Admin.GRPCAddr != "" {
		a.health = grpcapi.NewHealthServer(a.cfg.Admin.GRPCAddr, 0, a.logger)
		a.health.AddCheck("pool", func(context.Context) bool {
			st := a.pool.Stats()
			return st.Reopening < st.Size
		})
		a.health.AddCheck("listener", func(context.Context) bool {
			return !a.shutdown.IsShuttingDown()
		})
	}
	return nil
}

// bind opens every listening socket so bind failures surface from Start.
func (a *App) bind() error {
	if err := a.listener.Listen(); err != nil {
		return fmt.Errorf("failed to bind %s: %w", a.cfg.Server.Addr, err)
	}
	if a.adminServer != nil {
		ln, err := net.Listen("tcp", a.adminServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to bind admin address %s: %w", a.adminServer.Addr, err)
		}
		a.adminLn = ln
	}
	if a.health != nil {
		if err := a.health.Listen(); err != nil {
			return fmt.Errorf("failed to bind gRPC address %s: %w", a.cfg.Admin.GRPCAddr, err)
		}
	}
	return nil
}

// registerClosers orders shutdown: stop accepting and drop clients first,
// then give workers the grace period, then close admin surfaces, pool and
// cache. Closers run in reverse registration order.
func (a *App) registerClosers() {
	a.shutdown.OnShutdownStart(func() {
		if err := a.listener.Close(); err != nil {
			a.logger.Warn("listener close failed", zap.Error(err))
		}
	})

	a.shutdown.RegisterCloser("cache", a.cache)
	a.shutdown.RegisterCloser("pool", a.pool)
	if a.health != nil {
		a.shutdown.RegisterCloser("grpc-health", a.health)
	}
	if a.adminServer != nil {
		a.shutdown.RegisterCloser("admin-http", server.CloserFunc(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.adminServer.Shutdown(ctx)
		}))
	}
	a.shutdown.RegisterCloser("dispatcher", server.CloserFunc(func() error {
		a.dispatcher.Stop(a.cfg.Server.ShutdownGrace)
		return nil
	}))
	a.shutdown.RegisterCloser("context", server.CloserFunc(func() error {
		a.cancel()
		return nil
	}))
}

func (a *App) pruneQueryStats(ctx context.Context) {
	ticker := time.NewTicker(queryStatsWindow / 6)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdown.ShutdownCh():
			return
		case <-ticker.C:
			a.queries.Prune()
		}
	}
}

// cleanup releases whatever Start managed to build before failing.
func (a *App) cleanup() {
	if a.listener != nil {
		a.listener.Close()
	}
	if a.adminLn != nil {
		a.adminLn.Close()
	}
	if a.health != nil {
		a.health.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
}

// Wait blocks until every service has stopped and returns the first error.
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop runs the shutdown sequence and waits for the services to exit.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	if werr := a.Wait(); werr != nil {
		err = errors.Join(err, werr)
	}
	return err
}

// Shutdown returns the shutdown manager, for signal handling.
func (a *App) Shutdown() *server.ShutdownManager {
	return a.shutdown
}

// Addr returns the client listener address.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// AdminAddr returns the admin HTTP address, or nil when disabled.
func (a *App) AdminAddr() net.Addr {
	if a.adminLn == nil {
		return nil
	}
	return a.adminLn.Addr()
}

// Metrics returns the process metrics.
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}
