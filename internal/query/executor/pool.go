// Package executor runs queued queries on pooled database sessions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/config"
	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/internal/observability"
)

// OpenFunc opens the session for a pool slot.
type OpenFunc func(ctx context.Context, id int) (*Session, error)

// ConnectionPool lends a fixed set of sessions to workers.
//
// Every session is either idle, lent out, or being reopened after
// Invalidate, so the number in circulation stays at Size for the life of
// the pool.
type ConnectionPool struct {
	mu sync.Mutex

	// idle holds sessions ready to lend; capacity equals size
	idle chan *Session

	size     int
	inUse    int
	replaced int64
	closed   bool

	open          OpenFunc
	reopenBackoff time.Duration
	maxBackoff    time.Duration

	// closing is closed by Close to release blocked acquirers and reopeners
	closing chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger  *zap.Logger
	metrics *observability.Metrics
}

// PoolConfig holds configuration for the connection pool.
type PoolConfig struct {
	// Size is the number of sessions (default: 10)
	Size int

	// Driver and DSN select the database/sql driver and data source
	Driver string
	DSN    string

	// PingTimeout bounds opening a session (default: 2 seconds)
	PingTimeout time.Duration

	// ReopenBackoff is the first retry delay after a failed reopen (default: 500ms)
	ReopenBackoff time.Duration

	// MaxReopenBackoff caps the retry delay (default: 30 seconds)
	MaxReopenBackoff time.Duration

	// InitStatements run on each session after it opens, including reopens
	InitStatements []string
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:             10,
		Driver:           "sqlite3",
		DSN:              "file::memory:?cache=shared",
		PingTimeout:      2 * time.Second,
		ReopenBackoff:    500 * time.Millisecond,
		MaxReopenBackoff: 30 * time.Second,
	}
}

// PoolConfigFrom builds a pool configuration from the server configuration.
func PoolConfigFrom(pool config.PoolConfig, db config.DatabaseConfig) PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.Size = pool.Size
	cfg.Driver = db.Driver
	cfg.DSN = db.DSN
	cfg.InitStatements = db.InitStatements
	if db.PingTimeout > 0 {
		cfg.PingTimeout = db.PingTimeout
	}
	if pool.ReopenBackoff > 0 {
		cfg.ReopenBackoff = pool.ReopenBackoff
	}
	return cfg
}

// NewConnectionPool opens cfg.Size sessions with the configured driver.
// Failing to open any of them closes the rest and returns an error.
func NewConnectionPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger, metrics *observability.Metrics) (*ConnectionPool, error) {
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	open := func(ctx context.Context, id int) (*Session, error) {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		s, err := OpenSession(ctx, id, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		for _, stmt := range cfg.InitStatements {
			if err := s.Exec(ctx, stmt); err != nil {
				s.Close()
				return nil, fmt.Errorf("session %d: init statement %q: %w", id, stmt, err)
			}
		}
		return s, nil
	}
	return NewConnectionPoolWithOpener(ctx, cfg, open, logger, metrics)
}

// NewConnectionPoolWithOpener is NewConnectionPool with a custom opener.
func NewConnectionPoolWithOpener(ctx context.Context, cfg PoolConfig, open OpenFunc, logger *zap.Logger, metrics *observability.Metrics) (*ConnectionPool, error) {
	if cfg.Size <= 0 {
		cfg.Size = 10
	}
	if cfg.ReopenBackoff <= 0 {
		cfg.ReopenBackoff = 500 * time.Millisecond
	}
	if cfg.MaxReopenBackoff <= 0 {
		cfg.MaxReopenBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCtx, cancel := context.WithCancel(context.Background())
	p := &ConnectionPool{
		idle:          make(chan *Session, cfg.Size),
		size:          cfg.Size,
		open:          open,
		reopenBackoff: cfg.ReopenBackoff,
		maxBackoff:    cfg.MaxReopenBackoff,
		closing:       make(chan struct{}),
		ctx:           poolCtx,
		cancel:        cancel,
		logger:        logger.Named("pool"),
		metrics:       metrics,
	}

	for i := 0; i < cfg.Size; i++ {
		s, err := open(ctx, i)
		if err != nil {
			p.Close()
			return nil, qerrors.NewPoolError(qerrors.CodeOpenFailed, "failed to open session pool", err)
		}
		p.idle <- s
	}

	p.logger.Info("session pool ready", zap.Int("size", cfg.Size), zap.String("driver", cfg.Driver))
	return p, nil
}

// Size returns the number of sessions in circulation.
func (p *ConnectionPool) Size() int {
	return p.size
}

// Acquire blocks until a session is free, ctx is done, or the pool closes.
// The caller owns the session until it calls Release or Invalidate.
func (p *ConnectionPool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case <-p.closing:
		return nil, qerrors.NewPoolError(qerrors.CodePoolClosed, "pool is closed", nil)
	default:
	}

	select {
	case s := <-p.idle:
		p.mu.Lock()
		p.inUse++
		inUse := p.inUse
		p.mu.Unlock()
		p.metrics.SessionsInUse(inUse)
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closing:
		return nil, qerrors.NewPoolError(qerrors.CodePoolClosed, "pool is closed", nil)
	}
}

// Release returns a healthy session to the pool.
func (p *ConnectionPool) Release(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	p.inUse--
	inUse := p.inUse
	if p.closed {
		p.mu.Unlock()
		s.Close()
		return
	}
	// Cannot block: at most size sessions exist
	p.idle <- s
	p.mu.Unlock()

	p.metrics.SessionsInUse(inUse)
}

// Invalidate discards a broken session and reopens its slot in the
// background, retrying with exponential backoff until it succeeds or the
// pool closes.
func (p *ConnectionPool) Invalidate(s *Session) {
	if s == nil {
		return
	}
	s.Close()

	p.mu.Lock()
	p.inUse--
	inUse := p.inUse
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.replaced++
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.SessionsInUse(inUse)
	p.metrics.SessionReplaced()
	p.logger.Warn("session invalidated, reopening",
		zap.Int("session", s.ID()),
		zap.Duration("age", time.Since(s.OpenedAt())))

	go p.reopen(s.ID())
}

func (p *ConnectionPool) reopen(id int) {
	defer p.wg.Done()

	backoff := p.reopenBackoff
	for {
		s, err := p.open(p.ctx, id)
		if err == nil {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				s.Close()
				return
			}
			p.idle <- s
			p.mu.Unlock()
			p.logger.Info("session reopened", zap.Int("session", id))
			return
		}

		p.logger.Warn("session reopen failed",
			zap.Int("session", id), zap.Duration("retry_in", backoff), zap.Error(err))

		select {
		case <-p.closing:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

// Close closes idle sessions and stops reopen attempts. Sessions still lent
// out are closed when they are released.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	close(p.closing)
	p.wg.Wait()

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// PoolStats holds statistics about the connection pool.
type PoolStats struct {
	Size      int   `json:"size"`
	Idle      int   `json:"idle"`
	InUse     int   `json:"in_use"`
	Reopening int   `json:"reopening"`
	Replaced  int64 `json:"replaced"`
}

// Stats returns current pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := len(p.idle)
	stats := PoolStats{
		Size:     p.size,
		Idle:     idle,
		InUse:    p.inUse,
		Replaced: p.replaced,
	}
	if r := p.size - idle - p.inUse; r > 0 && !p.closed {
		stats.Reopening = r
	}
	return stats
}
