// Package server accepts client connections and binds them to the task
// queue, and coordinates graceful shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/internal/scheduler"
)

// ListenerConfig holds configuration for the client listener.
type ListenerConfig struct {
	// Addr is the TCP bind address
	Addr string

	// MaxPayloadBytes is the size of one query receive (default: 16 KiB)
	MaxPayloadBytes int

	// WriteTimeout bounds a single reply write (default: 10 seconds)
	WriteTimeout time.Duration
}

// Listener accepts client connections and runs one handler per connection.
type Listener struct {
	cfg ListenerConfig
	h   *handler

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*clientConn]struct{}
	closed bool
	wg     sync.WaitGroup

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewListener creates a listener that enqueues streamed queries on q and
// hands maintenance requests to m. shutdown may be nil.
func NewListener(cfg ListenerConfig, q *scheduler.TaskQueue, m Maintainer, shutdown *ShutdownManager, logger *zap.Logger, metrics *observability.Metrics) *Listener {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayload
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("listener")

	return &Listener{
		cfg: cfg,
		h: &handler{
			queue:      q,
			maintainer: m,
			shutdown:   shutdown,
			maxPayload: cfg.MaxPayloadBytes,
			logger:     logger,
			metrics:    metrics,
		},
		conns:   make(map[*clientConn]struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

// Listen binds the configured address.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until Close. It binds first if Listen was not
// called. Serve returns nil after Close.
func (l *Listener) Serve(ctx context.Context) error {
	if l.Addr() == nil {
		if err := l.Listen(); err != nil {
			return err
		}
	}

	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Temporary accept failures such as EMFILE
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			l.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		cc := newClientConn(conn, uuid.NewString(), l.cfg.WriteTimeout)
		if !l.track(cc) {
			cc.Close()
			return nil
		}

		go func() {
			defer l.wg.Done()
			defer l.untrack(cc)
			l.h.serve(ctx, cc)
		}()
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) track(cc *clientConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[cc] = struct{}{}
	l.wg.Add(1)
	l.metrics.ClientConnected()
	return true
}

func (l *Listener) untrack(cc *clientConn) {
	cc.Close()
	l.mu.Lock()
	delete(l.conns, cc)
	l.mu.Unlock()
	l.metrics.ClientDisconnected()
}

// ActiveConnections returns the number of open client connections.
func (l *Listener) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Close stops accepting, closes every client connection, and waits for the
// handlers to exit.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	for cc := range l.conns {
		cc.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}
