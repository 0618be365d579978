package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/internal/scheduler"
	"github.com/arkilian/qgate/pkg/types"
)

// Dispatcher runs one worker per pool session. Each worker repeatedly
// acquires a session, takes the highest-scored task, executes it, replies on
// the task's connection, and returns the session.
type Dispatcher struct {
	queue *scheduler.TaskQueue
	pool  *ConnectionPool
	exec  *Executor

	workers     int
	backoff     time.Duration
	pingTimeout time.Duration

	mu         sync.Mutex
	running    bool
	stopLoop   context.CancelFunc
	cancelExec context.CancelFunc
	wg         sync.WaitGroup

	logger  *zap.Logger
	metrics *observability.Metrics
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	// Workers defaults to the pool size
	Workers int

	// Backoff bounds how long an idle worker waits before rescanning (default: 50ms)
	Backoff time.Duration

	// PingTimeout bounds the health probe after a failed query (default: 2s)
	PingTimeout time.Duration
}

// NewDispatcher creates a dispatcher over a queue, pool and executor.
func NewDispatcher(q *scheduler.TaskQueue, pool *ConnectionPool, exec *Executor, cfg DispatcherConfig, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = pool.Size()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:       q,
		pool:        pool,
		exec:        exec,
		workers:     cfg.Workers,
		backoff:     cfg.Backoff,
		pingTimeout: cfg.PingTimeout,
		logger:      logger.Named("dispatcher"),
		metrics:     metrics,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher: already running")
	}

	// Tasks run on execCtx so Stop can let in-flight work finish after the
	// loops stop taking tasks.
	loopCtx, stopLoop := context.WithCancel(ctx)
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	d.stopLoop = stopLoop
	d.cancelExec = cancelExec
	d.running = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(loopCtx, execCtx, i)
	}
	d.logger.Info("dispatcher started", zap.Int("workers", d.workers))
	return nil
}

// Stop stops taking tasks and waits up to grace for in-flight tasks, then
// cancels them. Queued tasks are left in the queue.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.stopLoop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("grace period expired, cancelling in-flight tasks", zap.Duration("grace", grace))
		d.cancelExec()
		<-done
	}
	d.cancelExec()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) worker(loopCtx, execCtx context.Context, id int) {
	defer d.wg.Done()
	log := d.logger.With(zap.Int("worker", id))

	for {
		if loopCtx.Err() != nil {
			return
		}

		sess, err := d.pool.Acquire(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil || !qerrors.IsRetryable(err) {
				return
			}
			log.Warn("failed to acquire session", zap.Error(err))
			continue
		}

		task, ok := d.queue.SelectAndRemove()
		if !ok {
			d.pool.Release(sess)
			if err := d.queue.Wait(loopCtx, d.backoff); err != nil {
				return
			}
			continue
		}

		d.process(execCtx, log, sess, task)
	}
}

// process executes one task and returns sess to the pool. Failures and
// panics are reported to the client; a session that stops answering after a
// failure is invalidated.
func (d *Dispatcher) process(ctx context.Context, log *zap.Logger, sess *Session, task scheduler.Task) {
	healthy := true
	defer func() {
		if r := recover(); r != nil {
			err := qerrors.Wrap(qerrors.ErrCategoryInternal, qerrors.CodePanic, fmt.Sprintf("task panicked: %v", r), nil)
			log.Error("task panicked",
				zap.String("client", task.ClientID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			d.metrics.ExecutionFailed(qerrors.CodePanic)
			d.reply(log, task, errorResponse(err))
			healthy = d.probe(ctx, sess)
		}
		if healthy {
			d.pool.Release(sess)
		} else {
			d.pool.Invalidate(sess)
		}
	}()

	outcome, err := d.exec.Execute(ctx, sess, task.Query)
	if err != nil {
		log.Warn("task failed",
			zap.String("client", task.ClientID),
			zap.Int("session", sess.ID()),
			zap.String("category", string(qerrors.GetCategory(err))),
			zap.Error(err))
		d.metrics.ExecutionFailed(qerrors.GetCode(err))
		d.reply(log, task, errorResponse(err))
		healthy = d.probe(ctx, sess)
		return
	}

	log.Debug("task served",
		zap.String("client", task.ClientID),
		zap.Int("priority", task.Priority),
		zap.String("source", string(outcome.Source)),
		zap.Int64("rows", outcome.Rows),
		zap.Float64("latency_s", outcome.LatencySec))
	d.reply(log, task, types.NewResponse(outcome))
}

// probe reports whether sess still answers a ping. The ping ignores
// cancellation of ctx, so tasks cut off by Stop keep their sessions.
func (d *Dispatcher) probe(ctx context.Context, sess *Session) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.pingTimeout)
	defer cancel()
	return sess.Ping(ctx) == nil
}

func (d *Dispatcher) reply(log *zap.Logger, task scheduler.Task, v interface{}) {
	if err := WriteReply(task.Conn, v); err != nil {
		log.Debug("reply not delivered", zap.String("client", task.ClientID), zap.Error(err))
	}
}

// WriteReply writes v as one JSON object followed by a newline.
func WriteReply(w io.Writer, v interface{}) error {
	if w == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

func errorResponse(err error) types.ErrorResponse {
	code := qerrors.GetCode(err)
	if code == "" {
		code = qerrors.CodeUnexpected
	}
	return types.ErrorResponse{Error: err.Error(), Code: code}
}
