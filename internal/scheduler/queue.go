package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/arkilian/qgate/internal/observability"
)

// TaskQueue is an unbounded, mutex-guarded collection of pending tasks.
//
// Selection scans every pending task and removes the one with the highest
// aging score; the scan is O(n) in queue depth, which holds up while queues
// stay shallow. Idle workers block in Wait instead of polling.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []Task
	seq   uint64

	// ready is closed and replaced whenever a task arrives, waking all waiters
	ready chan struct{}

	now     func() time.Time
	metrics *observability.Metrics
}

// QueueOption configures a TaskQueue.
type QueueOption func(*TaskQueue)

// WithClock overrides the time source used for enqueue stamps and scoring.
func WithClock(now func() time.Time) QueueOption {
	return func(q *TaskQueue) { q.now = now }
}

// WithMetrics reports queue depth and wait times.
func WithMetrics(m *observability.Metrics) QueueOption {
	return func(q *TaskQueue) { q.metrics = m }
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue(opts ...QueueOption) *TaskQueue {
	q := &TaskQueue{
		ready: make(chan struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Now returns the queue's current time.
func (q *TaskQueue) Now() time.Time {
	return q.now()
}

// Enqueue appends a task and wakes waiting workers. A zero EnqueuedAt is
// stamped with the queue clock.
func (q *TaskQueue) Enqueue(t Task) {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.now()
	}
	t.Priority = ClampPriority(t.Priority)

	q.mu.Lock()
	q.seq++
	t.seq = q.seq
	q.tasks = append(q.tasks, t)
	depth := len(q.tasks)
	close(q.ready)
	q.ready = make(chan struct{})
	q.mu.Unlock()

	q.metrics.TaskEnqueued(t.Priority, depth)
}

// SelectAndRemove removes and returns the task with the maximum score.
// Ties go to the earliest-enqueued task. ok is false when the queue is empty.
func (q *TaskQueue) SelectAndRemove() (t Task, ok bool) {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return Task{}, false
	}

	now := q.now()
	best := 0
	bestScore := Score(q.tasks[0].Priority, q.tasks[0].EnqueuedAt, now)
	for i := 1; i < len(q.tasks); i++ {
		// Strict comparison keeps the first maximum, which is the oldest
		if s := Score(q.tasks[i].Priority, q.tasks[i].EnqueuedAt, now); s > bestScore {
			best, bestScore = i, s
		}
	}

	t = q.tasks[best]
	copy(q.tasks[best:], q.tasks[best+1:])
	q.tasks[len(q.tasks)-1] = Task{}
	q.tasks = q.tasks[:len(q.tasks)-1]
	depth := len(q.tasks)
	q.mu.Unlock()

	q.metrics.TaskSelected(now.Sub(t.EnqueuedAt), depth)
	return t, true
}

// Wait blocks until the queue is non-empty, maxWait elapses, or ctx is done.
// maxWait <= 0 waits without a bound.
func (q *TaskQueue) Wait(ctx context.Context, maxWait time.Duration) error {
	q.mu.Lock()
	if len(q.tasks) > 0 {
		q.mu.Unlock()
		return nil
	}
	ready := q.ready
	q.mu.Unlock()

	var timeout <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ready:
		return nil
	case <-timeout:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// PendingTask is a read-only view of a queued task.
type PendingTask struct {
	ClientID   string    `json:"client_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Score      float64   `json:"score"`
}

// Snapshot returns the pending tasks with their current scores, in arrival order.
func (q *TaskQueue) Snapshot() []PendingTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	out := make([]PendingTask, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = PendingTask{
			ClientID:   t.ClientID,
			Priority:   t.Priority,
			EnqueuedAt: t.EnqueuedAt,
			Score:      Score(t.Priority, t.EnqueuedAt, now),
		}
	}
	return out
}
