// Package scheduler holds pending query tasks and selects the next one to run
// using a priority-with-aging score.
package scheduler

import (
	"io"
	"time"
)

// Priority bounds for queued work. Priority 0 is the maintenance handshake and
// never becomes a task.
const (
	MinPriority = 1
	MaxPriority = 9
)

// Task is one client query waiting for a dispatcher worker. Tasks are
// immutable once enqueued.
type Task struct {
	// Conn receives the reply. Writes must be safe for concurrent use because
	// several workers may answer the same connection.
	Conn io.Writer

	// ClientID identifies the connection the task came from
	ClientID string

	// Priority is the declared urgency, 1-9
	Priority int

	// EnqueuedAt is when the handler accepted the query
	EnqueuedAt time.Time

	// Query is the raw query text
	Query string

	// seq orders tasks by arrival; assigned by the queue
	seq uint64
}

// Seq returns the arrival sequence number assigned by the queue.
func (t Task) Seq() uint64 {
	return t.seq
}

// Score is the aging-priority score priority × wait, in priority-seconds.
// It grows monotonically with wait time, so every task is eventually selected.
func Score(priority int, enqueuedAt, now time.Time) float64 {
	wait := now.Sub(enqueuedAt).Seconds()
	if wait < 0 {
		wait = 0
	}
	return float64(priority) * wait
}

// ClampPriority maps any integer into the queueable range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
