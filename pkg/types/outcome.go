// Package types provides core data types shared across qgate packages.
package types

import "time"

// Source tags where a query result came from.
type Source string

const (
	SourceDB    Source = "db"
	SourceCache Source = "cache"
)

// Phase holds one resource reading taken before, during, and after a query.
type Phase struct {
	Pre    float64 `json:"pre"`
	During float64 `json:"during"`
	Post   float64 `json:"post"`
}

// Usage is the three-phase resource profile of a single query execution.
type Usage struct {
	// CPU is system-wide utilization in percent
	CPU Phase `json:"cpu"`

	// MemoryMB is the resident set size of this process in megabytes
	MemoryMB Phase `json:"memory_mb"`

	// Threads is the OS thread count of this process
	Threads Phase `json:"threads"`

	// FDs is the number of open file descriptors of this process
	FDs Phase `json:"fds"`

	// NetKBps is host network throughput (sent + received) in KB/s
	NetKBps Phase `json:"net_kbps"`
}

// Outcome is the result of one completed task. The same type carries both
// real executions and cache hits; Source discriminates them.
type Outcome struct {
	Usage      Usage   `json:"metrics"`
	LatencySec float64 `json:"latency_s"`
	Rows       int64   `json:"rows"`
	Throughput float64 `json:"throughput"`
	Source     Source  `json:"source"`
}

// Throughput computes rows per second, defined as zero for a zero latency.
func Throughput(rows int64, latency time.Duration) float64 {
	sec := latency.Seconds()
	if sec <= 0 {
		return 0
	}
	return float64(rows) / sec
}

// CachedResult is the payload stored in the query cache.
type CachedResult struct {
	Usage       Usage     `json:"metrics"`
	LatencySec  float64   `json:"latency_s"`
	Rows        int64     `json:"rows"`
	Throughput  float64   `json:"throughput"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewCachedResult captures a database outcome for storage in the cache.
func NewCachedResult(o Outcome, now time.Time) CachedResult {
	return CachedResult{
		Usage:       o.Usage,
		LatencySec:  o.LatencySec,
		Rows:        o.Rows,
		Throughput:  o.Throughput,
		GeneratedAt: now.UTC(),
	}
}

// Outcome converts a cached payload back into an outcome tagged as a cache hit.
func (c CachedResult) Outcome() Outcome {
	return Outcome{
		Usage:      c.Usage,
		LatencySec: c.LatencySec,
		Rows:       c.Rows,
		Throughput: c.Throughput,
		Source:     SourceCache,
	}
}

// Response is the per-query reply written to a streaming client.
type Response struct {
	LatencySec float64 `json:"latency_s"`
	Rows       int64   `json:"rows"`
	Throughput float64 `json:"throughput"`
	Source     Source  `json:"source"`
	Metrics    Usage   `json:"metrics"`
}

// ErrorResponse is written instead of a Response when a task fails.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NewResponse builds the wire reply for an outcome.
func NewResponse(o Outcome) Response {
	return Response{
		LatencySec: o.LatencySec,
		Rows:       o.Rows,
		Throughput: o.Throughput,
		Source:     o.Source,
		Metrics:    o.Usage,
	}
}
