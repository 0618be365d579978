// Package observability provides logging, Prometheus metrics, and per-query
// statistics for the qgate serving pipeline.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/qgate/pkg/types"
)

// QueryStats tracks how often each query fingerprint is served and from where.
type QueryStats struct {
	mu      sync.RWMutex
	queries map[string]*FingerprintStats
	window  time.Duration
}

// FingerprintStats holds statistics for one normalized query.
type FingerprintStats struct {
	Fingerprint string                 `json:"fingerprint"`
	Query       string                 `json:"query"`
	Frequency   int64                  `json:"frequency"`
	LastSeen    time.Time              `json:"last_seen"`
	Sources     map[types.Source]int64 `json:"sources"`
}

// NewQueryStats creates a new query statistics tracker.
// window: entries not seen for longer than this are dropped by Prune
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		queries: make(map[string]*FingerprintStats),
		window:  window,
	}
}

// Record counts one served query. O(1), safe for concurrent use.
func (q *QueryStats) Record(fingerprint, normalized string, source types.Source) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.queries[fingerprint]
	if !exists {
		stats = &FingerprintStats{
			Fingerprint: fingerprint,
			Query:       normalized,
			Sources:     make(map[types.Source]int64),
		}
		q.queries[fingerprint] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Sources[source]++
}

// Top returns copies of the n most frequent fingerprints, most frequent first.
func (q *QueryStats) Top(n int) []FingerprintStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.queries) == 0 {
		return []FingerprintStats{}
	}

	out := make([]FingerprintStats, 0, len(q.queries))
	for _, s := range q.queries {
		cp := *s
		cp.Sources = make(map[types.Source]int64, len(s.Sources))
		for src, count := range s.Sources {
			cp.Sources[src] = count
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Len returns the number of tracked fingerprints.
func (q *QueryStats) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queries)
}

// Prune removes entries where time.Since(LastSeen) > window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for fp, stats := range q.queries {
		if stats.LastSeen.Before(threshold) {
			delete(q.queries, fp)
		}
	}
}
