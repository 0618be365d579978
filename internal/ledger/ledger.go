// Package ledger accumulates query outcomes between maintenance cycles.
package ledger

import (
	"sync"

	"github.com/arkilian/qgate/pkg/types"
)

// Ledger is an append-only list of outcomes that maintenance drains.
type Ledger struct {
	mu      sync.Mutex
	entries []types.Outcome
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append records one outcome.
func (l *Ledger) Append(o types.Outcome) {
	l.mu.Lock()
	l.entries = append(l.entries, o)
	l.mu.Unlock()
}

// Drain returns every recorded outcome and leaves the ledger empty. Appends
// racing with Drain land either in the returned slice or in the next cycle,
// never both.
func (l *Ledger) Drain() []types.Outcome {
	l.mu.Lock()
	out := l.entries
	l.entries = nil
	l.mu.Unlock()
	return out
}

// Len returns the number of outcomes recorded since the last Drain.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Counts returns the number of pending outcomes per source.
func (l *Ledger) Counts() map[types.Source]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[types.Source]int, 2)
	for _, o := range l.entries {
		counts[o.Source]++
	}
	return counts
}
