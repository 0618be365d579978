// Package instrument measures the resource cost of running a query.
package instrument

import (
	"context"
	"time"

	"github.com/arkilian/qgate/pkg/types"
)

// RunFunc executes the measured work.
type RunFunc func(ctx context.Context) error

// Collector wraps a unit of work with resource sampling.
type Collector interface {
	// Measure runs fn and returns its three-phase usage and wall-clock latency.
	// An error from fn is returned unchanged, with zero usage.
	Measure(ctx context.Context, fn RunFunc) (types.Usage, time.Duration, error)
}

// NopCollector measures latency only.
type NopCollector struct{}

// Measure implements Collector.
func (NopCollector) Measure(ctx context.Context, fn RunFunc) (types.Usage, time.Duration, error) {
	start := time.Now()
	if err := fn(ctx); err != nil {
		return types.Usage{}, 0, err
	}
	return types.Usage{}, time.Since(start), nil
}
