// Package report turns drained query outcomes into scenario summaries and
// writes them as a figure, a JSON document and a text table.
package report

import (
	"time"

	"github.com/arkilian/qgate/pkg/types"
)

// QueryPoint is one entry of the per-query series in a summary.
type QueryPoint struct {
	LatencySec    float64 `json:"latency_sec"`
	ThroughputRPS float64 `json:"throughput_rows_per_sec"`
	Rows          int64   `json:"rows"`
}

// Summary is the aggregate of one maintenance cycle.
type Summary struct {
	AvgLatencySec        float64      `json:"avg_latency_sec"`
	AvgThroughputRPS     float64      `json:"avg_throughput_rows_per_sec"`
	Queries              []QueryPoint `json:"queries"`
	AggregatedMetrics    types.Usage  `json:"aggregated_metrics"`
	CountCacheInScenario bool         `json:"count_cache_in_scenario"`

	// GeneratedAt names the artifacts; it is not serialized
	GeneratedAt time.Time `json:"-"`
}

// Aggregate builds a summary from ledger outcomes and the latencies the
// client measured on its side. The average latency comes from the client
// latencies, the average throughput from the outcomes. The per-query series
// pairs them positionally and is as long as the shorter of the two.
func Aggregate(outcomes []types.Outcome, latencies []float64, countInScenario bool) Summary {
	s := Summary{
		AvgLatencySec:        mean(latencies),
		CountCacheInScenario: countInScenario,
	}

	usages := make([]types.Usage, len(outcomes))
	throughputs := make([]float64, len(outcomes))
	for i, o := range outcomes {
		usages[i] = o.Usage
		throughputs[i] = o.Throughput
	}
	s.AvgThroughputRPS = mean(throughputs)
	s.AggregatedMetrics = AverageUsage(usages)

	n := len(latencies)
	if len(outcomes) < n {
		n = len(outcomes)
	}
	s.Queries = make([]QueryPoint, n)
	for i := 0; i < n; i++ {
		s.Queries[i] = QueryPoint{
			LatencySec:    latencies[i],
			ThroughputRPS: outcomes[i].Throughput,
			Rows:          outcomes[i].Rows,
		}
	}
	return s
}

// AverageUsage averages each metric phase-wise.
func AverageUsage(usages []types.Usage) types.Usage {
	if len(usages) == 0 {
		return types.Usage{}
	}
	var sum types.Usage
	for _, u := range usages {
		addPhase(&sum.CPU, u.CPU)
		addPhase(&sum.MemoryMB, u.MemoryMB)
		addPhase(&sum.Threads, u.Threads)
		addPhase(&sum.FDs, u.FDs)
		addPhase(&sum.NetKBps, u.NetKBps)
	}
	n := float64(len(usages))
	return types.Usage{
		CPU:      scalePhase(sum.CPU, n),
		MemoryMB: scalePhase(sum.MemoryMB, n),
		Threads:  scalePhase(sum.Threads, n),
		FDs:      scalePhase(sum.FDs, n),
		NetKBps:  scalePhase(sum.NetKBps, n),
	}
}

func addPhase(dst *types.Phase, p types.Phase) {
	dst.Pre += p.Pre
	dst.During += p.During
	dst.Post += p.Post
}

func scalePhase(p types.Phase, n float64) types.Phase {
	return types.Phase{Pre: p.Pre / n, During: p.During / n, Post: p.Post / n}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
