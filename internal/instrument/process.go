package instrument

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/config"
	"github.com/arkilian/qgate/pkg/types"
)

const bytesPerMB = 1024 * 1024

// ProcessCollector samples this process and the host with gopsutil.
//
// A measurement takes a pre snapshot and network rate, samples while the work
// runs, then waits PostSettle and takes the post snapshot and network rate.
// Probe failures are logged and read as zero; they never fail the work.
type ProcessCollector struct {
	proc   *process.Process
	cfg    config.InstrumentConfig
	logger *zap.Logger
}

// NewProcessCollector creates a collector for the current process.
func NewProcessCollector(cfg config.InstrumentConfig, logger *zap.Logger) (*ProcessCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessCollector{proc: proc, cfg: cfg, logger: logger.Named("instrument")}, nil
}

// Measure implements Collector.
func (c *ProcessCollector) Measure(ctx context.Context, fn RunFunc) (types.Usage, time.Duration, error) {
	pre := c.snapshot(ctx, c.cfg.SampleInterval)
	preNet := c.netRate(ctx, c.cfg.NetWindow)

	s := newSampler(c, c.cfg.SampleInterval)
	s.start(ctx)
	defer s.halt()
	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start)
	during := s.stop()
	if err != nil {
		return types.Usage{}, 0, err
	}

	if c.cfg.PostSettle > 0 {
		select {
		case <-time.After(c.cfg.PostSettle):
		case <-ctx.Done():
		}
	}
	post := c.snapshot(ctx, c.cfg.SampleInterval)
	postNet := c.netRate(ctx, c.cfg.NetWindow)

	usage := types.Usage{
		CPU:      types.Phase{Pre: pre.cpu, During: during.cpu, Post: post.cpu},
		MemoryMB: types.Phase{Pre: pre.memMB, During: during.memMB, Post: post.memMB},
		Threads:  types.Phase{Pre: pre.threads, During: during.threads, Post: post.threads},
		FDs:      types.Phase{Pre: pre.fds, During: during.fds, Post: post.fds},
		NetKBps:  types.Phase{Pre: preNet, During: during.netKBps, Post: postNet},
	}
	return usage, latency, nil
}

// reading is one point-in-time probe of the process.
type reading struct {
	cpu     float64
	memMB   float64
	threads float64
	fds     float64
	netKBps float64
}

// snapshot probes CPU over cpuWindow (0 compares against the previous call)
// along with memory, threads and descriptors.
func (c *ProcessCollector) snapshot(ctx context.Context, cpuWindow time.Duration) reading {
	var r reading

	if pct, err := cpu.PercentWithContext(ctx, cpuWindow, false); err == nil && len(pct) > 0 {
		r.cpu = pct[0]
	} else if err != nil {
		c.logger.Debug("cpu probe failed", zap.Error(err))
	}
	if mi, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
		r.memMB = float64(mi.RSS) / bytesPerMB
	} else {
		c.logger.Debug("memory probe failed", zap.Error(err))
	}
	if n, err := c.proc.NumThreadsWithContext(ctx); err == nil {
		r.threads = float64(n)
	}
	// Not every platform reports descriptors; treat as zero
	if n, err := c.proc.NumFDsWithContext(ctx); err == nil {
		r.fds = float64(n)
	}
	return r
}

// netBytes returns host-wide bytes sent plus received.
func (c *ProcessCollector) netBytes(ctx context.Context) uint64 {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		return 0
	}
	return counters[0].BytesSent + counters[0].BytesRecv
}

// netRate measures host network throughput in KB/s over window.
func (c *ProcessCollector) netRate(ctx context.Context, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	start := time.Now()
	v0 := c.netBytes(ctx)
	select {
	case <-time.After(window):
	case <-ctx.Done():
		return 0
	}
	v1 := c.netBytes(ctx)
	elapsed := time.Since(start).Seconds()
	if v1 < v0 || elapsed <= 0 {
		return 0
	}
	return float64(v1-v0) / elapsed / 1024
}

// sampler probes the process at a fixed interval while work runs.
type sampler struct {
	c        *ProcessCollector
	interval time.Duration

	mu      sync.Mutex
	samples []reading
	net     []uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newSampler(c *ProcessCollector, interval time.Duration) *sampler {
	return &sampler{
		c:        c,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *sampler) start(ctx context.Context) {
	go s.run(ctx)
}

func (s *sampler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		r := s.c.snapshot(ctx, 0)
		n := s.c.netBytes(ctx)

		s.mu.Lock()
		s.samples = append(s.samples, r)
		s.net = append(s.net, n)
		s.mu.Unlock()

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// halt ends the sampling goroutine and waits for it. Safe to call twice.
func (s *sampler) halt() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// stop halts sampling and returns averaged readings. The network rate is
// derived from the first and last counters over the sampled span.
func (s *sampler) stop() reading {
	s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.samples)
	if n == 0 {
		return reading{}
	}

	var avg reading
	for _, r := range s.samples {
		avg.cpu += r.cpu
		avg.memMB += r.memMB
		avg.threads += r.threads
		avg.fds += r.fds
	}
	avg.cpu /= float64(n)
	avg.memMB /= float64(n)
	avg.threads /= float64(n)
	avg.fds /= float64(n)

	if n >= 2 {
		span := float64(n-1) * s.interval.Seconds()
		first, last := s.net[0], s.net[n-1]
		if span > 0 && last > first {
			avg.netKBps = float64(last-first) / span / 1024
		}
	}
	return avg
}
