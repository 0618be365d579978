package instrument

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/arkilian/qgate/internal/config"
)

func TestNopCollector_MeasuresLatency(t *testing.T) {
	var c Collector = NopCollector{}

	usage, latency, err := c.Measure(context.Background(), func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if latency < 10*time.Millisecond {
		t.Errorf("latency %v shorter than the work", latency)
	}
	if usage.MemoryMB.Pre != 0 || usage.CPU.During != 0 {
		t.Errorf("nop collector should report zero usage, got %+v", usage)
	}
}

func TestNopCollector_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	_, _, err := NopCollector{}.Measure(context.Background(), func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected run error, got %v", err)
	}
}

func TestProcessCollector_ReportsProcessUsage(t *testing.T) {
	c, err := NewProcessCollector(config.InstrumentConfig{
		Enabled:        true,
		SampleInterval: 5 * time.Millisecond,
		NetWindow:      5 * time.Millisecond,
		PostSettle:     time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewProcessCollector: %v", err)
	}

	usage, latency, err := c.Measure(context.Background(), func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if latency < 30*time.Millisecond {
		t.Errorf("latency %v shorter than the work", latency)
	}
	if usage.MemoryMB.Pre <= 0 || usage.MemoryMB.During <= 0 || usage.MemoryMB.Post <= 0 {
		t.Errorf("expected positive RSS in every phase, got %+v", usage.MemoryMB)
	}
	if usage.Threads.Pre < 1 {
		t.Errorf("expected at least one thread, got %+v", usage.Threads)
	}
	if usage.NetKBps.Pre < 0 || usage.NetKBps.During < 0 {
		t.Errorf("network rate must not be negative, got %+v", usage.NetKBps)
	}
}

func TestProcessCollector_ErrorSkipsPostPhase(t *testing.T) {
	c, err := NewProcessCollector(config.InstrumentConfig{
		SampleInterval: 5 * time.Millisecond,
		PostSettle:     time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("NewProcessCollector: %v", err)
	}

	want := errors.New("query failed")
	done := make(chan error, 1)
	go func() {
		_, _, err := c.Measure(context.Background(), func(ctx context.Context) error { return want })
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, want) {
			t.Fatalf("expected run error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failed run should not wait for the post phase")
	}
}

func TestProcessCollector_PanicStopsSampler(t *testing.T) {
	c, err := NewProcessCollector(config.InstrumentConfig{
		SampleInterval: 5 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewProcessCollector: %v", err)
	}

	before := runtime.NumGoroutine()
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected the panic to propagate")
			}
		}()
		c.Measure(context.Background(), func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			panic("boom")
		})
	}()

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("sampler still running after panic: %d goroutines, started with %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
