package types

import (
	"testing"
	"time"
)

func TestThroughput(t *testing.T) {
	if got := Throughput(100, 2*time.Second); got != 50 {
		t.Errorf("Throughput(100, 2s) = %v, want 50", got)
	}
	if got := Throughput(100, 0); got != 0 {
		t.Errorf("Throughput with zero latency = %v, want 0", got)
	}
}

func TestCachedResult_OutcomeIsTaggedCache(t *testing.T) {
	o := Outcome{
		Usage:      Usage{CPU: Phase{Pre: 1, During: 2, Post: 3}},
		LatencySec: 0.5,
		Rows:       7,
		Throughput: 14,
		Source:     SourceDB,
	}

	cached := NewCachedResult(o, time.Unix(1700000000, 0))
	back := cached.Outcome()

	if back.Source != SourceCache {
		t.Fatalf("expected source %q, got %q", SourceCache, back.Source)
	}
	if back.Rows != o.Rows || back.LatencySec != o.LatencySec || back.Usage != o.Usage {
		t.Fatalf("cached outcome mismatch: %+v vs %+v", back, o)
	}
	if cached.GeneratedAt.Location() != time.UTC {
		t.Error("GeneratedAt should be UTC")
	}
}
