package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arkilian/qgate/internal/config"
	"github.com/arkilian/qgate/pkg/types"
)

// flakyBackend is a primary backend whose availability the test controls.
type flakyBackend struct {
	mu    sync.Mutex
	data  map[string][]byte
	down  bool
	calls int
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{data: make(map[string][]byte)}
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return nil, false, errors.New("connection refused")
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *flakyBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errors.New("connection refused")
	}
	f.data[key] = value
	return nil
}

func (f *flakyBackend) Close() error { return nil }

func (f *flakyBackend) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sampleResult() types.CachedResult {
	return types.CachedResult{
		Usage:       types.Usage{CPU: types.Phase{Pre: 1, During: 2, Post: 3}},
		LatencySec:  0.25,
		Rows:        42,
		Throughput:  168,
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestQueryCache_StoreAndLookup(t *testing.T) {
	c := New(nil, NewMemoryBackend(0), Options{TTL: time.Minute})
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, "SELECT 1"); ok {
		t.Fatal("expected initial miss")
	}

	c.Store(ctx, "SELECT 1", sampleResult())
	got, ok := c.Lookup(ctx, "  SELECT 1 ;")
	if !ok {
		t.Fatal("expected hit for equivalent query text")
	}
	if got.Rows != 42 || got.LatencySec != 0.25 || !got.GeneratedAt.Equal(sampleResult().GeneratedAt) {
		t.Fatalf("unexpected cached result: %+v", got)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Backend != "memory" {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestQueryCache_PrimaryFaultFallsThrough(t *testing.T) {
	primary := newFlakyBackend()
	c := New(primary, NewMemoryBackend(0), Options{TTL: time.Minute, RetryInterval: time.Minute})
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	primary.setDown(true)
	c.Store(ctx, "SELECT 1", sampleResult())

	if _, ok := c.Lookup(ctx, "SELECT 1"); !ok {
		t.Fatal("expected hit from memory fallback while primary is down")
	}
	if !c.Stats().PrimaryDown {
		t.Fatal("expected primary to be marked down")
	}

	// Inside the retry interval the primary is not contacted
	before := primary.callCount()
	c.Lookup(ctx, "SELECT 1")
	if primary.callCount() != before {
		t.Fatal("primary contacted inside its retry interval")
	}

	// After the interval it is tried again
	primary.setDown(false)
	now = now.Add(2 * time.Minute)
	c.Store(ctx, "SELECT 2", sampleResult())
	if primary.callCount() == before {
		t.Fatal("primary not retried after interval")
	}
	if c.Stats().PrimaryDown {
		t.Fatal("primary should be back in use")
	}
}

func TestQueryCache_CorruptPayloadIsMiss(t *testing.T) {
	mem := NewMemoryBackend(0)
	c := New(nil, mem, Options{TTL: time.Minute})
	ctx := context.Background()

	_ = mem.Set(ctx, Fingerprint("SELECT 1"), []byte("not snappy"), time.Minute)
	if _, ok := c.Lookup(ctx, "SELECT 1"); ok {
		t.Fatal("corrupt payload should read as a miss")
	}
	if c.Stats().Errors != 1 {
		t.Fatalf("expected one recorded error, got %+v", c.Stats())
	}
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	mem := NewMemoryBackend(0)
	now := time.Unix(1700000000, 0)
	mem.now = func() time.Time { return now }
	c := New(nil, mem, Options{TTL: 5 * time.Second})
	ctx := context.Background()

	c.Store(ctx, "SELECT 1", sampleResult())
	now = now.Add(4 * time.Second)
	if _, ok := c.Lookup(ctx, "SELECT 1"); !ok {
		t.Fatal("expected hit inside TTL")
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.Lookup(ctx, "SELECT 1"); ok {
		t.Fatal("expected miss after TTL")
	}
}

func TestEncodeDecode(t *testing.T) {
	payload, err := Encode(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.Rows != 42 || got.Usage.CPU.Post != 3 {
		t.Fatalf("unexpected decode: %+v", got)
	}
	if _, err := Decode([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOpen_UnreachableRedisUsesMemory(t *testing.T) {
	cfg := config.CacheConfig{
		Enabled:    true,
		Redis:      config.RedisConfig{Host: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond},
		TTLSeconds: 60,
	}
	c := Open(context.Background(), cfg, nil, nil)
	defer c.Close()

	if c.primary != nil {
		t.Fatal("expected memory-only cache when redis is unreachable")
	}
	c.Store(context.Background(), "SELECT 1", sampleResult())
	if _, ok := c.Lookup(context.Background(), "SELECT 1"); !ok {
		t.Fatal("memory cache should serve hits")
	}
}

func TestOpen_Disabled(t *testing.T) {
	c := Open(context.Background(), config.CacheConfig{TTLSeconds: 1}, nil, nil)
	if c.primary != nil || c.TTL() != time.Second {
		t.Fatalf("unexpected cache: primary=%v ttl=%v", c.primary, c.TTL())
	}
}
