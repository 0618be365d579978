package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryBackend_ExpiresOnRead(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemoryBackend(0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), 10*time.Second); err != nil {
		t.Fatal(err)
	}

	now = now.Add(9 * time.Second)
	if v, ok, _ := m.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("expected hit before expiry, got %q %v", v, ok)
	}

	// Visible only while now < insertion + TTL
	now = now.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected miss at expiry instant")
	}
	if m.Len() != 0 {
		t.Fatalf("expired entry should be removed on read, len=%d", m.Len())
	}
}

func TestMemoryBackend_NoBackgroundSweep(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemoryBackend(0)
	m.now = func() time.Time { return now }

	_ = m.Set(context.Background(), "k", []byte("v"), time.Second)
	now = now.Add(time.Hour)

	if m.Len() != 1 {
		t.Fatalf("expired entry should stay until read, len=%d", m.Len())
	}
}

func TestMemoryBackend_EvictsLRU(t *testing.T) {
	m := NewMemoryBackend(2)
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), time.Minute)
	_ = m.Set(ctx, "b", []byte("2"), time.Minute)
	// Touch a so b becomes least recently used
	_, _, _ = m.Get(ctx, "a")
	_ = m.Set(ctx, "c", []byte("3"), time.Minute)

	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Error("expected a to survive")
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", m.Len())
	}
}

func TestMemoryBackend_OverwriteAndDelete(t *testing.T) {
	m := NewMemoryBackend(0)
	ctx := context.Background()

	_ = m.Set(ctx, "k", []byte("old"), time.Minute)
	_ = m.Set(ctx, "k", []byte("new"), time.Minute)
	if v, _, _ := m.Get(ctx, "k"); string(v) != "new" {
		t.Fatalf("expected overwrite, got %q", v)
	}

	_ = m.Set(ctx, "k", nil, 0)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("zero ttl should delete the key")
	}
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	m := NewMemoryBackend(64)
	ctx := context.Background()
	done := make(chan struct{})

	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (w*500+i)%100)
				_ = m.Set(ctx, key, []byte("v"), time.Minute)
				_, _, _ = m.Get(ctx, key)
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}
	if m.Len() > 64 {
		t.Fatalf("bound exceeded: %d", m.Len())
	}
}
