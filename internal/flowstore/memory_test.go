package flowstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryPutTake(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "flow-1", "pkce_verifier", "V", time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	v, ok, err := m.Take(ctx, "flow-1", "pkce_verifier")
	if err != nil || !ok {
		t.Fatalf("Take failed: ok=%v err=%v", ok, err)
	}
	if v != "V" {
		t.Errorf("Expected 'V', got '%s'", v)
	}

	if _, ok, _ := m.Take(ctx, "flow-1", "pkce_verifier"); ok {
		t.Error("Second Take should find nothing")
	}
}

func TestMemoryFlowsAreIsolated(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put(ctx, "tab-a", "pkce_verifier", "A", time.Minute)

	if _, ok, _ := m.Take(ctx, "tab-b", "pkce_verifier"); ok {
		t.Error("Another flow must not see tab-a's verifier")
	}
}

func TestMemoryClear(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put(ctx, "flow-1", "pkce_verifier", "V", time.Minute)
	m.Put(ctx, "flow-1", "other", "X", time.Minute)

	if err := m.Clear(ctx, "flow-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := m.Take(ctx, "flow-1", "other"); ok {
		t.Error("Clear should remove every key of the flow")
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Put(ctx, "flow-1", "pkce_verifier", "V", time.Minute)
	m.Put(ctx, "flow-2", "pkce_verifier", "W", time.Hour)

	now = now.Add(2 * time.Minute)

	if _, ok, _ := m.Take(ctx, "flow-1", "pkce_verifier"); ok {
		t.Error("Expired value should not be returned")
	}
	if removed := m.Sweep(); removed != 0 {
		t.Errorf("flow-1 was already dropped on lookup, expected 0 swept, got %d", removed)
	}

	now = now.Add(2 * time.Hour)
	if removed := m.Sweep(); removed != 1 {
		t.Errorf("Expected 1 swept flow, got %d", removed)
	}
}

func TestMemoryConcurrentTakeSingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Put(ctx, "flow-1", "pkce_verifier", "V", time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.Take(ctx, "flow-1", "pkce_verifier"); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one Take to win, got %d", winners)
	}
}
