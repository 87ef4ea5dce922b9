package pool

import (
	"testing"
	"time"
)

func TestLRUPrefersZeroPending(t *testing.T) {
	p := New(8, 0)
	now := time.Now()

	p.Insert("a", &Instance{Venv: "a", LastUsed: now.Add(-10 * time.Minute)})
	p.Insert("b", &Instance{Venv: "b", LastUsed: now.Add(-5 * time.Minute)})

	pending := map[string]int{"a": 3, "b": 0}
	got, ok := p.LRU(func(venv string, session uint64) int { return pending[venv] })
	if !ok {
		t.Fatal("LRU() found nothing")
	}
	if got != "b" {
		t.Fatalf("LRU() = %q, want %q (oldest with zero pending)", got, "b")
	}
}

func TestLRUFallsBackToGlobalWhenAllPending(t *testing.T) {
	p := New(8, 0)
	now := time.Now()

	p.Insert("a", &Instance{Venv: "a", LastUsed: now.Add(-10 * time.Minute)})
	p.Insert("b", &Instance{Venv: "b", LastUsed: now.Add(-5 * time.Minute)})

	got, ok := p.LRU(func(venv string, session uint64) int { return 1 })
	if !ok {
		t.Fatal("LRU() found nothing")
	}
	if got != "a" {
		t.Fatalf("LRU() = %q, want %q (oldest overall)", got, "a")
	}
}

func TestLRUOnEmptyPool(t *testing.T) {
	p := New(8, 0)
	if _, ok := p.LRU(func(string, uint64) int { return 0 }); ok {
		t.Fatal("LRU() on empty pool reported found=true")
	}
}

func TestExpiredHonorsTTL(t *testing.T) {
	p := New(8, time.Minute)
	now := time.Now()

	p.Insert("stale", &Instance{Venv: "stale", LastUsed: now.Add(-2 * time.Minute)})
	p.Insert("fresh", &Instance{Venv: "fresh", LastUsed: now.Add(-10 * time.Second)})

	expired := p.Expired()
	if len(expired) != 1 || expired[0] != "stale" {
		t.Fatalf("Expired() = %v, want [stale]", expired)
	}
}

func TestExpiredDisabledWhenTTLZero(t *testing.T) {
	p := New(8, 0)
	p.Insert("old", &Instance{Venv: "old", LastUsed: time.Now().Add(-24 * time.Hour)})

	if expired := p.Expired(); expired != nil {
		t.Fatalf("Expired() = %v, want nil with TTL disabled", expired)
	}
}

func TestNextSessionIsMonotonic(t *testing.T) {
	p := New(8, 0)
	var prev uint64
	for i := 0; i < 5; i++ {
		s := p.NextSession()
		if s <= prev {
			t.Fatalf("NextSession() = %d, not greater than previous %d", s, prev)
		}
		prev = s
	}
}

func TestIsFullRespectsCapacity(t *testing.T) {
	p := New(2, 0)
	p.Insert("a", &Instance{Venv: "a"})
	if p.IsFull() {
		t.Fatal("IsFull() = true with 1/2 backends")
	}
	p.Insert("b", &Instance{Venv: "b"})
	if !p.IsFull() {
		t.Fatal("IsFull() = false with 2/2 backends")
	}
}

func TestRemoveAndContains(t *testing.T) {
	p := New(8, 0)
	p.Insert("a", &Instance{Venv: "a"})
	if !p.Contains("a") {
		t.Fatal("Contains(a) = false after Insert")
	}
	if _, ok := p.Remove("a"); !ok {
		t.Fatal("Remove(a) reported not found")
	}
	if p.Contains("a") {
		t.Fatal("Contains(a) = true after Remove")
	}
	if _, ok := p.Remove("a"); ok {
		t.Fatal("Remove(a) reported found on second removal")
	}
}
