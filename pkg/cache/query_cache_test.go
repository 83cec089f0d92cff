package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock drives TTL expiry without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedCache(maxSize int, ttl time.Duration) (*QueryCache[string], *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewQueryCache[string](maxSize, ttl)
	c.now = clock.now
	return c, clock
}

// =============================================================================
// NewQueryCache Tests
// =============================================================================

func TestNewQueryCache(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		cache := NewQueryCache[string](100, 5*time.Minute)

		if cache.maxSize != 100 {
			t.Errorf("maxSize = %d, want 100", cache.maxSize)
		}
		if cache.ttl != 5*time.Minute {
			t.Errorf("ttl = %v, want 5m", cache.ttl)
		}
	})

	t.Run("non-positive maxSize uses default", func(t *testing.T) {
		for _, size := range []int{0, -10} {
			if got := NewQueryCache[int](size, time.Minute).maxSize; got != 1000 {
				t.Errorf("maxSize(%d) = %d, want 1000 (default)", size, got)
			}
		}
	})
}

// =============================================================================
// Get/Put Tests
// =============================================================================

func TestQueryCache_GetPut(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		cache := NewQueryCache[string](100, time.Minute)
		cache.Put("MATCH (n) RETURN n", "plan1")

		val, ok := cache.Get("MATCH (n) RETURN n")
		if !ok {
			t.Fatal("Get returned false for existing key")
		}
		if val != "plan1" {
			t.Errorf("Get returned %v, want plan1", val)
		}
	})

	t.Run("get non-existent key", func(t *testing.T) {
		cache := NewQueryCache[*int](100, time.Minute)

		val, ok := cache.Get("missing")
		if ok {
			t.Error("Get returned true for non-existent key")
		}
		if val != nil {
			t.Errorf("Get returned %v for non-existent key, want nil", val)
		}
	})

	t.Run("update existing key", func(t *testing.T) {
		cache := NewQueryCache[string](100, time.Minute)

		cache.Put("query", "plan1")
		cache.Put("query", "plan2")

		val, _ := cache.Get("query")
		if val != "plan2" {
			t.Errorf("Get returned %v, want plan2", val)
		}
		if cache.Len() != 1 {
			t.Errorf("Len = %d, want 1", cache.Len())
		}
	})

	t.Run("similar keys do not collide", func(t *testing.T) {
		cache := NewQueryCache[string](100, 0)
		cache.Put("RETURN 1", "one")
		cache.Put("RETURN 1 ", "one-space")

		if val, _ := cache.Get("RETURN 1"); val != "one" {
			t.Errorf("Get returned %v, want one", val)
		}
	})
}

// =============================================================================
// TTL Tests
// =============================================================================

func TestQueryCache_TTL(t *testing.T) {
	t.Run("entry expires after TTL", func(t *testing.T) {
		cache, clock := newClockedCache(100, time.Minute)
		cache.Put("query", "plan")

		if _, ok := cache.Get("query"); !ok {
			t.Error("entry should exist before TTL")
		}

		clock.advance(time.Minute + time.Second)

		if _, ok := cache.Get("query"); ok {
			t.Error("entry should be expired after TTL")
		}
		if cache.Len() != 0 {
			t.Errorf("expired entry should be dropped, Len = %d", cache.Len())
		}
	})

	t.Run("zero TTL means no expiration", func(t *testing.T) {
		cache, clock := newClockedCache(100, 0)
		cache.Put("query", "plan")

		clock.advance(24 * time.Hour)

		if _, ok := cache.Get("query"); !ok {
			t.Error("entry should not expire with zero TTL")
		}
	})

	t.Run("update refreshes TTL", func(t *testing.T) {
		cache, clock := newClockedCache(100, time.Minute)

		cache.Put("query", "plan1")
		clock.advance(40 * time.Second)
		cache.Put("query", "plan2")
		clock.advance(40 * time.Second)

		if _, ok := cache.Get("query"); !ok {
			t.Error("entry should exist after TTL refresh")
		}
	})
}

// =============================================================================
// LRU Eviction Tests
// =============================================================================

func TestQueryCache_LRUEviction(t *testing.T) {
	t.Run("evicts oldest when full", func(t *testing.T) {
		cache := NewQueryCache[string](3, time.Hour)

		cache.Put("q1", "plan1")
		cache.Put("q2", "plan2")
		cache.Put("q3", "plan3")
		cache.Put("q4", "plan4")

		if cache.Len() != 3 {
			t.Errorf("Len = %d, want 3", cache.Len())
		}
		if _, ok := cache.Get("q1"); ok {
			t.Error("q1 should have been evicted")
		}
		if _, ok := cache.Get("q4"); !ok {
			t.Error("q4 should exist")
		}
	})

	t.Run("access promotes entry", func(t *testing.T) {
		cache := NewQueryCache[string](3, time.Hour)

		cache.Put("q1", "plan1")
		cache.Put("q2", "plan2")
		cache.Put("q3", "plan3")
		cache.Get("q1")
		cache.Put("q4", "plan4")

		if _, ok := cache.Get("q1"); !ok {
			t.Error("q1 should still exist (was accessed)")
		}
		if _, ok := cache.Get("q2"); ok {
			t.Error("q2 should have been evicted")
		}
	})
}

// =============================================================================
// Remove and Clear Tests
// =============================================================================

func TestQueryCache_Remove(t *testing.T) {
	cache := NewQueryCache[string](100, time.Hour)

	cache.Put("q1", "plan1")
	cache.Put("q2", "plan2")
	cache.Remove("q1")
	cache.Remove("never-added")

	if _, ok := cache.Get("q1"); ok {
		t.Error("removed key should not exist")
	}
	if _, ok := cache.Get("q2"); !ok {
		t.Error("other key should still exist")
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}

func TestQueryCache_Clear(t *testing.T) {
	cache := NewQueryCache[string](100, time.Hour)

	cache.Put("q1", "plan1")
	cache.Put("q2", "plan2")
	cache.Get("q1")
	cache.Clear()

	if cache.Len() != 0 {
		t.Errorf("Len = %d after clear, want 0", cache.Len())
	}
	if cache.Stats().Hits != 1 {
		t.Error("Clear should keep statistics")
	}
}

// =============================================================================
// Statistics Tests
// =============================================================================

func TestQueryCache_Stats(t *testing.T) {
	cache := NewQueryCache[string](100, time.Hour)

	cache.Put("q1", "plan1")
	cache.Put("q2", "plan2")

	cache.Get("q1")
	cache.Get("q2")
	cache.Get("missing-1")
	cache.Get("missing-2")

	stats := cache.Stats()
	if stats.Size != 2 {
		t.Errorf("Size = %d, want 2", stats.Size)
	}
	if stats.MaxSize != 100 {
		t.Errorf("MaxSize = %d, want 100", stats.MaxSize)
	}
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("Hits/Misses = %d/%d, want 2/2", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 50.0 {
		t.Errorf("HitRate = %.2f, want 50.00", stats.HitRate)
	}
}

func TestQueryCache_StatsZeroTotal(t *testing.T) {
	if rate := NewQueryCache[string](100, time.Hour).Stats().HitRate; rate != 0 {
		t.Errorf("HitRate = %.2f with no operations, want 0", rate)
	}
}

// =============================================================================
// Concurrent Access Tests
// =============================================================================

func TestQueryCache_ConcurrentEviction(t *testing.T) {
	cache := NewQueryCache[int](10, time.Hour) // Small cache to force evictions

	const goroutines = 50
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				key := fmt.Sprintf("RETURN %d", id*iterations+j)
				cache.Put(key, j)
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() > 10 {
		t.Errorf("Len = %d, should not exceed maxSize 10", cache.Len())
	}
	if stats := cache.Stats(); stats.Hits+stats.Misses != goroutines*iterations {
		t.Errorf("lookups = %d, want %d", stats.Hits+stats.Misses, goroutines*iterations)
	}
}
