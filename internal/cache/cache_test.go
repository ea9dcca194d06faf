package cache

import (
	"testing"
	"time"
)

func newTestCache(size int, ttl time.Duration, now *time.Time) *LRUCache[int] {
	c := NewLRUCache[int](size, ttl)
	c.now = func() time.Time { return *now }
	return c
}

func TestLRUEviction(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCache(2, time.Minute, &now)

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.Set("c", 3) // evicts b, the least recently used

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should be cached", k)
		}
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestTTLAndCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCache(10, time.Minute, &now)

	c.Set("old", 1)
	now = now.Add(45 * time.Second)
	c.Set("new", 2)
	now = now.Add(30 * time.Second)

	if _, ok := c.Get("old"); ok {
		t.Error("old entry should have expired")
	}
	if v, ok := c.Get("new"); !ok || v != 2 {
		t.Errorf("Get(new) = %d, %v", v, ok)
	}

	c.Set("old", 1)
	now = now.Add(2 * time.Minute)
	m := NewManager()
	m.Register(c)
	if n := m.CleanNow(); n != 2 {
		t.Errorf("CleanNow() = %d, want 2", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d after cleanup", c.Size())
	}
}

func TestSetOverwritesAndDelete(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCache(2, time.Minute, &now)

	c.Set("k", 1)
	c.Set("k", 2)
	if v, _ := c.Get("k"); v != 2 {
		t.Errorf("Get(k) = %d, want 2", v)
	}
	c.Delete("k")
	c.Delete("missing")
	if _, ok := c.Get("k"); ok {
		t.Error("k should be deleted")
	}
}

func TestManagerStop(t *testing.T) {
	m := NewManager()
	m.Stop()
	m.Stop()

	m = NewManager()
	m.StartCleanup(time.Hour)
	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
