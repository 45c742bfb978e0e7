package cache

import (
	"reflect"
	"testing"
)

func TestLRUAddGet(t *testing.T) {
	c := NewLRU[string, int](0, nil)

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}

	c.Add("a", 1)
	c.Add("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("expected a=1, got %d (ok=%v)", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("expected len 2, got %d", c.Len())
	}

	prev, replaced := c.Add("a", 10)
	if !replaced || prev != 1 {
		t.Errorf("expected replace of 1, got %d (replaced=%v)", prev, replaced)
	}
	if v, _ := c.Peek("a"); v != 10 {
		t.Errorf("expected a=10 after replace, got %d", v)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := NewLRU[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })

	c.Add("A", 1)
	c.Add("B", 2)
	c.Add("C", 3)

	if !reflect.DeepEqual(evicted, []string{"A"}) {
		t.Errorf("expected [A] evicted, got %v", evicted)
	}
	if c.Contains("A") {
		t.Error("A should have been evicted")
	}
	if !c.Contains("B") || !c.Contains("C") {
		t.Error("B and C should remain")
	}
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	var evicted []string
	c := NewLRU[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })

	c.Add("A", 1)
	c.Add("B", 2)
	c.Get("A")
	c.Add("C", 3)

	if !reflect.DeepEqual(evicted, []string{"B"}) {
		t.Errorf("expected [B] evicted, got %v", evicted)
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"C", "A"}) {
		t.Errorf("expected order [C A], got %v", got)
	}
}

func TestLRUPeekDoesNotRefresh(t *testing.T) {
	c := NewLRU[int, int](2, nil)
	c.Add(1, 1)
	c.Add(2, 2)
	c.Peek(1)
	c.Add(3, 3)
	if c.Contains(1) {
		t.Error("Peek must not refresh recency")
	}
}

func TestLRURemoveAndClear(t *testing.T) {
	calls := 0
	c := NewLRU[int, string](0, func(int, string) { calls++ })
	c.Add(1, "one")
	c.Add(2, "two")
	c.Add(3, "three")

	if v, ok := c.Remove(2); !ok || v != "two" {
		t.Errorf("expected to remove two, got %q (ok=%v)", v, ok)
	}
	if _, ok := c.Remove(2); ok {
		t.Error("second Remove should report missing")
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []int{3, 1}) {
		t.Errorf("expected keys [3 1], got %v", got)
	}

	c.Clear()
	if c.Len() != 0 || len(c.Keys()) != 0 {
		t.Errorf("expected empty cache after Clear, got len %d", c.Len())
	}
	if calls != 0 {
		t.Errorf("Remove and Clear must not call onEvict, got %d calls", calls)
	}

	c.Add(4, "four")
	if k, ok := c.Oldest(); !ok || k != 4 {
		t.Errorf("expected oldest 4 after reuse, got %d", k)
	}
}

func TestLRUResize(t *testing.T) {
	var evicted []int
	c := NewLRU[int, int](0, func(k, _ int) { evicted = append(evicted, k) })
	for i := range 5 {
		c.Add(i, i)
	}
	c.Resize(2)
	if !reflect.DeepEqual(evicted, []int{0, 1, 2}) {
		t.Errorf("expected [0 1 2] evicted, got %v", evicted)
	}
	if c.Capacity() != 2 || c.Len() != 2 {
		t.Errorf("expected capacity 2 len 2, got %d/%d", c.Capacity(), c.Len())
	}
	if got := c.Values(); !reflect.DeepEqual(got, []int{4, 3}) {
		t.Errorf("expected values [4 3], got %v", got)
	}
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[int, int](1, nil)
	c.Add(1, 1)
	c.Get(1)
	c.Get(2)
	c.Add(2, 2)

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Evictions != 1 {
		t.Errorf("expected 1/1/1 hits/misses/evictions, got %d/%d/%d", s.Hits, s.Misses, s.Evictions)
	}
	if s.HitRate() != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", s.HitRate())
	}

	c.ResetStats()
	if s := c.Stats(); s.Hits != 0 || s.Evictions != 0 {
		t.Errorf("expected zeroed stats, got %+v", s)
	}
	if (Stats{}).HitRate() != 0 {
		t.Error("empty stats should report zero hit rate")
	}
}
