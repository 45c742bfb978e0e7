package cache

// Stats reports cache effectiveness counters.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry[K comparable, V any] struct {
	value V
	node  *node[K]
}

// LRU is a capacity-bounded map that evicts its least recently used entry.
//
// Every entry in the map has exactly one node in the recency list; Add,
// Get and Remove keep the two in step. A capacity of 0 disables eviction.
//
// LRU is not safe for concurrent use.
type LRU[K comparable, V any] struct {
	capacity int
	entries  map[K]*entry[K, V]
	order    list[K]

	// onEvict is called for entries dropped to honour the capacity.
	// It is not called for Remove, Clear or value replacement.
	onEvict func(K, V)

	hits, misses, evictions uint64
}

// NewLRU creates an LRU holding at most capacity entries.
// A capacity of 0 or less means unbounded.
func NewLRU[K comparable, V any](capacity int, onEvict func(K, V)) *LRU[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	c := &LRU[K, V]{
		capacity: capacity,
		entries:  make(map[K]*entry[K, V]),
		onEvict:  onEvict,
	}
	c.order.init()
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.moveToFront(e.node)
	return e.value, true
}

// Peek returns the value for key without touching recency or stats.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Contains reports whether key is present without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	_, ok := c.entries[key]
	return ok
}

// Add inserts or replaces key, marks it most recently used and evicts from
// the back while the cache holds more than its capacity. The previous value
// is returned when key was already present.
func (c *LRU[K, V]) Add(key K, value V) (prev V, replaced bool) {
	if e, ok := c.entries[key]; ok {
		prev, replaced = e.value, true
		e.value = value
		c.order.moveToFront(e.node)
		return prev, replaced
	}
	c.entries[key] = &entry[K, V]{value: value, node: c.order.pushFront(key)}
	c.evictOverflow()
	return prev, false
}

// Remove deletes key and returns its value.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.remove(e.node)
	delete(c.entries, key)
	return e.value, true
}

// Resize changes the capacity, evicting immediately if the cache is now
// over the limit. A capacity of 0 or less means unbounded.
func (c *LRU[K, V]) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	c.capacity = capacity
	c.evictOverflow()
}

// Capacity returns the configured maximum, 0 when unbounded.
func (c *LRU[K, V]) Capacity() int { return c.capacity }

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int { return len(c.entries) }

// Keys returns all keys ordered from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.entries))
	for n := c.order.front(); n != nil && n != &c.order.root; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Values returns all values ordered from most to least recently used.
func (c *LRU[K, V]) Values() []V {
	values := make([]V, 0, len(c.entries))
	for n := c.order.front(); n != nil && n != &c.order.root; n = n.next {
		values = append(values, c.entries[n.key].value)
	}
	return values
}

// Oldest returns the least recently used key.
func (c *LRU[K, V]) Oldest() (K, bool) {
	n := c.order.back()
	if n == nil {
		var zero K
		return zero, false
	}
	return n.key, true
}

// Clear removes every entry without calling the eviction callback.
func (c *LRU[K, V]) Clear() {
	c.entries = make(map[K]*entry[K, V])
	c.order.init()
}

// Stats returns a snapshot of the cache counters.
func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Len:       len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *LRU[K, V]) ResetStats() {
	c.hits, c.misses, c.evictions = 0, 0, 0
}

func (c *LRU[K, V]) evictOverflow() {
	if c.capacity == 0 {
		return
	}
	for len(c.entries) > c.capacity {
		n := c.order.back()
		if n == nil {
			return
		}
		e := c.entries[n.key]
		c.order.remove(n)
		delete(c.entries, n.key)
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(n.key, e.value)
		}
	}
}
