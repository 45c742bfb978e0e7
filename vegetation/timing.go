package vegetation

import (
	"sync"
	"time"
)

// TypeTiming is the accumulated generation latency of one vegetation type.
type TypeTiming struct {
	Total time.Duration
	Count uint64
}

// Average returns Total / Count, or 0 before any call.
func (t TypeTiming) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count) //nolint:gosec // call count
}

// TimingStats summarizes placement generation latency.
type TimingStats struct {
	Last       time.Duration
	Average    time.Duration
	TotalCalls uint64
	PerType    map[int]TypeTiming
}

type timing struct {
	mu      sync.Mutex
	last    time.Duration
	total   time.Duration
	calls   uint64
	perType map[int]TypeTiming
}

func (t *timing) record(vegType int, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = d
	t.total += d
	t.calls++
	if t.perType == nil {
		t.perType = make(map[int]TypeTiming)
	}
	tt := t.perType[vegType]
	tt.Total += d
	tt.Count++
	t.perType[vegType] = tt
}

func (t *timing) snapshot() TimingStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := TimingStats{Last: t.last, TotalCalls: t.calls, PerType: make(map[int]TypeTiming, len(t.perType))}
	if t.calls > 0 {
		s.Average = t.total / time.Duration(t.calls) //nolint:gosec // call count
	}
	for k, v := range t.perType {
		s.PerType[k] = v
	}
	return s
}

func (t *timing) forType(vegType int) TypeTiming {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perType[vegType]
}

func (t *timing) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last, t.total, t.calls = 0, 0, 0
	t.perType = nil
}
