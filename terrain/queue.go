package terrain

import (
	"container/heap"

	"github.com/zarigata/Erathia/chunk"
)

// requestQueue is a min-heap of requests on priority, with insertion order
// breaking ties. It also indexes requests by coordinate so a chunk is
// queued at most once.
type requestQueue struct {
	items  requestHeap
	byKey  map[chunk.Coord]*request
	nextSq uint64
}

func newRequestQueue() *requestQueue {
	return &requestQueue{byKey: make(map[chunk.Coord]*request)}
}

// push queues origin at lod. A coordinate already queued keeps its slot
// and takes the finer of the two levels. It reports whether a new
// request was added.
func (q *requestQueue) push(origin chunk.Coord, lod int, priority float32, now int64) bool {
	if r, ok := q.byKey[origin]; ok {
		if lod < r.lod {
			r.lod = lod
		}
		if priority != r.priority {
			r.priority = priority
			heap.Fix(&q.items, r.index)
		}
		return false
	}
	r := &request{origin: origin, lod: lod, priority: priority, enqueued: now, seq: q.nextSq}
	q.nextSq++
	q.byKey[origin] = r
	heap.Push(&q.items, r)
	return true
}

// pop removes and returns the most urgent request.
func (q *requestQueue) pop() (*request, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	r := heap.Pop(&q.items).(*request)
	delete(q.byKey, r.origin)
	return r, true
}

// remove drops the request for origin.
func (q *requestQueue) remove(origin chunk.Coord) bool {
	r, ok := q.byKey[origin]
	if !ok {
		return false
	}
	heap.Remove(&q.items, r.index)
	delete(q.byKey, origin)
	return true
}

func (q *requestQueue) contains(origin chunk.Coord) bool {
	_, ok := q.byKey[origin]
	return ok
}

// reprioritize recomputes every priority and restores heap order.
func (q *requestQueue) reprioritize(priority func(chunk.Coord) float32) {
	for _, r := range q.items {
		r.priority = priority(r.origin)
	}
	heap.Init(&q.items)
}

func (q *requestQueue) len() int { return len(q.items) }

func (q *requestQueue) clear() {
	q.items = nil
	clear(q.byKey)
}

type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}
