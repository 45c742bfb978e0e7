// Package parallel spreads kernel invocations across a fixed set of
// goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs submitted closures on a fixed number of goroutines.
//
// Each worker owns a queue; submissions are distributed round-robin and an
// idle worker steals from its neighbours before it blocks.
//
// WorkerPool is safe for concurrent use. Work must not submit to the pool
// it is running on and then wait for that work.
type WorkerPool struct {
	workers int
	queues  []chan func()
	next    atomic.Uint32

	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewWorkerPool starts a pool with the given number of workers.
// Zero or a negative count uses GOMAXPROCS.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), depth)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.loop(i)
	}
	return p
}

func (p *WorkerPool) loop(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case fn := <-own:
			fn()
			continue
		case <-p.done:
			p.drain(own)
			return
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}

		select {
		case fn := <-own:
			fn()
		case <-p.done:
			p.drain(own)
			return
		}
	}
}

func (p *WorkerPool) drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := 1; i < p.workers; i++ {
		select {
		case fn := <-p.queues[(id+i)%p.workers]:
			return fn
		default:
		}
	}
	return nil
}

// Go queues fn without waiting for it. It reports false when the pool is
// closed and fn was not queued.
func (p *WorkerPool) Go(fn func()) bool {
	if fn == nil || !p.running.Load() {
		return false
	}
	q := p.queues[int(p.next.Add(1))%p.workers]
	select {
	case q <- fn:
		return true
	case <-p.done:
		return false
	}
}

// ExecuteAll runs every closure and waits for all of them. After Close
// the closures run on the calling goroutine.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(work))
	for _, fn := range work {
		wrapped := func() {
			defer wg.Done()
			fn()
		}
		if !p.Go(wrapped) {
			wrapped()
		}
	}
	wg.Wait()
}

// For splits [0, n) into contiguous ranges of about grain items and calls
// fn(lo, hi) for each range in parallel, returning once all have finished.
func (p *WorkerPool) For(n, grain int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if grain <= 0 {
		grain = max(n/(p.workers*4), 1)
	}
	if n <= grain || p.workers == 1 {
		fn(0, n)
		return
	}
	work := make([]func(), 0, (n+grain-1)/grain)
	for lo := 0; lo < n; lo += grain {
		hi := min(lo+grain, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.ExecuteAll(work)
}

// Close stops the workers after they drain queued work.
// It is safe to call more than once.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool still accepts work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }
