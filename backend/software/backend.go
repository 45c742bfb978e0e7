package software

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zarigata/Erathia/backend"
	"github.com/zarigata/Erathia/compute"
	"github.com/zarigata/Erathia/internal/logging"
	"github.com/zarigata/Erathia/internal/parallel"
)

// ErrUnknownKernel is returned by CompileKernel for names with no
// registered Go implementation.
var ErrUnknownKernel = errors.New("software: no kernel registered")

func init() {
	backend.Register(backend.Software, func() (compute.Backend, error) {
		return New(), nil
	})
}

// Option configures a Backend.
type Option func(*Backend)

// WithWorkers sets the worker pool size. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(b *Backend) { b.workers = n }
}

// WithLatency delays every submitted batch by d before it runs.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithKernel registers fn under name, replacing any built-in kernel.
func WithKernel(name string, fn KernelFunc) Option {
	return func(b *Backend) { b.registry[name] = fn }
}

// WithBatchHook calls fn on the batch goroutine before each batch runs.
// Tests use it to hold work in flight.
func WithBatchHook(fn func()) Option {
	return func(b *Backend) { b.hook = fn }
}

type kernel struct {
	name string
	fn   KernelFunc
}

type pipeline struct {
	desc compute.PipelineDesc
	fn   KernelFunc
	name string
}

type command struct {
	name string
	fn   KernelFunc
	call *Call
}

// batch is one Submit. Batches run in submission order, like commands on
// a device queue.
type batch struct {
	prev *batch
	done chan struct{}
	err  error
}

// Backend is the CPU compute backend. It is safe for concurrent use.
type Backend struct {
	workers  int
	latency  time.Duration
	hook     func()
	registry map[string]KernelFunc

	pool   *parallel.WorkerPool
	log    *logging.Slot
	nextID atomic.Uint64

	mu          sync.RWMutex
	closed      bool
	kernels     map[compute.KernelID]*kernel
	pipelines   map[compute.PipelineID]*pipeline
	images      map[compute.ImageID]*Image
	buffers     map[compute.BufferID][]byte
	pending     []command
	outstanding []*batch
	tail        *batch

	dispatched atomic.Uint64
	submitted  atomic.Uint64
}

var _ compute.Backend = (*Backend)(nil)

// New creates a software backend with the built-in kernels registered.
func New(opts ...Option) *Backend {
	b := &Backend{
		registry:  DefaultKernels(),
		log:       logging.NewSlot(),
		kernels:   make(map[compute.KernelID]*kernel),
		pipelines: make(map[compute.PipelineID]*pipeline),
		images:    make(map[compute.ImageID]*Image),
		buffers:   make(map[compute.BufferID][]byte),
	}
	b.nextID.Store(1)
	for _, opt := range opts {
		opt(b)
	}
	b.pool = parallel.NewWorkerPool(b.workers)
	return b
}

func (b *Backend) newID() uint64 { return b.nextID.Add(1) - 1 }

// Name implements compute.Backend.
func (b *Backend) Name() string { return backend.Software }

// SetLogger sets the logger used for batch failures.
func (b *Backend) SetLogger(l *slog.Logger) { b.log.Store(l) }

// CompileKernel resolves src.Name against the registered Go kernels.
// The source text is required but not interpreted.
func (b *Backend) CompileKernel(src compute.KernelSource) (compute.KernelID, error) {
	if src.Code == "" {
		return compute.InvalidID, fmt.Errorf("software: %s: %w", src.Name, compute.ErrKernelEmpty)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	fn, ok := b.registry[src.Name]
	if !ok {
		return compute.InvalidID, fmt.Errorf("%w: %q", ErrUnknownKernel, src.Name)
	}
	id := compute.KernelID(b.newID())
	b.kernels[id] = &kernel{name: src.Name, fn: fn}
	return id, nil
}

// CreatePipeline implements compute.Backend.
func (b *Backend) CreatePipeline(desc compute.PipelineDesc) (compute.PipelineID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	k, ok := b.kernels[desc.Kernel]
	if !ok {
		return compute.InvalidID, fmt.Errorf("software: pipeline %s: kernel %d: %w",
			desc.Label, desc.Kernel, compute.ErrUnknownHandle)
	}
	seen := make(map[uint32]bool, len(desc.Bindings))
	for _, bl := range desc.Bindings {
		if seen[bl.Slot] {
			return compute.InvalidID, fmt.Errorf("software: pipeline %s: duplicate slot %d", desc.Label, bl.Slot)
		}
		seen[bl.Slot] = true
	}
	desc.Bindings = append([]compute.BindingLayout(nil), desc.Bindings...)
	id := compute.PipelineID(b.newID())
	b.pipelines[id] = &pipeline{desc: desc, fn: k.fn, name: k.name}
	return id, nil
}

// AllocateImage implements compute.Backend.
func (b *Backend) AllocateImage(desc compute.ImageDesc, initial []byte) (compute.ImageID, error) {
	size := desc.ByteSize()
	if size <= 0 {
		return compute.InvalidID, fmt.Errorf("software: image %s: invalid size %v format %v",
			desc.Label, desc.Size, desc.Format)
	}
	if initial != nil && len(initial) != size {
		return compute.InvalidID, fmt.Errorf("software: image %s: initial data is %d bytes, want %d",
			desc.Label, len(initial), size)
	}
	data := make([]byte, size)
	copy(data, initial)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	id := compute.ImageID(b.newID())
	b.images[id] = &Image{Desc: desc, Data: data}
	return id, nil
}

// AllocateBuffer implements compute.Backend.
func (b *Backend) AllocateBuffer(size int, initial []byte) (compute.BufferID, error) {
	if size <= 0 || len(initial) > size {
		return compute.InvalidID, fmt.Errorf("software: invalid buffer size %d (initial %d)", size, len(initial))
	}
	data := make([]byte, size)
	copy(data, initial)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	id := compute.BufferID(b.newID())
	b.buffers[id] = data
	return id, nil
}

// Dispatch resolves the bindings against live resources and queues the
// invocation for the next Submit.
func (b *Backend) Dispatch(d compute.DispatchDesc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.ErrClosed
	}
	p, ok := b.pipelines[d.Pipeline]
	if !ok {
		return fmt.Errorf("software: dispatch pipeline %d: %w", d.Pipeline, compute.ErrUnknownHandle)
	}
	if uint32(len(d.Params)) > p.desc.ParamsSize { //nolint:gosec // params are tens of bytes
		return fmt.Errorf("%w: %s params %d bytes exceed %d",
			compute.ErrInvalidDispatch, p.name, len(d.Params), p.desc.ParamsSize)
	}

	call := &Call{
		Groups:  d.Groups,
		params:  append([]byte(nil), d.Params...),
		images:  make(map[uint32]*Image),
		buffers: make(map[uint32][]byte),
		pool:    b.pool,
	}
	for _, bl := range p.desc.Bindings {
		bind, ok := findBinding(d.Bindings, bl.Slot)
		if !ok {
			return fmt.Errorf("%w: %s slot %d unbound", compute.ErrInvalidDispatch, p.name, bl.Slot)
		}
		if bl.Kind.IsImage() {
			img, ok := b.images[bind.Image]
			if !ok {
				return fmt.Errorf("%w: %s slot %d: image %d: %v",
					compute.ErrInvalidDispatch, p.name, bl.Slot, bind.Image, compute.ErrUnknownHandle)
			}
			call.images[bl.Slot] = img
			continue
		}
		buf, ok := b.buffers[bind.Buffer]
		if !ok {
			return fmt.Errorf("%w: %s slot %d: buffer %d: %v",
				compute.ErrInvalidDispatch, p.name, bl.Slot, bind.Buffer, compute.ErrUnknownHandle)
		}
		call.buffers[bl.Slot] = buf
	}

	b.pending = append(b.pending, command{name: p.name, fn: p.fn, call: call})
	b.dispatched.Add(1)
	return nil
}

func findBinding(bindings []compute.Binding, slot uint32) (compute.Binding, bool) {
	for _, bind := range bindings {
		if bind.Slot == slot {
			return bind, true
		}
	}
	return compute.Binding{}, false
}

// Submit starts the recorded dispatches on a new goroutine.
func (b *Backend) Submit() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return compute.ErrClosed
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	cmds := b.pending
	b.pending = nil
	bt := &batch{prev: b.tail, done: make(chan struct{})}
	b.tail = bt
	b.outstanding = append(b.outstanding, bt)
	b.mu.Unlock()

	b.submitted.Add(1)
	go b.run(bt, cmds)
	return nil
}

func (b *Backend) run(bt *batch, cmds []command) {
	defer close(bt.done)
	if bt.prev != nil {
		<-bt.prev.done
		bt.prev = nil
	}
	if b.hook != nil {
		b.hook()
	}
	if b.latency > 0 {
		time.Sleep(b.latency)
	}
	var errs []error
	for _, c := range cmds {
		if err := c.fn(c.call); err != nil {
			b.log.Load().Warn("software: kernel failed", "kernel", c.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	bt.err = errors.Join(errs...)
}

// Sync waits for every batch submitted before the call and returns the
// joined kernel errors of those batches.
func (b *Backend) Sync() error {
	b.mu.RLock()
	waiting := append([]*batch(nil), b.outstanding...)
	b.mu.RUnlock()

	var errs []error
	for _, bt := range waiting {
		<-bt.done
		if bt.err != nil {
			errs = append(errs, bt.err)
		}
	}

	b.mu.Lock()
	live := b.outstanding[:0]
	for _, bt := range b.outstanding {
		select {
		case <-bt.done:
		default:
			live = append(live, bt)
		}
	}
	b.outstanding = live
	b.mu.Unlock()

	return errors.Join(errs...)
}

// ReadImage implements compute.Backend.
func (b *Backend) ReadImage(id compute.ImageID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	img, ok := b.images[id]
	if !ok {
		return nil, fmt.Errorf("software: read image %d: %w", id, compute.ErrUnknownHandle)
	}
	return append([]byte(nil), img.Data...), nil
}

// ReadBuffer implements compute.Backend.
func (b *Backend) ReadBuffer(id compute.BufferID, offset, length int) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf, ok := b.buffers[id]
	if !ok {
		return nil, fmt.Errorf("software: read buffer %d: %w", id, compute.ErrUnknownHandle)
	}
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return nil, fmt.Errorf("software: read buffer %d: range [%d,%d) outside %d bytes",
			id, offset, offset+length, len(buf))
	}
	return append([]byte(nil), buf[offset:offset+length]...), nil
}

// ReleaseImage implements compute.Backend.
func (b *Backend) ReleaseImage(id compute.ImageID) {
	b.mu.Lock()
	delete(b.images, id)
	b.mu.Unlock()
}

// ReleaseBuffer implements compute.Backend.
func (b *Backend) ReleaseBuffer(id compute.BufferID) {
	b.mu.Lock()
	delete(b.buffers, id)
	b.mu.Unlock()
}

// ReleasePipeline implements compute.Backend.
func (b *Backend) ReleasePipeline(id compute.PipelineID) {
	b.mu.Lock()
	delete(b.pipelines, id)
	b.mu.Unlock()
}

// ReleaseKernel implements compute.Backend.
func (b *Backend) ReleaseKernel(id compute.KernelID) {
	b.mu.Lock()
	delete(b.kernels, id)
	b.mu.Unlock()
}

// Close waits for outstanding work, stops the worker pool and drops every
// resource. It is safe to call more than once.
func (b *Backend) Close() error {
	err := b.Sync()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.pending = nil
	b.kernels = make(map[compute.KernelID]*kernel)
	b.pipelines = make(map[compute.PipelineID]*pipeline)
	b.images = make(map[compute.ImageID]*Image)
	b.buffers = make(map[compute.BufferID][]byte)
	b.mu.Unlock()

	b.pool.Close()
	return err
}

// Stats reports resource and work counters.
type Stats struct {
	Images      int
	Buffers     int
	Pipelines   int
	Kernels     int
	Dispatched  uint64
	Submitted   uint64
	Outstanding int
}

// Stats returns a snapshot of the backend counters.
func (b *Backend) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Images:      len(b.images),
		Buffers:     len(b.buffers),
		Pipelines:   len(b.pipelines),
		Kernels:     len(b.kernels),
		Dispatched:  b.dispatched.Load(),
		Submitted:   b.submitted.Load(),
		Outstanding: len(b.outstanding),
	}
}
