//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/zarigata/Erathia/backend"
	"github.com/zarigata/Erathia/compute"
	"github.com/zarigata/Erathia/internal/logging"
)

// DefaultTimeout bounds each submission wait.
const DefaultTimeout = 5 * time.Second

// pollInterval caps the sleep between completion polls.
const pollInterval = 2 * time.Millisecond

var (
	// ErrNoGPU is returned when no adapter could be opened.
	ErrNoGPU = errors.New("wgpu: no GPU available")

	// ErrTimeout is returned when a submission wait expires.
	ErrTimeout = errors.New("wgpu: timed out waiting for the GPU")
)

func init() {
	backend.Register(backend.WGPU, func() (compute.Backend, error) {
		return New()
	})
}

// Option configures a Backend.
type Option func(*Backend)

// WithTimeout sets the submission wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

type kernel struct {
	name   string
	module hal.ShaderModule
}

type pipeline struct {
	desc       compute.PipelineDesc
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// resource is the storage buffer behind an image or a linear buffer.
type resource struct {
	buf  hal.Buffer
	size uint64

	// image is the zero value for linear buffers.
	image compute.ImageDesc
}

// recorded is one dispatch waiting for Submit.
type recorded struct {
	pipeline hal.ComputePipeline
	group    hal.BindGroup
	uniform  hal.Buffer
	groups   [3]uint32
}

// submission is one submitted command buffer and what it keeps alive.
type submission struct {
	index    uint64
	encoder  hal.CommandEncoder
	commands []recorded

	done atomic.Bool
}

// Backend is the GPU compute backend. It is safe for concurrent use.
type Backend struct {
	timeout time.Duration
	log     *logging.Slot
	nextID  atomic.Uint64

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string
	external bool

	mu          sync.Mutex
	closed      bool
	kernels     map[compute.KernelID]*kernel
	pipelines   map[compute.PipelineID]*pipeline
	images      map[compute.ImageID]*resource
	buffers     map[compute.BufferID]*resource
	pending     []recorded
	outstanding []*submission

	// deferred buffers are destroyed once no submission is outstanding.
	deferred []hal.Buffer
}

var _ compute.Backend = (*Backend)(nil)

func newBackend(opts []Option) *Backend {
	b := &Backend{
		timeout:   DefaultTimeout,
		log:       logging.NewSlot(),
		kernels:   make(map[compute.KernelID]*kernel),
		pipelines: make(map[compute.PipelineID]*pipeline),
		images:    make(map[compute.ImageID]*resource),
		buffers:   make(map[compute.BufferID]*resource),
	}
	b.nextID.Store(1)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// New opens the first discrete or integrated GPU found through the Vulkan
// HAL, falling back to any adapter.
func New(opts ...Option) (*Backend, error) {
	return open(gputypes.BackendVulkan, opts)
}

func open(variant gputypes.Backend, opts []Option) (*Backend, error) {
	b := newBackend(opts)

	hb, ok := hal.GetBackend(variant)
	if !ok {
		return nil, fmt.Errorf("%w: %s backend not available", ErrNoGPU, variant)
	}
	instance, err := hb.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no adapters found", ErrNoGPU)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	opened, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %v", ErrNoGPU, err)
	}

	b.instance = instance
	b.device = opened.Device
	b.queue = opened.Queue
	b.adapter = selected.Info.Name
	return b, nil
}

// NewWithProvider runs on a device owned by the host application. The
// provider must expose HalDevice() and HalQueue() returning hal.Device and
// hal.Queue. Close leaves the shared device open.
func NewWithProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, errors.New("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.New("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.New("wgpu: provider HalQueue is not hal.Queue")
	}

	b := newBackend(opts)
	b.device = device
	b.queue = queue
	b.adapter = "shared"
	b.external = true
	return b, nil
}

func (b *Backend) newID() uint64 { return b.nextID.Add(1) - 1 }

// Name implements compute.Backend.
func (b *Backend) Name() string { return backend.WGPU }

// Adapter returns the name of the GPU in use.
func (b *Backend) Adapter() string { return b.adapter }

// SetLogger sets the logger for device diagnostics.
func (b *Backend) SetLogger(l *slog.Logger) { b.log.Store(l) }

// Close waits for outstanding work and destroys every resource. A shared
// device is left open.
func (b *Backend) Close() error {
	err := b.Sync()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, r := range b.pending {
		b.destroyRecorded(r)
	}
	b.pending = nil
	for _, buf := range b.deferred {
		b.device.DestroyBuffer(buf)
	}
	b.deferred = nil
	for id, r := range b.images {
		b.device.DestroyBuffer(r.buf)
		delete(b.images, id)
	}
	for id, r := range b.buffers {
		b.device.DestroyBuffer(r.buf)
		delete(b.buffers, id)
	}
	for id, p := range b.pipelines {
		b.destroyPipeline(p)
		delete(b.pipelines, id)
	}
	for id, k := range b.kernels {
		b.device.DestroyShaderModule(k.module)
		delete(b.kernels, id)
	}

	if !b.external {
		b.device.Destroy()
		if b.instance != nil {
			b.instance.Destroy()
		}
	}
	b.device, b.queue, b.instance = nil, nil, nil
	b.log.Load().Debug("wgpu: backend closed", "adapter", b.adapter)
	return err
}
