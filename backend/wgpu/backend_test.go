//go:build !nogpu

package wgpu

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/zarigata/Erathia/compute"
)

const fillKernel = `
@group(0) @binding(0) var<uniform> params: vec4<u32>;
@group(0) @binding(1) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = params.x;
}
`

// stalledQueue reports no completed submissions until released.
type stalledQueue struct {
	hal.Queue
	stalled atomic.Bool
}

func (q *stalledQueue) PollCompleted() uint64 {
	if q.stalled.Load() {
		return 0
	}
	return q.Queue.PollCompleted()
}

func newNoopBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b, err := open(gputypes.BackendEmpty, opts)
	if err != nil {
		t.Fatalf("open noop backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newFillPipeline(t *testing.T, b *Backend) compute.PipelineID {
	t.Helper()
	k, err := b.CompileKernel(compute.KernelSource{Name: "fill", Code: fillKernel})
	if err != nil {
		t.Fatalf("CompileKernel: %v", err)
	}
	p, err := b.CreatePipeline(compute.PipelineDesc{
		Label:      "fill",
		Kernel:     k,
		Bindings:   []compute.BindingLayout{{Slot: 0, Kind: compute.BindingStorageBuffer}},
		ParamsSize: 16,
	})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	return p
}

func TestSubmitAndSync(t *testing.T) {
	b := newNoopBackend(t)
	p := newFillPipeline(t, b)
	buf, err := b.AllocateBuffer(16, nil)
	if err != nil {
		t.Fatalf("AllocateBuffer: %v", err)
	}

	err = b.Dispatch(compute.DispatchDesc{
		Pipeline: p,
		Bindings: []compute.Binding{compute.BufferBinding(0, buf)},
		Params:   compute.NewParams(16).Uint32(7).Bytes(),
		Groups:   [3]uint32{4, 1, 1},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := b.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n := len(b.outstanding); n != 1 {
		t.Fatalf("expected 1 outstanding submission, got %d", n)
	}

	// Released while outstanding: destroyed by the Sync that drains.
	b.ReleaseBuffer(buf)
	if n := len(b.deferred); n != 1 {
		t.Errorf("expected 1 deferred buffer, got %d", n)
	}
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(b.outstanding) != 0 || len(b.deferred) != 0 {
		t.Errorf("expected drained backend, got %d outstanding and %d deferred",
			len(b.outstanding), len(b.deferred))
	}
}

func TestReadBufferWindow(t *testing.T) {
	b := newNoopBackend(t)
	buf, err := b.AllocateBuffer(16, nil)
	if err != nil {
		t.Fatalf("AllocateBuffer: %v", err)
	}
	data, err := b.ReadBuffer(buf, 5, 6)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if len(data) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(data))
	}
	if _, err := b.ReadBuffer(buf, 12, 8); err == nil {
		t.Error("expected an error for a range past the buffer")
	}
	if _, err := b.ReadBuffer(999, 0, 4); !errors.Is(err, compute.ErrUnknownHandle) {
		t.Errorf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	b := newNoopBackend(t)
	p := newFillPipeline(t, b)
	buf, err := b.AllocateBuffer(16, nil)
	if err != nil {
		t.Fatalf("AllocateBuffer: %v", err)
	}

	tests := []struct {
		name string
		desc compute.DispatchDesc
		want error
	}{
		{"unknown pipeline", compute.DispatchDesc{Pipeline: 999}, compute.ErrUnknownHandle},
		{"unbound slot", compute.DispatchDesc{Pipeline: p}, compute.ErrInvalidDispatch},
		{"oversized params", compute.DispatchDesc{
			Pipeline: p,
			Bindings: []compute.Binding{compute.BufferBinding(0, buf)},
			Params:   make([]byte, 32),
		}, compute.ErrInvalidDispatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := b.Dispatch(tt.desc); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if n := len(b.pending); n != 0 {
		t.Errorf("expected no pending dispatches, got %d", n)
	}
}

func TestWaitTimeout(t *testing.T) {
	b := newBackend([]Option{WithTimeout(20 * time.Millisecond)})
	q := &stalledQueue{Queue: &noop.Queue{}}
	q.stalled.Store(true)
	b.device, b.queue, b.external = &noop.Device{}, q, true
	t.Cleanup(func() { _ = b.Close() })

	buf, err := b.AllocateBuffer(8, nil)
	if err != nil {
		t.Fatalf("AllocateBuffer: %v", err)
	}
	if _, err := b.ReadBuffer(buf, 0, 8); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err := b.Sync(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected Sync to time out, got %v", err)
	}
	if n := len(b.outstanding); n != 1 {
		t.Fatalf("expected the stalled submission to stay outstanding, got %d", n)
	}

	q.stalled.Store(false)
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync after completion: %v", err)
	}
	if len(b.outstanding) != 0 || len(b.deferred) != 0 {
		t.Errorf("expected drained backend, got %d outstanding and %d deferred",
			len(b.outstanding), len(b.deferred))
	}
}
