//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/zarigata/Erathia/compute"
)

// Dispatch writes the parameter block to a fresh uniform, creates the
// bind group and queues the invocation for the next Submit.
func (b *Backend) Dispatch(d compute.DispatchDesc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.ErrClosed
	}
	p, ok := b.pipelines[d.Pipeline]
	if !ok {
		return fmt.Errorf("wgpu: dispatch pipeline %d: %w", d.Pipeline, compute.ErrUnknownHandle)
	}
	label := p.desc.Label
	if uint32(len(d.Params)) > p.desc.ParamsSize { //nolint:gosec // params are tens of bytes
		return fmt.Errorf("%w: %s params %d bytes exceed %d",
			compute.ErrInvalidDispatch, label, len(d.Params), p.desc.ParamsSize)
	}

	usize := uniformSize(p.desc.ParamsSize)
	entries := make([]gputypes.BindGroupEntry, 0, len(p.desc.Bindings)+1)
	for _, bl := range p.desc.Bindings {
		bind, ok := findBinding(d.Bindings, bl.Slot)
		if !ok {
			return fmt.Errorf("%w: %s slot %d unbound", compute.ErrInvalidDispatch, label, bl.Slot)
		}
		var r *resource
		if bl.Kind.IsImage() {
			r = b.images[bind.Image]
		} else {
			r = b.buffers[bind.Buffer]
		}
		if r == nil {
			return fmt.Errorf("%w: %s slot %d: %v", compute.ErrInvalidDispatch, label, bl.Slot, compute.ErrUnknownHandle)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  bindingIndex(bl.Slot),
			Resource: gputypes.BufferBinding{Buffer: r.buf.NativeHandle(), Offset: 0, Size: r.size},
		})
	}

	uniform, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_params", Size: usize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: %s: create uniform buffer: %w", label, err)
	}
	if err := b.queue.WriteBuffer(uniform, 0, paddedParams(d.Params, p.desc.ParamsSize)); err != nil {
		b.device.DestroyBuffer(uniform)
		return fmt.Errorf("wgpu: %s: write params: %w", label, err)
	}
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  0,
		Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Offset: 0, Size: usize},
	})

	group, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: label + "_bind", Layout: p.bindLayout, Entries: entries,
	})
	if err != nil {
		b.device.DestroyBuffer(uniform)
		return fmt.Errorf("wgpu: %s: create bind group: %w", label, err)
	}

	b.pending = append(b.pending, recorded{pipeline: p.pipeline, group: group, uniform: uniform, groups: d.Groups})
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

// Submit encodes every pending dispatch into one command buffer, one
// compute pass per dispatch, and submits it. It does not wait.
func (b *Backend) Submit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.ErrClosed
	}
	if len(b.pending) == 0 {
		return nil
	}
	commands := b.pending
	b.pending = nil

	fail := func(err error) error {
		for _, r := range commands {
			b.destroyRecorded(r)
		}
		return err
	}

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "erathia_encoder"})
	if err != nil {
		return fail(fmt.Errorf("wgpu: create command encoder: %w", err))
	}
	if err := encoder.BeginEncoding("erathia_batch"); err != nil {
		encoder.Destroy()
		return fail(fmt.Errorf("wgpu: begin encoding: %w", err))
	}
	for _, r := range commands {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "erathia_pass"})
		pass.SetPipeline(r.pipeline)
		pass.SetBindGroup(0, r.group, nil)
		pass.Dispatch(r.groups[0], r.groups[1], r.groups[2])
		pass.End()
	}
	s, err := b.submitLocked(encoder)
	if err != nil {
		return fail(err)
	}
	s.commands = commands
	b.log.Load().Debug("wgpu: batch submitted",
		"dispatches", len(commands), "index", s.index, "outstanding", len(b.outstanding))
	return nil
}

// submitLocked ends a recording encoder, submits its command buffer and
// tracks it as outstanding. The encoder is destroyed on failure.
func (b *Backend) submitLocked(encoder hal.CommandEncoder) (*submission, error) {
	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.Destroy()
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}
	index, err := b.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		encoder.Destroy()
		return nil, fmt.Errorf("wgpu: submit: %w", err)
	}
	s := &submission{index: index, encoder: encoder}
	b.outstanding = append(b.outstanding, s)
	return s, nil
}

// wait blocks until the queue reports the submission complete or the
// timeout expires. A timed-out submission can be waited on again.
func (b *Backend) wait(q hal.Queue, s *submission) error {
	if s.done.Load() {
		return nil
	}
	deadline := time.Now().Add(b.timeout)
	delay := 50 * time.Microsecond
	for q.PollCompleted() < s.index {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: submission %d", ErrTimeout, s.index)
		}
		time.Sleep(delay)
		delay = min(delay*2, pollInterval)
	}
	s.done.Store(true)
	return nil
}

// Sync waits for every batch submitted before the call, then frees the
// finished batches and any deferred releases.
func (b *Backend) Sync() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	q := b.queue
	snapshot := append([]*submission(nil), b.outstanding...)
	b.mu.Unlock()

	var errs []error
	for _, s := range snapshot {
		if err := b.wait(q, s); err != nil {
			errs = append(errs, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.Join(errs...)
	}
	kept := b.outstanding[:0]
	for _, s := range b.outstanding {
		// Unfinished batches, including timed-out ones, may still be in use
		// by the device.
		if !s.done.Load() {
			kept = append(kept, s)
			continue
		}
		b.freeSubmission(s)
	}
	clear(b.outstanding[len(kept):])
	b.outstanding = kept
	if len(b.outstanding) == 0 && len(b.pending) == 0 {
		for _, buf := range b.deferred {
			b.device.DestroyBuffer(buf)
		}
		b.deferred = nil
	}
	return errors.Join(errs...)
}

func (b *Backend) freeSubmission(s *submission) {
	// The encoder owns the command buffer's memory.
	s.encoder.Destroy()
	for _, r := range s.commands {
		b.destroyRecorded(r)
	}
}

// ReadImage copies an image back to the CPU.
func (b *Backend) ReadImage(id compute.ImageID) ([]byte, error) {
	b.mu.Lock()
	r, ok := b.images[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("wgpu: read image %d: %w", id, compute.ErrUnknownHandle)
	}
	return b.read(r.buf, 0, r.image.ByteSize())
}

// ReadBuffer copies length bytes at offset back to the CPU.
func (b *Backend) ReadBuffer(id compute.BufferID, offset, length int) ([]byte, error) {
	b.mu.Lock()
	r, ok := b.buffers[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("wgpu: read buffer %d: %w", id, compute.ErrUnknownHandle)
	}
	if offset < 0 || length < 0 || uint64(offset+length) > r.size { //nolint:gosec // checked non-negative
		return nil, fmt.Errorf("wgpu: read buffer %d: range [%d, %d) outside %d bytes", id, offset, offset+length, r.size)
	}
	return b.read(r.buf, offset, length)
}

// read copies through a MapRead staging buffer in its own submission,
// waits for it and maps the staging memory.
func (b *Backend) read(src hal.Buffer, offset, length int) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	start, size, skip := readWindow(offset, length)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, compute.ErrClosed
	}
	staging, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "erathia_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer func() {
		b.mu.Lock()
		b.releaseLocked(staging)
		b.mu.Unlock()
	}()

	s, err := b.submitCopyLocked(src, staging, start, size)
	q, device := b.queue, b.device
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := b.wait(q, s); err != nil {
		return nil, err
	}

	mapping, err := device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map staging buffer: %w", err)
	}
	out := make([]byte, length)
	copy(out, unsafe.Slice((*byte)(mapping.Ptr), size)[skip:])
	if err := device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("wgpu: unmap staging buffer: %w", err)
	}
	return out, nil
}

func (b *Backend) submitCopyLocked(src, dst hal.Buffer, offset, size uint64) (*submission, error) {
	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "erathia_readback"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("erathia_readback"); err != nil {
		encoder.Destroy()
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(src, dst, []hal.BufferCopy{{SrcOffset: offset, DstOffset: 0, Size: size}})
	return b.submitLocked(encoder)
}
