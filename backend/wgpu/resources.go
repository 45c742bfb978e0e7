//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/zarigata/Erathia/compute"
)

// storageUsage is the usage of every image and buffer.
const storageUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// CompileKernel compiles WGSL to SPIR-V with naga and creates a shader
// module from it.
func (b *Backend) CompileKernel(src compute.KernelSource) (compute.KernelID, error) {
	if src.Code == "" {
		return compute.InvalidID, fmt.Errorf("wgpu: %s: %w", src.Name, compute.ErrKernelEmpty)
	}
	spirv, err := naga.Compile(src.Code)
	if err != nil {
		return compute.InvalidID, fmt.Errorf("wgpu: compile %s: %w", src.Name, err)
	}
	words, err := spirvWords(spirv)
	if err != nil {
		return compute.InvalidID, fmt.Errorf("wgpu: compile %s: %w", src.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	module, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  src.Name,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return compute.InvalidID, fmt.Errorf("wgpu: create shader module %s: %w", src.Name, err)
	}
	id := compute.KernelID(b.newID())
	b.kernels[id] = &kernel{name: src.Name, module: module}
	b.log.Load().Debug("wgpu: kernel compiled", "kernel", src.Name, "words", len(words))
	return id, nil
}

// CreatePipeline builds the bind group layout, pipeline layout and compute
// pipeline for desc. Partially created objects are destroyed on failure.
func (b *Backend) CreatePipeline(desc compute.PipelineDesc) (compute.PipelineID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	k, ok := b.kernels[desc.Kernel]
	if !ok {
		return compute.InvalidID, fmt.Errorf("wgpu: pipeline %s: kernel %d: %w",
			desc.Label, desc.Kernel, compute.ErrUnknownHandle)
	}
	seen := make(map[uint32]bool, len(desc.Bindings))
	for _, bl := range desc.Bindings {
		if seen[bl.Slot] {
			return compute.InvalidID, fmt.Errorf("wgpu: pipeline %s: duplicate slot %d", desc.Label, bl.Slot)
		}
		seen[bl.Slot] = true
	}

	p := &pipeline{desc: desc}
	var err error
	p.bindLayout, err = b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bind_layout",
		Entries: layoutEntries(desc.Bindings),
	})
	if err != nil {
		return compute.InvalidID, fmt.Errorf("wgpu: pipeline %s: bind group layout: %w", desc.Label, err)
	}
	p.pipeLayout, err = b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		b.destroyPipeline(p)
		return compute.InvalidID, fmt.Errorf("wgpu: pipeline %s: pipeline layout: %w", desc.Label, err)
	}
	p.pipeline, err = b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  p.pipeLayout,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: "main"},
	})
	if err != nil {
		b.destroyPipeline(p)
		return compute.InvalidID, fmt.Errorf("wgpu: pipeline %s: %w", desc.Label, err)
	}

	id := compute.PipelineID(b.newID())
	b.pipelines[id] = p
	b.log.Load().Debug("wgpu: pipeline created", "pipeline", desc.Label, "bindings", len(desc.Bindings))
	return id, nil
}

func (b *Backend) createStorage(label string, size int, initial []byte) (hal.Buffer, uint64, error) {
	n := bufferSize(size)
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: n, Usage: storageUsage})
	if err != nil {
		return nil, 0, err
	}
	// Device memory is not guaranteed to start zeroed.
	data := make([]byte, n)
	copy(data, initial)
	if err := b.queue.WriteBuffer(buf, 0, data); err != nil {
		b.device.DestroyBuffer(buf)
		return nil, 0, err
	}
	return buf, n, nil
}

// AllocateImage creates the storage buffer backing an image.
func (b *Backend) AllocateImage(desc compute.ImageDesc, initial []byte) (compute.ImageID, error) {
	size := desc.ByteSize()
	if size <= 0 {
		return compute.InvalidID, fmt.Errorf("wgpu: image %s: empty extent %+v", desc.Label, desc.Size)
	}
	if initial != nil && len(initial) != size {
		return compute.InvalidID, fmt.Errorf("wgpu: image %s: initial data %d bytes, want %d",
			desc.Label, len(initial), size)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	buf, n, err := b.createStorage(desc.Label, size, initial)
	if err != nil {
		return compute.InvalidID, fmt.Errorf("wgpu: image %s: %w", desc.Label, err)
	}
	id := compute.ImageID(b.newID())
	b.images[id] = &resource{buf: buf, size: n, image: desc}
	return id, nil
}

// AllocateBuffer creates a storage buffer.
func (b *Backend) AllocateBuffer(size int, initial []byte) (compute.BufferID, error) {
	if size <= 0 || len(initial) > size {
		return compute.InvalidID, fmt.Errorf("wgpu: buffer of %d bytes with %d initial", size, len(initial))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return compute.InvalidID, compute.ErrClosed
	}
	buf, n, err := b.createStorage("buffer", size, initial)
	if err != nil {
		return compute.InvalidID, fmt.Errorf("wgpu: buffer: %w", err)
	}
	id := compute.BufferID(b.newID())
	b.buffers[id] = &resource{buf: buf, size: n}
	return id, nil
}

// ReleaseImage destroys an image, deferred while work is outstanding.
func (b *Backend) ReleaseImage(id compute.ImageID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.images[id]; ok {
		delete(b.images, id)
		b.releaseLocked(r.buf)
	}
}

// ReleaseBuffer destroys a buffer, deferred while work is outstanding.
func (b *Backend) ReleaseBuffer(id compute.BufferID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.buffers[id]; ok {
		delete(b.buffers, id)
		b.releaseLocked(r.buf)
	}
}

// ReleasePipeline destroys a pipeline and its layouts.
func (b *Backend) ReleasePipeline(id compute.PipelineID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pipelines[id]; ok {
		delete(b.pipelines, id)
		b.destroyPipeline(p)
	}
}

// ReleaseKernel destroys a shader module.
func (b *Backend) ReleaseKernel(id compute.KernelID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k, ok := b.kernels[id]; ok {
		delete(b.kernels, id)
		b.device.DestroyShaderModule(k.module)
	}
}

func (b *Backend) releaseLocked(buf hal.Buffer) {
	if b.closed {
		return
	}
	if len(b.outstanding) > 0 || len(b.pending) > 0 {
		b.deferred = append(b.deferred, buf)
		return
	}
	b.device.DestroyBuffer(buf)
}

func (b *Backend) destroyPipeline(p *pipeline) {
	if p.pipeline != nil {
		b.device.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		b.device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		b.device.DestroyBindGroupLayout(p.bindLayout)
	}
}

func (b *Backend) destroyRecorded(r recorded) {
	if r.group != nil {
		b.device.DestroyBindGroup(r.group)
	}
	if r.uniform != nil {
		b.device.DestroyBuffer(r.uniform)
	}
}
