package software

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/zarigata/Erathia/compute"
)

type harness struct {
	t *testing.T
	b *Backend
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	b := New(opts...)
	t.Cleanup(func() { _ = b.Close() })
	return &harness{t: t, b: b}
}

func (h *harness) pipeline(name string, paramsSize uint32, kinds ...compute.BindingKind) compute.PipelineID {
	h.t.Helper()
	k, err := h.b.CompileKernel(src(name))
	if err != nil {
		h.t.Fatalf("compile %s: %v", name, err)
	}
	layout := make([]compute.BindingLayout, len(kinds))
	for i, kind := range kinds {
		layout[i] = compute.BindingLayout{Slot: uint32(i), Kind: kind}
	}
	p, err := h.b.CreatePipeline(compute.PipelineDesc{Label: name, Kernel: k, Bindings: layout, ParamsSize: paramsSize})
	if err != nil {
		h.t.Fatalf("pipeline %s: %v", name, err)
	}
	return p
}

func (h *harness) image(w, hgt, d uint32, format compute.ImageFormat) compute.ImageID {
	h.t.Helper()
	id, err := h.b.AllocateImage(compute.ImageDesc{
		Size:   compute.Extent{Width: w, Height: hgt, Depth: d},
		Format: format,
	}, nil)
	if err != nil {
		h.t.Fatalf("AllocateImage: %v", err)
	}
	return id
}

func (h *harness) run(p compute.PipelineID, params []byte, bindings ...compute.Binding) {
	h.t.Helper()
	if err := h.b.Dispatch(compute.DispatchDesc{Pipeline: p, Bindings: bindings, Params: params}); err != nil {
		h.t.Fatalf("Dispatch: %v", err)
	}
	if err := h.b.Submit(); err != nil {
		h.t.Fatalf("Submit: %v", err)
	}
	if err := h.b.Sync(); err != nil {
		h.t.Fatalf("Sync: %v", err)
	}
}

func biomeParams(count uint32, mapSize uint32) []byte {
	return compute.NewParams(32).
		Uint32(count).Float32(16000).Float32(2000).Float32(0.8).
		Uint32(1234).Uint32(mapSize).Pad(16).Bytes()
}

func TestBiomeMapKernel(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(KernelBiomeMap, 32, compute.BindingStorageImage)
	const n = 16
	img := h.image(n, n, 1, compute.ImageFormatRG32Float)
	h.run(p, biomeParams(17, n), compute.ImageBinding(0, img))

	data, _ := h.b.ReadImage(img)
	ids := make(map[float32]bool)
	for i := 0; i < n*n; i++ {
		id, dist := f32(data, i*2), f32(data, i*2+1)
		if id < 0 || id >= 17 || id != float32(int(id)) {
			t.Fatalf("texel %d: invalid biome id %v", i, id)
		}
		if dist < 0 || dist > 1 {
			t.Fatalf("texel %d: distance %v outside [0,1]", i, dist)
		}
		ids[id] = true
	}
	if len(ids) < 2 {
		t.Errorf("expected several biomes across the world, got %d", len(ids))
	}

	// Same seed, same map.
	again := h.image(n, n, 1, compute.ImageFormatRG32Float)
	h.run(p, biomeParams(17, n), compute.ImageBinding(0, again))
	second, _ := h.b.ReadImage(again)
	if string(second) != string(data) {
		t.Error("biome map should be deterministic for a seed")
	}
}

func TestTerrainSDFKernel(t *testing.T) {
	h := newHarness(t)
	biomeP := h.pipeline(KernelBiomeMap, 32, compute.BindingStorageImage)
	sdfP := h.pipeline(KernelTerrainSDF, 32,
		compute.BindingSampledImage, compute.BindingStorageImage, compute.BindingStorageImage)

	biome := h.image(8, 8, 1, compute.ImageFormatRG32Float)
	h.run(biomeP, biomeParams(17, 8), compute.ImageBinding(0, biome))

	const cs = 8
	sdf := h.image(cs, cs, cs, compute.ImageFormatR32Float)
	mat := h.image(cs, cs, cs, compute.ImageFormatR32Uint)
	params := compute.NewParams(32).
		Float32(0).Float32(-4).Float32(0).
		Float32(16000).Float32(0).Float32(0.2).
		Uint32(cs).Uint32(1234).Bytes()
	h.run(sdfP, params,
		compute.ImageBinding(0, biome), compute.ImageBinding(1, sdf), compute.ImageBinding(2, mat))

	sdfData, _ := h.b.ReadImage(sdf)
	matData, _ := h.b.ReadImage(mat)
	for i := 0; i < cs*cs*cs; i++ {
		d := f32(sdfData, i)
		m := binary.LittleEndian.Uint32(matData[i*4:])
		if (d < 0) != (m != 0) {
			t.Fatalf("voxel %d: distance %v with material %d", i, d, m)
		}
	}

	// Distance grows by one per voxel upward.
	i0 := (0*cs+2)*cs + 3
	i1 := (0*cs+3)*cs + 3
	if diff := f32(sdfData, i1) - f32(sdfData, i0); math.Abs(float64(diff-1)) > 1e-4 {
		t.Errorf("expected unit gradient along y, got %v", diff)
	}
}

// flatSDF is a plane at y = 3.5 inside the chunk.
func flatSDF(cs int) []byte {
	out := make([]byte, cs*cs*cs*4)
	for z := 0; z < cs; z++ {
		for y := 0; y < cs; y++ {
			for x := 0; x < cs; x++ {
				binary.LittleEndian.PutUint32(out[((z*cs+y)*cs+x)*4:], math.Float32bits(float32(y)-3.5))
			}
		}
	}
	return out
}

func vegParamsBytes(cs int32, spacing, density float32) []byte {
	steps := int32(math.Ceil(float64(cs) / float64(spacing)))
	return compute.NewParams(56).
		Float32(64).Float32(0).Float32(-32).
		Float32(spacing).Int32(cs).Int32(steps).
		Uint32(99).Int32(2).
		Float32(density).Float32(0.05).Float32(30).
		Float32(-100).Float32(500).Pad(8).Bytes()
}

func TestVegetationPlacementKernel(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(KernelVegetationPlacement, 56,
		compute.BindingSampledImage, compute.BindingSampledImage, compute.BindingStorageBuffer)

	const cs = 8
	sdf, err := h.b.AllocateImage(compute.ImageDesc{
		Size: compute.Extent{Width: cs, Height: cs, Depth: cs}, Format: compute.ImageFormatR32Float,
	}, flatSDF(cs))
	if err != nil {
		t.Fatalf("AllocateImage: %v", err)
	}
	biome := h.image(4, 4, 1, compute.ImageFormatRG32Float)
	size := 4 + maxPlacements*recordWords*4
	out, _ := h.b.AllocateBuffer(size, nil)

	h.run(p, vegParamsBytes(cs, 1, 1),
		compute.ImageBinding(0, sdf), compute.ImageBinding(1, biome), compute.BufferBinding(2, out))

	data, _ := h.b.ReadBuffer(out, 0, size)
	count := int(binary.LittleEndian.Uint32(data))
	if count == 0 {
		t.Fatal("expected placements on a flat surface at full density")
	}
	if count > cs*cs {
		t.Fatalf("expected at most one placement per cell, got %d", count)
	}
	for i := 0; i < count; i++ {
		base := 1 + i*recordWords
		x, y, z := f32(data, base), f32(data, base+1), f32(data, base+2)
		if math.Abs(float64(y-3.5)) > 1e-4 {
			t.Errorf("placement %d: expected y 3.5, got %v", i, y)
		}
		if x < 64 || x >= 64+cs || z < -32 || z >= -32+cs {
			t.Errorf("placement %d: (%v, %v) outside chunk", i, x, z)
		}
		if ny := f32(data, base+5); ny < 0.99 {
			t.Errorf("placement %d: expected upward normal, got %v", i, ny)
		}
		if variant := binary.LittleEndian.Uint32(data[(base+8)*4:]); variant > 3 {
			t.Errorf("placement %d: variant %d", i, variant)
		}
		if s := f32(data, base+10); s < 0.8 || s > 1.2 {
			t.Errorf("placement %d: scale %v", i, s)
		}
	}

	// A height window below the plane rejects everything.
	rejected, _ := h.b.AllocateBuffer(size, nil)
	params := vegParamsBytes(cs, 1, 1)
	binary.LittleEndian.PutUint32(params[48:], math.Float32bits(0))
	h.run(p, params,
		compute.ImageBinding(0, sdf), compute.ImageBinding(1, biome), compute.BufferBinding(2, rejected))
	data, _ = h.b.ReadBuffer(rejected, 0, 4)
	if n := binary.LittleEndian.Uint32(data); n != 0 {
		t.Errorf("expected height filter to reject all, got %d", n)
	}
}

func TestTransformPlacementKernel(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(KernelTransformPlacement, 16, compute.BindingReadOnlyBuffer, compute.BindingStorageBuffer)

	rec := make([]byte, 4+recordWords*4)
	binary.LittleEndian.PutUint32(rec, 1)
	put := func(word int, v float32) {
		binary.LittleEndian.PutUint32(rec[(1+word)*4:], math.Float32bits(v))
	}
	put(0, 1)
	put(1, 2)
	put(2, 3)
	put(10, 2)
	put(11, float32(math.Pi/2))

	in, _ := h.b.AllocateBuffer(len(rec), rec)
	out, _ := h.b.AllocateBuffer(instanceWords*4, nil)
	h.run(p, compute.NewParams(16).Uint32(1).Pad(16).Bytes(),
		compute.BufferBinding(0, in), compute.BufferBinding(1, out))

	data, _ := h.b.ReadBuffer(out, 0, instanceWords*4)
	want := []float32{0, 0, 2, 1, 0, 2, 0, 2, -2, 0, 0, 3}
	for i, w := range want {
		if got := f32(data, i); math.Abs(float64(got-w)) > 1e-5 {
			t.Errorf("element %d: expected %v, got %v", i, w, got)
		}
	}
}
