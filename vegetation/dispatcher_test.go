package vegetation

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/zarigata/Erathia/backend/software"
	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/compute"
	"github.com/zarigata/Erathia/internal/assets"
)

const testChunk = 8

// flatTerrain serves one flat-ground SDF image for every chunk it knows.
type flatTerrain struct {
	mu     sync.Mutex
	sdf    compute.ImageID
	biome  compute.ImageID
	chunks map[chunk.Coord]bool
}

func (f *flatTerrain) SDFImageForChunk(origin chunk.Coord) compute.ImageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.chunks[origin] {
		return compute.InvalidID
	}
	return f.sdf
}

func (f *flatTerrain) BiomeMapImage() (compute.ImageID, error) {
	if f.biome == compute.InvalidID {
		return compute.InvalidID, errors.New("no biome map")
	}
	return f.biome, nil
}

func (f *flatTerrain) add(origins ...chunk.Coord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range origins {
		f.chunks[o] = true
	}
}

func flatSDF() []byte {
	out := make([]byte, testChunk*testChunk*testChunk*4)
	for z := range testChunk {
		for y := range testChunk {
			for x := range testChunk {
				i := chunk.Index(x, y, z, testChunk)
				binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(y)-3.5))
			}
		}
	}
	return out
}

func newTestDispatcher(t *testing.T, loader compute.SourceLoader) (*Dispatcher, *software.Backend, *flatTerrain) {
	t.Helper()
	b := software.New(software.WithWorkers(2))
	sdf, err := b.AllocateImage(compute.ImageDesc{
		Label:  "flat",
		Size:   compute.Extent{Width: testChunk, Height: testChunk, Depth: testChunk},
		Format: compute.ImageFormatR32Float,
	}, flatSDF())
	if err != nil {
		t.Fatalf("AllocateImage: %v", err)
	}
	biome, err := b.AllocateImage(compute.ImageDesc{
		Label:  "biome",
		Size:   compute.Extent{Width: 4, Height: 4, Depth: 1},
		Format: compute.ImageFormatRG32Float,
	}, nil)
	if err != nil {
		t.Fatalf("AllocateImage: %v", err)
	}
	terrain := &flatTerrain{sdf: sdf, biome: biome, chunks: make(map[chunk.Coord]bool)}

	if loader == nil {
		loader = assets.NewStore("")
	}
	cfg := DefaultConfig()
	cfg.ChunkSize = testChunk
	d := New(b, loader, cfg, terrain)
	if !d.IsAvailable() {
		t.Fatalf("dispatcher unavailable: %v", d.Err())
	}
	t.Cleanup(func() {
		_ = d.Close()
		_ = b.Close()
	})
	return d, b, terrain
}

func request(origin chunk.Coord, vegType int, cpu bool) Request {
	return Request{
		Origin:         origin,
		Type:           vegType,
		Density:        1,
		GridSpacing:    1,
		NoiseFrequency: 0.05,
		MaxSlope:       30,
		Seed:           42,
		CPUFallback:    cpu,
	}
}

func TestGeneratePlacementsCPU(t *testing.T) {
	d, _, terrain := newTestDispatcher(t, nil)
	origin := chunk.Coord{X: 64, Y: 0, Z: -32}
	terrain.add(origin)

	ps, err := d.GeneratePlacements(request(origin, 1, true))
	if err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if len(ps) == 0 {
		t.Fatal("expected placements on flat ground")
	}
	for i, p := range ps {
		if math.Abs(float64(p.Position.Y-3.5)) > 1e-4 {
			t.Errorf("placement %d: expected y 3.5, got %v", i, p.Position.Y)
		}
		if p.Position.X < 64 || p.Position.X >= 64+testChunk {
			t.Errorf("placement %d: x %v outside chunk", i, p.Position.X)
		}
	}
	if !d.IsChunkReady(origin, 1) {
		t.Error("expected chunk ready after generation")
	}
	if d.IsChunkReady(origin, 2) {
		t.Error("expected other vegetation type not ready")
	}

	// A second call is served from the cache and is deterministic.
	again, err := d.GeneratePlacements(request(origin, 1, true))
	if err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if len(again) != len(ps) || again[0] != ps[0] {
		t.Error("expected cached placements to match")
	}
	if st := d.CacheStats(); st.Hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", st.Hits)
	}
	if n, err := d.PlacementCount(origin, 1); err != nil || n != len(ps) {
		t.Errorf("expected count %d, got %d, %v", len(ps), n, err)
	}
}

func TestGeneratePlacementsNoTerrain(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	if _, err := d.GeneratePlacements(request(chunk.Coord{}, 0, true)); !errors.Is(err, ErrNoTerrain) {
		t.Errorf("expected ErrNoTerrain, got %v", err)
	}
	if d.CacheSize() != 0 {
		t.Errorf("expected empty cache, got %d", d.CacheSize())
	}
	if _, err := d.TransformBuffer(chunk.Coord{}, 0); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected ErrNotCached, got %v", err)
	}
}

func TestGeneratePlacementsInvalid(t *testing.T) {
	d, _, terrain := newTestDispatcher(t, nil)
	terrain.add(chunk.Coord{})
	req := request(chunk.Coord{}, 0, true)
	req.GridSpacing = 0
	if _, err := d.GeneratePlacements(req); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}

	terrain.biome = compute.InvalidID
	if _, err := d.GeneratePlacements(request(chunk.Coord{}, 0, true)); !errors.Is(err, ErrNoBiomeMap) {
		t.Errorf("expected ErrNoBiomeMap, got %v", err)
	}
}

func TestGPUOnlyMode(t *testing.T) {
	d, _, terrain := newTestDispatcher(t, nil)
	origin := chunk.Coord{X: 8}
	terrain.add(origin)

	ps, err := d.GeneratePlacements(request(origin, 3, false))
	if err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if len(ps) != 0 {
		t.Errorf("expected no decoded placements in GPU-only mode, got %d", len(ps))
	}
	if d.PlacementBuffer(origin, 3) == compute.InvalidID {
		t.Fatal("expected a placement buffer")
	}
	if d.IsGPUReady(origin, 3) {
		t.Error("expected GPU not ready before the transform buffer exists")
	}

	n, err := d.PlacementCount(origin, 3)
	if err != nil {
		t.Fatalf("PlacementCount: %v", err)
	}
	if n == 0 {
		t.Fatal("expected placements on flat ground")
	}

	tb, err := d.TransformBuffer(origin, 3)
	if err != nil {
		t.Fatalf("TransformBuffer: %v", err)
	}
	if !d.IsGPUReady(origin, 3) {
		t.Error("expected GPU ready after the transform buffer exists")
	}
	if again, _ := d.TransformBuffer(origin, 3); again != tb {
		t.Error("expected the transform buffer to be reused")
	}
	checkTransforms(t, d, origin, 3, tb, n)
}

func TestCPUTransforms(t *testing.T) {
	store := assets.NewStore("")
	loader := compute.SourceLoaderFunc(func(name string) (compute.KernelSource, error) {
		if name == KernelTransform {
			return compute.KernelSource{}, compute.ErrKernelNotFound
		}
		return store.Load(name)
	})
	d, _, terrain := newTestDispatcher(t, loader)
	if d.HasGPUTransforms() {
		t.Fatal("expected CPU transforms without the transform kernel")
	}
	origin := chunk.Coord{Z: 16}
	terrain.add(origin)

	if _, err := d.GeneratePlacements(request(origin, 0, false)); err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	n, err := d.PlacementCount(origin, 0)
	if err != nil {
		t.Fatalf("PlacementCount: %v", err)
	}
	tb, err := d.TransformBuffer(origin, 0)
	if err != nil {
		t.Fatalf("TransformBuffer: %v", err)
	}
	checkTransforms(t, d, origin, 0, tb, n)
}

func checkTransforms(t *testing.T, d *Dispatcher, origin chunk.Coord, vegType int, tb compute.BufferID, n int) {
	t.Helper()
	if err := d.backend.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	raw, err := d.backend.ReadBuffer(d.PlacementBuffer(origin, vegType), 0, PlacementBufferSize)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	ps, err := DecodePlacements(raw)
	if err != nil {
		t.Fatalf("DecodePlacements: %v", err)
	}
	data, err := d.backend.ReadBuffer(tb, 0, n*TransformStride)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	for i, p := range ps {
		want := TransformOf(p)
		for j := range TransformFloats {
			got := math.Float32frombits(binary.LittleEndian.Uint32(data[i*TransformStride+j*4:]))
			if math.Abs(float64(got-want[j])) > 1e-4 {
				t.Fatalf("instance %d element %d: expected %v, got %v", i, j, want[j], got)
			}
		}
	}
}

func TestEmptyChunkTransform(t *testing.T) {
	d, _, terrain := newTestDispatcher(t, nil)
	origin := chunk.Coord{X: -8}
	terrain.add(origin)

	req := request(origin, 0, true)
	req.HeightMin, req.HeightMax = 100, 200
	ps, err := d.GeneratePlacements(req)
	if err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("expected height window to reject all, got %d", len(ps))
	}
	if _, err := d.TransformBuffer(origin, 0); !errors.Is(err, ErrNoPlacements) {
		t.Errorf("expected ErrNoPlacements, got %v", err)
	}
}

func TestCacheEviction(t *testing.T) {
	d, b, terrain := newTestDispatcher(t, nil)
	d.SetMaxCacheEntries(2)
	a, bb, c := chunk.Coord{X: 0}, chunk.Coord{X: 8}, chunk.Coord{X: 16}
	terrain.add(a, bb, c)

	for _, o := range []chunk.Coord{a, bb} {
		if _, err := d.GeneratePlacements(request(o, 0, true)); err != nil {
			t.Fatalf("GeneratePlacements: %v", err)
		}
	}
	base := b.Stats().Buffers

	if _, err := d.GeneratePlacements(request(c, 0, true)); err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if d.CacheSize() != 2 {
		t.Errorf("expected 2 entries, got %d", d.CacheSize())
	}
	if d.IsChunkReady(a, 0) {
		t.Error("expected the least recently used entry to be evicted")
	}
	if !d.IsChunkReady(bb, 0) || !d.IsChunkReady(c, 0) {
		t.Error("expected the newest entries to remain")
	}
	if got := b.Stats().Buffers; got != base {
		t.Errorf("expected evicted buffer released (%d buffers), got %d", base, got)
	}

	d.ClearCache()
	if d.CacheSize() != 0 {
		t.Errorf("expected empty cache, got %d", d.CacheSize())
	}
	if got := b.Stats().Buffers; got != base-2 {
		t.Errorf("expected all buffers released (%d), got %d", base-2, got)
	}

	d.SetMaxCacheEntries(0)
	if d.MaxCacheEntries() != 0 {
		t.Errorf("expected unbounded cache, got %d", d.MaxCacheEntries())
	}
}

func TestTiming(t *testing.T) {
	d, _, terrain := newTestDispatcher(t, nil)
	terrain.add(chunk.Coord{}, chunk.Coord{X: 8})

	if _, err := d.GeneratePlacements(request(chunk.Coord{}, 1, true)); err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if _, err := d.GeneratePlacements(request(chunk.Coord{X: 8}, 2, true)); err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	// Cache hits are not timed.
	if _, err := d.GeneratePlacements(request(chunk.Coord{}, 1, true)); err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}

	st := d.Timing()
	if st.TotalCalls != 2 {
		t.Errorf("expected 2 timed calls, got %d", st.TotalCalls)
	}
	if st.Last <= 0 || st.Average <= 0 {
		t.Errorf("expected positive timings, got %+v", st)
	}
	if tt := d.TypeTiming(1); tt.Count != 1 || tt.Average() <= 0 {
		t.Errorf("expected one timed call for type 1, got %+v", tt)
	}

	d.ResetTiming()
	if st := d.Timing(); st.TotalCalls != 0 || len(st.PerType) != 0 {
		t.Errorf("expected reset timing, got %+v", st)
	}
}

func TestCloseReleasesBuffers(t *testing.T) {
	d, b, terrain := newTestDispatcher(t, nil)
	terrain.add(chunk.Coord{})
	if _, err := d.GeneratePlacements(request(chunk.Coord{}, 0, false)); err != nil {
		t.Fatalf("GeneratePlacements: %v", err)
	}
	if _, err := d.TransformBuffer(chunk.Coord{}, 0); err != nil {
		t.Fatalf("TransformBuffer: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := b.Stats().Buffers; got != 0 {
		t.Errorf("expected no live buffers, got %d", got)
	}
	if d.IsAvailable() {
		t.Error("expected dispatcher unavailable after Close")
	}
	if _, err := d.GeneratePlacements(request(chunk.Coord{}, 0, true)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	d := New(nil, assets.NewStore(""), DefaultConfig(), nil)
	if d.IsAvailable() || d.Err() == nil {
		t.Fatal("expected unavailable dispatcher without a backend")
	}
	if _, err := d.GeneratePlacements(request(chunk.Coord{}, 0, true)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
