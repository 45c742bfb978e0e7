package vegetation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/compute"
	"github.com/zarigata/Erathia/internal/cache"
)

// Defaults.
const (
	DefaultMaxCacheEntries = 500
	DefaultHeightMin       = -100
	DefaultHeightMax       = 500
)

// Errors returned by the dispatcher.
var (
	// ErrUnavailable is returned after initialization failed.
	ErrUnavailable = errors.New("vegetation: GPU placement unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vegetation: dispatcher closed")

	// ErrNoTerrain is returned when the terrain chunk has no SDF image yet.
	ErrNoTerrain = errors.New("vegetation: terrain SDF not ready")

	// ErrNoBiomeMap is returned when no biome map image is available.
	ErrNoBiomeMap = errors.New("vegetation: no biome map")

	// ErrNotCached is returned for keys with no cache entry.
	ErrNotCached = errors.New("vegetation: placements not generated")

	// ErrNoPlacements is returned by TransformBuffer for empty entries.
	ErrNoPlacements = errors.New("vegetation: chunk has no placements")

	// ErrInvalidRequest is returned for non-positive grid spacing.
	ErrInvalidRequest = errors.New("vegetation: grid spacing must be positive")
)

// TerrainProvider exposes the SDF images of ready terrain chunks.
type TerrainProvider interface {
	// SDFImageForChunk returns compute.InvalidID for chunks that are not
	// ready.
	SDFImageForChunk(origin chunk.Coord) compute.ImageID
}

// BiomeMapProvider is implemented by terrain providers that own the biome
// map. It is used when a Request carries no biome map image.
type BiomeMapProvider interface {
	BiomeMapImage() (compute.ImageID, error)
}

// Config holds dispatcher parameters.
type Config struct {
	ChunkSize       int
	MaxCacheEntries int

	// HeightMin and HeightMax are used by requests that leave both zero.
	HeightMin float32
	HeightMax float32
}

// DefaultConfig returns the standard dispatcher parameters.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       chunk.DefaultSize,
		MaxCacheEntries: DefaultMaxCacheEntries,
		HeightMin:       DefaultHeightMin,
		HeightMax:       DefaultHeightMax,
	}
}

// Request describes one placement generation.
type Request struct {
	Origin chunk.Coord
	Type   int

	// Density is the placement probability per grid cell, in [0, 1].
	Density        float32
	GridSpacing    float32
	NoiseFrequency float32

	// MaxSlope is the steepest accepted surface, in degrees from flat.
	MaxSlope float32

	HeightMin float32
	HeightMax float32
	Seed      uint32

	// BiomeMap is the biome map image. InvalidID asks the terrain provider.
	BiomeMap compute.ImageID

	// CPUFallback waits for the device and decodes the placements. Without
	// it the call returns at once and the result stays on the device.
	CPUFallback bool
}

func (r *Request) key() Key { return Key{Origin: r.Origin, Type: r.Type} }

type cacheEntry struct {
	// placements is nil until decoded.
	placements []Placement

	// count is -1 until read back.
	count     int
	buffer    compute.BufferID
	transform compute.BufferID
}

// Dispatcher generates and caches vegetation placements.
//
// All methods are safe for concurrent use. The backend is borrowed.
type Dispatcher struct {
	backend compute.Backend
	cfg     Config
	initErr error

	placementProg *compute.Program
	transformProg *compute.Program

	terrainMu sync.RWMutex
	terrain   TerrainProvider

	mu       sync.Mutex
	closed   bool
	cache    *cache.LRU[Key, *cacheEntry]
	released []compute.BufferID

	timing          timing
	warnedNoTerrain atomic.Bool
}

// New creates a dispatcher. Like terrain.New it never fails: on
// initialization failure the dispatcher is unavailable and Err reports
// why. The transform kernel is optional; without it transforms are
// computed on the CPU.
func New(b compute.Backend, loader compute.SourceLoader, cfg Config, terrain TerrainProvider) *Dispatcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultSize
	}
	if cfg.HeightMin == 0 && cfg.HeightMax == 0 {
		cfg.HeightMin, cfg.HeightMax = DefaultHeightMin, DefaultHeightMax
	}
	d := &Dispatcher{backend: b, cfg: cfg, terrain: terrain}
	d.cache = cache.NewLRU[Key, *cacheEntry](max(cfg.MaxCacheEntries, 0), d.onEvict)

	if b == nil {
		d.initErr = errors.New("vegetation: no compute backend")
		slogger().Error("vegetation: GPU placement unavailable", "err", d.initErr)
		return d
	}
	prog, err := compute.BuildProgram(b, loader, KernelPlacement, placementBindings, placementParamsSize)
	if err != nil {
		d.initErr = fmt.Errorf("vegetation: placement pipeline: %w", err)
		slogger().Error("vegetation: GPU placement unavailable", "err", d.initErr)
		return d
	}
	d.placementProg = prog

	if tp, err := compute.BuildProgram(b, loader, KernelTransform, transformBindings, transformParamsSize); err != nil {
		slogger().Warn("vegetation: transform kernel unavailable, using CPU transforms", "err", err)
	} else {
		d.transformProg = tp
	}

	slogger().Info("vegetation: dispatcher ready",
		"backend", b.Name(), "gpu_transforms", d.transformProg != nil, "max_entries", cfg.MaxCacheEntries)
	return d
}

// IsAvailable reports whether placements can be generated.
func (d *Dispatcher) IsAvailable() bool {
	if d.initErr != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// Err returns the initialization error, or nil.
func (d *Dispatcher) Err() error { return d.initErr }

// HasGPUTransforms reports whether transforms are derived on the device.
func (d *Dispatcher) HasGPUTransforms() bool { return d.transformProg != nil }

// SetTerrainProvider replaces the terrain provider.
func (d *Dispatcher) SetTerrainProvider(p TerrainProvider) {
	d.terrainMu.Lock()
	d.terrain = p
	d.terrainMu.Unlock()
	d.warnedNoTerrain.Store(false)
}

// TerrainProvider returns the current terrain provider.
func (d *Dispatcher) TerrainProvider() TerrainProvider {
	d.terrainMu.RLock()
	defer d.terrainMu.RUnlock()
	return d.terrain
}

// GeneratePlacements returns the placements for req.
//
// A cached entry is returned immediately and becomes most recently used.
// Otherwise the chunk's terrain SDF must be ready; the placement kernel is
// dispatched and, when req.CPUFallback is set, awaited and decoded. In
// GPU-only mode the entry is cached with no decoded placements and the
// call returns an empty slice; use PlacementBuffer and TransformBuffer.
func (d *Dispatcher) GeneratePlacements(req Request) ([]Placement, error) {
	if d.initErr != nil {
		return nil, ErrUnavailable
	}
	if req.GridSpacing <= 0 || math.IsNaN(float64(req.GridSpacing)) {
		return nil, ErrInvalidRequest
	}
	key := req.key()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := d.cache.Get(key); ok {
		ps := slices.Clone(e.placements)
		d.mu.Unlock()
		return ps, nil
	}
	d.mu.Unlock()

	sdf, biome, err := d.inputs(&req)
	if err != nil {
		return nil, err
	}
	if req.HeightMin == 0 && req.HeightMax == 0 {
		req.HeightMin, req.HeightMax = d.cfg.HeightMin, d.cfg.HeightMax
	}
	req.Density = min(max(req.Density, 0), 1)

	start := time.Now()
	buf, err := d.backend.AllocateBuffer(PlacementBufferSize, nil)
	if err != nil {
		return nil, fmt.Errorf("vegetation: allocate placement buffer: %w", err)
	}

	steps := int(math.Ceil(float64(d.cfg.ChunkSize) / float64(req.GridSpacing)))
	groups := compute.Workgroups(steps, placementGroupSize)
	bindings := []compute.Binding{
		compute.ImageBinding(slotSDF, sdf),
		compute.ImageBinding(slotBiome, biome),
		compute.BufferBinding(slotOutput, buf),
	}
	if err := d.placementProg.Dispatch(d.backend, bindings, placementParams(&req, d.cfg.ChunkSize, steps), groups, 1, groups); err != nil {
		d.backend.ReleaseBuffer(buf)
		return nil, fmt.Errorf("vegetation: dispatch placement: %w", err)
	}
	if err := d.backend.Submit(); err != nil {
		d.backend.ReleaseBuffer(buf)
		return nil, fmt.Errorf("vegetation: submit placement: %w", err)
	}

	e := &cacheEntry{count: -1, buffer: buf}
	if req.CPUFallback {
		ps, err := d.readPlacements(buf)
		if err != nil {
			d.backend.ReleaseBuffer(buf)
			return nil, err
		}
		e.placements = ps
		e.count = len(ps)
	}
	elapsed := time.Since(start)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.backend.ReleaseBuffer(buf)
		return nil, ErrClosed
	}
	if prev, replaced := d.cache.Add(key, e); replaced {
		d.releaseEntryLocked(prev)
	}
	d.mu.Unlock()
	d.flushReleased()

	d.timing.record(req.Type, elapsed)
	slogger().Debug("vegetation: placements generated",
		"key", key, "count", e.count, "gpu_only", !req.CPUFallback, "elapsed", elapsed)
	return slices.Clone(e.placements), nil
}

// inputs resolves the SDF and biome map images for req.
func (d *Dispatcher) inputs(req *Request) (sdf, biome compute.ImageID, err error) {
	provider := d.TerrainProvider()
	if provider != nil {
		sdf = provider.SDFImageForChunk(req.Origin)
	}
	if sdf == compute.InvalidID {
		if d.warnedNoTerrain.CompareAndSwap(false, true) {
			slogger().Warn("vegetation: terrain SDF unavailable, skipping placement", "origin", req.Origin)
		}
		return 0, 0, ErrNoTerrain
	}

	biome = req.BiomeMap
	if biome == compute.InvalidID {
		if bp, ok := provider.(BiomeMapProvider); ok {
			if id, err := bp.BiomeMapImage(); err == nil {
				biome = id
			}
		}
	}
	if biome == compute.InvalidID {
		return 0, 0, ErrNoBiomeMap
	}
	return sdf, biome, nil
}

func (d *Dispatcher) readPlacements(buf compute.BufferID) ([]Placement, error) {
	if err := d.backend.Sync(); err != nil {
		return nil, fmt.Errorf("vegetation: sync: %w", err)
	}
	data, err := d.backend.ReadBuffer(buf, 0, PlacementBufferSize)
	if err != nil {
		return nil, fmt.Errorf("vegetation: read placements: %w", err)
	}
	return DecodePlacements(data)
}

// IsChunkReady reports whether placements for the key were generated.
func (d *Dispatcher) IsChunkReady(origin chunk.Coord, vegType int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Contains(Key{Origin: origin, Type: vegType})
}

// IsGPUReady reports whether both the placement and transform buffers of
// the key exist.
func (d *Dispatcher) IsGPUReady(origin chunk.Coord, vegType int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.cache.Peek(Key{Origin: origin, Type: vegType})
	return ok && e.buffer != compute.InvalidID && e.transform != compute.InvalidID
}

// PlacementBuffer returns the raw placement buffer of the key, or
// compute.InvalidID.
func (d *Dispatcher) PlacementBuffer(origin chunk.Coord, vegType int) compute.BufferID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.cache.Peek(Key{Origin: origin, Type: vegType}); ok {
		return e.buffer
	}
	return compute.InvalidID
}

// PlacementCount returns the number of placements of the key, reading only
// the count prefix of the device buffer.
func (d *Dispatcher) PlacementCount(origin chunk.Coord, vegType int) (int, error) {
	key := Key{Origin: origin, Type: vegType}
	d.mu.Lock()
	e, ok := d.cache.Peek(key)
	if !ok {
		d.mu.Unlock()
		return 0, ErrNotCached
	}
	if e.count >= 0 {
		n := e.count
		d.mu.Unlock()
		return n, nil
	}
	buf := e.buffer
	d.mu.Unlock()

	if err := d.backend.Sync(); err != nil {
		return 0, fmt.Errorf("vegetation: sync: %w", err)
	}
	data, err := d.backend.ReadBuffer(buf, 0, CountPrefix)
	if err != nil {
		return 0, fmt.Errorf("vegetation: read count: %w", err)
	}
	n, err := PlacementCountFrom(data)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	if cur, ok := d.cache.Peek(key); ok && cur == e {
		e.count = n
	}
	d.mu.Unlock()
	return n, nil
}

// TransformBuffer returns the per-instance transform buffer of the key,
// deriving it on first use: on the device when the transform kernel is
// available, otherwise on the CPU from the decoded placements.
func (d *Dispatcher) TransformBuffer(origin chunk.Coord, vegType int) (compute.BufferID, error) {
	key := Key{Origin: origin, Type: vegType}
	d.mu.Lock()
	e, ok := d.cache.Peek(key)
	if !ok {
		d.mu.Unlock()
		return compute.InvalidID, ErrNotCached
	}
	if e.transform != compute.InvalidID {
		id := e.transform
		d.mu.Unlock()
		return id, nil
	}
	buf, placements := e.buffer, e.placements
	d.mu.Unlock()

	count, err := d.PlacementCount(origin, vegType)
	if err != nil {
		return compute.InvalidID, err
	}
	if count == 0 {
		return compute.InvalidID, ErrNoPlacements
	}

	var out compute.BufferID
	if d.transformProg != nil {
		out, err = d.gpuTransforms(buf, count)
	} else {
		out, err = d.cpuTransforms(buf, placements)
	}
	if err != nil {
		return compute.InvalidID, err
	}

	d.mu.Lock()
	cur, ok := d.cache.Peek(key)
	switch {
	case !ok || cur != e:
		d.released = append(d.released, out)
		out, err = compute.InvalidID, ErrNotCached
	case e.transform != compute.InvalidID:
		d.released = append(d.released, out)
		out = e.transform
	default:
		e.transform = out
	}
	d.mu.Unlock()
	d.flushReleased()
	return out, err
}

func (d *Dispatcher) gpuTransforms(placements compute.BufferID, count int) (compute.BufferID, error) {
	out, err := d.backend.AllocateBuffer(count*TransformStride, nil)
	if err != nil {
		return compute.InvalidID, fmt.Errorf("vegetation: allocate transform buffer: %w", err)
	}
	bindings := []compute.Binding{
		compute.BufferBinding(slotPlacements, placements),
		compute.BufferBinding(slotTransforms, out),
	}
	groups := compute.Workgroups(count, transformGroupSize)
	if err := d.transformProg.Dispatch(d.backend, bindings, transformParams(count), groups, 1, 1); err != nil {
		d.backend.ReleaseBuffer(out)
		return compute.InvalidID, fmt.Errorf("vegetation: dispatch transforms: %w", err)
	}
	if err := d.backend.Submit(); err != nil {
		d.backend.ReleaseBuffer(out)
		return compute.InvalidID, fmt.Errorf("vegetation: submit transforms: %w", err)
	}
	return out, nil
}

func (d *Dispatcher) cpuTransforms(buf compute.BufferID, placements []Placement) (compute.BufferID, error) {
	if placements == nil {
		ps, err := d.readPlacements(buf)
		if err != nil {
			return compute.InvalidID, err
		}
		placements = ps
	}
	data := EncodeTransforms(placements)
	out, err := d.backend.AllocateBuffer(max(len(data), TransformStride), data)
	if err != nil {
		return compute.InvalidID, fmt.Errorf("vegetation: allocate transform buffer: %w", err)
	}
	return out, nil
}

// ClearCache releases every cached buffer and empties the cache.
func (d *Dispatcher) ClearCache() {
	d.mu.Lock()
	for _, e := range d.cache.Values() {
		d.releaseEntryLocked(e)
	}
	d.cache.Clear()
	d.mu.Unlock()
	d.flushReleased()
}

// SetMaxCacheEntries sets the cache bound, evicting immediately when the
// cache holds more. 0 disables eviction.
func (d *Dispatcher) SetMaxCacheEntries(n int) {
	d.mu.Lock()
	d.cache.Resize(max(n, 0))
	d.mu.Unlock()
	d.flushReleased()
}

// MaxCacheEntries returns the cache bound.
func (d *Dispatcher) MaxCacheEntries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Capacity()
}

// CacheSize returns the number of cached entries.
func (d *Dispatcher) CacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Len()
}

// CacheStats returns LRU counters.
func (d *Dispatcher) CacheStats() cache.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Stats()
}

// Timing returns generation latency statistics.
func (d *Dispatcher) Timing() TimingStats { return d.timing.snapshot() }

// TypeTiming returns the latency statistics of one vegetation type.
func (d *Dispatcher) TypeTiming(vegType int) TypeTiming { return d.timing.forType(vegType) }

// ResetTiming clears the latency statistics.
func (d *Dispatcher) ResetTiming() { d.timing.reset() }

// Close waits for outstanding device work and releases every buffer and
// pipeline. The backend stays open.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	if d.initErr != nil {
		return nil
	}

	err := d.backend.Sync()
	d.ClearCache()
	d.transformProg.Release(d.backend)
	d.placementProg.Release(d.backend)
	return err
}

func (d *Dispatcher) onEvict(key Key, e *cacheEntry) {
	d.releaseEntryLocked(e)
	slogger().Debug("vegetation: entry evicted", "key", key)
}

func (d *Dispatcher) releaseEntryLocked(e *cacheEntry) {
	if e.buffer != compute.InvalidID {
		d.released = append(d.released, e.buffer)
		e.buffer = compute.InvalidID
	}
	if e.transform != compute.InvalidID {
		d.released = append(d.released, e.transform)
		e.transform = compute.InvalidID
	}
}

// flushReleased hands queued buffer releases to the backend with no lock
// held.
func (d *Dispatcher) flushReleased() {
	d.mu.Lock()
	ids := d.released
	d.released = nil
	d.mu.Unlock()
	for _, id := range ids {
		d.backend.ReleaseBuffer(id)
	}
}
