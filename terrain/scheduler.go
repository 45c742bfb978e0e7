package terrain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/compute"
	"github.com/zarigata/Erathia/internal/cache"
)

// ErrNoCPUData is returned by CachedVoxels for chunks cached without a
// readback.
var ErrNoCPUData = errors.New("terrain: chunk has no CPU voxel data")

// Scheduler generates terrain chunks on a compute backend.
//
// All methods are safe for concurrent use. The backend is borrowed: Close
// releases the scheduler's resources but does not close the backend.
type Scheduler struct {
	backend compute.Backend
	loader  compute.SourceLoader
	cfg     Config
	initErr error

	biomeProg *compute.Program
	sdfProg   *compute.Program

	// biomeMu serializes biome map creation and replacement, and is held
	// while an SDF dispatch binding the map is recorded. It is never held
	// together with mu.
	biomeMu    sync.Mutex
	biomeImage compute.ImageID
	biomeCPU   *BiomeMap

	mu       sync.Mutex
	closed   bool
	queue    *requestQueue
	inFlight map[chunk.Coord]*chunkState
	orphans  []*chunkState
	cache    *cache.LRU[chunk.Coord, *entry]
	released []compute.ImageID

	// retired holds replaced biome maps until a completion pass has
	// synced past every dispatch that bound them.
	retired []compute.ImageID

	observer      chunk.Vec3
	budget        time.Duration
	estimate      time.Duration
	staleDistance float32

	dispatchedThisFrame int
	completedThisFrame  int
	frameGPU            time.Duration
	pendingGPU          time.Duration
	completedSinceTick  int

	totalGenerated uint64
	measured       uint64
	totalGPU       time.Duration
	droppedStale   uint64
	evicted        uint64
	canceled       uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler and starts its completion poller.
//
// New never fails. When the backend is missing or a kernel cannot be
// built the scheduler is returned unavailable: IsAvailable reports false,
// Err holds the cause and every generation call returns ErrUnavailable.
func New(b compute.Backend, loader compute.SourceLoader, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		backend:       b,
		loader:        loader,
		cfg:           cfg,
		queue:         newRequestQueue(),
		inFlight:      make(map[chunk.Coord]*chunkState),
		budget:        cfg.FrameBudget,
		estimate:      cfg.CostEstimate,
		staleDistance: cfg.StaleDistance,
	}
	s.cache = cache.NewLRU[chunk.Coord, *entry](cfg.MaxCachedChunks, s.onEvict)

	if err := s.init(); err != nil {
		s.initErr = err
		slogger().Error("terrain: GPU generation unavailable", "err", err)
		return s
	}

	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.pollLoop()

	slogger().Info("terrain: scheduler ready",
		"backend", b.Name(), "chunk_size", cfg.ChunkSize, "budget", cfg.FrameBudget)
	return s
}

func (s *Scheduler) init() error {
	if s.backend == nil {
		return errors.New("terrain: no compute backend")
	}
	if s.cfg.ChunkSize%sdfGroupSize != 0 {
		return fmt.Errorf("terrain: chunk size %d is not a multiple of %d", s.cfg.ChunkSize, sdfGroupSize)
	}

	biome, err := compute.BuildProgram(s.backend, s.loader, KernelBiomeMap, biomeBindings, biomeParamsSize)
	if err != nil {
		return fmt.Errorf("terrain: biome pipeline: %w", err)
	}
	sdf, err := compute.BuildProgram(s.backend, s.loader, KernelSDF, sdfBindings, sdfParamsSize)
	if err != nil {
		biome.Release(s.backend)
		return fmt.Errorf("terrain: SDF pipeline: %w", err)
	}
	s.biomeProg, s.sdfProg = biome, sdf
	slogger().Debug("terrain: pipelines created", "biome", biome.Pipeline, "sdf", sdf.Pipeline)
	return nil
}

// IsAvailable reports whether the scheduler can generate chunks.
func (s *Scheduler) IsAvailable() bool {
	if s.initErr != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Err returns the initialization error, or nil.
func (s *Scheduler) Err() error { return s.initErr }

// Status returns a human-readable availability summary.
func (s *Scheduler) Status() string {
	if s.initErr != nil {
		return "unavailable: " + s.initErr.Error()
	}
	if !s.IsAvailable() {
		return "closed"
	}
	return "ready (" + s.backend.Name() + ")"
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

func (s *Scheduler) usable() error {
	if s.initErr != nil {
		return ErrUnavailable
	}
	return nil
}

func (s *Scheduler) priorityLocked(origin chunk.Coord) float32 {
	return origin.Center(s.cfg.ChunkSize).Distance(s.observer)
}

// RequestChunk asks for the chunk at origin.
//
// A cached chunk that satisfies lod returns StatusReady at once. LOD 0 is
// generated synchronously: the call dispatches, waits for the device,
// reads the voxels back, caches them and decodes them into sink. Coarser
// levels are queued by distance to the observer and return StatusPending;
// poll with PollChunkTextures. sink may be nil.
func (s *Scheduler) RequestChunk(origin chunk.Coord, lod int, sink chunk.VoxelSink) (Status, error) {
	if err := s.usable(); err != nil {
		return StatusUnavailable, err
	}
	if lod < 0 {
		return StatusUnavailable, ErrInvalidLOD
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return StatusUnavailable, ErrClosed
	}
	if e, ok := s.cache.Get(origin); ok && e.satisfies(lod) {
		sdf, mat := e.sdfData, e.materialData
		s.mu.Unlock()
		return s.deliver(sdf, mat, sink)
	}
	if lod > 0 {
		s.enqueueLocked(origin, lod)
		s.mu.Unlock()
		return StatusPending, nil
	}
	return s.generateSync(origin, sink)
}

// RequestChunkAsync queues origin at lod without blocking, including LOD 0,
// which is read back by the poller. It returns StatusReady when the cache
// already satisfies the request.
func (s *Scheduler) RequestChunkAsync(origin chunk.Coord, lod int) (Status, error) {
	if err := s.usable(); err != nil {
		return StatusUnavailable, err
	}
	if lod < 0 {
		return StatusUnavailable, ErrInvalidLOD
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StatusUnavailable, ErrClosed
	}
	if e, ok := s.cache.Get(origin); ok && e.satisfies(lod) {
		return StatusReady, nil
	}
	s.enqueueLocked(origin, lod)
	return StatusPending, nil
}

func (s *Scheduler) enqueueLocked(origin chunk.Coord, lod int) {
	if st, ok := s.inFlight[origin]; ok && st.lod <= lod {
		return
	}
	if s.queue.push(origin, lod, s.priorityLocked(origin), time.Now().UnixNano()) {
		slogger().Debug("terrain: chunk queued", "origin", origin, "lod", lod, "depth", s.queue.len())
	}
}

// CancelChunk drops a queued request for origin. Chunks already dispatched
// run to completion. It reports whether a request was removed.
func (s *Scheduler) CancelChunk(origin chunk.Coord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.queue.remove(origin) {
		return false
	}
	s.canceled++
	return true
}

// generateSync runs the LOD 0 path. It is entered with mu held and
// returns with it released. A caller that finds another synchronous
// generation of origin running waits for it and is served from the cache.
func (s *Scheduler) generateSync(origin chunk.Coord, sink chunk.VoxelSink) (Status, error) {
	for {
		cur, ok := s.inFlight[origin]
		if !ok || !cur.sync {
			break
		}
		s.mu.Unlock()
		<-cur.done
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return StatusUnavailable, ErrClosed
		}
		if e, ok := s.cache.Get(origin); ok && e.satisfies(0) {
			sdf, mat := e.sdfData, e.materialData
			s.mu.Unlock()
			return s.deliver(sdf, mat, sink)
		}
	}

	st := &chunkState{origin: origin, lod: 0, physics: true, phase: phaseDispatching, sync: true, done: make(chan struct{})}
	defer close(st.done)
	if cur, ok := s.inFlight[origin]; ok {
		s.orphanLocked(cur)
		st.previous = cur.previous
		cur.previous = nil
	}
	if e, ok := s.cache.Remove(origin); ok {
		if st.previous != nil {
			s.releaseEntryLocked(st.previous)
		}
		st.previous = e
	}
	s.queue.remove(origin)
	s.inFlight[origin] = st
	s.mu.Unlock()

	start := time.Now()
	sdfData, matData, err := s.runSync(st)
	elapsed := time.Since(start)

	s.mu.Lock()
	if s.inFlight[origin] == st {
		delete(s.inFlight, origin)
	}
	if err != nil {
		if st.previous != nil {
			s.cacheLocked(origin, st.previous)
		}
		s.releaseStateLocked(st)
		s.mu.Unlock()
		s.flushReleased()
		if errors.Is(err, chunk.ErrSizeMismatch) {
			slogger().Error("terrain: readback size mismatch", "origin", origin, "err", err)
		} else {
			slogger().Warn("terrain: synchronous generation failed", "origin", origin, "err", err)
		}
		return StatusUnavailable, err
	}
	st.sdfData, st.materialData = sdfData, matData
	st.gpuComplete, st.readbackDone = true, true
	s.recordTimingLocked(elapsed)
	s.migrateLocked(st)
	s.mu.Unlock()
	s.flushReleased()

	slogger().Debug("terrain: chunk generated", "origin", origin, "lod", 0, "elapsed", elapsed)
	return s.deliver(sdfData, matData, sink)
}

// deliver decodes cached voxels into sink, which may be nil.
func (s *Scheduler) deliver(sdf, material []byte, sink chunk.VoxelSink) (Status, error) {
	if sink != nil && sdf != nil {
		if err := chunk.Decode(sdf, material, s.cfg.ChunkSize, sink); err != nil {
			return StatusUnavailable, err
		}
	}
	return StatusReady, nil
}

func (s *Scheduler) runSync(st *chunkState) (sdf, material []byte, err error) {
	if err := s.record(st); err != nil {
		return nil, nil, err
	}
	if err := s.backend.Submit(); err != nil {
		return nil, nil, fmt.Errorf("terrain: submit: %w", err)
	}
	if err := s.backend.Sync(); err != nil {
		return nil, nil, fmt.Errorf("terrain: sync: %w", err)
	}
	return s.readback(st)
}

// readback reads and validates the voxels of a completed chunk.
func (s *Scheduler) readback(st *chunkState) (sdf, material []byte, err error) {
	sdf, err = s.backend.ReadImage(st.sdf)
	if err != nil {
		return nil, nil, fmt.Errorf("terrain: read SDF: %w", err)
	}
	material, err = s.backend.ReadImage(st.material)
	if err != nil {
		return nil, nil, fmt.Errorf("terrain: read material: %w", err)
	}
	if err := chunk.Decode(sdf, material, s.cfg.ChunkSize, nil); err != nil {
		return nil, nil, err
	}
	return sdf, material, nil
}

// record allocates the chunk images and records its SDF dispatch. On
// failure everything allocated here is released again.
func (s *Scheduler) record(st *chunkState) error {
	s.biomeMu.Lock()
	defer s.biomeMu.Unlock()
	biome, err := s.ensureBiomeMapLocked()
	if err != nil {
		return err
	}

	cs := s.cfg.ChunkSize
	sdf, err := s.backend.AllocateImage(volumeDesc("terrain sdf "+st.origin.String(), cs, compute.ImageFormatR32Float), nil)
	if err != nil {
		return fmt.Errorf("terrain: allocate SDF image: %w", err)
	}
	mat, err := s.backend.AllocateImage(volumeDesc("terrain material "+st.origin.String(), cs, compute.ImageFormatR32Uint), nil)
	if err != nil {
		s.backend.ReleaseImage(sdf)
		return fmt.Errorf("terrain: allocate material image: %w", err)
	}

	groups := compute.Workgroups(cs, sdfGroupSize)
	bindings := []compute.Binding{
		compute.ImageBinding(sdfSlotBiome, biome),
		compute.ImageBinding(sdfSlotSDF, sdf),
		compute.ImageBinding(sdfSlotMaterial, mat),
	}
	if err := s.sdfProg.Dispatch(s.backend, bindings, sdfParams(&s.cfg, st.origin), groups, groups, groups); err != nil {
		s.backend.ReleaseImage(sdf)
		s.backend.ReleaseImage(mat)
		return fmt.Errorf("terrain: dispatch SDF: %w", err)
	}
	st.sdf, st.material = sdf, mat
	return nil
}

// Tick runs one frame of scheduling. It folds in GPU time measured since
// the last tick, then dispatches queued chunks nearest first while the
// frame's accumulated cost stays under budget. A budget of 0 uses the
// configured frame budget. It returns the number of chunks dispatched.
func (s *Scheduler) Tick(budget time.Duration) int {
	if s.usable() != nil {
		return 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	if budget <= 0 {
		budget = s.budget
	}
	s.dispatchedThisFrame = 0
	s.completedThisFrame = s.completedSinceTick
	s.completedSinceTick = 0
	s.frameGPU = s.pendingGPU
	s.pendingGPU = 0

	estimate := s.costEstimateLocked()
	var batch []*chunkState
	for s.frameGPU < budget {
		r, ok := s.queue.pop()
		if !ok {
			break
		}
		if s.staleDistance > 0 && r.priority > s.staleDistance {
			s.droppedStale++
			slogger().Debug("terrain: dropped stale request", "origin", r.origin, "distance", r.priority)
			continue
		}
		if _, ok := s.inFlight[r.origin]; ok {
			continue
		}
		st := &chunkState{origin: r.origin, lod: r.lod, physics: r.lod == 0, phase: phaseDispatching}
		if e, ok := s.cache.Peek(r.origin); ok {
			if e.satisfies(r.lod) {
				continue
			}
			s.cache.Remove(r.origin)
			st.previous = e
		}
		s.inFlight[r.origin] = st
		batch = append(batch, st)
		s.frameGPU += estimate
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	recorded := make([]*chunkState, 0, len(batch))
	var failed []*chunkState
	for _, st := range batch {
		if err := s.record(st); err != nil {
			slogger().Warn("terrain: dispatch failed", "origin", st.origin, "err", err)
			failed = append(failed, st)
			continue
		}
		recorded = append(recorded, st)
	}
	submitted := time.Now()
	if len(recorded) > 0 {
		if err := s.backend.Submit(); err != nil {
			slogger().Error("terrain: submit failed", "err", err)
			failed = append(failed, recorded...)
			recorded = nil
		}
	}

	s.mu.Lock()
	for _, st := range recorded {
		st.phase = phaseSubmitted
		st.dispatched = submitted
		slogger().Debug("terrain: chunk dispatched", "origin", st.origin, "lod", st.lod)
	}
	for _, st := range failed {
		s.frameGPU -= estimate
		if s.inFlight[st.origin] == st {
			delete(s.inFlight, st.origin)
			if st.previous != nil {
				s.cacheLocked(st.origin, st.previous)
				st.previous = nil
			}
		}
		st.failed = true
		s.releaseStateLocked(st)
	}
	s.dispatchedThisFrame = len(recorded)
	s.mu.Unlock()
	s.flushReleased()

	return len(recorded)
}

func (s *Scheduler) costEstimateLocked() time.Duration {
	if s.measured == 0 {
		return s.estimate
	}
	return s.totalGPU / time.Duration(s.measured) //nolint:gosec // count of chunks
}

func (s *Scheduler) recordTimingLocked(d time.Duration) {
	s.measured++
	s.totalGPU += d
}

// PollChunkTextures reports whether origin is ready on the device. It
// never blocks on the GPU. Once a chunk reports ready it stays ready
// unless it is evicted from a bounded cache.
func (s *Scheduler) PollChunkTextures(origin chunk.Coord) Textures {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache.Get(origin); ok {
		return e.textures()
	}
	st, ok := s.inFlight[origin]
	if !ok {
		return Textures{}
	}
	if st.gpuComplete {
		return Textures{
			Ready:      true,
			HasCPUData: st.sdfData != nil,
			SDF:        st.sdf,
			Material:   st.material,
			LOD:        st.lod,
		}
	}
	if st.previous != nil {
		return st.previous.textures()
	}
	return Textures{}
}

// SDFImageForChunk returns the SDF image of a ready chunk, or
// compute.InvalidID.
func (s *Scheduler) SDFImageForChunk(origin chunk.Coord) compute.ImageID {
	tex := s.PollChunkTextures(origin)
	if !tex.Ready {
		return compute.InvalidID
	}
	return tex.SDF
}

// CachedVoxels decodes the CPU copy of a cached chunk into sink.
func (s *Scheduler) CachedVoxels(origin chunk.Coord, sink chunk.VoxelSink) error {
	s.mu.Lock()
	e, ok := s.cache.Get(origin)
	var sdf, mat []byte
	if ok {
		sdf, mat = e.sdfData, e.materialData
	}
	s.mu.Unlock()
	if !ok || sdf == nil {
		return fmt.Errorf("%w: %v", ErrNoCPUData, origin)
	}
	return chunk.Decode(sdf, mat, s.cfg.ChunkSize, sink)
}

// SetObserverPosition moves the observer and reorders the queue by the
// new distances.
func (s *Scheduler) SetObserverPosition(pos chunk.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = pos
	s.queue.reprioritize(s.priorityLocked)
}

// ObserverPosition returns the last observer position.
func (s *Scheduler) ObserverPosition() chunk.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer
}

// SetFrameBudget sets the default budget used by Tick(0).
func (s *Scheduler) SetFrameBudget(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.budget = d
	s.mu.Unlock()
}

// SetCostEstimate sets the per-chunk cost assumed until chunks have been
// measured.
func (s *Scheduler) SetCostEstimate(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.estimate = d
	s.mu.Unlock()
}

// SetStaleDistance sets the distance beyond which queued requests are
// dropped at dispatch time. 0 disables the check.
func (s *Scheduler) SetStaleDistance(d float32) {
	s.mu.Lock()
	s.staleDistance = max(d, 0)
	s.mu.Unlock()
}

// SetMaxCachedChunks bounds the chunk cache, evicting immediately when it
// holds more. 0 is unbounded.
func (s *Scheduler) SetMaxCachedChunks(n int) {
	s.mu.Lock()
	s.cache.Resize(max(n, 0))
	s.mu.Unlock()
	s.flushReleased()
}

// Telemetry returns a snapshot of scheduler counters.
func (s *Scheduler) Telemetry() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	avg := s.estimate
	if s.measured > 0 {
		avg = s.totalGPU / time.Duration(s.measured) //nolint:gosec // count of chunks
	}
	return Telemetry{
		DispatchedThisFrame:   s.dispatchedThisFrame,
		CompletedThisFrame:    s.completedThisFrame,
		TotalGenerated:        s.totalGenerated,
		AverageGPUTimeMs:      ms(avg),
		CurrentFrameGPUTimeMs: ms(s.frameGPU),
		BudgetMs:              ms(s.budget),
		QueueDepth:            s.queue.len(),
		InFlightCount:         len(s.inFlight),
		CachedCount:           s.cache.Len(),
		DroppedStale:          s.droppedStale,
		Evicted:               s.evicted,
		Canceled:              s.canceled,
	}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// Close stops the poller, waits for outstanding device work and releases
// every image and pipeline the scheduler owns. The backend stays open.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.stop != nil {
		close(s.stop)
		s.wg.Wait()
	}
	if s.initErr != nil {
		return nil
	}

	err := s.backend.Sync()

	s.mu.Lock()
	for _, e := range s.cache.Values() {
		s.releaseEntryLocked(e)
	}
	s.cache.Clear()
	for _, st := range s.inFlight {
		if st.previous != nil {
			s.releaseEntryLocked(st.previous)
		}
		s.releaseStateLocked(st)
	}
	clear(s.inFlight)
	for _, st := range s.orphans {
		s.releaseStateLocked(st)
	}
	s.orphans = nil
	s.released = append(s.released, s.retired...)
	s.retired = nil
	s.queue.clear()
	s.mu.Unlock()
	s.flushReleased()

	s.biomeMu.Lock()
	if s.biomeImage != compute.InvalidID {
		s.backend.ReleaseImage(s.biomeImage)
		s.biomeImage = compute.InvalidID
	}
	s.biomeCPU = nil
	s.biomeMu.Unlock()

	s.sdfProg.Release(s.backend)
	s.biomeProg.Release(s.backend)
	return err
}

// cacheLocked inserts e, releasing any entry it replaces.
func (s *Scheduler) cacheLocked(origin chunk.Coord, e *entry) {
	if prev, replaced := s.cache.Add(origin, e); replaced && prev != e {
		s.releaseEntryLocked(prev)
	}
}

// migrateLocked moves a completed state into the cache.
func (s *Scheduler) migrateLocked(st *chunkState) {
	if s.inFlight[st.origin] == st {
		delete(s.inFlight, st.origin)
	}
	if st.previous != nil {
		s.releaseEntryLocked(st.previous)
		st.previous = nil
	}
	s.cacheLocked(st.origin, &entry{
		lod:          st.lod,
		sdf:          st.sdf,
		material:     st.material,
		sdfData:      st.sdfData,
		materialData: st.materialData,
	})
	s.totalGenerated++
}

// orphanLocked detaches an in-flight state whose coordinate is being
// regenerated. The poller releases it once its work has completed.
func (s *Scheduler) orphanLocked(st *chunkState) {
	if s.inFlight[st.origin] == st {
		delete(s.inFlight, st.origin)
	}
	st.orphaned = true
	s.orphans = append(s.orphans, st)
}

func (s *Scheduler) onEvict(origin chunk.Coord, e *entry) {
	s.evicted++
	s.releaseEntryLocked(e)
	slogger().Debug("terrain: chunk evicted", "origin", origin, "lod", e.lod)
}

func (s *Scheduler) releaseEntryLocked(e *entry) {
	s.released = append(s.released, e.sdf, e.material)
}

func (s *Scheduler) releaseStateLocked(st *chunkState) {
	if st.sdf != compute.InvalidID {
		s.released = append(s.released, st.sdf)
		st.sdf = compute.InvalidID
	}
	if st.material != compute.InvalidID {
		s.released = append(s.released, st.material)
		st.material = compute.InvalidID
	}
}

// flushReleased hands queued image releases to the backend with no lock
// held.
func (s *Scheduler) flushReleased() {
	s.mu.Lock()
	ids := s.released
	s.released = nil
	s.mu.Unlock()
	for _, id := range ids {
		if id != compute.InvalidID {
			s.backend.ReleaseImage(id)
		}
	}
}

func (e *entry) textures() Textures {
	return Textures{
		Ready:      true,
		HasCPUData: e.hasCPUData(),
		SDF:        e.sdf,
		Material:   e.material,
		LOD:        e.lod,
	}
}
