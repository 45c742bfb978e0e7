package erathia

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zarigata/Erathia/backend"
	"github.com/zarigata/Erathia/backend/software"
	"github.com/zarigata/Erathia/compute"
	"github.com/zarigata/Erathia/config"
	"github.com/zarigata/Erathia/internal/assets"
	"github.com/zarigata/Erathia/terrain"
	"github.com/zarigata/Erathia/vegetation"
)

// Option configures New.
type Option func(*options)

type options struct {
	backend   compute.Backend
	loader    compute.SourceLoader
	kernelDir string
}

// WithBackend runs the world on b. The world borrows b and leaves it open
// on Close.
func WithBackend(b compute.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithSourceLoader loads kernel sources from l instead of the built-in
// kernel store.
func WithSourceLoader(l compute.SourceLoader) Option {
	return func(o *options) { o.loader = l }
}

// WithKernelDir prefers <dir>/<kernel>.wgsl over the embedded kernels.
// It overrides config.Kernels.Dir and is ignored with WithSourceLoader.
func WithKernelDir(dir string) Option {
	return func(o *options) { o.kernelDir = dir }
}

// World owns a terrain scheduler and a vegetation dispatcher sharing one
// compute backend. The vegetation dispatcher reads terrain SDFs and the
// biome map directly from the scheduler.
type World struct {
	backend     compute.Backend
	ownsBackend bool
	store       *assets.Store

	terrain    *terrain.Scheduler
	vegetation *vegetation.Dispatcher

	mu     sync.Mutex
	cfg    config.Config
	closed bool
}

// New validates cfg, selects a backend and starts the components.
//
// The backend is the WithBackend option if given, else the registered
// backend, else a new backend created from cfg.Backend. When that fails
// the software backend is used.
func New(cfg config.Config, opts ...Option) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	w := &World{cfg: cfg}
	switch {
	case o.backend != nil:
		w.backend = o.backend
	case Backend() != nil:
		w.backend = Backend()
	default:
		b, err := backend.Get(cfg.Backend)
		if err != nil {
			Logger().Warn("erathia: backend unavailable, using software", "backend", cfg.Backend, "err", err)
			b = software.New()
		}
		propagateLogger(b, Logger())
		w.backend = b
		w.ownsBackend = true
	}

	loader := o.loader
	if loader == nil {
		dir := cfg.Kernels.Dir
		if o.kernelDir != "" {
			dir = o.kernelDir
		}
		w.store = assets.NewStore(dir)
		loader = w.store
	}

	w.terrain = terrain.New(w.backend, loader, cfg.TerrainConfig())
	if !w.terrain.IsAvailable() {
		err := w.terrain.Err()
		w.closeBackend()
		return nil, fmt.Errorf("erathia: terrain: %w", err)
	}
	w.vegetation = vegetation.New(w.backend, loader, cfg.VegetationConfig(), w.terrain)
	if !w.vegetation.IsAvailable() {
		err := w.vegetation.Err()
		_ = w.terrain.Close()
		w.closeBackend()
		return nil, fmt.Errorf("erathia: vegetation: %w", err)
	}

	Logger().Info("erathia: world ready",
		"backend", w.backend.Name(), "chunk_size", cfg.Terrain.ChunkSize, "seed", cfg.Terrain.Seed)
	return w, nil
}

// Terrain returns the chunk scheduler.
func (w *World) Terrain() *terrain.Scheduler { return w.terrain }

// Vegetation returns the placement dispatcher.
func (w *World) Vegetation() *vegetation.Dispatcher { return w.vegetation }

// BackendInUse returns the backend the world runs on.
func (w *World) BackendInUse() compute.Backend { return w.backend }

// Config returns the configuration last applied.
func (w *World) Config() config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Tick runs one frame of terrain scheduling. A budget of 0 uses the
// configured frame budget.
func (w *World) Tick(budget time.Duration) int {
	return w.terrain.Tick(budget)
}

// Apply retunes the runtime-adjustable settings from cfg: frame budget,
// cost estimate, stale distance and both cache limits. Other fields only
// take effect in a new World.
func (w *World) Apply(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("erathia: world closed")
	}
	w.cfg = cfg
	w.mu.Unlock()

	t := cfg.Terrain
	w.terrain.SetFrameBudget(t.FrameBudget.Std())
	w.terrain.SetCostEstimate(t.CostEstimate.Std())
	w.terrain.SetStaleDistance(t.StaleDistance)
	w.terrain.SetMaxCachedChunks(t.MaxCachedChunks)
	w.vegetation.SetMaxCacheEntries(cfg.Vegetation.MaxCacheEntries)
	if w.store != nil {
		w.store.Invalidate()
	}
	Logger().Debug("erathia: config applied",
		"frame_budget", t.FrameBudget, "max_cached_chunks", t.MaxCachedChunks,
		"max_cache_entries", cfg.Vegetation.MaxCacheEntries)
	return nil
}

// Close shuts down the vegetation dispatcher, then the terrain scheduler,
// then the backend if the world created it.
func (w *World) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := errors.Join(w.vegetation.Close(), w.terrain.Close())
	if w.ownsBackend {
		err = errors.Join(err, w.backend.Close())
	}
	return err
}

func (w *World) closeBackend() {
	if w.ownsBackend {
		_ = w.backend.Close()
	}
}
