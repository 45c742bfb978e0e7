package terrain

import (
	"time"

	"github.com/zarigata/Erathia/chunk"
)

// Defaults.
const (
	DefaultWorldSize     = 16000
	DefaultBlendDistance = 0.2
	DefaultFrameBudget   = 8 * time.Millisecond
	DefaultCostEstimate  = 2 * time.Millisecond
	DefaultBiomeMapSize  = 2048
	DefaultBiomeCount    = 17
	DefaultCellScale     = 2000
	DefaultJitter        = 0.8
	DefaultPollInterval  = time.Millisecond
)

// Config holds the generation parameters of a Scheduler.
type Config struct {
	// ChunkSize is the edge length of a chunk in voxels. It must be a
	// multiple of the SDF workgroup size (4).
	ChunkSize int

	// WorldSize is the width of the square world footprint covered by the
	// biome map, centred on the origin.
	WorldSize     float32
	SeaLevel      float32
	BlendDistance float32
	Seed          uint32

	// FrameBudget bounds the estimated GPU time dispatched per Tick.
	FrameBudget time.Duration

	// CostEstimate seeds the per-chunk cost used before any chunk has been
	// measured.
	CostEstimate time.Duration

	BiomeMapSize int
	BiomeCount   int
	CellScale    float32
	Jitter       float32

	// MaxCachedChunks bounds the completed-chunk cache. 0 is unbounded.
	MaxCachedChunks int

	// StaleDistance drops queued requests farther than this from the
	// observer at dispatch time. 0 disables the check.
	StaleDistance float32

	// PollInterval is the completion poller's idle sleep.
	PollInterval time.Duration
}

// DefaultConfig returns the standard generation parameters.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     chunk.DefaultSize,
		WorldSize:     DefaultWorldSize,
		BlendDistance: DefaultBlendDistance,
		FrameBudget:   DefaultFrameBudget,
		CostEstimate:  DefaultCostEstimate,
		BiomeMapSize:  DefaultBiomeMapSize,
		BiomeCount:    DefaultBiomeCount,
		CellScale:     DefaultCellScale,
		Jitter:        DefaultJitter,
		PollInterval:  DefaultPollInterval,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.WorldSize <= 0 {
		c.WorldSize = d.WorldSize
	}
	if c.BlendDistance <= 0 {
		c.BlendDistance = d.BlendDistance
	}
	if c.FrameBudget <= 0 {
		c.FrameBudget = d.FrameBudget
	}
	if c.CostEstimate <= 0 {
		c.CostEstimate = d.CostEstimate
	}
	if c.BiomeMapSize <= 0 {
		c.BiomeMapSize = d.BiomeMapSize
	}
	if c.BiomeCount <= 0 {
		c.BiomeCount = d.BiomeCount
	}
	if c.CellScale <= 0 {
		c.CellScale = d.CellScale
	}
	if c.Jitter < 0 {
		c.Jitter = d.Jitter
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxCachedChunks < 0 {
		c.MaxCachedChunks = 0
	}
	return c
}
