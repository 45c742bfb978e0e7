package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/terrain"
	"github.com/zarigata/Erathia/vegetation"
)

// Backend names.
const (
	BackendAuto     = "auto"
	BackendSoftware = "software"
	BackendWGPU     = "wgpu"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Duration is a time.Duration written as a Go duration string ("8ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: line %d: duration must be a scalar", n.Line)
	}
	v, err := time.ParseDuration(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("config: line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Config is the complete configuration.
type Config struct {
	Terrain    Terrain    `yaml:"terrain"`
	Vegetation Vegetation `yaml:"vegetation"`
	Kernels    Kernels    `yaml:"kernels"`

	// Backend is auto, software, wgpu or the name of a registered factory.
	Backend string `yaml:"backend"`
	Log     Log    `yaml:"log"`
}

// Terrain configures the chunk scheduler.
type Terrain struct {
	ChunkSize       int      `yaml:"chunk_size"`
	WorldSize       float32  `yaml:"world_size"`
	SeaLevel        float32  `yaml:"sea_level"`
	BlendDistance   float32  `yaml:"blend_distance"`
	Seed            uint32   `yaml:"seed"`
	FrameBudget     Duration `yaml:"frame_budget"`
	CostEstimate    Duration `yaml:"cost_estimate"`
	BiomeMapSize    int      `yaml:"biome_map_size"`
	MaxCachedChunks int      `yaml:"max_cached_chunks"`
	StaleDistance   float32  `yaml:"stale_distance"`
	PollInterval    Duration `yaml:"poll_interval"`
}

// Vegetation configures the placement dispatcher.
type Vegetation struct {
	MaxCacheEntries int     `yaml:"max_cache_entries"`
	HeightMin       float32 `yaml:"height_min"`
	HeightMax       float32 `yaml:"height_max"`
}

// Kernels configures kernel source lookup.
type Kernels struct {
	// Dir overrides embedded kernels with files named <kernel>.wgsl.
	Dir string `yaml:"dir"`
}

// Log configures the logger built by Log.Logger.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	t := terrain.DefaultConfig()
	v := vegetation.DefaultConfig()
	return Config{
		Terrain: Terrain{
			ChunkSize:     t.ChunkSize,
			WorldSize:     t.WorldSize,
			SeaLevel:      t.SeaLevel,
			BlendDistance: t.BlendDistance,
			FrameBudget:   Duration(t.FrameBudget),
			CostEstimate:  Duration(t.CostEstimate),
			BiomeMapSize:  t.BiomeMapSize,
			PollInterval:  Duration(t.PollInterval),
		},
		Vegetation: Vegetation{
			MaxCacheEntries: v.MaxCacheEntries,
			HeightMin:       v.HeightMin,
			HeightMax:       v.HeightMax,
		},
		Backend: BackendAuto,
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c Config) Marshal() ([]byte, error) { return yaml.Marshal(c) }

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	t := c.Terrain
	switch {
	case t.ChunkSize <= 0:
		return fmt.Errorf("%w: terrain.chunk_size must be positive", ErrInvalid)
	case t.ChunkSize%4 != 0:
		return fmt.Errorf("%w: terrain.chunk_size %d is not a multiple of 4", ErrInvalid, t.ChunkSize)
	case t.FrameBudget < 0:
		return fmt.Errorf("%w: terrain.frame_budget cannot be negative", ErrInvalid)
	case t.CostEstimate < 0:
		return fmt.Errorf("%w: terrain.cost_estimate cannot be negative", ErrInvalid)
	case t.PollInterval < 0:
		return fmt.Errorf("%w: terrain.poll_interval cannot be negative", ErrInvalid)
	case t.BiomeMapSize < 0 || t.BiomeMapSize > terrain.MaxBiomeMapSize:
		return fmt.Errorf("%w: terrain.biome_map_size %d out of range", ErrInvalid, t.BiomeMapSize)
	case t.MaxCachedChunks < 0:
		return fmt.Errorf("%w: terrain.max_cached_chunks cannot be negative", ErrInvalid)
	case t.StaleDistance < 0:
		return fmt.Errorf("%w: terrain.stale_distance cannot be negative", ErrInvalid)
	case c.Vegetation.MaxCacheEntries < 0:
		return fmt.Errorf("%w: vegetation.max_cache_entries cannot be negative", ErrInvalid)
	case c.Vegetation.HeightMin > c.Vegetation.HeightMax:
		return fmt.Errorf("%w: vegetation.height_min exceeds height_max", ErrInvalid)
	case c.Backend == "":
		return fmt.Errorf("%w: backend must be set", ErrInvalid)
	}
	if _, err := c.Log.level(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q is not text or json", ErrInvalid, c.Log.Format)
	}
	return nil
}

// TerrainConfig converts the terrain section.
func (c Config) TerrainConfig() terrain.Config {
	t := terrain.DefaultConfig()
	t.ChunkSize = c.Terrain.ChunkSize
	t.WorldSize = c.Terrain.WorldSize
	t.SeaLevel = c.Terrain.SeaLevel
	t.BlendDistance = c.Terrain.BlendDistance
	t.Seed = c.Terrain.Seed
	t.FrameBudget = c.Terrain.FrameBudget.Std()
	t.CostEstimate = c.Terrain.CostEstimate.Std()
	t.BiomeMapSize = c.Terrain.BiomeMapSize
	t.MaxCachedChunks = c.Terrain.MaxCachedChunks
	t.StaleDistance = c.Terrain.StaleDistance
	t.PollInterval = c.Terrain.PollInterval.Std()
	return t
}

// VegetationConfig converts the vegetation section. The chunk size comes
// from the terrain section.
func (c Config) VegetationConfig() vegetation.Config {
	size := c.Terrain.ChunkSize
	if size <= 0 {
		size = chunk.DefaultSize
	}
	return vegetation.Config{
		ChunkSize:       size,
		MaxCacheEntries: c.Vegetation.MaxCacheEntries,
		HeightMin:       c.Vegetation.HeightMin,
		HeightMax:       c.Vegetation.HeightMax,
	}
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// Logger builds a logger writing to w.
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
