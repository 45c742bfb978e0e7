package config

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
terrain:
  chunk_size: 16
  frame_budget: 6ms
  max_cached_chunks: 128
vegetation:
  max_cache_entries: 42
backend: software
log:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Terrain.ChunkSize != 16 {
		t.Errorf("expected chunk size 16, got %d", cfg.Terrain.ChunkSize)
	}
	if cfg.Terrain.FrameBudget.Std() != 6*time.Millisecond {
		t.Errorf("expected 6ms budget, got %v", cfg.Terrain.FrameBudget)
	}
	if cfg.Terrain.CostEstimate != Default().Terrain.CostEstimate {
		t.Errorf("expected default cost estimate, got %v", cfg.Terrain.CostEstimate)
	}
	if cfg.Terrain.WorldSize != Default().Terrain.WorldSize {
		t.Errorf("expected default world size, got %v", cfg.Terrain.WorldSize)
	}

	tc := cfg.TerrainConfig()
	if tc.ChunkSize != 16 || tc.MaxCachedChunks != 128 || tc.FrameBudget != 6*time.Millisecond {
		t.Errorf("unexpected terrain config %+v", tc)
	}
	vc := cfg.VegetationConfig()
	if vc.ChunkSize != 16 || vc.MaxCacheEntries != 42 {
		t.Errorf("unexpected vegetation config %+v", vc)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"chunk size zero", "terrain: {chunk_size: 0}"},
		{"chunk size not multiple of 4", "terrain: {chunk_size: 30}"},
		{"negative budget", "terrain: {frame_budget: -1ms}"},
		{"bad duration", "terrain: {frame_budget: soon}"},
		{"negative terrain cache", "terrain: {max_cached_chunks: -1}"},
		{"negative vegetation cache", "vegetation: {max_cache_entries: -5}"},
		{"inverted height range", "vegetation: {height_min: 10, height_max: 5}"},
		{"unknown key", "terrain: {chunk_sise: 32}"},
		{"bad level", "log: {level: loud}"},
		{"bad format", "log: {format: xml}"},
		{"empty backend", "backend: ''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("expected error for %q", tt.yaml)
			}
		})
	}

	_, err := Parse([]byte("terrain: {chunk_size: 30}"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Terrain.FrameBudget = Duration(3 * time.Millisecond)
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "frame_budget: 3ms") {
		t.Errorf("expected duration string in output:\n%s", data)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back != cfg {
		t.Errorf("expected %+v, got %+v", cfg, back)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := Log{Level: "warn", Format: "json"}.Logger(&buf)
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info to be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON record, got %q", out)
	}

	l, _ = Log{}.Logger(&buf)
	if !l.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info enabled by default")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "erathia.yaml")
	if err := os.WriteFile(path, []byte("terrain: {seed: 9}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terrain.Seed != 9 {
		t.Errorf("expected seed 9, got %d", cfg.Terrain.Seed)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erathia.yaml")
	if err := os.WriteFile(path, []byte("terrain: {seed: 1}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c Config, err error) {
			if err != nil {
				return
			}
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Rewrite until the watcher is running and reports the new value.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			if c.Terrain.Seed == 2 {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("Watch: %v", err)
				}
				return
			}
		case <-tick.C:
			if err := os.WriteFile(path, []byte("terrain: {seed: 2}\n"), 0o600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
