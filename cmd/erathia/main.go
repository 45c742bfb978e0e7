// Command erathia streams terrain and vegetation around a simulated
// observer walking along +X and reports scheduler telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/chewxy/math32"

	erathia "github.com/zarigata/Erathia"
	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/config"
	"github.com/zarigata/Erathia/vegetation"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		frames     = flag.Int("frames", 600, "frames to simulate (0 runs until interrupted)")
		radius     = flag.Int("radius", 2, "chunk ring radius around the observer")
		speed      = flag.Float64("speed", 4, "observer speed in voxels per frame")
		frameTime  = flag.Duration("frame", 16*time.Millisecond, "frame interval")
		every      = flag.Int("every", 60, "frames between telemetry reports")
		telemetry  = flag.String("telemetry", "", "serve websocket telemetry on this address at /telemetry")
		watch      = flag.Bool("watch", false, "reload -config when it changes")
	)
	flag.Parse()

	if err := run(*configPath, *frames, *radius, float32(*speed), *frameTime, *every, *telemetry, *watch); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, frames, radius int, speed float32, frameTime time.Duration, every int, telemetryAddr string, watch bool) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	logger, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		return err
	}
	erathia.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w, err := erathia.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Error("erathia: close", "err", err)
		}
	}()

	if watch && configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(c config.Config, err error) {
				if err != nil {
					logger.Warn("erathia: config reload failed", "err", err)
					return
				}
				if err := w.Apply(c); err != nil {
					logger.Warn("erathia: config apply failed", "err", err)
					return
				}
				logger.Info("erathia: config reloaded", "path", configPath)
			})
			if err != nil {
				logger.Error("erathia: config watch", "err", err)
			}
		}()
	}

	var hub *telemetryHub
	if telemetryAddr != "" {
		hub = newTelemetryHub(logger)
		mux := http.NewServeMux()
		mux.Handle("/telemetry", hub)
		srv := &http.Server{Addr: telemetryAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("erathia: telemetry server", "err", err)
			}
		}()
		defer func() {
			hub.close()
			_ = srv.Close()
		}()
		logger.Info("erathia: telemetry listening", "addr", telemetryAddr)
	}

	sim := &walker{world: w, radius: radius, speed: speed, size: cfg.Terrain.ChunkSize, log: logger}
	tick := time.NewTicker(frameTime)
	defer tick.Stop()
	for frame := 1; frames <= 0 || frame <= frames; frame++ {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		sim.step()
		if every > 0 && frame%every == 0 {
			report := sim.report(frame)
			logger.Info("erathia: telemetry",
				"frame", frame,
				"queue", report.Terrain.QueueDepth,
				"in_flight", report.Terrain.InFlightCount,
				"cached", report.Terrain.CachedCount,
				"generated", report.Terrain.TotalGenerated,
				"avg_gpu_ms", fmt.Sprintf("%.3f", report.Terrain.AverageGPUTimeMs),
				"vegetation_cached", report.VegetationCached)
			if hub != nil {
				hub.broadcast(report)
			}
		}
	}
	return nil
}

// walker moves the observer and keeps the chunk ring around it requested.
type walker struct {
	world  *erathia.World
	radius int
	speed  float32
	size   int
	pos    chunk.Vec3
	log    *slog.Logger
}

func (s *walker) step() {
	t := s.world.Terrain()
	s.pos.X += s.speed
	t.SetObserverPosition(s.pos)

	centre := s.chunkAt(s.pos)
	for dz := -s.radius; dz <= s.radius; dz++ {
		for dx := -s.radius; dx <= s.radius; dx++ {
			origin := chunk.Coord{X: centre.X + dx*s.size, Y: centre.Y, Z: centre.Z + dz*s.size}
			ring := max(abs(dx), abs(dz))
			lod := min(ring, 2)
			if _, err := t.RequestChunk(origin, lod, nil); err != nil {
				s.log.Warn("erathia: request chunk", "origin", origin, "lod", lod, "err", err)
				continue
			}
			if ring <= 1 {
				s.plant(origin)
			}
		}
	}
	s.world.Tick(0)
}

func (s *walker) plant(origin chunk.Coord) {
	v := s.world.Vegetation()
	if v.IsChunkReady(origin, 0) || !s.world.Terrain().PollChunkTextures(origin).Ready {
		return
	}
	_, err := v.GeneratePlacements(vegetation.Request{
		Origin:         origin,
		Density:        0.3,
		GridSpacing:    2,
		NoiseFrequency: 0.05,
		MaxSlope:       35,
		Seed:           s.world.Config().Terrain.Seed,
	})
	if err != nil && !errors.Is(err, vegetation.ErrNoTerrain) {
		s.log.Warn("erathia: vegetation", "origin", origin, "err", err)
	}
}

func (s *walker) chunkAt(p chunk.Vec3) chunk.Coord {
	floor := func(v float32) int {
		i := int(math32.Floor(v / float32(s.size)))
		return i * s.size
	}
	return chunk.Coord{X: floor(p.X), Y: -s.size / 2, Z: floor(p.Z)}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
