package terrain

import (
	"fmt"

	"github.com/zarigata/Erathia/compute"
)

func biomeDesc(size int) compute.ImageDesc {
	s := uint32(size) //nolint:gosec // bounded by MaxBiomeMapSize
	return compute.ImageDesc{
		Label:  "terrain biome map",
		Size:   compute.Extent{Width: s, Height: s, Depth: 1},
		Format: compute.ImageFormatRG32Float,
		Usage:  compute.ImageUsageStorage | compute.ImageUsageSampled | compute.ImageUsageCopySrc | compute.ImageUsageCopyDst,
	}
}

// ensureBiomeMap returns the shared biome map, generating it on first use.
// Generation is submitted but not awaited: the device runs it before any
// SDF dispatch recorded afterwards.
func (s *Scheduler) ensureBiomeMap() (compute.ImageID, error) {
	s.biomeMu.Lock()
	defer s.biomeMu.Unlock()
	return s.ensureBiomeMapLocked()
}

// ensureBiomeMapLocked is ensureBiomeMap with biomeMu held.
func (s *Scheduler) ensureBiomeMapLocked() (compute.ImageID, error) {
	if s.biomeImage != compute.InvalidID {
		return s.biomeImage, nil
	}

	size := s.cfg.BiomeMapSize
	img, err := s.backend.AllocateImage(biomeDesc(size), nil)
	if err != nil {
		return compute.InvalidID, fmt.Errorf("terrain: allocate biome map: %w", err)
	}
	groups := compute.Workgroups(size, biomeGroupSize)
	bindings := []compute.Binding{compute.ImageBinding(0, img)}
	if err := s.biomeProg.Dispatch(s.backend, bindings, biomeParams(&s.cfg), groups, groups, 1); err != nil {
		s.backend.ReleaseImage(img)
		return compute.InvalidID, fmt.Errorf("terrain: dispatch biome map: %w", err)
	}
	if err := s.backend.Submit(); err != nil {
		s.backend.ReleaseImage(img)
		return compute.InvalidID, fmt.Errorf("terrain: submit biome map: %w", err)
	}
	s.biomeImage = img
	slogger().Info("terrain: biome map generated", "size", size, "biomes", s.cfg.BiomeCount)
	return img, nil
}

// BiomeMapImage returns the shared biome map image, generating it if
// needed.
func (s *Scheduler) BiomeMapImage() (compute.ImageID, error) {
	if err := s.usable(); err != nil {
		return compute.InvalidID, err
	}
	return s.ensureBiomeMap()
}

// SetBiomeMap replaces the biome map with externally supplied data. The
// previous image is retired and released after the next completion pass,
// once every dispatch recorded against it has finished. Chunks generated
// afterwards use the new map; cached chunks are kept.
func (s *Scheduler) SetBiomeMap(m *BiomeMap) error {
	if err := s.usable(); err != nil {
		return err
	}
	if m == nil || m.Size <= 0 || m.Size > MaxBiomeMapSize || len(m.Texels) != m.Size*m.Size*2 {
		return ErrBiomeMapShape
	}

	img, err := s.backend.AllocateImage(biomeDesc(m.Size), m.Bytes())
	if err != nil {
		return fmt.Errorf("terrain: upload biome map: %w", err)
	}

	cpu := &BiomeMap{Size: m.Size, Texels: append([]float32(nil), m.Texels...)}

	s.biomeMu.Lock()
	old := s.biomeImage
	s.biomeImage = img
	s.biomeCPU = cpu
	s.biomeMu.Unlock()

	if old != compute.InvalidID {
		s.mu.Lock()
		closed := s.closed
		if !closed {
			s.retired = append(s.retired, old)
		}
		s.mu.Unlock()
		if closed {
			s.backend.ReleaseImage(old)
		}
	}
	slogger().Info("terrain: biome map replaced", "size", m.Size)
	return nil
}

// BiomeMap returns the CPU copy of the biome map, reading it back from the
// device once.
func (s *Scheduler) BiomeMap() (*BiomeMap, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if _, err := s.ensureBiomeMap(); err != nil {
		return nil, err
	}

	s.biomeMu.Lock()
	defer s.biomeMu.Unlock()
	if s.biomeCPU != nil {
		return s.biomeCPU, nil
	}
	img := s.biomeImage
	if err := s.backend.Sync(); err != nil {
		return nil, fmt.Errorf("terrain: sync biome map: %w", err)
	}
	data, err := s.backend.ReadImage(img)
	if err != nil {
		return nil, fmt.Errorf("terrain: read biome map: %w", err)
	}
	m, err := biomeMapFromBytes(s.cfg.BiomeMapSize, data)
	if err != nil {
		return nil, err
	}
	s.biomeCPU = m
	return m, nil
}

// SampleBiome returns the biome id and edge distance at world (x, z).
func (s *Scheduler) SampleBiome(x, z float32) (id uint32, dist float32, err error) {
	m, err := s.BiomeMap()
	if err != nil {
		return 0, 0, err
	}
	id, dist = m.Sample(s.cfg.WorldSize, x, z)
	return id, dist, nil
}
