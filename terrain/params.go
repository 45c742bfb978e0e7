package terrain

import (
	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/compute"
)

// Kernel names.
const (
	KernelBiomeMap = "biome_map"
	KernelSDF      = "terrain_sdf"
)

// Parameter block sizes.
const (
	biomeParamsSize = 32
	sdfParamsSize   = 32
)

// Workgroup edge lengths of the kernels.
const (
	sdfGroupSize   = 4
	biomeGroupSize = 8
)

// Binding slots of the SDF pipeline.
const (
	sdfSlotBiome    = 0
	sdfSlotSDF      = 1
	sdfSlotMaterial = 2
)

var (
	biomeBindings = []compute.BindingLayout{
		{Slot: 0, Kind: compute.BindingStorageImage},
	}
	sdfBindings = []compute.BindingLayout{
		{Slot: sdfSlotBiome, Kind: compute.BindingSampledImage},
		{Slot: sdfSlotSDF, Kind: compute.BindingStorageImage},
		{Slot: sdfSlotMaterial, Kind: compute.BindingStorageImage},
	}
)

func biomeParams(cfg *Config) []byte {
	return compute.NewParams(biomeParamsSize).
		Uint32(uint32(cfg.BiomeCount)). //nolint:gosec // validated positive
		Float32(cfg.WorldSize).
		Float32(cfg.CellScale).
		Float32(cfg.Jitter).
		Uint32(cfg.Seed).
		Uint32(uint32(cfg.BiomeMapSize)). //nolint:gosec // validated positive
		Pad(16).
		Bytes()
}

func sdfParams(cfg *Config, origin chunk.Coord) []byte {
	return compute.NewParams(sdfParamsSize).
		Float32(float32(origin.X)).
		Float32(float32(origin.Y)).
		Float32(float32(origin.Z)).
		Float32(cfg.WorldSize).
		Float32(cfg.SeaLevel).
		Float32(cfg.BlendDistance).
		Uint32(uint32(cfg.ChunkSize)). //nolint:gosec // validated positive
		Uint32(cfg.Seed).
		Bytes()
}

func volumeDesc(label string, size int, format compute.ImageFormat) compute.ImageDesc {
	s := uint32(size) //nolint:gosec // validated positive
	return compute.ImageDesc{
		Label:  label,
		Size:   compute.Extent{Width: s, Height: s, Depth: s},
		Format: format,
		Usage:  compute.ImageUsageStorage | compute.ImageUsageSampled | compute.ImageUsageCopySrc,
	}
}
