package vegetation

import (
	"github.com/zarigata/Erathia/compute"
)

// Kernel names.
const (
	KernelPlacement = "vegetation_placement"
	KernelTransform = "transform_placement"
)

const (
	placementParamsSize = 56
	transformParamsSize = 16

	placementGroupSize = 8
	transformGroupSize = 64
)

// Binding slots.
const (
	slotSDF    = 0
	slotBiome  = 1
	slotOutput = 2

	slotPlacements = 0
	slotTransforms = 1
)

var (
	placementBindings = []compute.BindingLayout{
		{Slot: slotSDF, Kind: compute.BindingSampledImage},
		{Slot: slotBiome, Kind: compute.BindingSampledImage},
		{Slot: slotOutput, Kind: compute.BindingStorageBuffer},
	}
	transformBindings = []compute.BindingLayout{
		{Slot: slotPlacements, Kind: compute.BindingReadOnlyBuffer},
		{Slot: slotTransforms, Kind: compute.BindingStorageBuffer},
	}
)

func placementParams(req *Request, chunkSize, steps int) []byte {
	return compute.NewParams(placementParamsSize).
		Float32(float32(req.Origin.X)).
		Float32(float32(req.Origin.Y)).
		Float32(float32(req.Origin.Z)).
		Float32(req.GridSpacing).
		Int32(int32(chunkSize)). //nolint:gosec // chunk-scale value
		Int32(int32(steps)).     //nolint:gosec // chunk-scale value
		Uint32(req.Seed).
		Int32(int32(req.Type)). //nolint:gosec // small type index
		Float32(req.Density).
		Float32(req.NoiseFrequency).
		Float32(req.MaxSlope).
		Float32(req.HeightMin).
		Float32(req.HeightMax).
		Pad(8).
		Bytes()
}

func transformParams(count int) []byte {
	return compute.NewParams(transformParamsSize).
		Uint32(uint32(count)). //nolint:gosec // bounded by MaxPlacements
		Pad(16).
		Bytes()
}
