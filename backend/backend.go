package backend

import "errors"

// Backend names.
const (
	// Software is the CPU reference backend.
	Software = "software"

	// WGPU is the GPU backend over gogpu/wgpu HAL.
	WGPU = "wgpu"

	// Auto selects the best registered backend.
	Auto = "auto"
)

var (
	// ErrBackendNotAvailable is returned when no registered backend could
	// be created.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned by Get for names never registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)
