package terrain

import (
	"errors"
	"time"

	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/compute"
)

// Errors returned by the scheduler.
var (
	// ErrUnavailable is returned by every generation call after
	// initialization failed. Err reports the cause.
	ErrUnavailable = errors.New("terrain: GPU generation unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("terrain: scheduler closed")

	// ErrInvalidLOD is returned for negative levels of detail.
	ErrInvalidLOD = errors.New("terrain: negative LOD")
)

// Status is the outcome of a chunk request.
type Status int

const (
	// StatusUnavailable means the request could not be served.
	StatusUnavailable Status = iota

	// StatusPending means the chunk is queued or in flight; poll for it.
	StatusPending

	// StatusReady means the chunk is cached and its voxels were delivered
	// to the sink, if one was given.
	StatusReady
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	default:
		return "unavailable"
	}
}

// Textures is the GPU-side result for one chunk.
type Textures struct {
	// Ready is true once the poller confirmed GPU completion.
	Ready bool

	// HasCPUData is true when voxel bytes were read back.
	HasCPUData bool

	SDF      compute.ImageID
	Material compute.ImageID
	LOD      int
}

// Telemetry is a snapshot of scheduler activity.
type Telemetry struct {
	DispatchedThisFrame int
	CompletedThisFrame  int
	TotalGenerated      uint64

	AverageGPUTimeMs      float64
	CurrentFrameGPUTimeMs float64
	BudgetMs              float64

	QueueDepth    int
	InFlightCount int
	CachedCount   int

	DroppedStale uint64
	Evicted      uint64
	Canceled     uint64
}

// request is a queued chunk generation.
type request struct {
	origin   chunk.Coord
	lod      int
	priority float32
	enqueued int64 // unix nanoseconds
	seq      uint64
	index    int
}

type phase uint8

const (
	// phaseDispatching marks a state whose dispatch is being recorded
	// outside the lock. The poller ignores it.
	phaseDispatching phase = iota
	phaseSubmitted
)

// chunkState is one in-flight generation.
type chunkState struct {
	origin   chunk.Coord
	lod      int
	sdf      compute.ImageID
	material compute.ImageID

	phase        phase
	dispatched   time.Time
	completed    time.Time
	gpuComplete  bool
	readbackDone bool

	// physics is fixed at dispatch and gates readback.
	physics bool

	// sync marks a state owned by a synchronous LOD 0 request. done is
	// closed once that request has cached its result or failed.
	sync     bool
	done     chan struct{}
	orphaned bool
	failed   bool

	// previous is the coarser cached entry this generation replaces. It
	// keeps the chunk pollable until the new data lands.
	previous *entry

	sdfData      []byte
	materialData []byte
}

// entry is a completed chunk in the cache.
type entry struct {
	lod          int
	sdf          compute.ImageID
	material     compute.ImageID
	sdfData      []byte
	materialData []byte
}

func (e *entry) hasCPUData() bool { return e.sdfData != nil && e.materialData != nil }

// satisfies reports whether the entry serves a request at lod.
func (e *entry) satisfies(lod int) bool {
	if lod == 0 {
		return e.lod == 0 && e.hasCPUData()
	}
	return e.lod <= lod
}
