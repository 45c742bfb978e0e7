package compute

import "errors"

// Errors returned by backends.
var (
	// ErrUnknownHandle is returned when an ID does not name a live resource.
	ErrUnknownHandle = errors.New("compute: unknown resource handle")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("compute: backend closed")

	// ErrKernelNotFound is returned when a kernel source cannot be located.
	ErrKernelNotFound = errors.New("compute: kernel source not found")

	// ErrKernelEmpty is returned for a kernel source with no code.
	ErrKernelEmpty = errors.New("compute: kernel source is empty")

	// ErrInvalidDispatch is returned for dispatches whose bindings or
	// parameters do not match the pipeline layout.
	ErrInvalidDispatch = errors.New("compute: dispatch does not match pipeline layout")
)

// Backend is a compute device.
//
// Implementations must be safe for concurrent use: the terrain scheduler
// records dispatches from the caller's goroutine while its completion
// poller blocks in Sync on another.
type Backend interface {
	// Name identifies the backend for logs and telemetry.
	Name() string

	// CompileKernel compiles src. A syntax or validation error in the
	// source is returned as an error.
	CompileKernel(src KernelSource) (KernelID, error)

	// CreatePipeline builds a pipeline from a compiled kernel.
	CreatePipeline(desc PipelineDesc) (PipelineID, error)

	// AllocateImage creates an image. initial, when non-nil, must be
	// desc.ByteSize() bytes; otherwise the image is zero-filled.
	AllocateImage(desc ImageDesc, initial []byte) (ImageID, error)

	// AllocateBuffer creates a linear buffer of size bytes. initial, when
	// non-nil, is copied to the start of the buffer; the rest is zero.
	AllocateBuffer(size int, initial []byte) (BufferID, error)

	// Dispatch records a kernel invocation. Nothing runs until Submit.
	Dispatch(d DispatchDesc) error

	// Submit hands every dispatch recorded so far to the device and
	// returns without waiting for it to run.
	Submit() error

	// Sync blocks until every batch submitted before the call completes.
	Sync() error

	// ReadImage returns a copy of the image contents. Callers must Sync
	// after the producing dispatch was submitted.
	ReadImage(id ImageID) ([]byte, error)

	// ReadBuffer returns length bytes starting at offset.
	ReadBuffer(id BufferID, offset, length int) ([]byte, error)

	ReleaseImage(id ImageID)
	ReleaseBuffer(id BufferID)
	ReleasePipeline(id PipelineID)
	ReleaseKernel(id KernelID)

	// Close releases every resource owned by the backend.
	Close() error
}

// SourceLoader locates kernel sources by name.
type SourceLoader interface {
	Load(name string) (KernelSource, error)
}

// SourceLoaderFunc adapts a function to SourceLoader.
type SourceLoaderFunc func(name string) (KernelSource, error)

// Load calls f(name).
func (f SourceLoaderFunc) Load(name string) (KernelSource, error) { return f(name) }
