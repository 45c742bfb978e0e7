package compute

// KernelID is an opaque handle to a compiled kernel.
type KernelID uint64

// PipelineID is an opaque handle to a compute pipeline.
type PipelineID uint64

// ImageID is an opaque handle to a 2D or 3D image.
type ImageID uint64

// BufferID is an opaque handle to a linear storage buffer.
type BufferID uint64

// InvalidID is the zero value, representing a missing resource.
const InvalidID = 0

// ImageFormat is the texel layout of an image.
type ImageFormat uint32

// Image formats.
const (
	ImageFormatUndefined ImageFormat = iota

	// ImageFormatR32Float is a single 32-bit float channel.
	ImageFormatR32Float

	// ImageFormatR32Uint is a single 32-bit unsigned integer channel.
	ImageFormatR32Uint

	// ImageFormatRG32Float is two 32-bit float channels.
	ImageFormatRG32Float

	// ImageFormatRGBA32Float is four 32-bit float channels.
	ImageFormatRGBA32Float
)

// BytesPerTexel returns the size of one texel, or 0 for unknown formats.
func (f ImageFormat) BytesPerTexel() int {
	switch f {
	case ImageFormatR32Float, ImageFormatR32Uint:
		return 4
	case ImageFormatRG32Float:
		return 8
	case ImageFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// String returns the format name.
func (f ImageFormat) String() string {
	switch f {
	case ImageFormatR32Float:
		return "R32Float"
	case ImageFormatR32Uint:
		return "R32Uint"
	case ImageFormatRG32Float:
		return "RG32Float"
	case ImageFormatRGBA32Float:
		return "RGBA32Float"
	default:
		return "Undefined"
	}
}

// ImageUsage is a bitmask of the operations an image takes part in.
type ImageUsage uint32

// Image usage flags.
const (
	// ImageUsageSampled allows binding the image as a read-only input.
	ImageUsageSampled ImageUsage = 1 << iota

	// ImageUsageStorage allows kernels to write the image.
	ImageUsageStorage

	// ImageUsageCopySrc allows reading the image back.
	ImageUsageCopySrc

	// ImageUsageCopyDst allows uploading initial contents.
	ImageUsageCopyDst
)

// Extent is an image size in texels. Depth is 1 for 2D images.
type Extent struct {
	Width, Height, Depth uint32
}

// Texels returns Width*Height*Depth, treating a zero depth as 1.
func (e Extent) Texels() int {
	d := e.Depth
	if d == 0 {
		d = 1
	}
	return int(e.Width) * int(e.Height) * int(d)
}

// ImageDesc describes an image allocation.
type ImageDesc struct {
	Label  string
	Size   Extent
	Format ImageFormat
	Usage  ImageUsage
}

// ByteSize returns the byte length of the image contents.
func (d ImageDesc) ByteSize() int {
	return d.Size.Texels() * d.Format.BytesPerTexel()
}

// BindingKind is how a kernel accesses a bound resource.
type BindingKind uint8

// Binding kinds.
const (
	// BindingSampledImage is a read-only image input.
	BindingSampledImage BindingKind = iota + 1

	// BindingStorageImage is a writable image.
	BindingStorageImage

	// BindingStorageBuffer is a read-write linear buffer.
	BindingStorageBuffer

	// BindingReadOnlyBuffer is a read-only linear buffer.
	BindingReadOnlyBuffer
)

// IsImage reports whether the kind binds an image.
func (k BindingKind) IsImage() bool {
	return k == BindingSampledImage || k == BindingStorageImage
}

// BindingLayout declares one resource slot of a pipeline.
type BindingLayout struct {
	Slot uint32
	Kind BindingKind
}

// PipelineDesc describes a compute pipeline built from a compiled kernel.
type PipelineDesc struct {
	Label    string
	Kernel   KernelID
	Bindings []BindingLayout

	// ParamsSize is the byte size of the per-dispatch parameter block.
	ParamsSize uint32
}

// Binding attaches a resource to a pipeline slot for one dispatch.
// Exactly one of Image or Buffer is set.
type Binding struct {
	Slot   uint32
	Image  ImageID
	Buffer BufferID
}

// ImageBinding binds an image to slot.
func ImageBinding(slot uint32, id ImageID) Binding {
	return Binding{Slot: slot, Image: id}
}

// BufferBinding binds a buffer to slot.
func BufferBinding(slot uint32, id BufferID) Binding {
	return Binding{Slot: slot, Buffer: id}
}

// DispatchDesc is one recorded kernel invocation.
type DispatchDesc struct {
	Pipeline PipelineID
	Bindings []Binding

	// Params is the little-endian packed parameter block. Its length must
	// not exceed the pipeline's ParamsSize.
	Params []byte

	// Groups is the workgroup count along x, y and z.
	Groups [3]uint32
}

// KernelSource is the text of one kernel, identified by name.
type KernelSource struct {
	Name string
	Code string
}
