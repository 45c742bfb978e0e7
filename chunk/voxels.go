package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrSizeMismatch is returned when readback bytes do not cover a full chunk.
var ErrSizeMismatch = errors.New("chunk: readback size does not match chunk volume")

// BytesPerVoxel is the size of one channel sample: a float32 distance or a
// uint32 material id.
const BytesPerVoxel = 4

// VoxelSink receives decoded voxels. Implementations are the caller-owned
// storage the scheduler decodes into.
type VoxelSink interface {
	SetVoxel(x, y, z int, distance float32, material uint32)
}

// VolumeBytes returns the byte length of one channel of a size³ chunk.
func VolumeBytes(size int) int {
	return size * size * size * BytesPerVoxel
}

// Index returns the linear voxel index of (x, y, z) in a size³ chunk.
// Voxels are stored z-major, then y, then x.
func Index(x, y, z, size int) int {
	return (z*size+y)*size + x
}

// Decode fills sink from SDF (float32) and material (uint32) readback bytes.
// Iteration is outer z, middle y, inner x, matching the generation kernel's
// memory layout. When either buffer is shorter than a full chunk nothing is
// written and ErrSizeMismatch is returned.
func Decode(sdf, material []byte, size int, sink VoxelSink) error {
	if size <= 0 {
		return fmt.Errorf("chunk: invalid size %d", size)
	}
	want := VolumeBytes(size)
	if len(sdf) < want || len(material) < want {
		return fmt.Errorf("%w: want %d bytes, got sdf=%d material=%d",
			ErrSizeMismatch, want, len(sdf), len(material))
	}
	if sink == nil {
		return nil
	}
	for z := range size {
		for y := range size {
			for x := range size {
				off := Index(x, y, z, size) * BytesPerVoxel
				d := math.Float32frombits(binary.LittleEndian.Uint32(sdf[off:]))
				m := binary.LittleEndian.Uint32(material[off:])
				sink.SetVoxel(x, y, z, d, m)
			}
		}
	}
	return nil
}

// VoxelBuffer is a dense in-memory VoxelSink.
type VoxelBuffer struct {
	Size     int
	Distance []float32
	Material []uint32
}

// NewVoxelBuffer allocates a buffer for a size³ chunk.
func NewVoxelBuffer(size int) *VoxelBuffer {
	n := size * size * size
	return &VoxelBuffer{
		Size:     size,
		Distance: make([]float32, n),
		Material: make([]uint32, n),
	}
}

// SetVoxel implements VoxelSink.
func (b *VoxelBuffer) SetVoxel(x, y, z int, distance float32, material uint32) {
	i := Index(x, y, z, b.Size)
	b.Distance[i] = distance
	b.Material[i] = material
}

// At returns the voxel stored at (x, y, z).
func (b *VoxelBuffer) At(x, y, z int) (float32, uint32) {
	i := Index(x, y, z, b.Size)
	return b.Distance[i], b.Material[i]
}

// Solid counts voxels with a negative distance.
func (b *VoxelBuffer) Solid() int {
	n := 0
	for _, d := range b.Distance {
		if d < 0 {
			n++
		}
	}
	return n
}
