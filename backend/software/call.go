package software

import (
	"encoding/binary"
	"math"

	"github.com/zarigata/Erathia/compute"
	"github.com/zarigata/Erathia/internal/parallel"
)

// KernelFunc is the Go implementation of a kernel. It runs once per
// dispatch on the batch goroutine and may fan out with Call.For.
type KernelFunc func(call *Call) error

// Image is the CPU storage of an image: tightly packed texels in
// little-endian order, x fastest, then y, then z.
type Image struct {
	Desc compute.ImageDesc
	Data []byte
}

// Float32 returns the float at word index i.
func (img *Image) Float32(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(img.Data[i*4:]))
}

// SetFloat32 stores v at word index i.
func (img *Image) SetFloat32(i int, v float32) {
	binary.LittleEndian.PutUint32(img.Data[i*4:], math.Float32bits(v))
}

// Uint32 returns the uint32 at word index i.
func (img *Image) Uint32(i int) uint32 {
	return binary.LittleEndian.Uint32(img.Data[i*4:])
}

// SetUint32 stores v at word index i.
func (img *Image) SetUint32(i int, v uint32) {
	binary.LittleEndian.PutUint32(img.Data[i*4:], v)
}

// Words returns the number of 32-bit words in the image.
func (img *Image) Words() int { return len(img.Data) / 4 }

// Call is the resolved state of one dispatch.
type Call struct {
	// Groups is the dispatched workgroup count.
	Groups [3]uint32

	params  []byte
	images  map[uint32]*Image
	buffers map[uint32][]byte
	pool    *parallel.WorkerPool
}

// Params returns a reader over the dispatch parameter block.
func (c *Call) Params() *compute.ParamReader { return compute.ReadParams(c.params) }

// Image returns the image bound to slot, or nil.
func (c *Call) Image(slot uint32) *Image { return c.images[slot] }

// Buffer returns the buffer bound to slot, or nil.
func (c *Call) Buffer(slot uint32) []byte { return c.buffers[slot] }

// For runs fn over [0, n) split across the worker pool.
func (c *Call) For(n int, fn func(lo, hi int)) {
	if c.pool == nil {
		fn(0, n)
		return
	}
	c.pool.For(n, 0, fn)
}
