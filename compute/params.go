package compute

import (
	"encoding/binary"
	"math"
)

// Params packs a kernel parameter block in little-endian order.
type Params struct {
	buf []byte
}

// NewParams returns an empty block with room for size bytes.
func NewParams(size int) *Params {
	return &Params{buf: make([]byte, 0, size)}
}

// Float32 appends a float32.
func (p *Params) Float32(v float32) *Params {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, math.Float32bits(v))
	return p
}

// Uint32 appends a uint32.
func (p *Params) Uint32(v uint32) *Params {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	return p
}

// Int32 appends an int32.
func (p *Params) Int32(v int32) *Params {
	return p.Uint32(uint32(v)) //nolint:gosec // two's complement reinterpretation
}

// Pad appends zero bytes until the block is a multiple of align.
func (p *Params) Pad(align int) *Params {
	for len(p.buf)%align != 0 {
		p.buf = append(p.buf, 0)
	}
	return p
}

// Bytes returns the packed block.
func (p *Params) Bytes() []byte { return p.buf }

// ParamReader decodes a block written by Params. Reads past the end
// return zero.
type ParamReader struct {
	buf []byte
	off int
}

// ReadParams returns a reader over b.
func ReadParams(b []byte) *ParamReader { return &ParamReader{buf: b} }

// Uint32 reads the next uint32.
func (r *ParamReader) Uint32() uint32 {
	if r.off+4 > len(r.buf) {
		r.off += 4
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

// Int32 reads the next int32.
func (r *ParamReader) Int32() int32 { return int32(r.Uint32()) } //nolint:gosec // reinterpretation

// Float32 reads the next float32.
func (r *ParamReader) Float32() float32 { return math.Float32frombits(r.Uint32()) }
