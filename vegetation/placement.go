package vegetation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zarigata/Erathia/chunk"
)

// Buffer layout.
const (
	// MaxPlacements is the capacity of a placement buffer.
	MaxPlacements = 4096

	// PlacementStride is the byte size of one encoded placement.
	PlacementStride = 48

	// CountPrefix is the size of the leading placement count.
	CountPrefix = 4

	// PlacementBufferSize is the size of a full placement buffer.
	PlacementBufferSize = CountPrefix + MaxPlacements*PlacementStride
)

// ErrShortBuffer is returned for buffers without a count prefix.
var ErrShortBuffer = errors.New("vegetation: placement buffer shorter than count prefix")

// Placement is one vegetation instance.
type Placement struct {
	Position chunk.Vec3
	Normal   chunk.Vec3

	// Variant selects one of the type's meshes.
	Variant uint32

	// Seed is a per-instance random value.
	Seed uint32

	Scale     float32
	RotationY float32
}

// Key identifies a cache entry.
type Key struct {
	Origin chunk.Coord
	Type   int
}

func (k Key) String() string { return fmt.Sprintf("%v/%d", k.Origin, k.Type) }

// EncodePlacements writes placements in buffer layout: a uint32 count
// followed by fixed-stride records. At most MaxPlacements are written.
func EncodePlacements(ps []Placement) []byte {
	n := min(len(ps), MaxPlacements)
	out := make([]byte, CountPrefix+n*PlacementStride)
	binary.LittleEndian.PutUint32(out, uint32(n)) //nolint:gosec // bounded by MaxPlacements
	for i := range n {
		encodeRecord(out[CountPrefix+i*PlacementStride:], &ps[i])
	}
	return out
}

func encodeRecord(b []byte, p *Placement) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], math.Float32bits(p.Position.X))
	le.PutUint32(b[4:], math.Float32bits(p.Position.Y))
	le.PutUint32(b[8:], math.Float32bits(p.Position.Z))
	le.PutUint32(b[12:], 0)
	le.PutUint32(b[16:], math.Float32bits(p.Normal.X))
	le.PutUint32(b[20:], math.Float32bits(p.Normal.Y))
	le.PutUint32(b[24:], math.Float32bits(p.Normal.Z))
	le.PutUint32(b[28:], 0)
	le.PutUint32(b[32:], p.Variant)
	le.PutUint32(b[36:], p.Seed)
	le.PutUint32(b[40:], math.Float32bits(p.Scale))
	le.PutUint32(b[44:], math.Float32bits(p.RotationY))
}

func decodeRecord(b []byte) Placement {
	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }
	return Placement{
		Position:  chunk.Vec3{X: f(0), Y: f(4), Z: f(8)},
		Normal:    chunk.Vec3{X: f(16), Y: f(20), Z: f(24)},
		Variant:   le.Uint32(b[32:]),
		Seed:      le.Uint32(b[36:]),
		Scale:     f(40),
		RotationY: f(44),
	}
}

// PlacementCountFrom reads the count prefix, clamped to MaxPlacements.
func PlacementCountFrom(data []byte) (int, error) {
	if len(data) < CountPrefix {
		return 0, ErrShortBuffer
	}
	return int(min(binary.LittleEndian.Uint32(data), MaxPlacements)), nil
}

// DecodePlacements decodes a placement buffer. The count is clamped to
// MaxPlacements and decoding stops at the first record that would run
// past the end of data.
func DecodePlacements(data []byte) ([]Placement, error) {
	n, err := PlacementCountFrom(data)
	if err != nil {
		return nil, err
	}
	n = min(n, (len(data)-CountPrefix)/PlacementStride)
	out := make([]Placement, n)
	for i := range out {
		out[i] = decodeRecord(data[CountPrefix+i*PlacementStride:])
	}
	return out, nil
}
