package vegetation

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
)

// TransformFloats is the number of floats in one instance transform.
const TransformFloats = 12

// TransformStride is the byte size of one instance transform.
const TransformStride = TransformFloats * 4

// Transform is a row-major 3x4 matrix: yaw rotation and uniform scale in
// the left 3x3 block, translation in the last column.
type Transform [TransformFloats]float32

// TransformOf builds the instance transform of p.
func TransformOf(p Placement) Transform {
	sin, cos := math32.Sincos(p.RotationY)
	s := p.Scale
	return Transform{
		cos * s, 0, sin * s, p.Position.X,
		0, s, 0, p.Position.Y,
		-sin * s, 0, cos * s, p.Position.Z,
	}
}

// EncodeTransforms returns the transforms of ps packed as little-endian
// floats, TransformStride bytes per instance.
func EncodeTransforms(ps []Placement) []byte {
	out := make([]byte, len(ps)*TransformStride)
	for i, p := range ps {
		t := TransformOf(p)
		for j, v := range t {
			binary.LittleEndian.PutUint32(out[i*TransformStride+j*4:], math.Float32bits(v))
		}
	}
	return out
}
