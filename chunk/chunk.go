// Package chunk defines the coordinate and voxel-layout types shared by the
// terrain and vegetation components.
package chunk

import (
	"fmt"

	"github.com/chewxy/math32"
)

// DefaultSize is the edge length, in voxels, of a generated chunk.
const DefaultSize = 32

// Coord is the integer voxel-space origin of a chunk.
type Coord struct {
	X, Y, Z int
}

// String formats the coordinate as "x_y_z".
func (c Coord) String() string {
	return fmt.Sprintf("%d_%d_%d", c.X, c.Y, c.Z)
}

// Center returns the world-space centre of a chunk of the given size.
func (c Coord) Center(size int) Vec3 {
	half := float32(size) / 2
	return Vec3{
		X: float32(c.X) + half,
		Y: float32(c.Y) + half,
		Z: float32(c.Z) + half,
	}
}

// Vec3 is a float32 world-space position.
type Vec3 struct {
	X, Y, Z float32
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Len returns the Euclidean length of v.
func (v Vec3) Len() float32 {
	return math32.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance returns the Euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float32 {
	return v.Sub(o).Len()
}

// IsZero reports whether every component is zero.
func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}
