package models

import "fmt"

// Coordinate identifies a single voxel in a volume
type Coordinate struct {
	X, Y, Z int
}

// Add returns the coordinate shifted by the given offset
func (c Coordinate) Add(o Coordinate) Coordinate {
	return Coordinate{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z}
}

// String formats the coordinate the way the cluster report prints centers
func (c Coordinate) String() string {
	return fmt.Sprintf("[%d, %d, %d]", c.X, c.Y, c.Z)
}

// Dims holds the extents of a 3D volume in voxels
type Dims struct {
	// X is the width of the volume (fastest varying axis)
	X int

	// Y is the height of the volume
	Y int

	// Z is the depth of the volume (slowest varying axis)
	Z int
}

// Len returns the number of voxels in a volume with these extents
func (d Dims) Len() int {
	return d.X * d.Y * d.Z
}

// Contains reports whether c lies inside the extents
func (d Dims) Contains(c Coordinate) bool {
	return c.X >= 0 && c.X < d.X &&
		c.Y >= 0 && c.Y < d.Y &&
		c.Z >= 0 && c.Z < d.Z
}

// Index linearizes c in row-major order (x fastest, then y, then z).
// The caller must ensure c is in range.
func (d Dims) Index(c Coordinate) int {
	return c.Z*d.X*d.Y + c.Y*d.X + c.X
}

// Coord is the inverse of Index
func (d Dims) Coord(idx int) Coordinate {
	plane := d.X * d.Y
	z := idx / plane
	rem := idx - z*plane
	y := rem / d.X
	return Coordinate{X: rem - y*d.X, Y: y, Z: z}
}

// Volume represents a 3D intensity volume loaded from an MRI image
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	Data []float64

	// Dims are the extents of the volume in voxels
	Dims Dims

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled (all background) volume
func NewVolume(dims Dims) *Volume {
	return &Volume{
		Data: make([]float64, dims.Len()),
		Dims: dims,
	}
}

// At returns the intensity at c. The caller must ensure c is in range.
func (v *Volume) At(c Coordinate) float64 {
	return v.Data[v.Dims.Index(c)]
}

// Set stores the intensity at c. The caller must ensure c is in range.
func (v *Volume) Set(c Coordinate, value float64) {
	v.Data[v.Dims.Index(c)] = value
}
