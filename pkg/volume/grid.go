// Package volume provides a bounds-checked, read-only view over a 3D
// intensity volume.
package volume

import (
	"fmt"

	"mriclusterqc/internal/models"
)

// Grid is a read-only view over a dense intensity volume. Out-of-range
// coordinates resolve to background (intensity 0) so that neighbourhood
// scans at the volume edges need no special casing.
type Grid struct {
	data []float64
	dims models.Dims
}

// NewGrid wraps data with the given extents. The slice is borrowed and must
// not be modified while the grid is in use.
func NewGrid(data []float64, dims models.Dims) (*Grid, error) {
	if dims.X <= 0 || dims.Y <= 0 || dims.Z <= 0 {
		return nil, fmt.Errorf("invalid grid extents %dx%dx%d", dims.X, dims.Y, dims.Z)
	}
	if len(data) != dims.Len() {
		return nil, fmt.Errorf("grid data has %d voxels, extents %dx%dx%d need %d",
			len(data), dims.X, dims.Y, dims.Z, dims.Len())
	}
	return &Grid{data: data, dims: dims}, nil
}

// FromVolume returns a grid view over v
func FromVolume(v *models.Volume) (*Grid, error) {
	return NewGrid(v.Data, v.Dims)
}

// Dims returns the extents of the grid
func (g *Grid) Dims() models.Dims {
	return g.dims
}

// InRange reports whether c addresses a voxel of the grid
func (g *Grid) InRange(c models.Coordinate) bool {
	return g.dims.Contains(c)
}

// Intensity returns the intensity at c and whether c is in range
func (g *Grid) Intensity(c models.Coordinate) (float64, bool) {
	if !g.InRange(c) {
		return 0, false
	}
	return g.data[g.dims.Index(c)], true
}

// IsBackground reports whether c is background: out of range or exactly zero
func (g *Grid) IsBackground(c models.Coordinate) bool {
	v, ok := g.Intensity(c)
	return !ok || v == 0
}

// At returns the intensity at a linear index
func (g *Grid) At(idx int) float64 {
	return g.data[idx]
}

// Len returns the number of voxels
func (g *Grid) Len() int {
	return len(g.data)
}
