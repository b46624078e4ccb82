package cluster

import (
	"fmt"

	"mriclusterqc/internal/models"
)

// neighborOffsets holds the 26 offsets of the full 3x3x3 neighbourhood,
// generated rather than listed so that every entry is centred on the voxel.
var neighborOffsets = generateOffsets()

func generateOffsets() []models.Coordinate {
	offsets := make([]models.Coordinate, 0, 26)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				offsets = append(offsets, models.Coordinate{X: dx, Y: dy, Z: dz})
			}
		}
	}
	mustBeNeighborhood(offsets)
	return offsets
}

// mustBeNeighborhood panics unless offsets is exactly the symmetric
// 26-connected neighbourhood.
func mustBeNeighborhood(offsets []models.Coordinate) {
	if len(offsets) != 26 {
		panic(fmt.Sprintf("cluster: neighbourhood has %d offsets, want 26", len(offsets)))
	}
	seen := make(map[models.Coordinate]struct{}, len(offsets))
	for _, o := range offsets {
		if o == (models.Coordinate{}) || abs(o.X) > 1 || abs(o.Y) > 1 || abs(o.Z) > 1 {
			panic(fmt.Sprintf("cluster: offset %v is not a unit neighbour", o))
		}
		if _, dup := seen[o]; dup {
			panic(fmt.Sprintf("cluster: duplicate offset %v", o))
		}
		seen[o] = struct{}{}
	}
	for _, o := range offsets {
		if _, ok := seen[models.Coordinate{X: -o.X, Y: -o.Y, Z: -o.Z}]; !ok {
			panic(fmt.Sprintf("cluster: offset %v has no opposite", o))
		}
	}
}

// neighbors returns the 26 coordinates adjacent to c. Coordinates outside
// any volume are included; callers resolve them through the grid.
func neighbors(c models.Coordinate) []models.Coordinate {
	out := make([]models.Coordinate, len(neighborOffsets))
	for i, o := range neighborOffsets {
		out[i] = c.Add(o)
	}
	return out
}

// adjacent reports whether a and b are distinct 26-connected neighbours
func adjacent(a, b models.Coordinate) bool {
	if a == b {
		return false
	}
	return abs(a.X-b.X) <= 1 && abs(a.Y-b.Y) <= 1 && abs(a.Z-b.Z) <= 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
