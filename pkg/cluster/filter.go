package cluster

import (
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"mriclusterqc/internal/models"
)

// Record summarizes a cluster that passed filtering
type Record struct {
	// Index is the position of the record in the output, starting at 0
	Index int

	// Source is the discovery index of the cluster the record came from
	Source int

	// Count is the number of surviving voxels
	Count int

	// Centroid is the mean member coordinate rounded to the nearest voxel
	Centroid models.Coordinate

	// Voxels are the cluster members
	Voxels []models.Coordinate
}

// Filter drops clusters with Count <= minSize and clusters whose rounded
// centroid is not itself a member, then numbers the survivors in discovery
// order.
func Filter(clusters []Cluster, minSize int) ([]Record, error) {
	return filter(clusters, minSize, runtime.GOMAXPROCS(0))
}

// Filter is the package-level Filter bounded by the engine's worker count
func (e *Engine) Filter(clusters []Cluster, minSize int) ([]Record, error) {
	return filter(clusters, minSize, e.workers)
}

func filter(clusters []Cluster, minSize, workers int) ([]Record, error) {
	if minSize < 0 {
		return nil, ErrInvalidMinSize
	}

	type verdict struct {
		centroid models.Coordinate
		keep     bool
	}
	verdicts := make([]verdict, len(clusters))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range clusters {
		if clusters[i].Len() <= minSize {
			continue
		}
		g.Go(func() error {
			c, ok := ValidCentroid(clusters[i].Voxels)
			verdicts[i] = verdict{centroid: c, keep: ok}
			return nil
		})
	}
	_ = g.Wait()

	var records []Record
	for i, v := range verdicts {
		if !v.keep {
			continue
		}
		records = append(records, Record{
			Index:    len(records),
			Source:   clusters[i].Index,
			Count:    clusters[i].Len(),
			Centroid: v.centroid,
			Voxels:   clusters[i].Voxels,
		})
	}
	return records, nil
}

// Centroid returns the per-axis mean of voxels rounded half away from zero.
// It returns false for an empty slice.
func Centroid(voxels []models.Coordinate) (models.Coordinate, bool) {
	if len(voxels) == 0 {
		return models.Coordinate{}, false
	}
	var sx, sy, sz int64
	for _, v := range voxels {
		sx += int64(v.X)
		sy += int64(v.Y)
		sz += int64(v.Z)
	}
	n := float64(len(voxels))
	return models.Coordinate{
		X: int(math.Round(float64(sx) / n)),
		Y: int(math.Round(float64(sy) / n)),
		Z: int(math.Round(float64(sz) / n)),
	}, true
}

// ValidCentroid returns the rounded centroid and whether it falls on a
// member voxel. Concave clusters whose centre lies outside the mask fail.
func ValidCentroid(voxels []models.Coordinate) (models.Coordinate, bool) {
	c, ok := Centroid(voxels)
	if !ok {
		return c, false
	}
	return c, slices.Contains(voxels, c)
}
