// Package cluster finds 26-connected clusters of low-intensity voxels in a
// 3D volume, prunes voxels touching background and summarizes the survivors.
//
// The work happens in three passes:
//  1. Flagging: every voxel with 0 < intensity < threshold joins the pending set.
//  2. Partition: seeds are taken from the pending set in scan order and grown
//     with an explicit stack over the 26-neighbourhood. Every voxel is claimed
//     by exactly one component.
//  3. Pruning: the boundary policy removes members touching background. The
//     components are disjoint and final at this point, so this pass runs in
//     parallel.
package cluster

import (
	"fmt"
	"math"
	"runtime"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"mriclusterqc/internal/models"
)

// Grid is the read-only voxel access the engine needs
type Grid interface {
	Dims() models.Dims
	At(idx int) float64
	IsBackground(c models.Coordinate) bool
}

// Component is a maximal 26-connected set of flagged voxels, in claim order
type Component struct {
	// Index is the discovery order of the component
	Index int

	Voxels []models.Coordinate
}

// Cluster is a component after boundary pruning
type Cluster struct {
	// Index is the discovery order of the underlying component
	Index int

	// Voxels are the members kept by the boundary policy, in claim order
	Voxels []models.Coordinate

	// Discovered is the member count before pruning
	Discovered int
}

// Len returns the number of surviving voxels
func (c Cluster) Len() int {
	return len(c.Voxels)
}

// Options configures an Engine
type Options struct {
	Policy BoundaryPolicy

	// Workers bounds the goroutines used by the pruning and filtering passes.
	// Zero means GOMAXPROCS.
	Workers int
}

// Engine runs cluster detection. An Engine holds no per-run state and may be
// reused across grids.
type Engine struct {
	policy  BoundaryPolicy
	workers int
}

// NewEngine validates opts and returns an engine
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{policy: opts.Policy, workers: workers}, nil
}

// Policy returns the boundary policy the engine applies
func (e *Engine) Policy() BoundaryPolicy {
	return e.policy
}

// Detection is the outcome of one engine run
type Detection struct {
	// Flagged is the number of voxels below threshold
	Flagged int

	// Clusters holds one entry per discovered component, in discovery order.
	// Entries whose members were all pruned are kept with no voxels.
	Clusters []Cluster
}

// FindClusters flags voxels below threshold, partitions them into
// 26-connected components and applies the boundary policy.
func (e *Engine) FindClusters(grid Grid, threshold float64) ([]Cluster, error) {
	d, err := e.Detect(grid, threshold)
	if err != nil {
		return nil, err
	}
	return d.Clusters, nil
}

// Detect is FindClusters with run counters
func (e *Engine) Detect(grid Grid, threshold float64) (*Detection, error) {
	flagged, err := Flag(grid, threshold)
	if err != nil {
		return nil, err
	}
	total := int(flagged.GetCardinality())
	components := Partition(grid.Dims(), flagged)

	return &Detection{
		Flagged:  total,
		Clusters: e.Prune(grid, components),
	}, nil
}

// Flag returns the linear indices of every voxel with 0 < intensity < threshold
func Flag(grid Grid, threshold float64) (*roaring.Bitmap, error) {
	if math.IsNaN(threshold) {
		return nil, ErrInvalidThreshold
	}
	dims := grid.Dims()
	n := dims.Len()
	if uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d voxels", ErrGridTooLarge, n)
	}

	flagged := roaring.New()
	for idx := 0; idx < n; idx++ {
		v := grid.At(idx)
		if v > 0 && v < threshold {
			flagged.Add(uint32(idx))
		}
	}
	flagged.RunOptimize()
	return flagged, nil
}

// Partition splits the flagged set into maximal 26-connected components.
// flagged is consumed: it is empty when Partition returns. Seeds are taken
// in ascending linear index, so the output order is deterministic.
func Partition(dims models.Dims, flagged *roaring.Bitmap) []Component {
	total := flagged.GetCardinality()
	var components []Component
	var claimed uint64

	stack := make([]uint32, 0, 1024)
	for !flagged.IsEmpty() {
		seed := flagged.Minimum()
		flagged.Remove(seed)

		comp := Component{Index: len(components)}
		comp.Voxels = append(comp.Voxels, dims.Coord(int(seed)))
		stack = append(stack[:0], seed)

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			center := dims.Coord(int(idx))

			for _, off := range neighborOffsets {
				n := center.Add(off)
				if !dims.Contains(n) {
					continue
				}
				ni := uint32(dims.Index(n))
				if flagged.CheckedRemove(ni) {
					comp.Voxels = append(comp.Voxels, n)
					stack = append(stack, ni)
				}
			}
		}

		claimed += uint64(len(comp.Voxels))
		components = append(components, comp)
	}

	if claimed != total {
		panic(fmt.Sprintf("cluster: partition claimed %d voxels of %d flagged", claimed, total))
	}
	return components
}

// Prune applies the engine's boundary policy to every component in parallel
func (e *Engine) Prune(grid Grid, components []Component) []Cluster {
	clusters := make([]Cluster, len(components))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range components {
		g.Go(func() error {
			clusters[i] = pruneComponent(grid, components[i], e.policy)
			return nil
		})
	}
	_ = g.Wait()

	return clusters
}

func pruneComponent(grid Grid, comp Component, policy BoundaryPolicy) Cluster {
	kept := make([]models.Coordinate, 0, len(comp.Voxels))
	limit := policy.limit()
	for _, c := range comp.Voxels {
		if !policy.Excludes(backgroundNeighbors(grid, c, limit)) {
			kept = append(kept, c)
		}
	}
	return Cluster{
		Index:      comp.Index,
		Voxels:     kept,
		Discovered: len(comp.Voxels),
	}
}

// backgroundNeighbors counts background neighbours of c, stopping once the
// count exceeds limit.
func backgroundNeighbors(grid Grid, c models.Coordinate, limit int) int {
	count := 0
	for _, off := range neighborOffsets {
		if grid.IsBackground(c.Add(off)) {
			count++
			if count > limit {
				return count
			}
		}
	}
	return count
}

// BackgroundNeighbors returns the number of background voxels among the 26
// neighbours of c.
func BackgroundNeighbors(grid Grid, c models.Coordinate) int {
	return backgroundNeighbors(grid, c, len(neighborOffsets))
}
