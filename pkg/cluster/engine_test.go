package cluster

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mriclusterqc/internal/models"
	"mriclusterqc/pkg/volume"
)

// uniformVolume returns a volume of the given size filled with value
func uniformVolume(n int, value float64) *models.Volume {
	vol := models.NewVolume(models.Dims{X: n, Y: n, Z: n})
	for i := range vol.Data {
		vol.Data[i] = value
	}
	return vol
}

func mustGrid(t testing.TB, vol *models.Volume) *volume.Grid {
	t.Helper()
	g, err := volume.FromVolume(vol)
	require.NoError(t, err)
	return g
}

func mustEngine(t testing.TB, p BoundaryPolicy) *Engine {
	t.Helper()
	e, err := NewEngine(Options{Policy: p, Workers: 4})
	require.NoError(t, err)
	return e
}

func TestSingleInteriorVoxelSurvivesStrict(t *testing.T) {
	vol := uniformVolume(5, 10)
	vol.Set(models.Coordinate{X: 2, Y: 2, Z: 2}, 1)

	e := mustEngine(t, StrictPolicy())
	clusters, err := e.FindClusters(mustGrid(t, vol), 5)
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	records, err := e.Filter(clusters, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Index)
	assert.Equal(t, 1, records[0].Count)
	assert.Equal(t, models.Coordinate{X: 2, Y: 2, Z: 2}, records[0].Centroid)
}

func TestBackgroundNeighbourDiscardsStrict(t *testing.T) {
	vol := uniformVolume(5, 10)
	vol.Set(models.Coordinate{X: 0, Y: 0, Z: 0}, 0)
	vol.Set(models.Coordinate{X: 1, Y: 1, Z: 1}, 1)

	e := mustEngine(t, StrictPolicy())
	clusters, err := e.FindClusters(mustGrid(t, vol), 5)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 1, clusters[0].Discovered)
	assert.Empty(t, clusters[0].Voxels)

	records, err := e.Filter(clusters, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMinSizeKeepsLargerCluster(t *testing.T) {
	vol := uniformVolume(9, 10)
	// size 2, discovered first
	vol.Set(models.Coordinate{X: 2, Y: 2, Z: 2}, 1)
	vol.Set(models.Coordinate{X: 3, Y: 2, Z: 2}, 1)
	// size 5
	for x := 2; x <= 6; x++ {
		vol.Set(models.Coordinate{X: x, Y: 6, Z: 6}, 1)
	}

	e := mustEngine(t, StrictPolicy())
	clusters, err := e.FindClusters(mustGrid(t, vol), 5)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, 2, clusters[0].Len())
	assert.Equal(t, 5, clusters[1].Len())

	records, err := e.Filter(clusters, 3)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Index)
	assert.Equal(t, 1, records[0].Source)
	assert.Equal(t, 5, records[0].Count)
	assert.Equal(t, models.Coordinate{X: 4, Y: 6, Z: 6}, records[0].Centroid)
}

func TestTolerantPolicy(t *testing.T) {
	vol := uniformVolume(5, 10)
	vol.Set(models.Coordinate{X: 0, Y: 0, Z: 0}, 0)
	vol.Set(models.Coordinate{X: 0, Y: 0, Z: 1}, 0)
	vol.Set(models.Coordinate{X: 1, Y: 1, Z: 1}, 1)
	grid := mustGrid(t, vol)

	require.Equal(t, 2, BackgroundNeighbors(grid, models.Coordinate{X: 1, Y: 1, Z: 1}))

	tests := []struct {
		name   string
		policy BoundaryPolicy
		kept   int
	}{
		{"strict", StrictPolicy(), 0},
		{"tolerant 1", TolerantPolicy(1), 0},
		{"tolerant 2", TolerantPolicy(2), 1},
		{"tolerant 5", TolerantPolicy(5), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clusters, err := mustEngine(t, tt.policy).FindClusters(grid, 5)
			require.NoError(t, err)
			require.Len(t, clusters, 1)
			assert.Equal(t, tt.kept, clusters[0].Len())
		})
	}
}

func TestVolumeEdgeCountsAsBackground(t *testing.T) {
	vol := uniformVolume(5, 10)
	vol.Set(models.Coordinate{X: 0, Y: 2, Z: 2}, 1)
	grid := mustGrid(t, vol)

	assert.Equal(t, 9, BackgroundNeighbors(grid, models.Coordinate{X: 0, Y: 2, Z: 2}))

	clusters, err := mustEngine(t, TolerantPolicy(8)).FindClusters(grid, 5)
	require.NoError(t, err)
	assert.Empty(t, clusters[0].Voxels)

	clusters, err = mustEngine(t, TolerantPolicy(9)).FindClusters(grid, 5)
	require.NoError(t, err)
	assert.Len(t, clusters[0].Voxels, 1)
}

func TestPrunedVoxelStillConnectsChain(t *testing.T) {
	// (1,1,1) touches background at (0,0,0) and links the two halves
	vol := uniformVolume(6, 10)
	vol.Set(models.Coordinate{X: 0, Y: 0, Z: 0}, 0)
	vol.Set(models.Coordinate{X: 1, Y: 1, Z: 1}, 1)
	vol.Set(models.Coordinate{X: 2, Y: 2, Z: 2}, 1)
	vol.Set(models.Coordinate{X: 3, Y: 3, Z: 3}, 1)

	clusters, err := mustEngine(t, StrictPolicy()).FindClusters(mustGrid(t, vol), 5)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 3, clusters[0].Discovered)
	assert.ElementsMatch(t, []models.Coordinate{{X: 2, Y: 2, Z: 2}, {X: 3, Y: 3, Z: 3}}, clusters[0].Voxels)
}

func TestThresholdBoundsAreStrict(t *testing.T) {
	vol := uniformVolume(3, 10)
	vol.Set(models.Coordinate{X: 1, Y: 1, Z: 1}, 5)
	vol.Set(models.Coordinate{X: 0, Y: 0, Z: 0}, -1)

	flagged, err := Flag(mustGrid(t, vol), 5)
	require.NoError(t, err)
	assert.True(t, flagged.IsEmpty(), "value equal to threshold and negative values are not flagged")

	flagged, err = Flag(mustGrid(t, vol), 5.0001)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), flagged.GetCardinality())
}

func TestEmptyFlaggedSetIsNotAnError(t *testing.T) {
	vol := uniformVolume(4, 10)
	d, err := mustEngine(t, StrictPolicy()).Detect(mustGrid(t, vol), 1)
	require.NoError(t, err)
	assert.Zero(t, d.Flagged)
	assert.Empty(t, d.Clusters)

	// negative thresholds flag nothing
	d, err = mustEngine(t, StrictPolicy()).Detect(mustGrid(t, vol), -3)
	require.NoError(t, err)
	assert.Empty(t, d.Clusters)
}

func TestNaNThresholdRejected(t *testing.T) {
	_, err := mustEngine(t, StrictPolicy()).FindClusters(mustGrid(t, uniformVolume(2, 1)), math.NaN())
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	_, err := NewEngine(Options{Policy: TolerantPolicy(-1)})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewEngine(Options{Policy: BoundaryPolicy{Mode: PolicyMode(7)}})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

// randomVolume returns a volume whose voxels are 0 with probability 0.15
// and otherwise uniform in [1, 10].
func randomVolume(seed int64, n int) *models.Volume {
	rng := rand.New(rand.NewSource(seed))
	vol := models.NewVolume(models.Dims{X: n, Y: n + 1, Z: n + 2})
	for i := range vol.Data {
		if rng.Float64() < 0.15 {
			continue
		}
		vol.Data[i] = 1 + float64(rng.Intn(10))
	}
	return vol
}

// referenceLabels labels flagged voxels with a union-find over all adjacent
// pairs, independent of any traversal order.
func referenceLabels(vol *models.Volume, threshold float64) map[models.Coordinate]int {
	dims := vol.Dims
	parent := make(map[int]int)
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	flagged := func(c models.Coordinate) bool {
		if !dims.Contains(c) {
			return false
		}
		v := vol.At(c)
		return v > 0 && v < threshold
	}
	for i := 0; i < dims.Len(); i++ {
		if flagged(dims.Coord(i)) {
			parent[i] = i
		}
	}
	for i := range parent {
		c := dims.Coord(i)
		for _, n := range neighbors(c) {
			if flagged(n) {
				a, b := find(i), find(dims.Index(n))
				if a != b {
					parent[a] = b
				}
			}
		}
	}
	labels := make(map[models.Coordinate]int, len(parent))
	for i := range parent {
		labels[dims.Coord(i)] = find(i)
	}
	return labels
}

func TestPartitionProperties(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		vol := randomVolume(seed, 10)
		grid := mustGrid(t, vol)
		const threshold = 5

		flagged, err := Flag(grid, threshold)
		require.NoError(t, err)
		total := int(flagged.GetCardinality())
		components := Partition(grid.Dims(), flagged)
		assert.True(t, flagged.IsEmpty(), "pending set is consumed")

		// partition: each flagged voxel in exactly one component
		owner := make(map[models.Coordinate]int)
		for _, comp := range components {
			for _, c := range comp.Voxels {
				_, dup := owner[c]
				require.False(t, dup, "voxel %v claimed twice", c)
				owner[c] = comp.Index
				v := vol.At(c)
				require.True(t, v > 0 && v < threshold)
			}
		}
		require.Len(t, owner, total)

		// maximality: flagged neighbours share the component
		for c, idx := range owner {
			for _, n := range neighbors(c) {
				if other, ok := owner[n]; ok {
					require.Equal(t, idx, other, "adjacent voxels %v %v split", c, n)
				}
			}
		}

		// connectivity: every component is reachable from its first voxel
		for _, comp := range components {
			members := make(map[models.Coordinate]bool, len(comp.Voxels))
			for _, c := range comp.Voxels {
				members[c] = false
			}
			queue := []models.Coordinate{comp.Voxels[0]}
			members[comp.Voxels[0]] = true
			reached := 1
			for len(queue) > 0 {
				c := queue[0]
				queue = queue[1:]
				for _, n := range neighbors(c) {
					if seen, ok := members[n]; ok && !seen {
						members[n] = true
						reached++
						queue = append(queue, n)
					}
				}
			}
			require.Equal(t, len(comp.Voxels), reached, "component %d is not connected", comp.Index)
		}

		// same partition as an order-independent labelling
		ref := referenceLabels(vol, threshold)
		require.Equal(t, canonical(ownerSets(owner)), canonical(refSets(ref)))
	}
}

func ownerSets(owner map[models.Coordinate]int) map[int][]models.Coordinate {
	sets := make(map[int][]models.Coordinate)
	for c, idx := range owner {
		sets[idx] = append(sets[idx], c)
	}
	return sets
}

func refSets(labels map[models.Coordinate]int) map[int][]models.Coordinate {
	return ownerSets(labels)
}

// canonical turns labelled sets into a sorted list of sorted members so that
// partitions compare equal regardless of label values.
func canonical(sets map[int][]models.Coordinate) [][]models.Coordinate {
	less := func(a, b models.Coordinate) bool {
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	}
	out := make([][]models.Coordinate, 0, len(sets))
	for _, s := range sets {
		s = append([]models.Coordinate(nil), s...)
		sort.Slice(s, func(i, j int) bool { return less(s[i], s[j]) })
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i][0], out[j][0]) })
	return out
}

func TestFindClustersIsIdempotent(t *testing.T) {
	grid := mustGrid(t, randomVolume(42, 12))
	e := mustEngine(t, TolerantPolicy(2))

	first, err := e.FindClusters(grid, 6)
	require.NoError(t, err)
	second, err := e.FindClusters(grid, 6)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBoundaryRuleMonotonicity(t *testing.T) {
	grid := mustGrid(t, randomVolume(7, 12))
	for _, p := range []BoundaryPolicy{StrictPolicy(), TolerantPolicy(1), TolerantPolicy(3)} {
		clusters, err := mustEngine(t, p).FindClusters(grid, 6)
		require.NoError(t, err)
		for _, cl := range clusters {
			for _, c := range cl.Voxels {
				assert.False(t, p.Excludes(BackgroundNeighbors(grid, c)),
					"policy %v kept %v", p, c)
			}
		}
	}
}

func TestLargeComponentNeedsNoRecursion(t *testing.T) {
	// 50x50x20 flagged block inside a one-voxel non-background shell
	dims := models.Dims{X: 52, Y: 52, Z: 22}
	vol := models.NewVolume(dims)
	for i := range vol.Data {
		c := dims.Coord(i)
		if c.X == 0 || c.Y == 0 || c.Z == 0 || c.X == dims.X-1 || c.Y == dims.Y-1 || c.Z == dims.Z-1 {
			vol.Data[i] = 10
		} else {
			vol.Data[i] = 1
		}
	}

	e := mustEngine(t, StrictPolicy())
	clusters, err := e.FindClusters(mustGrid(t, vol), 5)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 50*50*20, clusters[0].Len())

	records, err := e.Filter(clusters, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.Coordinate{X: 26, Y: 26, Z: 11}, records[0].Centroid)
}

func BenchmarkFindClusters(b *testing.B) {
	vol := randomVolume(3, 64)
	grid := mustGrid(b, vol)
	e := mustEngine(b, StrictPolicy())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.FindClusters(grid, 6); err != nil {
			b.Fatal(err)
		}
	}
}
