package clustermap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkPartition verifies that the owner index and the cluster point lists
// describe the same partition.
func checkPartition(t *testing.T, m *ClusterMap) {
	t.Helper()

	listed := 0
	for index, cl := range m.clusters {
		require.NotEmpty(t, cl.points, "cluster %d is empty", index)
		for _, p := range cl.points {
			owner, ok := m.owner[coord{p.X, p.Y}]
			require.True(t, ok, "point %v of cluster %d has no owner", p, index)
			require.Equal(t, index, owner, "point %v owner mismatch", p)
			listed++
		}
	}
	require.Equal(t, len(m.owner), listed, "owner index and point lists disagree")
}

func buildCluster(t *testing.T, m *ClusterMap, points ...Point) uint32 {
	t.Helper()
	index, err := m.CreateCluster(points[0].X, points[0].Y, points[0].Z)
	require.NoError(t, err)
	for _, p := range points[1:] {
		require.NoError(t, m.AddPoint(index, p.X, p.Y, p.Z))
	}
	return index
}

func TestPointEqualIgnoresZ(t *testing.T) {
	t.Parallel()
	assert.True(t, Point{X: 1, Y: 2, Z: 3}.Equal(Point{X: 1, Y: 2, Z: 99}))
	assert.False(t, Point{X: 1, Y: 2}.Equal(Point{X: 2, Y: 1}))
}

func TestDistance2D(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 5.0, Point{X: 0, Y: 0, Z: 100}.Distance2D(Point{X: 3, Y: 4}), 1e-12)
	assert.Zero(t, Point{X: 2, Y: 2}.Distance2D(Point{X: 2, Y: 2, Z: -1}))
}

func TestCreateCluster(t *testing.T) {
	t.Parallel()

	t.Run("allocates increasing indices", func(t *testing.T) {
		t.Parallel()
		m := New()
		a, err := m.CreateCluster(0, 0, 1)
		require.NoError(t, err)
		b, err := m.CreateCluster(5, 5, 1)
		require.NoError(t, err)
		assert.Less(t, a, b)
		assert.Equal(t, []uint32{a, b}, m.Indexes())
	})

	t.Run("rejects owned point", func(t *testing.T) {
		t.Parallel()
		m := New()
		_, err := m.CreateCluster(1, 1, 0)
		require.NoError(t, err)
		_, err = m.CreateCluster(1, 1, 7)
		assert.ErrorIs(t, err, ErrAlreadyAssigned)
		assert.Equal(t, 1, m.Len())
	})

	t.Run("seed is recorded", func(t *testing.T) {
		t.Parallel()
		m := New()
		index, err := m.CreateCluster(3, 4, 12.5)
		require.NoError(t, err)
		seed, err := m.Seed(index)
		require.NoError(t, err)
		assert.Equal(t, Point{X: 3, Y: 4, Z: 12.5}, seed)
	})
}

func TestAddPoint(t *testing.T) {
	t.Parallel()

	m := New()
	index := buildCluster(t, m, Point{X: 0, Y: 0})

	err := m.AddPoint(index+1, 1, 1, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, m.AddPoint(index, 1, 0, 2))
	assert.ErrorIs(t, m.AddPoint(index, 1, 0, 3), ErrAlreadyAssigned, "same cluster")

	other := buildCluster(t, m, Point{X: 10, Y: 10})
	assert.ErrorIs(t, m.AddPoint(other, 0, 0, 0), ErrAlreadyAssigned, "other cluster")

	points, err := m.Points(index)
	require.NoError(t, err)
	if diff := cmp.Diff([]Point{{X: 0, Y: 0}, {X: 1, Y: 0, Z: 2}}, points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	checkPartition(t, m)
}

func TestClusterIndex(t *testing.T) {
	t.Parallel()

	m := New()
	index := buildCluster(t, m, Point{X: 2, Y: 2}, Point{X: 3, Y: 2})

	got, err := m.ClusterIndex(3, 2)
	require.NoError(t, err)
	assert.Equal(t, index, got)
	assert.True(t, m.Contains(2, 2))

	_, err = m.ClusterIndex(9, 9)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.False(t, m.Contains(9, 9))
}

func TestPointsIsACopy(t *testing.T) {
	t.Parallel()

	m := New()
	index := buildCluster(t, m, Point{X: 0, Y: 0}, Point{X: 1, Y: 0})
	points, err := m.Points(index)
	require.NoError(t, err)
	points[0].X = 42

	again, err := m.Points(index)
	require.NoError(t, err)
	assert.Equal(t, 0, again[0].X)

	_, err = m.Points(index + 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestCenter(t *testing.T) {
	t.Parallel()

	m := New()
	index := buildCluster(t, m,
		Point{X: 0, Y: 0, Z: 9},
		Point{X: 1, Y: 0},
		Point{X: 2, Y: 3},
	)
	center, err := m.Center(index)
	require.NoError(t, err)
	// (0+1+2)/3 = 1, (0+0+3)/3 = 1
	assert.Equal(t, Point{X: 1, Y: 1, Z: 9}, center)

	trunc := buildCluster(t, m, Point{X: 10, Y: 10}, Point{X: 11, Y: 11})
	center, err = m.Center(trunc)
	require.NoError(t, err)
	assert.Equal(t, 10, center.X, "integer truncation")
	assert.Equal(t, 10, center.Y)

	_, err = m.Center(99)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNeighbors(t *testing.T) {
	t.Parallel()

	t.Run("single point has eight neighbours", func(t *testing.T) {
		t.Parallel()
		m := New()
		index := buildCluster(t, m, Point{X: 5, Y: 5})
		n, err := m.Neighbors(index)
		require.NoError(t, err)
		assert.Len(t, n, 8)
	})

	t.Run("shared frontier counted once", func(t *testing.T) {
		t.Parallel()
		m := New()
		index := buildCluster(t, m, Point{X: 0, Y: 0}, Point{X: 1, Y: 0})
		n, err := m.Neighbors(index)
		require.NoError(t, err)
		// 4x3 box minus the two members.
		assert.Len(t, n, 10)
	})

	t.Run("never includes owned points", func(t *testing.T) {
		t.Parallel()
		m := New()
		a := buildCluster(t, m, Point{X: 0, Y: 0}, Point{X: 1, Y: 0})
		buildCluster(t, m, Point{X: 2, Y: 0}, Point{X: 2, Y: 1})

		n, err := m.Neighbors(a)
		require.NoError(t, err)
		for _, p := range n {
			assert.False(t, m.Contains(p.X, p.Y), "neighbour %v is owned", p)
		}
		assert.Len(t, n, 8)
	})

	t.Run("ordered by row then column", func(t *testing.T) {
		t.Parallel()
		m := New()
		index := buildCluster(t, m, Point{X: 1, Y: 1})
		n, err := m.Neighbors(index)
		require.NoError(t, err)
		want := []Point{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0},
			{X: 0, Y: 1}, {X: 2, Y: 1},
			{X: 0, Y: 2}, {X: 1, Y: 2}, {X: 2, Y: 2},
		}
		assert.Equal(t, want, n)
	})

	t.Run("unknown cluster", func(t *testing.T) {
		t.Parallel()
		_, err := New().Neighbors(3)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})
}

func TestMerge(t *testing.T) {
	t.Parallel()

	t.Run("smaller merges into larger", func(t *testing.T) {
		t.Parallel()
		m := New()
		small := buildCluster(t, m, Point{X: 0, Y: 0})
		large := buildCluster(t, m, Point{X: 5, Y: 5}, Point{X: 6, Y: 5}, Point{X: 7, Y: 5})

		survivor, err := m.Merge(small, large)
		require.NoError(t, err)
		assert.Equal(t, large, survivor)

		size, err := m.Size(large)
		require.NoError(t, err)
		assert.Equal(t, 4, size, "merge preserves total points")

		owner, err := m.ClusterIndex(0, 0)
		require.NoError(t, err)
		assert.Equal(t, large, owner)
		assert.Equal(t, []uint32{large}, m.Indexes())
		checkPartition(t, m)
	})

	t.Run("equal size keeps first", func(t *testing.T) {
		t.Parallel()
		m := New()
		a := buildCluster(t, m, Point{X: 0, Y: 0})
		b := buildCluster(t, m, Point{X: 1, Y: 0})

		survivor, err := m.Merge(a, b)
		require.NoError(t, err)
		assert.Equal(t, a, survivor)

		seed, err := m.Seed(a)
		require.NoError(t, err)
		assert.Equal(t, Point{X: 0, Y: 0}, seed, "seed of survivor unchanged")
	})

	t.Run("self merge is a no-op", func(t *testing.T) {
		t.Parallel()
		m := New()
		a := buildCluster(t, m, Point{X: 0, Y: 0})
		survivor, err := m.Merge(a, a)
		require.NoError(t, err)
		assert.Equal(t, a, survivor)
		assert.Equal(t, 1, m.Len())
	})

	t.Run("unknown index rejected without mutation", func(t *testing.T) {
		t.Parallel()
		m := New()
		a := buildCluster(t, m, Point{X: 0, Y: 0})
		_, err := m.Merge(a, 77)
		assert.ErrorIs(t, err, ErrOutOfRange)
		_, err = m.Merge(77, a)
		assert.ErrorIs(t, err, ErrOutOfRange)
		assert.Equal(t, []uint32{a}, m.Indexes())
		checkPartition(t, m)
	})
}

func TestRemove(t *testing.T) {
	t.Parallel()

	m := New()
	a := buildCluster(t, m, Point{X: 0, Y: 0}, Point{X: 0, Y: 1})
	require.NoError(t, m.Remove(a))
	assert.False(t, m.Contains(0, 0))
	assert.False(t, m.Contains(0, 1))
	assert.ErrorIs(t, m.Remove(a), ErrOutOfRange)

	// Released points can be reused, but the index never is.
	b, err := m.CreateCluster(0, 0, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	checkPartition(t, m)
}

func TestRemoveSmall(t *testing.T) {
	t.Parallel()

	m := New()
	sizes := map[int]uint32{}
	for size := 1; size <= 4; size++ {
		points := make([]Point, size)
		for i := range points {
			points[i] = Point{X: i, Y: size * 10}
		}
		sizes[size] = buildCluster(t, m, points...)
	}

	removed := m.RemoveSmall(3)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []uint32{sizes[3], sizes[4]}, m.Indexes())
	assert.False(t, m.Contains(0, 10))
	assert.False(t, m.Contains(1, 20))
	checkPartition(t, m)

	assert.Zero(t, m.RemoveSmall(1))
}

func TestPartitionInvariantUnderMixedOperations(t *testing.T) {
	t.Parallel()

	m := New()
	var indexes []uint32
	for i := 0; i < 6; i++ {
		index, err := m.CreateCluster(i*3, 0, float64(i))
		require.NoError(t, err)
		require.NoError(t, m.AddPoint(index, i*3+1, 0, 0))
		indexes = append(indexes, index)
	}
	checkPartition(t, m)

	_, err := m.Merge(indexes[0], indexes[1])
	require.NoError(t, err)
	checkPartition(t, m)

	require.NoError(t, m.Remove(indexes[2]))
	checkPartition(t, m)

	survivor, err := m.Merge(indexes[3], indexes[4])
	require.NoError(t, err)
	require.NoError(t, m.AddPoint(survivor, 100, 100, 0))
	checkPartition(t, m)

	seen := map[uint32]bool{}
	for _, index := range indexes {
		seen[index] = true
	}
	fresh, err := m.CreateCluster(-5, -5, 0)
	require.NoError(t, err)
	assert.False(t, seen[fresh], "index %d reused", fresh)
	checkPartition(t, m)
}

func TestSortPointsRowMajor(t *testing.T) {
	t.Parallel()

	points := []Point{{X: 2, Y: 1}, {X: 0, Y: 2}, {X: 1, Y: 1}, {X: 5, Y: 0}}
	sortPoints(points)
	want := []Point{{X: 5, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 1}, {X: 0, Y: 2}}
	if diff := cmp.Diff(want, points); diff != "" {
		t.Errorf("sortPoints mismatch (-want +got):\n%s", diff)
	}
}
