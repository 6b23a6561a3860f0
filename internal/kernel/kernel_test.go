package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortColumn(t *testing.T) {
	out, err := SortColumn([]float64{3, 1, math.NaN(), 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, out)

	_, err = SortColumn([]float64{math.NaN(), math.NaN()})
	assert.Error(t, err)
}

func TestRankAverage_EmptyIsError(t *testing.T) {
	_, err := RankAverage(nil)
	assert.Error(t, err)
}

func TestRankAverage_TiesSumInvariant(t *testing.T) {
	// Property 3 from spec section 8: ranks of any column sum to n(n+1)/2.
	cols := [][]float64{
		{5, 2, 2, 4, 1},
		{1, 1, 1, 1},
		{7, 7, 7, 7, 7, 7},
		{3, 1, 4, 1, 5, 9, 2, 6},
	}
	for _, col := range cols {
		ranks, err := RankAverage(col)
		require.NoError(t, err)
		n := float64(len(col))
		sum := 0.0
		for _, r := range ranks {
			sum += r
		}
		assert.InDelta(t, n*(n+1)/2, sum, 1e-9)
	}
}

func TestRankAverage_KnownTies(t *testing.T) {
	ranks, err := RankAverage([]float64{10, 20, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks)
}

func TestRankAverage_NaNPositionsPreserved(t *testing.T) {
	ranks, err := RankAverage([]float64{5, math.NaN(), 2, 8})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ranks[1]))
	assert.Equal(t, 2.0, ranks[0])
	assert.Equal(t, 1.0, ranks[2])
	assert.Equal(t, 3.0, ranks[3])
}

func TestInterp1D_MonotoneBounds(t *testing.T) {
	// Property 6: for any t in [0,1], min(y) <= f(t) <= max(y).
	xGrid := []float64{0, 0.25, 0.5, 0.75, 1}
	yGrid := []float64{1.25, 2.0, 3.5, 4.75, 9.0}
	f, err := NewInterp1D(xGrid, yGrid)
	require.NoError(t, err)

	minY, maxY := yGrid[0], yGrid[0]
	for _, y := range yGrid {
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	for _, t01 := range []float64{0, 0.1, 0.3, 0.5, 0.6, 0.9, 1} {
		v := f.Eval(t01)
		assert.GreaterOrEqual(t, v, minY)
		assert.LessOrEqual(t, v, maxY)
	}
}

func TestInterp1D_ClampsOutsideDomain(t *testing.T) {
	f, err := NewInterp1D([]float64{0, 1}, []float64{10, 20})
	require.NoError(t, err)
	assert.Equal(t, 10.0, f.Eval(-5))
	assert.Equal(t, 20.0, f.Eval(5))
}

func TestInterp1D_RejectsNonMonotoneGrid(t *testing.T) {
	_, err := NewInterp1D([]float64{0, 0.5, 0.5, 1}, []float64{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestInterp1D_SingleValueSkipsInterpolation(t *testing.T) {
	f, err := NewInterp1D([]float64{0.5}, []float64{42})
	require.NoError(t, err)
	assert.Equal(t, 42.0, f.Eval(0))
	assert.Equal(t, 42.0, f.Eval(1))
}

func TestQuantile075(t *testing.T) {
	q, err := Quantile075([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 3.25, q, 1e-9)
}

func TestColumnSum(t *testing.T) {
	m := [][]float64{
		{1, 2, 3},
		{4, 5, 6},
	}
	assert.Equal(t, []float64{5, 7, 9}, ColumnSum(m))
}

func TestGeometricMean(t *testing.T) {
	g, err := GeometricMean([]float64{1, 2, 4})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, g, 1e-9)

	_, err = GeometricMean([]float64{1, 0, 4})
	assert.Error(t, err)

	_, err = GeometricMean([]float64{1, -2, 4})
	assert.Error(t, err)
}

func TestIntersectSorted(t *testing.T) {
	out := IntersectSorted([][]int{
		{1, 3, 5, 7},
		{3, 5, 7, 9},
		{3, 4, 5, 7, 8},
	})
	assert.Equal(t, []int{3, 5, 7}, out)

	assert.Equal(t, []int{}, IntersectSorted(nil))
	assert.Equal(t, []int{1, 2}, IntersectSorted([][]int{{2, 1, 1}}))
}
