package upperquartile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLocalZeros(t *testing.T) {
	x := [][]float64{
		{0, 0},
		{1, 0},
		{0, 0},
	}
	zeros, err := ComputeLocalZeros(x)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, zeros)
}

func TestComputeLocalZeros_RejectsNaN(t *testing.T) {
	_, err := ComputeLocalZeros([][]float64{{0, math.NaN()}})
	assert.Error(t, err)
}

func TestComputeLocalUQuartile(t *testing.T) {
	x := [][]float64{
		{10, 1},
		{20, 2},
		{30, 3},
		{40, 4},
	}
	result, err := ComputeLocalUQuartile(x, nil)
	require.NoError(t, err)
	assert.False(t, result.Warning)
	assert.Equal(t, 2, len(result.Vector))

	// quantile_0.75({10,20,30,40}) = 32.5; column sum = 100.
	assert.InDelta(t, 0.325, result.Vector[0], 1e-9)
}

func TestComputeLocalUQuartile_RemovesGlobalZeros(t *testing.T) {
	x := [][]float64{
		{0, 0},
		{10, 1},
		{20, 2},
		{30, 3},
	}
	result, err := ComputeLocalUQuartile(x, []int{0})
	require.NoError(t, err)
	assert.False(t, result.Warning)
}

func TestComputeLocalUQuartile_ThinMatrixWarnsInsteadOfErroring(t *testing.T) {
	x := [][]float64{
		{0, 0},
		{10, 1},
	}
	result, err := ComputeLocalUQuartile(x, []int{0})
	require.NoError(t, err)
	assert.True(t, result.Warning)
	assert.Equal(t, []float64{1, 1}, result.Vector)
}

func TestComputeLocalUQuartile_ZeroLibrarySizeIsDomainError(t *testing.T) {
	x := [][]float64{
		{0, 1},
		{0, 2},
		{0, 3},
	}
	_, err := ComputeLocalUQuartile(x, nil)
	assert.Error(t, err)
}

func TestComputeLocalResult(t *testing.T) {
	x := [][]float64{{10, 20}, {30, 40}}
	out, err := ComputeLocalResult(x, []float64{2, 4})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5, 5}, {15, 10}}, out)
}

func TestComputeLocalResult_ShapeMismatch(t *testing.T) {
	_, err := ComputeLocalResult([][]float64{{1, 2}}, []float64{1})
	assert.Error(t, err)
}

func TestNormFactors(t *testing.T) {
	out := NormFactors([]float64{0.5, 1.0, 2.0}, 0.5)
	assert.Equal(t, []float64{1.0, 2.0, 4.0}, out)
}
