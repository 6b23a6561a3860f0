package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fednorm/fednorm/internal/store"
)

func TestComputeGlobalMeans(t *testing.T) {
	payloads := []store.LocalMeanVector{
		{MEff: 2, Sum: []float64{10, 20}},
		{MEff: 3, Sum: []float64{5, 10}},
	}
	gm, err := (Aggregator{}).ComputeGlobalMeans(payloads)
	require.NoError(t, err)
	// (10+5)/5 = 3, (20+10)/5 = 6
	assert.InDelta(t, 3.0, gm[0], 1e-9)
	assert.InDelta(t, 6.0, gm[1], 1e-9)
}

func TestComputeGlobalMeans_MismatchedLengthsIsShapeError(t *testing.T) {
	payloads := []store.LocalMeanVector{
		{MEff: 1, Sum: []float64{1, 2}},
		{MEff: 1, Sum: []float64{1, 2, 3}},
	}
	_, err := (Aggregator{}).ComputeGlobalMeans(payloads)
	assert.Error(t, err)
}

func TestComputeGlobalMeans_NoPayloadsIsProtocolError(t *testing.T) {
	_, err := (Aggregator{}).ComputeGlobalMeans(nil)
	assert.Error(t, err)
}

func TestComputeGlobalZeros(t *testing.T) {
	out, err := (Aggregator{}).ComputeGlobalZeros([][]int{
		{0, 2, 4},
		{2, 4, 6},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, out)
}

func TestComputeGlobalResult(t *testing.T) {
	sf, err := (Aggregator{}).ComputeGlobalResult([]float64{1, 2, 4, 8})
	require.NoError(t, err)
	assert.InDelta(t, 2.828427, sf, 1e-5)
}
