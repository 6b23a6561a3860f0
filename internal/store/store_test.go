package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantStore_WriteOnceEnforced(t *testing.T) {
	s := New([][]float64{{1, 2}}, []string{"a", "b"}, []string{"g1"})

	require.NoError(t, s.SetNobs([]int{1, 1}))
	assert.Equal(t, []int{1, 1}, s.Nobs())

	err := s.SetNobs([]int{2, 2})
	assert.Error(t, err)
	assert.Equal(t, []int{1, 1}, s.Nobs())
}

func TestParticipantStore_ScalingFactorUnsetReturnsFalse(t *testing.T) {
	s := New(nil, nil, nil)
	_, ok := s.ScalingFactor()
	assert.False(t, ok)

	require.NoError(t, s.SetScalingFactor(1.5))
	v, ok := s.ScalingFactor()
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestParticipantStore_IndependentSlots(t *testing.T) {
	s := New(nil, nil, nil)
	require.NoError(t, s.SetLocalZeros([]int{1, 2}))
	require.NoError(t, s.SetGlobalZeros([]int{2}))
	assert.Equal(t, []int{1, 2}, s.LocalZeros())
	assert.Equal(t, []int{2}, s.GlobalZeros())
}
