// Package store holds the per-run ParticipantStore (C4): the participant's
// input matrix, labeled axes, and the typed intermediate slots the
// quantile and upper-quartile engines write into over the course of one
// normalization run.
package store

import (
	"fmt"
	"sync"

	"github.com/fednorm/fednorm/internal/errs"
)

// LocalMeanVector is the quantile-mode round-1 payload: m_eff is the
// number of contributing columns, Sum is the length-n vector whose entry i
// adds up this site's sorted columns at rank position i.
type LocalMeanVector struct {
	MEff int
	Sum  []float64
}

// ParticipantStore is created once per run. Each slot may be written at
// most once; a second write is a programming error and returns a
// ProtocolError, leaving the first value in place, since it can only
// happen if the driver re-enters a state it already completed.
type ParticipantStore struct {
	mu sync.Mutex

	X           [][]float64
	SampleNames []string
	GeneNames   []string

	localMeans    *LocalMeanVector
	nobs          []int
	arr           [][]float64
	globalMeans   []float64
	localZeros    []int
	globalZeros   []int
	uquartile     []float64
	scalingFactor *float64
	normFac       []float64
	result        [][]float64

	written map[string]bool
}

// New creates a ParticipantStore over X, with optional sample/gene labels.
func New(x [][]float64, sampleNames, geneNames []string) *ParticipantStore {
	return &ParticipantStore{
		X:           x,
		SampleNames: sampleNames,
		GeneNames:   geneNames,
		written:     make(map[string]bool),
	}
}

func (s *ParticipantStore) markOnce(slot string) error {
	if s.written[slot] {
		return errs.ProtocolError(fmt.Errorf("slot %q already written this run", slot))
	}
	s.written[slot] = true
	return nil
}

func (s *ParticipantStore) SetLocalMeans(v LocalMeanVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("local_means"); err != nil {
		return err
	}
	s.localMeans = &v
	return nil
}

func (s *ParticipantStore) LocalMeans() *LocalMeanVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localMeans
}

func (s *ParticipantStore) SetNobs(v []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("nobs"); err != nil {
		return err
	}
	s.nobs = v
	return nil
}

func (s *ParticipantStore) Nobs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nobs
}

func (s *ParticipantStore) SetArr(v [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("arr"); err != nil {
		return err
	}
	s.arr = v
	return nil
}

func (s *ParticipantStore) Arr() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arr
}

func (s *ParticipantStore) SetGlobalMeans(v []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("global_means"); err != nil {
		return err
	}
	s.globalMeans = v
	return nil
}

func (s *ParticipantStore) GlobalMeans() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalMeans
}

func (s *ParticipantStore) SetLocalZeros(v []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("local_zeros"); err != nil {
		return err
	}
	s.localZeros = v
	return nil
}

func (s *ParticipantStore) LocalZeros() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localZeros
}

func (s *ParticipantStore) SetGlobalZeros(v []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("global_zeros"); err != nil {
		return err
	}
	s.globalZeros = v
	return nil
}

func (s *ParticipantStore) GlobalZeros() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalZeros
}

func (s *ParticipantStore) SetUQuartile(v []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("uquartile"); err != nil {
		return err
	}
	s.uquartile = v
	return nil
}

func (s *ParticipantStore) UQuartile() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uquartile
}

func (s *ParticipantStore) SetScalingFactor(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("scaling_factor"); err != nil {
		return err
	}
	s.scalingFactor = &v
	return nil
}

func (s *ParticipantStore) ScalingFactor() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scalingFactor == nil {
		return 0, false
	}
	return *s.scalingFactor, true
}

func (s *ParticipantStore) SetNormFactors(v []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("normfac"); err != nil {
		return err
	}
	s.normFac = v
	return nil
}

func (s *ParticipantStore) NormFactors() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.normFac
}

func (s *ParticipantStore) SetResult(v [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markOnce("result"); err != nil {
		return err
	}
	s.result = v
	return nil
}

func (s *ParticipantStore) Result() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
