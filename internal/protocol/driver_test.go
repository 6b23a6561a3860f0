package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInput struct {
	x           [][]float64
	sampleNames []string
	geneNames   []string
}

func (s stubInput) Load() ([][]float64, []string, []string, error) {
	return s.x, s.sampleNames, s.geneNames, nil
}

type stubSink struct {
	result      [][]float64
	normFactors []float64
}

func (s *stubSink) WriteResult(x [][]float64, sampleNames, geneNames []string) error {
	s.result = x
	return nil
}

func (s *stubSink) WriteNormFactors(normFactors []float64, sampleNames []string) error {
	s.normFactors = normFactors
	return nil
}

// A two-site federation always co-locates the coordinator with one of the
// sites, so NewInboxHub is given only the remaining (non-coordinator)
// participant count.
func TestDriver_QuantileRoundTrip_TwoSites(t *testing.T) {
	coordTransport, participantTransports := NewInboxHub(1)
	runID := uuid.New()

	siteA := [][]float64{
		{5, 2},
		{1, 8},
		{3, 4},
	}
	siteB := [][]float64{
		{6, 3},
		{2, 9},
		{4, 5},
	}

	sinkA := &stubSink{}
	sinkB := &stubSink{}

	coordinator := &Driver{
		RunID: runID, ParticipantID: "siteA", Role: RoleCoordinator, Mode: ModeQuantile,
		Transport: coordTransport, Input: stubInput{x: siteA}, Sink: sinkA,
		ParticipantCount: 2, PollInterval: time.Millisecond,
	}
	driverB := &Driver{
		RunID: runID, ParticipantID: "siteB", Role: RoleParticipant, Mode: ModeQuantile,
		Transport: participantTransports[0], Input: stubInput{x: siteB}, Sink: sinkB,
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- coordinator.Run(ctx) }()
	go func() { errCh <- driverB.Run(ctx) }()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errCh)
	}

	assert.Equal(t, 3, len(sinkA.result))
	assert.Equal(t, 3, len(sinkB.result))
	assert.Equal(t, StateFinish, coordinator.State())
	assert.Equal(t, StateFinish, driverB.State())
}

func TestDriver_UpperQuartileRoundTrip_TwoSites(t *testing.T) {
	coordTransport, participantTransports := NewInboxHub(1)
	runID := uuid.New()

	siteA := [][]float64{
		{10, 1},
		{20, 2},
		{30, 3},
		{40, 4},
	}
	siteB := [][]float64{
		{15, 5},
		{25, 6},
		{35, 7},
		{45, 8},
	}

	sinkA := &stubSink{}
	sinkB := &stubSink{}

	coordinator := &Driver{
		RunID: runID, ParticipantID: "siteA", Role: RoleCoordinator, Mode: ModeUpperQuartile,
		Transport: coordTransport, Input: stubInput{x: siteA}, Sink: sinkA,
		ParticipantCount: 2, ParticipantIDs: []string{"siteA", "siteB"}, PollInterval: time.Millisecond,
	}
	driverB := &Driver{
		RunID: runID, ParticipantID: "siteB", Role: RoleParticipant, Mode: ModeUpperQuartile,
		Transport: participantTransports[0], Input: stubInput{x: siteB}, Sink: sinkB,
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- coordinator.Run(ctx) }()
	go func() { errCh <- driverB.Run(ctx) }()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errCh)
	}

	require.Equal(t, 2, len(sinkA.normFactors))
	require.Equal(t, 2, len(sinkB.normFactors))
	assert.Equal(t, StateFinish, driverB.State())
}

func TestDriver_CancelledContextAbortsRun(t *testing.T) {
	_, participantTransports := NewInboxHub(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Driver{
		RunID: uuid.New(), ParticipantID: "siteA", Role: RoleParticipant, Mode: ModeQuantile,
		Transport: participantTransports[0], Input: stubInput{x: [][]float64{{1, 2}}}, Sink: &stubSink{},
		PollInterval: time.Millisecond,
	}
	err := d.Run(ctx)
	assert.Error(t, err)
}
