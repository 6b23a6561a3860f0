package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fednorm/fednorm/internal/protocol"
)

func freeListenAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestWebSocketTransport_ParticipantRoundTripsThroughCoordinator(t *testing.T) {
	addr := freeListenAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator, err := NewCoordinatorWebSocketTransport(ctx, addr, 1)
	require.NoError(t, err)
	defer coordinator.Close()

	// Give the HTTP server a moment to start listening.
	var participant *WebSocketTransport
	require.Eventually(t, func() bool {
		var dialErr error
		participant, dialErr = NewParticipantWebSocketTransport(ctx, "ws://"+addr+"/ws", "siteA")
		return dialErr == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer participant.Close()

	env := protocol.Envelope{
		ParticipantID: "siteA",
		Round:         protocol.RoundOne,
		Kind:          protocol.KindLocalZeros,
		Payload:       protocol.EncodeIntVector([]int{1, 2, 3}),
	}
	require.NoError(t, participant.Send(ctx, env))

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	got, err := coordinator.Recv(recvCtx, protocol.RoundOne, protocol.KindLocalZeros)
	require.NoError(t, err)
	assert.Equal(t, "siteA", got.ParticipantID)

	decoded, err := protocol.DecodeIntVector(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, decoded)
}

func TestWebSocketTransport_CoordinatorSendSelfDelivers(t *testing.T) {
	addr := freeListenAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator, err := NewCoordinatorWebSocketTransport(ctx, addr, 1)
	require.NoError(t, err)
	defer coordinator.Close()

	env := protocol.Envelope{
		ParticipantID: "coordinatorSite",
		Round:         protocol.RoundOne,
		Kind:          protocol.KindLocalMeans,
		Payload:       []byte{1},
	}
	require.NoError(t, coordinator.Send(ctx, env))

	recvCtx, recvCancel := context.WithTimeout(ctx, time.Second)
	defer recvCancel()
	got, err := coordinator.Recv(recvCtx, protocol.RoundOne, protocol.KindLocalMeans)
	require.NoError(t, err)
	assert.Equal(t, "coordinatorSite", got.ParticipantID)
}

func TestWebSocketTransport_ParticipantBroadcastRejected(t *testing.T) {
	addr := freeListenAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := NewCoordinatorWebSocketTransport(ctx, addr, 1)
	require.NoError(t, err)

	var participant *WebSocketTransport
	require.Eventually(t, func() bool {
		var dialErr error
		participant, dialErr = NewParticipantWebSocketTransport(ctx, "ws://"+addr+"/ws", "siteA")
		return dialErr == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer participant.Close()

	err = participant.Broadcast(ctx, protocol.Envelope{})
	assert.Error(t, err)
}

func TestWebSocketTransport_RecvRespectsContextCancellation(t *testing.T) {
	addr := freeListenAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	coordinator, err := NewCoordinatorWebSocketTransport(ctx, addr, 1)
	require.NoError(t, err)
	defer coordinator.Close()
	defer cancel()

	recvCtx, recvCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer recvCancel()
	_, err = coordinator.Recv(recvCtx, protocol.RoundOne, protocol.KindLocalMeans)
	assert.Error(t, err)
}
