package transport

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fednorm/fednorm/internal/protocol"
)

func newMockedRedisTransport(isCoordinator bool) (*RedisTransport, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return &RedisTransport{
		client:  db,
		channel: "fednorm-run-test",
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "redis-transport:test",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		isCoordinator: isCoordinator,
	}, mock
}

func TestRedisTransport_SendPublishesEncodedEnvelope(t *testing.T) {
	rt, mock := newMockedRedisTransport(false)

	env := protocol.Envelope{
		RunID: uuid.New(), ParticipantID: "siteA",
		Round: protocol.RoundOne, Kind: protocol.KindLocalMeans,
		Payload: []byte{1, 2, 3},
	}
	encoded := base64.StdEncoding.EncodeToString(env.Encode())
	mock.ExpectPublish(rt.channel, encoded).SetVal(1)

	require.NoError(t, rt.Send(context.Background(), env))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTransport_BroadcastRejectedForParticipant(t *testing.T) {
	rt, _ := newMockedRedisTransport(false)
	err := rt.Broadcast(context.Background(), protocol.Envelope{})
	assert.Error(t, err)
}

func TestRedisTransport_BroadcastPublishesForCoordinator(t *testing.T) {
	rt, mock := newMockedRedisTransport(true)

	env := protocol.Envelope{Round: protocol.RoundOne, Kind: protocol.KindGlobalMeans, Payload: []byte{9}}
	encoded := base64.StdEncoding.EncodeToString(env.Encode())
	mock.ExpectPublish(rt.channel, encoded).SetVal(1)

	require.NoError(t, rt.Broadcast(context.Background(), env))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTransport_PublishErrorPropagates(t *testing.T) {
	rt, mock := newMockedRedisTransport(false)

	env := protocol.Envelope{Round: protocol.RoundOne, Kind: protocol.KindLocalZeros}
	encoded := base64.StdEncoding.EncodeToString(env.Encode())
	mock.ExpectPublish(rt.channel, encoded).SetErr(assertErrConnRefused)

	err := rt.Send(context.Background(), env)
	assert.Error(t, err)
}

var assertErrConnRefused = &connRefusedError{}

type connRefusedError struct{}

func (*connRefusedError) Error() string { return "connection refused" }
