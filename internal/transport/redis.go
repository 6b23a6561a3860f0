// Package transport implements internal/protocol.Transport over real
// wire substrates: Redis pub/sub (grounded on data/cache.go's go-redis/v9
// client construction) and a direct WebSocket link (grounded on
// internal/providers/kraken/websocket.go's connection/read-loop shape).
// Both are wrapped with a sony/gobreaker circuit breaker, grounded on
// infra/breakers/breakers.go, so a flaky broker aborts a run instead of
// hanging every participant at a barrier forever.
package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/fednorm/fednorm/internal/protocol"
)

// RedisTransport publishes and subscribes on a single channel shared by
// the coordinator and every participant in a run; Recv picks envelopes
// by Round/Kind rather than by channel (RunID is not checked, so each run
// needs its own channel), which keeps the fan-out/fan-in topology simple.
type RedisTransport struct {
	client  *redis.Client
	channel string
	sub     *redis.PubSub
	breaker *gobreaker.CircuitBreaker

	isCoordinator bool

	inboxMu sync.Mutex
	inbox   []protocol.Envelope
}

// NewRedisTransport opens a client against addr and subscribes to
// channel. Close must be called when the run finishes to release the
// subscription.
func NewRedisTransport(ctx context.Context, addr, password string, db int, channel string, isCoordinator bool) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	breakerSettings := gobreaker.Settings{
		Name:        "redis-transport:" + channel,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &RedisTransport{
		client:        client,
		channel:       channel,
		sub:           sub,
		breaker:       gobreaker.NewCircuitBreaker(breakerSettings),
		isCoordinator: isCoordinator,
	}, nil
}

func (t *RedisTransport) Send(ctx context.Context, env protocol.Envelope) error {
	return t.publish(ctx, env)
}

func (t *RedisTransport) Broadcast(ctx context.Context, env protocol.Envelope) error {
	if !t.isCoordinator {
		return fmt.Errorf("redis transport: broadcast is coordinator-only")
	}
	return t.publish(ctx, env)
}

func (t *RedisTransport) publish(ctx context.Context, env protocol.Envelope) error {
	encoded := base64.StdEncoding.EncodeToString(env.Encode())
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.client.Publish(ctx, t.channel, encoded).Err()
	})
	if err != nil {
		log.Error().Err(err).Str("channel", t.channel).Msg("redis publish failed")
		return err
	}
	return nil
}

// Recv blocks until an Envelope for round/kind arrives. Envelopes that
// arrive for a different round/kind are buffered in t.inbox rather than
// discarded, matching InboxTransport and WebSocketTransport's queueing
// contract — a late participant must not lose a message that arrived
// while it was still busy computing an earlier state.
func (t *RedisTransport) Recv(ctx context.Context, round protocol.Round, kind protocol.Kind) (protocol.Envelope, error) {
	ch := t.sub.Channel()
	for {
		if env, ok := t.takeBuffered(round, kind); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return protocol.Envelope{}, fmt.Errorf("redis transport: subscription channel closed")
			}
			raw, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("dropping malformed redis message")
				continue
			}
			env, err := protocol.DecodeEnvelope(raw)
			if err != nil {
				log.Warn().Err(err).Msg("dropping undecodable envelope")
				continue
			}
			if env.Round != round || env.Kind != kind {
				t.inboxMu.Lock()
				t.inbox = append(t.inbox, env)
				t.inboxMu.Unlock()
				continue
			}
			return env, nil
		}
	}
}

func (t *RedisTransport) takeBuffered(round protocol.Round, kind protocol.Kind) (protocol.Envelope, bool) {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()
	for i, env := range t.inbox {
		if env.Round == round && env.Kind == kind {
			t.inbox = append(t.inbox[:i], t.inbox[i+1:]...)
			return env, true
		}
	}
	return protocol.Envelope{}, false
}

func (t *RedisTransport) Close() error {
	if err := t.sub.Close(); err != nil {
		return err
	}
	return t.client.Close()
}
