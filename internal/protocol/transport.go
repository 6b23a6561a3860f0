package protocol

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Transport moves Envelopes between a participant and the coordinator.
// Spec section 9's design note replaces the original substrate's
// append-only shared list with a channel of typed payload envelopes
// discriminated by round number; Transport is that channel boundary,
// implemented over in-memory queues for tests, gorilla/websocket for a
// direct participant-coordinator link, or Redis pub/sub for a broker-
// mediated deployment (internal/transport).
type Transport interface {
	// Send delivers env to wherever round-1/round-2 payloads are
	// aggregated. For a participant this is always the coordinator; a
	// coordinator calling Send is contributing its own co-located site's
	// payload, so it is delivered to itself (see Broadcast for the
	// coordinator's fan-out-to-every-participant direction).
	Send(ctx context.Context, env Envelope) error

	// Broadcast delivers env to every participant. Coordinator-only;
	// implementations used purely as a participant may return
	// errNotCoordinator.
	Broadcast(ctx context.Context, env Envelope) error

	// Recv blocks until an Envelope for round/kind arrives, or ctx is
	// done. Implementations que envelopes that arrive out of order
	// relative to the caller's current state so a late participant never
	// loses a message sent while it was still computing.
	Recv(ctx context.Context, round Round, kind Kind) (Envelope, error)

	// Close releases any underlying connection or subscription.
	Close() error
}

// InboxTransport is an in-process Transport backed by a mutex-guarded
// inbox, grounded on internal/data/cache.go's memory cache shape (a
// mutex plus a plain map) generalized to a multi-writer/multi-reader
// message queue. It is the harness used by the driver's own tests; the
// fednorm CLI does not offer it (transport.kind=inmemory is rejected).
type InboxTransport struct {
	mu   sync.Mutex
	cond *sync.Cond

	isCoordinator bool
	peers         []*InboxTransport
	inbox         []Envelope
}

// NewInboxHub builds n participant-facing InboxTransports plus one
// coordinator-facing InboxTransport, all wired to each other so Send from
// any participant reaches the coordinator's inbox and Broadcast from the
// coordinator reaches every participant's inbox.
func NewInboxHub(participantCount int) (coordinator *InboxTransport, participants []*InboxTransport) {
	coordinator = &InboxTransport{isCoordinator: true}
	coordinator.cond = sync.NewCond(&coordinator.mu)

	participants = make([]*InboxTransport, participantCount)
	for i := range participants {
		t := &InboxTransport{}
		t.cond = sync.NewCond(&t.mu)
		participants[i] = t
	}
	coordinator.peers = participants
	for _, p := range participants {
		p.peers = []*InboxTransport{coordinator}
	}
	return coordinator, participants
}

func (t *InboxTransport) Send(ctx context.Context, env Envelope) error {
	// A coordinator is always co-located with one of the run's
	// participants (internal/data feeds it an Input just like every
	// other site), so its own round-1/round-2 contribution is delivered
	// to its own inbox rather than routed out to a peer.
	dest := t
	if !t.isCoordinator {
		if len(t.peers) == 0 {
			return errNoPayloads
		}
		dest = t.peers[0]
	}
	dest.mu.Lock()
	dest.inbox = append(dest.inbox, env)
	dest.cond.Broadcast()
	dest.mu.Unlock()
	return nil
}

func (t *InboxTransport) Broadcast(ctx context.Context, env Envelope) error {
	if !t.isCoordinator {
		return errNotCoordinator
	}
	for _, p := range t.peers {
		p.mu.Lock()
		p.inbox = append(p.inbox, env)
		p.cond.Broadcast()
		p.mu.Unlock()
	}
	return nil
}

func (t *InboxTransport) Recv(ctx context.Context, round Round, kind Kind) (Envelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		for i, env := range t.inbox {
			if env.Round == round && env.Kind == kind {
				t.inbox = append(t.inbox[:i], t.inbox[i+1:]...)
				return env, nil
			}
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				t.mu.Lock()
				t.cond.Broadcast()
				t.mu.Unlock()
			case <-done:
			}
		}()
		t.cond.Wait()
		close(done)
		if err := ctx.Err(); err != nil {
			log.Debug().Err(err).Msg("transport recv cancelled")
			return Envelope{}, err
		}
	}
}

func (t *InboxTransport) Close() error { return nil }
