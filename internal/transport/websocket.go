package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/fednorm/fednorm/internal/protocol"
)

// WebSocketTransport carries envelopes over a single binary-message
// WebSocket connection. One participant dials the coordinator; the
// coordinator accepts one connection per participant and fans a
// Broadcast out to all of them, mirroring
// internal/providers/kraken/websocket.go's connect/read-loop shape but
// generalized from a single upstream feed to a many-to-one fan-in,
// one-to-many fan-out topology. A dropped connection is not redialed.
type WebSocketTransport struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn // participant id -> conn; coordinator only
	self  *websocket.Conn            // participant's own conn to the coordinator

	isCoordinator bool
	breaker       *gobreaker.CircuitBreaker

	inboxMu sync.Mutex
	inbox   []protocol.Envelope
	wake    chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// NewCoordinatorWebSocketTransport starts an HTTP server on listenAddr
// that upgrades every incoming connection to a WebSocket, keyed by the
// "participant_id" query parameter. participantCount only pre-sizes the
// connection map; Broadcast writes to whichever participants are
// connected when it is called and does not wait for the rest.
func NewCoordinatorWebSocketTransport(ctx context.Context, listenAddr string, participantCount int) (*WebSocketTransport, error) {
	t := &WebSocketTransport{
		conns:         make(map[string]*websocket.Conn, participantCount),
		isCoordinator: true,
		breaker:       newBreaker("websocket-coordinator:" + listenAddr),
		wake:          make(chan struct{}, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("participant_id")
		if id == "" {
			http.Error(w, "missing participant_id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Str("participant_id", id).Msg("websocket upgrade failed")
			return
		}
		t.mu.Lock()
		t.conns[id] = conn
		t.mu.Unlock()
		go t.readLoop(conn)
	})

	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("websocket transport server stopped")
		}
	}()

	return t, nil
}

// NewParticipantWebSocketTransport dials the coordinator at dialAddr.
func NewParticipantWebSocketTransport(ctx context.Context, dialAddr, participantID string) (*WebSocketTransport, error) {
	url := fmt.Sprintf("%s?participant_id=%s", dialAddr, participantID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator: %w", err)
	}
	t := &WebSocketTransport{
		self:    conn,
		breaker: newBreaker("websocket-participant:" + participantID),
		wake:    make(chan struct{}, 1),
	}
	go t.readLoop(conn)
	return t, nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("websocket read loop exiting")
			return
		}
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable websocket envelope")
			continue
		}
		t.inboxMu.Lock()
		t.inbox = append(t.inbox, env)
		t.inboxMu.Unlock()
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

// Send delivers env to wherever round-1/round-2 payloads are aggregated.
// A participant writes it over the wire to the coordinator; a coordinator
// calling Send is contributing its own co-located site's payload, so it
// is appended directly to its own inbox instead of dialing itself.
func (t *WebSocketTransport) Send(ctx context.Context, env protocol.Envelope) error {
	if t.isCoordinator {
		t.inboxMu.Lock()
		t.inbox = append(t.inbox, env)
		t.inboxMu.Unlock()
		select {
		case t.wake <- struct{}{}:
		default:
		}
		return nil
	}
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.self.WriteMessage(websocket.BinaryMessage, env.Encode())
	})
	return err
}

func (t *WebSocketTransport) Broadcast(ctx context.Context, env protocol.Envelope) error {
	if !t.isCoordinator {
		return fmt.Errorf("websocket transport: broadcast is coordinator-only")
	}
	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	encoded := env.Encode()
	_, err := t.breaker.Execute(func() (any, error) {
		var firstErr error
		for _, c := range conns {
			if werr := c.WriteMessage(websocket.BinaryMessage, encoded); werr != nil && firstErr == nil {
				firstErr = werr
			}
		}
		return nil, firstErr
	})
	return err
}

func (t *WebSocketTransport) Recv(ctx context.Context, round protocol.Round, kind protocol.Kind) (protocol.Envelope, error) {
	for {
		t.inboxMu.Lock()
		for i, env := range t.inbox {
			if env.Round == round && env.Kind == kind {
				t.inbox = append(t.inbox[:i], t.inbox[i+1:]...)
				t.inboxMu.Unlock()
				return env, nil
			}
		}
		t.inboxMu.Unlock()

		select {
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		case <-t.wake:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (t *WebSocketTransport) Close() error {
	var err error
	if t.self != nil {
		err = t.self.Close()
	}
	t.mu.Lock()
	for _, c := range t.conns {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	t.mu.Unlock()
	return err
}
