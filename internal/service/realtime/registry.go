// Package realtime tracks persistent client connections and their
// lifecycle. The registry keeps at most one connection per client id and
// owns the teardown of connections it evicts.
package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrConnectionClosed reports a write against a handle that already left
// the open state.
var ErrConnectionClosed = errors.New("realtime connection closed")

// State captures the lifecycle of a registered connection. Transitions
// only ever move forward; Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport surface the registry manages. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Handle pairs one registered connection with its lifecycle state. All
// writes go through the handle so that they are serialized on the
// underlying connection.
type Handle struct {
	ClientID string

	conn  Conn
	state atomic.Int32
	wmu   sync.Mutex
}

func newHandle(clientID string, conn Conn) *Handle {
	h := &Handle{ClientID: clientID, conn: conn}
	h.state.Store(int32(StateConnecting))
	return h
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// WriteJSON writes a JSON message to the connection.
func (h *Handle) WriteJSON(v interface{}) error {
	if h.State() >= StateClosing {
		return ErrConnectionClosed
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	return h.conn.WriteJSON(v)
}

// Ping writes a ping control frame to the connection.
func (h *Handle) Ping() error {
	if h.State() >= StateClosing {
		return ErrConnectionClosed
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	return h.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *Handle) markOpen() {
	h.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// shutdown closes the connection exactly once and drives the state to
// Closed. Safe to call from any goroutine, any number of times.
func (h *Handle) shutdown() {
	for {
		cur := h.state.Load()
		if State(cur) >= StateClosing {
			return
		}
		if h.state.CompareAndSwap(cur, int32(StateClosing)) {
			break
		}
	}

	_ = h.conn.Close()
	h.state.Store(int32(StateClosed))
}

// Registry maps client ids to their single live connection handle.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Handle
	onTeardown func(clientID string)
}

// NewRegistry creates an empty registry. onTeardown, when non-nil, runs
// whenever a client's current registration is removed (not when it is
// replaced by a newer connection). It is invoked under the registry lock
// and must not call back into the registry.
func NewRegistry(onTeardown func(clientID string)) *Registry {
	return &Registry{
		conns:      make(map[string]*Handle),
		onTeardown: onTeardown,
	}
}

// Register installs a connection for the client and returns its handle.
// An existing registration for the same client is closed and replaced.
func (r *Registry) Register(clientID string, conn Conn) *Handle {
	h := newHandle(clientID, conn)

	r.mu.Lock()
	old := r.conns[clientID]
	r.conns[clientID] = h
	r.mu.Unlock()

	if old != nil {
		log.Info().Str("client_id", clientID).Msg("replacing existing realtime connection")
		old.shutdown()
	}

	h.markOpen()
	log.Info().Str("client_id", clientID).Int("connections", r.Len()).Msg("realtime connection registered")
	return h
}

// Unregister closes and removes whatever connection the client currently
// has. Unregistering an unknown client is a no-op.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	h := r.conns[clientID]
	if h != nil {
		delete(r.conns, clientID)
		if r.onTeardown != nil {
			r.onTeardown(clientID)
		}
	}
	r.mu.Unlock()

	if h == nil {
		return
	}

	h.shutdown()
	log.Info().Str("client_id", clientID).Msg("realtime connection unregistered")
}

// Release removes the handle's registration if it is still current and
// reports whether it was. A stale handle left over from a replaced
// connection never touches the newer registration. The handle itself is
// shut down either way.
func (r *Registry) Release(h *Handle) bool {
	if h == nil {
		return false
	}

	r.mu.Lock()
	current := r.conns[h.ClientID] == h
	if current {
		delete(r.conns, h.ClientID)
		if r.onTeardown != nil {
			r.onTeardown(h.ClientID)
		}
	}
	r.mu.Unlock()

	h.shutdown()
	return current
}

// Send delivers a message to the client's current connection on a
// best-effort basis. Messages for unknown clients are dropped. A write
// failure tears the connection down; it is never surfaced to the caller.
func (r *Registry) Send(clientID string, msg interface{}) {
	r.mu.RLock()
	h := r.conns[clientID]
	r.mu.RUnlock()

	if h == nil {
		log.Debug().Str("client_id", clientID).Msg("dropping message for unknown client")
		return
	}

	if err := h.WriteJSON(msg); err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("realtime send failed, tearing down connection")
		h.shutdown()
		r.mu.Lock()
		if r.conns[clientID] == h {
			delete(r.conns, clientID)
			if r.onTeardown != nil {
				r.onTeardown(clientID)
			}
		}
		r.mu.Unlock()
	}
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
