package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sake/internal/logging"
	"sake/internal/session"
	"sake/internal/state"
	"sake/internal/types"
)

// sendBuffer bounds the per-connection outbound queue. A UI that cannot
// drain it within the buffer loses broadcasts and is disconnected rather
// than allowed to stall every other consumer.
const sendBuffer = 64

// Hub owns the websocket clients and is the single Mirror/Notifier the rest
// of the process talks to. Broadcasts are delivered per connection in send
// order; replies are correlated by request id, never by arrival order.
type Hub struct {
	log  *zap.Logger
	flog *logging.Logger

	registry *session.Registry
	compiled *state.Store[[]types.CompiledContract]

	mu      sync.Mutex
	conns   map[*conn]struct{}
	pending map[string]chan Envelope
	unsubs  []func()
	closed  bool
	ops     sync.WaitGroup

	upgrader websocket.Upgrader
}

type conn struct {
	ws   *websocket.Conn
	send chan Envelope
}

// NewHub creates a hub serving the registry's sessions plus the shared
// compiled-contract store. A nil compiled store disables that state id.
func NewHub(log *zap.Logger, registry *session.Registry, compiled *state.Store[[]types.CompiledContract]) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:      log,
		flog:     logging.Get(logging.CategoryBridge),
		registry: registry,
		compiled: compiled,
		conns:    make(map[*conn]struct{}),
		pending:  make(map[string]chan Envelope),
	}

	// Shared state connects directly to its single global store and is
	// unaffected by session switching.
	h.unsubs = append(h.unsubs, registry.ListStore().Subscribe(func(v []session.Info) {
		h.broadcastState(StateSessions, v)
	}))
	if compiled != nil {
		h.unsubs = append(h.unsubs, compiled.Subscribe(func(v []types.CompiledContract) {
			h.broadcastState(StateCompiledContracts, v)
		}))
	}
	return h
}

// StateChanged implements session.Mirror: active-session store updates fan
// out to every connected UI.
func (h *Hub) StateChanged(stateID string, value interface{}) {
	h.broadcastState(stateID, value)
}

// Notify implements session.Notifier as a notification signal broadcast.
func (h *Hub) Notify(level session.NotifyLevel, message string) {
	h.Signal(SignalPayload{Name: SignalNotification, Level: string(level), Message: message})
}

// Signal broadcasts a named event to every UI.
func (h *Hub) Signal(p SignalPayload) {
	h.broadcast(Envelope{Command: CmdSignal, Payload: mustMarshal(p)})
}

func (h *Hub) broadcastState(stateID string, value interface{}) {
	h.flog.Debug("broadcast %s", stateID)
	h.broadcast(Envelope{Command: CmdStateChanged, StateID: stateID, Payload: mustMarshal(value)})
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		h.sendLocked(c, env)
	}
}

// sendLocked queues env on one connection; callers hold h.mu so a send can
// never race the close of a removed connection's channel.
func (h *Hub) sendLocked(c *conn, env Envelope) {
	select {
	case c.send <- env:
	default:
		h.log.Warn("bridge client too slow, dropping connection")
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *conn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	close(c.send)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// Handler returns the http handler exposing the websocket endpoint at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

// Run serves the bridge until ctx is cancelled. Established websocket
// connections survive the HTTP shutdown; Close tears them down, so callers
// can still signal connected UIs between Run returning and Close.
func (h *Hub) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.log.Info("bridge listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close disconnects every client and stops shared-store mirroring.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubs := h.unsubs
	h.unsubs = nil
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	for _, c := range conns {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, c := range conns {
		c.ws.Close()
	}
	h.ops.Wait()
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{ws: ws, send: make(chan Envelope, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.flog.Info("client connected: %s", ws.RemoteAddr())
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *conn) {
	for env := range c.send {
		if err := c.ws.WriteJSON(env); err != nil {
			h.remove(c)
			c.ws.Close()
			// Drain remaining queued messages so broadcasters never block.
			for range c.send {
			}
			return
		}
	}
	c.ws.Close()
}

func (h *Hub) readLoop(c *conn) {
	defer func() {
		h.remove(c)
		c.ws.Close()
	}()

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}
		h.dispatch(c, env)
	}
}

func (h *Hub) dispatch(c *conn, env Envelope) {
	if err := env.Validate(); err != nil {
		h.flog.Warn("rejected message: %v", err)
		h.reply(c, Envelope{Command: CmdError, RequestID: env.RequestID, Payload: mustMarshal(err.Error())})
		return
	}

	switch env.Command {
	case CmdGetState:
		value, err := h.currentState(env.StateID)
		if err != nil {
			h.reply(c, Envelope{Command: CmdError, RequestID: env.RequestID, Payload: mustMarshal(err.Error())})
			return
		}
		h.reply(c, Envelope{
			Command:   CmdStateValue,
			StateID:   env.StateID,
			RequestID: env.RequestID,
			Payload:   mustMarshal(value),
		})

	case CmdAck:
		h.mu.Lock()
		ch := h.pending[env.RequestID]
		h.mu.Unlock()
		if ch != nil {
			select {
			case ch <- env:
			default:
			}
		}

	case CmdSignal:
		var p SignalPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.reply(c, Envelope{Command: CmdError, RequestID: env.RequestID, Payload: mustMarshal(err.Error())})
			return
		}
		h.handleSignal(p)

	default:
		h.flog.Warn("ignoring client message %q", env.Command)
	}
}

// handleSignal services UI-initiated signals. Reconnect runs off the read
// loop: re-establishing a chain is a slow backend round trip and must not
// stall inbound dispatch.
func (h *Hub) handleSignal(p SignalPayload) {
	switch p.Name {
	case SignalReconnect:
		s := h.registry.Active()
		if s == nil {
			return
		}
		h.ops.Add(1)
		go func() {
			defer h.ops.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.Reconnect(ctx); err != nil {
				h.Notify(session.NotifyError,
					fmt.Sprintf("Reconnect of %q failed: %v", s.DisplayName(), err))
				h.registry.RefreshList()
				return
			}
			h.Signal(SignalPayload{Name: SignalChainReset})
			h.registry.RefreshList()
		}()
	default:
		h.flog.Warn("ignoring signal %q", p.Name)
	}
}

func (h *Hub) reply(c *conn, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		h.sendLocked(c, env)
	}
}

// currentState reads the present value of a state id: shared concerns from
// their global stores, per-session concerns from whichever session is
// currently active. With no active session the per-session concerns answer
// empty, which is a valid UI state.
func (h *Hub) currentState(stateID string) (interface{}, error) {
	switch stateID {
	case StateSessions:
		return h.registry.List(), nil
	case StateCompiledContracts:
		if h.compiled == nil {
			return []types.CompiledContract{}, nil
		}
		return h.compiled.Get(), nil
	case session.StateAccounts:
		if s := h.registry.Active(); s != nil {
			return s.Accounts().Get(), nil
		}
		return []types.Account{}, nil
	case session.StateDeployments:
		if s := h.registry.Active(); s != nil {
			return s.Deployments().Get(), nil
		}
		return []types.DeployedContract{}, nil
	case session.StateHistory:
		if s := h.registry.Active(); s != nil {
			return s.History().Get(), nil
		}
		return []types.TransactionRecord{}, nil
	default:
		return nil, types.NewValidationError("bridge.getState", "unknown state id %q", stateID)
	}
}

// SignalAndAwait broadcasts a signal that requests acknowledgment and waits
// until any client acks or the timeout elapses. Used for the bounded
// restart handshake; the result only gates how long the caller waits.
func (h *Hub) SignalAndAwait(ctx context.Context, p SignalPayload, timeout time.Duration) bool {
	id := uuid.NewString()
	ch := make(chan Envelope, 1)

	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	h.broadcast(Envelope{Command: CmdSignal, RequestID: id, Payload: mustMarshal(p)})

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}
