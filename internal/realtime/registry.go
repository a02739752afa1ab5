package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcoot/roundsync/internal/broadcast"
	"github.com/mcoot/roundsync/internal/metrics"
	"github.com/mcoot/roundsync/internal/model"
)

// Config holds WebSocket connection settings
type Config struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default WebSocket settings
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		SendBuffer:      64,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Registry tracks live subscriber connections per round and is the
// broadcast transport over them
type Registry struct {
	mu     sync.RWMutex
	rounds map[model.RoundID]map[model.ConnectionID]*connection

	upgrader websocket.Upgrader
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty Registry
func NewRegistry(cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *metrics.Metrics) *Registry {
	return &Registry{
		rounds: make(map[model.RoundID]map[model.ConnectionID]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
			Subprotocols:    []string{model.SubscribeProtocol},
		},
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With(slog.String("component", "realtime")),
		metrics: metrics,
	}
}

// Ensure Registry implements the broadcast transport
var _ broadcast.Transport = (*Registry)(nil)

// SessionFromRequest extracts the session ID a client offered as a
// subprotocol token, if any
func SessionFromRequest(r *http.Request) model.SessionID {
	return model.SessionFromProtocols(websocket.Subprotocols(r))
}

// Accept upgrades the request and registers the connection as a
// subscriber of roundID
func (r *Registry) Accept(w http.ResponseWriter, req *http.Request, roundID model.RoundID, playerID model.PlayerID) (model.Subscriber, error) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("upgrade connection: %w", err)
	}

	c := &connection{
		sub: model.Subscriber{
			RoundID:      roundID,
			ConnectionID: model.ConnectionID(uuid.NewString()),
			PlayerID:     playerID,
			ConnectedAt:  r.clock.Now(),
		},
		ws:       ws,
		send:     make(chan []byte, r.cfg.SendBuffer),
		done:     make(chan struct{}),
		registry: r,
	}
	r.register(c)

	go c.writePump()
	go c.readPump()

	r.logger.Info("subscriber connected",
		slog.String("round_id", string(roundID)),
		slog.String("player_id", string(playerID)),
		slog.String("connection_id", string(c.sub.ConnectionID)),
	)
	return c.sub, nil
}

// Reject completes the upgrade and immediately closes with code, so that
// browser-style clients see a close code rather than a failed handshake
func (r *Registry) Reject(w http.ResponseWriter, req *http.Request, code int, reason string) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("failed to upgrade rejected connection", slog.Any("error", err))
		return
	}
	deadline := time.Now().Add(r.cfg.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

// ListActiveEndpoints returns the subscribers of roundID
func (r *Registry) ListActiveEndpoints(_ context.Context, roundID model.RoundID) ([]model.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.rounds[roundID]
	out := make([]model.Subscriber, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.sub)
	}
	return out, nil
}

// Send queues payload for an endpoint. Unknown, closed and backed-up
// connections report broadcast.ErrTargetUnreachable.
func (r *Registry) Send(_ context.Context, ep model.Subscriber, payload []byte) error {
	c := r.lookup(ep.RoundID, ep.ConnectionID)
	if c == nil {
		return broadcast.ErrTargetUnreachable
	}

	select {
	case <-c.done:
		return broadcast.ErrTargetUnreachable
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full: %w", broadcast.ErrTargetUnreachable)
	}
}

// Deregister removes a subscriber and closes its connection
func (r *Registry) Deregister(_ context.Context, roundID model.RoundID, connectionID model.ConnectionID) error {
	c := r.lookup(roundID, connectionID)
	if c == nil {
		return nil
	}
	r.unregister(c)
	c.close(websocket.CloseGoingAway, "deregistered")
	return nil
}

// CloseAll closes every connection, for shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*connection
	for _, conns := range r.rounds {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range all {
		r.unregister(c)
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.rounds {
		n += len(conns)
	}
	return n
}

func (r *Registry) lookup(roundID model.RoundID, id model.ConnectionID) *connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rounds[roundID][id]
}

func (r *Registry) register(c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rounds[c.sub.RoundID] == nil {
		r.rounds[c.sub.RoundID] = make(map[model.ConnectionID]*connection)
	}
	r.rounds[c.sub.RoundID][c.sub.ConnectionID] = c
	r.metrics.ActiveConnections.Inc()
}

func (r *Registry) unregister(c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.rounds[c.sub.RoundID]
	if !ok {
		return
	}
	if _, ok := conns[c.sub.ConnectionID]; !ok {
		return
	}
	delete(conns, c.sub.ConnectionID)
	if len(conns) == 0 {
		delete(r.rounds, c.sub.RoundID)
	}
	r.metrics.ActiveConnections.Dec()

	r.logger.Info("subscriber disconnected",
		slog.String("round_id", string(c.sub.RoundID)),
		slog.String("connection_id", string(c.sub.ConnectionID)),
	)
}
