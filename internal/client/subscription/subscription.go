package subscription

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcoot/roundsync/internal/dependencies/random"
	"github.com/mcoot/roundsync/internal/model"
)

// Status is the externally visible state of a Subscription
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Config holds reconnect settings
type Config struct {
	URL       string
	SessionID model.SessionID

	BaseDelay time.Duration
	MaxDelay  time.Duration
	MaxJitter time.Duration
}

// DefaultConfig returns the standard backoff for url and session
func DefaultConfig(url string, session model.SessionID) Config {
	return Config{
		URL:       url,
		SessionID: session,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		MaxJitter: 250 * time.Millisecond,
	}
}

// IsFatalClose reports whether a close code must not be retried
func IsFatalClose(code int) bool {
	switch code {
	case websocket.ClosePolicyViolation,
		websocket.CloseProtocolError,
		websocket.CloseUnsupportedData,
		websocket.CloseInvalidFramePayloadData:
		return true
	default:
		return false
	}
}

// Subscription keeps one live connection to a round's event stream,
// reconnecting with backoff until closed.
//
// generation identifies the current connection attempt. Every transition
// away from an attempt bumps it, so callbacks from a superseded connection
// or a cancelled timer find a stale generation and do nothing.
//
// Status changes are queued under mu in transition order and delivered by
// one goroutine at a time, so listeners observe them in that order.
type Subscription struct {
	cfg       Config
	transport Transport
	clock     clockwork.Clock
	random    random.Random
	network   NetworkMonitor
	logger    *slog.Logger

	mu            sync.Mutex
	status        Status
	attempt       int
	generation    uint64
	started       bool
	closed        bool
	conn          Conn
	timer         clockwork.Timer
	cancelRestore func()
	done          chan struct{}
	pending       []Status
	notifying     bool

	listenersMu    sync.Mutex
	nextListener   int
	statusHandlers map[int]func(Status)
	eventHandlers  map[int]func(model.DomainEvent)
}

// New creates a Subscription in the connecting state. Call Start to begin.
func New(cfg Config, transport Transport, clock clockwork.Clock, random random.Random, network NetworkMonitor, logger *slog.Logger) *Subscription {
	if network == nil {
		network = AlwaysOnline{}
	}
	return &Subscription{
		cfg:            cfg,
		transport:      transport,
		clock:          clock,
		random:         random,
		network:        network,
		logger:         logger.With(slog.String("component", "subscription")),
		status:         StatusConnecting,
		attempt:        1,
		done:           make(chan struct{}),
		statusHandlers: make(map[int]func(Status)),
		eventHandlers:  make(map[int]func(model.DomainEvent)),
	}
}

// Start opens the first connection. Later calls do nothing.
func (s *Subscription) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	s.connect()
}

// Status returns the current status
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed once the subscription reaches StatusClosed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// OnStatus registers a status listener
func (s *Subscription) OnStatus(fn func(Status)) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.statusHandlers[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.statusHandlers, id)
	}
}

// OnEvent registers a handler for decoded events
func (s *Subscription) OnEvent(fn func(model.DomainEvent)) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.eventHandlers[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.eventHandlers, id)
	}
}

// Close stops the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	conn, cancelRestore := s.terminate()
	s.mu.Unlock()

	if cancelRestore != nil {
		cancelRestore()
	}
	if conn != nil {
		conn.Close(websocket.CloseNormalClosure, "client closed")
	}
	s.flushStatus()
}

// terminate moves to the closed state. The pending timer is stopped before
// the connection is handed back for closing. Caller holds mu.
func (s *Subscription) terminate() (Conn, func()) {
	s.closed = true
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancelRestore := s.cancelRestore
	s.cancelRestore = nil
	conn := s.conn
	s.conn = nil
	s.setStatus(StatusClosed)
	close(s.done)
	return conn, cancelRestore
}

func (s *Subscription) connect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	s.setStatus(StatusConnecting)
	s.mu.Unlock()
	s.flushStatus()

	conn, err := s.transport.Connect(s.cfg.URL, model.SubscribeProtocols(s.cfg.SessionID), s.handlers(gen))

	s.mu.Lock()
	if s.closed || gen != s.generation {
		// Closed or already disconnected while Connect ran
		s.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.CloseNormalClosure, "superseded")
		}
		return
	}
	if err == nil {
		s.conn = conn
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to start connection", slog.Any("error", err))
		s.disconnected(gen, websocket.CloseAbnormalClosure, err.Error())
	}
}

func (s *Subscription) handlers(gen uint64) Handlers {
	return Handlers{
		OnOpen: func() { s.opened(gen) },
		OnMessage: func(text string) {
			s.message(gen, text)
		},
		OnError: func(err error) {
			s.logger.Warn("connection error", slog.Any("error", err))
			s.disconnected(gen, websocket.CloseAbnormalClosure, err.Error())
		},
		OnClose: func(code int, reason string, _ bool) {
			s.disconnected(gen, code, reason)
		},
	}
}

func (s *Subscription) opened(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.attempt = 1
	s.setStatus(StatusOpen)
	s.mu.Unlock()
	s.flushStatus()
}

func (s *Subscription) message(gen uint64, text string) {
	s.mu.Lock()
	stale := s.closed || gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}

	event, err := model.UnmarshalEvent([]byte(text))
	if err != nil {
		s.logger.Warn("dropping malformed event", slog.Any("error", err))
		return
	}
	s.notifyEvent(event)
}

func (s *Subscription) disconnected(gen uint64, code int, reason string) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}

	if IsFatalClose(code) {
		conn, cancelRestore := s.terminate()
		s.mu.Unlock()

		s.logger.Warn("subscription closed by fatal disconnect",
			slog.Int("code", code),
			slog.String("reason", reason),
		)
		if cancelRestore != nil {
			cancelRestore()
		}
		if conn != nil {
			conn.Close(code, reason)
		}
		s.flushStatus()
		return
	}

	s.generation++
	gen = s.generation
	conn := s.conn
	s.conn = nil
	s.setStatus(StatusError)
	delay, waiting := s.scheduleRetry()
	s.mu.Unlock()

	// The old connection is fully released before any retry can start
	if conn != nil {
		conn.Close(websocket.CloseNormalClosure, "reconnecting")
	}

	if waiting {
		s.logger.Info("offline, waiting for connectivity before reconnecting", slog.Int("code", code))
	} else {
		s.logger.Info("reconnecting after disconnect",
			slog.Int("code", code),
			slog.String("reason", reason),
			slog.Duration("delay", delay),
		)
	}
	s.flushStatus()

	if waiting {
		s.awaitNetwork(gen)
	}
}

// scheduleRetry arms the single reconnect timer, or reports that the caller
// must wait for connectivity once mu is released. Caller holds mu.
func (s *Subscription) scheduleRetry() (delay time.Duration, waitingForNetwork bool) {
	gen := s.generation

	if !s.network.Online() {
		s.attempt++
		return 0, true
	}

	delay = s.backoff(s.attempt)
	s.attempt++
	s.timer = s.clock.AfterFunc(delay, func() { s.retry(gen) })
	return delay, false
}

// awaitNetwork registers for the connectivity-restored signal without
// holding mu, since a monitor may invoke the callback before returning.
// Connectivity that came back before registration triggers the retry here;
// a second retry for the same generation is a no-op.
func (s *Subscription) awaitNetwork(gen uint64) {
	cancel := s.network.OnRestored(func() { s.retry(gen) })
	if cancel == nil {
		cancel = func() {}
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancelRestore = cancel
	s.mu.Unlock()

	if s.network.Online() {
		s.retry(gen)
	}
}

func (s *Subscription) retry(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	cancelRestore := s.cancelRestore
	s.cancelRestore = nil
	s.mu.Unlock()

	if cancelRestore != nil {
		cancelRestore()
	}
	s.connect()
}

// backoff is min(MaxDelay, BaseDelay * 2^(attempt-1)) plus jitter
func (s *Subscription) backoff(attempt int) time.Duration {
	delay := s.cfg.MaxDelay
	if shift := attempt - 1; shift < 32 {
		if d := s.cfg.BaseDelay << shift; d > 0 && d < delay {
			delay = d
		}
	}
	if s.cfg.MaxJitter > 0 {
		delay += time.Duration(s.random.Int63n(int64(s.cfg.MaxJitter)))
	}
	return delay
}

// setStatus records a new status and queues it for listeners when it
// changed. Caller holds mu and calls flushStatus after releasing it.
func (s *Subscription) setStatus(status Status) {
	if s.status == status {
		return
	}
	s.status = status
	s.pending = append(s.pending, status)
}

// flushStatus delivers queued status changes. If another goroutine (or a
// listener further up this stack) is already delivering, it picks up the
// queued entries instead.
func (s *Subscription) flushStatus() {
	s.mu.Lock()
	if s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	for len(s.pending) > 0 {
		status := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.notifyStatus(status)
		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

func (s *Subscription) notifyStatus(status Status) {
	s.listenersMu.Lock()
	handlers := make([]func(Status), 0, len(s.statusHandlers))
	for _, fn := range s.statusHandlers {
		handlers = append(handlers, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range handlers {
		s.safeCall("status listener", func() { fn(status) })
	}
}

func (s *Subscription) notifyEvent(event model.DomainEvent) {
	s.listenersMu.Lock()
	handlers := make([]func(model.DomainEvent), 0, len(s.eventHandlers))
	for _, fn := range s.eventHandlers {
		handlers = append(handlers, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range handlers {
		s.safeCall("event handler", func() { fn(event) })
	}
}

func (s *Subscription) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(what+" panicked", slog.Any("error", fmt.Errorf("%v", r)))
		}
	}()
	fn()
}
