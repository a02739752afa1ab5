package wsdial

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/roundsync/internal/client/subscription"
)

// Config holds client connection settings
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout bounds the silence between server pings
	ReadTimeout time.Duration
}

// DefaultConfig returns settings matching the server's keepalive
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// Dialer is a subscription.Transport over gorilla/websocket
type Dialer struct {
	cfg    Config
	header http.Header
	logger *slog.Logger
}

// New creates a Dialer. header is sent with every handshake and may be nil.
func New(cfg Config, header http.Header, logger *slog.Logger) *Dialer {
	return &Dialer{
		cfg:    cfg,
		header: header,
		logger: logger.With(slog.String("component", "wsdial")),
	}
}

// Ensure Dialer implements the transport
var _ subscription.Transport = (*Dialer)(nil)

// Connect starts dialing in the background and returns immediately
func (d *Dialer) Connect(url string, protocols []string, h subscription.Handlers) (subscription.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{cfg: d.cfg, cancel: cancel, logger: d.logger}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		Subprotocols:     protocols,
	}
	go c.run(ctx, dialer, url, d.header, h)
	return c, nil
}

type conn struct {
	cfg    Config
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// Close sends a close frame if connected and releases the connection.
// Callbacks stop once Close has been called.
func (c *conn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws == nil {
		return
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, h subscription.Handlers) {
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.isClosed() {
			return
		}
		h.OnError(err)
		h.OnClose(websocket.CloseAbnormalClosure, err.Error(), false)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	h.OnOpen()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			_ = ws.Close()

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				h.OnClose(closeErr.Code, closeErr.Text, true)
				return
			}
			c.logger.Warn("connection lost", slog.Any("error", err))
			h.OnError(err)
			h.OnClose(websocket.CloseAbnormalClosure, err.Error(), false)
			return
		}
		if c.isClosed() {
			return
		}
		h.OnMessage(string(data))
	}
}
