package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/roundsync/internal/model"
)

// connection is one subscriber's WebSocket. The write pump owns all writes
// and the final Close; the read pump only watches for the peer going away.
// Socket deadlines use wall time; the registry clock drives the ping ticker.
type connection struct {
	sub      model.Subscriber
	ws       *websocket.Conn
	send     chan []byte
	registry *Registry

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

// close asks the write pump to send a close frame and shut down
func (c *connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *connection) writePump() {
	cfg := c.registry.cfg
	ticker := c.registry.clock.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.registry.logger.Warn("failed to write message",
					slog.String("connection_id", string(c.sub.ConnectionID)),
					slog.Any("error", err),
				)
				c.registry.unregister(c)
				return
			}

		case <-ticker.Chan():
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.registry.unregister(c)
				return
			}

		case <-c.done:
			deadline := time.Now().Add(cfg.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), deadline)
			return
		}
	}
}

func (c *connection) readPump() {
	cfg := c.registry.cfg
	defer func() {
		c.registry.unregister(c)
		c.close(websocket.CloseNormalClosure, "")
	}()

	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	// Subscribers never send application messages; reading drives control
	// frame handling and detects the peer closing.
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.registry.logger.Warn("unexpected subscriber close",
					slog.String("connection_id", string(c.sub.ConnectionID)),
					slog.Any("error", err),
				)
			}
			return
		}
	}
}
