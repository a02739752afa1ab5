package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mcoot/roundsync/internal/api/apierr"
	"github.com/mcoot/roundsync/internal/api/middleware"
	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/realtime"
)

// Authorizer resolves a session against the round it is used for
type Authorizer interface {
	Authorize(ctx context.Context, sessionID model.SessionID, roundID model.RoundID) (*model.Session, error)
}

// SubscribeHandler upgrades subscribers onto the round's event stream
type SubscribeHandler struct {
	sessions Authorizer
	registry *realtime.Registry
	logger   *slog.Logger
}

// NewSubscribeHandler creates a new subscribe handler
func NewSubscribeHandler(sessions Authorizer, registry *realtime.Registry, logger *slog.Logger) *SubscribeHandler {
	return &SubscribeHandler{
		sessions: sessions,
		registry: registry,
		logger:   logger.With(slog.String("component", "subscribe-handler")),
	}
}

// Subscribe handles GET /api/v1/rounds/{roundId}/subscribe. The session is
// taken from a subprotocol token, or the Authorization header for clients
// that can set one. A bad session still completes the handshake and is then
// closed with a policy violation, which clients treat as final.
func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		apierr.WriteError(w, apierr.NewInvalidRequestError("WebSocket upgrade required"))
		return
	}

	id := roundID(r)
	sessionID := realtime.SessionFromRequest(r)
	if sessionID == "" {
		sessionID = middleware.BearerToken(r)
	}

	session, err := h.sessions.Authorize(r.Context(), sessionID, id)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			h.registry.Reject(w, r, websocket.ClosePolicyViolation, "unauthorized")
			return
		}
		h.logger.Error("failed to authorize subscriber",
			slog.String("round_id", string(id)),
			slog.Any("error", err),
		)
		h.registry.Reject(w, r, websocket.CloseInternalServerErr, "internal error")
		return
	}

	if _, err := h.registry.Accept(w, r, id, session.PlayerID); err != nil {
		// The upgrader has already written an HTTP error
		h.logger.Warn("failed to accept subscriber",
			slog.String("round_id", string(id)),
			slog.Any("error", err),
		)
	}
}
