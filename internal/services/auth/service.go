package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
)

// Service issues and validates sessions binding a client to one round and
// one player
type Service struct {
	storage storage.Repository
	clock   clockwork.Clock
	logger  *slog.Logger

	sessionTTL time.Duration
}

// Config holds configuration for the auth service
type Config struct {
	SessionTTL time.Duration
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		SessionTTL: 12 * time.Hour,
	}
}

// New creates a new auth Service
func New(storage storage.Repository, clock clockwork.Clock, logger *slog.Logger, cfg Config) *Service {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	return &Service{
		storage:    storage,
		clock:      clock,
		logger:     logger.With(slog.String("component", "auth")),
		sessionTTL: cfg.SessionTTL,
	}
}

// CreateSession issues a session for a player in a round
func (s *Service) CreateSession(ctx context.Context, roundID model.RoundID, playerID model.PlayerID) (*model.Session, error) {
	session := &model.Session{
		SessionID: model.SessionID("sess_" + uuid.NewString()),
		RoundID:   roundID,
		PlayerID:  playerID,
		ExpiresAt: s.clock.Now().Add(s.sessionTTL),
	}

	if err := s.storage.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Authorize resolves a session and confirms it belongs to roundID.
// Missing, expired, and foreign sessions all fail with model.ErrUnauthorized.
func (s *Service) Authorize(ctx context.Context, sessionID model.SessionID, roundID model.RoundID) (*model.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("missing session: %w", model.ErrUnauthorized)
	}

	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("unknown session: %w", model.ErrUnauthorized)
		}
		return nil, err
	}

	if session.Expired(s.clock.Now()) {
		return nil, fmt.Errorf("session expired: %w", model.ErrUnauthorized)
	}

	if session.RoundID != roundID {
		s.logger.Warn("session used against foreign round",
			slog.String("session_round", string(session.RoundID)),
			slog.String("round_id", string(roundID)),
		)
		return nil, fmt.Errorf("session belongs to another round: %w", model.ErrUnauthorized)
	}

	return session, nil
}
