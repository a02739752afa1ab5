package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcoot/roundsync/internal/dependencies/random"
	"github.com/mcoot/roundsync/internal/metrics"
	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
)

const (
	// AccessCodeLength is the length of generated access codes
	AccessCodeLength = 6
	// AccessCodeAlphabet is the characters used in access codes (avoid confusing chars)
	AccessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxAccessCodeAttempts = 16
)

// Sessions issues and checks the sessions mutations are authorized with
type Sessions interface {
	CreateSession(ctx context.Context, roundID model.RoundID, playerID model.PlayerID) (*model.Session, error)
	Authorize(ctx context.Context, sessionID model.SessionID, roundID model.RoundID) (*model.Session, error)
}

// Service validates, authorizes and persists mutations to rounds.
// Round state writes are conditioned on the version the caller read; a
// mismatch surfaces as model.ErrConflict and is never retried here.
type Service struct {
	storage  storage.Repository
	sessions Sessions
	clock    clockwork.Clock
	random   random.Random
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a new round Service
func New(
	storage storage.Repository,
	sessions Sessions,
	clock clockwork.Clock,
	random random.Random,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		storage:  storage,
		sessions: sessions,
		clock:    clock,
		random:   random,
		logger:   logger.With(slog.String("component", "round-service")),
		metrics:  metrics,
	}
}

// JoinResult is returned by JoinRound
type JoinResult struct {
	Session  *model.Session
	Player   *model.Player
	Snapshot *model.Snapshot
}

// StatePatch describes a change to round state. Nil and unset fields keep
// their current value.
type StatePatch struct {
	CurrentHole *int
	Status      model.OptionalStatus
}

// CreateRound creates a round with one hole per par value
func (s *Service) CreateRound(ctx context.Context, courseName string, par []int) (snap *model.Snapshot, err error) {
	defer func() { s.observe("createRound", err) }()

	courseName = strings.TrimSpace(courseName)
	if courseName == "" {
		return nil, fmt.Errorf("course name is required: %w", model.ErrInvalidInput)
	}
	if len(par) == 0 {
		return nil, fmt.Errorf("par must have at least one hole: %w", model.ErrInvalidInput)
	}
	for i, p := range par {
		if p < 1 {
			return nil, fmt.Errorf("par for hole %d must be positive: %w", i+1, model.ErrInvalidInput)
		}
	}

	code, err := s.generateAccessCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cfg := model.RoundConfig{
		RoundID:    model.RoundID(uuid.NewString()),
		AccessCode: code,
		CourseName: courseName,
		Holes:      len(par),
		Par:        append([]int(nil), par...),
		CreatedAt:  now,
	}
	state := model.RoundState{
		RoundID:      cfg.RoundID,
		CurrentHole:  1,
		Status:       model.StatusPtr(model.StatusInProgress),
		StateVersion: 1,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveConfig(ctx, &cfg); err != nil {
		return nil, err
	}
	if err := s.storage.SaveState(ctx, &state, nil); err != nil {
		return nil, err
	}

	s.logger.Info("round created",
		slog.String("round_id", string(cfg.RoundID)),
		slog.Int("holes", cfg.Holes),
	)

	return &model.Snapshot{
		Config:  cfg,
		State:   state,
		Players: []model.Player{},
		Scores:  []model.Score{},
	}, nil
}

// JoinRound adds a player to the round with the given access code and
// issues them a session. The returned snapshot already includes the new
// player.
func (s *Service) JoinRound(ctx context.Context, code model.AccessCode, playerName string, color *string) (res *JoinResult, err error) {
	defer func() { s.observe("joinRound", err) }()

	playerName = strings.TrimSpace(playerName)
	if playerName == "" {
		return nil, fmt.Errorf("player name is required: %w", model.ErrInvalidInput)
	}

	cfg, err := s.storage.GetConfigByAccessCode(ctx, model.AccessCode(strings.ToUpper(string(code))))
	if err != nil {
		return nil, err
	}
	snap, err := s.storage.GetSnapshot(ctx, cfg.RoundID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	player := model.Player{
		RoundID:   cfg.RoundID,
		PlayerID:  model.PlayerID(uuid.NewString()),
		Name:      playerName,
		Color:     model.DefaultPlayerColor,
		JoinedAt:  now,
		UpdatedAt: now,
	}
	if color != nil && strings.TrimSpace(*color) != "" {
		player.Color = strings.TrimSpace(*color)
	}

	if err := s.storage.CreatePlayer(ctx, &player); err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, cfg.RoundID, player.PlayerID)
	if err != nil {
		return nil, err
	}

	snap.Players = append(snap.Players, player)

	s.logger.Info("player joined",
		slog.String("round_id", string(cfg.RoundID)),
		slog.String("player_id", string(player.PlayerID)),
	)

	return &JoinResult{Session: session, Player: &player, Snapshot: snap}, nil
}

// GetSnapshot returns the current snapshot of a round for a session bound to it
func (s *Service) GetSnapshot(ctx context.Context, roundID model.RoundID, sessionID model.SessionID) (*model.Snapshot, error) {
	if _, err := s.sessions.Authorize(ctx, sessionID, roundID); err != nil {
		return nil, err
	}
	return s.storage.GetSnapshot(ctx, roundID)
}

// UpdateScore records strokes for a player on a hole. The score is
// attributed to the session's player, whoever the target player is.
func (s *Service) UpdateScore(
	ctx context.Context,
	roundID model.RoundID,
	sessionID model.SessionID,
	playerID model.PlayerID,
	holeNumber int,
	strokes int,
) (score *model.Score, err error) {
	defer func() { s.observe("updateScore", err) }()

	session, err := s.sessions.Authorize(ctx, sessionID, roundID)
	if err != nil {
		return nil, err
	}

	snap, err := s.storage.GetSnapshot(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if holeNumber < 1 || holeNumber > snap.Config.Holes {
		return nil, fmt.Errorf("hole %d outside 1..%d: %w", holeNumber, snap.Config.Holes, model.ErrInvalidInput)
	}
	if strokes < 1 {
		return nil, fmt.Errorf("strokes must be positive, got %d: %w", strokes, model.ErrInvalidInput)
	}
	if snap.GetPlayer(playerID) == nil {
		return nil, fmt.Errorf("player %s: %w", playerID, model.ErrNotFound)
	}

	score = &model.Score{
		RoundID:    roundID,
		PlayerID:   playerID,
		HoleNumber: holeNumber,
		Strokes:    strokes,
		UpdatedBy:  session.PlayerID,
		UpdatedAt:  s.clock.Now(),
	}
	if err := s.storage.UpsertScore(ctx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// PatchRoundState applies patch on top of the state version it reads
func (s *Service) PatchRoundState(ctx context.Context, roundID model.RoundID, sessionID model.SessionID, patch StatePatch) (*model.RoundState, error) {
	return s.patchRoundState(ctx, roundID, sessionID, nil, patch)
}

// PatchRoundStateAt applies patch only if the stored state is still at
// expectedVersion, the version the caller last observed
func (s *Service) PatchRoundStateAt(
	ctx context.Context,
	roundID model.RoundID,
	sessionID model.SessionID,
	expectedVersion int64,
	patch StatePatch,
) (*model.RoundState, error) {
	return s.patchRoundState(ctx, roundID, sessionID, &expectedVersion, patch)
}

func (s *Service) patchRoundState(
	ctx context.Context,
	roundID model.RoundID,
	sessionID model.SessionID,
	pinned *int64,
	patch StatePatch,
) (state *model.RoundState, err error) {
	defer func() { s.observe("patchRoundState", err) }()

	if _, err := s.sessions.Authorize(ctx, sessionID, roundID); err != nil {
		return nil, err
	}

	snap, err := s.storage.GetSnapshot(ctx, roundID)
	if err != nil {
		return nil, err
	}

	expected := snap.State.StateVersion
	if pinned != nil {
		expected = *pinned
	}

	next := snap.State
	next.StateVersion = expected + 1
	next.UpdatedAt = s.clock.Now()
	if patch.CurrentHole != nil {
		hole := *patch.CurrentHole
		if hole < 1 || hole > snap.Config.Holes {
			return nil, fmt.Errorf("current hole %d outside 1..%d: %w", hole, snap.Config.Holes, model.ErrInvalidInput)
		}
		next.CurrentHole = hole
	}
	if patch.Status.Set {
		if patch.Status.Value != nil && !patch.Status.Value.Valid() {
			return nil, fmt.Errorf("unknown status %q: %w", *patch.Status.Value, model.ErrInvalidInput)
		}
		next.Status = patch.Status.Value
	}

	if err := s.storage.SaveState(ctx, &next, &expected); err != nil {
		if errors.Is(err, model.ErrConflict) {
			s.logger.Info("round state write rejected",
				slog.String("round_id", string(roundID)),
				slog.Int64("expected_version", expected),
			)
		}
		return nil, err
	}
	return &next, nil
}

// UpdatePlayer changes a player's name and/or color
func (s *Service) UpdatePlayer(
	ctx context.Context,
	roundID model.RoundID,
	sessionID model.SessionID,
	playerID model.PlayerID,
	name *string,
	color *string,
) (player *model.Player, err error) {
	defer func() { s.observe("updatePlayer", err) }()

	if _, err := s.sessions.Authorize(ctx, sessionID, roundID); err != nil {
		return nil, err
	}

	player, err = s.storage.GetPlayer(ctx, roundID, playerID)
	if err != nil {
		return nil, err
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, fmt.Errorf("player name cannot be blank: %w", model.ErrInvalidInput)
		}
		player.Name = trimmed
	}
	if color != nil && strings.TrimSpace(*color) != "" {
		player.Color = strings.TrimSpace(*color)
	}
	player.UpdatedAt = s.clock.Now()

	if err := s.storage.UpdatePlayer(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

// generateAccessCode picks a code no existing round uses
func (s *Service) generateAccessCode(ctx context.Context) (model.AccessCode, error) {
	for range maxAccessCodeAttempts {
		code := model.AccessCode(s.random.String(AccessCodeLength, AccessCodeAlphabet))
		if len(code) != AccessCodeLength {
			continue
		}
		exists, err := s.storage.AccessCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free access code after %d attempts: %w", maxAccessCodeAttempts, model.ErrInternal)
}

func (s *Service) observe(op string, err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = string(model.Kind(err))
	}
	s.metrics.MutationsTotal.WithLabelValues(op, outcome).Inc()
	if errors.Is(err, model.ErrConflict) {
		s.metrics.ConflictsTotal.Inc()
	}
}
