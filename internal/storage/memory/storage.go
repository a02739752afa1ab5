package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
)

// Storage is an in-memory implementation of the repository. Every write
// publishes a change record to its Feed while holding the write lock, so
// records for a key are queued in write order.
type Storage struct {
	mu sync.RWMutex

	rounds   map[model.RoundID]*round
	codes    map[model.AccessCode]model.RoundID
	sessions map[model.SessionID]model.Session
	feed     *Feed
}

type round struct {
	config *model.RoundConfig
	state  *model.RoundState

	players     map[model.PlayerID]model.Player
	playerOrder []model.PlayerID

	scores     map[scoreKey]model.Score
	scoreOrder []scoreKey
}

type scoreKey struct {
	playerID model.PlayerID
	hole     int
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		rounds:   make(map[model.RoundID]*round),
		codes:    make(map[model.AccessCode]model.RoundID),
		sessions: make(map[model.SessionID]model.Session),
		feed:     NewFeed(DefaultMaxBatch),
	}
}

// Ensure Storage implements the interface
var _ storage.Repository = (*Storage)(nil)

// Changes returns the feed of persisted writes
func (s *Storage) Changes() *Feed {
	return s.feed
}

// roundLocked returns the record for id, creating it when create is set.
// Callers must hold s.mu.
func (s *Storage) roundLocked(id model.RoundID, create bool) *round {
	r, ok := s.rounds[id]
	if !ok && create {
		r = &round{
			players: make(map[model.PlayerID]model.Player),
			scores:  make(map[scoreKey]model.Score),
		}
		s.rounds[id] = r
	}
	return r
}

// publishLocked records a change. Callers must hold s.mu.
func (s *Storage) publishLocked(roundID model.RoundID, key string, prev, next any) error {
	rec, err := storage.NewChange(roundID, key, prev, next)
	if err != nil {
		return err
	}
	s.feed.Publish(rec)
	return nil
}

// Round operations

func (s *Storage) GetSnapshot(ctx context.Context, roundID model.RoundID) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[roundID]
	if !ok || r.config == nil || r.state == nil {
		return nil, fmt.Errorf("round %s: %w", roundID, model.ErrNotFound)
	}

	snap := model.Snapshot{
		Config:  *r.config,
		State:   *r.state,
		Players: make([]model.Player, 0, len(r.playerOrder)),
		Scores:  make([]model.Score, 0, len(r.scoreOrder)),
	}
	for _, id := range r.playerOrder {
		snap.Players = append(snap.Players, r.players[id])
	}
	for _, k := range r.scoreOrder {
		snap.Scores = append(snap.Scores, r.scores[k])
	}
	out := snap.Clone()
	return &out, nil
}

func (s *Storage) GetConfigByAccessCode(ctx context.Context, code model.AccessCode) (*model.RoundConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("access code %s: %w", code, model.ErrNotFound)
	}
	cfg := *s.rounds[id].config
	cfg.Par = append([]int(nil), cfg.Par...)
	return &cfg, nil
}

func (s *Storage) AccessCodeExists(ctx context.Context, code model.AccessCode) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codes[code]
	return ok, nil
}

func (s *Storage) SaveConfig(ctx context.Context, cfg *model.RoundConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roundLocked(cfg.RoundID, true)

	stored := *cfg
	stored.Par = append([]int(nil), cfg.Par...)
	var prev any
	if r.config != nil {
		prev = *r.config
		delete(s.codes, r.config.AccessCode)
	}
	r.config = &stored
	s.codes[stored.AccessCode] = stored.RoundID
	return s.publishLocked(cfg.RoundID, storage.KeyConfig, prev, stored)
}

func (s *Storage) SaveState(ctx context.Context, state *model.RoundState, expectedVersion *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roundLocked(state.RoundID, true)

	switch {
	case expectedVersion == nil && r.state != nil:
		return fmt.Errorf("round %s already has state: %w", state.RoundID, model.ErrConflict)
	case expectedVersion != nil && r.state == nil:
		return fmt.Errorf("round %s has no state: %w", state.RoundID, model.ErrConflict)
	case expectedVersion != nil && r.state.StateVersion != *expectedVersion:
		return fmt.Errorf("round %s at version %d, expected %d: %w",
			state.RoundID, r.state.StateVersion, *expectedVersion, model.ErrConflict)
	}

	var prev any
	if r.state != nil {
		prev = *r.state
	}
	stored := *state
	if state.Status != nil {
		stored.Status = model.StatusPtr(*state.Status)
	}
	r.state = &stored
	return s.publishLocked(state.RoundID, storage.KeyState, prev, stored)
}

// Score operations

func (s *Storage) UpsertScore(ctx context.Context, score *model.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roundLocked(score.RoundID, true)

	k := scoreKey{playerID: score.PlayerID, hole: score.HoleNumber}
	var prev any
	if existing, ok := r.scores[k]; ok {
		prev = existing
	} else {
		r.scoreOrder = append(r.scoreOrder, k)
	}
	r.scores[k] = *score
	return s.publishLocked(score.RoundID, storage.ScoreKey(score.PlayerID, score.HoleNumber), prev, *score)
}

// Player operations

func (s *Storage) CreatePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roundLocked(player.RoundID, true)

	if _, ok := r.players[player.PlayerID]; ok {
		return fmt.Errorf("player %s already exists: %w", player.PlayerID, model.ErrConflict)
	}
	r.players[player.PlayerID] = *player
	r.playerOrder = append(r.playerOrder, player.PlayerID)
	return s.publishLocked(player.RoundID, storage.PlayerKey(player.PlayerID), nil, *player)
}

func (s *Storage) UpdatePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roundLocked(player.RoundID, false)
	if r == nil {
		return fmt.Errorf("round %s: %w", player.RoundID, model.ErrNotFound)
	}

	prev, ok := r.players[player.PlayerID]
	if !ok {
		return fmt.Errorf("player %s: %w", player.PlayerID, model.ErrNotFound)
	}
	r.players[player.PlayerID] = *player
	return s.publishLocked(player.RoundID, storage.PlayerKey(player.PlayerID), prev, *player)
}

func (s *Storage) GetPlayer(ctx context.Context, roundID model.RoundID, playerID model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", roundID, model.ErrNotFound)
	}
	player, ok := r.players[playerID]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", playerID, model.ErrNotFound)
	}
	return &player, nil
}

// Session operations

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = *session
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session: %w", model.ErrNotFound)
	}
	return &session, nil
}
