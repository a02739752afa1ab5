package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
)

// recordField is the stream entry field holding an encoded ChangeRecord
const recordField = "record"

// Storage is a Redis-backed implementation of the repository.
// Each write runs in a WATCH/MULTI/EXEC transaction that also appends the
// write's ChangeRecord to the change stream, so a record is published iff
// its write commits.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Client returns the underlying client, for building a Feed on the same connection pool
func (s *Storage) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Repository = (*Storage)(nil)

// Round operations

func (s *Storage) GetSnapshot(ctx context.Context, roundID model.RoundID) (*model.Snapshot, error) {
	pipe := s.client.Pipeline()
	configCmd := pipe.Get(ctx, configKey(roundID))
	stateCmd := pipe.Get(ctx, stateKey(roundID))
	playersCmd := pipe.HGetAll(ctx, playersKey(roundID))
	playerOrderCmd := pipe.LRange(ctx, playerOrderKey(roundID), 0, -1)
	scoresCmd := pipe.HGetAll(ctx, scoresKey(roundID))
	scoreOrderCmd := pipe.LRange(ctx, scoreOrderKey(roundID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var snap model.Snapshot
	if err := decodeCmd(configCmd, &snap.Config); err != nil {
		return nil, notFound(err, "round %s", roundID)
	}
	if err := decodeCmd(stateCmd, &snap.State); err != nil {
		return nil, notFound(err, "round %s state", roundID)
	}

	players := playersCmd.Val()
	snap.Players = make([]model.Player, 0, len(players))
	for _, id := range playerOrderCmd.Val() {
		raw, ok := players[id]
		if !ok {
			continue
		}
		var p model.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		snap.Players = append(snap.Players, p)
	}

	scores := scoresCmd.Val()
	snap.Scores = make([]model.Score, 0, len(scores))
	for _, field := range scoreOrderCmd.Val() {
		raw, ok := scores[field]
		if !ok {
			continue
		}
		var sc model.Score
		if err := json.Unmarshal([]byte(raw), &sc); err != nil {
			return nil, err
		}
		snap.Scores = append(snap.Scores, sc)
	}
	return &snap, nil
}

func (s *Storage) GetConfigByAccessCode(ctx context.Context, code model.AccessCode) (*model.RoundConfig, error) {
	roundID, err := s.client.Get(ctx, accessCodeIndexKey(code)).Result()
	if err != nil {
		return nil, notFound(err, "access code %s", code)
	}

	var cfg model.RoundConfig
	if err := decodeCmd(s.client.Get(ctx, configKey(model.RoundID(roundID))), &cfg); err != nil {
		return nil, notFound(err, "round %s", roundID)
	}
	return &cfg, nil
}

func (s *Storage) AccessCodeExists(ctx context.Context, code model.AccessCode) (bool, error) {
	exists, err := s.client.Exists(ctx, accessCodeIndexKey(code)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *Storage) SaveConfig(ctx context.Context, cfg *model.RoundConfig) error {
	key := configKey(cfg.RoundID)
	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		var prev any
		var current model.RoundConfig
		if err := decodeCmd(tx.Get(ctx, key), &current); err == nil {
			prev = current
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		rec, err := storage.NewChange(cfg.RoundID, storage.KeyConfig, prev, *cfg)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.RoundTTL)
			pipe.Set(ctx, accessCodeIndexKey(cfg.AccessCode), string(cfg.RoundID), s.cfg.RoundTTL)
			return s.appendChange(ctx, pipe, rec)
		})
		return err
	}, key)
}

func (s *Storage) SaveState(ctx context.Context, state *model.RoundState, expectedVersion *int64) error {
	key := stateKey(state.RoundID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current *model.RoundState
		var stored model.RoundState
		if err := decodeCmd(tx.Get(ctx, key), &stored); err == nil {
			current = &stored
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		switch {
		case expectedVersion == nil && current != nil:
			return fmt.Errorf("round %s already has state: %w", state.RoundID, model.ErrConflict)
		case expectedVersion != nil && current == nil:
			return fmt.Errorf("round %s has no state: %w", state.RoundID, model.ErrConflict)
		case expectedVersion != nil && current.StateVersion != *expectedVersion:
			return fmt.Errorf("round %s at version %d, expected %d: %w",
				state.RoundID, current.StateVersion, *expectedVersion, model.ErrConflict)
		}

		var prev any
		if current != nil {
			prev = *current
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		rec, err := storage.NewChange(state.RoundID, storage.KeyState, prev, *state)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.RoundTTL)
			return s.appendChange(ctx, pipe, rec)
		})
		return err
	}, key)

	// Another writer touched the state between our read and EXEC
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("round %s state changed concurrently: %w", state.RoundID, model.ErrConflict)
	}
	return err
}

// Score operations

func (s *Storage) UpsertScore(ctx context.Context, score *model.Score) error {
	key := scoresKey(score.RoundID)
	field := scoreField(score.PlayerID, score.HoleNumber)
	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		var prev any
		var current model.Score
		if err := decodeCmd(tx.HGet(ctx, key, field), &current); err == nil {
			prev = current
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		data, err := json.Marshal(score)
		if err != nil {
			return err
		}
		rec, err := storage.NewChange(score.RoundID, storage.ScoreKey(score.PlayerID, score.HoleNumber), prev, *score)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, s.cfg.RoundTTL)
			if prev == nil {
				pipe.RPush(ctx, scoreOrderKey(score.RoundID), field)
				pipe.Expire(ctx, scoreOrderKey(score.RoundID), s.cfg.RoundTTL)
			}
			return s.appendChange(ctx, pipe, rec)
		})
		return err
	}, key)
}

// Player operations

func (s *Storage) CreatePlayer(ctx context.Context, player *model.Player) error {
	key := playersKey(player.RoundID)
	field := string(player.PlayerID)
	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, key, field).Result()
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("player %s already exists: %w", player.PlayerID, model.ErrConflict)
		}

		data, err := json.Marshal(player)
		if err != nil {
			return err
		}
		rec, err := storage.NewChange(player.RoundID, storage.PlayerKey(player.PlayerID), nil, *player)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.RPush(ctx, playerOrderKey(player.RoundID), field)
			pipe.Expire(ctx, key, s.cfg.RoundTTL)
			pipe.Expire(ctx, playerOrderKey(player.RoundID), s.cfg.RoundTTL)
			return s.appendChange(ctx, pipe, rec)
		})
		return err
	}, key)
}

func (s *Storage) UpdatePlayer(ctx context.Context, player *model.Player) error {
	key := playersKey(player.RoundID)
	field := string(player.PlayerID)
	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		var prev model.Player
		if err := decodeCmd(tx.HGet(ctx, key, field), &prev); err != nil {
			return notFound(err, "player %s", player.PlayerID)
		}

		data, err := json.Marshal(player)
		if err != nil {
			return err
		}
		rec, err := storage.NewChange(player.RoundID, storage.PlayerKey(player.PlayerID), prev, *player)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			return s.appendChange(ctx, pipe, rec)
		})
		return err
	}, key)
}

func (s *Storage) GetPlayer(ctx context.Context, roundID model.RoundID, playerID model.PlayerID) (*model.Player, error) {
	var player model.Player
	if err := decodeCmd(s.client.HGet(ctx, playersKey(roundID), string(playerID)), &player); err != nil {
		return nil, notFound(err, "player %s", playerID)
	}
	return &player, nil
}

// Session operations

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(session.SessionID), data, s.cfg.RoundTTL).Err()
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	var session model.Session
	if err := decodeCmd(s.client.Get(ctx, sessionKey(id)), &session); err != nil {
		return nil, notFound(err, "session")
	}
	return &session, nil
}

// watchRetry runs fn in a WATCH transaction, retrying when a concurrent
// write to the watched keys aborts EXEC. Used for last-writer-wins entities
// where the only purpose of WATCH is an accurate previous image.
func (s *Storage) watchRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range max(s.cfg.MaxWatchRetries, 1) {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("write to %v kept racing: %w", keys, model.ErrInternal)
}

func (s *Storage) appendChange(ctx context.Context, pipe redis.Pipeliner, rec storage.ChangeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Stream,
		MaxLen: s.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]any{recordField: data},
	})
	return nil
}

// decodeCmd unmarshals the JSON result of a string command into out.
// Returns redis.Nil when the key or field is missing.
func decodeCmd(cmd *redis.StringCmd, out any) error {
	data, err := cmd.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// notFound maps redis.Nil to model.ErrNotFound and passes other errors through
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf(format+": %w", append(args, model.ErrNotFound)...)
	}
	return err
}
