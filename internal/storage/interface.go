package storage

import (
	"context"

	"github.com/mcoot/roundsync/internal/model"
)

// Repository defines persistence for rounds. Every write also surfaces a
// ChangeRecord on the implementation's ChangeFeed.
type Repository interface {
	// Round operations
	GetSnapshot(ctx context.Context, roundID model.RoundID) (*model.Snapshot, error)
	GetConfigByAccessCode(ctx context.Context, code model.AccessCode) (*model.RoundConfig, error)
	AccessCodeExists(ctx context.Context, code model.AccessCode) (bool, error)
	SaveConfig(ctx context.Context, cfg *model.RoundConfig) error

	// SaveState writes the round state. With expectedVersion set, the write
	// fails with model.ErrConflict unless the stored version equals it.
	// With expectedVersion nil, the write is create-only and fails with
	// model.ErrConflict if a state already exists.
	SaveState(ctx context.Context, state *model.RoundState, expectedVersion *int64) error

	// Score operations
	UpsertScore(ctx context.Context, score *model.Score) error

	// Player operations
	CreatePlayer(ctx context.Context, player *model.Player) error
	UpdatePlayer(ctx context.Context, player *model.Player) error
	GetPlayer(ctx context.Context, roundID model.RoundID, playerID model.PlayerID) (*model.Player, error)

	// Session operations
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)
}

// ChangeFeed delivers persisted changes in batches, at least once.
// Records for the same key arrive in write order; there is no ordering
// across keys. A batch that is not acknowledged is delivered again.
type ChangeFeed interface {
	Read(ctx context.Context) (Batch, error)
}

// Batch is a group of change records read together from a feed
type Batch struct {
	Records []ChangeRecord

	// Ack marks every record in the batch as processed
	Ack func(ctx context.Context) error
}
