package changes

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
)

// Deriver maps raw change records to canonical domain events
type Deriver struct {
	clock clockwork.Clock
}

// NewDeriver creates a Deriver. The clock stamps events whose entity
// carries no timestamp of its own.
func NewDeriver(clock clockwork.Clock) *Deriver {
	return &Deriver{clock: clock}
}

// Derive returns the event a record implies, or nil when it implies none.
// Player and score writes always produce an event. State writes produce one
// only when a monitored field differs from the previous image, so a
// redelivered record does not reach subscribers twice.
func (d *Deriver) Derive(rec storage.ChangeRecord) (model.DomainEvent, error) {
	if rec.NewImage == nil {
		return nil, nil
	}

	switch storage.ClassifyKey(rec.NewImage.Key) {
	case storage.EntityPlayer:
		var player model.Player
		if err := rec.NewImage.Decode(&player); err != nil {
			return nil, err
		}
		at := d.occurredAt(player.UpdatedAt, player.JoinedAt)
		switch rec.Kind {
		case storage.ChangeInsert:
			return model.NewPlayerJoined(player, at), nil
		case storage.ChangeModify:
			return model.NewPlayerUpdated(player, at), nil
		default:
			return nil, fmt.Errorf("player record of kind %q: %w", rec.Kind, model.ErrInvalidInput)
		}

	case storage.EntityScore:
		var score model.Score
		if err := rec.NewImage.Decode(&score); err != nil {
			return nil, err
		}
		return model.NewScoreChanged(score, d.occurredAt(score.UpdatedAt)), nil

	case storage.EntityState:
		if rec.Kind != storage.ChangeModify || rec.PreviousImage == nil {
			return nil, nil
		}
		var prev, next model.RoundState
		if err := rec.PreviousImage.Decode(&prev); err != nil {
			return nil, err
		}
		if err := rec.NewImage.Decode(&next); err != nil {
			return nil, err
		}
		if prev.SameMonitoredFields(next) {
			return nil, nil
		}
		return model.NewRoundStateChanged(next, d.occurredAt(next.UpdatedAt)), nil

	default:
		return nil, nil
	}
}

// occurredAt returns the first non-zero candidate, falling back to now
func (d *Deriver) occurredAt(candidates ...time.Time) time.Time {
	for _, t := range candidates {
		if !t.IsZero() {
			return t
		}
	}
	return d.clock.Now()
}
