package broadcast

import (
	"context"

	"github.com/mcoot/roundsync/internal/model"
)

// Broadcaster has one delivery operation per event variant
type Broadcaster interface {
	BroadcastPlayerJoined(ctx context.Context, e model.PlayerJoined)
	BroadcastPlayerUpdated(ctx context.Context, e model.PlayerUpdated)
	BroadcastPlayerRemoved(ctx context.Context, e model.PlayerRemoved)
	BroadcastScoreChanged(ctx context.Context, e model.ScoreChanged)
	BroadcastRoundStateChanged(ctx context.Context, e model.RoundStateChanged)
}

// Dispatcher routes each derived event to its Broadcaster operation
type Dispatcher struct {
	broadcaster Broadcaster
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(broadcaster Broadcaster) *Dispatcher {
	return &Dispatcher{broadcaster: broadcaster}
}

// Dispatch delivers event through exactly one Broadcaster call
func (d *Dispatcher) Dispatch(ctx context.Context, event model.DomainEvent) {
	if event == nil {
		return
	}
	event.Accept(&route{ctx: ctx, b: d.broadcaster})
}

// route is the per-call visitor; it carries the caller's context
type route struct {
	ctx context.Context
	b   Broadcaster
}

var _ model.EventVisitor = (*route)(nil)

func (r *route) VisitPlayerJoined(e model.PlayerJoined)   { r.b.BroadcastPlayerJoined(r.ctx, e) }
func (r *route) VisitPlayerUpdated(e model.PlayerUpdated) { r.b.BroadcastPlayerUpdated(r.ctx, e) }
func (r *route) VisitPlayerRemoved(e model.PlayerRemoved) { r.b.BroadcastPlayerRemoved(r.ctx, e) }
func (r *route) VisitScoreChanged(e model.ScoreChanged)   { r.b.BroadcastScoreChanged(r.ctx, e) }
func (r *route) VisitRoundStateChanged(e model.RoundStateChanged) {
	r.b.BroadcastRoundStateChanged(r.ctx, e)
}
