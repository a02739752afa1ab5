package reducer

import (
	"github.com/mcoot/roundsync/internal/model"
)

// Reduce returns snap with event applied. It never mutates snap: the
// returned snapshot has its own player and score slices. A nil or
// malformed event, or one for another round, returns snap unchanged.
// Applying the same event twice gives the same result as applying it once.
func Reduce(snap model.Snapshot, event model.DomainEvent) model.Snapshot {
	if event == nil {
		return snap
	}
	if id := snap.RoundID(); id != "" && event.Round() != id {
		return snap
	}

	a := &applier{snap: snap}
	event.Accept(a)
	return a.snap
}

// applier handles each event variant. It owns a.snap's slices only after
// it has copied them.
type applier struct {
	snap model.Snapshot
}

var _ model.EventVisitor = (*applier)(nil)

func (a *applier) VisitPlayerJoined(e model.PlayerJoined) {
	a.upsertPlayer(e.Player)
}

func (a *applier) VisitPlayerUpdated(e model.PlayerUpdated) {
	a.upsertPlayer(e.Player)
}

func (a *applier) VisitPlayerRemoved(e model.PlayerRemoved) {
	if e.PlayerID == "" {
		return
	}
	players := make([]model.Player, 0, len(a.snap.Players))
	for _, p := range a.snap.Players {
		if p.PlayerID != e.PlayerID {
			players = append(players, p)
		}
	}
	a.snap.Players = players
}

func (a *applier) VisitScoreChanged(e model.ScoreChanged) {
	if e.Score.PlayerID == "" || e.Score.HoleNumber == 0 {
		return
	}
	a.snap.Scores = upsert(a.snap.Scores, e.Score, e.Score.SameCell)
}

func (a *applier) VisitRoundStateChanged(e model.RoundStateChanged) {
	if e.State.RoundID == "" {
		return
	}
	state := e.State
	if state.Status != nil {
		state.Status = model.StatusPtr(*state.Status)
	}
	a.snap.State = state
}

func (a *applier) upsertPlayer(p model.Player) {
	if p.PlayerID == "" {
		return
	}
	a.snap.Players = upsert(a.snap.Players, p, func(o model.Player) bool {
		return o.PlayerID == p.PlayerID
	})
}

// upsert returns a copy of items with the first element matching same
// replaced by v, or with v appended when nothing matches
func upsert[T any](items []T, v T, same func(T) bool) []T {
	out := make([]T, len(items), len(items)+1)
	copy(out, items)
	for i := range out {
		if same(out[i]) {
			out[i] = v
			return out
		}
	}
	return append(out, v)
}
