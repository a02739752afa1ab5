package model

// Snapshot is everything a client needs to render a round
type Snapshot struct {
	Config  RoundConfig `json:"config"`
	State   RoundState  `json:"state"`
	Players []Player    `json:"players"`
	Scores  []Score     `json:"scores"`
}

// RoundID returns the ID of the round the snapshot describes
func (s Snapshot) RoundID() RoundID {
	if s.Config.RoundID != "" {
		return s.Config.RoundID
	}
	return s.State.RoundID
}

// GetPlayer returns the player with the given ID, or nil if not present
func (s Snapshot) GetPlayer(id PlayerID) *Player {
	for i := range s.Players {
		if s.Players[i].PlayerID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// GetScore returns the score for a (player, hole) cell, or nil
func (s Snapshot) GetScore(id PlayerID, hole int) *Score {
	for i := range s.Scores {
		if s.Scores[i].PlayerID == id && s.Scores[i].HoleNumber == hole {
			return &s.Scores[i]
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with s
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Config.Par = cloneSlice(s.Config.Par)
	out.Players = cloneSlice(s.Players)
	out.Scores = cloneSlice(s.Scores)
	if s.State.Status != nil {
		out.State.Status = StatusPtr(*s.State.Status)
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
