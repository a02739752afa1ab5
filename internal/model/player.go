package model

import "time"

// PlayerID uniquely identifies a player within a round
type PlayerID string

// DefaultPlayerColor is assigned when a player joins without choosing one
const DefaultPlayerColor = "#1E88E5"

// Player is a participant in a round
type Player struct {
	RoundID   RoundID   `json:"roundId"`
	PlayerID  PlayerID  `json:"playerId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	JoinedAt  time.Time `json:"joinedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Score is the stroke count of one player on one hole.
// Identity is (PlayerID, HoleNumber); writes are last-writer-wins.
type Score struct {
	RoundID    RoundID   `json:"roundId"`
	PlayerID   PlayerID  `json:"playerId"`
	HoleNumber int       `json:"holeNumber"`
	Strokes    int       `json:"strokes"`
	UpdatedBy  PlayerID  `json:"updatedBy"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SameCell reports whether two scores address the same (player, hole) key
func (s Score) SameCell(o Score) bool {
	return s.PlayerID == o.PlayerID && s.HoleNumber == o.HoleNumber
}

// SessionID identifies a client session
type SessionID string

// Session binds a connecting client to exactly one round and one player
type Session struct {
	SessionID SessionID `json:"sessionId"`
	RoundID   RoundID   `json:"roundId"`
	PlayerID  PlayerID  `json:"playerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ConnectionID identifies a single live subscriber connection
type ConnectionID string

// Subscriber is an active transport endpoint receiving broadcasts for a round
type Subscriber struct {
	RoundID      RoundID      `json:"roundId"`
	ConnectionID ConnectionID `json:"connectionId"`
	PlayerID     PlayerID     `json:"playerId"`
	ConnectedAt  time.Time    `json:"connectedAt"`
}
