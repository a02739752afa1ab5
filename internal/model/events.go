package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the variant of a DomainEvent on the wire
type EventType string

const (
	EventPlayerJoined      EventType = "PlayerJoined"
	EventPlayerUpdated     EventType = "PlayerUpdated"
	EventPlayerRemoved     EventType = "PlayerRemoved"
	EventScoreChanged      EventType = "ScoreChanged"
	EventRoundStateChanged EventType = "RoundStateChanged"
)

// DomainEvent is a notification that an entity of a round has a new value.
// The set of variants is closed: only types in this package implement it,
// and every consumer handles all of them through EventVisitor.
type DomainEvent interface {
	Type() EventType
	Round() RoundID
	At() time.Time
	Accept(v EventVisitor)
	domainEvent()
}

// EventVisitor has one method per DomainEvent variant. Adding a variant
// adds a method here, so every implementation stops compiling until it
// handles the new case.
type EventVisitor interface {
	VisitPlayerJoined(e PlayerJoined)
	VisitPlayerUpdated(e PlayerUpdated)
	VisitPlayerRemoved(e PlayerRemoved)
	VisitScoreChanged(e ScoreChanged)
	VisitRoundStateChanged(e RoundStateChanged)
}

// EventHeader is the part shared by every variant
type EventHeader struct {
	RoundID    RoundID   `json:"roundId"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (h EventHeader) Round() RoundID { return h.RoundID }
func (h EventHeader) At() time.Time  { return h.OccurredAt }

// PlayerJoined carries a newly created player
type PlayerJoined struct {
	EventHeader
	Player Player `json:"player"`
}

// PlayerUpdated carries the current value of an edited player
type PlayerUpdated struct {
	EventHeader
	Player Player `json:"player"`
}

// PlayerRemoved names a player that left the round
type PlayerRemoved struct {
	EventHeader
	PlayerID PlayerID `json:"playerId"`
}

// ScoreChanged carries the current value of a score cell
type ScoreChanged struct {
	EventHeader
	Score Score `json:"score"`
}

// RoundStateChanged carries the full current round state
type RoundStateChanged struct {
	EventHeader
	State RoundState `json:"state"`
}

func (PlayerJoined) Type() EventType      { return EventPlayerJoined }
func (PlayerUpdated) Type() EventType     { return EventPlayerUpdated }
func (PlayerRemoved) Type() EventType     { return EventPlayerRemoved }
func (ScoreChanged) Type() EventType      { return EventScoreChanged }
func (RoundStateChanged) Type() EventType { return EventRoundStateChanged }

func (e PlayerJoined) Accept(v EventVisitor)      { v.VisitPlayerJoined(e) }
func (e PlayerUpdated) Accept(v EventVisitor)     { v.VisitPlayerUpdated(e) }
func (e PlayerRemoved) Accept(v EventVisitor)     { v.VisitPlayerRemoved(e) }
func (e ScoreChanged) Accept(v EventVisitor)      { v.VisitScoreChanged(e) }
func (e RoundStateChanged) Accept(v EventVisitor) { v.VisitRoundStateChanged(e) }

func (PlayerJoined) domainEvent()      {}
func (PlayerUpdated) domainEvent()     {}
func (PlayerRemoved) domainEvent()     {}
func (ScoreChanged) domainEvent()      {}
func (RoundStateChanged) domainEvent() {}

// NewPlayerJoined builds a PlayerJoined event for p
func NewPlayerJoined(p Player, at time.Time) PlayerJoined {
	return PlayerJoined{EventHeader: EventHeader{RoundID: p.RoundID, OccurredAt: at}, Player: p}
}

// NewPlayerUpdated builds a PlayerUpdated event for p
func NewPlayerUpdated(p Player, at time.Time) PlayerUpdated {
	return PlayerUpdated{EventHeader: EventHeader{RoundID: p.RoundID, OccurredAt: at}, Player: p}
}

// NewPlayerRemoved builds a PlayerRemoved event
func NewPlayerRemoved(roundID RoundID, id PlayerID, at time.Time) PlayerRemoved {
	return PlayerRemoved{EventHeader: EventHeader{RoundID: roundID, OccurredAt: at}, PlayerID: id}
}

// NewScoreChanged builds a ScoreChanged event for s
func NewScoreChanged(s Score, at time.Time) ScoreChanged {
	return ScoreChanged{EventHeader: EventHeader{RoundID: s.RoundID, OccurredAt: at}, Score: s}
}

// NewRoundStateChanged builds a RoundStateChanged event for s
func NewRoundStateChanged(s RoundState, at time.Time) RoundStateChanged {
	return RoundStateChanged{EventHeader: EventHeader{RoundID: s.RoundID, OccurredAt: at}, State: s}
}

// MarshalJSON methods add the type tag so each variant serializes to the
// full wire payload on its own.

func (e PlayerJoined) MarshalJSON() ([]byte, error) {
	type alias PlayerJoined
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e PlayerUpdated) MarshalJSON() ([]byte, error) {
	type alias PlayerUpdated
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e PlayerRemoved) MarshalJSON() ([]byte, error) {
	type alias PlayerRemoved
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e ScoreChanged) MarshalJSON() ([]byte, error) {
	type alias ScoreChanged
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e RoundStateChanged) MarshalJSON() ([]byte, error) {
	type alias RoundStateChanged
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

// MarshalEvent encodes an event into its wire payload
func MarshalEvent(e DomainEvent) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("marshal nil event: %w", ErrInvalidInput)
	}
	return json.Marshal(e)
}

// UnmarshalEvent decodes a wire payload. Unknown types and payloads missing
// their entity are rejected.
func UnmarshalEvent(data []byte) (DomainEvent, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch envelope.Type {
	case EventPlayerJoined:
		var e PlayerJoined
		if err := decodeVariant(data, &e); err != nil {
			return nil, err
		}
		if e.Player.PlayerID == "" {
			return nil, fmt.Errorf("%s without player: %w", envelope.Type, ErrInvalidInput)
		}
		return e, nil
	case EventPlayerUpdated:
		var e PlayerUpdated
		if err := decodeVariant(data, &e); err != nil {
			return nil, err
		}
		if e.Player.PlayerID == "" {
			return nil, fmt.Errorf("%s without player: %w", envelope.Type, ErrInvalidInput)
		}
		return e, nil
	case EventPlayerRemoved:
		var e PlayerRemoved
		if err := decodeVariant(data, &e); err != nil {
			return nil, err
		}
		if e.PlayerID == "" {
			return nil, fmt.Errorf("%s without playerId: %w", envelope.Type, ErrInvalidInput)
		}
		return e, nil
	case EventScoreChanged:
		var e ScoreChanged
		if err := decodeVariant(data, &e); err != nil {
			return nil, err
		}
		if e.Score.PlayerID == "" || e.Score.HoleNumber == 0 {
			return nil, fmt.Errorf("%s without score: %w", envelope.Type, ErrInvalidInput)
		}
		return e, nil
	case EventRoundStateChanged:
		var e RoundStateChanged
		if err := decodeVariant(data, &e); err != nil {
			return nil, err
		}
		if e.State.RoundID == "" {
			return nil, fmt.Errorf("%s without state: %w", envelope.Type, ErrInvalidInput)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q: %w", envelope.Type, ErrInvalidInput)
	}
}

func decodeVariant(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}
