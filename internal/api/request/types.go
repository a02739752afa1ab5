package request

import "github.com/mcoot/roundsync/internal/model"

// CreateRoundRequest is the request body for creating a round
type CreateRoundRequest struct {
	CourseName string `json:"courseName"`
	Par        []int  `json:"par"`
}

// JoinRoundRequest is the request body for joining a round
type JoinRoundRequest struct {
	AccessCode string  `json:"accessCode"`
	PlayerName string  `json:"playerName"`
	Color      *string `json:"color,omitempty"`
}

// UpdateScoreRequest is the request body for recording a score
type UpdateScoreRequest struct {
	PlayerID   model.PlayerID `json:"playerId"`
	HoleNumber int            `json:"holeNumber"`
	Strokes    int            `json:"strokes"`
}

// PatchStateRequest is the request body for changing round state.
// Status distinguishes an absent field from an explicit null.
type PatchStateRequest struct {
	CurrentHole     *int                 `json:"currentHole,omitempty"`
	Status          model.OptionalStatus `json:"status"`
	ExpectedVersion *int64               `json:"expectedVersion,omitempty"`
}

// UpdatePlayerRequest is the request body for editing a player
type UpdatePlayerRequest struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}
