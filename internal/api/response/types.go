package response

import (
	"time"

	"github.com/mcoot/roundsync/internal/model"
)

// JoinResponse is the response for joining a round
type JoinResponse struct {
	SessionID model.SessionID `json:"sessionId"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Player    *model.Player   `json:"player"`
	Snapshot  *model.Snapshot `json:"snapshot"`
}

// Health is the response for the health endpoint
type Health struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}
