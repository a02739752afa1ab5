package redis

import (
	"fmt"

	"github.com/mcoot/roundsync/internal/model"
)

// Key prefix for all round data
const keyPrefix = "roundsync"

// configKey returns the Redis key for a round's RoundConfig
func configKey(id model.RoundID) string {
	return fmt.Sprintf("%s:round:%s:config", keyPrefix, id)
}

// stateKey returns the Redis key for a round's RoundState
func stateKey(id model.RoundID) string {
	return fmt.Sprintf("%s:round:%s:state", keyPrefix, id)
}

// playersKey returns the Redis key for the HASH of players in a round
func playersKey(id model.RoundID) string {
	return fmt.Sprintf("%s:round:%s:players", keyPrefix, id)
}

// playerOrderKey returns the Redis key for the LIST of player IDs in join order
func playerOrderKey(id model.RoundID) string {
	return fmt.Sprintf("%s:round:%s:player_order", keyPrefix, id)
}

// scoresKey returns the Redis key for the HASH of scores in a round
func scoresKey(id model.RoundID) string {
	return fmt.Sprintf("%s:round:%s:scores", keyPrefix, id)
}

// scoreOrderKey returns the Redis key for the LIST of score fields in first-write order
func scoreOrderKey(id model.RoundID) string {
	return fmt.Sprintf("%s:round:%s:score_order", keyPrefix, id)
}

// scoreField returns the field of a score cell within scoresKey
func scoreField(playerID model.PlayerID, hole int) string {
	return fmt.Sprintf("%s#%d", playerID, hole)
}

// accessCodeIndexKey returns the Redis key for the access code -> round_id index
func accessCodeIndexKey(code model.AccessCode) string {
	return fmt.Sprintf("%s:idx:access_code:%s", keyPrefix, code)
}

// sessionKey returns the Redis key for a Session
func sessionKey(id model.SessionID) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, id)
}

// changeStreamKey returns the Redis key of the change record stream
func changeStreamKey() string {
	return fmt.Sprintf("%s:changes", keyPrefix)
}
