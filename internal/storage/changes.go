package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mcoot/roundsync/internal/model"
)

// ChangeKind is the kind of write a ChangeRecord describes
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeModify ChangeKind = "modify"
	ChangeRemove ChangeKind = "remove"
)

// Image is the stored form of one entity at a point in time
type Image struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// ChangeRecord describes one persisted write. PreviousImage is nil for
// inserts; NewImage is nil for removes.
type ChangeRecord struct {
	Kind          ChangeKind    `json:"kind"`
	RoundID       model.RoundID `json:"roundId"`
	Key           string        `json:"key"`
	PreviousImage *Image        `json:"previousImage,omitempty"`
	NewImage      *Image        `json:"newImage,omitempty"`
}

// Entity keys within a round
const (
	KeyConfig       = "CONFIG"
	KeyState        = "STATE"
	keyPlayerPrefix = "PLAYER#"
	keyScorePrefix  = "SCORE#"
)

// EntityKind classifies a change record by its key
type EntityKind int

const (
	EntityUnknown EntityKind = iota
	EntityConfig
	EntityState
	EntityPlayer
	EntityScore
)

// PlayerKey returns the entity key of a player
func PlayerKey(id model.PlayerID) string {
	return keyPlayerPrefix + string(id)
}

// ScoreKey returns the entity key of a score cell
func ScoreKey(id model.PlayerID, hole int) string {
	return fmt.Sprintf("%s%s#%d", keyScorePrefix, id, hole)
}

// ClassifyKey returns the kind of entity a key refers to
func ClassifyKey(key string) EntityKind {
	switch {
	case key == KeyConfig:
		return EntityConfig
	case key == KeyState:
		return EntityState
	case strings.HasPrefix(key, keyPlayerPrefix) && len(key) > len(keyPlayerPrefix):
		return EntityPlayer
	case isScoreKey(key):
		return EntityScore
	default:
		return EntityUnknown
	}
}

func isScoreKey(key string) bool {
	rest, ok := strings.CutPrefix(key, keyScorePrefix)
	if !ok {
		return false
	}
	player, hole, ok := strings.Cut(rest, "#")
	if !ok || player == "" {
		return false
	}
	_, err := strconv.Atoi(hole)
	return err == nil
}

// NewImage encodes v as the image stored under key
func NewImage(key string, v any) (*Image, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode image %s: %w", key, err)
	}
	return &Image{Key: key, Data: data}, nil
}

// Decode unmarshals the image data into out
func (i *Image) Decode(out any) error {
	if i == nil || len(i.Data) == 0 {
		return fmt.Errorf("empty image: %w", model.ErrInvalidInput)
	}
	if err := json.Unmarshal(i.Data, out); err != nil {
		return fmt.Errorf("decode image %s: %w", i.Key, err)
	}
	return nil
}

// NewChange builds a change record from the previous and new values of an
// entity. A nil prev makes an insert; a nil next makes a remove.
func NewChange(roundID model.RoundID, key string, prev, next any) (ChangeRecord, error) {
	rec := ChangeRecord{RoundID: roundID, Key: key}
	var err error
	if prev != nil {
		if rec.PreviousImage, err = NewImage(key, prev); err != nil {
			return ChangeRecord{}, err
		}
	}
	if next != nil {
		if rec.NewImage, err = NewImage(key, next); err != nil {
			return ChangeRecord{}, err
		}
	}
	switch {
	case rec.NewImage == nil:
		rec.Kind = ChangeRemove
	case rec.PreviousImage == nil:
		rec.Kind = ChangeInsert
	default:
		rec.Kind = ChangeModify
	}
	return rec, nil
}
