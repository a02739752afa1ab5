package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
)

type StorageSuite struct {
	suite.Suite
	storage *Storage
	ctx     context.Context
	now     time.Time
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StorageSuite) createRound(id model.RoundID, code model.AccessCode) {
	s.Require().NoError(s.storage.SaveConfig(s.ctx, &model.RoundConfig{
		RoundID: id, AccessCode: code, CourseName: "Links", Holes: 3, Par: []int{4, 4, 4}, CreatedAt: s.now,
	}))
	s.Require().NoError(s.storage.SaveState(s.ctx, &model.RoundState{
		RoundID: id, CurrentHole: 1, Status: model.StatusPtr(model.StatusInProgress), StateVersion: 1, UpdatedAt: s.now,
	}, nil))
}

func (s *StorageSuite) drain() []storage.ChangeRecord {
	batch, err := s.storage.Changes().Read(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(batch.Ack(s.ctx))
	return batch.Records
}

// Round tests

func (s *StorageSuite) TestGetSnapshot() {
	s.createRound("round-1", "ABC123")

	snap, err := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Require().NoError(err)
	s.Equal(3, snap.Config.Holes)
	s.Equal(int64(1), snap.State.StateVersion)
	s.Empty(snap.Players)
	s.Empty(snap.Scores)
}

func (s *StorageSuite) TestGetSnapshotNotFound() {
	_, err := s.storage.GetSnapshot(s.ctx, "missing")
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *StorageSuite) TestSnapshotIsACopy() {
	s.createRound("round-1", "ABC123")

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	snap.Config.Par[0] = 99

	again, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Equal(4, again.Config.Par[0])
}

func (s *StorageSuite) TestAccessCodeLookup() {
	s.createRound("round-1", "ABC123")

	exists, err := s.storage.AccessCodeExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.True(exists)

	cfg, err := s.storage.GetConfigByAccessCode(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(model.RoundID("round-1"), cfg.RoundID)

	_, err = s.storage.GetConfigByAccessCode(s.ctx, "ZZZZZZ")
	s.ErrorIs(err, model.ErrNotFound)
}

// State version tests

func (s *StorageSuite) TestSaveStateCreateOnlyConflictsWhenExists() {
	s.createRound("round-1", "ABC123")

	err := s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", StateVersion: 1}, nil)
	s.ErrorIs(err, model.ErrConflict)
}

func (s *StorageSuite) TestSaveStateWithMatchingVersion() {
	s.createRound("round-1", "ABC123")

	expected := int64(1)
	err := s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", CurrentHole: 2, StateVersion: 2}, &expected)
	s.Require().NoError(err)

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Equal(int64(2), snap.State.StateVersion)
	s.Equal(2, snap.State.CurrentHole)
}

func (s *StorageSuite) TestSaveStateWithStaleVersionConflicts() {
	s.createRound("round-1", "ABC123")

	expected := int64(1)
	s.Require().NoError(s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", StateVersion: 2}, &expected))

	err := s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", StateVersion: 2}, &expected)
	s.ErrorIs(err, model.ErrConflict)

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Equal(int64(2), snap.State.StateVersion)
}

// Score tests

func (s *StorageSuite) TestUpsertScoreReplacesInPlace() {
	s.createRound("round-1", "ABC123")

	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 1, Strokes: 5}))
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 2, Strokes: 4}))
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 1, Strokes: 3}))

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Require().Len(snap.Scores, 2)
	s.Equal(1, snap.Scores[0].HoleNumber)
	s.Equal(3, snap.Scores[0].Strokes)
	s.Equal(2, snap.Scores[1].HoleNumber)
}

// Player tests

func (s *StorageSuite) TestCreateAndUpdatePlayer() {
	s.createRound("round-1", "ABC123")

	s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "p1", Name: "Alice"}))
	s.Require().NoError(s.storage.UpdatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "p1", Name: "Alicia"}))

	player, err := s.storage.GetPlayer(s.ctx, "round-1", "p1")
	s.Require().NoError(err)
	s.Equal("Alicia", player.Name)
}

func (s *StorageSuite) TestUpdateMissingPlayer() {
	s.createRound("round-1", "ABC123")

	err := s.storage.UpdatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "ghost"})
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *StorageSuite) TestGetPlayerNotFound() {
	s.createRound("round-1", "ABC123")

	_, err := s.storage.GetPlayer(s.ctx, "round-1", "nonexistent")
	s.ErrorIs(err, model.ErrNotFound)
}

// Session tests

func (s *StorageSuite) TestSessionRoundTrip() {
	session := &model.Session{SessionID: "sess_1", RoundID: "round-1", PlayerID: "p1", ExpiresAt: s.now.Add(time.Hour)}
	s.Require().NoError(s.storage.CreateSession(s.ctx, session))

	got, err := s.storage.GetSession(s.ctx, "sess_1")
	s.Require().NoError(err)
	s.Equal(*session, *got)

	_, err = s.storage.GetSession(s.ctx, "sess_2")
	s.ErrorIs(err, model.ErrNotFound)
}

// Change feed tests

func (s *StorageSuite) TestWritesPublishChangeRecords() {
	s.createRound("round-1", "ABC123")
	s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "p1", Name: "Alice"}))
	s.Require().NoError(s.storage.UpdatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "p1", Name: "Alicia"}))

	records := s.drain()
	s.Require().Len(records, 4)

	s.Equal(storage.KeyConfig, records[0].Key)
	s.Equal(storage.ChangeInsert, records[0].Kind)
	s.Equal(storage.KeyState, records[1].Key)
	s.Equal(storage.ChangeInsert, records[1].Kind)
	s.Equal(storage.PlayerKey("p1"), records[2].Key)
	s.Equal(storage.ChangeInsert, records[2].Kind)
	s.Nil(records[2].PreviousImage)

	s.Equal(storage.ChangeModify, records[3].Kind)
	var prev, next model.Player
	s.Require().NoError(records[3].PreviousImage.Decode(&prev))
	s.Require().NoError(records[3].NewImage.Decode(&next))
	s.Equal("Alice", prev.Name)
	s.Equal("Alicia", next.Name)
}

func (s *StorageSuite) TestRejectedStateWriteDoesNotPublish() {
	s.createRound("round-1", "ABC123")
	s.drain()

	stale := int64(7)
	s.Require().Error(s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", StateVersion: 8}, &stale))
	s.Equal(0, s.storage.Changes().Pending())
}

func (s *StorageSuite) TestUnackedBatchIsRedelivered() {
	s.createRound("round-1", "ABC123")

	first, err := s.storage.Changes().Read(s.ctx)
	s.Require().NoError(err)

	second, err := s.storage.Changes().Read(s.ctx)
	s.Require().NoError(err)
	s.Equal(first.Records, second.Records)

	s.Require().NoError(second.Ack(s.ctx))
	s.Equal(0, s.storage.Changes().Pending())
}

func (s *StorageSuite) TestReadHonoursContext() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Millisecond)
	defer cancel()

	_, err := s.storage.Changes().Read(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}
