package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
	"github.com/mcoot/roundsync/internal/testutil"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	feed    *Feed
	ctx     context.Context
	now     time.Time
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	cfg := DefaultConfig()
	cfg.RoundTTL = time.Hour
	cfg.BlockTimeout = 20 * time.Millisecond
	cfg.StartID = "0"

	s.storage = NewWithClient(client, cfg)
	s.feed = NewFeed(client, cfg, testutil.NopLogger())
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *StorageSuite) createRound(id model.RoundID, code model.AccessCode) {
	s.Require().NoError(s.storage.SaveConfig(s.ctx, &model.RoundConfig{
		RoundID: id, AccessCode: code, CourseName: "Links", Holes: 3, Par: []int{4, 4, 4}, CreatedAt: s.now,
	}))
	s.Require().NoError(s.storage.SaveState(s.ctx, &model.RoundState{
		RoundID: id, CurrentHole: 1, Status: model.StatusPtr(model.StatusInProgress), StateVersion: 1, UpdatedAt: s.now,
	}, nil))
}

func (s *StorageSuite) readAll() []storage.ChangeRecord {
	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	batch, err := s.feed.Read(ctx)
	s.Require().NoError(err)
	s.Require().NoError(batch.Ack(s.ctx))
	return batch.Records
}

// Round tests

func (s *StorageSuite) TestSaveAndGetSnapshot() {
	s.createRound("round-1", "ABC123")

	snap, err := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Require().NoError(err)
	s.Equal("Links", snap.Config.CourseName)
	s.Equal([]int{4, 4, 4}, snap.Config.Par)
	s.Equal(int64(1), snap.State.StateVersion)
	s.Require().NotNil(snap.State.Status)
	s.Equal(model.StatusInProgress, *snap.State.Status)
}

func (s *StorageSuite) TestGetSnapshotNotFound() {
	_, err := s.storage.GetSnapshot(s.ctx, "missing")
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *StorageSuite) TestAccessCodeIndex() {
	s.createRound("round-1", "ABC123")

	exists, err := s.storage.AccessCodeExists(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.True(exists)

	cfg, err := s.storage.GetConfigByAccessCode(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(model.RoundID("round-1"), cfg.RoundID)

	_, err = s.storage.GetConfigByAccessCode(s.ctx, "NOPE42")
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *StorageSuite) TestRoundKeysHaveTTL() {
	s.createRound("round-1", "ABC123")

	s.Equal(time.Hour, s.mini.TTL(configKey("round-1")))
	s.Equal(time.Hour, s.mini.TTL(stateKey("round-1")))
}

// State version tests

func (s *StorageSuite) TestSaveStateCreateOnly() {
	s.createRound("round-1", "ABC123")

	err := s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", StateVersion: 1}, nil)
	s.ErrorIs(err, model.ErrConflict)
}

func (s *StorageSuite) TestSaveStateVersionGuard() {
	s.createRound("round-1", "ABC123")

	expected := int64(1)
	s.Require().NoError(s.storage.SaveState(s.ctx, &model.RoundState{
		RoundID: "round-1", CurrentHole: 2, Status: model.StatusPtr(model.StatusCompleted), StateVersion: 2,
	}, &expected))

	err := s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", CurrentHole: 3, StateVersion: 2}, &expected)
	s.ErrorIs(err, model.ErrConflict)

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Equal(2, snap.State.CurrentHole)
	s.Equal(model.StatusCompleted, *snap.State.Status)
}

func (s *StorageSuite) TestConcurrentStateWritesExactlyOneWins() {
	s.createRound("round-1", "ABC123")

	const writers = 8
	expected := int64(1)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.storage.SaveState(s.ctx, &model.RoundState{
				RoundID: "round-1", CurrentHole: i + 1, StateVersion: 2,
			}, &expected)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, model.ErrConflict)
	}
	s.Equal(1, succeeded)

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Equal(int64(2), snap.State.StateVersion)
}

// Score tests

func (s *StorageSuite) TestUpsertScoreLastWriteWins() {
	s.createRound("round-1", "ABC123")

	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 1, Strokes: 5}))
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p2", HoleNumber: 1, Strokes: 6}))
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 1, Strokes: 4}))

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Require().Len(snap.Scores, 2)
	s.Equal(model.PlayerID("p1"), snap.Scores[0].PlayerID)
	s.Equal(4, snap.Scores[0].Strokes)
	s.Equal(model.PlayerID("p2"), snap.Scores[1].PlayerID)
}

// Player tests

func (s *StorageSuite) TestPlayersKeepJoinOrder() {
	s.createRound("round-1", "ABC123")

	for _, id := range []model.PlayerID{"p3", "p1", "p2"} {
		s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: id, Name: string(id)}))
	}

	snap, _ := s.storage.GetSnapshot(s.ctx, "round-1")
	s.Require().Len(snap.Players, 3)
	s.Equal(model.PlayerID("p3"), snap.Players[0].PlayerID)
	s.Equal(model.PlayerID("p1"), snap.Players[1].PlayerID)
	s.Equal(model.PlayerID("p2"), snap.Players[2].PlayerID)
}

func (s *StorageSuite) TestCreateDuplicatePlayer() {
	s.createRound("round-1", "ABC123")
	player := &model.Player{RoundID: "round-1", PlayerID: "p1", Name: "Alice"}
	s.Require().NoError(s.storage.CreatePlayer(s.ctx, player))

	s.ErrorIs(s.storage.CreatePlayer(s.ctx, player), model.ErrConflict)
}

func (s *StorageSuite) TestUpdatePlayer() {
	s.createRound("round-1", "ABC123")
	s.Require().NoError(s.storage.CreatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "p1", Name: "Alice"}))

	s.Require().NoError(s.storage.UpdatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "p1", Name: "Alicia", Color: "#000000"}))

	player, err := s.storage.GetPlayer(s.ctx, "round-1", "p1")
	s.Require().NoError(err)
	s.Equal("Alicia", player.Name)
	s.Equal("#000000", player.Color)
}

func (s *StorageSuite) TestUpdateMissingPlayer() {
	s.createRound("round-1", "ABC123")

	err := s.storage.UpdatePlayer(s.ctx, &model.Player{RoundID: "round-1", PlayerID: "ghost"})
	s.ErrorIs(err, model.ErrNotFound)
}

// Session tests

func (s *StorageSuite) TestSessionRoundTrip() {
	session := &model.Session{SessionID: "sess_1", RoundID: "round-1", PlayerID: "p1", ExpiresAt: s.now.Add(time.Hour)}
	s.Require().NoError(s.storage.CreateSession(s.ctx, session))

	got, err := s.storage.GetSession(s.ctx, "sess_1")
	s.Require().NoError(err)
	s.Equal(session.PlayerID, got.PlayerID)
	s.True(session.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.storage.GetSession(s.ctx, "sess_2")
	s.ErrorIs(err, model.ErrNotFound)
}

// Change stream tests

func (s *StorageSuite) TestWritesAppendToStream() {
	s.createRound("round-1", "ABC123")
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 2, Strokes: 5}))
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 2, Strokes: 4}))

	records := s.readAll()
	s.Require().Len(records, 4)
	s.Equal(storage.KeyConfig, records[0].Key)
	s.Equal(storage.KeyState, records[1].Key)

	s.Equal(storage.ScoreKey("p1", 2), records[2].Key)
	s.Equal(storage.ChangeInsert, records[2].Kind)
	s.Equal(storage.ChangeModify, records[3].Kind)

	var prev, next model.Score
	s.Require().NoError(records[3].PreviousImage.Decode(&prev))
	s.Require().NoError(records[3].NewImage.Decode(&next))
	s.Equal(5, prev.Strokes)
	s.Equal(4, next.Strokes)
}

func (s *StorageSuite) TestConflictingWriteDoesNotAppend() {
	s.createRound("round-1", "ABC123")
	s.readAll()

	stale := int64(9)
	s.Require().Error(s.storage.SaveState(s.ctx, &model.RoundState{RoundID: "round-1", StateVersion: 10}, &stale))

	ctx, cancel := context.WithTimeout(s.ctx, 100*time.Millisecond)
	defer cancel()
	_, err := s.feed.Read(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *StorageSuite) TestUnackedEntriesAreRedelivered() {
	s.createRound("round-1", "ABC123")

	first, err := s.feed.Read(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(first.Records, 2)

	// Not acked: a new feed on the same group sees them again
	restarted := NewFeed(s.storage.Client(), s.storage.cfg, testutil.NopLogger())
	second, err := restarted.Read(s.ctx)
	s.Require().NoError(err)
	s.Equal(first.Records, second.Records)

	s.Require().NoError(second.Ack(s.ctx))
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 1, Strokes: 3}))

	third, err := restarted.Read(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(third.Records, 1)
	s.Equal(storage.ScoreKey("p1", 1), third.Records[0].Key)
}

func (s *StorageSuite) TestMalformedEntryIsSkipped() {
	s.mini.XAdd(changeStreamKey(), "*", []string{"record", "not json"})
	s.createRound("round-1", "ABC123")

	records := s.readAll()
	s.Len(records, 2)
}

func (s *StorageSuite) TestEveryInstanceReceivesEveryRecord() {
	cfg := s.storage.cfg
	first := NewFeed(s.storage.Client(), cfg.ForInstance("api-1"), testutil.NopLogger())
	second := NewFeed(s.storage.Client(), cfg.ForInstance("api-2"), testutil.NopLogger())

	s.createRound("round-1", "ABC123")

	for _, feed := range []*Feed{first, second} {
		ctx, cancel := context.WithTimeout(s.ctx, time.Second)
		batch, err := feed.Read(ctx)
		cancel()
		s.Require().NoError(err)
		s.Len(batch.Records, 2)
		s.Require().NoError(batch.Ack(s.ctx))
	}

	// Acking in one group leaves the other's position alone
	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 1, Strokes: 3}))
	batch, err := second.Read(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(batch.Records, 1)
	s.Equal(storage.ScoreKey("p1", 1), batch.Records[0].Key)
}

func (s *StorageSuite) TestNewGroupStartsAtStreamTail() {
	s.createRound("round-1", "ABC123")

	cfg := DefaultConfig().ForInstance("late")
	cfg.BlockTimeout = 20 * time.Millisecond
	feed := NewFeed(s.storage.Client(), cfg, testutil.NopLogger())

	// Joining creates the group without delivering history
	ctx, cancel := context.WithTimeout(s.ctx, 100*time.Millisecond)
	_, err := feed.Read(ctx)
	cancel()
	s.Require().ErrorIs(err, context.DeadlineExceeded)

	s.Require().NoError(s.storage.UpsertScore(s.ctx, &model.Score{RoundID: "round-1", PlayerID: "p1", HoleNumber: 2, Strokes: 4}))

	batch, err := feed.Read(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(batch.Records, 1)
	s.Equal(storage.ScoreKey("p1", 2), batch.Records[0].Key)
}

func (s *StorageSuite) TestCloseDestroysEphemeralGroup() {
	cfg := s.storage.cfg.ForInstance("ephemeral")
	cfg.DestroyGroupOnClose = true
	feed := NewFeed(s.storage.Client(), cfg, testutil.NopLogger())

	s.createRound("round-1", "ABC123")
	batch, err := feed.Read(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(batch.Ack(s.ctx))

	groups, err := s.storage.Client().XInfoGroups(s.ctx, cfg.Stream).Result()
	s.Require().NoError(err)
	s.Require().Len(groups, 1)
	s.Equal(cfg.Group, groups[0].Name)

	s.Require().NoError(feed.Close(s.ctx))

	groups, err = s.storage.Client().XInfoGroups(s.ctx, cfg.Stream).Result()
	s.Require().NoError(err)
	s.Empty(groups)
}

func (s *StorageSuite) TestCloseKeepsNamedGroup() {
	cfg := s.storage.cfg.ForInstance("api-1")
	feed := NewFeed(s.storage.Client(), cfg, testutil.NopLogger())

	s.createRound("round-1", "ABC123")
	_, err := feed.Read(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(feed.Close(s.ctx))

	// Unacked entries survive for the next process with the same ID
	restarted := NewFeed(s.storage.Client(), cfg, testutil.NopLogger())
	batch, err := restarted.Read(s.ctx)
	s.Require().NoError(err)
	s.Len(batch.Records, 2)
}
