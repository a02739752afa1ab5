package reducer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/roundsync/internal/model"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = NewStore(baseSnapshot())
	s.ctx = context.Background()
}

func (s *StoreSuite) TestRollbackRestoresVerbatim() {
	before := s.store.Snapshot()

	undo := s.store.ApplySpeculative(model.NewScoreChanged(model.Score{RoundID: "r1", PlayerID: "p1", HoleNumber: 1, Strokes: 2}, at))
	s.Equal(2, s.store.Snapshot().GetScore("p1", 1).Strokes)

	undo.Rollback()
	s.Equal(before, s.store.Snapshot())
}

func (s *StoreSuite) TestRollbackIsOnceOnly() {
	undo := s.store.ApplySpeculative(model.NewPlayerRemoved("r1", "p2", at))
	undo.Rollback()

	s.store.ApplyAuthoritative(model.NewPlayerRemoved("r1", "p1", at))
	undo.Rollback()

	s.Nil(s.store.Snapshot().GetPlayer("p1"))
	s.NotNil(s.store.Snapshot().GetPlayer("p2"))
}

func (s *StoreSuite) TestAuthoritativeOverwritesSpeculative() {
	s.store.ApplySpeculative(model.NewScoreChanged(model.Score{RoundID: "r1", PlayerID: "p2", HoleNumber: 2, Strokes: 3}, at))
	s.store.ApplyAuthoritative(model.NewScoreChanged(model.Score{RoundID: "r1", PlayerID: "p2", HoleNumber: 2, Strokes: 4, UpdatedBy: "p1"}, at))

	score := s.store.Snapshot().GetScore("p2", 2)
	s.Require().NotNil(score)
	s.Equal(4, score.Strokes)
	s.Equal(model.PlayerID("p1"), score.UpdatedBy)
	s.Len(s.store.Snapshot().Scores, 2)
}

func (s *StoreSuite) TestMutateRollsBackOnFailure() {
	before := s.store.Snapshot()
	callErr := errors.New("boom")

	var seenDuringCall model.Snapshot
	err := Mutate(s.ctx, s.store, model.NewPlayerUpdated(model.Player{RoundID: "r1", PlayerID: "p1", Name: "Speculative"}, at),
		func(context.Context) error {
			seenDuringCall = s.store.Snapshot()
			return callErr
		})

	s.ErrorIs(err, callErr)
	s.Equal("Speculative", seenDuringCall.GetPlayer("p1").Name)
	s.Equal(before, s.store.Snapshot())
}

func (s *StoreSuite) TestMutateKeepsSpeculativeOnSuccess() {
	err := Mutate(s.ctx, s.store, model.NewPlayerUpdated(model.Player{RoundID: "r1", PlayerID: "p1", Name: "Kept"}, at),
		func(context.Context) error { return nil })

	s.Require().NoError(err)
	s.Equal("Kept", s.store.Snapshot().GetPlayer("p1").Name)
}

func (s *StoreSuite) TestOnChangeNotified() {
	var names []string
	s.store.OnChange(func(snap model.Snapshot) {
		names = append(names, snap.GetPlayer("p1").Name)
	})

	undo := s.store.ApplySpeculative(model.NewPlayerUpdated(model.Player{RoundID: "r1", PlayerID: "p1", Name: "A2"}, at))
	undo.Rollback()

	s.Equal([]string{"A2", "Alice"}, names)
}

func (s *StoreSuite) TestListenersSeeChangesInApplyOrder() {
	rename := func(name string) model.DomainEvent {
		return model.NewPlayerUpdated(model.Player{RoundID: "r1", PlayerID: "p1", Name: name}, at)
	}

	// The first listener applies a follow-up change while A2 is being delivered
	s.store.OnChange(func(snap model.Snapshot) {
		if snap.GetPlayer("p1").Name == "A2" {
			s.store.ApplyAuthoritative(rename("A3"))
		}
	})
	var names []string
	s.store.OnChange(func(snap model.Snapshot) {
		names = append(names, snap.GetPlayer("p1").Name)
	})

	s.store.ApplyAuthoritative(rename("A2"))

	s.Equal([]string{"A2", "A3"}, names)
	s.Equal("A3", s.store.Snapshot().GetPlayer("p1").Name)
}

func (s *StoreSuite) TestLastNotificationMatchesFinalSnapshot() {
	var (
		mu   sync.Mutex
		last string
		seen int
	)
	s.store.OnChange(func(snap model.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		last = snap.GetPlayer("p1").Name
		seen++
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.store.ApplyAuthoritative(model.NewPlayerUpdated(model.Player{RoundID: "r1", PlayerID: "p1", Name: fmt.Sprintf("n%d", i)}, at))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	s.Equal(50, seen)
	s.Equal(s.store.Snapshot().GetPlayer("p1").Name, last)
}
