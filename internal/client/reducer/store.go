package reducer

import (
	"context"
	"sync"

	"github.com/mcoot/roundsync/internal/model"
)

// Store holds a client's local snapshot and applies speculative and
// authoritative events to it. Safe for concurrent use.
//
// Every change queues its resulting snapshot under mu, and one goroutine at
// a time drains the queue, so listeners see snapshots in the order the
// changes were applied.
type Store struct {
	mu        sync.RWMutex
	snap      model.Snapshot
	onChange  []func(model.Snapshot)
	pending   []model.Snapshot
	notifying bool
}

// NewStore creates a Store seeded with snap
func NewStore(snap model.Snapshot) *Store {
	return &Store{snap: snap.Clone()}
}

// Snapshot returns the current local snapshot
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Replace swaps in a freshly fetched snapshot, e.g. after a reconnect
func (s *Store) Replace(snap model.Snapshot) {
	s.set(snap.Clone())
}

// OnChange registers fn to be called with each new snapshot
func (s *Store) OnChange(fn func(model.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// ApplyAuthoritative applies an event received from the server
func (s *Store) ApplyAuthoritative(event model.DomainEvent) {
	s.mu.Lock()
	s.commit(Reduce(s.snap, event))
	s.mu.Unlock()
	s.flush()
}

// Undo restores the snapshot that preceded a speculative apply
type Undo struct {
	store  *Store
	before model.Snapshot

	once sync.Once
}

// ApplySpeculative applies an event synthesized locally ahead of server
// confirmation and returns a token that can undo it
func (s *Store) ApplySpeculative(event model.DomainEvent) *Undo {
	s.mu.Lock()
	before := s.snap
	s.commit(Reduce(before, event))
	s.mu.Unlock()
	s.flush()
	return &Undo{store: s, before: before}
}

// Rollback restores the retained snapshot verbatim. Only the first call
// has an effect.
func (u *Undo) Rollback() {
	u.once.Do(func() {
		u.store.set(u.before)
	})
}

func (s *Store) set(snap model.Snapshot) {
	s.mu.Lock()
	s.commit(snap)
	s.mu.Unlock()
	s.flush()
}

// commit installs snap and queues it for listeners. Caller holds mu.
func (s *Store) commit(snap model.Snapshot) {
	s.snap = snap
	if len(s.onChange) > 0 {
		s.pending = append(s.pending, snap)
	}
}

// flush delivers queued snapshots unless a delivery is already running, in
// which case that one picks them up
func (s *Store) flush() {
	s.mu.Lock()
	if s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	for len(s.pending) > 0 {
		snap := s.pending[0]
		s.pending = s.pending[1:]
		listeners := s.onChange
		s.mu.Unlock()
		for _, fn := range listeners {
			fn(snap.Clone())
		}
		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

// Mutate applies event speculatively, runs call, and rolls back if call
// fails. The authoritative event arriving later overwrites the speculative
// value either way.
func Mutate(ctx context.Context, store *Store, event model.DomainEvent, call func(ctx context.Context) error) error {
	undo := store.ApplySpeculative(event)
	if err := call(ctx); err != nil {
		undo.Rollback()
		return err
	}
	return nil
}
