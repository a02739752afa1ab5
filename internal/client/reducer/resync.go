package reducer

import (
	"sync"

	"github.com/mcoot/roundsync/internal/model"
)

// Resync refetches a round without losing events that arrive during the
// fetch. Between Begin and Finish, events passed to Apply are held; Finish
// installs the fetched snapshot and applies the held events on top of it.
//
// Store listeners must not call back into the Resync.
type Resync struct {
	store *Store

	mu     sync.Mutex
	epoch  uint64
	active bool
	held   []model.DomainEvent
}

// NewResync creates a Resync feeding store
func NewResync(store *Store) *Resync {
	return &Resync{store: store}
}

// Begin starts holding events and returns the epoch to pass to Finish or
// Abandon. A later Begin supersedes any fetch still running; events held so
// far stay held for the new one.
func (r *Resync) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.active = true
	return r.epoch
}

// Apply hands an authoritative event to the store, or holds it while a
// fetch is running
func (r *Resync) Apply(event model.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		r.held = append(r.held, event)
		return
	}
	r.store.ApplyAuthoritative(event)
}

// Finish replaces the store's snapshot with snap and applies the held
// events. State changes older than snap's state are skipped. It reports
// false and changes nothing when epoch has been superseded.
func (r *Resync) Finish(epoch uint64, snap model.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || epoch != r.epoch {
		return false
	}
	r.store.Replace(snap)
	for _, e := range r.held {
		if sc, ok := e.(model.RoundStateChanged); ok && sc.State.StateVersion < snap.State.StateVersion {
			continue
		}
		r.store.ApplyAuthoritative(e)
	}
	r.release()
	return true
}

// Abandon ends a failed fetch, applying the held events to the current
// snapshot
func (r *Resync) Abandon(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || epoch != r.epoch {
		return
	}
	for _, e := range r.held {
		r.store.ApplyAuthoritative(e)
	}
	r.release()
}

// Holding reports whether a fetch is running
func (r *Resync) Holding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Resync) release() {
	r.held = nil
	r.active = false
}
