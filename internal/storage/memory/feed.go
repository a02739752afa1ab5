package memory

import (
	"context"
	"sync"

	"github.com/mcoot/roundsync/internal/storage"
)

// DefaultMaxBatch is the largest batch a Feed hands out by default
const DefaultMaxBatch = 64

// Feed is an in-process change feed. Records stay queued until the batch
// that delivered them is acknowledged, so an unacknowledged batch is handed
// out again on the next Read.
type Feed struct {
	mu       sync.Mutex
	log      []sequenced
	nextSeq  uint64
	maxBatch int
	notify   chan struct{}
}

type sequenced struct {
	seq    uint64
	record storage.ChangeRecord
}

// NewFeed creates an empty feed
func NewFeed(maxBatch int) *Feed {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Feed{
		maxBatch: maxBatch,
		notify:   make(chan struct{}, 1),
	}
}

// Ensure Feed implements the interface
var _ storage.ChangeFeed = (*Feed)(nil)

// Publish appends a record to the feed
func (f *Feed) Publish(rec storage.ChangeRecord) {
	f.mu.Lock()
	f.log = append(f.log, sequenced{seq: f.nextSeq, record: rec})
	f.nextSeq++
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of unacknowledged records
func (f *Feed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.log)
}

// Read blocks until at least one record is queued or ctx is done
func (f *Feed) Read(ctx context.Context) (storage.Batch, error) {
	for {
		f.mu.Lock()
		if len(f.log) > 0 {
			n := min(len(f.log), f.maxBatch)
			records := make([]storage.ChangeRecord, n)
			for i := range n {
				records[i] = f.log[i].record
			}
			last := f.log[n-1].seq
			f.mu.Unlock()
			return storage.Batch{
				Records: records,
				Ack: func(context.Context) error {
					f.ack(last)
					return nil
				},
			}, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return storage.Batch{}, ctx.Err()
		case <-f.notify:
		}
	}
}

// ack drops every queued record up to and including seq
func (f *Feed) ack(seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := 0
	for i < len(f.log) && f.log[i].seq <= seq {
		i++
	}
	f.log = f.log[i:]
}
