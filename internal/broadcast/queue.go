package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/roundsync/internal/model"
)

// RoundQueue is a Broadcaster that hands each event to a worker for its
// round and returns at once. Events of one round reach the next
// Broadcaster in the order they were queued. Rounds never wait on each
// other, so a round that is slow to deliver holds up only itself.
type RoundQueue struct {
	next   Broadcaster
	logger *slog.Logger

	mu sync.Mutex
	// A round has an entry while its worker runs; the value is its backlog
	lanes   map[model.RoundID][]func()
	workers sync.WaitGroup
}

// NewRoundQueue creates a RoundQueue in front of next
func NewRoundQueue(next Broadcaster, logger *slog.Logger) *RoundQueue {
	return &RoundQueue{
		next:   next,
		logger: logger.With(slog.String("component", "broadcast-queue")),
		lanes:  make(map[model.RoundID][]func()),
	}
}

var _ Broadcaster = (*RoundQueue)(nil)

func (q *RoundQueue) BroadcastPlayerJoined(ctx context.Context, e model.PlayerJoined) {
	q.enqueue(e.RoundID, func() { q.next.BroadcastPlayerJoined(ctx, e) })
}

func (q *RoundQueue) BroadcastPlayerUpdated(ctx context.Context, e model.PlayerUpdated) {
	q.enqueue(e.RoundID, func() { q.next.BroadcastPlayerUpdated(ctx, e) })
}

func (q *RoundQueue) BroadcastPlayerRemoved(ctx context.Context, e model.PlayerRemoved) {
	q.enqueue(e.RoundID, func() { q.next.BroadcastPlayerRemoved(ctx, e) })
}

func (q *RoundQueue) BroadcastScoreChanged(ctx context.Context, e model.ScoreChanged) {
	q.enqueue(e.RoundID, func() { q.next.BroadcastScoreChanged(ctx, e) })
}

func (q *RoundQueue) BroadcastRoundStateChanged(ctx context.Context, e model.RoundStateChanged) {
	q.enqueue(e.RoundID, func() { q.next.BroadcastRoundStateChanged(ctx, e) })
}

// Wait blocks until every queued event has been handed on. Callers stop
// queueing first.
func (q *RoundQueue) Wait() {
	q.workers.Wait()
}

// Backlog reports how many events wait behind the one in flight for roundID
func (q *RoundQueue) Backlog(roundID model.RoundID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[roundID])
}

func (q *RoundQueue) enqueue(roundID model.RoundID, job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if backlog, running := q.lanes[roundID]; running {
		q.lanes[roundID] = append(backlog, job)
		return
	}
	q.lanes[roundID] = nil
	q.workers.Add(1)
	go q.work(roundID, job)
}

func (q *RoundQueue) work(roundID model.RoundID, job func()) {
	defer q.workers.Done()
	for job != nil {
		q.run(roundID, job)

		q.mu.Lock()
		backlog := q.lanes[roundID]
		if len(backlog) == 0 {
			delete(q.lanes, roundID)
			job = nil
		} else {
			job = backlog[0]
			q.lanes[roundID] = backlog[1:]
		}
		q.mu.Unlock()
	}
}

// run keeps a panicking delivery from taking down the worker's later events
func (q *RoundQueue) run(roundID model.RoundID, job func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("broadcast panicked",
				slog.String("round_id", string(roundID)),
				slog.Any("panic", r),
			)
		}
	}()
	job()
}
