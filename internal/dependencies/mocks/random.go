package mocks

import (
	"sync"

	"github.com/mcoot/roundsync/internal/dependencies/random"
)

// MockRandom is a mock implementation of Random for testing. Results are
// served from queues; an exhausted queue yields the zero value.
// Safe for use from timer callbacks.
type MockRandom struct {
	mu sync.Mutex

	int63Results []int64
	strResults   []string

	// Int63nCalls records the bound passed to each Int63n call
	Int63nCalls []int64
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// Int63n returns the next queued result, or 0 if none remaining
func (r *MockRandom) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Int63nCalls = append(r.Int63nCalls, n)
	return pop(&r.int63Results)
}

// String returns the next queued result, or empty string if none remaining
func (r *MockRandom) String(int, string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(&r.strResults)
}

// QueueInt63n adds values to the Int63n result queue
func (r *MockRandom) QueueInt63n(values ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.int63Results = append(r.int63Results, values...)
}

// QueueString adds values to the String result queue
func (r *MockRandom) QueueString(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strResults = append(r.strResults, values...)
}

func pop[T any](queue *[]T) T {
	var zero T
	if len(*queue) == 0 {
		return zero
	}
	v := (*queue)[0]
	*queue = (*queue)[1:]
	return v
}
