package factory

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/roundsync/internal/broadcast"
	"github.com/mcoot/roundsync/internal/dependencies/mocks"
	"github.com/mcoot/roundsync/internal/realtime"
	"github.com/mcoot/roundsync/internal/services/auth"
	"github.com/mcoot/roundsync/internal/storage/memory"
	"github.com/mcoot/roundsync/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *clockwork.FakeClock
	MockRandom *mocks.MockRandom
	Memory     *memory.Storage
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// Broadcasts do not wait for late subscribers.
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	broadcastCfg := broadcast.DefaultConfig()
	broadcastCfg.EmptyRetryDelay = 0

	app := newWithDependencies(dependencies{
		store:     store,
		feed:      store.Changes(),
		clock:     mockClock,
		random:    mockRandom,
		logger:    testutil.NopLogger(),
		auth:      auth.DefaultConfig(),
		broadcast: broadcastCfg,
		realtime:  realtime.DefaultConfig(),
	})

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		Memory:     store,
	}
}
