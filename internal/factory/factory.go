package factory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcoot/roundsync/internal/broadcast"
	"github.com/mcoot/roundsync/internal/dependencies/random"
	"github.com/mcoot/roundsync/internal/metrics"
	"github.com/mcoot/roundsync/internal/realtime"
	"github.com/mcoot/roundsync/internal/services/auth"
	"github.com/mcoot/roundsync/internal/services/changes"
	"github.com/mcoot/roundsync/internal/services/round"
	"github.com/mcoot/roundsync/internal/storage"
	"github.com/mcoot/roundsync/internal/storage/memory"
	redisstorage "github.com/mcoot/roundsync/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

const closeTimeout = 5 * time.Second

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Repository
	Feed    storage.ChangeFeed

	// External dependencies
	Clock  clockwork.Clock
	Random random.Random

	// Observability
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Mutation path
	AuthService  *auth.Service
	RoundService *round.Service

	// Change derivation and broadcast path
	Realtime   *realtime.Registry
	Fanout     *broadcast.Fanout
	Queue      *broadcast.RoundQueue
	Dispatcher *broadcast.Dispatcher
	Processor  *changes.Processor
	Consumer   *changes.Consumer

	closers []func() error
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// AuthConfig holds configuration for the auth service (optional)
	// If zero value, defaults to auth.DefaultConfig()
	AuthConfig auth.Config
	// BroadcastConfig holds fan-out settings (optional)
	BroadcastConfig *broadcast.Config
	// RealtimeConfig holds WebSocket settings (optional)
	RealtimeConfig *realtime.Config
}

// dependencies are the pieces New chooses and tests replace
type dependencies struct {
	store     storage.Repository
	feed      storage.ChangeFeed
	clock     clockwork.Clock
	random    random.Random
	logger    *slog.Logger
	auth      auth.Config
	broadcast broadcast.Config
	realtime  realtime.Config
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	deps := dependencies{
		clock:     clockwork.NewRealClock(),
		random:    random.New(),
		logger:    logger,
		auth:      cfg.AuthConfig,
		broadcast: broadcast.DefaultConfig(),
		realtime:  realtime.DefaultConfig(),
	}
	if cfg.BroadcastConfig != nil {
		deps.broadcast = *cfg.BroadcastConfig
	}
	if cfg.RealtimeConfig != nil {
		deps.realtime = *cfg.RealtimeConfig
	}

	// Create storage based on type
	var closers []func() error
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		store := memory.New()
		deps.store = store
		deps.feed = store.Changes()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		store, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		feed := redisstorage.NewFeed(store.Client(), *cfg.RedisConfig, logger)
		deps.store = store
		deps.feed = feed
		// The group goes before the client it needs
		closers = append(closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			return feed.Close(ctx)
		}, store.Close)
	default:
		return nil, errors.New("invalid StorageType: must be 'memory' or 'redis'")
	}

	app := newWithDependencies(deps)
	app.closers = closers
	return app, nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(deps dependencies) *App {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	authService := auth.New(deps.store, deps.clock, deps.logger, deps.auth)
	roundService := round.New(deps.store, authService, deps.clock, deps.random, deps.logger, m)

	registry := realtime.NewRegistry(deps.realtime, deps.clock, deps.logger, m)
	fanout := broadcast.NewFanout(registry, deps.clock, deps.logger, m, deps.broadcast)
	queue := broadcast.NewRoundQueue(fanout, deps.logger)
	dispatcher := broadcast.NewDispatcher(queue)
	processor := changes.NewProcessor(changes.NewDeriver(deps.clock), dispatcher, deps.logger, m)
	consumer := changes.NewConsumer(deps.feed, processor, deps.clock, deps.logger, m, changes.DefaultRetryDelay)

	return &App{
		Storage:      deps.store,
		Feed:         deps.feed,
		Clock:        deps.clock,
		Random:       deps.random,
		Metrics:      m,
		Registry:     reg,
		AuthService:  authService,
		RoundService: roundService,
		Realtime:     registry,
		Fanout:       fanout,
		Queue:        queue,
		Dispatcher:   dispatcher,
		Processor:    processor,
		Consumer:     consumer,
	}
}

// Close releases storage connections
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
