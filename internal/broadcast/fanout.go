package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/roundsync/internal/metrics"
	"github.com/mcoot/roundsync/internal/model"
)

// ErrTargetUnreachable is returned by Transport.Send when the endpoint is
// gone for good and should be deregistered
var ErrTargetUnreachable = errors.New("target unreachable")

// Transport reaches the subscribers of a round
type Transport interface {
	ListActiveEndpoints(ctx context.Context, roundID model.RoundID) ([]model.Subscriber, error)
	Send(ctx context.Context, endpoint model.Subscriber, payload []byte) error
	Deregister(ctx context.Context, roundID model.RoundID, connectionID model.ConnectionID) error
}

// Config holds fan-out settings
type Config struct {
	// EmptyRetryDelay is how long to wait before listing subscribers a
	// second time when the first listing is empty
	EmptyRetryDelay time.Duration

	// MaxParallelSends bounds concurrent sends for one broadcast
	MaxParallelSends int

	// DeregisterTimeout bounds each asynchronous deregistration
	DeregisterTimeout time.Duration
}

// DefaultConfig returns default fan-out settings
func DefaultConfig() Config {
	return Config{
		EmptyRetryDelay:   150 * time.Millisecond,
		MaxParallelSends:  32,
		DeregisterTimeout: 5 * time.Second,
	}
}

// Fanout delivers payloads to every subscriber of a round, best effort.
// It never reports delivery failures to its caller.
type Fanout struct {
	transport Transport
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config

	pending sync.WaitGroup
}

// NewFanout creates a Fanout
func NewFanout(transport Transport, clock clockwork.Clock, logger *slog.Logger, metrics *metrics.Metrics, cfg Config) *Fanout {
	if cfg.MaxParallelSends <= 0 {
		cfg.MaxParallelSends = DefaultConfig().MaxParallelSends
	}
	if cfg.DeregisterTimeout <= 0 {
		cfg.DeregisterTimeout = DefaultConfig().DeregisterTimeout
	}
	return &Fanout{
		transport: transport,
		clock:     clock,
		logger:    logger.With(slog.String("component", "fanout")),
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Ensure Fanout implements Broadcaster
var _ Broadcaster = (*Fanout)(nil)

func (f *Fanout) BroadcastPlayerJoined(ctx context.Context, e model.PlayerJoined) {
	f.Broadcast(ctx, e.RoundID, e)
}

func (f *Fanout) BroadcastPlayerUpdated(ctx context.Context, e model.PlayerUpdated) {
	f.Broadcast(ctx, e.RoundID, e)
}

func (f *Fanout) BroadcastPlayerRemoved(ctx context.Context, e model.PlayerRemoved) {
	f.Broadcast(ctx, e.RoundID, e)
}

func (f *Fanout) BroadcastScoreChanged(ctx context.Context, e model.ScoreChanged) {
	f.Broadcast(ctx, e.RoundID, e)
}

func (f *Fanout) BroadcastRoundStateChanged(ctx context.Context, e model.RoundStateChanged) {
	f.Broadcast(ctx, e.RoundID, e)
}

// Broadcast serializes payload once and sends it to every active
// subscriber of roundID concurrently. A subscriber that reports
// ErrTargetUnreachable is deregistered in the background.
func (f *Fanout) Broadcast(ctx context.Context, roundID model.RoundID, payload any) {
	start := f.clock.Now()
	logger := f.logger.With(slog.String("round_id", string(roundID)))

	endpoints, err := f.listWithRetry(ctx, roundID)
	if err != nil {
		logger.Error("failed to list subscribers", slog.Any("error", err))
		return
	}
	if len(endpoints) == 0 {
		logger.Debug("no subscribers")
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to serialize broadcast payload", slog.Any("error", err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.MaxParallelSends)
	for _, ep := range endpoints {
		g.Go(func() error {
			f.send(gctx, logger, ep, data)
			return nil
		})
	}
	_ = g.Wait()

	f.metrics.BroadcastFanoutLatency.Observe(f.clock.Since(start).Seconds())
}

// Wait blocks until background deregistrations have finished
func (f *Fanout) Wait() {
	f.pending.Wait()
}

// listWithRetry lists subscribers, waiting once and listing again when the
// first result is empty. A client that just joined may not have finished
// subscribing yet.
func (f *Fanout) listWithRetry(ctx context.Context, roundID model.RoundID) ([]model.Subscriber, error) {
	endpoints, err := f.transport.ListActiveEndpoints(ctx, roundID)
	if err != nil || len(endpoints) > 0 || f.cfg.EmptyRetryDelay <= 0 {
		return endpoints, err
	}

	select {
	case <-ctx.Done():
		return nil, nil
	case <-f.clock.After(f.cfg.EmptyRetryDelay):
	}
	return f.transport.ListActiveEndpoints(ctx, roundID)
}

func (f *Fanout) send(ctx context.Context, logger *slog.Logger, ep model.Subscriber, data []byte) {
	err := f.transport.Send(ctx, ep, data)
	switch {
	case err == nil:
		f.metrics.BroadcastSendsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	case errors.Is(err, ErrTargetUnreachable):
		f.metrics.BroadcastSendsTotal.WithLabelValues(metrics.OutcomeUnreachable).Inc()
		logger.Info("subscriber unreachable, deregistering",
			slog.String("connection_id", string(ep.ConnectionID)),
		)
		f.deregisterAsync(ctx, ep)
	default:
		f.metrics.BroadcastSendsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		logger.Warn("failed to send to subscriber",
			slog.String("connection_id", string(ep.ConnectionID)),
			slog.Any("error", err),
		)
	}
}

func (f *Fanout) deregisterAsync(ctx context.Context, ep model.Subscriber) {
	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.DeregisterTimeout)
		defer cancel()

		if err := f.transport.Deregister(ctx, ep.RoundID, ep.ConnectionID); err != nil {
			f.logger.Warn("failed to deregister subscriber",
				slog.String("round_id", string(ep.RoundID)),
				slog.String("connection_id", string(ep.ConnectionID)),
				slog.Any("error", err),
			)
			return
		}
		f.metrics.PrunedEndpointsTotal.Inc()
	}()
}
