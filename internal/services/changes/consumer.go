package changes

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/roundsync/internal/metrics"
	"github.com/mcoot/roundsync/internal/storage"
)

// DefaultRetryDelay is how long the consumer waits after a failed read
const DefaultRetryDelay = time.Second

// Consumer pulls batches from a change feed, processes them and
// acknowledges them. A batch is acknowledged only after every record in it
// has been processed, so a crash mid-batch leads to redelivery.
type Consumer struct {
	feed       storage.ChangeFeed
	processor  *Processor
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
	retryDelay time.Duration
}

// NewConsumer creates a Consumer
func NewConsumer(feed storage.ChangeFeed, processor *Processor, clock clockwork.Clock, logger *slog.Logger, metrics *metrics.Metrics, retryDelay time.Duration) *Consumer {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Consumer{
		feed:       feed,
		processor:  processor,
		clock:      clock,
		logger:     logger.With(slog.String("component", "change-consumer")),
		metrics:    metrics,
		retryDelay: retryDelay,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("change consumer started")
	defer c.logger.Info("change consumer stopped")

	for {
		batch, err := c.feed.Read(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Error("failed to read change feed", slog.Any("error", err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		c.handle(ctx, batch)
	}
}

func (c *Consumer) handle(ctx context.Context, batch storage.Batch) {
	result := c.processor.ProcessBatch(ctx, batch.Records)
	c.metrics.FeedBatchesTotal.Inc()

	if batch.Ack == nil {
		return
	}
	// Ack even on shutdown so a fully processed batch is not redelivered
	if err := batch.Ack(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("failed to acknowledge change batch",
			slog.Int("records", len(batch.Records)),
			slog.Any("error", err),
		)
		return
	}

	c.logger.Debug("processed change batch",
		slog.Int("emitted", result.Emitted),
		slog.Int("suppressed", result.Suppressed),
		slog.Int("failed", result.Failed),
	)
}

// sleep waits out the retry delay, returning false if ctx ends first
func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(c.retryDelay):
		return true
	}
}

