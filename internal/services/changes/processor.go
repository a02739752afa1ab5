package changes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcoot/roundsync/internal/metrics"
	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/storage"
)

// EventSink receives derived events. Implementations handle their own
// delivery failures.
type EventSink interface {
	Dispatch(ctx context.Context, event model.DomainEvent)
}

// BatchResult summarizes one ProcessBatch call
type BatchResult struct {
	Emitted    int
	Suppressed int
	Failed     int
}

// Processor derives and dispatches every record of a change batch
type Processor struct {
	deriver *Deriver
	sink    EventSink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProcessor creates a Processor
func NewProcessor(deriver *Deriver, sink EventSink, logger *slog.Logger, metrics *metrics.Metrics) *Processor {
	return &Processor{
		deriver: deriver,
		sink:    sink,
		logger:  logger.With(slog.String("component", "change-processor")),
		metrics: metrics,
	}
}

// ProcessBatch handles records in order. A record that fails is logged and
// skipped; the rest of the batch is still processed.
func (p *Processor) ProcessBatch(ctx context.Context, records []storage.ChangeRecord) BatchResult {
	var result BatchResult
	for _, rec := range records {
		emitted, err := p.process(ctx, rec)
		switch {
		case err != nil:
			result.Failed++
			p.metrics.ChangeRecordsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			p.logger.Error("failed to process change record",
				slog.String("round_id", string(rec.RoundID)),
				slog.String("key", rec.Key),
				slog.String("kind", string(rec.Kind)),
				slog.Any("error", err),
			)
		case emitted:
			result.Emitted++
			p.metrics.ChangeRecordsTotal.WithLabelValues(metrics.OutcomeEmitted).Inc()
		default:
			result.Suppressed++
			p.metrics.ChangeRecordsTotal.WithLabelValues(metrics.OutcomeSuppressed).Inc()
		}
	}
	return result
}

func (p *Processor) process(ctx context.Context, rec storage.ChangeRecord) (emitted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing record: %v", r)
		}
	}()

	event, err := p.deriver.Derive(rec)
	if err != nil || event == nil {
		return false, err
	}
	p.sink.Dispatch(ctx, event)
	return true, nil
}
