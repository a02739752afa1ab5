package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/roundsync/internal/storage"
)

// Feed reads change records from the Redis stream through a consumer group.
// Groups are per instance, so every server process receives every record.
// Each Read first re-reads this consumer's pending (delivered but not
// acknowledged) entries, so a batch that is never acked is delivered again,
// including after a restart.
type Feed struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	groupCreated bool
}

// NewFeed creates a change feed over the configured stream and group
func NewFeed(client *redis.Client, cfg Config, logger *slog.Logger) *Feed {
	return &Feed{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "redis-feed")),
	}
}

// Ensure Feed implements the interface
var _ storage.ChangeFeed = (*Feed)(nil)

// Read blocks until at least one entry is available or ctx is done
func (f *Feed) Read(ctx context.Context) (storage.Batch, error) {
	if err := f.ensureGroup(ctx); err != nil {
		return storage.Batch{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return storage.Batch{}, err
		}

		// Pending entries first, then new ones
		batch, ok, err := f.read(ctx, "0", -1)
		if err != nil {
			return storage.Batch{}, err
		}
		if ok {
			return batch, nil
		}

		batch, ok, err = f.read(ctx, ">", f.cfg.BlockTimeout)
		if err != nil {
			return storage.Batch{}, err
		}
		if ok {
			return batch, nil
		}
	}
}

func (f *Feed) read(ctx context.Context, id string, block time.Duration) (storage.Batch, bool, error) {
	streams, err := f.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.cfg.Group,
		Consumer: f.cfg.Consumer,
		Streams:  []string{f.cfg.Stream, id},
		Count:    f.cfg.ReadCount,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return storage.Batch{}, false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return storage.Batch{}, false, ctxErr
		}
		return storage.Batch{}, false, fmt.Errorf("read change stream: %w", err)
	}

	var ids []string
	var records []storage.ChangeRecord
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			ids = append(ids, msg.ID)
			rec, err := decodeMessage(msg)
			if err != nil {
				// Undecodable entries are acked with the batch so they are not redelivered forever
				f.logger.Warn("dropping malformed change entry",
					slog.String("id", msg.ID),
					slog.Any("error", err),
				)
				continue
			}
			records = append(records, rec)
		}
	}
	if len(ids) == 0 {
		return storage.Batch{}, false, nil
	}

	return storage.Batch{
		Records: records,
		Ack: func(ctx context.Context) error {
			return f.client.XAck(ctx, f.cfg.Stream, f.cfg.Group, ids...).Err()
		},
	}, true, nil
}

func (f *Feed) ensureGroup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groupCreated {
		return nil
	}

	startID := f.cfg.StartID
	if startID == "" {
		startID = "$"
	}
	err := f.client.XGroupCreateMkStream(ctx, f.cfg.Stream, f.cfg.Group, startID).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", f.cfg.Group, err)
	}
	f.groupCreated = true
	return nil
}

// Close destroys the consumer group when the config asks for it.
// Unacknowledged entries of a destroyed group are lost.
func (f *Feed) Close(ctx context.Context) error {
	if !f.cfg.DestroyGroupOnClose {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.groupCreated {
		return nil
	}
	if err := f.client.XGroupDestroy(ctx, f.cfg.Stream, f.cfg.Group).Err(); err != nil {
		return fmt.Errorf("destroy consumer group %s: %w", f.cfg.Group, err)
	}
	f.groupCreated = false
	f.logger.Info("destroyed consumer group", slog.String("group", f.cfg.Group))
	return nil
}

func decodeMessage(msg redis.XMessage) (storage.ChangeRecord, error) {
	raw, ok := msg.Values[recordField].(string)
	if !ok {
		return storage.ChangeRecord{}, fmt.Errorf("entry has no %q field", recordField)
	}
	var rec storage.ChangeRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return storage.ChangeRecord{}, err
	}
	return rec, nil
}
