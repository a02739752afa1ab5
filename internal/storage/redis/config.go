package redis

import "time"

const groupPrefix = "roundsync-broadcast"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// RoundTTL bounds how long round data is kept after its last write
	RoundTTL time.Duration

	// MaxWatchRetries bounds the optimistic retry loop used to capture the
	// previous image of last-writer-wins entities
	MaxWatchRetries int

	// Change stream settings. Every server process reads through its own
	// consumer group so each one sees every record.
	Stream       string
	StreamMaxLen int64
	Group        string
	Consumer     string
	// StartID is where a newly created group begins reading: "$" for
	// records appended after creation, "0" for the whole stream
	StartID      string
	ReadCount    int64
	BlockTimeout time.Duration
	// DestroyGroupOnClose removes the group when the feed closes, for
	// instances whose identity does not survive a restart
	DestroyGroupOnClose bool
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:             "redis://localhost:6379",
		PoolSize:        10,
		MinIdleConns:    2,
		RoundTTL:        7 * 24 * time.Hour,
		MaxWatchRetries: 8,
		Stream:          changeStreamKey(),
		StreamMaxLen:    100_000,
		Group:           groupPrefix,
		Consumer:        "server",
		StartID:         "$",
		ReadCount:       64,
		BlockTimeout:    time.Second,
	}
}

// ForInstance scopes the consumer group to one server process
func (c Config) ForInstance(instanceID string) Config {
	c.Group = groupPrefix + ":" + instanceID
	c.Consumer = instanceID
	return c
}
