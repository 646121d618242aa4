package store

import (
	"time"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/paginate"
)

// Config holds configuration for the Store.
type Config struct {
	// NumShards is the number of partitions each parent's children are spread over.
	// Higher values increase write throughput per parent but fan children
	// queries out over more partitions.
	// Must not change once data has been written.
	// Default: 1 (single partition per parent)
	// Max: 256
	NumShards int

	// DefaultRetention is the soft-delete retention used when a delete does not specify one.
	// Default: 90 days
	DefaultRetention time.Duration

	// Page bounds page sizes for children and list operations.
	// Default: 25 / 100
	Page paginate.Limits

	// RetryAttempts is the number of retries for transient store failures
	// on single-record operations.
	// Default: 4
	RetryAttempts int

	// RetryBaseDelay is the first backoff delay. Default: 25ms
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps each backoff delay. Default: 1s
	RetryMaxDelay time.Duration

	// ConflictReplays bounds how often a tokenless read-modify-write is
	// replayed after losing a race to another writer.
	// Default: 8
	ConflictReplays int

	// CascadeConcurrency bounds sibling branches processed in parallel
	// per level of a cascade or descendant rewrite.
	// Default: 8
	CascadeConcurrency int
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		NumShards:          1,
		DefaultRetention:   90 * 24 * time.Hour,
		Page:               paginate.DefaultLimits(),
		RetryAttempts:      4,
		RetryBaseDelay:     25 * time.Millisecond,
		RetryMaxDelay:      time.Second,
		ConflictReplays:    8,
		CascadeConcurrency: 8,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > shard.MaxShards {
		c.NumShards = shard.MaxShards
	}
	if c.DefaultRetention <= 0 {
		c.DefaultRetention = d.DefaultRetention
	}
	if c.Page.DefaultSize < 1 {
		c.Page.DefaultSize = d.Page.DefaultSize
	}
	if c.Page.MaxSize < 1 {
		c.Page.MaxSize = d.Page.MaxSize
	}
	if c.Page.DefaultSize > c.Page.MaxSize {
		c.Page.DefaultSize = c.Page.MaxSize
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	if c.ConflictReplays < 1 {
		c.ConflictReplays = d.ConflictReplays
	}
	if c.CascadeConcurrency < 1 {
		c.CascadeConcurrency = 1
	}
}
