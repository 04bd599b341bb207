// Package stream consumes the customer change feed: it discovers shards,
// keeps a per-shard read cursor in process memory and feeds every created
// or updated post-image to the classifier. Cursors start at the trim
// horizon, so a restart reprocesses the feed's whole history; idempotent
// classification makes that safe.
package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cohortd/internal/classifier"
	"cohortd/internal/config"
	"cohortd/internal/model"
)

// Source is the change-feed contract consumed by the poller.
type Source interface {
	ListShards(ctx context.Context) ([]string, error)
	GetCursor(ctx context.Context, shardID string, position model.StreamPosition) (model.ShardCursor, error)
	Pull(ctx context.Context, cursor model.ShardCursor, limit int) ([]model.ChangeRecord, model.ShardCursor, error)
}

type State string

const (
	StateUninitialized State = "uninitialized"
	StateDiscovering   State = "discovering"
	StatePolling       State = "polling"
)

type Consumer struct {
	source     Source
	classifier *classifier.Classifier
	logger     *slog.Logger

	interval time.Duration
	limit    int
	backoff  time.Duration

	mu      sync.Mutex
	state   State
	cursors map[string]model.ShardCursor
}

func NewConsumer(src Source, cl *classifier.Classifier, cfg config.StreamConfig, logger *slog.Logger) *Consumer {
	return &Consumer{
		source:     src,
		classifier: cl,
		logger:     logger,
		interval:   cfg.PollInterval,
		limit:      cfg.BatchLimit,
		backoff:    cfg.DiscoverBackoff,
		state:      StateUninitialized,
		cursors:    make(map[string]model.ShardCursor),
	}
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run blocks until ctx is cancelled. Discovery retries with a fixed
// backoff while the change feed is not yet visible (startup ordering race
// with table creation), then the poll loop takes over. Discovery also
// re-runs every cycle so shards that appear later are picked up at their
// trim horizon.
func (c *Consumer) Run(ctx context.Context) {
	c.setState(StateDiscovering)
	for {
		if err := c.Discover(ctx); err == nil {
			break
		} else if c.logger != nil {
			c.logger.Warn("change feed not visible yet, retrying", "err", err)
		}
		if !BackoffSleep(ctx, c.backoff) {
			return
		}
	}
	c.setState(StatePolling)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		cycleCtx, cancel := context.WithTimeout(ctx, c.interval*2)
		if err := c.Discover(cycleCtx); err != nil && c.logger != nil {
			c.logger.Debug("shard re-discovery failed", "err", err)
		}
		c.PollOnce(cycleCtx)
		cancel()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Discover lists shards and initializes a trim-horizon cursor for any
// shard not yet tracked. Known cursors are never reset.
func (c *Consumer) Discover(ctx context.Context) error {
	shards, err := c.source.ListShards(ctx)
	if err != nil {
		return err
	}
	for _, shardID := range shards {
		c.mu.Lock()
		_, known := c.cursors[shardID]
		c.mu.Unlock()
		if known {
			continue
		}
		cursor, err := c.source.GetCursor(ctx, shardID, model.TrimHorizon)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("cursor init failed", "shard_id", shardID, "err", err)
			}
			continue
		}
		c.mu.Lock()
		c.cursors[shardID] = cursor
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Info("tracking shard", "shard_id", shardID)
		}
	}
	return nil
}

// PollOnce pulls one bounded batch from every tracked shard. The cursor
// always advances to the returned next position, even for an empty batch;
// a failed pull keeps the stored cursor so the next tick retries from the
// same place.
func (c *Consumer) PollOnce(ctx context.Context) {
	for _, shardID := range c.trackedShards() {
		c.mu.Lock()
		cursor := c.cursors[shardID]
		c.mu.Unlock()

		records, next, err := c.source.Pull(ctx, cursor, c.limit)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("shard pull failed, keeping cursor", "shard_id", shardID, "err", err)
			}
			continue
		}
		for _, rec := range records {
			c.processRecord(ctx, rec)
		}
		c.mu.Lock()
		c.cursors[shardID] = next
		c.mu.Unlock()
	}
}

// Cursors returns a snapshot of the tracked shard cursors.
func (c *Consumer) Cursors() map[string]model.ShardCursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]model.ShardCursor, len(c.cursors))
	for shardID, cursor := range c.cursors {
		out[shardID] = cursor
	}
	return out
}

func (c *Consumer) trackedShards() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.cursors))
	for shardID := range c.cursors {
		out = append(out, shardID)
	}
	sort.Strings(out)
	return out
}

// processRecord classifies the post-change image of a created or updated
// record. Any other change kind is ignored; a record with no usable image
// is skipped without discarding the rest of the batch.
func (c *Consumer) processRecord(ctx context.Context, rec model.ChangeRecord) {
	switch rec.Kind {
	case model.ChangeCreated, model.ChangeUpdated:
	default:
		if c.logger != nil {
			c.logger.Debug("ignoring change kind", "kind", rec.Kind, "seq", rec.Seq)
		}
		return
	}
	if rec.PostImage == nil || rec.PostImage.ID == "" {
		if c.logger != nil {
			c.logger.Warn("change record missing post image, skipping",
				"shard_id", rec.ShardID, "seq", rec.Seq)
		}
		return
	}
	cohorts := c.classifier.Classify(ctx, rec.PostImage)
	if c.logger != nil {
		c.logger.Info("processed customer from change feed",
			"customer_id", rec.PostImage.ID, "cohort_types", cohorts)
	}
}

// BackoffSleep waits d unless ctx is cancelled first.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
