package queue

import (
	"context"
	"log/slog"
	"time"

	"cohortd/internal/classifier"
	"cohortd/internal/config"
	"cohortd/internal/store"
)

// Consumer polls the queue on a fixed interval instead of continuously, so
// an idle queue costs one receive call per tick. Each cycle: resolve the
// endpoint, receive a bounded batch and, per message, parse, persist the
// raw record, classify, then acknowledge. A message that fails any step is
// left unacknowledged for redelivery without blocking the rest of the
// batch.
type Consumer struct {
	queue      Queue
	store      store.Store
	classifier *classifier.Classifier
	logger     *slog.Logger

	interval    time.Duration
	maxMessages int
	wait        time.Duration
}

func NewConsumer(q Queue, st store.Store, cl *classifier.Classifier, cfg config.QueueConfig, logger *slog.Logger) *Consumer {
	return &Consumer{
		queue:       q,
		store:       st,
		classifier:  cl,
		logger:      logger,
		interval:    cfg.PollInterval,
		maxMessages: cfg.MaxMessages,
		wait:        cfg.WaitTime,
	}
}

// Run polls until ctx is cancelled. Each cycle gets its own deadline so a
// hung downstream call cannot wedge the poller past the next tick.
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		cycleCtx, cancel := context.WithTimeout(ctx, c.interval+c.wait)
		c.PollOnce(cycleCtx)
		cancel()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// PollOnce runs a single poll cycle. Endpoint-resolution failures are
// expected during startup races and logged at debug to avoid alert
// fatigue.
func (c *Consumer) PollOnce(ctx context.Context) {
	if err := c.queue.EnsureQueue(ctx); err != nil {
		if c.logger != nil {
			c.logger.Debug("queue endpoint not available, skipping cycle", "err", err)
		}
		return
	}
	// Receive can fail after fetching part of a batch. The fetched messages
	// still get processed and acknowledged; dropping them here would leave
	// them tracked but never done, stalling the partition's commit position
	// until restart.
	msgs, err := c.queue.Receive(ctx, c.maxMessages, c.wait)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("queue receive failed", "received", len(msgs), "err", err)
		}
	}
	for _, msg := range msgs {
		if !c.processMessage(ctx, msg) {
			continue
		}
		if err := c.queue.Delete(ctx, msg); err != nil {
			if c.logger != nil {
				c.logger.Warn("message acknowledge failed, will be redelivered",
					"partition", msg.Partition, "offset", msg.Offset, "err", err)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg Message) bool {
	customer, err := ParsePayload(msg.Body)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("skipping malformed message",
				"partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
		return false
	}
	if c.store != nil {
		if err := c.store.SaveCustomer(ctx, *customer); err != nil {
			if c.logger != nil {
				c.logger.Warn("customer persist failed, leaving message for redelivery",
					"customer_id", customer.ID, "err", err)
			}
			return false
		}
	}
	cohorts := c.classifier.Classify(ctx, customer)
	if c.logger != nil {
		c.logger.Info("processed customer from queue",
			"customer_id", customer.ID, "cohort_types", cohorts)
	}
	return true
}
