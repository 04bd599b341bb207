// Package scan is the table-scan fallback ingestion path: it periodically
// lists every stored customer and reclassifies the ones not seen within
// the dedup window. It exists for deployments without a usable change
// feed; when the stream consumer runs, this poller only adds redundant
// idempotent work.
package scan

import (
	"context"
	"log/slog"
	"time"

	"cohortd/internal/classifier"
	"cohortd/internal/config"
	"cohortd/internal/store"
)

type Scanner struct {
	store      store.Store
	classifier *classifier.Classifier
	window     *Window
	logger     *slog.Logger
	interval   time.Duration
}

func NewScanner(st store.Store, cl *classifier.Classifier, cfg config.ScanConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:      st,
		classifier: cl,
		window:     NewWindow(cfg.DedupWindow),
		logger:     logger,
		interval:   cfg.PollInterval,
	}
}

func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		cycleCtx, cancel := context.WithTimeout(ctx, s.interval*2)
		s.PollOnce(cycleCtx)
		cancel()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scanner) PollOnce(ctx context.Context) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("customer scan failed", "err", err)
		}
		return
	}
	now := time.Now().UTC()
	for _, customer := range customers {
		if !s.window.ShouldProcess(customer.ID, now) {
			continue
		}
		customer := customer
		cohorts := s.classifier.Classify(ctx, &customer)
		if s.logger != nil {
			s.logger.Info("processed customer from scan",
				"customer_id", customer.ID, "cohort_types", cohorts)
		}
	}
}
