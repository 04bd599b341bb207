// Package classifier applies the rule set to one customer snapshot and
// persists each matched membership fact. It is stateless between calls, so
// the queue poller, the stream poller and manual API triggers can all feed
// it concurrently and converge on the same membership.
package classifier

import (
	"context"
	"log/slog"

	"cohortd/internal/model"
	"cohortd/internal/rules"
	"cohortd/internal/store"
)

type Classifier struct {
	rules  *rules.Set
	store  store.Store
	logger *slog.Logger
}

func New(set *rules.Set, st store.Store, logger *slog.Logger) *Classifier {
	return &Classifier{rules: set, store: st, logger: logger}
}

func (c *Classifier) Rules() *rules.Set {
	return c.rules
}

// Classify evaluates the rule set and writes one membership fact per
// matched cohort type. A failed write is logged and does not block writes
// for the other matched types; the matched set is returned regardless.
// A nil customer yields an empty set, never an error.
func (c *Classifier) Classify(ctx context.Context, customer *model.Customer) []model.CohortType {
	matched := c.rules.Classify(customer)
	if customer == nil {
		return matched
	}
	for _, cohort := range matched {
		if c.store == nil {
			continue
		}
		if _, err := c.store.AddCustomerToCohort(ctx, cohort, customer.ID); err != nil {
			if c.logger != nil {
				c.logger.Error("membership write failed",
					"customer_id", customer.ID,
					"cohort_type", cohort,
					"err", err,
				)
			}
		}
	}
	return matched
}
