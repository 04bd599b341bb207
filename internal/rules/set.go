package rules

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"cohortd/internal/model"
)

// Set is an ordered, append-only collection of rules. The rule list is held
// in an atomic snapshot so classification reads never observe a partial
// append; Add is serialized by a mutex and is expected to be rare.
type Set struct {
	logger *slog.Logger
	mu     sync.Mutex
	rules  atomic.Value // []Rule
}

func NewSet(logger *slog.Logger, rules ...Rule) *Set {
	s := &Set{logger: logger}
	snapshot := make([]Rule, len(rules))
	copy(snapshot, rules)
	s.rules.Store(snapshot)
	return s
}

// Rules returns the current snapshot. Callers must not modify it.
func (s *Set) Rules() []Rule {
	if v := s.rules.Load(); v != nil {
		return v.([]Rule)
	}
	return nil
}

// Add appends a rule. Concurrent Classify calls see either the old or the
// new list, never an intermediate state.
func (s *Set) Add(rule Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.Rules()
	next := make([]Rule, len(current)+1)
	copy(next, current)
	next[len(current)] = rule
	s.rules.Store(next)
	if s.logger != nil {
		s.logger.Info("rule added", "rule", rule.Name, "cohort_type", rule.Cohort)
	}
}

// Classify evaluates every rule in insertion order against the customer and
// returns the sorted set of matched cohort types. A rule that panics is
// logged and skipped; the remaining rules still run. A nil customer yields
// an empty set.
func (s *Set) Classify(customer *model.Customer) []model.CohortType {
	if customer == nil {
		if s.logger != nil {
			s.logger.Warn("cannot classify nil customer")
		}
		return nil
	}
	seen := make(map[model.CohortType]bool)
	for _, rule := range s.Rules() {
		if s.eval(rule, *customer) {
			seen[rule.Cohort] = true
		}
	}
	out := make([]model.CohortType, 0, len(seen))
	for ct := range seen {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Set) eval(rule Rule, customer model.Customer) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			if s.logger != nil {
				s.logger.Error("rule evaluation failed",
					"rule", rule.Name,
					"customer_id", customer.ID,
					"err", r,
				)
			}
		}
	}()
	if rule.Match == nil {
		return false
	}
	return rule.Match(customer)
}
