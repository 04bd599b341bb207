package rules

import (
	"fmt"

	"cohortd/internal/model"
)

// Default bounds reproduced for compatibility with existing deployments.
const (
	DefaultDailySpendThreshold = 5000.0
	MidSpendMinThreshold       = 3000.0
	MidSpendMaxThreshold       = 5000.0
)

// Rule is a named pure predicate over a customer snapshot plus the cohort
// type it assigns on match. Rules are stateless; Match must never mutate
// its argument and must return false for fields it depends on that are
// missing.
type Rule struct {
	Name   string
	Cohort model.CohortType
	Match  func(model.Customer) bool
}

// NewDailySpendRule matches customers whose daily spend is strictly above
// the threshold and assigns PREMIUM. The boundary value does not match.
func NewDailySpendRule(threshold float64) Rule {
	return Rule{
		Name:   "DailySpend",
		Cohort: model.CohortPremium,
		Match: func(c model.Customer) bool {
			if c.DailySpend == nil {
				return false
			}
			return *c.DailySpend > threshold
		},
	}
}

// NewMidSpendRule matches daily spend strictly between 3000 and 5000. The
// PREMIUM variant additionally requires a PAID user; any other cohort type
// ignores the user type.
func NewMidSpendRule(cohort model.CohortType) Rule {
	return Rule{
		Name:   "MidSpend",
		Cohort: cohort,
		Match: func(c model.Customer) bool {
			if c.DailySpend == nil {
				return false
			}
			spend := *c.DailySpend
			if spend <= MidSpendMinThreshold || spend >= MidSpendMaxThreshold {
				return false
			}
			if cohort == model.CohortPremium {
				return c.UserType == model.UserPaid
			}
			return true
		},
	}
}

// NewCustomRule generalizes the range rule: each bound is only checked when
// set, and the PAID requirement is only checked when requirePaid is true.
// A rule with a bound set returns false for a customer with no recorded
// spend.
func NewCustomRule(cohort model.CohortType, minThreshold, maxThreshold *float64, requirePaid bool) Rule {
	return Rule{
		Name:   fmt.Sprintf("CustomRule-%s", cohort),
		Cohort: cohort,
		Match: func(c model.Customer) bool {
			if minThreshold != nil || maxThreshold != nil {
				if c.DailySpend == nil {
					return false
				}
				if minThreshold != nil && *c.DailySpend < *minThreshold {
					return false
				}
				if maxThreshold != nil && *c.DailySpend > *maxThreshold {
					return false
				}
			}
			if requirePaid && c.UserType != model.UserPaid {
				return false
			}
			return true
		},
	}
}

// DefaultRules is the rule set used when no configuration is supplied.
func DefaultRules() []Rule {
	return []Rule{
		NewDailySpendRule(DefaultDailySpendThreshold),
		NewMidSpendRule(model.CohortNormal),
		NewMidSpendRule(model.CohortPremium),
	}
}
