package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"cohortd/internal/config"
	"cohortd/internal/model"
)

// FromConfig builds the rule list from configuration. Disabled or empty
// configuration falls back to DefaultRules; an invalid entry is logged and
// skipped without discarding the rest.
func FromConfig(cfg config.RulesConfig, logger *slog.Logger) []Rule {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("rule configuration disabled, using default rules")
		}
		return DefaultRules()
	}
	out := make([]Rule, 0, len(cfg.Configurations))
	for _, rc := range cfg.Configurations {
		rule, err := FromRuleConfig(rc)
		if err != nil {
			if logger != nil {
				logger.Error("skipping invalid rule configuration", "type", rc.Type, "err", err)
			}
			continue
		}
		if logger != nil {
			logger.Info("created rule", "rule", rule.Name, "cohort_type", rule.Cohort)
		}
		out = append(out, rule)
	}
	if len(out) == 0 {
		if logger != nil {
			logger.Warn("no valid rules in configuration, using default rules")
		}
		return DefaultRules()
	}
	return out
}

// FromRuleConfig builds a single rule from one configuration entry.
func FromRuleConfig(rc config.RuleConfig) (Rule, error) {
	cohort, cohortErr := model.ParseCohortType(rc.CohortType)

	switch strings.ToLower(strings.TrimSpace(rc.Type)) {
	case "daily-spend":
		if rc.MaxThreshold == nil {
			return NewDailySpendRule(DefaultDailySpendThreshold), nil
		}
		return NewDailySpendRule(*rc.MaxThreshold), nil
	case "mid-spend":
		if rc.CohortType == "" {
			return NewMidSpendRule(model.CohortNormal), nil
		}
		if cohortErr != nil {
			return Rule{}, cohortErr
		}
		return NewMidSpendRule(cohort), nil
	case "custom-rule":
		if rc.CohortType == "" {
			return Rule{}, fmt.Errorf("cohort_type is required for custom rules")
		}
		if cohortErr != nil {
			return Rule{}, cohortErr
		}
		requirePaid := rc.RequirePaidUser != nil && *rc.RequirePaidUser
		return NewCustomRule(cohort, rc.MinThreshold, rc.MaxThreshold, requirePaid), nil
	}
	return Rule{}, fmt.Errorf("unknown rule type: %q", rc.Type)
}
