package alerts

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"tidewatch/internal/config"
	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

// Comparator is the closed set of threshold comparisons a rule can use.
type Comparator int

const (
	GT Comparator = iota + 1
	LT
	GTE
	LTE
	EQ
)

var (
	ErrUnknownComparator = errors.New("unknown comparator")
	ErrEmptyMetric       = errors.New("rule metric cannot be empty")
	ErrInvalidThreshold  = errors.New("rule threshold must be finite")
)

// ParseComparator accepts the symbolic (">=") and named ("gte") spellings.
func ParseComparator(s string) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt":
		return GT, nil
	case "<", "lt":
		return LT, nil
	case ">=", "gte":
		return GTE, nil
	case "<=", "lte":
		return LTE, nil
	case "==", "=", "eq":
		return EQ, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownComparator, s)
	}
}

func (c Comparator) String() string {
	switch c {
	case GT:
		return ">"
	case LT:
		return "<"
	case GTE:
		return ">="
	case LTE:
		return "<="
	case EQ:
		return "=="
	default:
		return fmt.Sprintf("Comparator(%d)", int(c))
	}
}

// Valid reports whether c is one of the defined comparators.
func (c Comparator) Valid() bool {
	return c >= GT && c <= EQ
}

// Matches applies the comparison value <op> threshold.
func (c Comparator) Matches(value, threshold float64) bool {
	switch c {
	case GT:
		return value > threshold
	case LT:
		return value < threshold
	case GTE:
		return value >= threshold
	case LTE:
		return value <= threshold
	case EQ:
		return value == threshold
	default:
		return false
	}
}

// Rule is a static threshold condition on one metric.
type Rule struct {
	Name       string
	Metric     string
	Comparator Comparator
	Threshold  float64
	Severity   models.Severity
	// Message template; see DefaultMessage for placeholders
	Message string
}

// DefaultMessage is used for rules without a template.
const DefaultMessage = "{metric} {value} {comparator} {threshold} at sensor {sensor}"

// Validate checks the rule can be evaluated.
func (r Rule) Validate() error {
	if r.Metric == "" {
		return ErrEmptyMetric
	}
	if !r.Comparator.Valid() {
		return fmt.Errorf("%w %s", ErrUnknownComparator, r.Comparator)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return ErrInvalidThreshold
	}
	if !r.Severity.IsValid() {
		return models.ErrInvalidSeverity
	}
	return nil
}

// ID returns the rule name, or a synthesized one for unnamed rules.
func (r Rule) ID() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s%s%g", r.Metric, r.Comparator, r.Threshold)
}

// RulesFromConfig converts configured rules. Rules that cannot be parsed are
// logged and left out; the rest are returned in configuration order.
func RulesFromConfig(cfgs []config.RuleConfig) []Rule {
	log := logger.WithComponent("rules")
	rules := make([]Rule, 0, len(cfgs))

	for i, rc := range cfgs {
		cmp, err := ParseComparator(rc.Comparator)
		rule := Rule{
			Name:       strings.TrimSpace(rc.Name),
			Metric:     strings.ToLower(strings.TrimSpace(rc.Metric)),
			Comparator: cmp,
			Threshold:  rc.Threshold,
			Severity:   models.Severity(strings.ToLower(strings.TrimSpace(rc.Severity))),
			Message:    rc.Message,
		}
		if err == nil {
			err = rule.Validate()
		}
		if err != nil {
			log.Error().
				Err(err).
				Int("index", i).
				Str("rule", rule.ID()).
				Msg("skipping misconfigured rule")
			metrics.RulesSkippedTotal.WithLabelValues(rule.ID()).Inc()
			continue
		}
		rules = append(rules, rule)
	}

	log.Info().Int("loaded", len(rules)).Int("configured", len(cfgs)).Msg("rules loaded")
	return rules
}
