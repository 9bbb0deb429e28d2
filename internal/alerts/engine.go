// Package alerts evaluates readings against threshold rules and the coastal
// threat model, producing candidate alerts for the alert log.
package alerts

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

// Evaluator produces candidate alerts for a reading.
type Evaluator interface {
	Evaluate(r models.Reading) []models.Alert
}

// Engine evaluates a fixed rule set. It holds no mutable state, so the same
// reading always yields the same alerts and Evaluate is safe for concurrent use.
type Engine struct {
	rules  []Rule
	threat *ThreatModel
	log    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreatModel enables the composite coastal-threat score.
func WithThreatModel(m *ThreatModel) Option {
	return func(e *Engine) { e.threat = m }
}

// NewEngine creates an engine over rules. The slice is copied.
func NewEngine(rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		rules: append([]Rule(nil), rules...),
		log:   logger.WithComponent("rule_engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns a copy of the configured rules.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns one alert per matching rule, in rule order, followed by
// the threat-model alert if any. Alert ID and CreatedAt are left zero; the
// alert log assigns them.
func (e *Engine) Evaluate(r models.Reading) []models.Alert {
	var out []models.Alert

	for _, rule := range e.rules {
		value, ok := r.Values[rule.Metric]
		if !ok {
			continue
		}
		if err := rule.Validate(); err != nil {
			e.log.Error().Err(err).Str("rule", rule.ID()).Msg("skipping misconfigured rule")
			metrics.RulesSkippedTotal.WithLabelValues(rule.ID()).Inc()
			continue
		}
		if !rule.Comparator.Matches(value, rule.Threshold) {
			continue
		}
		out = append(out, e.buildAlert(rule, r, value))
	}

	if e.threat != nil {
		if a, ok := e.threat.Assess(r); ok {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) buildAlert(rule Rule, r models.Reading, value float64) models.Alert {
	reading := r.Clone()
	return models.Alert{
		Type:           models.AlertTypeThreshold,
		Severity:       rule.Severity,
		Message:        renderMessage(rule, r.SensorID, value),
		SourceSensorID: r.SensorID,
		Payload: &models.AlertPayload{
			Rule:       rule.ID(),
			Metric:     rule.Metric,
			Value:      value,
			Threshold:  rule.Threshold,
			Comparator: rule.Comparator.String(),
			Reading:    &reading,
		},
	}
}

func renderMessage(rule Rule, sensorID string, value float64) string {
	tmpl := rule.Message
	if tmpl == "" {
		tmpl = DefaultMessage
	}
	return strings.NewReplacer(
		"{metric}", rule.Metric,
		"{value}", formatFloat(value),
		"{threshold}", formatFloat(rule.Threshold),
		"{comparator}", rule.Comparator.String(),
		"{sensor}", sensorID,
		"{rule}", rule.ID(),
	).Replace(tmpl)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
