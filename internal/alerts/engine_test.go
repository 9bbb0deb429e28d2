package alerts_test

import (
	"reflect"
	"testing"
	"time"

	"tidewatch/internal/alerts"
	"tidewatch/internal/config"
	"tidewatch/internal/models"
)

func seaLevelRule() alerts.Rule {
	return alerts.Rule{
		Name:       "sea-level-critical",
		Metric:     "sea_level",
		Comparator: alerts.GTE,
		Threshold:  3.0,
		Severity:   models.SeverityHigh,
	}
}

func reading(values map[string]float64) models.Reading {
	return models.Reading{
		SensorID:  "A1",
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Values:    values,
	}
}

func TestComparatorMatches(t *testing.T) {
	tests := []struct {
		cmp       alerts.Comparator
		value     float64
		threshold float64
		want      bool
	}{
		{alerts.GT, 3.1, 3.0, true},
		{alerts.GT, 3.0, 3.0, false},
		{alerts.LT, 2.9, 3.0, true},
		{alerts.LT, 3.0, 3.0, false},
		{alerts.GTE, 3.0, 3.0, true},
		{alerts.GTE, 2.9, 3.0, false},
		{alerts.LTE, 3.0, 3.0, true},
		{alerts.LTE, 3.1, 3.0, false},
		{alerts.EQ, 3.0, 3.0, true},
		{alerts.EQ, 3.01, 3.0, false},
		{alerts.Comparator(0), 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.cmp.String(), func(t *testing.T) {
			if got := tt.cmp.Matches(tt.value, tt.threshold); got != tt.want {
				t.Errorf("%v %s %v = %v, want %v", tt.value, tt.cmp, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestParseComparator(t *testing.T) {
	tests := []struct {
		in      string
		want    alerts.Comparator
		wantErr bool
	}{
		{">", alerts.GT, false},
		{" >= ", alerts.GTE, false},
		{"lte", alerts.LTE, false},
		{"LT", alerts.LT, false},
		{"==", alerts.EQ, false},
		{"eq", alerts.EQ, false},
		{"!=", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := alerts.ParseComparator(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateSeaLevelAboveThreshold(t *testing.T) {
	e := alerts.NewEngine([]alerts.Rule{seaLevelRule()})

	got := e.Evaluate(reading(map[string]float64{"sea_level": 3.2}))

	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	a := got[0]
	if a.Severity != models.SeverityHigh || a.SourceSensorID != "A1" {
		t.Errorf("unexpected alert: %+v", a)
	}
	if a.Type != models.AlertTypeThreshold {
		t.Errorf("type = %q", a.Type)
	}
	if a.Payload == nil || a.Payload.Reading == nil || a.Payload.Value != 3.2 || a.Payload.Threshold != 3.0 {
		t.Fatalf("payload does not trace the reading: %+v", a.Payload)
	}
	if a.Payload.Reading.SensorID != "A1" {
		t.Errorf("payload reading sensor = %q", a.Payload.Reading.SensorID)
	}
	if a.ID != 0 || !a.CreatedAt.IsZero() {
		t.Error("engine must not assign id or created_at")
	}
	if a.Message != "sea_level 3.2 >= 3 at sensor A1" {
		t.Errorf("message = %q", a.Message)
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	e := alerts.NewEngine([]alerts.Rule{seaLevelRule()})

	if got := e.Evaluate(reading(map[string]float64{"sea_level": 2.0})); len(got) != 0 {
		t.Errorf("expected no alerts, got %+v", got)
	}
}

func TestEvaluateMultipleRulesFire(t *testing.T) {
	rules := []alerts.Rule{
		seaLevelRule(),
		{Name: "elevated", Metric: "sea_level", Comparator: alerts.GT, Threshold: 2.0, Severity: models.SeverityMedium},
		{Name: "gale", Metric: "wind_speed", Comparator: alerts.GT, Threshold: 17, Severity: models.SeverityMedium},
		{Name: "calm", Metric: "wind_speed", Comparator: alerts.LT, Threshold: 1, Severity: models.SeverityLow},
	}
	e := alerts.NewEngine(rules)

	got := e.Evaluate(reading(map[string]float64{"sea_level": 3.5, "wind_speed": 20}))

	want := []string{"sea-level-critical", "elevated", "gale"}
	if len(got) != len(want) {
		t.Fatalf("expected %d alerts, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Payload.Rule != name {
			t.Errorf("alert %d rule = %q, want %q", i, got[i].Payload.Rule, name)
		}
	}
	if got[1].Severity != models.SeverityMedium {
		t.Errorf("severity from rule not applied: %v", got[1].Severity)
	}
}

func TestEvaluateAbsentMetric(t *testing.T) {
	e := alerts.NewEngine([]alerts.Rule{seaLevelRule()})

	if got := e.Evaluate(reading(map[string]float64{"salinity": 99})); len(got) != 0 {
		t.Errorf("rule fired for an absent metric: %+v", got)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := alerts.NewEngine([]alerts.Rule{
		seaLevelRule(),
		{Name: "gale", Metric: "wind_speed", Comparator: alerts.GT, Threshold: 17, Severity: models.SeverityMedium},
	}, alerts.WithThreatModel(alerts.NewThreatModel()))
	r := reading(map[string]float64{"sea_level": 3.2, "wind_speed": 40, "chl_a": 1.5})

	first := e.Evaluate(r)
	for i := 0; i < 20; i++ {
		if again := e.Evaluate(r); !reflect.DeepEqual(first, again) {
			t.Fatalf("evaluation %d differs:\n%+v\n%+v", i, first, again)
		}
	}
}

func TestEvaluateSkipsMisconfiguredRule(t *testing.T) {
	e := alerts.NewEngine([]alerts.Rule{
		{Name: "broken", Metric: "sea_level", Comparator: alerts.Comparator(99), Threshold: 1, Severity: models.SeverityHigh},
		{Name: "no-severity", Metric: "sea_level", Comparator: alerts.GT, Threshold: 1},
		seaLevelRule(),
	})

	got := e.Evaluate(reading(map[string]float64{"sea_level": 3.2}))
	if len(got) != 1 || got[0].Payload.Rule != "sea-level-critical" {
		t.Errorf("expected only the valid rule to fire, got %+v", got)
	}
}

func TestMessageTemplate(t *testing.T) {
	rule := seaLevelRule()
	rule.Message = "{rule}: {metric}={value} (limit {threshold}) @ {sensor}"
	e := alerts.NewEngine([]alerts.Rule{rule})

	got := e.Evaluate(reading(map[string]float64{"sea_level": 3.25}))
	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	if want := "sea-level-critical: sea_level=3.25 (limit 3) @ A1"; got[0].Message != want {
		t.Errorf("message = %q, want %q", got[0].Message, want)
	}
}

func TestRulesFromConfig(t *testing.T) {
	rules := alerts.RulesFromConfig([]config.RuleConfig{
		{Name: "ok", Metric: " Sea_Level ", Comparator: ">=", Threshold: 3, Severity: "HIGH"},
		{Name: "bad-cmp", Metric: "sea_level", Comparator: "~", Threshold: 3, Severity: "high"},
		{Name: "bad-sev", Metric: "sea_level", Comparator: ">", Threshold: 3, Severity: "urgent"},
		{Name: "no-metric", Comparator: ">", Threshold: 3, Severity: "low"},
	})

	if len(rules) != 1 {
		t.Fatalf("expected 1 valid rule, got %d: %+v", len(rules), rules)
	}
	r := rules[0]
	if r.Metric != "sea_level" || r.Comparator != alerts.GTE || r.Severity != models.SeverityHigh {
		t.Errorf("rule not converted: %+v", r)
	}
}
