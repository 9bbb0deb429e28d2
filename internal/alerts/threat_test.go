package alerts_test

import (
	"math"
	"testing"

	"tidewatch/internal/alerts"
	"tidewatch/internal/models"
)

func TestThreatScore(t *testing.T) {
	m := alerts.NewThreatModel()

	tests := []struct {
		name        string
		values      map[string]float64
		wantScore   float64
		wantPresent bool
	}{
		{"no features", map[string]float64{"salinity": 30}, 0, false},
		{"sea level only", map[string]float64{"sea_level": 1.0}, 0.2, true},
		{"capped inputs", map[string]float64{"sea_level": 10, "wind_speed": 500, "chl_a": 9}, 1.0, true},
		{"negative clamps to zero", map[string]float64{"sea_level": -3}, 0, true},
		{"mixed", map[string]float64{"sea_level": 2, "wind_speed": 25}, 0.55, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, present := m.Score(reading(tt.values))
			if present != tt.wantPresent {
				t.Errorf("present = %v, want %v", present, tt.wantPresent)
			}
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", score, tt.wantScore)
			}
		})
	}
}

func TestThreatAssessTiers(t *testing.T) {
	m := alerts.NewThreatModel()

	tests := []struct {
		name   string
		values map[string]float64
		want   models.Severity
	}{
		{"low score", map[string]float64{"sea_level": 1.0}, ""},
		{"exactly 0.4 does not fire", map[string]float64{"sea_level": 2.0}, ""},
		{"medium", map[string]float64{"sea_level": 2, "wind_speed": 25}, models.SeverityMedium},
		{"high", map[string]float64{"sea_level": 2, "wind_speed": 50, "chl_a": 1}, models.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := m.Assess(reading(tt.values))
			if tt.want == "" {
				if ok {
					t.Errorf("unexpected alert: %+v", a)
				}
				return
			}
			if !ok {
				t.Fatal("expected an alert")
			}
			if a.Severity != tt.want || a.Type != models.AlertTypeCoastalThreat {
				t.Errorf("got %s/%s, want %s", a.Type, a.Severity, tt.want)
			}
			if a.Payload == nil || a.Payload.Metric != alerts.ThreatMetric {
				t.Errorf("payload = %+v", a.Payload)
			}
		})
	}
}

func TestEngineAppendsThreatAlertAfterRules(t *testing.T) {
	e := alerts.NewEngine([]alerts.Rule{seaLevelRule()}, alerts.WithThreatModel(alerts.NewThreatModel()))

	got := e.Evaluate(reading(map[string]float64{"sea_level": 3.2, "wind_speed": 50, "chl_a": 2}))
	if len(got) != 2 {
		t.Fatalf("expected rule + threat alerts, got %d", len(got))
	}
	if got[0].Type != models.AlertTypeThreshold || got[1].Type != models.AlertTypeCoastalThreat {
		t.Errorf("unexpected order: %s, %s", got[0].Type, got[1].Type)
	}
}
