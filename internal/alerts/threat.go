package alerts

import (
	"fmt"
	"math"
	"strings"

	"tidewatch/internal/models"
)

// ThreatMetric is the pseudo-metric name recorded in threat alert payloads.
const ThreatMetric = "threat_probability"

// feature is one weighted input to the threat score, normalized by scale and
// capped at 1.
type feature struct {
	metric string
	scale  float64
	weight float64
}

// ThreatModel scores a reading's combined coastal-threat probability from
// sea level, wind speed and chlorophyll-a.
type ThreatModel struct {
	features   []feature
	highAbove  float64
	mediumOver float64
}

// NewThreatModel returns the model with its standard weights: sea level over
// 0-2 m (0.4), wind speed over 0-50 m/s (0.3), chlorophyll-a over 0-2 (0.3).
// Scores above 0.7 are high, above 0.4 medium.
func NewThreatModel() *ThreatModel {
	return &ThreatModel{
		features: []feature{
			{metric: "sea_level", scale: 2.0, weight: 0.4},
			{metric: "wind_speed", scale: 50.0, weight: 0.3},
			{metric: "chl_a", scale: 2.0, weight: 0.3},
		},
		highAbove:  0.7,
		mediumOver: 0.4,
	}
}

// Score returns the threat probability in [0, 1] and whether any feature
// metric was present in the reading.
func (m *ThreatModel) Score(r models.Reading) (float64, bool) {
	var score float64
	present := false
	for _, f := range m.features {
		v, ok := r.Values[f.metric]
		if !ok {
			continue
		}
		present = true
		score += math.Min(math.Max(v/f.scale, 0), 1) * f.weight
	}
	return math.Min(math.Max(score, 0), 1), present
}

// Assess returns a coastal-threat alert when the score crosses a tier.
func (m *ThreatModel) Assess(r models.Reading) (models.Alert, bool) {
	score, present := m.Score(r)
	if !present {
		return models.Alert{}, false
	}

	var severity models.Severity
	var threshold float64
	switch {
	case score > m.highAbove:
		severity, threshold = models.SeverityHigh, m.highAbove
	case score > m.mediumOver:
		severity, threshold = models.SeverityMedium, m.mediumOver
	default:
		return models.Alert{}, false
	}

	reading := r.Clone()
	return models.Alert{
		Type:           models.AlertTypeCoastalThreat,
		Severity:       severity,
		Message:        fmt.Sprintf("%s coastal threat detected at sensor %s (%.2f)", capitalize(string(severity)), r.SensorID, score),
		SourceSensorID: r.SensorID,
		Payload: &models.AlertPayload{
			Rule:       "coastal-threat",
			Metric:     ThreatMetric,
			Value:      score,
			Threshold:  threshold,
			Comparator: GT.String(),
			Reading:    &reading,
		},
	}, true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
