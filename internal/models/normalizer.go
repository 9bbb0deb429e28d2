package models

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// Normalize trims identifiers and lower-cases metric names and sensor type.
// Metric names that collapse to the same key keep the last value seen in
// sorted key order, so the result does not depend on map iteration.
func (r *Reading) Normalize() {
	r.SensorID = strings.TrimSpace(r.SensorID)
	r.SensorType = strings.ToLower(strings.TrimSpace(r.SensorType))
	r.Timestamp = r.Timestamp.UTC()

	if r.Values == nil {
		return
	}
	normalized := make(map[string]float64, len(r.Values))
	for _, k := range slices.Sorted(maps.Keys(r.Values)) {
		normalized[strings.ToLower(strings.TrimSpace(k))] = r.Values[k]
	}
	r.Values = normalized
}

// Normalize trims the free-text fields of an alert and lower-cases severity.
func (a *Alert) Normalize() {
	a.Type = strings.ToLower(strings.TrimSpace(a.Type))
	a.Severity = Severity(strings.ToLower(strings.TrimSpace(string(a.Severity))))
	a.Message = strings.TrimSpace(a.Message)
	a.SourceSensorID = strings.TrimSpace(a.SourceSensorID)
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
