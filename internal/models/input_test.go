package models_test

import (
	"errors"
	"testing"
	"time"

	"tidewatch/internal/models"
)

func TestDecodeReading(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		check   func(t *testing.T, r models.Reading)
	}{
		{
			name: "rfc3339 timestamp",
			body: `{"sensor_id":"A1","timestamp":"2025-02-01T10:00:00Z","values":{"sea_level":1.5}}`,
			check: func(t *testing.T, r models.Reading) {
				want := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
				if r.SensorID != "A1" || !r.Timestamp.Equal(want) || r.Values["sea_level"] != 1.5 {
					t.Errorf("reading = %+v", r)
				}
			},
		},
		{
			name: "epoch seconds",
			body: `{"sensor_id":"A1","timestamp":1738404000.5,"values":{"sea_level":1}}`,
			check: func(t *testing.T, r models.Reading) {
				want := time.Unix(1738404000, 500_000_000).UTC()
				if !r.Timestamp.Equal(want) {
					t.Errorf("timestamp = %v, want %v", r.Timestamp, want)
				}
			},
		},
		{
			name: "source alias and non-numeric values",
			body: `{"source":"tide_gauge_1","sensor_type":"tide","timestamp":"2025-02-01 10:00:00","values":{"sea_level":2,"status":"ok"}}`,
			check: func(t *testing.T, r models.Reading) {
				if r.SensorID != "tide_gauge_1" || r.SensorType != "tide" {
					t.Errorf("reading = %+v", r)
				}
				if _, ok := r.Values["status"]; ok || len(r.Values) != 1 {
					t.Errorf("values = %v, want only sea_level", r.Values)
				}
			},
		},
		{
			name: "missing timestamp decodes as zero",
			body: `{"sensor_id":"A1","values":{"sea_level":1}}`,
			check: func(t *testing.T, r models.Reading) {
				if !r.Timestamp.IsZero() {
					t.Errorf("timestamp = %v, want zero", r.Timestamp)
				}
			},
		},
		{name: "bad timestamp", body: `{"sensor_id":"A1","timestamp":"yesterday","values":{"x":1}}`, wantErr: models.ErrInvalidTimestamp},
		{name: "negative epoch", body: `{"sensor_id":"A1","timestamp":-5,"values":{"x":1}}`, wantErr: models.ErrInvalidTimestamp},
		{name: "not json", body: `sea_level=1`, wantErr: models.ErrMalformedBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := models.DecodeReading([]byte(tt.body))
			if tt.wantErr != nil {
				if !models.IsValidation(err) || !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want ValidationError wrapping %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeReading: %v", err)
			}
			tt.check(t, r)
		})
	}
}
