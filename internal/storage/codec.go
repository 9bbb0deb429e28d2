package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"tidewatch/internal/models"
)

// row is the column layout shared by the SQL backends.
type row struct {
	ID             uint64
	Type           string
	Severity       string
	Message        string
	SourceSensorID string
	CreatedAt      time.Time
	Payload        []byte
}

func toRow(a models.Alert) (row, error) {
	r := row{
		ID:             a.ID,
		Type:           a.Type,
		Severity:       string(a.Severity),
		Message:        a.Message,
		SourceSensorID: a.SourceSensorID,
		CreatedAt:      a.CreatedAt.UTC(),
	}
	if a.Payload != nil {
		data, err := json.Marshal(a.Payload)
		if err != nil {
			return row{}, fmt.Errorf("encode payload for alert %d: %w", a.ID, err)
		}
		r.Payload = data
	}
	return r, nil
}

func (r row) alert() (models.Alert, error) {
	a := models.Alert{
		ID:             r.ID,
		Type:           r.Type,
		Severity:       models.Severity(r.Severity),
		Message:        r.Message,
		SourceSensorID: r.SourceSensorID,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if len(r.Payload) > 0 {
		var p models.AlertPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return models.Alert{}, fmt.Errorf("decode payload for alert %d: %w", r.ID, err)
		}
		a.Payload = &p
	}
	return a, nil
}
