package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"
)

var ErrMalformedBody = errors.New("body is not a valid reading object")

// ReadingInput is the wire form of a reading as sent by sensors, whatever
// the transport. Timestamp may be a string in any supported format or a
// number of seconds since the epoch; non-numeric values are ignored.
type ReadingInput struct {
	SensorID string `json:"sensor_id"`
	// Older gateways send the sensor id as "source"
	Source     string          `json:"source,omitempty"`
	SensorType string          `json:"sensor_type,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Values     map[string]any  `json:"values"`
}

// DecodeReading parses a JSON reading. Errors are *ValidationError.
func DecodeReading(data []byte) (Reading, error) {
	var in ReadingInput
	if err := json.Unmarshal(data, &in); err != nil {
		return Reading{}, invalid("body", errors.Join(ErrMalformedBody, err))
	}
	return in.Reading()
}

// Reading converts the input into a Reading. It does not validate metrics or
// sensor id; call Validate for that.
func (in ReadingInput) Reading() (Reading, error) {
	r := Reading{
		SensorID:   in.SensorID,
		SensorType: in.SensorType,
	}
	if r.SensorID == "" {
		r.SensorID = in.Source
	}

	ts, err := parseRawTimestamp(in.Timestamp)
	if err != nil {
		return Reading{}, invalid("timestamp", err)
	}
	r.Timestamp = ts

	if len(in.Values) > 0 {
		r.Values = make(map[string]float64, len(in.Values))
		for k, v := range in.Values {
			if f, ok := v.(float64); ok {
				r.Values[k] = f
			}
		}
	}
	return r, nil
}

func parseRawTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, ErrInvalidTimestamp
		}
		if s == "" {
			return time.Time{}, nil
		}
		return ParseTimestamp(s)
	}

	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return time.Time{}, ErrInvalidTimestamp
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}
