package models

import (
	"errors"
	"math"
	"time"
)

// Reading is a single timestamped measurement from one sensor.
type Reading struct {
	// Sensor identifier, e.g. "A1" or "tide_gauge_1"
	SensorID string `json:"sensor_id"`

	// Time the measurement was taken
	Timestamp time.Time `json:"timestamp"`

	// Named metric values, e.g. {"sea_level": 1.2, "wind_speed": 30}
	Values map[string]float64 `json:"values"`

	// Optional sensor family (tide, weather, salinity, ...)
	SensorType string `json:"sensor_type,omitempty"`
}

// Validation errors
var (
	ErrEmptySensorID    = errors.New("sensor ID cannot be empty")
	ErrSensorIDTooLong  = errors.New("sensor ID exceeds maximum length")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp  = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
	ErrNoMetrics        = errors.New("reading must carry at least one numeric metric")
	ErrTooManyMetrics   = errors.New("too many metrics")
	ErrEmptyMetricName  = errors.New("metric name cannot be empty")
	ErrNonFiniteValue   = errors.New("metric value must be a finite number")
)

const (
	MaxSensorIDLength = 128
	MaxMetrics        = 64

	// Readings up to this far ahead of the server clock are tolerated.
	MaxClockSkew = time.Minute
)

// Validate checks that the reading has all required fields and usable values.
// A non-nil result is always a *ValidationError.
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return invalid("sensor_id", ErrEmptySensorID)
	}

	if len(r.SensorID) > MaxSensorIDLength {
		return invalid("sensor_id", ErrSensorIDTooLong)
	}

	if r.Timestamp.IsZero() {
		return invalid("timestamp", ErrZeroTimestamp)
	}

	if r.Timestamp.After(time.Now().Add(MaxClockSkew)) {
		return invalid("timestamp", ErrFutureTimestamp)
	}

	if len(r.Values) == 0 {
		return invalid("values", ErrNoMetrics)
	}

	if len(r.Values) > MaxMetrics {
		return invalid("values", ErrTooManyMetrics)
	}

	for name, v := range r.Values {
		if name == "" {
			return invalid("values", ErrEmptyMetricName)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("values."+name, ErrNonFiniteValue)
		}
	}

	return nil
}

// Clone returns a deep copy so callers can never mutate a stored reading.
func (r Reading) Clone() Reading {
	values := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	r.Values = values
	return r
}
