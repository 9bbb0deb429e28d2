package models

import (
	"errors"
	"time"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert types
const (
	AlertTypeThreshold     = "threshold"
	AlertTypeCoastalThreat = "coastal_threat"
	AlertTypeUpstream      = "upstream"
)

// Alert is a notification raised when a reading violates a rule, or one
// forwarded by an upstream feed. Alerts are never mutated once logged.
type Alert struct {
	// Assigned by the alert log; strictly increasing
	ID uint64 `json:"id"`

	Type           string    `json:"alert_type"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	SourceSensorID string    `json:"source_sensor_id"`
	CreatedAt      time.Time `json:"created_at"`

	// Optional structured detail about the trigger
	Payload *AlertPayload `json:"payload,omitempty"`
}

// AlertPayload traces an alert back to the reading that produced it.
type AlertPayload struct {
	Rule       string   `json:"rule,omitempty"`
	Metric     string   `json:"metric,omitempty"`
	Value      float64  `json:"value"`
	Threshold  float64  `json:"threshold"`
	Comparator string   `json:"comparator,omitempty"`
	Reading    *Reading `json:"reading,omitempty"`
}

var (
	ErrInvalidSeverity  = errors.New("invalid severity level")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrEmptyAlertSource = errors.New("source sensor ID cannot be empty")
)

const MaxAlertMessageLength = 4096

// IsValid checks if the severity level is known.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// Rank orders severities so they can be compared; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// Validate checks an alert before it enters the log.
func (a *Alert) Validate() error {
	if !a.Severity.IsValid() {
		return invalid("severity", ErrInvalidSeverity)
	}
	if a.Message == "" {
		return invalid("message", ErrEmptyMessage)
	}
	if len(a.Message) > MaxAlertMessageLength {
		return invalid("message", ErrMessageTooLong)
	}
	if a.SourceSensorID == "" {
		return invalid("source_sensor_id", ErrEmptyAlertSource)
	}
	return nil
}
