package models

import (
	"encoding/json"
	"time"
)

// EventType tags frames on the live channel.
type EventType string

const (
	EventAlert   EventType = "alert"
	EventReading EventType = "reading"
)

// Event is the JSON frame pushed to live subscribers:
// {"type": "alert", "payload": {...}} or {"type": "reading", "payload": {...}}.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// NewReadingEvent wraps a reading for fan-out.
func NewReadingEvent(r Reading) Event {
	return Event{Type: EventReading, Payload: r}
}

// NewAlertEvent wraps a logged alert for fan-out.
func NewAlertEvent(a Alert) Event {
	return Event{Type: EventAlert, Payload: a}
}

// Marshal encodes the event frame.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// SensorID returns the sensor the event is about, used as a partition key.
func (e Event) SensorID() string {
	switch p := e.Payload.(type) {
	case Reading:
		return p.SensorID
	case Alert:
		return p.SourceSensorID
	default:
		return ""
	}
}

// Envelope wraps an Event with internal metadata for export
type Envelope struct {
	// Original event
	Event Event `json:"event"`

	// Internal processing metadata
	ReceivedAt   time.Time `json:"received_at"`
	IngestNode   string    `json:"ingest_node"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope wrapping an event
func NewEnvelope(event Event, ingestNode string) *Envelope {
	return &Envelope{
		Event:        event,
		ReceivedAt:   time.Now().UTC(),
		IngestNode:   ingestNode,
		PartitionKey: event.SensorID(), // partition by sensor for ordering
	}
}
