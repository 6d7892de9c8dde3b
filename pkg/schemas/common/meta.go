package common

import "time"

type Meta struct {
	// Request correlation ID; replies carry the same value
	CorrelationID string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. chat.message.v1
	Type string `json:"type"`
}
