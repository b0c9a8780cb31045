package server

import (
	"encoding/json"
	"time"
)

const EventVersion = 1

// Event is the envelope shared by all monitor-feed events.
type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type CallStartedEvent struct {
	Event
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id"`
	Method    string `json:"method"`
}

type CallEndedEvent struct {
	Event
	SessionID string  `json:"session_id"`
	TenantID  string  `json:"tenant_id"`
	Duration  float64 `json:"duration"`
	Escalated bool    `json:"escalated"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func marshalEvent(event any) ([]byte, error) {
	return json.Marshal(event)
}
