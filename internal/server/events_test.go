package server

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventSerialization(t *testing.T) {
	events := []any{
		CallStartedEvent{Event: newEvent("call_started", time.Unix(1, 0)), SessionID: "abc", TenantID: "tn-1", Method: "realtime"},
		CallEndedEvent{Event: newEvent("call_ended", time.Unix(1, 0)), SessionID: "abc", TenantID: "tn-1", Duration: 30},
		ConnectionEvent{Event: newEvent("connection", time.Unix(1, 0)), Connected: true},
	}

	for _, event := range events {
		b, err := marshalEvent(event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if payload["type"] == nil {
			t.Fatalf("missing type in payload: %s", string(b))
		}
		if payload["version"] == nil {
			t.Fatalf("missing version in payload: %s", string(b))
		}
		if payload["timestamp"] == nil {
			t.Fatalf("missing timestamp in payload: %s", string(b))
		}
	}
}
