package openairt

import (
	"encoding/json"
	"testing"
)

func TestServerEventDecodesProviderShapes(t *testing.T) {
	argsDone := []byte(`{
		"type": "response.function_call_arguments.done",
		"event_id": "ev_1",
		"item_id": "item_1",
		"call_id": "call_abc",
		"name": "create_ticket",
		"arguments": "{\"subject\":\"missing order\"}"
	}`)

	var ev ServerEvent
	if err := json.Unmarshal(argsDone, &ev); err != nil {
		t.Fatalf("decode arguments done: %v", err)
	}
	if ev.Type != TypeFunctionArgsDone || ev.CallID != "call_abc" || ev.Name != "create_ticket" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Arguments != `{"subject":"missing order"}` {
		t.Fatalf("unexpected arguments: %q", ev.Arguments)
	}

	cancelRace := []byte(`{"type":"error","error":{"type":"invalid_request_error","code":"response_cancel_not_active","message":"Cancellation failed: no active response found"}}`)
	ev = ServerEvent{}
	if err := json.Unmarshal(cancelRace, &ev); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if ev.Type != TypeError || ev.Error == nil || ev.Error.Code != "response_cancel_not_active" {
		t.Fatalf("unexpected error event: %+v", ev)
	}

	created := []byte(`{"type":"response.created","response":{"id":"resp_9","status":"in_progress"}}`)
	ev = ServerEvent{}
	if err := json.Unmarshal(created, &ev); err != nil {
		t.Fatalf("decode response created: %v", err)
	}
	if ev.Type != TypeResponseCreated || ev.Response == nil || ev.Response.ID != "resp_9" {
		t.Fatalf("unexpected response created event: %+v", ev)
	}
}

func TestSessionUpdateWireFormat(t *testing.T) {
	msg := sessionUpdateMsg{
		Type: "session.update",
		Session: SessionPayload{
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			TurnDetection:     &TurnDetection{Type: "server_vad", SilenceDurationMs: 500},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal session update: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	sess, ok := decoded["session"].(map[string]any)
	if !ok {
		t.Fatalf("missing session object: %s", data)
	}
	if sess["input_audio_format"] != "g711_ulaw" {
		t.Fatalf("unexpected input format: %v", sess["input_audio_format"])
	}
	td, ok := sess["turn_detection"].(map[string]any)
	if !ok || td["type"] != "server_vad" {
		t.Fatalf("unexpected turn detection: %v", sess["turn_detection"])
	}
	if _, present := sess["voice"]; present {
		t.Fatal("empty voice should be omitted")
	}
}
