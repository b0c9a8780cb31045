// Package openairt is a minimal client for a realtime speech-to-speech AI
// provider: a bidirectional websocket carrying JSON events for session
// configuration, audio append, response lifecycle, transcription, and
// function calling.
package openairt

import "encoding/json"

// Server event types the bridges care about. Anything else is ignored.
const (
	TypeSessionCreated     = "session.created"
	TypeSessionUpdated     = "session.updated"
	TypeSpeechStarted      = "input_audio_buffer.speech_started"
	TypeResponseCreated    = "response.created"
	TypeResponseDone       = "response.done"
	TypeAudioDelta         = "response.audio.delta"
	TypeInputTranscript    = "conversation.item.input_audio_transcription.completed"
	TypeOutputTranscript   = "response.audio_transcript.done"
	TypeFunctionArgsDelta  = "response.function_call_arguments.delta"
	TypeFunctionArgsDone   = "response.function_call_arguments.done"
	TypeError              = "error"
)

// SessionPayload configures the provider session: voice, audio formats,
// transcription model, turn detection, and the tool schema.
type SessionPayload struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Tools                   []Tool               `json:"tools,omitempty"`
}

type TranscriptionConfig struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Tool describes one callable function exposed to the provider.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ServerEvent is the decoded form of one provider event. Fields are
// populated according to Type.
type ServerEvent struct {
	Type       string           `json:"type"`
	EventID    string           `json:"event_id,omitempty"`
	ItemID     string           `json:"item_id,omitempty"`
	Delta      string           `json:"delta,omitempty"`
	Transcript string           `json:"transcript,omitempty"`
	CallID     string           `json:"call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Arguments  string           `json:"arguments,omitempty"`
	Response   *ResponsePayload `json:"response,omitempty"`
	Error      *ErrorPayload    `json:"error,omitempty"`
}

type ResponsePayload struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type ErrorPayload struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// client -> server envelopes

type sessionUpdateMsg struct {
	Type    string         `json:"type"`
	Session SessionPayload `json:"session"`
}

type audioAppendMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCreateMsg struct {
	Type     string                  `json:"type"`
	Response *responseCreateInstruct `json:"response,omitempty"`
}

type responseCreateInstruct struct {
	Instructions string `json:"instructions,omitempty"`
}

type responseCancelMsg struct {
	Type string `json:"type"`
}

type itemCreateMsg struct {
	Type string           `json:"type"`
	Item functionCallItem `json:"item"`
}

type functionCallItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}
