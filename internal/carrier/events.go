// Package carrier speaks the telephony carrier's per-call streaming
// protocols: the media-stream protocol used by the audio bridges and the
// text-relay protocol where recognition and synthesis happen carrier-side.
package carrier

// Media-stream event names, carrier -> gateway.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
	EventMark      = "mark"

	// Gateway -> carrier.
	EventClear = "clear"
)

// Relay message types.
const (
	RelaySetup     = "setup"
	RelayPrompt    = "prompt"
	RelayInterrupt = "interrupt"
	RelayDTMF      = "dtmf"
	RelayText      = "text"
	RelayEnd       = "end"
	RelayError     = "error"
)

// StreamMessage is one frame of the media-stream protocol, both
// directions. Only the fields for the given Event are populated.
type StreamMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload announces the call: the carrier call id, the stream id used
// to tag outbound media, and the negotiated audio format.
type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 audio frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// RelayMessage is one frame of the text-relay protocol, both directions.
type RelayMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	CallSid     string `json:"callSid,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	VoicePrompt string `json:"voicePrompt,omitempty"`
	Token       string `json:"token,omitempty"`
	Last        bool   `json:"last,omitempty"`
	Digit       string `json:"digit,omitempty"`
	Description string `json:"description,omitempty"`
}
