package openairt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// DefaultBaseURL is the provider's realtime websocket endpoint.
const DefaultBaseURL = "wss://api.openai.com/v1/realtime"

// Conn is one realtime provider connection. Reads belong to a single
// goroutine; writes are serialized internally.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a realtime connection for the given model. An empty baseURL
// picks the provider default.
func Dial(ctx context.Context, baseURL, apiKey, model string) (*Conn, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	return &Conn{ws: ws}, nil
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// UpdateSession sends the session configuration.
func (c *Conn) UpdateSession(cfg SessionPayload) error {
	return c.writeJSON(sessionUpdateMsg{Type: "session.update", Session: cfg})
}

// AppendAudio pushes one base64 audio frame into the provider's input
// buffer.
func (c *Conn) AppendAudio(audio string) error {
	return c.writeJSON(audioAppendMsg{Type: "input_audio_buffer.append", Audio: audio})
}

// CreateResponse triggers generation. A non-empty instruction seeds the
// response, which is how the greeting is spoken on outbound calls.
func (c *Conn) CreateResponse(instructions string) error {
	msg := responseCreateMsg{Type: "response.create"}
	if instructions != "" {
		msg.Response = &responseCreateInstruct{Instructions: instructions}
	}
	return c.writeJSON(msg)
}

// CancelResponse aborts the in-flight response. Cancelling a response
// that already completed makes the provider emit a harmless error event;
// callers tolerate that.
func (c *Conn) CancelResponse() error {
	return c.writeJSON(responseCancelMsg{Type: "response.cancel"})
}

// SendFunctionOutput returns a tool result (or tool error) to the
// provider as a function_call_output item.
func (c *Conn) SendFunctionOutput(callID, output string) error {
	return c.writeJSON(itemCreateMsg{
		Type: "conversation.item.create",
		Item: functionCallItem{Type: "function_call_output", CallID: callID, Output: output},
	})
}

// ReadEvent blocks for the next server event.
func (c *Conn) ReadEvent() (ServerEvent, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return ServerEvent{}, err
	}

	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("decode realtime event: %w", err)
	}
	return ev, nil
}

// Close is safe to call from any teardown path.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
