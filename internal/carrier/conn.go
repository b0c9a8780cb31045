package carrier

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const readDeadline = 90 * time.Second

// Conn wraps the carrier's websocket with serialized writes and an
// idempotent Close. Reads belong to a single goroutine; writes may come
// from the bridge loop and synthesis goroutines concurrently.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConn(ws *websocket.Conn) *Conn {
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})
	return &Conn{ws: ws}
}

// ReadMessage blocks for the next raw frame from the carrier.
func (c *Conn) ReadMessage() ([]byte, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// SendMedia sends one base64 audio frame tagged with the carrier's stream
// id.
func (c *Conn) SendMedia(streamSid, payload string) error {
	return c.writeJSON(StreamMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payload},
	})
}

// SendClear tells the carrier to discard buffered playback (barge-in).
func (c *Conn) SendClear(streamSid string) error {
	return c.writeJSON(StreamMessage{Event: EventClear, StreamSid: streamSid})
}

// SendMark asks the carrier to echo a mark once playback reaches it.
func (c *Conn) SendMark(streamSid, name string) error {
	return c.writeJSON(StreamMessage{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	})
}

// SendText sends one synthesized-text token on a relay connection.
func (c *Conn) SendText(token string, last bool) error {
	return c.writeJSON(RelayMessage{Type: RelayText, Token: token, Last: last})
}

// SendEnd asks the relay to terminate the call.
func (c *Conn) SendEnd() error {
	return c.writeJSON(RelayMessage{Type: RelayEnd})
}

// Close is safe to call from any teardown path.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
