package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"strings"
	"time"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/ai"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/audio"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/carrier"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/codec"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/openairt"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

// defaultFinalizeDelay is how long the realtime loop keeps consuming
// provider events after the carrier hangs up, because the transcription
// of the final turn arrives asynchronously.
const defaultFinalizeDelay = 2 * time.Second

// RealtimeConfig carries the realtime provider settings.
type RealtimeConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	FinalizeDelay time.Duration
	RecordingDir  string
	RecordCalls   bool
}

// Realtime bridges a carrier media stream to a speech-to-speech AI
// provider. Audio passes through in the carrier's G.711 encoding in both
// directions; the bridge's own work is event plumbing, barge-in, tool
// execution, and transcript capture.
type Realtime struct {
	registry  *session.Registry
	finalizer Finalizer
	tenants   TenantSource
	tools     ToolCatalog
	cfg       RealtimeConfig
}

func NewRealtime(registry *session.Registry, finalizer Finalizer, tenants TenantSource, tools ToolCatalog, cfg RealtimeConfig) *Realtime {
	if cfg.FinalizeDelay <= 0 {
		cfg.FinalizeDelay = defaultFinalizeDelay
	}
	return &Realtime{
		registry:  registry,
		finalizer: finalizer,
		tenants:   tenants,
		tools:     tools,
		cfg:       cfg,
	}
}

// Handle owns the carrier connection for one realtime call. It returns
// when the call is finalized.
func (b *Realtime) Handle(ctx context.Context, sessionID string, cc *carrier.Conn) {
	sess, ok := b.registry.Get(sessionID)
	if !ok || sess.Status() == session.StatusEnded {
		log.Printf("warning: realtime connect for unknown session %s", sessionID)
		_ = cc.Close()
		return
	}

	provider, err := openairt.Dial(ctx, b.cfg.BaseURL, b.cfg.APIKey, b.cfg.Model)
	if err != nil {
		log.Printf("warning: realtime dial for call %s: %v", sess.ID, err)
		_ = cc.Close()
		b.registry.End(sess.ID)
		return
	}

	call := newRealtimeCall(b, sess, cc, provider)
	go call.readCarrier(cc)
	go call.readProvider(provider)
	go call.fetchProfile()
	call.run(ctx)
}

type rtEventKind int

const (
	rtCarrierFrame rtEventKind = iota
	rtCarrierClosed
	rtProviderEvent
	rtProviderClosed
	rtProfile
	rtProfileErr
	rtFinalizeTimer
)

type rtEvent struct {
	kind     rtEventKind
	frame    *carrier.StreamMessage
	provider *openairt.ServerEvent
	profile  *storage.TenantProfile
	err      error
}

// mediaLink is the outbound half of the carrier connection as the call
// loops use it.
type mediaLink interface {
	SendMedia(streamSid, payload string) error
	SendClear(streamSid string) error
	Close() error
}

// providerLink is the outbound half of the realtime provider connection.
type providerLink interface {
	UpdateSession(openairt.SessionPayload) error
	AppendAudio(audio string) error
	CreateResponse(instructions string) error
	CancelResponse() error
	SendFunctionOutput(callID, output string) error
	Close() error
}

// realtimeCall is the single-goroutine state of one realtime call. Only
// run touches these fields; readers communicate through events.
type realtimeCall struct {
	bridge *Realtime
	sess   *session.Session
	cc     mediaLink
	ai     providerLink

	events chan rtEvent
	quit   chan struct{}

	gate           *readyGate
	profile        storage.TenantProfile
	streamSid      string
	activeResponse string
	pendingArgs    map[string]*strings.Builder
	finishTimer    *time.Timer
	recorder       *audio.CallRecorder
	done           bool
}

func newRealtimeCall(b *Realtime, sess *session.Session, cc mediaLink, provider providerLink) *realtimeCall {
	c := &realtimeCall{
		bridge:      b,
		sess:        sess,
		cc:          cc,
		ai:          provider,
		events:      make(chan rtEvent, 64),
		quit:        make(chan struct{}),
		pendingArgs: make(map[string]*strings.Builder),
	}
	c.gate = newReadyGate(c.greet)
	return c
}

// post delivers an event to the loop unless the loop has already exited.
func (c *realtimeCall) post(ev rtEvent) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *realtimeCall) readCarrier(cc *carrier.Conn) {
	for {
		data, err := cc.ReadMessage()
		if err != nil {
			c.post(rtEvent{kind: rtCarrierClosed, err: err})
			return
		}
		var msg carrier.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("warning: malformed carrier frame on call %s: %v", c.sess.ID, err)
			continue
		}
		c.post(rtEvent{kind: rtCarrierFrame, frame: &msg})
	}
}

func (c *realtimeCall) readProvider(provider *openairt.Conn) {
	for {
		ev, err := provider.ReadEvent()
		if err != nil {
			c.post(rtEvent{kind: rtProviderClosed, err: err})
			return
		}
		c.post(rtEvent{kind: rtProviderEvent, provider: &ev})
	}
}

func (c *realtimeCall) fetchProfile() {
	profile, err := c.bridge.tenants.TenantProfile(c.sess.TenantID)
	if err != nil {
		c.post(rtEvent{kind: rtProfileErr, err: err})
		return
	}
	c.post(rtEvent{kind: rtProfile, profile: &profile})
}

func (c *realtimeCall) run(ctx context.Context) {
	defer close(c.quit)

	if !c.sess.SetHandles(connHandles{closers: []io.Closer{c.cc, c.ai}}) {
		// Session ended before the transport attached.
		_ = c.cc.Close()
		_ = c.ai.Close()
		return
	}

	if c.bridge.cfg.RecordCalls {
		rec, err := audio.NewCallRecorder(c.bridge.cfg.RecordingDir, c.sess.ID, codec.TelephonyRate)
		if err != nil {
			log.Printf("warning: recording for call %s unavailable: %v", c.sess.ID, err)
		} else {
			c.recorder = rec
		}
	}

	for !c.done {
		select {
		case <-ctx.Done():
			c.done = true
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}

	c.finish(ctx)
}

func (c *realtimeCall) handle(ctx context.Context, ev rtEvent) {
	switch ev.kind {
	case rtCarrierFrame:
		c.handleCarrier(ev.frame)
	case rtCarrierClosed:
		// Keep draining provider events briefly so the final turn's
		// transcription still lands.
		c.scheduleFinish()
	case rtProviderEvent:
		c.handleProvider(ctx, ev.provider)
	case rtProviderClosed:
		c.done = true
	case rtProfile:
		c.applyProfile(*ev.profile)
	case rtProfileErr:
		log.Printf("warning: tenant profile for call %s: %v", c.sess.ID, ev.err)
		c.done = true
	case rtFinalizeTimer:
		c.done = true
	}
}

func (c *realtimeCall) handleCarrier(msg *carrier.StreamMessage) {
	switch msg.Event {
	case carrier.EventConnected:
	case carrier.EventStart:
		if msg.Start == nil {
			break
		}
		c.streamSid = msg.Start.StreamSid
		if err := c.bridge.registry.LinkCarrierCallID(c.sess.ID, msg.Start.CallSid); err != nil {
			log.Printf("warning: link carrier call %s to session %s: %v", msg.Start.CallSid, c.sess.ID, err)
			c.done = true
			break
		}
		c.gate.Started()
	case carrier.EventMedia:
		if msg.Media == nil {
			break
		}
		if err := c.ai.AppendAudio(msg.Media.Payload); err != nil {
			log.Printf("warning: provider audio append on call %s: %v", c.sess.ID, err)
			c.scheduleFinish()
			break
		}
		c.record(msg.Media.Payload)
	case carrier.EventDTMF:
		if msg.DTMF != nil {
			c.sess.Append(session.SpeakerAction, "dtmf "+msg.DTMF.Digit)
		}
	case carrier.EventMark:
	case carrier.EventStop:
		c.scheduleFinish()
	}
}

func (c *realtimeCall) handleProvider(ctx context.Context, ev *openairt.ServerEvent) {
	switch ev.Type {
	case openairt.TypeSpeechStarted:
		// The caller started talking: flush queued playback and abort the
		// in-flight response. The clear goes out even when no response is
		// active so stale buffered audio never plays.
		c.sess.SetBargeIn(true)
		if err := c.cc.SendClear(c.streamSid); err != nil {
			log.Printf("warning: clear on call %s: %v", c.sess.ID, err)
		}
		if c.activeResponse != "" {
			_ = c.ai.CancelResponse()
		}
	case openairt.TypeResponseCreated:
		if ev.Response != nil {
			c.activeResponse = ev.Response.ID
		}
		c.sess.SetBargeIn(false)
	case openairt.TypeResponseDone:
		c.activeResponse = ""
	case openairt.TypeAudioDelta:
		if c.streamSid == "" {
			break
		}
		if err := c.cc.SendMedia(c.streamSid, ev.Delta); err != nil {
			log.Printf("warning: media to carrier on call %s: %v", c.sess.ID, err)
			c.scheduleFinish()
			break
		}
		c.record(ev.Delta)
	case openairt.TypeInputTranscript:
		c.sess.Append(session.SpeakerUser, ev.Transcript)
	case openairt.TypeOutputTranscript:
		c.sess.Append(session.SpeakerAssistant, ev.Transcript)
	case openairt.TypeFunctionArgsDelta:
		b, ok := c.pendingArgs[ev.CallID]
		if !ok {
			b = &strings.Builder{}
			c.pendingArgs[ev.CallID] = b
		}
		b.WriteString(ev.Delta)
	case openairt.TypeFunctionArgsDone:
		c.handleToolCall(ctx, ev)
	case openairt.TypeError:
		if isCancelRace(ev.Error) {
			// Cancelling a response that finished first; expected after
			// barge-in.
			break
		}
		if ev.Error != nil {
			log.Printf("warning: realtime provider error on call %s: %s %s", c.sess.ID, ev.Error.Code, ev.Error.Message)
		}
	}
}

func (c *realtimeCall) handleToolCall(ctx context.Context, ev *openairt.ServerEvent) {
	argsJSON := ev.Arguments
	if b, ok := c.pendingArgs[ev.CallID]; ok {
		if argsJSON == "" {
			argsJSON = b.String()
		}
		delete(c.pendingArgs, ev.CallID)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		// Malformed arguments are the model's problem: hand them back as a
		// tool error and let it retry.
		_ = c.ai.SendFunctionOutput(ev.CallID, toolErrorJSON("arguments are not valid JSON"))
		_ = c.ai.CreateResponse("")
		return
	}

	c.sess.Append(session.SpeakerAction, "tool "+ev.Name+" "+argsJSON)

	tc := ai.ToolContext{
		TenantID:  c.sess.TenantID,
		SessionID: c.sess.ID,
		ContactID: c.sess.ContactID,
	}
	output, err := c.bridge.tools.Execute(ctx, tc, ev.Name, args)
	if err != nil {
		output = toolErrorJSON(err.Error())
	}

	if err := c.ai.SendFunctionOutput(ev.CallID, output); err != nil {
		log.Printf("warning: tool output for call %s: %v", c.sess.ID, err)
		return
	}
	if err := c.ai.CreateResponse(""); err != nil {
		log.Printf("warning: response after tool on call %s: %v", c.sess.ID, err)
	}
}

// applyProfile pushes the tenant's voice configuration to the provider.
// Audio stays in the carrier's own G.711 encoding so media frames forward
// unmodified in both directions.
func (c *realtimeCall) applyProfile(profile storage.TenantProfile) {
	c.profile = profile

	update := openairt.SessionPayload{
		Modalities:        []string{"audio", "text"},
		Instructions:      profile.SystemPrompt,
		Voice:             profile.Voice,
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "g711_ulaw",
		InputAudioTranscription: &openairt.TranscriptionConfig{
			Model: "whisper-1",
		},
		TurnDetection: &openairt.TurnDetection{
			Type:              "server_vad",
			SilenceDurationMs: 500,
		},
		Tools: c.toolSchema(),
	}
	if err := c.ai.UpdateSession(update); err != nil {
		log.Printf("warning: session update for call %s: %v", c.sess.ID, err)
		c.done = true
		return
	}

	c.gate.Configured()
}

func (c *realtimeCall) toolSchema() []openairt.Tool {
	names := c.bridge.tools.Names()
	tools := make([]openairt.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, openairt.Tool{
			Type:       "function",
			Name:       name,
			Parameters: json.RawMessage(`{"type":"object","additionalProperties":true}`),
		})
	}
	return tools
}

// greet fires once the session is configured and the carrier stream has
// started, in whichever order those happened. Only outbound calls are
// greeted; on inbound calls the caller speaks first.
func (c *realtimeCall) greet() {
	if c.sess.Direction != session.DirectionOutbound || c.profile.Greeting == "" {
		return
	}
	if err := c.ai.CreateResponse("Greet the caller by saying exactly: " + c.profile.Greeting); err != nil {
		log.Printf("warning: greeting for call %s: %v", c.sess.ID, err)
	}
}

func (c *realtimeCall) record(payload string) {
	if c.recorder == nil {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return
	}
	_ = c.recorder.WriteMuLaw(raw)
}

func (c *realtimeCall) scheduleFinish() {
	if c.finishTimer != nil {
		return
	}
	c.finishTimer = time.AfterFunc(c.bridge.cfg.FinalizeDelay, func() {
		c.post(rtEvent{kind: rtFinalizeTimer})
	})
}

func (c *realtimeCall) finish(ctx context.Context) {
	if c.finishTimer != nil {
		c.finishTimer.Stop()
	}

	c.sess.FinalizeOnce(func() {
		if c.recorder != nil {
			if path, err := c.recorder.Close(); err != nil {
				log.Printf("warning: recording for call %s failed: %v", c.sess.ID, err)
			} else if path != "" {
				c.sess.SetRecordingPath(path)
			}
		}
		finalizeSession(ctx, c.bridge.registry, c.bridge.finalizer, c.sess)
	})

	_ = c.cc.Close()
	_ = c.ai.Close()
}

func isCancelRace(e *openairt.ErrorPayload) bool {
	if e == nil {
		return false
	}
	return e.Code == "response_cancel_not_active" ||
		strings.Contains(e.Message, "no active response")
}

func toolErrorJSON(msg string) string {
	out, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(out)
}
