package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	dginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/ai"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/audio"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/carrier"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/codec"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

// frameBytes is one 20 ms G.711 frame at the telephony rate.
const frameBytes = 160

// LegacyConfig carries the recognition and synthesis provider settings
// for the legacy pipeline.
type LegacyConfig struct {
	DeepgramAPIKey string
	OpenAIAPIKey   string
	Language       string
	RecordingDir   string
	RecordCalls    bool
}

// Legacy bridges a carrier media stream through the classic pipeline:
// streaming recognition of the caller's audio, a chat completion per
// utterance, and segmented synthesis of the reply back to G.711.
type Legacy struct {
	registry   *session.Registry
	finalizer  Finalizer
	tenants    TenantSource
	responders ResponderSource
	cfg        LegacyConfig
}

func NewLegacy(registry *session.Registry, finalizer Finalizer, tenants TenantSource, responders ResponderSource, cfg LegacyConfig) *Legacy {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &Legacy{
		registry:   registry,
		finalizer:  finalizer,
		tenants:    tenants,
		responders: responders,
		cfg:        cfg,
	}
}

// Handle owns the carrier connection for one legacy call. It returns
// when the call is finalized.
func (b *Legacy) Handle(ctx context.Context, sessionID string, cc *carrier.Conn) {
	sess, ok := b.registry.Get(sessionID)
	if !ok || sess.Status() == session.StatusEnded {
		log.Printf("warning: legacy connect for unknown session %s", sessionID)
		_ = cc.Close()
		return
	}

	profile, err := b.tenants.TenantProfile(sess.TenantID)
	if err != nil {
		log.Printf("warning: tenant profile for call %s: %v", sess.ID, err)
		_ = cc.Close()
		b.registry.End(sess.ID)
		return
	}

	responder, err := b.responders.ResponderFor(profile.ResponderModel)
	if err != nil {
		log.Printf("warning: responder for call %s: %v", sess.ID, err)
		_ = cc.Close()
		b.registry.End(sess.ID)
		return
	}

	call := newLegacyCall(b, sess, cc, profile, responder)
	if err := call.connectRecognizer(ctx); err != nil {
		log.Printf("warning: recognizer for call %s: %v", sess.ID, err)
		_ = cc.Close()
		b.registry.End(sess.ID)
		return
	}

	go call.readCarrier(cc)
	call.run(ctx)
}

type legacyEventKind int

const (
	legCarrierFrame legacyEventKind = iota
	legCarrierClosed
	legInterim
	legFinal
	legUtteranceEnd
)

type legacyEvent struct {
	kind  legacyEventKind
	frame *carrier.StreamMessage
	text  string
	err   error
}

// recognizer is the streaming speech recognizer as the call loop uses
// it: PCM in, callback events out, one Stop.
type recognizer interface {
	io.Writer
	Stop()
}

// legacyCall is the single-goroutine state of one legacy call.
type legacyCall struct {
	bridge    *Legacy
	sess      *session.Session
	cc        mediaLink
	rec       recognizer
	audioSink io.Writer
	synth     synthesizer
	responder ai.Responder
	profile   storage.TenantProfile

	events chan legacyEvent
	quit   chan struct{}

	streamSid   string
	pending     []string
	speakCancel context.CancelFunc
	recorder    *audio.CallRecorder
	done        bool
}

func newLegacyCall(b *Legacy, sess *session.Session, cc mediaLink, profile storage.TenantProfile, responder ai.Responder) *legacyCall {
	return &legacyCall{
		bridge:    b,
		sess:      sess,
		cc:        cc,
		synth:     newOpenAISynth(b.cfg.OpenAIAPIKey),
		responder: responder,
		profile:   profile,
		events:    make(chan legacyEvent, 64),
		quit:      make(chan struct{}),
	}
}

func (c *legacyCall) connectRecognizer(ctx context.Context) error {
	cOptions := &dginterfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &dginterfaces.LiveTranscriptionOptions{
		Model:          "nova-2",
		Language:       c.bridge.cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       "linear16",
		SampleRate:     codec.TelephonyRate,
		Channels:       1,
		InterimResults: true,
	}

	dg, err := listen.NewWSUsingCallback(ctx, c.bridge.cfg.DeepgramAPIKey, cOptions, tOptions, recognizerCallback{call: c})
	if err != nil {
		return fmt.Errorf("recognizer client: %w", err)
	}
	if ok := dg.Connect(); !ok {
		return fmt.Errorf("recognizer connect failed")
	}

	c.rec = dg
	return nil
}

func (c *legacyCall) post(ev legacyEvent) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *legacyCall) readCarrier(cc *carrier.Conn) {
	for {
		data, err := cc.ReadMessage()
		if err != nil {
			c.post(legacyEvent{kind: legCarrierClosed, err: err})
			return
		}
		var msg carrier.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("warning: malformed carrier frame on call %s: %v", c.sess.ID, err)
			continue
		}
		c.post(legacyEvent{kind: legCarrierFrame, frame: &msg})
	}
}

func (c *legacyCall) run(ctx context.Context) {
	defer close(c.quit)

	if !c.sess.SetHandles(connHandles{closers: []io.Closer{c.cc}}) {
		_ = c.cc.Close()
		c.rec.Stop()
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
	c.audioSink = io.Writer(c.rec)
	if c.recorder != nil {
		c.audioSink = c.recorder.Writer(c.rec)
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

func (c *legacyCall) handle(ctx context.Context, ev legacyEvent) {
	switch ev.kind {
	case legCarrierFrame:
		c.handleCarrier(ctx, ev.frame)
	case legCarrierClosed:
		c.done = true
	case legInterim:
		// First interim of a caller turn: cut playback immediately rather
		// than waiting for the final result.
		if c.sess.SetBargeIn(true) {
			if c.speakCancel != nil {
				c.speakCancel()
			}
			if err := c.cc.SendClear(c.streamSid); err != nil {
				log.Printf("warning: clear on call %s: %v", c.sess.ID, err)
			}
		}
	case legFinal:
		if ev.text != "" {
			c.pending = append(c.pending, ev.text)
		}
	case legUtteranceEnd:
		c.flushUtterance(ctx)
	}
}

func (c *legacyCall) handleCarrier(ctx context.Context, msg *carrier.StreamMessage) {
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
		if c.sess.Direction == session.DirectionOutbound && c.profile.Greeting != "" {
			greeting := ai.Reply{Text: c.profile.Greeting}
			c.startTurn(ctx, func(turnCtx context.Context) {
				c.speakReply(turnCtx, greeting)
			})
		}
	case carrier.EventMedia:
		if msg.Media == nil {
			break
		}
		raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			break
		}
		pcm := codec.PCMToBytes(codec.DecodeMuLawBytes(raw))
		if _, err := c.audioSink.Write(pcm); err != nil {
			log.Printf("warning: recognizer write on call %s: %v", c.sess.ID, err)
		}
	case carrier.EventDTMF:
		if msg.DTMF != nil {
			c.sess.Append(session.SpeakerAction, "dtmf "+msg.DTMF.Digit)
		}
	case carrier.EventMark:
	case carrier.EventStop:
		c.done = true
	}
}

// flushUtterance hands the buffered caller turn to the responder. The
// history snapshot is taken before the utterance is appended so the
// request never contains its own utterance twice.
func (c *legacyCall) flushUtterance(ctx context.Context) {
	text := strings.TrimSpace(strings.Join(c.pending, " "))
	c.pending = nil
	c.sess.SetBargeIn(false)
	if text == "" {
		return
	}

	history := c.sess.History()
	c.sess.Append(session.SpeakerUser, text)

	c.startTurn(ctx, func(turnCtx context.Context) {
		c.respond(turnCtx, text, history)
	})
}

// startTurn cancels whatever the assistant was saying and starts the next
// turn's goroutine.
func (c *legacyCall) startTurn(ctx context.Context, fn func(context.Context)) {
	if c.speakCancel != nil {
		c.speakCancel()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.speakCancel = cancel
	go fn(turnCtx)
}

func (c *legacyCall) respond(ctx context.Context, utterance string, history []session.Entry) {
	reply, err := c.responder.Converse(ctx, ai.Request{
		TenantID:       c.sess.TenantID,
		ConversationID: c.sess.ID,
		ContactID:      c.sess.ContactID,
		Utterance:      utterance,
		History:        history,
		SystemPrompt:   c.profile.SystemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("warning: converse on call %s: %v", c.sess.ID, err)
		reply = ai.Reply{Text: apologyLine}
	}

	if reply.Metadata.Escalate {
		c.sess.MarkEscalated()
		c.sess.Append(session.SpeakerAction, "escalated to human agent")
	}

	c.speakReply(ctx, reply)
}

// speakReply synthesizes and streams the reply sentence by sentence,
// abandoning the remainder as soon as the caller barges in.
func (c *legacyCall) speakReply(ctx context.Context, reply ai.Reply) {
	if reply.Text == "" {
		return
	}
	c.sess.Append(session.SpeakerAssistant, reply.Text)

	for _, segment := range splitSentences(reply.Text) {
		if ctx.Err() != nil || c.sess.BargeIn() {
			return
		}
		pcm, err := c.synth.Synthesize(ctx, segment, c.profile.Voice)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("warning: synthesis on call %s: %v", c.sess.ID, err)
			}
			return
		}
		if err := c.stream(ctx, pcm); err != nil {
			log.Printf("warning: playback on call %s: %v", c.sess.ID, err)
			return
		}
	}
}

func (c *legacyCall) stream(ctx context.Context, pcm []int16) error {
	if c.recorder != nil {
		_ = c.recorder.WritePCM(codec.PCMToBytes(pcm))
	}

	encoded := codec.EncodeMuLawBytes(pcm)
	for off := 0; off < len(encoded); off += frameBytes {
		if ctx.Err() != nil || c.sess.BargeIn() {
			return nil
		}
		end := off + frameBytes
		if end > len(encoded) {
			end = len(encoded)
		}
		payload := base64.StdEncoding.EncodeToString(encoded[off:end])
		if err := c.cc.SendMedia(c.streamSid, payload); err != nil {
			return fmt.Errorf("media to carrier: %w", err)
		}
	}
	return nil
}

func (c *legacyCall) finish(ctx context.Context) {
	c.sess.FinalizeOnce(func() {
		if c.speakCancel != nil {
			c.speakCancel()
		}
		if c.recorder != nil {
			if path, err := c.recorder.Close(); err != nil {
				log.Printf("warning: recording for call %s failed: %v", c.sess.ID, err)
			} else if path != "" {
				c.sess.SetRecordingPath(path)
			}
		}
		finalizeSession(ctx, c.bridge.registry, c.bridge.finalizer, c.sess)
		// The recognizer goes last so nothing already transcribed is lost.
		c.rec.Stop()
	})

	_ = c.cc.Close()
}

// recognizerCallback adapts the recognizer's callback interface to loop
// events. Interim results only matter for barge-in; final results are
// buffered until the recognizer declares the utterance complete.
type recognizerCallback struct {
	call *legacyCall
}

func (r recognizerCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if text == "" {
		return nil
	}

	if !mr.IsFinal {
		r.call.post(legacyEvent{kind: legInterim, text: text})
		return nil
	}

	r.call.post(legacyEvent{kind: legFinal, text: text})
	if mr.SpeechFinal {
		r.call.post(legacyEvent{kind: legUtteranceEnd})
	}
	return nil
}

func (r recognizerCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	r.call.post(legacyEvent{kind: legUtteranceEnd})
	return nil
}

func (r recognizerCallback) Open(*api.OpenResponse) error { return nil }

func (r recognizerCallback) Metadata(*api.MetadataResponse) error { return nil }

func (r recognizerCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (r recognizerCallback) Close(*api.CloseResponse) error { return nil }

func (r recognizerCallback) Error(er *api.ErrorResponse) error {
	log.Printf("warning: recognizer error on call %s: %s %s", r.call.sess.ID, er.ErrCode, er.Description)
	return nil
}

func (r recognizerCallback) UnhandledEvent([]byte) error { return nil }
