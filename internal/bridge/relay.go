package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/ai"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/carrier"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

// Relay bridges the carrier's text-relay protocol: recognition and
// synthesis happen carrier-side, so the bridge only exchanges text.
type Relay struct {
	registry   *session.Registry
	finalizer  Finalizer
	tenants    TenantSource
	responders ResponderSource
}

func NewRelay(registry *session.Registry, finalizer Finalizer, tenants TenantSource, responders ResponderSource) *Relay {
	return &Relay{
		registry:   registry,
		finalizer:  finalizer,
		tenants:    tenants,
		responders: responders,
	}
}

// relayLink is the outbound half of the relay connection.
type relayLink interface {
	SendText(token string, last bool) error
	Close() error
}

type relayEventKind int

const (
	relayFrame relayEventKind = iota
	relayClosed
)

type relayEvent struct {
	kind  relayEventKind
	frame *carrier.RelayMessage
	err   error
}

type relayCall struct {
	bridge    *Relay
	sess      *session.Session
	cc        relayLink
	responder ai.Responder
	profile   storage.TenantProfile

	events chan relayEvent
	quit   chan struct{}

	replyCancel context.CancelFunc
	done        bool
}

// Handle owns the relay connection for one call. It returns when the
// call is finalized.
func (b *Relay) Handle(ctx context.Context, sessionID string, cc *carrier.Conn) {
	sess, ok := b.registry.Get(sessionID)
	if !ok || sess.Status() == session.StatusEnded {
		log.Printf("warning: relay connect for unknown session %s", sessionID)
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

	call := newRelayCall(b, sess, cc, profile, responder)
	go call.readCarrier(cc)
	call.run(ctx)
}

func newRelayCall(b *Relay, sess *session.Session, cc relayLink, profile storage.TenantProfile, responder ai.Responder) *relayCall {
	return &relayCall{
		bridge:    b,
		sess:      sess,
		cc:        cc,
		responder: responder,
		profile:   profile,
		events:    make(chan relayEvent, 16),
		quit:      make(chan struct{}),
	}
}

func (c *relayCall) post(ev relayEvent) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *relayCall) readCarrier(cc *carrier.Conn) {
	for {
		data, err := cc.ReadMessage()
		if err != nil {
			c.post(relayEvent{kind: relayClosed, err: err})
			return
		}
		var msg carrier.RelayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("warning: malformed relay frame on call %s: %v", c.sess.ID, err)
			continue
		}
		c.post(relayEvent{kind: relayFrame, frame: &msg})
	}
}

func (c *relayCall) run(ctx context.Context) {
	defer close(c.quit)

	if !c.sess.SetHandles(connHandles{closers: []io.Closer{c.cc}}) {
		_ = c.cc.Close()
		return
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

func (c *relayCall) handle(ctx context.Context, ev relayEvent) {
	if ev.kind == relayClosed {
		c.done = true
		return
	}

	msg := ev.frame
	switch msg.Type {
	case carrier.RelaySetup:
		if err := c.bridge.registry.LinkCarrierCallID(c.sess.ID, msg.CallSid); err != nil {
			log.Printf("warning: link carrier call %s to session %s: %v", msg.CallSid, c.sess.ID, err)
			c.done = true
			break
		}
		if c.sess.Direction == session.DirectionOutbound && c.profile.Greeting != "" {
			c.sess.Append(session.SpeakerAssistant, c.profile.Greeting)
			if err := c.cc.SendText(c.profile.Greeting, true); err != nil {
				log.Printf("warning: greeting on call %s: %v", c.sess.ID, err)
			}
		}
	case carrier.RelayPrompt:
		c.handlePrompt(ctx, msg.VoicePrompt)
	case carrier.RelayInterrupt:
		// The caller spoke over playback; the carrier already stopped it,
		// so only the pending reply needs aborting.
		c.sess.SetBargeIn(true)
		if c.replyCancel != nil {
			c.replyCancel()
		}
	case carrier.RelayDTMF:
		if msg.Digit != "" {
			c.sess.Append(session.SpeakerAction, "dtmf "+msg.Digit)
		}
	case carrier.RelayError:
		log.Printf("warning: relay error on call %s: %s", c.sess.ID, msg.Description)
	}
}

func (c *relayCall) handlePrompt(ctx context.Context, prompt string) {
	text := strings.TrimSpace(prompt)
	if text == "" {
		return
	}

	c.sess.SetBargeIn(false)
	history := c.sess.History()
	c.sess.Append(session.SpeakerUser, text)

	if c.replyCancel != nil {
		c.replyCancel()
	}
	replyCtx, cancel := context.WithCancel(ctx)
	c.replyCancel = cancel

	go c.respond(replyCtx, text, history)
}

func (c *relayCall) respond(ctx context.Context, utterance string, history []session.Entry) {
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
	if reply.Text == "" {
		return
	}

	c.sess.Append(session.SpeakerAssistant, reply.Text)

	segments := splitSentences(reply.Text)
	for i, segment := range segments {
		if ctx.Err() != nil || c.sess.BargeIn() {
			return
		}
		token := segment
		if i < len(segments)-1 {
			token += " "
		}
		if err := c.cc.SendText(token, i == len(segments)-1); err != nil {
			log.Printf("warning: text to carrier on call %s: %v", c.sess.ID, err)
			return
		}
	}
}

func (c *relayCall) finish(ctx context.Context) {
	c.sess.FinalizeOnce(func() {
		if c.replyCancel != nil {
			c.replyCancel()
		}
		finalizeSession(ctx, c.bridge.registry, c.bridge.finalizer, c.sess)
	})

	_ = c.cc.Close()
}
