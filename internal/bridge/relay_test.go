package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/ai"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/carrier"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
)

type relayFixture struct {
	registry  *session.Registry
	finalizer *finalizerStub
	responder *responderStub
	sess      *session.Session
	relay     *fakeRelay
	call      *relayCall
}

func newRelayFixture(t *testing.T, responder *responderStub) *relayFixture {
	return newRelayFixtureDirected(t, responder, session.DirectionInbound)
}

func newRelayFixtureDirected(t *testing.T, responder *responderStub, direction session.Direction) *relayFixture {
	t.Helper()

	registry := session.NewRegistry(time.Minute, time.Minute)
	t.Cleanup(registry.Stop)

	finalizer := &finalizerStub{}
	bridge := NewRelay(registry, finalizer, &tenantsStub{profile: testProfile()}, &responderSourceStub{responder: responder})

	sess := registry.Create("tn-1", "contact-1", session.MethodRelay, direction)
	relay := &fakeRelay{}

	return &relayFixture{
		registry:  registry,
		finalizer: finalizer,
		responder: responder,
		sess:      sess,
		relay:     relay,
		call:      newRelayCall(bridge, sess, relay, testProfile(), responder),
	}
}

func (f *relayFixture) frame(msg carrier.RelayMessage) {
	f.call.handle(context.Background(), relayEvent{kind: relayFrame, frame: &msg})
}

func TestRelaySetupLinksAndGreets(t *testing.T) {
	f := newRelayFixtureDirected(t, &responderStub{}, session.DirectionOutbound)

	f.frame(carrier.RelayMessage{Type: carrier.RelaySetup, CallSid: "CA200"})

	got, ok := f.registry.GetByCarrierCallID("CA200")
	if !ok || got.ID != f.sess.ID {
		t.Error("setup did not link the carrier call id")
	}

	if f.relay.tokenCount() != 1 {
		t.Fatalf("expected one greeting token, got %d", f.relay.tokenCount())
	}
	if tok := f.relay.tokens[0]; !tok.last || tok.text != testProfile().Greeting {
		t.Errorf("greeting token = %+v", tok)
	}

	history := f.sess.History()
	if len(history) != 1 || history[0].Speaker != session.SpeakerAssistant {
		t.Fatalf("history = %+v, want the greeting as an assistant entry", history)
	}
}

func TestRelayInboundSetupLinksWithoutGreeting(t *testing.T) {
	f := newRelayFixture(t, &responderStub{})

	f.frame(carrier.RelayMessage{Type: carrier.RelaySetup, CallSid: "CA202"})

	if _, ok := f.registry.GetByCarrierCallID("CA202"); !ok {
		t.Error("setup did not link the carrier call id")
	}
	if f.relay.tokenCount() != 0 {
		t.Fatalf("inbound calls must not be greeted, got %d tokens", f.relay.tokenCount())
	}
	if history := f.sess.History(); len(history) != 0 {
		t.Fatalf("history = %+v, want empty", history)
	}
}

func TestRelayPromptProducesTokensWithLastFlag(t *testing.T) {
	responder := &responderStub{reply: ai.Reply{Text: "Your order shipped yesterday. It arrives tomorrow."}}
	f := newRelayFixture(t, responder)

	f.frame(carrier.RelayMessage{Type: carrier.RelayPrompt, VoicePrompt: "where is my order"})

	waitUntil(t, "reply tokens", func() bool { return f.relay.tokenCount() == 2 })

	f.relay.mu.Lock()
	tokens := append([]relayToken(nil), f.relay.tokens...)
	f.relay.mu.Unlock()

	if tokens[0].last {
		t.Error("first token must not carry the last flag")
	}
	if !tokens[1].last {
		t.Error("final token must carry the last flag")
	}
	joined := tokens[0].text + tokens[1].text
	if joined != "Your order shipped yesterday. It arrives tomorrow." {
		t.Errorf("joined tokens = %q", joined)
	}

	if got := responder.utterance; got != "where is my order" {
		t.Errorf("responder utterance = %q", got)
	}

	waitUntil(t, "transcript", func() bool { return len(f.sess.History()) == 2 })
	history := f.sess.History()
	if history[0].Speaker != session.SpeakerUser || history[1].Speaker != session.SpeakerAssistant {
		t.Errorf("history = %+v", history)
	}
}

func TestRelayInterruptAbortsPendingReply(t *testing.T) {
	responder := &responderStub{
		reply: ai.Reply{Text: "This reply never makes it out."},
		block: make(chan struct{}),
	}
	f := newRelayFixture(t, responder)

	f.frame(carrier.RelayMessage{Type: carrier.RelayPrompt, VoicePrompt: "tell me a long story"})
	waitUntil(t, "responder call", func() bool { return responder.callCount() == 1 })

	f.frame(carrier.RelayMessage{Type: carrier.RelayInterrupt})
	close(responder.block)

	time.Sleep(50 * time.Millisecond)
	if f.relay.tokenCount() != 0 {
		t.Fatalf("expected no tokens after interrupt, got %d", f.relay.tokenCount())
	}
}

func TestRelayConverseFailureSendsApology(t *testing.T) {
	responder := &responderStub{err: context.DeadlineExceeded}
	f := newRelayFixture(t, responder)

	f.frame(carrier.RelayMessage{Type: carrier.RelayPrompt, VoicePrompt: "help"})

	waitUntil(t, "apology token", func() bool { return f.relay.tokenCount() > 0 })

	f.relay.mu.Lock()
	defer f.relay.mu.Unlock()
	last := f.relay.tokens[len(f.relay.tokens)-1]
	if !last.last {
		t.Error("apology must end with the last flag")
	}
	if !strings.Contains(f.relay.tokens[0].text, "sorry") {
		t.Errorf("token %q is not an apology", f.relay.tokens[0].text)
	}
}

func TestRelayDTMFAndEmptyPromptIgnoredInTranscript(t *testing.T) {
	f := newRelayFixture(t, &responderStub{})

	f.frame(carrier.RelayMessage{Type: carrier.RelayDTMF, Digit: "9"})
	f.frame(carrier.RelayMessage{Type: carrier.RelayPrompt, VoicePrompt: "   "})

	history := f.sess.History()
	if len(history) != 1 || history[0].Text != "dtmf 9" {
		t.Fatalf("history = %+v, want only the dtmf action", history)
	}
	if f.responder.callCount() != 0 {
		t.Error("blank prompt must not reach the responder")
	}
}

func TestRelayCloseFinalizesOnce(t *testing.T) {
	f := newRelayFixture(t, &responderStub{})

	done := make(chan struct{})
	go func() {
		f.call.run(context.Background())
		close(done)
	}()

	f.call.post(relayEvent{kind: relayFrame, frame: &carrier.RelayMessage{Type: carrier.RelaySetup, CallSid: "CA201"}})
	f.call.post(relayEvent{kind: relayClosed})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call loop did not exit after close")
	}

	if f.finalizer.callCount() != 1 {
		t.Fatalf("expected 1 finalize, got %d", f.finalizer.callCount())
	}
	if f.sess.Status() != session.StatusEnded {
		t.Errorf("session status = %q, want ended", f.sess.Status())
	}

	f.call.finish(context.Background())
	if f.finalizer.callCount() != 1 {
		t.Fatal("finalize ran twice")
	}
}
