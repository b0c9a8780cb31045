package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/ai"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/carrier"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

type legacyFixture struct {
	registry   *session.Registry
	finalizer  *finalizerStub
	responder  *responderStub
	recognizer *fakeRecognizer
	sess       *session.Session
	media      *fakeMedia
	call       *legacyCall
}

func newLegacyFixture(t *testing.T, responder *responderStub) *legacyFixture {
	profile := testProfile()
	profile.Greeting = "" // most tests drive turns directly
	return newLegacyFixtureWithProfile(t, responder, profile, session.DirectionInbound)
}

func newLegacyFixtureWithProfile(t *testing.T, responder *responderStub, profile storage.TenantProfile, direction session.Direction) *legacyFixture {
	t.Helper()

	registry := session.NewRegistry(time.Minute, time.Minute)
	t.Cleanup(registry.Stop)

	finalizer := &finalizerStub{}
	bridge := NewLegacy(registry, finalizer, &tenantsStub{profile: profile}, &responderSourceStub{responder: responder}, LegacyConfig{
		DeepgramAPIKey: "dg-key",
		OpenAIAPIKey:   "oa-key",
	})

	sess := registry.Create("tn-1", "contact-1", session.MethodLegacy, direction)
	media := &fakeMedia{}
	recognizer := &fakeRecognizer{}

	call := newLegacyCall(bridge, sess, media, profile, responder)
	call.rec = recognizer
	call.audioSink = recognizer
	call.synth = &fakeSynth{samples: 480}
	call.streamSid = "MZ1"

	return &legacyFixture{
		registry:   registry,
		finalizer:  finalizer,
		responder:  responder,
		recognizer: recognizer,
		sess:       sess,
		media:      media,
		call:       call,
	}
}

func TestLegacyInterimTriggersSingleClear(t *testing.T) {
	f := newLegacyFixture(t, &responderStub{})
	ctx := context.Background()

	f.call.handle(ctx, legacyEvent{kind: legInterim, text: "hel"})
	f.call.handle(ctx, legacyEvent{kind: legInterim, text: "hello th"})

	if f.media.clearCount() != 1 {
		t.Fatalf("expected exactly one clear for a caller turn, got %d", f.media.clearCount())
	}
	if !f.sess.BargeIn() {
		t.Error("expected barge-in flag set")
	}
}

func TestLegacyGreetingOnlyOnOutboundCalls(t *testing.T) {
	start := &carrier.StreamMessage{
		Event: carrier.EventStart,
		Start: &carrier.StartPayload{StreamSid: "MZ1", CallSid: "CA300"},
	}

	out := newLegacyFixtureWithProfile(t, &responderStub{}, testProfile(), session.DirectionOutbound)
	out.call.handle(context.Background(), legacyEvent{kind: legCarrierFrame, frame: start})

	waitUntil(t, "greeting playback", func() bool { return out.media.mediaCount() > 0 })
	waitUntil(t, "greeting transcript", func() bool {
		h := out.sess.History()
		return len(h) == 1 && h[0].Speaker == session.SpeakerAssistant && h[0].Text == testProfile().Greeting
	})

	in := newLegacyFixtureWithProfile(t, &responderStub{}, testProfile(), session.DirectionInbound)
	start.Start.CallSid = "CA301"
	in.call.handle(context.Background(), legacyEvent{kind: legCarrierFrame, frame: start})

	time.Sleep(50 * time.Millisecond)
	if in.media.mediaCount() != 0 {
		t.Errorf("inbound calls must not be greeted, sent %d frames", in.media.mediaCount())
	}
	if history := in.sess.History(); len(history) != 0 {
		t.Errorf("history = %+v, want empty", history)
	}
}

func TestLegacyUtteranceDrivesResponderAndPlayback(t *testing.T) {
	responder := &responderStub{reply: ai.Reply{Text: "Let me check. One moment please."}}
	f := newLegacyFixture(t, responder)
	ctx := context.Background()

	f.sess.Append(session.SpeakerAssistant, "Thanks for calling.")

	f.call.handle(ctx, legacyEvent{kind: legInterim, text: "where"})
	f.call.handle(ctx, legacyEvent{kind: legFinal, text: "where is"})
	f.call.handle(ctx, legacyEvent{kind: legFinal, text: "my order"})
	f.call.handle(ctx, legacyEvent{kind: legUtteranceEnd})

	waitUntil(t, "playback", func() bool { return f.media.mediaCount() > 0 })

	if got := responder.utterance; got != "where is my order" {
		t.Errorf("utterance = %q, want the joined final segments", got)
	}
	for _, e := range responder.history {
		if e.Text == "where is my order" {
			t.Error("history must not contain the in-flight utterance")
		}
	}
	if len(responder.history) != 1 {
		t.Errorf("history length = %d, want 1", len(responder.history))
	}

	waitUntil(t, "assistant transcript", func() bool {
		h := f.sess.History()
		return len(h) == 3 && h[2].Speaker == session.SpeakerAssistant
	})
	history := f.sess.History()
	if history[1].Speaker != session.SpeakerUser || history[1].Text != "where is my order" {
		t.Errorf("user entry = %+v", history[1])
	}
	if history[2].Text != "Let me check. One moment please." {
		t.Errorf("assistant entry = %+v", history[2])
	}
	if f.sess.BargeIn() {
		t.Error("barge-in flag must reset when the utterance is consumed")
	}
}

// gatedSynth blocks each synthesis until released so tests control where
// in the reply the caller barges in.
type gatedSynth struct {
	release chan struct{}
	samples int
}

func (s *gatedSynth) Synthesize(ctx context.Context, _, _ string) ([]int16, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return make([]int16, s.samples), nil
}

func TestLegacyBargeInAbandonsRemainingSegments(t *testing.T) {
	responder := &responderStub{reply: ai.Reply{Text: "First sentence. Second sentence. Third sentence."}}
	f := newLegacyFixture(t, responder)
	synth := &gatedSynth{release: make(chan struct{}), samples: 480}
	f.call.synth = synth
	ctx := context.Background()

	f.call.handle(ctx, legacyEvent{kind: legFinal, text: "tell me everything"})
	f.call.handle(ctx, legacyEvent{kind: legUtteranceEnd})

	// Let the first sentence through: 480 samples is 3 full frames.
	synth.release <- struct{}{}
	waitUntil(t, "first segment playback", func() bool { return f.media.mediaCount() == 3 })

	// Caller talks over the reply before the second sentence renders.
	f.call.handle(ctx, legacyEvent{kind: legInterim, text: "wait"})

	time.Sleep(50 * time.Millisecond)
	if f.media.mediaCount() != 3 {
		t.Errorf("expected playback cut after the first segment, sent %d frames", f.media.mediaCount())
	}
	if f.media.clearCount() != 1 {
		t.Errorf("expected one clear, got %d", f.media.clearCount())
	}
}

func TestLegacyEmptyUtteranceEndResetsBargeIn(t *testing.T) {
	f := newLegacyFixture(t, &responderStub{})
	ctx := context.Background()

	f.call.handle(ctx, legacyEvent{kind: legInterim, text: "uh"})
	if !f.sess.BargeIn() {
		t.Fatal("expected barge-in flag set by the interim")
	}

	// Utterance end with no finals: nothing to respond to, but the turn is
	// over, so the flag resets.
	f.call.handle(ctx, legacyEvent{kind: legUtteranceEnd})

	if f.sess.BargeIn() {
		t.Error("barge-in flag must reset on an empty utterance end")
	}
	if f.responder.callCount() != 0 {
		t.Error("empty utterance must not reach the responder")
	}
}

func TestLegacyConverseFailureSpeaksApology(t *testing.T) {
	responder := &responderStub{err: context.DeadlineExceeded}
	f := newLegacyFixture(t, responder)
	ctx := context.Background()

	f.call.handle(ctx, legacyEvent{kind: legFinal, text: "help me"})
	f.call.handle(ctx, legacyEvent{kind: legUtteranceEnd})

	waitUntil(t, "apology transcript", func() bool {
		for _, e := range f.sess.History() {
			if e.Speaker == session.SpeakerAssistant && strings.Contains(e.Text, "sorry") {
				return true
			}
		}
		return false
	})
	waitUntil(t, "apology playback", func() bool { return f.media.mediaCount() > 0 })
}

func TestLegacyEscalationMarksSessionAndTranscript(t *testing.T) {
	responder := &responderStub{reply: ai.Reply{
		Text:     "I'll connect you with a colleague.",
		Metadata: ai.Metadata{Escalate: true},
	}}
	f := newLegacyFixture(t, responder)
	ctx := context.Background()

	f.call.handle(ctx, legacyEvent{kind: legFinal, text: "I want a human"})
	f.call.handle(ctx, legacyEvent{kind: legUtteranceEnd})

	waitUntil(t, "escalation", func() bool { return f.sess.Escalated() })

	waitUntil(t, "escalation action entry", func() bool {
		for _, e := range f.sess.History() {
			if e.Speaker == session.SpeakerAction && strings.Contains(e.Text, "escalated") {
				return true
			}
		}
		return false
	})
}

func TestLegacyStopPersistsBeforeRecognizerTeardown(t *testing.T) {
	order := &callOrder{}
	f := newLegacyFixture(t, &responderStub{})
	f.finalizer.order = order
	f.recognizer.order = order

	f.sess.Append(session.SpeakerUser, "hello")

	done := make(chan struct{})
	go func() {
		f.call.run(context.Background())
		close(done)
	}()

	f.call.post(legacyEvent{kind: legCarrierFrame, frame: &carrier.StreamMessage{Event: carrier.EventStop}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call loop did not exit after stop")
	}

	steps := order.steps()
	if len(steps) != 2 || steps[0] != "finalize" || steps[1] != "recognizer stop" {
		t.Fatalf("teardown order = %v, want finalize before recognizer stop", steps)
	}
	if f.finalizer.callCount() != 1 {
		t.Fatalf("expected 1 finalize, got %d", f.finalizer.callCount())
	}
	if f.sess.Status() != session.StatusEnded {
		t.Errorf("session status = %q, want ended", f.sess.Status())
	}
}

func TestLegacyDTMFRecordedAsAction(t *testing.T) {
	f := newLegacyFixture(t, &responderStub{})

	f.call.handle(context.Background(), legacyEvent{kind: legCarrierFrame, frame: &carrier.StreamMessage{
		Event: carrier.EventDTMF,
		DTMF:  &carrier.DTMFPayload{Digit: "5"},
	}})

	history := f.sess.History()
	if len(history) != 1 || history[0].Speaker != session.SpeakerAction || history[0].Text != "dtmf 5" {
		t.Fatalf("history = %+v, want one dtmf action entry", history)
	}
}

func TestLegacyMediaFeedsRecognizerAsLinearPCM(t *testing.T) {
	f := newLegacyFixture(t, &responderStub{})

	// Two mu-law silence bytes decode to two 16-bit samples.
	f.call.handle(context.Background(), legacyEvent{kind: legCarrierFrame, frame: &carrier.StreamMessage{
		Event: carrier.EventMedia,
		Media: &carrier.MediaPayload{Payload: "//8="},
	}})

	f.recognizer.mu.Lock()
	defer f.recognizer.mu.Unlock()
	if len(f.recognizer.wrote) != 4 {
		t.Fatalf("recognizer got %d bytes, want 4", len(f.recognizer.wrote))
	}
}
