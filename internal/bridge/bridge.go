// Package bridge contains the per-call protocol bridges. Each bridge owns
// exactly one call: a reader goroutine per transport feeds typed events
// into a single loop goroutine that holds all mutable call state, so no
// call state is ever touched from two goroutines at once.
package bridge

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/ai"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/finalize"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

// apologyLine is spoken or sent when the conversational collaborator
// fails mid-call. If delivering it also fails there is nothing left to do
// but log.
const apologyLine = "I'm sorry, I'm having trouble right now. Could you say that again?"

// Finalizer persists one finished call.
type Finalizer interface {
	Finalize(ctx context.Context, s *session.Session) error
}

// TenantSource resolves the voice profile a bridge needs before any audio
// flows. A resolution failure is fatal to the call.
type TenantSource interface {
	TenantProfile(tenantID string) (storage.TenantProfile, error)
}

// ResponderSource returns the conversational collaborator for a tenant's
// configured model spec. An empty spec selects the default.
type ResponderSource interface {
	ResponderFor(modelSpec string) (ai.Responder, error)
}

// ToolCatalog is the tool router as the realtime bridge sees it: the
// allow-list for the provider's session schema plus execution.
type ToolCatalog interface {
	ai.ToolExecutor
	Names() []string
}

// connHandles adapts a call's transport connections to the session handle
// contract so registry-driven teardown can sever them.
type connHandles struct {
	closers []io.Closer
}

func (h connHandles) CloseAll() {
	for _, c := range h.closers {
		_ = c.Close()
	}
}

// finalizeSession runs the converged teardown tail: stamp the end time and
// close registered handles, then persist. Callers wrap it in the
// session's FinalizeOnce so every teardown path collapses to one run.
func finalizeSession(ctx context.Context, reg *session.Registry, fin Finalizer, s *session.Session) {
	reg.End(s.ID)

	if err := fin.Finalize(ctx, s); err != nil {
		if errors.Is(err, finalize.ErrEmptyTranscript) {
			log.Printf("call %s ended with empty transcript, skipping persistence", s.ID)
			return
		}
		log.Printf("warning: finalize call %s: %v", s.ID, err)
	}
}

// splitSentences breaks a reply into speakable segments on terminal
// punctuation so playback can be abandoned between sentences when the
// caller barges in.
func splitSentences(text string) []string {
	var segments []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				segments = append(segments, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		segments = append(segments, s)
	}
	return segments
}
