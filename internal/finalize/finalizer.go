// Package finalize turns an ended call session into a durable record:
// transcript, derived duration, and a best-effort AI summary.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

// ErrEmptyTranscript signals that the call produced nothing worth
// persisting (answered and immediately dropped). Not a failure.
var ErrEmptyTranscript = errors.New("call ended with empty transcript")

type Summarizer interface {
	Summarize(ctx context.Context, callID, transcript string) (string, error)
}

type CallStore interface {
	SaveCall(rec storage.CallRecord) error
}

type Finalizer struct {
	store      CallStore
	summarizer Summarizer
}

func New(store CallStore, summarizer Summarizer) *Finalizer {
	return &Finalizer{store: store, summarizer: summarizer}
}

// Finalize assembles and persists the call record. A summary failure is
// logged and the record is persisted without one; persistence failures
// are returned but must not crash the calling bridge.
func (f *Finalizer) Finalize(ctx context.Context, s *session.Session) error {
	history := s.History()
	if len(history) == 0 {
		return ErrEmptyTranscript
	}

	summary := ""
	if f.summarizer != nil {
		text, err := f.summarizer.Summarize(ctx, s.ID, formatTranscript(history))
		if err != nil {
			log.Printf("warning: summary for call %s failed: %v", s.ID, err)
		} else {
			summary = text
		}
	}

	rec := storage.CallRecord{
		SessionID:     s.ID,
		CarrierCallID: s.CarrierCallID(),
		TenantID:      s.TenantID,
		ContactID:     s.ContactID,
		Method:        string(s.Method),
		Direction:     string(s.Direction),
		StartedAt:     s.StartTime(),
		EndedAt:       s.EndTime(),
		Summary:       summary,
		Escalated:     s.Escalated(),
		RecordingPath: s.RecordingPath(),
		Transcript:    history,
	}

	if err := f.store.SaveCall(rec); err != nil {
		return fmt.Errorf("persist call %s: %w", s.ID, err)
	}
	return nil
}

func formatTranscript(history []session.Entry) string {
	var b strings.Builder
	for _, e := range history {
		b.WriteString(string(e.Speaker))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}
