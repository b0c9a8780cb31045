package session

import (
	"strings"
	"time"
)

// Append adds a speaker turn to the transcript. Empty text is skipped.
// Consecutive turns by the same non-action speaker coalesce into one entry
// with space-joined text, folding fragmented recognition deltas into
// coherent turns. Action entries always get their own entry.
func (s *Session) Append(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.history); n > 0 && speaker != SpeakerAction {
		last := &s.history[n-1]
		if last.Speaker == speaker {
			last.Text = trimJoin(last.Text, text)
			last.Timestamp = now
			return
		}
	}

	s.seq++
	s.history = append(s.history, Entry{
		Sequence:  s.seq,
		Speaker:   speaker,
		Text:      text,
		Timestamp: now,
	})
}
