// Package session tracks per-call mutable state and the process-wide
// registry of active calls. A session is created before any transport
// connects, owned by exactly one protocol bridge for the duration of the
// call, and retired by the registry's background sweep after it ends.
package session

import (
	"strings"
	"sync"
	"time"
)

// Method selects which protocol bridge drives the call.
type Method string

const (
	MethodRealtime Method = "realtime"
	MethodLegacy   Method = "legacy"
	MethodRelay    Method = "relay"
)

// Direction of the call relative to the carrier.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status transitions are monotonic: initializing -> active -> ended.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusEnded        Status = "ended"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"

	// SpeakerAction marks tool invocations and other call events. Action
	// entries are never merged with adjacent turns so each stays
	// individually auditable.
	SpeakerAction Speaker = "action"
)

// Entry is one turn in a call transcript. Sequence numbers strictly
// increase within a session.
type Entry struct {
	Sequence  int       `json:"sequence"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Handles owns the provider-side connections for one call method. CloseAll
// must be safe to invoke more than once.
type Handles interface {
	CloseAll()
}

// Session is the mutable state for one phone call. Identity fields are
// immutable after creation; everything else is guarded by mu. The owning
// bridge is the only writer of transcript and handles, but status
// transitions may arrive concurrently from registry operations.
type Session struct {
	ID        string
	TenantID  string
	ContactID string
	Method    Method
	Direction Direction

	mu            sync.Mutex
	carrierCallID string
	status        Status
	history       []Entry
	seq           int
	bargeIn       bool
	escalated     bool
	handles       Handles
	recordingPath string
	startTime     time.Time
	endTime       time.Time

	finalizeOnce sync.Once
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) CarrierCallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carrierCallID
}

// SetHandles hands provider connections to the session for lifetime
// management. Ignored once the session has ended: the caller keeps
// responsibility for closing handles it could not hand over.
func (s *Session) SetHandles(h Handles) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return false
	}
	s.handles = h
	return true
}

// SetBargeIn updates the barge-in flag and reports whether the value
// changed, so callers emit at most one clear instruction per episode.
func (s *Session) SetBargeIn(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bargeIn == active {
		return false
	}
	s.bargeIn = active
	return true
}

func (s *Session) BargeIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bargeIn
}

// MarkEscalated records that the conversational collaborator requested a
// human handoff.
func (s *Session) MarkEscalated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalated = true
}

func (s *Session) Escalated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalated
}

// SetRecordingPath records where the call audio artifact was written.
func (s *Session) SetRecordingPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordingPath = path
}

func (s *Session) RecordingPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordingPath
}

// History returns a copy of the transcript in sequence order.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

func (s *Session) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// Duration is derived from the wall-clock bounds, never stored.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTime.IsZero() {
		return 0
	}
	end := s.endTime
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(s.startTime)
}

// FinalizeOnce runs fn at most once per session, no matter how many
// teardown paths (carrier disconnect, provider disconnect, sweep) race to
// invoke it.
func (s *Session) FinalizeOnce(fn func()) {
	s.finalizeOnce.Do(fn)
}

// end performs the session-local part of teardown: closes handles exactly
// once and records the end time. Returns false if already ended.
func (s *Session) end() bool {
	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		return false
	}
	s.status = StatusEnded
	s.endTime = time.Now().UTC()
	h := s.handles
	s.handles = nil
	s.mu.Unlock()

	if h != nil {
		// Individual close errors are the handle owner's problem;
		// teardown keeps going regardless.
		h.CloseAll()
	}
	return true
}

func trimJoin(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" {
		return b
	}
	return a + " " + b
}
