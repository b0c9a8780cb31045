package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSweepInterval = time.Minute
	defaultRetention     = 5 * time.Minute
)

// Registry is the process-wide table of active call sessions, keyed by
// session id and, once linked, by carrier call id. Construct one at
// startup and inject it into bridge constructors; Stop it on shutdown.
type Registry struct {
	sweepInterval time.Duration
	retention     time.Duration

	mu        sync.RWMutex
	byID      map[string]*Session
	byCarrier map[string]*Session
	endedAt   map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry builds a registry and starts its background sweep. A zero
// sweepInterval or retention picks the default.
func NewRegistry(sweepInterval, retention time.Duration) *Registry {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	if retention <= 0 {
		retention = defaultRetention
	}

	r := &Registry{
		sweepInterval: sweepInterval,
		retention:     retention,
		byID:          make(map[string]*Session),
		byCarrier:     make(map[string]*Session),
		endedAt:       make(map[string]time.Time),
		stop:          make(chan struct{}),
	}

	go r.sweepLoop()
	return r
}

// Create allocates a fresh session in the initializing state. No side
// effects beyond registration.
func (r *Registry) Create(tenantID, contactID string, method Method, direction Direction) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ContactID: contactID,
		Method:    method,
		Direction: direction,
		status:    StatusInitializing,
		startTime: time.Now().UTC(),
	}

	r.mu.Lock()
	r.byID[s.ID] = s
	r.mu.Unlock()

	return s
}

// Get looks up a session by id. Absence is a normal condition, not an
// error: callers treat it as terminal and close their transport.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// GetByCarrierCallID resolves the reverse mapping established by
// LinkCarrierCallID.
func (r *Registry) GetByCarrierCallID(carrierCallID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byCarrier[carrierCallID]
	return s, ok
}

// LinkCarrierCallID performs the one-time association between a session
// and the carrier's call id and moves the session to active. Linking the
// same id again is a no-op; linking a different id is a logic error.
func (r *Registry) LinkCarrierCallID(id, carrierCallID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return ErrSessionEnded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return ErrSessionEnded
	}
	if s.carrierCallID != "" {
		if s.carrierCallID == carrierCallID {
			return nil
		}
		return ErrCarrierIDConflict
	}
	if other, taken := r.byCarrier[carrierCallID]; taken && other != s {
		return ErrCarrierIDTaken
	}

	s.carrierCallID = carrierCallID
	s.status = StatusActive
	r.byCarrier[carrierCallID] = s
	return nil
}

// End closes the session's provider handles, marks it ended, and removes
// the reverse carrier mapping. Idempotent and safe to call concurrently
// from carrier-side and provider-side disconnect handlers.
func (r *Registry) End(id string) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if !s.end() {
		return
	}
	cid := s.CarrierCallID()

	r.mu.Lock()
	if cid != "" && r.byCarrier[cid] == s {
		delete(r.byCarrier, cid)
	}
	r.endedAt[id] = time.Now().UTC()
	r.mu.Unlock()
}

// Active returns the sessions that have not ended, for operational
// introspection. The slice is a snapshot; sessions may end right after.
func (r *Registry) Active() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		if s.Status() != StatusEnded {
			active = append(active, s)
		}
	}
	return active
}

// Len reports the number of registered sessions, ended-but-unswept ones
// included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Stop terminates the background sweep. Registered sessions stay readable
// for late diagnostics.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// sweep removes sessions that ended longer than the retention window ago.
// The sweep is the only path that deletes registry entries.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, endedAt := range r.endedAt {
		if now.Sub(endedAt) < r.retention {
			continue
		}
		delete(r.byID, id)
		delete(r.endedAt, id)
		log.Printf("session %s swept", id)
	}
}
