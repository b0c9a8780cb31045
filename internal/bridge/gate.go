package bridge

import "sync"

// readyGate holds the greeting until both the carrier's start frame and
// the tenant configuration have been applied, in whichever order they
// arrive, and fires at most once.
type readyGate struct {
	mu         sync.Mutex
	configured bool
	started    bool
	fired      bool
	fn         func()
}

func newReadyGate(fn func()) *readyGate {
	return &readyGate{fn: fn}
}

func (g *readyGate) Configured() {
	g.signal(func() { g.configured = true })
}

func (g *readyGate) Started() {
	g.signal(func() { g.started = true })
}

func (g *readyGate) signal(set func()) {
	g.mu.Lock()
	set()
	fire := g.configured && g.started && !g.fired
	if fire {
		g.fired = true
	}
	g.mu.Unlock()

	if fire {
		g.fn()
	}
}
