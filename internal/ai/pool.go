package ai

import (
	"strings"
	"sync"
)

// Keys holds the per-provider credentials the pool can draw on.
type Keys struct {
	OpenAI        string
	Anthropic     string
	Gemini        string
	OpenAIBaseURL string
}

// ResponderPool hands out responders by model spec, building one client
// per spec and reusing it across calls. An empty spec selects the
// default.
type ResponderPool struct {
	defaultSpec string
	keys        Keys

	mu    sync.Mutex
	cache map[string]Responder
}

func NewResponderPool(defaultSpec string, keys Keys) *ResponderPool {
	return &ResponderPool{
		defaultSpec: defaultSpec,
		keys:        keys,
		cache:       make(map[string]Responder),
	}
}

func (p *ResponderPool) ResponderFor(spec string) (Responder, error) {
	if spec == "" {
		spec = p.defaultSpec
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.cache[spec]; ok {
		return r, nil
	}

	key := p.keys.OpenAI
	baseURL := p.keys.OpenAIBaseURL
	switch {
	case strings.HasPrefix(spec, "anthropic/"):
		key, baseURL = p.keys.Anthropic, ""
	case strings.HasPrefix(spec, "gemini/"):
		key, baseURL = p.keys.Gemini, ""
	}

	r, err := NewResponder(spec, key, baseURL)
	if err != nil {
		return nil, err
	}
	p.cache[spec] = r
	return r, nil
}
