package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrToolNotAllowed is returned for tool names outside the voice-call
// allow-list.
var ErrToolNotAllowed = errors.New("tool not allowed on voice calls")

// ToolContext identifies the call a tool invocation belongs to.
type ToolContext struct {
	TenantID  string
	SessionID string
	ContactID string
}

// ToolFunc executes one tool invocation and returns a JSON-encodable
// result.
type ToolFunc func(ctx context.Context, tc ToolContext, args map[string]any) (any, error)

// ToolExecutor is the tool-execution collaborator as seen by the bridges.
type ToolExecutor interface {
	Execute(ctx context.Context, tc ToolContext, name string, args map[string]any) (string, error)
}

// ToolRouter dispatches tool invocations to registered handlers. Only
// registered names are callable: registration is the allow-list.
type ToolRouter struct {
	mu       sync.RWMutex
	handlers map[string]ToolFunc
}

func NewToolRouter() *ToolRouter {
	return &ToolRouter{handlers: make(map[string]ToolFunc)}
}

// Register adds a tool handler. Later registrations replace earlier ones.
func (r *ToolRouter) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Names returns the allow-listed tool names, for building the provider's
// tool schema.
func (r *ToolRouter) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Execute runs the named tool and returns its result as JSON.
func (r *ToolRouter) Execute(ctx context.Context, tc ToolContext, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrToolNotAllowed, name)
	}

	result, err := fn(ctx, tc, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode tool %s result: %w", name, err)
	}
	return string(encoded), nil
}
