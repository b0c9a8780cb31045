// Package ai holds the gateway's view of the AI collaborators: the
// conversational responder consumed by the legacy and relay bridges and
// the finalizer, and the tool router the realtime bridge executes function
// calls through.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
)

// escalateMarker is what the model is instructed to prefix its reply with
// when the caller should be handed to a human. It is stripped before the
// reply is spoken.
const escalateMarker = "[escalate]"

// Metadata rides alongside a reply.
type Metadata struct {
	Escalate bool
}

// Reply is the collaborator's answer to one utterance.
type Reply struct {
	Text     string
	Metadata Metadata
}

// Request carries one caller utterance plus the rolling call history,
// excluding the in-flight utterance itself.
type Request struct {
	TenantID       string
	ConversationID string
	ContactID      string
	Utterance      string
	History        []session.Entry
	SystemPrompt   string
}

// Responder is the conversational collaborator: one opaque converse call.
type Responder interface {
	Converse(ctx context.Context, req Request) (Reply, error)
}

// message is the provider-neutral chat turn the provider clients consume.
type message struct {
	Role    string
	Content string
}

type completer interface {
	complete(ctx context.Context, messages []message) (string, error)
}

// LLMResponder turns converse requests into chat completions against a
// configurable provider.
type LLMResponder struct {
	client completer
}

// NewResponder builds a responder for a "provider/model" spec. Supported
// providers: openai, anthropic, gemini.
func NewResponder(spec, apiKey, baseURL string) (*LLMResponder, error) {
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid model spec %q: expected provider/model_name", spec)
	}
	provider, model := parts[0], parts[1]

	var (
		client completer
		err    error
	)
	switch provider {
	case "openai":
		client, err = newOpenAICompleter(apiKey, model, baseURL)
	case "anthropic":
		client, err = newAnthropicCompleter(apiKey, model, baseURL)
	case "gemini":
		client, err = newGeminiCompleter(apiKey, model, baseURL)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
	if err != nil {
		return nil, err
	}

	return &LLMResponder{client: client}, nil
}

func (r *LLMResponder) Converse(ctx context.Context, req Request) (Reply, error) {
	msgs := buildMessages(req)

	text, err := r.client.complete(ctx, msgs)
	if err != nil {
		return Reply{}, fmt.Errorf("converse for tenant %s: %w", req.TenantID, err)
	}

	reply := Reply{Text: strings.TrimSpace(text)}
	if lower := strings.ToLower(reply.Text); strings.HasPrefix(lower, escalateMarker) {
		reply.Metadata.Escalate = true
		reply.Text = strings.TrimSpace(reply.Text[len(escalateMarker):])
	}
	return reply, nil
}

func buildMessages(req Request) []message {
	system := req.SystemPrompt
	if system == "" {
		system = "You are a helpful phone support agent. Keep responses short and conversational."
	}
	system += "\nIf the caller explicitly asks for a human, or you cannot help after two attempts, begin your reply with " + escalateMarker + "."

	msgs := make([]message, 0, len(req.History)+2)
	msgs = append(msgs, message{Role: "system", Content: system})

	for _, e := range req.History {
		switch e.Speaker {
		case session.SpeakerUser:
			msgs = append(msgs, message{Role: "user", Content: e.Text})
		case session.SpeakerAssistant:
			msgs = append(msgs, message{Role: "assistant", Content: e.Text})
		}
		// Action entries are audit records, not conversation turns.
	}

	msgs = append(msgs, message{Role: "user", Content: req.Utterance})
	return msgs
}
