// Package summary produces short AI-generated call summaries for the
// finalizer. Summaries are best-effort: callers persist the call record
// whether or not one could be produced.
package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// IdempotencyStore claims summary requests so retried finalizations do
// not re-bill the same transcript.
type IdempotencyStore interface {
	ClaimSummaryRequest(callID, promptHash string) (bool, error)
}

type OpenAI struct {
	client *openai.Client
	model  string
	store  IdempotencyStore
	sleep  func(time.Duration)
}

func NewOpenAI(apiKey, model string, store IdempotencyStore) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model, store)
}

func NewOpenAIWithConfig(config openai.ClientConfig, model string, store IdempotencyStore) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
		store:  store,
		sleep:  time.Sleep,
	}
}

// Summarize returns a short summary of the call transcript, or "" for
// transcripts too short to be worth summarizing.
func (s *OpenAI) Summarize(ctx context.Context, callID, transcript string) (string, error) {
	if len(strings.Fields(transcript)) < 10 {
		return "", nil
	}

	hash := sha256.Sum256([]byte(transcript))
	promptHash := hex.EncodeToString(hash[:])

	if s.store != nil {
		claimed, err := s.store.ClaimSummaryRequest(callID, promptHash)
		if err != nil {
			return "", fmt.Errorf("claim summary request: %w", err)
		}
		if !claimed {
			return "", nil
		}
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Summarize this phone call between a customer and an AI support agent in two or three sentences. State who called, what they wanted, and any follow-up needed. Mention explicitly if the caller asked for a human.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript,
			},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}

	return "", fmt.Errorf("call summary failed after retries: %w", lastErr)
}
