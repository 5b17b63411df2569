// Package llm defines the chat completion contract the assistant backend
// answers through.
package llm

import (
	"context"
	"time"
)

// Provider turns a prompt into one assistant reply.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Config is shared by provider clients. Zero MaxTokens and Temperature
// leave the provider's defaults in place.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}
