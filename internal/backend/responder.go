package backend

import (
	"context"
	"fmt"

	ctxengine "github.com/user/coachchat/internal/context"
	"github.com/user/coachchat/internal/types"
	"github.com/user/coachchat/pkg/llm"
)

// Replier produces the assistant's answer to the last message of history.
type Replier interface {
	Reply(ctx context.Context, thread *types.Thread, history []types.LogEntry, aux map[string]any) (*llm.Response, error)
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, thread *types.Thread, history []types.LogEntry, aux map[string]any) (*llm.Response, error)

func (f ReplierFunc) Reply(ctx context.Context, thread *types.Thread, history []types.LogEntry, aux map[string]any) (*llm.Response, error) {
	return f(ctx, thread, history, aux)
}

// Responder answers through an LLM provider with a token-budgeted prompt.
type Responder struct {
	provider llm.Provider
	engine   *ctxengine.Engine
}

// NewResponder creates a Responder with the given dependencies.
func NewResponder(provider llm.Provider, engine *ctxengine.Engine) *Responder {
	return &Responder{provider: provider, engine: engine}
}

func (r *Responder) Reply(ctx context.Context, thread *types.Thread, history []types.LogEntry, aux map[string]any) (*llm.Response, error) {
	messages, err := r.engine.BuildPrompt(thread, history, aux)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	resp, err := r.provider.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("LLM call: %w", err)
	}
	return resp, nil
}
