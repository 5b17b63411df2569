// Package context builds the token-budgeted prompts the reference backend
// sends to the LLM.
package context

import (
	"fmt"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/coachchat/internal/types"
	"github.com/user/coachchat/pkg/llm"
)

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
	prompt    *template.Template
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	prompt, err := ParsePrompt(DefaultPrompt)
	if err != nil {
		return nil, err
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
		prompt:    prompt,
	}, nil
}

// SetPrompt replaces the system prompt template.
func (e *Engine) SetPrompt(tmpl *template.Template) {
	e.prompt = tmpl
}

// countTokens returns the token count for a string.
func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// BuildPrompt assembles a token-budgeted prompt from a thread's history,
// which must be oldest-first and end with the student's new message. When
// the history does not fit, the oldest messages are dropped first.
func (e *Engine) BuildPrompt(thread *types.Thread, history []types.LogEntry, aux map[string]any) ([]llm.Message, error) {
	sysPrompt, err := renderPrompt(e.prompt, PromptData{
		Time:        time.Now().Format(time.RFC3339),
		ChallengeID: thread.ChallengeID.String(),
		ThreadID:    string(thread.ThreadID),
		Context:     formatContext(aux),
	})
	if err != nil {
		return nil, err
	}
	remaining := e.maxTokens - e.reserve - e.countTokens(sysPrompt)

	start := len(history)
	for start > 0 {
		cost := e.countTokens(history[start-1].Content)
		if cost > remaining {
			break
		}
		remaining -= cost
		start--
	}

	messages := make([]llm.Message, 0, 1+len(history)-start)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sysPrompt})
	for _, entry := range history[start:] {
		messages = append(messages, llm.Message{Role: string(entry.Role), Content: entry.Content})
	}
	return messages, nil
}
