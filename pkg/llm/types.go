package llm

import (
	"fmt"
	"net/http"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// APIError is returned when the provider answered with an error status.
// Message is the provider's own explanation, if it gave one. RetryAfter is
// set when the provider said how long to back off.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("llm API error (status %d)", e.Status)
	}
	return fmt.Sprintf("llm API error (status %d): %s", e.Status, e.Message)
}

// Throttled reports whether the provider rejected the call for exceeding
// its rate limit or quota.
func (e *APIError) Throttled() bool {
	return e.Status == http.StatusTooManyRequests
}
