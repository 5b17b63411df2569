// Package openai talks to OpenAI-compatible chat completion endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/user/coachchat/pkg/llm"
)

const defaultTimeout = 60 * time.Second

// Client implements llm.Provider over /chat/completions.
type Client struct {
	config     *llm.Config
	endpoint   string
	httpClient *http.Client
}

func New(config *llm.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		config:     config,
		endpoint:   strings.TrimRight(config.BaseURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete returns the first choice of a non-streaming completion.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	req, err := c.newRequest(ctx, messages)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &llm.APIError{
			Status:     resp.StatusCode,
			Message:    errorMessage(body),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	first := out.Choices[0]
	return &llm.Response{
		Content:      first.Message.Content,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) newRequest(ctx context.Context, messages []llm.Message) (*http.Request, error) {
	payload := completionRequest{
		Model:     c.config.Model,
		Messages:  messages,
		MaxTokens: max(c.config.MaxTokens, 0),
	}
	// Zero means "provider default", not "greedy".
	if t := c.config.Temperature; t != 0 {
		payload.Temperature = &t
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return req, nil
}

// errorMessage extracts the provider's explanation from an error body.
// OpenAI nests it under error.message; some compatible servers use a flat
// error string instead.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "error", "message"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String {
			return r.String()
		}
	}
	return ""
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates are
// not used by chat providers and yield zero.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
