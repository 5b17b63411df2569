// Package chatapi is the HTTP transport for the challenge assistant REST
// API. It implements types.Transport.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/coachchat/internal/types"
)

const maxBodyBytes = 1 << 20

// Config holds the connection settings for the assistant API.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the assistant endpoints of one API server.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
}

// New creates a Client. BaseURL must be an absolute URL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:       base,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) endpoint(target types.TargetID, action string) *url.URL {
	u := *c.base
	u.Path = c.base.Path + "/api/challenges/" + target.String() + "/assistant/" + action
	return &u
}

// historyResponse is the wire shape of a history page.
type historyResponse struct {
	ThreadID    json.RawMessage `json:"thread_id"`
	ChallengeID types.TargetID  `json:"challenge_id"`
	Next        *string         `json:"next"`
	Previous    *string         `json:"previous"`
	Messages    []types.Message `json:"messages"`
}

type sendRequest struct {
	Message     string         `json:"message"`
	ChallengeID types.TargetID `json:"challenge_id"`
	Context     map[string]any `json:"context,omitempty"`
}

type sendResponse struct {
	Reply     string          `json:"reply"`
	ID        json.RawMessage `json:"id"`
	CreatedAt string          `json:"created_at"`
	Telemetry json.RawMessage `json:"telemetry"`
}

// FetchHistory fetches one page, newest-first. A cursor from a previous
// page is followed verbatim; relative cursors resolve against the base URL.
func (c *Client) FetchHistory(ctx context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
	var u *url.URL
	if req.Cursor != "" {
		ref, err := url.Parse(string(req.Cursor))
		if err != nil {
			return nil, fmt.Errorf("parse cursor: %w", err)
		}
		u = c.base.ResolveReference(ref)
	} else {
		u = c.endpoint(req.TargetID, "history")
		if req.PageSize > 0 {
			q := u.Query()
			q.Set("page_size", strconv.Itoa(req.PageSize))
			u.RawQuery = q.Encode()
		}
	}

	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	threadID, err := types.DecodeFlexibleID(resp.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("decode thread id: %w", err)
	}
	page := &types.HistoryPage{
		ThreadID: types.ThreadID(threadID),
		TargetID: resp.ChallengeID,
		Messages: resp.Messages,
	}
	if resp.Next != nil {
		page.Next = types.Cursor(*resp.Next)
	}
	if resp.Previous != nil {
		page.Previous = types.Cursor(*resp.Previous)
	}
	return page, nil
}

// Send posts a message and returns the assistant's reply. HTML replies are
// converted to Markdown.
func (c *Client) Send(ctx context.Context, req types.SendRequest) (*types.SendReply, error) {
	body := sendRequest{
		Message:     req.Text,
		ChallengeID: req.Context.TargetID,
		Context:     req.Context.Aux,
	}
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(req.Context.TargetID, "messages"), body, &resp); err != nil {
		return nil, err
	}
	id, err := types.DecodeFlexibleID(resp.ID)
	if err != nil {
		return nil, fmt.Errorf("decode message id: %w", err)
	}
	reply, err := normalizeReply(resp.Reply)
	if err != nil {
		return nil, err
	}
	return &types.SendReply{
		Reply:     reply,
		ID:        id,
		CreatedAt: resp.CreatedAt,
		Telemetry: resp.Telemetry,
	}, nil
}

// Clear asks the server to clear the conversation for target.
func (c *Client) Clear(ctx context.Context, target types.TargetID) (*types.ClearResult, error) {
	var resp types.ClearResult
	if err := c.do(ctx, http.MethodPost, c.endpoint(target, "clear"), struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do performs one JSON request. A non-2xx status becomes a
// *types.ResponseError carrying the raw body.
func (c *Client) do(ctx context.Context, method string, u *url.URL, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &types.ResponseError{Status: resp.StatusCode, Body: data}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

var htmlTag = regexp.MustCompile(`(?i)<(p|br|div|ul|ol|li|pre|code|strong|em|b|i|a|h[1-6]|blockquote|table)\b[^>]*>`)

func normalizeReply(reply string) (string, error) {
	if !htmlTag.MatchString(reply) {
		return reply, nil
	}
	md, err := htmltomarkdown.ConvertString(reply)
	if err != nil {
		return "", fmt.Errorf("convert reply to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}
