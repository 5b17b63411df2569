// Package backend is a reference implementation of the challenge assistant
// REST API, used for local development and end-to-end tests of the client.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/user/coachchat/internal/types"
	"github.com/user/coachchat/pkg/llm"
)

// Config controls limits and authentication of the Server.
type Config struct {
	// Token is the bearer token clients must present. Empty disables auth.
	Token string
	// RateLimit is the sustained number of messages per second allowed per
	// challenge; RateBurst is the bucket size.
	RateLimit float64
	RateBurst int

	DefaultPageSize  int
	MaxPageSize      int
	MaxMessageLength int
	// HistoryWindow is how many messages are passed to the Replier.
	HistoryWindow int
}

// DefaultConfig returns the limits the client is built against.
func DefaultConfig() Config {
	return Config{
		RateLimit:        0.5,
		RateBurst:        3,
		DefaultPageSize:  20,
		MaxPageSize:      100,
		MaxMessageLength: 2000,
		HistoryWindow:    50,
	}
}

// Server is an http.Handler serving the assistant endpoints.
type Server struct {
	cfg     Config
	threads types.ThreadStore
	log     types.MessageLog
	replier Replier
	mux     *http.ServeMux

	mu       sync.Mutex
	limiters map[types.TargetID]*rate.Limiter
	locks    map[types.ThreadID]*sync.Mutex
}

// NewServer creates a Server over the given stores.
func NewServer(cfg Config, threads types.ThreadStore, log types.MessageLog, replier Replier) *Server {
	def := DefaultConfig()
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = def.MaxMessageLength
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	s := &Server{
		cfg:      cfg,
		threads:  threads,
		log:      log,
		replier:  replier,
		mux:      http.NewServeMux(),
		limiters: make(map[types.TargetID]*rate.Limiter),
		locks:    make(map[types.ThreadID]*sync.Mutex),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/challenges/{id}/assistant/history", s.authed(s.handleHistory))
	s.mux.HandleFunc("POST /api/challenges/{id}/assistant/messages", s.authed(s.handleMessage))
	s.mux.HandleFunc("POST /api/challenges/{id}/assistant/clear", s.authed(s.handleClear))
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeFieldErrors reports validation failures keyed by field.
func writeFieldErrors(w http.ResponseWriter, field string, msgs ...string) {
	writeJSON(w, http.StatusBadRequest, map[string][]string{field: msgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.cfg.Token {
			writeDetail(w, http.StatusUnauthorized, "Invalid token.")
			return
		}
		next(w, r)
	}
}

func (s *Server) threadLock(id types.ThreadID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *Server) limiter(id types.TargetID) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[id]; ok {
		return l
	}
	limit := rate.Inf
	if s.cfg.RateLimit > 0 {
		limit = rate.Limit(s.cfg.RateLimit)
	}
	l := rate.NewLimiter(limit, max(s.cfg.RateBurst, 1))
	s.limiters[id] = l
	return l
}

// resolveThread parses the challenge id from the path and returns its
// thread. It writes the error response itself and returns nil on failure.
func (s *Server) resolveThread(w http.ResponseWriter, r *http.Request) *types.Thread {
	id, err := types.ParseTargetID(r.PathValue("id"))
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return nil
	}
	thread, err := s.threads.ResolveOrCreate(r.Context(), types.NewThreadKey("challenge", id.String()), id)
	if err != nil {
		slog.Error("resolve thread failed", "challenge_id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return nil
	}
	return thread
}

type historyResponse struct {
	ThreadID    types.ThreadID  `json:"thread_id"`
	ChallengeID types.TargetID  `json:"challenge_id"`
	Next        *string         `json:"next"`
	Previous    *string         `json:"previous"`
	Messages    []types.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize := s.cfg.DefaultPageSize
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeFieldErrors(w, "page_size", "A valid positive integer is required.")
			return
		}
		pageSize = min(n, s.cfg.MaxPageSize)
	}
	var before int64
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeFieldErrors(w, "before", "A valid positive integer is required.")
			return
		}
		before = n
	}

	thread := s.resolveThread(w, r)
	if thread == nil {
		return
	}
	entries, more, err := s.log.Page(r.Context(), thread.ThreadID, before, pageSize)
	if err != nil {
		slog.Error("page history failed", "thread_id", thread.ThreadID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	resp := historyResponse{
		ThreadID:    thread.ThreadID,
		ChallengeID: thread.ChallengeID,
		Messages:    make([]types.Message, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Messages = append(resp.Messages, e.Message())
	}
	if more {
		next := pageURL(r, entries[len(entries)-1].Seq, pageSize)
		resp.Next = &next
	}
	if before > 0 {
		prev := pageURL(r, 0, pageSize)
		resp.Previous = &prev
	}
	writeJSON(w, http.StatusOK, resp)
}

// pageURL builds the absolute URL of a history page.
func pageURL(r *http.Request, before int64, pageSize int) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}

type messageRequest struct {
	Message     string         `json:"message"`
	ChallengeID types.TargetID `json:"challenge_id"`
	Context     map[string]any `json:"context"`
}

type messageResponse struct {
	Reply     string         `json:"reply"`
	ID        int64          `json:"id,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	text := strings.TrimSpace(req.Message)
	switch {
	case text == "":
		writeFieldErrors(w, "message", "This field may not be blank.")
		return
	case utf8.RuneCountInString(text) > s.cfg.MaxMessageLength:
		writeFieldErrors(w, "message", fmt.Sprintf("Ensure this field has no more than %d characters.", s.cfg.MaxMessageLength))
		return
	}

	thread := s.resolveThread(w, r)
	if thread == nil {
		return
	}
	if req.ChallengeID != 0 && req.ChallengeID != thread.ChallengeID {
		writeFieldErrors(w, "challenge_id", "Does not match the challenge in the URL.")
		return
	}

	res := s.limiter(thread.ChallengeID).Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		wait := int(math.Ceil(delay.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		writeDetail(w, http.StatusTooManyRequests, fmt.Sprintf("Request was throttled. Expected available in %d seconds.", wait))
		return
	}

	lock := s.threadLock(thread.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	ctx := r.Context()
	userEntry := &types.LogEntry{Role: types.RoleUser, Content: text}
	if err := s.log.Append(ctx, thread.ThreadID, userEntry); err != nil {
		slog.Error("record user message failed", "thread_id", thread.ThreadID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	history, err := s.log.Tail(ctx, thread.ThreadID, s.cfg.HistoryWindow)
	if err != nil {
		slog.Error("load history failed", "thread_id", thread.ThreadID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	start := time.Now()
	reply, err := s.replier.Reply(ctx, thread, history, req.Context)
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("client went away during reply", "thread_id", thread.ThreadID)
			return
		}
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.Throttled() {
			slog.Warn("assistant provider throttled", "thread_id", thread.ThreadID, "retry_after", apiErr.RetryAfter)
			if apiErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(apiErr.RetryAfter.Seconds()))))
			}
			writeDetail(w, http.StatusServiceUnavailable, "The assistant is busy. Please try again shortly.")
			return
		}
		slog.Error("assistant reply failed", "thread_id", thread.ThreadID, "challenge_id", thread.ChallengeID, "error", err)
		writeDetail(w, http.StatusBadGateway, "The assistant is unavailable right now.")
		return
	}

	resp := messageResponse{
		Reply: reply.Content,
		Telemetry: map[string]any{
			"input_tokens":  reply.Usage.InputTokens,
			"output_tokens": reply.Usage.OutputTokens,
			"latency_ms":    time.Since(start).Milliseconds(),
		},
	}
	if strings.TrimSpace(reply.Content) != "" {
		entry := &types.LogEntry{Role: types.RoleAssistant, Content: reply.Content}
		if err := s.log.Append(ctx, thread.ThreadID, entry); err != nil {
			slog.Error("record assistant message failed", "thread_id", thread.ThreadID, "error", err)
			writeDetail(w, http.StatusInternalServerError, "Internal server error.")
			return
		}
		resp.ID = entry.Seq
		resp.CreatedAt = types.FormatTimestamp(entry.CreatedAt)
		thread.LastSeq = entry.Seq
		if err := s.threads.Update(ctx, thread); err != nil {
			slog.Warn("update thread failed", "thread_id", thread.ThreadID, "error", err)
		}
	}
	slog.Info("assistant replied", "thread_id", thread.ThreadID, "challenge_id", thread.ChallengeID, "seq", resp.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	thread := s.resolveThread(w, r)
	if thread == nil {
		return
	}

	lock := s.threadLock(thread.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.log.Clear(r.Context(), thread.ThreadID)
	if err != nil {
		slog.Error("clear thread failed", "thread_id", thread.ThreadID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	thread.ClearedAt = time.Now().UTC()
	if err := s.threads.Update(r.Context(), thread); err != nil {
		slog.Warn("update thread failed", "thread_id", thread.ThreadID, "error", err)
	}
	slog.Info("thread cleared", "thread_id", thread.ThreadID, "messages", n)
	writeJSON(w, http.StatusOK, types.ClearResult{Cleared: true})
}
