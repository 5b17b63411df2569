// Package session composes the transcript, request coordinator, cursor and
// scroll anchor of one conversation into a single object a front-end can
// drive from any goroutine.
package session

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/user/coachchat/internal/errnorm"
	"github.com/user/coachchat/internal/gateway"
	"github.com/user/coachchat/internal/scroll"
	"github.com/user/coachchat/internal/transcript"
	"github.com/user/coachchat/internal/types"
)

const (
	DefaultPageSize         = 20
	DefaultMaxMessageLength = 2000
	DefaultNoticeDuration   = 3500 * time.Millisecond

	// PlaceholderContent is shown in the assistant slot while a send is
	// in flight.
	PlaceholderContent = "pending"

	notClearedMessage = "The conversation could not be cleared."
)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	PageSize         int
	MaxMessageLength int
	NearTopThreshold int
	NoticeDuration   time.Duration
	Measurer         Measurer
	RetryPolicy      *gateway.RetryPolicy
	// Aux is sent with every message as part of the conversation context.
	Aux map[string]any
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = DefaultMaxMessageLength
	}
	if o.NearTopThreshold <= 0 {
		o.NearTopThreshold = scroll.DefaultNearTop
	}
	if o.NoticeDuration <= 0 {
		o.NoticeDuration = DefaultNoticeDuration
	}
	if o.Measurer == nil {
		o.Measurer = LineMeasurer{}
	}
	if o.RetryPolicy == nil {
		o.RetryPolicy = gateway.DefaultRetryPolicy()
	}
	return o
}

// Session is one conversation with the assistant about one target.
//
// A single mutex guards all state and is never held across a transport
// call. Every reset (target change, reseed, dispose) bumps gen; code that
// resumes after a transport call applies its result only if gen is
// unchanged. hist does the same for the history scope, so a page fetched
// before a clear started is never applied after it.
type Session struct {
	transport types.Transport
	opts      Options

	mu        sync.Mutex
	gen       uint64
	hist      uint64
	version   uint64
	disposed  bool
	coord     *gateway.Coordinator
	store     *transcript.Store
	anchor    *scroll.Anchor
	hasTarget bool
	target    types.TargetID
	seed      []types.Message
	thread    types.ThreadID
	cursor    types.Cursor
	page      PageState

	loading      bool
	loadingOlder bool
	clearing     bool
	sending      bool

	notice      *Notice
	noticeSeq   uint64
	noticeTimer *time.Timer

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates a Session with no target. Call LoadLatest to start.
func New(transport types.Transport, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		transport: transport,
		opts:      opts,
		coord:     gateway.New(transport, gateway.WithRetryPolicy(opts.RetryPolicy)),
		store:     transcript.New(),
		anchor:    scroll.New(opts.NearTopThreshold),
		subs:      make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn to receive a Snapshot after every change. It is
// called outside the session lock, possibly from several goroutines.
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:      s.version,
		Target:       s.target,
		ThreadID:     s.thread,
		Messages:     s.store.Messages(),
		Page:         s.page,
		Loading:      s.loading,
		LoadingOlder: s.loadingOlder,
		Clearing:     s.clearing,
		Sending:      s.sending,
		Offset:       s.anchor.Offset(),
		Pinned:       s.anchor.Pinned(),
		Disposed:     s.disposed,
	}
	if s.notice != nil {
		n := *s.notice
		snap.Notice = &n
	}
	return snap
}

// changedLocked records a state change. The caller must notify after
// releasing the lock.
func (s *Session) changedLocked() {
	s.version++
}

func (s *Session) notify() {
	snap := s.Snapshot()
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// remeasureLocked reports the transcript's rendered height to the anchor.
func (s *Session) remeasureLocked() {
	s.anchor.Resize(s.opts.Measurer.Measure(s.store.Messages()))
}

// resetLocked discards everything tied to the previous load and starts a
// new generation with a fresh coordinator. In-flight requests of the old
// generation are cancelled with cause.
func (s *Session) resetLocked(target types.TargetID, seed []types.Message, cause error) {
	s.gen++
	s.coord.CancelAll(cause)
	s.coord = gateway.New(s.transport, gateway.WithRetryPolicy(s.opts.RetryPolicy))

	s.hasTarget = true
	s.target = target
	s.seed = append([]types.Message(nil), seed...)
	s.thread = ""
	s.cursor = ""
	s.page = PageInitial
	s.loading, s.loadingOlder, s.clearing, s.sending = false, false, false, false
	s.clearNoticeLocked()

	s.store.Seed(seed)
	s.anchor.Reset()
	s.remeasureLocked()
	s.changedLocked()
}

// LoadLatest resets the session to seed for target and fetches the newest
// page of history. Calling it again, for the same target or another one,
// cancels everything the previous load started.
//
// An error other than a cancellation also raises a persistent notice
// offering RetryLatest.
func (s *Session) LoadLatest(ctx context.Context, target types.TargetID, seed []types.Message) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return types.ErrDisposed
	}
	cause := types.ErrSuperseded
	if s.hasTarget && s.target != target {
		cause = types.ErrTargetChanged
	}
	s.resetLocked(target, seed, cause)
	s.loading = true
	s.hist++
	gen, hist, coord := s.gen, s.hist, s.coord
	req := types.HistoryRequest{TargetID: target, PageSize: s.opts.PageSize}
	s.mu.Unlock()
	s.notify()

	page, err := coord.FetchHistory(ctx, req)

	s.mu.Lock()
	if gen != s.gen {
		err = s.staleLocked()
		s.mu.Unlock()
		return err
	}
	s.loading = false
	switch {
	case hist != s.hist:
		err = types.ErrSuperseded
	case err != nil && errnorm.IsCancellation(err):
	case err != nil:
		slog.Warn("load latest failed", "target_id", target, "error", err)
		s.setNoticeLocked(Notice{Text: errnorm.Message(err), Persistent: true, Retry: true})
	default:
		s.applyPageLocked(page)
		s.remeasureLocked()
		s.anchor.PinBottom()
		slog.Debug("loaded latest history", "target_id", target, "thread_id", s.thread, "messages", len(page.Messages))
	}
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
	return err
}

// RetryLatest repeats LoadLatest for the current target and seed.
func (s *Session) RetryLatest(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasTarget {
		s.mu.Unlock()
		return nil
	}
	target, seed := s.target, s.seed
	s.mu.Unlock()
	return s.LoadLatest(ctx, target, seed)
}

// LoadOlder fetches the page behind the cursor and prepends it, keeping
// the visible rows in place. It does nothing unless a cursor is held and
// no other history request or clear is in flight.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed || !s.hasTarget || s.page != PageLoaded || s.loading || s.loadingOlder || s.clearing {
		s.mu.Unlock()
		return nil
	}
	s.loadingOlder = true
	s.hist++
	s.changedLocked()
	gen, hist, coord, target := s.gen, s.hist, s.coord, s.target
	req := types.HistoryRequest{TargetID: target, PageSize: s.opts.PageSize, Cursor: s.cursor}
	s.mu.Unlock()
	s.notify()

	page, err := coord.FetchHistory(ctx, req)

	s.mu.Lock()
	if gen != s.gen {
		slog.Debug("discarding stale history page", "target_id", target)
		err = s.staleLocked()
		s.mu.Unlock()
		return err
	}
	s.loadingOlder = false
	switch {
	case hist != s.hist:
		err = types.ErrSuperseded
	case err != nil && errnorm.IsCancellation(err):
	case err != nil:
		slog.Warn("load older failed", "target_id", target, "error", err)
		s.setNoticeLocked(Notice{Text: errnorm.Message(err)})
	default:
		s.anchor.BeginPrepend()
		s.applyPageLocked(page)
		s.remeasureLocked()
	}
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
	return err
}

// applyPageLocked merges a newest-first page and advances the cursor.
func (s *Session) applyPageLocked(page *types.HistoryPage) {
	msgs := make([]types.Message, len(page.Messages))
	for i, m := range page.Messages {
		msgs[len(msgs)-1-i] = m
	}
	s.store.MergeDedupe(msgs)
	if page.ThreadID != "" {
		s.thread = page.ThreadID
	}
	s.cursor = page.Next
	if s.cursor.Exhausted() {
		s.page = PageExhausted
	} else {
		s.page = PageLoaded
	}
}

// Send posts text to the assistant. The user's message and a placeholder
// appear immediately; the placeholder is then swapped for the reply, or
// removed when the send fails or is cancelled. Send blocks until the
// request ends.
func (s *Session) Send(ctx context.Context, text string) types.SendResult {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if reason := s.rejectLocked(text); reason != "" {
		s.mu.Unlock()
		return types.SendResult{State: types.SendRejected, Error: reason}
	}
	coord := s.coord
	if !coord.TryAcquireSend() {
		s.mu.Unlock()
		return types.SendResult{State: types.SendRejected, Error: "A message is already being sent."}
	}
	defer coord.ReleaseSend()

	now := types.FormatTimestamp(time.Now())
	user := types.Message{ID: types.NewLocalMessageID(), Role: types.RoleUser, Content: text, CreatedAt: now}
	placeholder := types.Message{
		ID:        types.NewLocalMessageID(),
		Role:      types.RoleAssistant,
		Content:   PlaceholderContent,
		CreatedAt: now,
		Pending:   true,
	}
	s.store.AppendOptimistic(user)
	s.store.AppendOptimistic(placeholder)
	s.sending = true
	s.remeasureLocked()
	s.changedLocked()
	gen, target := s.gen, s.target
	req := types.SendRequest{
		Text:    text,
		Context: types.ConversationContext{TargetID: target, Aux: maps.Clone(s.opts.Aux)},
	}
	s.mu.Unlock()
	s.notify()

	reply, err := coord.Send(ctx, req)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return types.SendResult{State: types.SendAborted}
	}
	s.sending = false
	var result types.SendResult
	switch {
	case err != nil && errnorm.IsCancellation(err):
		s.store.Remove(placeholder.ID)
		result = types.SendResult{State: types.SendAborted}
	case err != nil:
		s.store.Remove(placeholder.ID)
		slog.Warn("send failed", "target_id", target, "error", err)
		result = types.SendResult{State: types.SendFailed, Error: errnorm.Message(err)}
	case strings.TrimSpace(reply.Reply) == "":
		s.store.Remove(placeholder.ID)
		slog.Warn("send returned empty reply", "target_id", target)
		result = types.SendResult{State: types.SendFailed, Error: errnorm.Message(errnorm.ErrEmptyReply)}
	default:
		msg := types.Message{
			ID:        reply.ID,
			Role:      types.RoleAssistant,
			Content:   reply.Reply,
			CreatedAt: reply.CreatedAt,
		}
		if msg.ID == "" {
			msg.ID = types.NewLocalMessageID()
		}
		if msg.CreatedAt == "" {
			msg.CreatedAt = types.FormatTimestamp(time.Now())
		}
		// A clear that finished meanwhile already removed the placeholder.
		s.store.Replace(placeholder.ID, msg)
		result = types.SendResult{State: types.SendResolved, Message: msg}
	}
	if result.State == types.SendFailed {
		s.setNoticeLocked(Notice{Text: result.Error})
	}
	s.remeasureLocked()
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
	return result
}

// Validate reports why Send would reject text right now, or "" if it would
// be accepted.
func (s *Session) Validate(text string) string {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason := s.rejectLocked(text); reason != "" {
		return reason
	}
	if s.sending {
		return "A message is already being sent."
	}
	return ""
}

func (s *Session) rejectLocked(text string) string {
	switch {
	case s.disposed:
		return "The conversation is closed."
	case !s.hasTarget:
		return "No challenge is selected."
	case text == "":
		return "Message is empty."
	case utf8.RuneCountInString(text) > s.opts.MaxMessageLength:
		return "Message is too long."
	}
	return ""
}

// CancelSend aborts the send in flight, if any. Its placeholder is
// removed without a notice.
func (s *Session) CancelSend() {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	coord.CancelSend(types.ErrAborted)
}

// Clear asks the server to clear the conversation and, if it did, empties
// the transcript. History pagination is exhausted afterwards.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed || !s.hasTarget || s.clearing {
		s.mu.Unlock()
		return nil
	}
	s.clearing = true
	s.hist++
	s.changedLocked()
	gen, coord, target := s.gen, s.coord, s.target
	s.mu.Unlock()
	s.notify()

	res, err := coord.Clear(ctx, target)

	s.mu.Lock()
	if gen != s.gen {
		err = s.staleLocked()
		s.mu.Unlock()
		return err
	}
	s.clearing = false
	switch {
	case err != nil && errnorm.IsCancellation(err):
	case err != nil:
		slog.Warn("clear failed", "target_id", target, "error", err)
		s.clearFailedLocked(errnorm.Message(err))
	case !res.Cleared:
		s.clearFailedLocked(notClearedMessage)
	default:
		s.store.Seed(nil)
		s.cursor = ""
		s.page = PageExhausted
		s.anchor.Reset()
		s.remeasureLocked()
		slog.Info("conversation cleared", "target_id", target, "thread_id", s.thread)
	}
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
	return err
}

// clearFailedLocked reports a clear that left the transcript alone. If the
// clear superseded the first page, nothing is loaded yet, so the notice
// offers RetryLatest.
func (s *Session) clearFailedLocked(text string) {
	if s.page == PageInitial {
		s.setNoticeLocked(Notice{Text: text, Persistent: true, Retry: true})
		return
	}
	s.setNoticeLocked(Notice{Text: text})
}

// Scrolled reports a scroll by the user and returns whether the view is now
// near the top, which is the host's cue to call LoadOlder.
func (s *Session) Scrolled(offset int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor.ScrollTo(offset)
}

// SetViewport reports the visible height and re-measures the transcript,
// e.g. after the terminal was resized.
func (s *Session) SetViewport(height int) {
	s.mu.Lock()
	s.anchor.SetViewport(height)
	s.remeasureLocked()
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
}

// SetMeasurer replaces the measurer, typically when the rendering width
// changed.
func (s *Session) SetMeasurer(m Measurer) {
	if m == nil {
		m = LineMeasurer{}
	}
	s.mu.Lock()
	s.opts.Measurer = m
	s.remeasureLocked()
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
}

// DismissNotice hides the current notice.
func (s *Session) DismissNotice() {
	s.mu.Lock()
	if s.notice == nil {
		s.mu.Unlock()
		return
	}
	s.clearNoticeLocked()
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) setNoticeLocked(n Notice) {
	s.clearNoticeLocked()
	s.notice = &n
	if n.Persistent {
		return
	}
	seq := s.noticeSeq
	s.noticeTimer = time.AfterFunc(s.opts.NoticeDuration, func() { s.expireNotice(seq) })
}

func (s *Session) clearNoticeLocked() {
	s.noticeSeq++
	s.notice = nil
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
		s.noticeTimer = nil
	}
}

func (s *Session) expireNotice(seq uint64) {
	s.mu.Lock()
	if s.disposed || s.noticeSeq != seq {
		s.mu.Unlock()
		return
	}
	s.clearNoticeLocked()
	s.changedLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) staleLocked() error {
	if s.disposed {
		return types.ErrDisposed
	}
	return types.ErrSuperseded
}

// Dispose cancels everything in flight and detaches all subscribers.
// The session cannot be used afterwards.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.gen++
	s.coord.Close()
	s.clearNoticeLocked()
	s.changedLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	clear(s.subs)
	s.subMu.Unlock()
	slog.Debug("conversation disposed")
}
