package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/user/coachchat/internal/errnorm"
	"github.com/user/coachchat/internal/gateway"
	"github.com/user/coachchat/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTransport is a types.Transport whose behavior is set per test.
type fakeTransport struct {
	FetchHistoryFunc func(ctx context.Context, req types.HistoryRequest) (*types.HistoryPage, error)
	SendFunc         func(ctx context.Context, req types.SendRequest) (*types.SendReply, error)
	ClearFunc        func(ctx context.Context, target types.TargetID) (*types.ClearResult, error)

	mu      sync.Mutex
	history []types.HistoryRequest
	sends   []types.SendRequest
}

func (f *fakeTransport) FetchHistory(ctx context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
	f.mu.Lock()
	f.history = append(f.history, req)
	f.mu.Unlock()
	return f.FetchHistoryFunc(ctx, req)
}

func (f *fakeTransport) Send(ctx context.Context, req types.SendRequest) (*types.SendReply, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	f.mu.Unlock()
	return f.SendFunc(ctx, req)
}

func (f *fakeTransport) Clear(ctx context.Context, target types.TargetID) (*types.ClearResult, error) {
	return f.ClearFunc(ctx, target)
}

func (f *fakeTransport) historyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

func (f *fakeTransport) sendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// pagedHistory serves msgs (oldest first) newest-first in pages of size,
// with "before=N" cursors the way the reference backend does.
func pagedHistory(msgs []types.Message) func(context.Context, types.HistoryRequest) (*types.HistoryPage, error) {
	return func(_ context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
		end := len(msgs)
		if req.Cursor != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(string(req.Cursor), "before="))
			if err != nil {
				return nil, err
			}
			end = n
		}
		start := max(0, end-req.PageSize)
		page := &types.HistoryPage{ThreadID: "thread-1", TargetID: req.TargetID}
		for i := end - 1; i >= start; i-- {
			page.Messages = append(page.Messages, msgs[i])
		}
		if start > 0 {
			page.Next = types.Cursor(fmt.Sprintf("before=%d", start))
		}
		return page, nil
	}
}

func makeMessages(n int) []types.Message {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Message, n)
	for i := range out {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out[i] = types.Message{
			ID:        strconv.Itoa(i + 1),
			Role:      role,
			Content:   "message " + strconv.Itoa(i+1),
			CreatedAt: types.FormatTimestamp(base.Add(time.Duration(i) * time.Minute)),
		}
	}
	return out
}

func newTestSession(t *testing.T, ft *fakeTransport, opts Options) *Session {
	t.Helper()
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = gateway.NoRetry()
	}
	s := New(ft, opts)
	t.Cleanup(s.Dispose)
	return s
}

func ids(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func countPending(msgs []types.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Pending {
			n++
		}
	}
	return n
}

func TestLoadLatestExhaustsOnNullCursor(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: func(_ context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
			if req.PageSize != DefaultPageSize {
				t.Errorf("expected page size %d, got %d", DefaultPageSize, req.PageSize)
			}
			return &types.HistoryPage{
				ThreadID: "th",
				Messages: []types.Message{
					{ID: "2", Role: types.RoleAssistant, Content: "hello", CreatedAt: "2024-01-01T00:01:00Z"},
					{ID: "1", Role: types.RoleUser, Content: "hi", CreatedAt: "2024-01-01T00:00:00Z"},
				},
			}, nil
		},
	}
	s := newTestSession(t, ft, Options{})

	if err := s.LoadLatest(context.Background(), 42, nil); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if diff := cmp.Diff([]string{"1", "2"}, ids(snap.Messages)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if snap.Page != PageExhausted {
		t.Errorf("expected exhausted, got %v", snap.Page)
	}
	if snap.ThreadID != "th" || snap.Target != 42 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if !snap.Pinned {
		t.Error("view should be pinned after the latest load")
	}

	if err := s.LoadOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ft.historyCalls() != 1 {
		t.Errorf("LoadOlder after exhaustion must not fetch, got %d calls", ft.historyCalls())
	}
}

func TestSendResolvesWithReply(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(makeMessages(2)),
		SendFunc: func(_ context.Context, req types.SendRequest) (*types.SendReply, error) {
			if req.Text != "flag{test}" || req.Context.TargetID != 9 {
				t.Errorf("unexpected request %+v", req)
			}
			if req.Context.Aux["mode"] != "hint" {
				t.Errorf("aux not forwarded: %+v", req.Context.Aux)
			}
			return &types.SendReply{Reply: "Good job"}, nil
		},
	}
	s := newTestSession(t, ft, Options{Aux: map[string]any{"mode": "hint"}})
	if err := s.LoadLatest(context.Background(), 9, nil); err != nil {
		t.Fatal(err)
	}

	res := s.Send(context.Background(), "  flag{test}  ")
	if !res.OK() {
		t.Fatalf("expected resolved, got %+v", res)
	}
	if !types.IsLocalID(res.Message.ID) || res.Message.CreatedAt == "" {
		t.Errorf("missing id or timestamp should be generated locally: %+v", res.Message)
	}

	msgs := s.Snapshot().Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	last := msgs[len(msgs)-2:]
	if last[0].Role != types.RoleUser || last[0].Content != "flag{test}" {
		t.Errorf("unexpected user message %+v", last[0])
	}
	if last[1].Role != types.RoleAssistant || last[1].Content != "Good job" {
		t.Errorf("unexpected assistant message %+v", last[1])
	}
	if countPending(msgs) != 0 {
		t.Error("placeholder left behind")
	}
	if s.Snapshot().Sending {
		t.Error("sending flag left set")
	}
}

func TestSendKeepsServerIDAndTimestamp(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(nil),
		SendFunc: func(context.Context, types.SendRequest) (*types.SendReply, error) {
			return &types.SendReply{Reply: "ok", ID: "srv-9", CreatedAt: "2030-01-01T00:00:00Z"}, nil
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 1, nil)

	res := s.Send(context.Background(), "hi")
	if res.Message.ID != "srv-9" || res.Message.CreatedAt != "2030-01-01T00:00:00Z" {
		t.Errorf("server fields not kept: %+v", res.Message)
	}
	if _, ok := findID(s.Snapshot().Messages, "srv-9"); !ok {
		t.Error("reply not in transcript")
	}
}

func findID(msgs []types.Message, id string) (types.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return types.Message{}, false
}

func TestPaginationWalksToExhaustion(t *testing.T) {
	all := makeMessages(45)
	ft := &fakeTransport{FetchHistoryFunc: pagedHistory(all)}
	s := newTestSession(t, ft, Options{})

	if err := s.LoadLatest(context.Background(), 1, nil); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Snapshot().Messages); got != 20 {
		t.Fatalf("expected 20 messages after first page, got %d", got)
	}

	for i := 0; i < 10 && s.Snapshot().Page != PageExhausted; i++ {
		if err := s.LoadOlder(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	snap := s.Snapshot()
	if snap.Page != PageExhausted {
		t.Fatalf("pagination did not terminate, state %v", snap.Page)
	}
	if diff := cmp.Diff(ids(all), ids(snap.Messages)); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}

	calls := ft.historyCalls()
	s.LoadOlder(context.Background())
	s.LoadOlder(context.Background())
	if ft.historyCalls() != calls {
		t.Error("LoadOlder after exhaustion must be a no-op")
	}
}

func TestLoadOlderKeepsVisibleRows(t *testing.T) {
	all := makeMessages(40)
	ft := &fakeTransport{FetchHistoryFunc: pagedHistory(all)}
	s := newTestSession(t, ft, Options{})
	s.SetViewport(10)
	s.LoadLatest(context.Background(), 1, nil)

	// 20 single-line messages at two rows each.
	if snap := s.Snapshot(); snap.Offset != 30 || !snap.Pinned {
		t.Fatalf("expected pinned at 30, got %+v", snap)
	}
	if near := s.Scrolled(4); !near {
		t.Fatal("offset 4 should be near top")
	}
	if err := s.LoadOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.Offset != 44 {
		t.Errorf("expected offset 4+40, got %d", snap.Offset)
	}
	if snap.Pinned {
		t.Error("prepend must not pin")
	}
}

func TestFailedSendRollsBack(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(nil),
		SendFunc: func(context.Context, types.SendRequest) (*types.SendReply, error) {
			return nil, &types.ResponseError{Status: http.StatusBadRequest, Body: []byte(`{"message":["Too fast"]}`)}
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 1, nil)

	res := s.Send(context.Background(), "hello")
	if res.State != types.SendFailed || res.Error != "Too fast" {
		t.Errorf("unexpected result %+v", res)
	}
	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Role != types.RoleUser || snap.Messages[0].Content != "hello" {
		t.Errorf("expected only the user's message, got %+v", snap.Messages)
	}
	if snap.Notice == nil || snap.Notice.Text != "Too fast" || snap.Notice.Persistent {
		t.Errorf("expected transient notice, got %+v", snap.Notice)
	}
}

func TestEmptyReplyIsSoftFailure(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(nil),
		SendFunc: func(context.Context, types.SendRequest) (*types.SendReply, error) {
			return &types.SendReply{Reply: "   "}, nil
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 1, nil)

	res := s.Send(context.Background(), "hello")
	if res.State != types.SendFailed || res.Error != errnorm.EmptyReplyMessage {
		t.Errorf("unexpected result %+v", res)
	}
	msgs := s.Snapshot().Messages
	if len(msgs) != 1 || countPending(msgs) != 0 {
		t.Errorf("expected only the user's message, got %+v", msgs)
	}
}

func TestSecondSendIsRejectedWhileFirstInFlight(t *testing.T) {
	started := make(chan struct{})
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(nil),
		SendFunc: func(ctx context.Context, _ types.SendRequest) (*types.SendReply, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 1, nil)

	done := make(chan types.SendResult, 1)
	go func() { done <- s.Send(context.Background(), "first") }()
	<-started

	if res := s.Send(context.Background(), "second"); res.State != types.SendRejected {
		t.Errorf("expected rejection, got %+v", res)
	}
	if got := s.Validate("second"); got != "A message is already being sent." {
		t.Errorf("Validate while sending = %q", got)
	}
	snap := s.Snapshot()
	if countPending(snap.Messages) != 1 {
		t.Errorf("expected exactly one placeholder, got %d", countPending(snap.Messages))
	}
	if !snap.Sending {
		t.Error("expected sending flag")
	}

	s.CancelSend()
	res := <-done
	if res.State != types.SendAborted {
		t.Errorf("expected aborted, got %+v", res)
	}
	snap = s.Snapshot()
	if countPending(snap.Messages) != 0 {
		t.Error("cancelled placeholder must be removed")
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "first" {
		t.Errorf("user message should stay, got %+v", snap.Messages)
	}
	if snap.Notice != nil {
		t.Errorf("cancellation must be silent, got notice %+v", snap.Notice)
	}
	if ft.sendCalls() != 1 {
		t.Errorf("rejected send reached the transport: %d calls", ft.sendCalls())
	}
}

func TestSendValidation(t *testing.T) {
	ft := &fakeTransport{FetchHistoryFunc: pagedHistory(nil)}
	s := newTestSession(t, ft, Options{MaxMessageLength: 5})

	if res := s.Send(context.Background(), "hi"); res.State != types.SendRejected {
		t.Errorf("send without target should be rejected, got %+v", res)
	}
	s.LoadLatest(context.Background(), 1, nil)
	for _, text := range []string{"", "   \n", "toolong"} {
		if res := s.Send(context.Background(), text); res.State != types.SendRejected {
			t.Errorf("Send(%q) = %+v, want rejected", text, res)
		}
	}
	if got := s.Validate("toolong"); got != "Message is too long." {
		t.Errorf("Validate(toolong) = %q", got)
	}
	if got := s.Validate("  ok "); got != "" {
		t.Errorf("Validate(ok) = %q, want accepted", got)
	}
	if ft.sendCalls() != 0 {
		t.Errorf("rejected sends reached the transport: %d", ft.sendCalls())
	}
	if n := len(s.Snapshot().Messages); n != 0 {
		t.Errorf("rejected sends changed the transcript: %d messages", n)
	}
}

func TestStaleLoadOlderIsDiscarded(t *testing.T) {
	older := make(chan struct{})
	ft := &fakeTransport{
		FetchHistoryFunc: func(ctx context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
			switch {
			case req.TargetID == 1 && req.Cursor == "":
				return &types.HistoryPage{Messages: makeMessages(1), Next: "before=1"}, nil
			case req.TargetID == 1:
				close(older)
				<-ctx.Done()
				return &types.HistoryPage{Messages: []types.Message{{ID: "stale"}}}, nil
			default:
				return &types.HistoryPage{Messages: []types.Message{{ID: "t2", Content: "other"}}}, nil
			}
		},
	}
	s := newTestSession(t, ft, Options{})
	if err := s.LoadLatest(context.Background(), 1, nil); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.LoadOlder(context.Background()) }()
	<-older

	if err := s.LoadLatest(context.Background(), 2, nil); err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; !errors.Is(err, types.ErrAborted) {
		t.Errorf("expected cancellation, got %v", err)
	}
	snap := s.Snapshot()
	if diff := cmp.Diff([]string{"t2"}, ids(snap.Messages)); diff != "" {
		t.Errorf("stale page applied (-want +got):\n%s", diff)
	}
	if snap.Target != 2 || snap.LoadingOlder {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestTargetChangeAbortsSend(t *testing.T) {
	started := make(chan struct{})
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(nil),
		SendFunc: func(ctx context.Context, _ types.SendRequest) (*types.SendReply, error) {
			close(started)
			<-ctx.Done()
			return nil, context.Cause(ctx)
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 1, nil)

	done := make(chan types.SendResult, 1)
	go func() { done <- s.Send(context.Background(), "hello") }()
	<-started

	seed := []types.Message{{ID: "seed", Content: "welcome"}}
	s.LoadLatest(context.Background(), 2, seed)
	if res := <-done; res.State != types.SendAborted {
		t.Errorf("expected aborted, got %+v", res)
	}
	snap := s.Snapshot()
	if diff := cmp.Diff([]string{"seed"}, ids(snap.Messages)); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if snap.Sending {
		t.Error("sending flag survived the target change")
	}
}

func TestInitialLoadFailureIsPersistentAndRetryable(t *testing.T) {
	var mu sync.Mutex
	fail := true
	ft := &fakeTransport{
		FetchHistoryFunc: func(ctx context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return nil, &types.ResponseError{Status: http.StatusServiceUnavailable, Body: []byte("<!DOCTYPE html><p>down</p>")}
			}
			return pagedHistory(makeMessages(3))(ctx, req)
		},
	}
	s := newTestSession(t, ft, Options{NoticeDuration: time.Millisecond})

	if err := s.LoadLatest(context.Background(), 5, nil); err == nil {
		t.Fatal("expected error")
	}
	time.Sleep(20 * time.Millisecond)
	snap := s.Snapshot()
	if snap.Notice == nil || !snap.Notice.Persistent || !snap.Notice.Retry {
		t.Fatalf("expected persistent retry notice, got %+v", snap.Notice)
	}
	if snap.Notice.Text != errnorm.StatusMessage(http.StatusServiceUnavailable) {
		t.Errorf("unexpected notice text %q", snap.Notice.Text)
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	if err := s.RetryLatest(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap = s.Snapshot()
	if snap.Notice != nil {
		t.Errorf("notice should clear on retry, got %+v", snap.Notice)
	}
	if len(snap.Messages) != 3 || snap.Target != 5 {
		t.Errorf("unexpected snapshot after retry %+v", snap)
	}
}

func TestTransientNoticeExpires(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(nil),
		SendFunc: func(context.Context, types.SendRequest) (*types.SendReply, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	s := newTestSession(t, ft, Options{NoticeDuration: 50 * time.Millisecond})
	s.LoadLatest(context.Background(), 1, nil)

	cleared := make(chan struct{}, 1)
	sawNotice := false
	var mu sync.Mutex
	unsub := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if snap.Notice != nil {
			sawNotice = true
			return
		}
		if sawNotice {
			select {
			case cleared <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	res := s.Send(context.Background(), "hello")
	if res.Error != errnorm.NetworkMessage {
		t.Errorf("unexpected error %q", res.Error)
	}
	select {
	case <-cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("notice did not expire")
	}
}

func TestClear(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(makeMessages(30)),
		ClearFunc: func(_ context.Context, target types.TargetID) (*types.ClearResult, error) {
			return &types.ClearResult{Cleared: target == 3}, nil
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 3, nil)
	if s.Snapshot().Page != PageLoaded {
		t.Fatal("expected more history")
	}

	if err := s.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Messages) != 0 || snap.Page != PageExhausted {
		t.Errorf("unexpected snapshot after clear %+v", snap)
	}
	calls := ft.historyCalls()
	s.LoadOlder(context.Background())
	if ft.historyCalls() != calls {
		t.Error("LoadOlder after clear must be a no-op")
	}
}

func TestFailedClearDuringInitialLoadOffersRetry(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{
		FetchHistoryFunc: func(ctx context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return pagedHistory(makeMessages(3))(ctx, req)
		},
		ClearFunc: func(context.Context, types.TargetID) (*types.ClearResult, error) {
			return nil, &types.ResponseError{Status: http.StatusInternalServerError}
		},
	}
	s := newTestSession(t, ft, Options{})

	loaded := make(chan error, 1)
	go func() { loaded <- s.LoadLatest(context.Background(), 1, nil) }()
	deadline := time.After(2 * time.Second)
	for !s.Snapshot().Loading {
		select {
		case <-deadline:
			t.Fatal("load never started")
		case <-time.After(time.Millisecond):
		}
	}

	if err := s.Clear(context.Background()); err == nil {
		t.Fatal("expected clear to fail")
	}
	close(release)
	if err := <-loaded; !errors.Is(err, types.ErrSuperseded) {
		t.Errorf("expected the load to be superseded, got %v", err)
	}

	snap := s.Snapshot()
	if snap.Page != PageInitial {
		t.Errorf("page = %s, want initial", snap.Page)
	}
	if snap.Notice == nil || !snap.Notice.Persistent || !snap.Notice.Retry {
		t.Fatalf("expected a persistent retry notice, got %+v", snap.Notice)
	}

	if err := s.RetryLatest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); len(snap.Messages) != 3 || snap.Notice != nil {
		t.Errorf("retry did not recover: %d messages, notice %+v", len(snap.Messages), snap.Notice)
	}
}

func TestClearNotConfirmed(t *testing.T) {
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(makeMessages(2)),
		ClearFunc: func(context.Context, types.TargetID) (*types.ClearResult, error) {
			return &types.ClearResult{Cleared: false}, nil
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 1, nil)
	s.Clear(context.Background())
	snap := s.Snapshot()
	if len(snap.Messages) != 2 {
		t.Errorf("transcript should be kept, got %d messages", len(snap.Messages))
	}
	if snap.Notice == nil || snap.Notice.Text != notClearedMessage {
		t.Errorf("expected notice, got %+v", snap.Notice)
	}
}

func TestLoadOlderNoopWhileClearing(t *testing.T) {
	clearing := make(chan struct{})
	release := make(chan struct{})
	ft := &fakeTransport{
		FetchHistoryFunc: pagedHistory(makeMessages(30)),
		ClearFunc: func(context.Context, types.TargetID) (*types.ClearResult, error) {
			close(clearing)
			<-release
			return &types.ClearResult{Cleared: true}, nil
		},
	}
	s := newTestSession(t, ft, Options{})
	s.LoadLatest(context.Background(), 1, nil)

	done := make(chan error, 1)
	go func() { done <- s.Clear(context.Background()) }()
	<-clearing

	calls := ft.historyCalls()
	s.LoadOlder(context.Background())
	if ft.historyCalls() != calls {
		t.Error("LoadOlder must not fetch while a clear is in flight")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestDisposeCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	ft := &fakeTransport{
		FetchHistoryFunc: func(ctx context.Context, _ types.HistoryRequest) (*types.HistoryPage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := newTestSession(t, ft, Options{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.LoadLatest(context.Background(), 1, nil) }()
	<-started

	var got []Snapshot
	s.Subscribe(func(snap Snapshot) { got = append(got, snap) })
	s.Dispose()
	if err := <-errCh; !errors.Is(err, types.ErrDisposed) {
		t.Errorf("expected disposed, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("subscribers notified after dispose: %d", len(got))
	}
	if err := s.LoadLatest(context.Background(), 1, nil); !errors.Is(err, types.ErrDisposed) {
		t.Errorf("expected disposed, got %v", err)
	}
	if res := s.Send(context.Background(), "hi"); res.State != types.SendRejected {
		t.Errorf("expected rejected after dispose, got %+v", res)
	}
}

func TestSubscribeReceivesOrderedVersions(t *testing.T) {
	ft := &fakeTransport{FetchHistoryFunc: pagedHistory(makeMessages(2))}
	s := newTestSession(t, ft, Options{})

	var versions []uint64
	unsub := s.Subscribe(func(snap Snapshot) { versions = append(versions, snap.Version) })
	s.LoadLatest(context.Background(), 1, nil)
	unsub()
	s.LoadLatest(context.Background(), 1, nil)

	if len(versions) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(versions))
	}
	if versions[0] >= versions[1] {
		t.Errorf("versions not increasing: %v", versions)
	}
}
