// Package gateway coordinates the requests a conversation sends to its
// transport: it owns the history and send cancellation scopes and the
// in-flight guard for sends.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/user/coachchat/internal/types"
)

// Coordinator wraps a Transport with two independent cancellation scopes.
// History requests (fetches and clears) supersede each other, as do sends;
// the two scopes never cancel one another except through CancelAll.
type Coordinator struct {
	transport types.Transport
	retry     *RetryPolicy

	history *Scope
	send    *Scope
	guard   *semaphore.Weighted

	closed atomic.Bool
}

// Option configures optional behavior on a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy sets the policy used for history fetches.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.retry = p
		}
	}
}

// New creates a Coordinator for the given transport.
func New(transport types.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: transport,
		retry:     DefaultRetryPolicy(),
		history:   NewScope("history"),
		send:      NewScope("send"),
		guard:     semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchHistory requests one page of history in the history scope, retrying
// transient failures. A result that arrives after a newer history request
// began is reported as types.ErrSuperseded.
func (c *Coordinator) FetchHistory(ctx context.Context, req types.HistoryRequest) (*types.HistoryPage, error) {
	if c.closed.Load() {
		return nil, types.ErrDisposed
	}
	r := c.history.Begin(ctx, types.ErrSuperseded)
	defer r.Done()

	var page *types.HistoryPage
	err := c.retry.Execute(r.Context(), func(ctx context.Context) error {
		var err error
		page, err = c.transport.FetchHistory(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", abortCause(r, err))
	}
	if !r.Current() {
		return nil, types.ErrSuperseded
	}
	return page, nil
}

// Clear asks the server to clear the conversation. It runs in the history
// scope because it resets the history the scope is fetching.
func (c *Coordinator) Clear(ctx context.Context, target types.TargetID) (*types.ClearResult, error) {
	if c.closed.Load() {
		return nil, types.ErrDisposed
	}
	r := c.history.Begin(ctx, types.ErrSuperseded)
	defer r.Done()

	res, err := c.transport.Clear(r.Context(), target)
	if err != nil {
		return nil, fmt.Errorf("clear conversation: %w", abortCause(r, err))
	}
	if !r.Current() {
		return nil, types.ErrSuperseded
	}
	return res, nil
}

// Send posts a message in the send scope, cancelling any send still
// pending. Sends are not retried.
func (c *Coordinator) Send(ctx context.Context, req types.SendRequest) (*types.SendReply, error) {
	if c.closed.Load() {
		return nil, types.ErrDisposed
	}
	r := c.send.Begin(ctx, types.ErrSuperseded)
	defer r.Done()

	reply, err := c.transport.Send(r.Context(), req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", abortCause(r, err))
	}
	if !r.Current() {
		return nil, types.ErrSuperseded
	}
	return reply, nil
}

// TryAcquireSend claims the single send slot without blocking. It returns
// false while another send holds it.
func (c *Coordinator) TryAcquireSend() bool {
	return c.guard.TryAcquire(1)
}

// ReleaseSend frees the slot claimed by TryAcquireSend.
func (c *Coordinator) ReleaseSend() {
	c.guard.Release(1)
}

// HistoryPending reports whether a fetch or clear is in flight.
func (c *Coordinator) HistoryPending() bool {
	return c.history.Pending()
}

// SendPending reports whether a send is in flight.
func (c *Coordinator) SendPending() bool {
	return c.send.Pending()
}

// CancelHistory aborts the pending history request.
func (c *Coordinator) CancelHistory(cause error) {
	c.history.Cancel(cause)
}

// CancelSend aborts the pending send.
func (c *Coordinator) CancelSend(cause error) {
	c.send.Cancel(cause)
}

// CancelAll aborts both scopes, e.g. when the conversation target changes.
func (c *Coordinator) CancelAll(cause error) {
	c.history.Cancel(cause)
	c.send.Cancel(cause)
}

// Close cancels everything in flight and rejects further requests.
func (c *Coordinator) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.CancelAll(types.ErrDisposed)
	slog.Debug("request coordinator closed")
}

// abortCause prefers the scope's cancellation cause over the transport's
// error, which usually only says the context was cancelled.
func abortCause(r *Request, err error) error {
	if cause := context.Cause(r.Context()); cause != nil {
		return cause
	}
	return err
}
