package gateway

import (
	"context"
	"sync"
)

// Scope groups requests of one kind. Beginning a request cancels whichever
// request of the same scope is still pending, so a newer request always
// supersedes an older one instead of racing it.
type Scope struct {
	name string

	mu      sync.Mutex
	seq     uint64
	current *Request
}

// NewScope creates an empty Scope. The name only appears in logs.
func NewScope(name string) *Scope {
	return &Scope{name: name}
}

// Request is one in-flight operation bound to a Scope.
type Request struct {
	scope  *Scope
	seq    uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Begin cancels the pending request (with cause) and starts a new one
// derived from parent.
func (s *Scope) Begin(parent context.Context, cause error) *Request {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.cancel(cause)
	}
	s.seq++
	r := &Request{scope: s, seq: s.seq, ctx: ctx, cancel: cancel}
	s.current = r
	return r
}

// Cancel aborts the pending request, if any, with the given cause.
func (s *Scope) Cancel(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.cancel(cause)
		s.current = nil
	}
}

// Pending reports whether a request is in flight.
func (s *Scope) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Context returns the request's context.
func (r *Request) Context() context.Context {
	return r.ctx
}

// Current reports whether r is still the newest request of its scope and
// has not been cancelled.
func (r *Request) Current() bool {
	r.scope.mu.Lock()
	defer r.scope.mu.Unlock()
	return r.scope.current == r && r.ctx.Err() == nil
}

// Done releases the request's resources and clears it from the scope if it
// is still the pending one.
func (r *Request) Done() {
	r.scope.mu.Lock()
	if r.scope.current == r {
		r.scope.current = nil
	}
	r.scope.mu.Unlock()
	r.cancel(context.Canceled)
}
