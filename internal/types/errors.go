package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Cancellation causes. Every one of them wraps ErrAborted so callers can
// test for cancellation with a single errors.Is.
var (
	ErrAborted       = errors.New("request aborted")
	ErrSuperseded    = fmt.Errorf("superseded by a newer request: %w", ErrAborted)
	ErrTargetChanged = fmt.Errorf("conversation target changed: %w", ErrAborted)
	ErrDisposed      = fmt.Errorf("conversation disposed: %w", ErrAborted)
)

// ResponseError is returned by a Transport when the server answered with a
// non-success status. Body holds the raw response payload.
type ResponseError struct {
	Status int
	Body   []byte
}

func (e *ResponseError) Error() string {
	text := http.StatusText(e.Status)
	if text == "" {
		text = "unknown status"
	}
	return fmt.Sprintf("server error (status %d %s)", e.Status, text)
}
