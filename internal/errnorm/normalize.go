// Package errnorm turns any error produced while talking to the assistant
// backend into one short string that is safe to show to the user.
package errnorm

import (
	"context"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/user/coachchat/internal/types"
)

// ErrEmptyReply reports a successful send whose reply had no text.
var ErrEmptyReply = errors.New("assistant returned empty response")

// Category is the coarse kind of a failure.
type Category string

const (
	CategoryNone           Category = ""
	CategoryCancellation   Category = "cancellation"
	CategoryConnectivity   Category = "connectivity"
	CategoryTimeout        Category = "timeout"
	CategoryServer         Category = "server"
	CategoryServerInternal Category = "server_internal"
	CategoryEmptyReply     Category = "empty_reply"
)

// IsCancellation reports whether err stems from a cancelled request rather
// than a genuine failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, types.ErrAborted)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Classify returns the Category of err.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case IsCancellation(err):
		return CategoryCancellation
	case errors.Is(err, ErrEmptyReply):
		return CategoryEmptyReply
	}
	var re *types.ResponseError
	if errors.As(err, &re) && re != nil {
		if re.Status >= 500 {
			return CategoryServerInternal
		}
		return CategoryServer
	}
	if isTimeout(err) {
		return CategoryTimeout
	}
	return CategoryConnectivity
}

// Retryable reports whether repeating an idempotent request could succeed.
func Retryable(err error) bool {
	switch Classify(err) {
	case CategoryConnectivity, CategoryTimeout, CategoryServerInternal:
		return true
	case CategoryServer:
		var re *types.ResponseError
		return errors.As(err, &re) && re != nil && re.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// Message returns the display string for err. It is deterministic and
// returns "" only for a nil error.
func Message(err error) string {
	switch Classify(err) {
	case CategoryNone:
		return ""
	case CategoryCancellation:
		return AbortedMessage
	case CategoryEmptyReply:
		return EmptyReplyMessage
	case CategoryTimeout:
		return TimeoutMessage
	case CategoryConnectivity:
		return NetworkMessage
	}
	var re *types.ResponseError
	if !errors.As(err, &re) || re == nil {
		return StatusMessage(0)
	}
	return FromResponse(re.Status, re.Body)
}

// FromResponse picks the message for a server response with the given
// status and body.
func FromResponse(status int, body []byte) string {
	root := ParseBody(body)
	if root.Kind == KindString && isMarkupDocument(root.Text) {
		return StatusMessage(status)
	}
	best, ok := shortest(Flatten(root))
	if !ok || leaksInternals(best) {
		return StatusMessage(status)
	}
	return best
}

func shortest(candidates []string) (string, bool) {
	var (
		best    string
		bestLen int
		found   bool
	)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		c = truncate(c, maxDisplayLen)
		n := utf8.RuneCountInString(c)
		if !found || n < bestLen {
			best, bestLen, found = c, n, true
		}
	}
	return best, found
}
