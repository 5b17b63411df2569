// Package state provides filesystem-backed storage for the reference
// assistant backend.
package state

import (
	"errors"

	"github.com/user/coachchat/internal/types"
)

// ErrUnknownThread is returned for a thread id the index does not hold.
var ErrUnknownThread = errors.New("unknown thread")

// Compile-time interface compliance checks.
var _ types.ThreadStore = (*ThreadStore)(nil)
var _ types.ThreadStore = (*BoltThreadStore)(nil)
var _ types.MessageLog = (*MessageLog)(nil)
