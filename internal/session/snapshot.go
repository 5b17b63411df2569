package session

import (
	"strconv"

	"github.com/user/coachchat/internal/types"
)

// PageState is the pagination state of the loaded history.
type PageState int

const (
	// PageInitial means no page has been fetched for the current target.
	PageInitial PageState = iota
	// PageLoaded means a cursor to older history is held.
	PageLoaded
	// PageExhausted means the server reported no older history.
	PageExhausted
)

func (p PageState) String() string {
	switch p {
	case PageInitial:
		return "initial"
	case PageLoaded:
		return "loaded"
	case PageExhausted:
		return "exhausted"
	default:
		return "PageState(" + strconv.Itoa(int(p)) + ")"
	}
}

// Notice is a user-visible message about a failed operation. Transient
// notices dismiss themselves; persistent ones stay until the user acts.
type Notice struct {
	Text       string
	Persistent bool
	// Retry is set when RetryLatest is the way out of the notice.
	Retry bool
}

// Snapshot is an immutable view of a session's observable state.
// Version increases with every change, so a subscriber receiving
// snapshots from several goroutines can drop stale ones.
type Snapshot struct {
	Version      uint64
	Target       types.TargetID
	ThreadID     types.ThreadID
	Messages     []types.Message
	Page         PageState
	Loading      bool
	LoadingOlder bool
	Clearing     bool
	Sending      bool
	Notice       *Notice
	Offset       int
	Pinned       bool
	Disposed     bool
}

// Busy reports whether any request is in flight.
func (s Snapshot) Busy() bool {
	return s.Loading || s.LoadingOlder || s.Clearing || s.Sending
}
