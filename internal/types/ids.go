package types

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TargetID identifies the practice challenge a conversation is about.
type TargetID int64

type ThreadID string
type ThreadKey string

const localIDPrefix = "local-"

func (t TargetID) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// ParseTargetID parses a decimal target identifier. Zero and negative values
// are rejected because zero means "no target".
func ParseTargetID(s string) (TargetID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return TargetID(n), nil
}

func NewThreadID() ThreadID {
	return ThreadID(uuid.New().String())
}

// NewLocalMessageID returns an id for a message that exists only on this
// client (optimistic inserts and replies the server sent without an id).
func NewLocalMessageID() string {
	return localIDPrefix + uuid.New().String()
}

// IsLocalID reports whether id was minted by NewLocalMessageID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

func formatSeq(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

func NewThreadKey(parts ...string) ThreadKey {
	return ThreadKey(strings.Join(parts, ":"))
}
