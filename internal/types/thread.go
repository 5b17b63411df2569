package types

import "time"

// Thread is the server-side index entry for one conversation.
type Thread struct {
	ThreadID    ThreadID  `json:"thread_id"`
	ThreadKey   ThreadKey `json:"thread_key"`
	ChallengeID TargetID  `json:"challenge_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastSeq     int64     `json:"last_seq"`
	ClearedAt   time.Time `json:"cleared_at,omitzero"`
}

// LogEntryKind distinguishes messages from markers in a thread's log.
type LogEntryKind string

const (
	EntryMessage LogEntryKind = "message"
	// EntryClear hides every earlier entry from readers.
	EntryClear LogEntryKind = "clear"
)

// LogEntry is one line of a thread's append-only message log.
type LogEntry struct {
	Seq       int64        `json:"seq"`
	Kind      LogEntryKind `json:"kind"`
	Role      Role         `json:"role,omitempty"`
	Content   string       `json:"content,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Message converts a log entry to the wire message shape. The sequence
// number doubles as the message id.
func (e LogEntry) Message() Message {
	return Message{
		ID:        formatSeq(e.Seq),
		Role:      e.Role,
		Content:   e.Content,
		CreatedAt: FormatTimestamp(e.CreatedAt),
	}
}
