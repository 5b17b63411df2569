package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation transcript.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`

	// Pending marks a local placeholder awaiting the server's reply.
	Pending bool `json:"-"`
}

// UnmarshalJSON accepts ids encoded either as JSON strings or numbers.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var wire struct {
		plain
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id, err := DecodeFlexibleID(wire.ID)
	if err != nil {
		return fmt.Errorf("decode message id: %w", err)
	}
	*m = Message(wire.plain)
	m.ID = id
	return nil
}

// DecodeFlexibleID decodes a JSON string or number into its string form.
// A missing or null id decodes to "".
func DecodeFlexibleID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp. Empty or unparsable input
// yields the Unix epoch and false.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Unix(0, 0).UTC(), false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Unix(0, 0).UTC(), false
}

// SortKey is the ordering key of the message: its creation time in Unix
// nanoseconds, 0 when absent or unparsable.
func (m Message) SortKey() int64 {
	t, ok := ParseTimestamp(m.CreatedAt)
	if !ok {
		return 0
	}
	return t.UnixNano()
}

// FormatTimestamp renders t the way messages carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Cursor is an opaque continuation reference supplied by the server. The
// empty cursor means there is nothing older to fetch.
type Cursor string

func (c Cursor) Exhausted() bool { return c == "" }

// ConversationContext is sent along with every message.
type ConversationContext struct {
	TargetID TargetID       `json:"target_id"`
	Aux      map[string]any `json:"aux,omitempty"`
}

// HistoryRequest asks for one page of history. A non-empty Cursor is
// followed verbatim and takes precedence over TargetID and PageSize.
type HistoryRequest struct {
	TargetID TargetID
	PageSize int
	Cursor   Cursor
}

// HistoryPage is one page of history. Messages are newest-first, as the
// server returns them.
type HistoryPage struct {
	ThreadID ThreadID
	TargetID TargetID
	Next     Cursor
	Previous Cursor
	Messages []Message
}

type SendRequest struct {
	Text    string
	Context ConversationContext
}

// SendReply is the server's answer to a SendRequest. ID and CreatedAt are
// empty when the server omitted them.
type SendReply struct {
	Reply     string
	ID        string
	CreatedAt string
	Telemetry json.RawMessage
}

type ClearResult struct {
	Cleared bool `json:"cleared"`
}

// SendState is the terminal state of one send attempt.
type SendState int

const (
	SendRejected SendState = iota
	SendResolved
	SendFailed
	SendAborted
)

func (s SendState) String() string {
	switch s {
	case SendRejected:
		return "rejected"
	case SendResolved:
		return "resolved"
	case SendFailed:
		return "failed"
	case SendAborted:
		return "aborted"
	default:
		return "SendState(" + strconv.Itoa(int(s)) + ")"
	}
}

// SendResult reports how a send ended. Message is set only when resolved,
// Error only when failed.
type SendResult struct {
	State   SendState
	Message Message
	Error   string
}

func (r SendResult) OK() bool { return r.State == SendResolved }
