package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageAcceptsStringAndNumberIDs(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"id": "abc", "role": "user", "content": "hi"}`, "abc"},
		{`{"id": 17, "role": "assistant", "content": "hello"}`, "17"},
		{`{"id": null, "role": "user", "content": "x"}`, ""},
		{`{"role": "user", "content": "x"}`, ""},
	}
	for _, tt := range tests {
		var m Message
		if err := json.Unmarshal([]byte(tt.raw), &m); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if m.ID != tt.want {
			t.Errorf("%s: id = %q, want %q", tt.raw, m.ID, tt.want)
		}
	}
}

func TestMessageRejectsObjectID(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"id": {"x": 1}}`), &m); err == nil {
		t.Error("expected error for object id")
	}
}

func TestMessageKeepsFields(t *testing.T) {
	var m Message
	raw := `{"id": 3, "role": "assistant", "content": "Try a map.", "created_at": "2026-01-01T00:00:03Z"}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	want := Message{ID: "3", Role: RoleAssistant, Content: "Try a map.", CreatedAt: "2026-01-01T00:00:03Z"}
	if m != want {
		t.Errorf("got %+v, want %+v", m, want)
	}
}

func TestSortKey(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		createdAt string
		want      int64
	}{
		{"2026-01-01T00:00:00Z", base.UnixNano()},
		{"2026-01-01T02:00:00+02:00", base.UnixNano()},
		{"2026-01-01T00:00:00.5", base.Add(500 * time.Millisecond).UnixNano()},
		{"2026-01-01 00:00:01", base.Add(time.Second).UnixNano()},
		{"", 0},
		{"yesterday", 0},
	}
	for _, tt := range tests {
		if got := (Message{CreatedAt: tt.createdAt}).SortKey(); got != tt.want {
			t.Errorf("SortKey(%q) = %d, want %d", tt.createdAt, got, tt.want)
		}
	}
}

func TestFormatTimestampRoundTrips(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 890, time.FixedZone("x", 3600))
	got, ok := ParseTimestamp(FormatTimestamp(now))
	if !ok || !got.Equal(now) {
		t.Errorf("round trip gave %v (%v), want %v", got, ok, now)
	}
}

func TestLogEntryMessage(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)
	m := LogEntry{Seq: 12, Kind: EntryMessage, Role: RoleUser, Content: "hi", CreatedAt: at}.Message()
	want := Message{ID: "12", Role: RoleUser, Content: "hi", CreatedAt: "2026-01-01T00:00:05Z"}
	if m != want {
		t.Errorf("got %+v, want %+v", m, want)
	}
}

func TestSendStateString(t *testing.T) {
	if SendResolved.String() != "resolved" || SendState(9).String() != "SendState(9)" {
		t.Error("unexpected SendState strings")
	}
	if !(SendResult{State: SendResolved}).OK() || (SendResult{State: SendFailed}).OK() {
		t.Error("OK should be true only for resolved")
	}
}
