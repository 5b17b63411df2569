package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/coachchat/internal/types"
)

// maxLineBytes bounds one JSONL line; messages are capped well below it.
const maxLineBytes = 1 << 20

// MessageLog is a JSONL-backed append-only message log.
// Entries are stored per thread in threads/<threadID>/messages.jsonl.
// Clearing appends a marker instead of truncating, so sequence numbers
// (which double as message ids) are never reused.
type MessageLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.ThreadID]*sync.Mutex
}

// NewMessageLog creates a new file-backed MessageLog rooted at the given directory.
func NewMessageLog(root string) *MessageLog {
	return &MessageLog{
		root:  root,
		locks: make(map[types.ThreadID]*sync.Mutex),
	}
}

// getLock returns the per-thread mutex, creating one if it doesn't exist.
func (l *MessageLog) getLock(thread types.ThreadID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[thread]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[thread] = lock
	return lock
}

func (l *MessageLog) logPath(thread types.ThreadID) string {
	return filepath.Join(l.root, "threads", string(thread), "messages.jsonl")
}

// read returns the visible messages, oldest first, and the total number of
// lines. Caller must hold the thread lock.
func (l *MessageLog) read(thread types.ThreadID) ([]types.LogEntry, int64, error) {
	f, err := os.Open(l.logPath(thread))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	var (
		visible []types.LogEntry
		lines   int64
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lines++
		var entry types.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, 0, fmt.Errorf("unmarshal log entry: %w", err)
		}
		if entry.Kind == types.EntryClear {
			visible = visible[:0]
			continue
		}
		visible = append(visible, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan message log: %w", err)
	}
	return visible, lines, nil
}

// write appends one entry with the next sequence number. Caller must hold
// the thread lock.
func (l *MessageLog) write(thread types.ThreadID, entry *types.LogEntry, lines int64) error {
	if err := os.MkdirAll(filepath.Dir(l.logPath(thread)), 0o755); err != nil {
		return fmt.Errorf("create thread dir: %w", err)
	}

	entry.Seq = lines + 1
	if entry.Kind == "" {
		entry.Kind = types.EntryMessage
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	f, err := os.OpenFile(l.logPath(thread), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	return nil
}

// Append adds a message to the thread's log with an auto-incremented sequence number.
func (l *MessageLog) Append(_ context.Context, thread types.ThreadID, entry *types.LogEntry) error {
	lock := l.getLock(thread)
	lock.Lock()
	defer lock.Unlock()

	_, lines, err := l.read(thread)
	if err != nil {
		return err
	}
	return l.write(thread, entry, lines)
}

// Page returns up to limit messages with a sequence number below before,
// newest first, and whether older messages remain.
func (l *MessageLog) Page(_ context.Context, thread types.ThreadID, before int64, limit int) ([]types.LogEntry, bool, error) {
	lock := l.getLock(thread)
	lock.Lock()
	defer lock.Unlock()

	visible, _, err := l.read(thread)
	if err != nil {
		return nil, false, err
	}

	end := len(visible)
	if before > 0 {
		end = 0
		for end < len(visible) && visible[end].Seq < before {
			end++
		}
	}
	start := max(0, end-limit)

	page := make([]types.LogEntry, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, visible[i])
	}
	return page, start > 0, nil
}

// Tail returns the last limit messages for the thread, oldest first.
func (l *MessageLog) Tail(_ context.Context, thread types.ThreadID, limit int) ([]types.LogEntry, error) {
	lock := l.getLock(thread)
	lock.Lock()
	defer lock.Unlock()

	visible, _, err := l.read(thread)
	if err != nil {
		return nil, err
	}
	if len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible, nil
}

// Clear hides every message logged so far and returns how many were visible.
func (l *MessageLog) Clear(_ context.Context, thread types.ThreadID) (int, error) {
	lock := l.getLock(thread)
	lock.Lock()
	defer lock.Unlock()

	visible, lines, err := l.read(thread)
	if err != nil {
		return 0, err
	}
	if err := l.write(thread, &types.LogEntry{Kind: types.EntryClear}, lines); err != nil {
		return 0, err
	}
	return len(visible), nil
}

// Count returns the number of visible messages for the thread.
func (l *MessageLog) Count(_ context.Context, thread types.ThreadID) (int64, error) {
	lock := l.getLock(thread)
	lock.Lock()
	defer lock.Unlock()

	visible, _, err := l.read(thread)
	if err != nil {
		return 0, err
	}
	return int64(len(visible)), nil
}
