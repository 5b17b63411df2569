package state

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/user/coachchat/internal/types"
)

// ThreadStore keeps the backend's conversation index in
// <root>/threads/threads.json: one entry per challenge thread, ordered by
// creation. Message logs live beside it, see MessageLog.
type ThreadStore struct {
	file string
	mu   sync.RWMutex
}

func NewThreadStore(root string) *ThreadStore {
	return &ThreadStore{file: filepath.Join(root, "threads", "threads.json")}
}

// read returns the index as stored. A missing file is an empty index.
func (s *ThreadStore) read() ([]*types.Thread, error) {
	data, err := os.ReadFile(s.file)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation index: %w", err)
	}
	var threads []*types.Thread
	if err := json.Unmarshal(data, &threads); err != nil {
		return nil, fmt.Errorf("decode conversation index %s: %w", s.file, err)
	}
	return threads, nil
}

// write replaces the index file through a temp file in the same directory.
func (s *ThreadStore) write(threads []*types.Thread) error {
	sortThreads(threads)
	data, err := json.MarshalIndent(threads, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation index: %w", err)
	}
	dir := filepath.Dir(s.file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "threads-*.json")
	if err != nil {
		return fmt.Errorf("save conversation index: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save conversation index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save conversation index: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.file); err != nil {
		return fmt.Errorf("save conversation index: %w", err)
	}
	return nil
}

// sortThreads orders threads by creation, ties broken by key.
func sortThreads(threads []*types.Thread) {
	slices.SortFunc(threads, func(a, b *types.Thread) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ThreadKey, b.ThreadKey)
	})
}

func newThread(key types.ThreadKey, challenge types.TargetID) *types.Thread {
	now := time.Now().UTC()
	return &types.Thread{
		ThreadID:    types.NewThreadID(),
		ThreadKey:   key,
		ChallengeID: challenge,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ResolveOrCreate returns the conversation for key, starting one for
// challenge the first time the key is seen.
func (s *ThreadStore) ResolveOrCreate(_ context.Context, key types.ThreadKey, challenge types.TargetID) (*types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads, err := s.read()
	if err != nil {
		return nil, err
	}
	if i := slices.IndexFunc(threads, func(th *types.Thread) bool { return th.ThreadKey == key }); i >= 0 {
		return threads[i], nil
	}
	thread := newThread(key, challenge)
	if err := s.write(append(threads, thread)); err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *ThreadStore) Get(_ context.Context, id types.ThreadID) (*types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads, err := s.read()
	if err != nil {
		return nil, err
	}
	if i := slices.IndexFunc(threads, func(th *types.Thread) bool { return th.ThreadID == id }); i >= 0 {
		return threads[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownThread, id)
}

// List returns every conversation, oldest first.
func (s *ThreadStore) List(_ context.Context) ([]*types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads, err := s.read()
	if err != nil {
		return nil, err
	}
	sortThreads(threads)
	return threads, nil
}

// Update stores thread over the entry with the same id and stamps
// UpdatedAt.
func (s *ThreadStore) Update(_ context.Context, thread *types.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads, err := s.read()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(threads, func(th *types.Thread) bool { return th.ThreadID == thread.ThreadID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownThread, thread.ThreadID)
	}
	thread.UpdatedAt = time.Now().UTC()
	threads[i] = thread
	return s.write(threads)
}
