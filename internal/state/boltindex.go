package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/user/coachchat/internal/types"
)

var (
	threadsBucket = []byte("threads")
	keysBucket    = []byte("thread_keys")
)

// BoltThreadStore keeps the thread index in a bbolt database at
// threads/index.bolt. Threads are stored as JSON under their ID, with a
// second bucket mapping each ThreadKey to its ID.
//
// bbolt locks the file, so only one process can hold the index open.
type BoltThreadStore struct {
	db *bolt.DB
}

// OpenBoltThreadStore opens (creating if needed) the index under root.
// It fails after timeout if another process holds the database.
func OpenBoltThreadStore(root string, timeout time.Duration) (*BoltThreadStore, error) {
	path := filepath.Join(root, "threads", "index.bolt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create threads dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("thread index %s is in use by another process", path)
		}
		return nil, fmt.Errorf("open thread index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(threadsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(keysBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create thread buckets: %w", err)
	}
	return &BoltThreadStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltThreadStore) Close() error {
	return s.db.Close()
}

func getThread(tx *bolt.Tx, id []byte) (*types.Thread, error) {
	data := tx.Bucket(threadsBucket).Get(id)
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, id)
	}
	var th types.Thread
	if err := json.Unmarshal(data, &th); err != nil {
		return nil, fmt.Errorf("unmarshal thread %s: %w", id, err)
	}
	return &th, nil
}

func putThread(tx *bolt.Tx, th *types.Thread) error {
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := tx.Bucket(threadsBucket).Put([]byte(th.ThreadID), data); err != nil {
		return err
	}
	return tx.Bucket(keysBucket).Put([]byte(th.ThreadKey), []byte(th.ThreadID))
}

// ResolveOrCreate returns the thread for key, creating it if needed.
func (s *BoltThreadStore) ResolveOrCreate(_ context.Context, key types.ThreadKey, challenge types.TargetID) (*types.Thread, error) {
	var thread *types.Thread
	err := s.db.Update(func(tx *bolt.Tx) error {
		if id := tx.Bucket(keysBucket).Get([]byte(key)); id != nil {
			var err error
			thread, err = getThread(tx, id)
			return err
		}
		thread = newThread(key, challenge)
		return putThread(tx, thread)
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// Get returns the thread with the given ID.
func (s *BoltThreadStore) Get(_ context.Context, id types.ThreadID) (*types.Thread, error) {
	var thread *types.Thread
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		thread, err = getThread(tx, []byte(id))
		return err
	})
	return thread, err
}

// List returns all threads, oldest first.
func (s *BoltThreadStore) List(_ context.Context) ([]*types.Thread, error) {
	var threads []*types.Thread
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(threadsBucket).ForEach(func(k, v []byte) error {
			var th types.Thread
			if err := json.Unmarshal(v, &th); err != nil {
				return fmt.Errorf("unmarshal thread %s: %w", k, err)
			}
			threads = append(threads, &th)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortThreads(threads)
	return threads, nil
}

// Update persists changes to an existing thread, setting UpdatedAt to now.
func (s *BoltThreadStore) Update(_ context.Context, thread *types.Thread) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(threadsBucket).Get([]byte(thread.ThreadID)) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownThread, thread.ThreadID)
		}
		thread.UpdatedAt = time.Now().UTC()
		return putThread(tx, thread)
	})
}
