package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/vaagent/core"
)

// InMemoryStore is a volatile CheckpointStore keeping threads in a process
// local map for the lifetime of the process. It is safe for concurrent access.
// Every returned thread is a clone so callers cannot mutate stored history.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*core.Thread

	*ThreadLocker
}

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:      make(map[string]*core.Thread),
		ThreadLocker: NewThreadLocker(),
	}
}

// Create allocates a thread with a fresh id.
func (s *InMemoryStore) Create(_ context.Context) (*core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := core.NewThread(core.NewID())
	s.threads[t.ID] = t

	return t.Clone(), nil
}

// Load returns a copy of the thread or core.ErrThreadNotFound.
func (s *InMemoryStore) Load(_ context.Context, id string) (*core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, core.ErrThreadNotFound
	}

	return t.Clone(), nil
}

// Append adds msgs to the thread under a single write lock, so a batch is
// never observed half-applied.
func (s *InMemoryStore) Append(_ context.Context, id string, msgs ...core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return core.ErrThreadNotFound
	}

	for _, m := range msgs {
		t.Messages = append(t.Messages, m.Clone())
	}
	t.UpdatedAt = time.Now().UTC()

	return nil
}

// Len returns the number of stored threads.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
