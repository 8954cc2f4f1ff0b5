package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wavehq/wavechat/server/usecase"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process usecase.StateStore for single-node
// deployments and tests. Entries expire lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   usecase.Clock
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(usecase.SystemClock())
}

func NewMemoryStoreWithClock(clock usecase.Clock) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), clock: clock}
}

var _ usecase.StateStore = (*MemoryStore)(nil)

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", usecase.ErrKeyMiss
	}
	if entry.expired(s.clock.Now()) {
		delete(s.entries, key)
		return "", usecase.ErrKeyMiss
	}
	return entry.value, nil
}

func (s *MemoryStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data), ttl)
}

func (s *MemoryStore) GetJSON(ctx context.Context, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.expired(s.clock.Now()) {
		delete(s.entries, key)
		return usecase.ErrKeyMiss
	}
	if ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}
	s.entries[key] = entry
	return nil
}
