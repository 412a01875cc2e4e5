package evidence

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps snapshots in-memory and returns memory:// URIs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// PutObject persists a copy of the content.
func (s *MemoryStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	s.mu.Lock()
	s.data[path] = append([]byte(nil), byteData...)
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Get returns a stored snapshot.
func (s *MemoryStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
