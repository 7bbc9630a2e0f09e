package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and keyless development
// setups.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
	last  string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*Blob)}
}

func (s *MemoryStore) Get(_ context.Context, wallet string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[strings.ToLower(wallet)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *blob
	return &copied, nil
}

func (s *MemoryStore) Set(_ context.Context, wallet string, blob *Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *blob
	copied.Wallet = strings.ToLower(wallet)
	copied.UpdatedAt = time.Now().UTC()
	s.blobs[copied.Wallet] = &copied
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, strings.ToLower(wallet))
	return nil
}

func (s *MemoryStore) SetLastWallet(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = strings.ToLower(wallet)
	return nil
}

func (s *MemoryStore) LastWallet(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == "" {
		return "", ErrNotFound
	}
	return s.last, nil
}
