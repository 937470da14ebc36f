// Package memory stores artifacts in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

type key struct {
	domain string
	path   string
}

// BlobStore keeps artifacts in a map guarded by a RWMutex.
type BlobStore struct {
	mu   sync.RWMutex
	data map[key][]byte
}

var _ storage.Provider = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[key][]byte)}
}

// Write stores a copy of content.
func (s *BlobStore) Write(_ context.Context, domain, path string, content []byte) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key{domain, path}] = append([]byte(nil), content...)
	return nil
}

// Exists reports whether an artifact is stored.
func (s *BlobStore) Exists(_ context.Context, domain, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key{domain, path}]
	return ok, nil
}

// Read returns a copy of the stored artifact.
func (s *BlobStore) Read(_ context.Context, domain, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key{domain, path}]
	if !ok {
		return nil, fmt.Errorf("%s%s: %w", domain, path, storage.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Paths lists the stored paths for domain in lexical order.
func (s *BlobStore) Paths(domain string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.data {
		if k.domain == domain {
			out = append(out, k.path)
		}
	}
	sort.Strings(out)
	return out
}

// Close is a no-op.
func (s *BlobStore) Close() error { return nil }
