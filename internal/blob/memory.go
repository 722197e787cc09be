package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by MemoryStore.Get for missing objects.
var ErrNotFound = errors.New("object not found")

// MemoryStore is an in-memory implementation of Store.
// Used for testing and development. Thread-safe via RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]object
}

type object struct {
	data        []byte
	contentType string
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]object)}
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MemoryStore) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]object)
	}
	return nil
}

// Put uploads an object, creating the bucket implicitly.
func (s *MemoryStore) Put(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]object)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	s.buckets[bucket][path] = object{data: copied, contentType: contentType}
	return nil
}

// Remove deletes the given paths. Missing objects are ignored.
func (s *MemoryStore) Remove(ctx context.Context, bucket string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return nil
	}
	for _, path := range paths {
		delete(objects, path)
	}
	return nil
}

// Get downloads an object.
func (s *MemoryStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, path)
	}
	obj, ok := objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, path)
	}
	copied := make([]byte, len(obj.data))
	copy(copied, obj.data)
	return copied, nil
}

// Exists reports whether an object is present. Test helper.
func (s *MemoryStore) Exists(bucket, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return false
	}
	_, ok = objects[path]
	return ok
}
