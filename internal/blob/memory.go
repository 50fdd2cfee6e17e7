package blob

import (
	"context"
	"fmt"
	"sync"
)

// Object is a stored blob
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string
	// FailPut, when set, is consulted before every Put
	FailPut func(path string) error
}

// NewMemoryStore creates an empty store whose URLs start with baseURL
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &MemoryStore{objects: make(map[string]Object), baseURL: baseURL}
}

// Put stores a copy of data
func (m *MemoryStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if m.FailPut != nil {
		if err := m.FailPut(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

// URL returns baseURL/path for stored objects
func (m *MemoryStore) URL(ctx context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[path]; !ok {
		return "", fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return m.baseURL + "/" + path, nil
}

// Delete removes path
func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	delete(m.objects, path)
	return nil
}

// Get returns the object at path
func (m *MemoryStore) Get(path string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	return obj, ok
}

// Len returns the number of stored objects
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
