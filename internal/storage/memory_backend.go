package storage

import (
	"bytes"
	"context"
	"sync"
)

// MemoryBackend keeps the document in process memory. Used by tests and dry runs.
type MemoryBackend struct {
	mu   sync.RWMutex
	data []byte
	ok   bool
}

// NewMemoryBackend returns an uninitialized in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		m.data = []byte(EmptyDocument)
		m.ok = true
	}
	return nil
}

func (m *MemoryBackend) Load(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ok {
		return nil, &ErrNotFound{Key: "memory"}
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBackend) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.ok = true
	return nil
}

func (m *MemoryBackend) SaveIf(ctx context.Context, prev, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if (prev == nil) == m.ok || (m.ok && !bytes.Equal(m.data, prev)) {
		return ErrConflict
	}
	m.data = append([]byte(nil), data...)
	m.ok = true
	return nil
}

func (m *MemoryBackend) Health(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
