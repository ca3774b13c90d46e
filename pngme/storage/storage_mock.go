package storage

import (
	"context"
	"sort"
	"sync"

	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
	"github.com/opencontainers/go-digest"
)

// MockStorage is a simple in-memory Storage implementation for tests.
type MockStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMockStorage constructs an empty MockStorage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files: make(map[string][]byte),
	}
}

// Read returns a copy of the stored bytes.
func (m *MockStorage) Read(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[name]
	if !ok {
		return nil, pngerrors.ErrStorage.WithMessage("mock storage: file not found").WithDetail("name", name)
	}
	return append([]byte(nil), data...), nil
}

// Write replaces the stored bytes.
func (m *MockStorage) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[name] = append([]byte(nil), data...)
	return nil
}

// AddFile adds file content to the mock storage and returns its digest.
func (m *MockStorage) AddFile(name string, data []byte) digest.Digest {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[name] = append([]byte(nil), data...)
	return digest.FromBytes(data)
}

// Names lists stored file names in sorted order.
func (m *MockStorage) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
