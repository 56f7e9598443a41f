package storage

import (
	"bytes"
	"errors"
	"sync"

	"golang.org/x/exp/slices"
)

var (
	// ErrFileNotFound is returned for names the store does not hold.
	ErrFileNotFound = errors.New("file not found")

	// ErrStoreClosed is returned by a MemoryStore after Close.
	ErrStoreClosed = errors.New("store closed")
)

// Store holds the whole-file contents of one storage node. Implementations
// are safe for concurrent use and never share byte slices with callers.
type Store interface {
	// Get returns the contents of name or ErrFileNotFound.
	Get(name string) ([]byte, error)

	// Put creates or replaces name.
	Put(name string, data []byte) error

	// Delete removes name, or returns ErrFileNotFound.
	Delete(name string) error

	// List returns every held name in ascending order.
	List() ([]string, error)

	// Stats reports usage. On error the counts cover what was read so far.
	Stats() (StoreStats, error)

	Close() error
}

// StoreStats is a node's storage usage.
type StoreStats struct {
	Files int
	Bytes int64
}

// MemoryStore keeps files in memory. Usage is maintained on every write so
// Stats never walks the contents.
type MemoryStore struct {
	mu     sync.RWMutex
	files  map[string][]byte
	bytes  int64
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (m *MemoryStore) Get(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	data, ok := m.files[name]
	if !ok {
		return nil, ErrFileNotFound
	}
	return bytes.Clone(data), nil
}

func (m *MemoryStore) Put(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.bytes += int64(len(data)) - int64(len(m.files[name]))
	m.files[name] = bytes.Clone(data)
	return nil
}

func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	data, ok := m.files[name]
	if !ok {
		return ErrFileNotFound
	}
	m.bytes -= int64(len(data))
	delete(m.files, name)
	return nil
}

func (m *MemoryStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (m *MemoryStore) Stats() (StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return StoreStats{Files: len(m.files), Bytes: m.bytes}, nil
}

// Close drops every file. Later calls other than Stats fail with
// ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.files = make(map[string][]byte)
	m.bytes = 0
	return nil
}
