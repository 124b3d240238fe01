// Package testutil builds FAR archives and backing stores for tests.
package testutil

import (
	"io"
	"sync/atomic"
)

// MockStore implements an in-memory backing store for tests.
//
// The reported size may be set larger than the data to simulate a store
// that ends early.
type MockStore struct {
	data  []byte
	size  int64
	reads atomic.Int64
}

// NewMockStore returns a store backed by the provided data.
func NewMockStore(data []byte) *MockStore {
	return &MockStore{data: data, size: int64(len(data))}
}

// NewShortStore returns a store that claims size bytes but only holds data.
func NewShortStore(data []byte, size int64) *MockStore {
	return &MockStore{data: data, size: size}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockStore) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the reported size of the store.
func (m *MockStore) Size() int64 {
	return m.size
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockStore) Bytes() []byte {
	return m.data
}

// Reads returns the number of ReadAt calls served.
func (m *MockStore) Reads() int64 {
	return m.reads.Load()
}
