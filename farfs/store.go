package farfs

import (
	"fmt"
	"io"
	"os"
)

// Store provides random access to the bytes of an archive.
type Store interface {
	io.ReaderAt
	Size() int64
}

// Cloner is implemented by stores that can produce a copy-on-write view of
// a byte range more cheaply than reading it.
type Cloner interface {
	CloneRange(off, length int64) (*View, error)
}

// FileStore is a Store backed by an open file.
// os.File has ReadAt but not Size, so the size is captured at construction.
type FileStore struct {
	file *os.File
	size int64
}

// NewFileStore creates a FileStore over f. The file is owned by the store
// and closed by Close.
func NewFileStore(f *os.File) (*FileStore, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return &FileStore{file: f, size: info.Size()}, nil
}

// OpenFileStore opens the archive file at path.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	s, err := NewFileStore(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileStore) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the size of the file when the store was created.
func (s *FileStore) Size() int64 {
	return s.size
}

// Name returns the name of the underlying file.
func (s *FileStore) Name() string {
	return s.file.Name()
}

// CloneRange implements Cloner by mapping the range privately where the
// platform supports it.
func (s *FileStore) CloneRange(off, length int64) (*View, error) {
	return mapRange(s.file, off, length)
}

// Close closes the underlying file. Views created earlier stay valid.
func (s *FileStore) Close() error {
	return s.file.Close()
}

// MemStore is a Store over an in-memory archive image.
type MemStore struct {
	data []byte
}

// NewMemStore creates a store over data. The slice is retained and must
// not be modified while the store is in use.
func NewMemStore(data []byte) *MemStore {
	return &MemStore{data: data}
}

// ReadAt implements io.ReaderAt.
func (s *MemStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size implements Store.
func (s *MemStore) Size() int64 {
	return int64(len(s.data))
}

// CloneRange implements Cloner with a private copy of the range.
func (s *MemStore) CloneRange(off, length int64) (*View, error) {
	if off < 0 || length < 0 || off > int64(len(s.data)) || length > int64(len(s.data))-off {
		return nil, fmt.Errorf("clone %d+%d of %d bytes: %w", off, length, len(s.data), io.ErrUnexpectedEOF)
	}
	data := make([]byte, length)
	copy(data, s.data[off:off+length])
	return &View{data: data}, nil
}

// Interface compliance.
var (
	_ Store     = (*FileStore)(nil)
	_ Cloner    = (*FileStore)(nil)
	_ io.Closer = (*FileStore)(nil)
	_ Store     = (*MemStore)(nil)
	_ Cloner    = (*MemStore)(nil)
)
