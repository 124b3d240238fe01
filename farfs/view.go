package farfs

import (
	"fmt"
	"io"
	"sync"
)

// View is a private, writable copy of one file's bytes.
//
// Writes to Bytes never reach the archive. A view backed by a memory
// mapping must be closed to release it; closing a copied view is a no-op.
type View struct {
	data    []byte
	release func() error
	once    sync.Once
	err     error
}

// Bytes returns the view's content. The slice is invalid after Close.
func (v *View) Bytes() []byte {
	return v.data
}

// Len returns the length of the view in bytes.
func (v *View) Len() int {
	return len(v.data)
}

// Close releases the view. It is safe to call more than once.
func (v *View) Close() error {
	v.once.Do(func() {
		if v.release != nil {
			v.err = v.release()
		}
		v.data = nil
	})
	return v.err
}

// copyRange reads [off, off+length) from r into a new view.
func copyRange(r io.ReaderAt, off, length int64) (*View, error) {
	data := make([]byte, length)
	if err := readFull(r, data, off); err != nil {
		return nil, err
	}
	return &View{data: data}, nil
}

// readFull fills p from r at off. A store that ends early fails with an
// error wrapping io.ErrUnexpectedEOF.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by ReadAt
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read %d bytes at offset %d: got %d: %w", len(p), off, n, err)
}
