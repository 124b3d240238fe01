package far

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/meigma/far/internal/sizing"
)

// copyBufferSize bounds the buffer used to stream file data.
const copyBufferSize = 64 << 10

// Stats reports the outcome of ExtractAll.
type Stats struct {
	// FileCount is the number of files written.
	FileCount int
	// TotalBytes is the number of content bytes written.
	TotalBytes uint64
}

// ExtractTo copies the content of the file at path to w.
//
// Exactly DataLength bytes starting at DataOffset are written. A source that
// ends early fails with an error matching ErrIO; bytes already written to w
// are not rolled back.
func (r *Reader) ExtractTo(path string, w io.Writer) error {
	entry, err := r.Lookup(path)
	if err != nil {
		return err
	}
	return r.copyEntry(path, entry, w)
}

// ExtractToFile copies the content of the file at path into an already open
// descriptor at its current offset. The descriptor is not closed.
func (r *Reader) ExtractToFile(path string, f *os.File) error {
	return r.ExtractTo(path, f)
}

// ExtractToPath copies the content of the file at path to a newly created
// (or truncated) file at dest.
//
// On failure dest may be left partially written.
func (r *Reader) ExtractToPath(path, dest string) (err error) {
	entry, err := r.Lookup(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return ioError("extract", path, fmt.Errorf("create %s: %w", dest, err))
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ioError("extract", path, fmt.Errorf("close %s: %w", dest, cerr))
		}
	}()
	return r.copyEntry(path, entry, f)
}

// ExtractAll writes every file of the archive below destDir, creating
// parent directories as needed. Writes go through an os.Root so no entry
// can escape destDir.
func (r *Reader) ExtractAll(destDir string) (Stats, error) {
	var stats Stats
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return stats, ioError("extract", "", err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return stats, ioError("extract", "", err)
	}
	defer root.Close()

	for name, entry := range r.All() {
		if dir := path.Dir(name); dir != "." {
			if err := root.MkdirAll(dir, 0o755); err != nil {
				return stats, ioError("extract", name, err)
			}
		}
		if err := r.extractInto(root, name, entry); err != nil {
			return stats, err
		}
		stats.FileCount++
		stats.TotalBytes += entry.DataLength
	}

	r.log().Debug("archive extracted", "dest", destDir, "files", stats.FileCount, "bytes", stats.TotalBytes)
	return stats, nil
}

func (r *Reader) extractInto(root *os.Root, name string, entry Entry) (err error) {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ioError("extract", name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ioError("extract", name, cerr)
		}
	}()
	return r.copyEntry(name, entry, f)
}

// copyEntry streams the data range of entry to w.
func (r *Reader) copyEntry(name string, entry Entry, w io.Writer) error {
	const op = "extract"

	off, err := sizing.ToInt64(entry.DataOffset, errOverflow)
	if err != nil {
		return ioError(op, name, fmt.Errorf("data offset %d: %w", entry.DataOffset, err))
	}
	length, err := sizing.ToInt64(entry.DataLength, errOverflow)
	if err != nil {
		return ioError(op, name, fmt.Errorf("data length %d: %w", entry.DataLength, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.src.Seek(off, io.SeekStart); err != nil {
		return ioError(op, name, fmt.Errorf("seek to offset of file: %w", err))
	}
	// io.CopyBuffer panics on an empty buffer.
	buf := make([]byte, max(1, min(length, copyBufferSize)))
	written, err := io.CopyBuffer(w, io.LimitReader(r.src, length), buf)
	if err != nil {
		return ioError(op, name, fmt.Errorf("write contents: %w", err))
	}
	if written != length {
		return ioError(op, name, fmt.Errorf("short copy (%d of %d bytes): %w", written, length, io.ErrUnexpectedEOF))
	}
	return nil
}

// IsShortRead reports whether err was caused by a source that ended before
// the requested range.
func IsShortRead(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF)
}
