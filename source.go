package far

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Source provides seekable, bounds-checked access to archive bytes.
//
// Implementations never return bytes outside [0, Size()). Sources carry a
// cursor and are not safe for concurrent use.
type Source interface {
	io.ReadSeeker

	// ReadExact reads exactly n bytes at the cursor. It fails with an error
	// wrapping io.ErrUnexpectedEOF, without allocating, when fewer than n
	// bytes remain before Size().
	ReadExact(n int64) ([]byte, error)

	// Size returns the declared size of the source.
	Size() int64
}

var errNegativeOffset = errors.New("negative offset")

// FileSource is a descriptor-backed Source.
//
// The cursor lives in the underlying descriptor; FileSource mirrors it so
// reads can be clipped to the declared size.
type FileSource struct {
	rs   io.ReadSeeker
	size int64
	pos  int64
}

// NewFileSource creates a Source reading from f. The size is taken from Stat
// and the cursor is rewound to the start of the file.
func NewFileSource(f *os.File) (*FileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek archive: %w", err)
	}
	return &FileSource{rs: f, size: info.Size()}, nil
}

// NewSeekerSource creates a Source over any io.ReadSeeker whose content is
// size bytes long, such as an io.SectionReader over a memory object.
// The cursor of rs must be at offset 0.
func NewSeekerSource(rs io.ReadSeeker, size int64) *FileSource {
	if size < 0 {
		size = 0
	}
	return &FileSource{rs: rs, size: size}
}

// Seek implements io.Seeker.
func (s *FileSource) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.rs.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	s.pos = pos
	return pos, nil
}

// Read implements io.Reader, stopping at the declared size.
func (s *FileSource) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}
	if remaining := s.size - s.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.rs.Read(p)
	s.pos += int64(n)
	return n, err
}

// ReadExact implements Source.
func (s *FileSource) ReadExact(n int64) ([]byte, error) {
	if err := checkRemaining(s.pos, s.size, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(s.rs, buf)
	s.pos += int64(read)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", n, s.pos-int64(read), err)
	}
	return buf, nil
}

// Size implements Source.
func (s *FileSource) Size() int64 {
	return s.size
}

// BufferSource is a Source over an in-memory buffer with an explicit cursor.
// It is the source to use for untrusted data that is already in memory.
type BufferSource struct {
	buf  []byte
	size int64
	pos  int64
}

// NewBufferSource creates a Source over buf.
//
// The buffer is retained; callers must not modify it while the source is in use.
func NewBufferSource(buf []byte) *BufferSource {
	return &BufferSource{buf: buf, size: int64(len(buf))}
}

// NewBufferSourceSize creates a Source over the first size bytes of buf.
// The declared size is clamped to len(buf) so no read can leave the buffer.
func NewBufferSourceSize(buf []byte, size int64) *BufferSource {
	if size < 0 {
		size = 0
	}
	if size > int64(len(buf)) {
		size = int64(len(buf))
	}
	return &BufferSource{buf: buf, size: size}
}

// Seek implements io.Seeker. Seeking past the end is allowed; reads there fail.
func (s *BufferSource) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = s.size
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	pos := base + offset
	if (offset > 0 && pos < base) || pos < 0 {
		return 0, fmt.Errorf("seek to %d from %d: %w", offset, base, errNegativeOffset)
	}
	s.pos = pos
	return pos, nil
}

// Read implements io.Reader.
func (s *BufferSource) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.pos:s.size])
	s.pos += int64(n)
	return n, nil
}

// ReadExact implements Source. The returned slice is a copy.
func (s *BufferSource) ReadExact(n int64) ([]byte, error) {
	if err := checkRemaining(s.pos, s.size, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.buf[s.pos:s.pos+n])
	s.pos += n
	return out, nil
}

// Size implements Source.
func (s *BufferSource) Size() int64 {
	return s.size
}

func checkRemaining(pos, size, n int64) error {
	if n < 0 {
		return fmt.Errorf("read %d bytes: negative length", n)
	}
	if pos > size || n > size-pos {
		return fmt.Errorf("read %d bytes at offset %d of %d: %w", n, pos, size, io.ErrUnexpectedEOF)
	}
	return nil
}

// Interface compliance.
var (
	_ Source = (*FileSource)(nil)
	_ Source = (*BufferSource)(nil)
)
