package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink receives extracted file content.
type Sink interface {
	// ShouldProcess returns false if the entry should be skipped.
	ShouldProcess(e *Entry) bool

	// Writer returns a Committer for the entry's content. The caller calls
	// Commit after writing everything, or Discard on any error.
	Writer(e *Entry) (Committer, error)
}

// Committer is a writer whose output only becomes visible on Commit.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// FileSink writes entries below a directory with atomic writes.
//
// Files are written to a temporary file in the same directory, then renamed
// to the final path on Commit. Partially written files are never visible at
// the final path. Entry paths must be valid archive paths.
type FileSink struct {
	destDir   string
	overwrite bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// NewFileSink creates a FileSink that writes below destDir.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{destDir: destDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileSink) destPath(e *Entry) string {
	return filepath.Join(s.destDir, filepath.FromSlash(e.Path))
}

// ShouldProcess returns false if the file already exists and overwrite is disabled.
func (s *FileSink) ShouldProcess(e *Entry) bool {
	if s.overwrite {
		return true
	}
	_, err := os.Lstat(s.destPath(e))
	return os.IsNotExist(err)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(e *Entry) (Committer, error) {
	destPath := s.destPath(e)
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".far-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{destPath: destPath, tmp: tmp}, nil
}

type fileCommitter struct {
	destPath string
	tmp      *os.File
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tmp.Write(p)
}

// Commit closes the temp file and renames it to the final path.
func (c *fileCommitter) Commit() error {
	tmpPath := c.tmp.Name()
	if err := c.tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, c.destPath); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	tmpPath := c.tmp.Name()
	_ = c.tmp.Close() //nolint:errcheck // we're cleaning up
	return os.Remove(tmpPath)
}
