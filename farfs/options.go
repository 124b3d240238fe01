package farfs

import (
	"log/slog"

	"github.com/meigma/far"
)

// Option configures a FileSystem.
type Option func(*FileSystem)

// WithLogger sets the logger for the file system and its archive reader.
func WithLogger(logger *slog.Logger) Option {
	return func(fsys *FileSystem) {
		fsys.logger = logger
	}
}

// WithCacheSize enables an in-memory cache of up to n file contents for
// GetFileAsBytes and ReadFile. Concurrent misses for the same content are
// deduplicated. Values <= 0 disable the cache (the default).
func WithCacheSize(n int) Option {
	return func(fsys *FileSystem) {
		fsys.cacheSize = n
	}
}

// WithReaderOptions passes options through to far.Open, for example
// far.WithMaxFiles.
func WithReaderOptions(opts ...far.Option) Option {
	return func(fsys *FileSystem) {
		fsys.readerOpts = append(fsys.readerOpts, opts...)
	}
}
