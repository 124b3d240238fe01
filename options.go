package far

import "log/slog"

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for debug output while opening and
// extracting. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithMaxFiles limits the number of directory entries an archive may hold.
// Open fails with ErrTooManyFiles when the limit is exceeded.
// Set to 0 to disable the limit.
func WithMaxFiles(n int) Option {
	return func(r *Reader) {
		if n < 0 {
			n = 0
		}
		r.maxFiles = n
	}
}
