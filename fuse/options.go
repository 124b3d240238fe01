// Package fuse serves an archive directory tree as a read-only FUSE file
// system.
//
// Every directory and file of the tree becomes a persistent inode when the
// file system is mounted. File reads go straight to the archive bytes.
package fuse

import (
	"errors"
	"log/slog"
	"time"
)

// DefaultCacheTimeout is how long the kernel may cache entries and
// attributes. Archive content never changes while mounted.
const DefaultCacheTimeout = time.Hour

// ErrNotMounted is returned for endpoints this Mounter did not mount.
var ErrNotMounted = errors.New("fuse: not mounted")

// Option configures a Mounter.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	debug        bool
	allowOther   bool
	cacheTimeout time.Duration
}

func newConfig(opts []Option) config {
	c := config{cacheTimeout: DefaultCacheTimeout}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// WithLogger sets the logger for mount and unmount events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithDebug enables protocol tracing by the FUSE library.
func WithDebug(enabled bool) Option {
	return func(c *config) {
		c.debug = enabled
	}
}

// WithAllowOther lets users other than the mounting user access the mount.
func WithAllowOther(enabled bool) Option {
	return func(c *config) {
		c.allowOther = enabled
	}
}

// WithCacheTimeout sets the kernel entry and attribute cache timeout.
func WithCacheTimeout(d time.Duration) Option {
	return func(c *config) {
		c.cacheTimeout = d
	}
}
