//go:build !(linux || darwin)

package fuse

import (
	"errors"
	"fmt"
	"io"

	"github.com/meigma/far/tree"
)

// Mounter reports that FUSE is unavailable on this platform.
type Mounter struct {
	config
}

// NewMounter creates a Mounter.
func NewMounter(opts ...Option) *Mounter {
	return &Mounter{config: newConfig(opts)}
}

// Mount always fails with errors.ErrUnsupported.
func (m *Mounter) Mount(_ *tree.Dir, _ io.ReaderAt, endpoint string) error {
	return fmt.Errorf("mount %s: %w", endpoint, errors.ErrUnsupported)
}

// Wait always fails with ErrNotMounted.
func (m *Mounter) Wait(endpoint string) error {
	return fmt.Errorf("%w: %s", ErrNotMounted, endpoint)
}

// Unmount always fails with ErrNotMounted.
func (m *Mounter) Unmount(endpoint string) error {
	return fmt.Errorf("%w: %s", ErrNotMounted, endpoint)
}

// UnmountAll has nothing to do.
func (m *Mounter) UnmountAll() error {
	return nil
}

// Endpoints returns nil.
func (m *Mounter) Endpoints() []string {
	return nil
}
