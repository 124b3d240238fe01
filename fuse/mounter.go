//go:build linux || darwin

package fuse

import (
	"fmt"
	"io"
	"sync"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/far/tree"
)

// Mounter mounts archive trees with FUSE. It satisfies farfs.Mounter.
type Mounter struct {
	config
	mu      sync.Mutex
	servers map[string]*fuse.Server
}

// NewMounter creates a Mounter.
func NewMounter(opts ...Option) *Mounter {
	return &Mounter{config: newConfig(opts), servers: make(map[string]*fuse.Server)}
}

// Mount serves root read-only at the directory endpoint. It returns once
// the mount is ready; the kernel requests are served in the background.
func (m *Mounter) Mount(root *tree.Dir, data io.ReaderAt, endpoint string) error {
	timeout := m.cacheTimeout
	// Zero timeouts would leave entries and attributes uncached.
	opts := &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			AllowOther: m.allowOther,
			Debug:      m.debug,
			FsName:     "far",
			Name:       "far",
			Options:    []string{"ro"},
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[endpoint]; ok {
		return fmt.Errorf("mount %s: already mounted", endpoint)
	}
	server, err := fs.Mount(endpoint, NewRoot(root, data), opts)
	if err != nil {
		return fmt.Errorf("mount %s: %w", endpoint, err)
	}
	m.servers[endpoint] = server
	m.log().Info("archive mounted", "endpoint", endpoint)
	return nil
}

// Wait blocks until endpoint is unmounted.
func (m *Mounter) Wait(endpoint string) error {
	server, err := m.server(endpoint)
	if err != nil {
		return err
	}
	server.Wait()
	m.forget(endpoint, server)
	return nil
}

// Unmount detaches endpoint.
func (m *Mounter) Unmount(endpoint string) error {
	server, err := m.server(endpoint)
	if err != nil {
		return err
	}
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", endpoint, err)
	}
	m.forget(endpoint, server)
	m.log().Info("archive unmounted", "endpoint", endpoint)
	return nil
}

// UnmountAll detaches every endpoint and returns the first error.
func (m *Mounter) UnmountAll() error {
	var first error
	for _, endpoint := range m.Endpoints() {
		if err := m.Unmount(endpoint); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Endpoints returns the endpoints currently mounted.
func (m *Mounter) Endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoints := make([]string, 0, len(m.servers))
	for endpoint := range m.servers {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

func (m *Mounter) server(endpoint string) (*fuse.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	server, ok := m.servers[endpoint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMounted, endpoint)
	}
	return server, nil
}

func (m *Mounter) forget(endpoint string, server *fuse.Server) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.servers[endpoint] == server {
		delete(m.servers, endpoint)
	}
}
