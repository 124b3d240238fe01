// Package farfs serves the files of a FAR archive.
//
// A FileSystem owns a backing Store, validates the archive it holds and
// builds its directory tree once. Afterwards individual files can be read as
// owned byte slices or copy-on-write views, the tree can be handed to a
// Mounter for serving over a directory protocol, and the archive is
// available through the io/fs interfaces.
package farfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/far"
	"github.com/meigma/far/internal/sizing"
	"github.com/meigma/far/tree"
)

// Sentinel errors.
var (
	// ErrNotServing is returned by every accessor of a FileSystem whose
	// archive failed to load or that has been closed.
	ErrNotServing = errors.New("farfs: file system not serving")

	errViewTooLarge = errors.New("farfs: view too large")
)

// Mounter serves a directory tree over some directory protocol.
//
// Mount receives the root of the tree and the archive bytes that the file
// nodes index into. It owns serving from then on.
type Mounter interface {
	Mount(root *tree.Dir, data io.ReaderAt, endpoint string) error
}

// rangeKey identifies file content by its location in the archive, so
// files sharing a data range share a cache slot.
type rangeKey struct {
	off, length uint64
}

// FileSystem provides access to the files of one archive.
//
// A FileSystem is serving only if its archive loaded and its tree built.
// Otherwise Err reports why and every accessor fails with ErrNotServing.
// A serving FileSystem is safe for concurrent use.
type FileSystem struct {
	store      Store
	reader     *far.Reader
	root       *tree.Dir
	err        error
	closed     atomic.Bool
	cache      *lru.Cache[rangeKey, []byte] // nil = no caching
	readGroup  singleflight.Group
	cacheSize  int
	readerOpts []far.Option
	logger     *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (fsys *FileSystem) log() *slog.Logger {
	if fsys.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return fsys.logger
}

// New loads the archive held by store and builds its directory tree.
//
// New never fails outright: a store that does not hold a valid archive
// yields a non-serving FileSystem whose Err describes the problem.
func New(store Store, opts ...Option) *FileSystem {
	fsys := &FileSystem{store: store}
	for _, opt := range opts {
		opt(fsys)
	}
	if err := fsys.load(); err != nil {
		fsys.err = err
		fsys.log().Warn("archive not serving", "error", err)
	}
	return fsys
}

func (fsys *FileSystem) load() error {
	if fsys.store == nil {
		return errors.New("farfs: nil store")
	}
	size := fsys.store.Size()
	if size < 0 {
		return fmt.Errorf("farfs: negative store size %d", size)
	}

	src := far.NewSeekerSource(io.NewSectionReader(fsys.store, 0, size), size)
	opts := append([]far.Option{far.WithLogger(fsys.logger)}, fsys.readerOpts...)
	r, err := far.Open(src, opts...)
	if err != nil {
		return err
	}
	root, err := tree.Build(r)
	if err != nil {
		return fmt.Errorf("build tree: %w", err)
	}

	if fsys.cacheSize > 0 {
		cache, err := lru.New[rangeKey, []byte](fsys.cacheSize)
		if err != nil {
			return fmt.Errorf("create cache: %w", err)
		}
		fsys.cache = cache
	}

	fsys.reader = r
	fsys.root = root
	files, dirs := root.Count()
	fsys.log().Debug("archive serving", "files", files, "dirs", dirs, "size", size)
	return nil
}

// Err returns the reason the FileSystem is not serving, or nil.
func (fsys *FileSystem) Err() error {
	if fsys.err != nil {
		return fsys.err
	}
	if fsys.closed.Load() {
		return fs.ErrClosed
	}
	return nil
}

// Serving reports whether the archive loaded and the FileSystem is open.
func (fsys *FileSystem) Serving() bool {
	return fsys.Err() == nil
}

func (fsys *FileSystem) serving() error {
	if err := fsys.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotServing, err)
	}
	return nil
}

// Root returns the directory tree, or nil when not serving.
func (fsys *FileSystem) Root() *tree.Dir {
	if fsys.serving() != nil {
		return nil
	}
	return fsys.root
}

// Reader returns the archive reader, or nil when not serving.
func (fsys *FileSystem) Reader() *far.Reader {
	if fsys.serving() != nil {
		return nil
	}
	return fsys.reader
}

// Serve hands the tree and the backing store to m. The FileSystem takes no
// further part in serving.
func (fsys *FileSystem) Serve(m Mounter, endpoint string) error {
	if err := fsys.serving(); err != nil {
		return err
	}
	if err := m.Mount(fsys.root, fsys.store, endpoint); err != nil {
		return fmt.Errorf("serve %s: %w", endpoint, err)
	}
	fsys.log().Info("archive served", "endpoint", endpoint)
	return nil
}

// GetFileAsView returns a copy-on-write view of the file at path.
//
// Stores implementing Cloner produce the view themselves (FileStore maps
// the range privately); other stores are read into a private copy. The
// caller must Close the view.
func (fsys *FileSystem) GetFileAsView(path string) (*View, error) {
	const op = "view"
	off, length, err := fsys.locate(op, path)
	if err != nil {
		return nil, err
	}

	var v *View
	if c, ok := fsys.store.(Cloner); ok {
		v, err = c.CloneRange(off, length)
	} else {
		v, err = copyRange(fsys.store, off, length)
	}
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: path, Err: err}
	}
	return v, nil
}

// GetFileAsBytes returns a copy of the content of the file at path.
// A store that ends before the file does fails the call.
func (fsys *FileSystem) GetFileAsBytes(path string) ([]byte, error) {
	const op = "read"
	off, length, err := fsys.locate(op, path)
	if err != nil {
		return nil, err
	}
	data, err := fsys.readContent(off, length)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: path, Err: err}
	}
	return data, nil
}

// readContent returns an owned copy of [off, off+length), going through
// the cache when one is configured.
func (fsys *FileSystem) readContent(off, length int64) ([]byte, error) {
	if fsys.cache == nil {
		return fsys.readRange(off, length)
	}

	key := rangeKey{off: uint64(off), length: uint64(length)}
	if data, ok := fsys.cache.Get(key); ok {
		fsys.log().Debug("content cache hit", "offset", off, "length", length)
		return bytes.Clone(data), nil
	}
	fsys.log().Debug("content cache miss", "offset", off, "length", length)

	result, err, _ := fsys.readGroup.Do(fmt.Sprintf("%d:%d", off, length), func() (any, error) {
		// Double-check cache
		if data, ok := fsys.cache.Get(key); ok {
			return data, nil
		}
		data, err := fsys.readRange(off, length)
		if err != nil {
			return nil, err
		}
		fsys.cache.Add(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(result.([]byte)), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (fsys *FileSystem) readRange(off, length int64) ([]byte, error) {
	data := make([]byte, length)
	if err := readFull(fsys.store, data, off); err != nil {
		return nil, err
	}
	return data, nil
}

// Digest returns the canonical (sha256) digest of the content of the file
// at path.
func (fsys *FileSystem) Digest(path string) (digest.Digest, error) {
	const op = "digest"
	off, length, err := fsys.locate(op, path)
	if err != nil {
		return "", err
	}

	digester := digest.Canonical.Digester()
	n, err := io.Copy(digester.Hash(), io.NewSectionReader(fsys.store, off, length))
	if err == nil && n != length {
		err = fmt.Errorf("read %d of %d bytes: %w", n, length, io.ErrUnexpectedEOF)
	}
	if err != nil {
		return "", &fs.PathError{Op: op, Path: path, Err: err}
	}
	return digester.Digest(), nil
}

// locate resolves path to a data range that lies inside the store.
func (fsys *FileSystem) locate(op, path string) (off, length int64, err error) {
	if err := fsys.serving(); err != nil {
		return 0, 0, &fs.PathError{Op: op, Path: path, Err: err}
	}
	entry, err := fsys.reader.Lookup(path)
	if err != nil {
		return 0, 0, &fs.PathError{Op: op, Path: path, Err: err}
	}
	if !sizing.Within(entry.DataOffset, entry.DataLength, fsys.store.Size()) {
		return 0, 0, &fs.PathError{Op: op, Path: path, Err: fmt.Errorf(
			"data range %d+%d outside archive of %d bytes: %w",
			entry.DataOffset, entry.DataLength, fsys.store.Size(), io.ErrUnexpectedEOF)}
	}
	return int64(entry.DataOffset), int64(entry.DataLength), nil
}

// Close stops serving and closes the store if it implements io.Closer.
// Views and byte slices returned earlier remain valid.
func (fsys *FileSystem) Close() error {
	if fsys.closed.Swap(true) {
		return nil
	}
	if c, ok := fsys.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
