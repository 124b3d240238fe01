package farfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/meigma/far/internal/pathutil"
	"github.com/meigma/far/internal/sizing"
	"github.com/meigma/far/tree"
)

// Interface compliance.
var (
	_ fs.FS         = (*FileSystem)(nil)
	_ fs.StatFS     = (*FileSystem)(nil)
	_ fs.ReadFileFS = (*FileSystem)(nil)
	_ fs.ReadDirFS  = (*FileSystem)(nil)
)

var errSizeOverflow = errors.New("farfs: size overflow")

// lookupNode resolves name in the tree for an io/fs operation.
func (fsys *FileSystem) lookupNode(op, name string) (tree.Node, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	if err := fsys.serving(); err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	n, ok := fsys.root.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return n, nil
}

func nodeInfo(name string, n tree.Node) (fs.FileInfo, error) {
	f, ok := n.(*tree.File)
	if !ok {
		return &dirInfo{name: name}, nil
	}
	size, err := sizing.ToInt64(f.Length(), errSizeOverflow)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: name, size: size}, nil
}

// Open implements fs.FS.
//
// Files are read straight from the store; directories list the children
// recorded in the tree.
func (fsys *FileSystem) Open(name string) (fs.File, error) {
	n, err := fsys.lookupNode("open", name)
	if err != nil {
		return nil, err
	}
	info, err := nodeInfo(pathutil.Base(name), n)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	switch n := n.(type) {
	case *tree.File:
		if !sizing.Within(n.Offset(), n.Length(), fsys.store.Size()) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: io.ErrUnexpectedEOF}
		}
		sr := io.NewSectionReader(fsys.store, int64(n.Offset()), int64(n.Length()))
		return &openFile{SectionReader: sr, name: name, info: info}, nil
	case *tree.Dir:
		return &openDir{dir: n, name: name, info: info}, nil
	default:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
}

// Stat implements fs.StatFS.
func (fsys *FileSystem) Stat(name string) (fs.FileInfo, error) {
	n, err := fsys.lookupNode("stat", name)
	if err != nil {
		return nil, err
	}
	info, err := nodeInfo(pathutil.Base(name), n)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return info, nil
}

// ReadFile implements fs.ReadFileFS.
func (fsys *FileSystem) ReadFile(name string) ([]byte, error) {
	n, err := fsys.lookupNode("readfile", name)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*tree.File)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fmt.Errorf("is a directory: %w", fs.ErrInvalid)}
	}
	if !sizing.Within(f.Offset(), f.Length(), fsys.store.Size()) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: io.ErrUnexpectedEOF}
	}
	data, err := fsys.readContent(int64(f.Offset()), int64(f.Length()))
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (fsys *FileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	n, err := fsys.lookupNode("readdir", name)
	if err != nil {
		return nil, err
	}
	dir, ok := n.(*tree.Dir)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fmt.Errorf("not a directory: %w", fs.ErrInvalid)}
	}
	entries, err := dirEntries(dir.Children())
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return entries, nil
}

func dirEntries(children []tree.Node) ([]fs.DirEntry, error) {
	entries := make([]fs.DirEntry, 0, len(children))
	for _, child := range children {
		info, err := nodeInfo(child.Name(), child)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &dirEntry{info: info})
	}
	return entries, nil
}

// openFile implements fs.File, io.ReaderAt and io.Seeker for one archive file.
type openFile struct {
	*io.SectionReader
	name string
	info fs.FileInfo
}

func (f *openFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *openFile) Close() error               { return nil }

// openDir implements fs.ReadDirFile for a tree directory.
type openDir struct {
	dir  *tree.Dir
	name string
	info fs.FileInfo
	pos  int
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *openDir) Close() error               { return nil }

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	children := d.dir.Children()[d.pos:]
	if n > 0 {
		if len(children) == 0 {
			return nil, io.EOF
		}
		children = children[:min(n, len(children))]
	}
	entries, err := dirEntries(children)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: d.name, Err: err}
	}
	d.pos += len(children)
	return entries, nil
}
