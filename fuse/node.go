//go:build linux || darwin

package fuse

import (
	"context"
	"errors"
	"io"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/far/tree"
)

const (
	modeFile = fuse.S_IFREG | 0o444 // read-only for everyone
	modeDir  = fuse.S_IFDIR | 0o555 // execute is required to list a dir
)

// Interface compliance.
var (
	_ fs.NodeOnAdder   = (*Root)(nil)
	_ fs.NodeGetattrer = (*dirNode)(nil)
	_ fs.NodeGetattrer = (*fileNode)(nil)
	_ fs.NodeOpener    = (*fileNode)(nil)
	_ fs.NodeReader    = (*fileNode)(nil)
)

// Root is the root inode of a mounted archive.
type Root struct {
	dirNode
	data io.ReaderAt
}

// NewRoot returns the root inode for dir, reading file content from data.
func NewRoot(dir *tree.Dir, data io.ReaderAt) *Root {
	return &Root{dirNode: dirNode{dir: dir}, data: data}
}

// OnAdd builds the whole inode tree once the root is attached.
func (r *Root) OnAdd(ctx context.Context) {
	populate(ctx, &r.Inode, r.dir, r.data)
}

func populate(ctx context.Context, parent *fs.Inode, dir *tree.Dir, data io.ReaderAt) {
	for _, child := range dir.Children() {
		switch n := child.(type) {
		case *tree.Dir:
			ch := parent.NewPersistentInode(ctx, &dirNode{dir: n}, fs.StableAttr{Mode: fuse.S_IFDIR})
			parent.AddChild(n.Name(), ch, false)
			populate(ctx, ch, n, data)
		case *tree.File:
			ch := parent.NewPersistentInode(ctx, &fileNode{file: n, data: data}, fs.StableAttr{Mode: fuse.S_IFREG})
			parent.AddChild(n.Name(), ch, false)
		}
	}
}

type dirNode struct {
	fs.Inode
	dir *tree.Dir
}

func (d *dirNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = modeDir
	return fs.OK
}

type fileNode struct {
	fs.Inode
	file *tree.File
	data io.ReaderAt
}

func (f *fileNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = modeFile
	out.Size = f.file.Length()
	return fs.OK
}

func (f *fileNode) Open(_ context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (f *fileNode) Read(_ context.Context, _ fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	length := f.file.Length()
	if off < 0 {
		return nil, syscall.EINVAL
	}
	if uint64(off) >= length {
		return fuse.ReadResultData(nil), fs.OK
	}
	if remaining := length - uint64(off); uint64(len(dest)) > remaining {
		dest = dest[:remaining]
	}
	n, err := f.data.ReadAt(dest, int64(f.file.Offset())+off)
	if err != nil && (!errors.Is(err, io.EOF) || n < len(dest)) {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}
