// Package tree builds an in-memory directory hierarchy from the flat,
// sorted path list of a FAR archive.
//
// Directories are implicit in the archive: they exist only as shared path
// prefixes. The tree materializes them so that a file server can answer
// directory listings without rescanning the archive.
package tree

import (
	"io/fs"
	"slices"
	"strings"
)

// Node is a file or directory of the tree.
type Node interface {
	// Name is the final path element. The root directory has an empty name.
	Name() string
	IsDir() bool
}

// File is a leaf that locates its content inside the archive.
type File struct {
	name   string
	offset uint64
	length uint64
}

// Name implements Node.
func (f *File) Name() string { return f.name }

// IsDir implements Node.
func (f *File) IsDir() bool { return false }

// Offset returns the absolute offset of the file content in the archive.
func (f *File) Offset() uint64 { return f.offset }

// Length returns the length of the file content in bytes.
func (f *File) Length() uint64 { return f.length }

// Dir is a directory node. Its children are sorted by name.
type Dir struct {
	name     string
	children []Node
}

// Name implements Node.
func (d *Dir) Name() string { return d.name }

// IsDir implements Node.
func (d *Dir) IsDir() bool { return true }

// Children returns the directory's children sorted by name.
// The slice is shared and must not be modified.
func (d *Dir) Children() []Node {
	return d.children
}

// Len returns the number of direct children.
func (d *Dir) Len() int {
	return len(d.children)
}

// Child returns the direct child called name.
func (d *Dir) Child(name string) (Node, bool) {
	i, found := slices.BinarySearchFunc(d.children, name, func(n Node, target string) int {
		return strings.Compare(n.Name(), target)
	})
	if !found {
		return nil, false
	}
	return d.children[i], true
}

// Lookup resolves a slash-separated path relative to d.
// The empty path and "." resolve to d itself.
func (d *Dir) Lookup(name string) (Node, bool) {
	if name == "" || name == "." {
		return d, true
	}
	var cur Node = d
	for elem := range strings.SplitSeq(name, "/") {
		dir, ok := cur.(*Dir)
		if !ok {
			return nil, false
		}
		if cur, ok = dir.Child(elem); !ok {
			return nil, false
		}
	}
	return cur, true
}

// WalkFunc is called by Walk for every node below the starting directory.
// Returning fs.SkipDir from a directory skips its children; any other
// error stops the walk and is returned by Walk.
type WalkFunc func(path string, n Node) error

// Walk visits every node below d depth-first in name order. Paths passed
// to fn are relative to d.
func (d *Dir) Walk(fn WalkFunc) error {
	err := d.walk("", fn)
	if err == fs.SkipDir || err == fs.SkipAll { //nolint:errorlint // sentinel values are returned unwrapped
		return nil
	}
	return err
}

func (d *Dir) walk(prefix string, fn WalkFunc) error {
	for _, child := range d.children {
		p := child.Name()
		if prefix != "" {
			p = prefix + "/" + p
		}
		sub, isDir := child.(*Dir)
		if err := fn(p, child); err != nil {
			if err != fs.SkipDir { //nolint:errorlint // sentinel values are returned unwrapped
				return err
			}
			if !isDir {
				// SkipDir from a file skips its remaining siblings.
				return nil
			}
			continue
		}
		if isDir {
			if err := sub.walk(p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count returns the number of files and directories below d.
func (d *Dir) Count() (files, dirs int) {
	for _, child := range d.children {
		if sub, ok := child.(*Dir); ok {
			f, s := sub.Count()
			files += f
			dirs += s + 1
			continue
		}
		files++
	}
	return files, dirs
}

// Interface compliance.
var (
	_ Node = (*File)(nil)
	_ Node = (*Dir)(nil)
)
