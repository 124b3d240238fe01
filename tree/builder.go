package tree

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/meigma/far"
)

// Sentinel errors returned by Builder.
var (
	// ErrInvalidPath is returned for paths with empty, "." or ".." elements.
	ErrInvalidPath = errors.New("tree: invalid path")

	// ErrDuplicateName is returned when a directory would receive two
	// children with the same name. Sorted archives never trigger it; it
	// indicates unsorted input or a file that is also used as a directory.
	ErrDuplicateName = errors.New("tree: duplicate name")

	// ErrUnbalanced is returned by Finish when the directory stack does not
	// unwind to the root.
	ErrUnbalanced = errors.New("tree: unbalanced directory stack")
)

// frame is a directory that is still receiving children.
type frame struct {
	name     string
	start    int // length of the prefix before this directory was entered
	children []Node
	names    map[string]struct{}
}

func (f *frame) attach(n Node) error {
	if _, dup := f.names[n.Name()]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, n.Name())
	}
	if f.names == nil {
		f.names = make(map[string]struct{})
	}
	f.names[n.Name()] = struct{}{}
	f.children = append(f.children, n)
	return nil
}

func (f *frame) has(name string) bool {
	_, ok := f.names[name]
	return ok
}

func (f *frame) finalize() *Dir {
	slices.SortFunc(f.children, func(a, b Node) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return &Dir{name: f.name, children: f.children}
}

// Builder assembles a tree from paths added in sorted order.
//
// The builder keeps one frame per open directory and the slash-terminated
// prefix those frames spell out. Each Add closes the frames the new path
// leaves, opens frames for the directories it enters and attaches a file.
// For sorted input the total work is proportional to the bytes of all
// paths. A Builder is not safe for concurrent use.
type Builder struct {
	stack  []*frame
	prefix []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	b := &Builder{}
	b.reset()
	return b
}

func (b *Builder) reset() {
	b.stack = []*frame{{}}
	b.prefix = b.prefix[:0]
}

// Add attaches the file at path, locating its content at
// [offset, offset+length). The path is copied. After an error the
// builder state is undefined and the Builder should be discarded.
func (b *Builder) Add(path []byte, offset, length uint64) error {
	for !bytes.HasPrefix(path, b.prefix) {
		if err := b.leave(); err != nil {
			return fmt.Errorf("add %q: %w", path, err)
		}
	}

	rest := path[len(b.prefix):]
	for {
		i := bytes.IndexByte(rest, '/')
		if i < 0 {
			break
		}
		if err := b.enter(rest[:i]); err != nil {
			return fmt.Errorf("add %q: %w", path, err)
		}
		rest = rest[i+1:]
	}

	if !validElem(rest) {
		return fmt.Errorf("add %q: %w", path, ErrInvalidPath)
	}
	f := &File{name: string(rest), offset: offset, length: length}
	if err := b.top().attach(f); err != nil {
		return fmt.Errorf("add %q: %w", path, err)
	}
	return nil
}

// Finish closes every open directory and returns the root.
// The builder is reset and can be reused.
func (b *Builder) Finish() (*Dir, error) {
	for len(b.prefix) > 0 {
		if err := b.leave(); err != nil {
			b.reset()
			return nil, err
		}
	}
	if len(b.stack) != 1 {
		n := len(b.stack)
		b.reset()
		return nil, fmt.Errorf("%w: %d frames left", ErrUnbalanced, n)
	}
	root := b.stack[0].finalize()
	b.reset()
	return root, nil
}

func (b *Builder) top() *frame {
	return b.stack[len(b.stack)-1]
}

// enter opens a frame for the directory name below the current prefix.
func (b *Builder) enter(name []byte) error {
	if !validElem(name) {
		return ErrInvalidPath
	}
	// Any existing child with this name is a file or an already closed
	// directory; both mean the input is not a sorted set of files.
	if b.top().has(string(name)) {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	b.stack = append(b.stack, &frame{name: string(name), start: len(b.prefix)})
	b.prefix = append(b.prefix, name...)
	b.prefix = append(b.prefix, '/')
	return nil
}

// leave closes the innermost directory and attaches it to its parent.
func (b *Builder) leave() error {
	if len(b.stack) < 2 {
		return fmt.Errorf("%w: leave at root", ErrUnbalanced)
	}
	top := b.top()
	b.stack = b.stack[:len(b.stack)-1]
	b.prefix = b.prefix[:top.start]
	return b.top().attach(top.finalize())
}

func validElem(elem []byte) bool {
	switch string(elem) {
	case "", ".", "..":
		return false
	}
	return true
}

// Build constructs the tree for every file of r.
func Build(r *far.Reader) (*Dir, error) {
	b := NewBuilder()
	for entry := range r.Entries() {
		if err := b.Add(r.Path(entry), entry.DataOffset, entry.DataLength); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}
