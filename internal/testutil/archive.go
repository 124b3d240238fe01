package testutil

import (
	"encoding/binary"
	"maps"
	"slices"
	"strings"
	"testing"
)

// On-disk constants duplicated here so fixtures can be built without
// importing the package under test.
const (
	magic          = 0x11c5abad480bbfc8
	indexChunkSize = 16
	indexEntrySize = 24
	dirEntrySize   = 32

	// PageSize is the default alignment of file content.
	PageSize = 4096
)

// File is a path and content pair to place in a test archive.
type File struct {
	Path string
	Data []byte
}

// Placed records where a file's content landed in a built archive.
type Placed struct {
	Path   string
	Offset uint64
	Length uint64
}

// Archive is a built test archive and its layout.
type Archive struct {
	Bytes []byte

	// IndexEntryOffset is the offset of the first index entry record.
	IndexEntryOffset int
	DirOffset        uint64
	DirLength        uint64
	NamesOffset      uint64
	NamesLength      uint64
	Files            []Placed
}

type buildConfig struct {
	keepOrder bool
	swap      bool
	alignment uint64
	extra     []extraChunk
}

type extraChunk struct {
	tag    string
	length uint64
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// KeepOrder stores files in the given order instead of sorting by path.
func KeepOrder() BuildOption {
	return func(c *buildConfig) {
		c.keepOrder = true
	}
}

// NamesFirst places the directory names chunk before the directory chunk,
// both physically and in the index.
func NamesFirst() BuildOption {
	return func(c *buildConfig) {
		c.swap = true
	}
}

// WithAlignment sets the alignment of file content (default PageSize).
func WithAlignment(n uint64) BuildOption {
	return func(c *buildConfig) {
		if n == 0 {
			n = 1
		}
		c.alignment = n
	}
}

// WithExtraChunk appends an indexed chunk of the given tag and length after
// the directory chunks. Length should be a multiple of 8.
func WithExtraChunk(tag string, length uint64) BuildOption {
	return func(c *buildConfig) {
		c.extra = append(c.extra, extraChunk{tag: tag, length: length})
	}
}

// Build lays out files as a FAR archive.
// Files are sorted by path unless KeepOrder is given.
func Build(files []File, opts ...BuildOption) *Archive {
	cfg := buildConfig{alignment: PageSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	files = slices.Clone(files)
	if !cfg.keepOrder {
		slices.SortFunc(files, func(a, b File) int {
			return strings.Compare(a.Path, b.Path)
		})
	}

	var names []byte
	nameOffsets := make([]int, len(files))
	for i, f := range files {
		nameOffsets[i] = len(names)
		names = append(names, f.Path...)
	}
	names = pad(names, 8)

	a := &Archive{
		IndexEntryOffset: indexChunkSize,
		DirLength:        uint64(len(files) * dirEntrySize),
		NamesLength:      uint64(len(names)),
	}
	chunks := 2 + len(cfg.extra)
	first := uint64(indexChunkSize + chunks*indexEntrySize)
	if cfg.swap {
		a.NamesOffset = first
		a.DirOffset = first + a.NamesLength
	} else {
		a.DirOffset = first
		a.NamesOffset = first + a.DirLength
	}

	dataStart := first + a.DirLength + a.NamesLength
	extraOffsets := make([]uint64, len(cfg.extra))
	for i, c := range cfg.extra {
		extraOffsets[i] = dataStart
		dataStart += c.length
	}
	next := alignUp(dataStart, cfg.alignment)
	a.Files = make([]Placed, len(files))
	for i, f := range files {
		a.Files[i] = Placed{Path: f.Path, Offset: next, Length: uint64(len(f.Data))}
		next = alignUp(next+uint64(len(f.Data)), cfg.alignment)
	}

	buf := make([]byte, 0, next)
	buf = le64(buf, magic)
	buf = le64(buf, uint64(chunks*indexEntrySize))
	dirIndex := indexRecord(typeTag("DIR-----"), a.DirOffset, a.DirLength)
	namesIndex := indexRecord(typeTag("DIRNAMES"), a.NamesOffset, a.NamesLength)
	if cfg.swap {
		buf = append(buf, namesIndex...)
		buf = append(buf, dirIndex...)
	} else {
		buf = append(buf, dirIndex...)
		buf = append(buf, namesIndex...)
	}
	for i, c := range cfg.extra {
		buf = append(buf, indexRecord(typeTag(c.tag), extraOffsets[i], c.length)...)
	}

	var dir []byte
	for i, f := range files {
		dir = binary.LittleEndian.AppendUint32(dir, uint32(nameOffsets[i]))
		dir = binary.LittleEndian.AppendUint16(dir, uint16(len(f.Path)))
		dir = binary.LittleEndian.AppendUint16(dir, 0)
		dir = le64(dir, a.Files[i].Offset)
		dir = le64(dir, a.Files[i].Length)
		dir = le64(dir, 0)
	}
	if cfg.swap {
		buf = append(buf, names...)
		buf = append(buf, dir...)
	} else {
		buf = append(buf, dir...)
		buf = append(buf, names...)
	}
	for _, c := range cfg.extra {
		buf = append(buf, make([]byte, c.length)...)
	}

	for i, f := range files {
		buf = append(buf, make([]byte, a.Files[i].Offset-uint64(len(buf)))...)
		buf = append(buf, f.Data...)
	}
	buf = append(buf, make([]byte, next-uint64(len(buf)))...)

	a.Bytes = buf
	return a
}

// BuildArchive returns the bytes of a sorted archive holding files.
func BuildArchive(tb testing.TB, files ...File) []byte {
	tb.Helper()
	return Build(files).Bytes
}

// FilesFromMap converts a path to content map into files.
func FilesFromMap(m map[string]string) []File {
	files := make([]File, 0, len(m))
	for _, p := range slices.Sorted(maps.Keys(m)) {
		files = append(files, File{Path: p, Data: []byte(m[p])})
	}
	return files
}

// PutUint64 overwrites the little-endian uint64 at off.
func PutUint64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

func indexRecord(typ, off, length uint64) []byte {
	rec := le64(nil, typ)
	rec = le64(rec, off)
	return le64(rec, length)
}

func typeTag(tag string) uint64 {
	var b [8]byte
	copy(b[:], tag)
	return binary.LittleEndian.Uint64(b[:])
}

func le64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

func pad(b []byte, n int) []byte {
	if rem := len(b) % n; rem != 0 {
		b = append(b, make([]byte, n-rem)...)
	}
	return b
}

func alignUp(v, n uint64) uint64 {
	if rem := v % n; rem != 0 {
		return v + n - rem
	}
	return v
}
