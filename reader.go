package far

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/meigma/far/internal/sizing"
)

var errOverflow = errors.New("size overflow")

// Reader provides lookup and extraction over a validated archive.
//
// A Reader only exists in the ready state: Open either validates the whole
// archive or returns an error and no Reader. The index, directory entries
// and path table are immutable after Open. Lookup and the iterators are safe
// for concurrent use; extraction calls are serialized because they share
// the source cursor.
type Reader struct {
	src      Source
	index    []IndexEntry
	entries  []Entry
	names    []byte
	maxFiles int
	logger   *slog.Logger
	mu       sync.Mutex // guards src
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Reader) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Open reads and validates the archive in src.
//
// Any format violation aborts the load with an error matching ErrFormat;
// read failures other than truncation match ErrIO.
func Open(src Source, opts ...Option) (*Reader, error) {
	r := &Reader{src: src}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.readIndex(); err != nil {
		r.log().Debug("archive index rejected", "error", err)
		return nil, err
	}
	if err := r.readDirectory(); err != nil {
		r.log().Debug("archive directory rejected", "error", err)
		return nil, err
	}
	if err := r.validateEntries(); err != nil {
		r.log().Debug("archive entries rejected", "error", err)
		return nil, err
	}

	r.log().Debug("archive opened",
		"chunks", len(r.index),
		"files", len(r.entries),
		"size", src.Size())
	return r, nil
}

// readIndex reads the index chunk and checks the chunk layout.
func (r *Reader) readIndex() error {
	const op = "open"

	if _, err := r.src.Seek(0, io.SeekStart); err != nil {
		return ioError(op, "", fmt.Errorf("seek to start of archive: %w", err))
	}

	header, err := r.src.ReadExact(IndexChunkSize)
	if err != nil {
		return readError(op, err, "index chunk")
	}
	chunk := decodeIndexChunk(header)
	if chunk.magic != Magic {
		return formatError(op, "index chunk missing magic (got %#016x)", chunk.magic)
	}
	if !chunk.validLength() {
		return formatError(op, "invalid index chunk length %d", chunk.length)
	}

	length, err := sizing.ToInt64(chunk.length, errOverflow)
	if err != nil {
		return formatError(op, "index chunk length %d: %w", chunk.length, err)
	}
	raw, err := r.src.ReadExact(length)
	if err != nil {
		return readError(op, err, "index entries")
	}
	index := decodeIndexEntries(raw)

	next := IndexChunkSize + chunk.length
	for _, entry := range index {
		if entry.Offset != next {
			return formatError(op, "chunk at offset %d not tightly packed (want %d)", entry.Offset, next)
		}
		if entry.Length%ChunkAlignment != 0 {
			return formatError(op, "chunk length %d not aligned to %d byte boundary", entry.Length, ChunkAlignment)
		}
		end, ok := sizing.AddUint64(entry.Offset, entry.Length)
		if !ok {
			return formatError(op, "chunk length %d overflowed total archive size", entry.Length)
		}
		next = end
	}

	r.index = index
	return nil
}

// readDirectory reads the directory chunk and the path table.
func (r *Reader) readDirectory() error {
	const op = "open"

	dir, ok := r.indexEntry(DirType)
	if !ok {
		return formatError(op, "cannot find directory chunk")
	}
	if dir.Length%EntrySize != 0 {
		return formatError(op, "invalid directory chunk length %d", dir.Length)
	}
	if count := dir.Length / EntrySize; r.maxFiles > 0 && count > uint64(r.maxFiles) {
		return &Error{Op: op, Kind: KindFormat, Err: fmt.Errorf("%w: %d entries exceed limit %d", ErrTooManyFiles, count, r.maxFiles)}
	}
	raw, err := r.readChunk(op, dir, "directory chunk")
	if err != nil {
		return err
	}

	names, ok := r.indexEntry(DirNamesType)
	if !ok {
		return formatError(op, "cannot find directory names chunk")
	}
	pathData, err := r.readChunk(op, names, "directory names")
	if err != nil {
		return err
	}

	r.entries = decodeEntries(raw)
	r.names = pathData
	return nil
}

func (r *Reader) readChunk(op string, chunk IndexEntry, what string) ([]byte, error) {
	off, err := sizing.ToInt64(chunk.Offset, errOverflow)
	if err != nil {
		return nil, formatError(op, "%s offset %d: %w", what, chunk.Offset, err)
	}
	length, err := sizing.ToInt64(chunk.Length, errOverflow)
	if err != nil {
		return nil, formatError(op, "%s length %d: %w", what, chunk.Length, err)
	}
	if _, err := r.src.Seek(off, io.SeekStart); err != nil {
		return nil, ioError(op, "", fmt.Errorf("seek to %s: %w", what, err))
	}
	data, err := r.src.ReadExact(length)
	if err != nil {
		return nil, readError(op, err, what)
	}
	return data, nil
}

// validateEntries checks every directory entry against the path table and
// requires paths to be well formed and strictly ascending, and no path to
// lie below another file. Lookup and tree building both depend on this.
func (r *Reader) validateEntries() error {
	const op = "open"

	var prev []byte
	for i, entry := range r.entries {
		name := r.Path(entry)
		if name == nil {
			return formatError(op, "entry %d: name range %d+%d outside path table of %d bytes",
				i, entry.NameOffset, entry.NameLength, len(r.names))
		}
		if !ValidPath(name) {
			return formatError(op, "entry %d: invalid path %q", i, name)
		}
		if _, ok := sizing.AddUint64(entry.DataOffset, entry.DataLength); !ok {
			return formatError(op, "entry %q: data range %d+%d overflows", name, entry.DataOffset, entry.DataLength)
		}
		if i > 0 && bytes.Compare(prev, name) >= 0 {
			return formatError(op, "entry %q: paths not sorted (follows %q)", name, prev)
		}
		if parent, ok := r.fileAncestor(r.entries[:i], name); ok {
			return formatError(op, "entry %q: parent %q is a file", name, parent)
		}
		prev = name
	}
	return nil
}

// fileAncestor returns the first directory prefix of name that is itself a
// file among the sorted entries. A prefix always sorts before the paths
// below it, so only earlier entries need to be searched.
func (r *Reader) fileAncestor(earlier []Entry, name []byte) ([]byte, bool) {
	for i, c := range name {
		if c != '/' {
			continue
		}
		if _, found := r.search(earlier, name[:i]); found {
			return name[:i], true
		}
	}
	return nil, false
}

// search binary searches sorted entries for target.
func (r *Reader) search(entries []Entry, target []byte) (int, bool) {
	return slices.BinarySearchFunc(entries, target, func(e Entry, t []byte) int {
		return bytes.Compare(r.Path(e), t)
	})
}

// indexEntry returns the first index entry with the given type.
func (r *Reader) indexEntry(typ uint64) (IndexEntry, bool) {
	for _, entry := range r.index {
		if entry.Type == typ {
			return entry, true
		}
	}
	return IndexEntry{}, false
}

// Path returns the path of entry as a slice of the path table.
//
// The slice is borrowed: it aliases the reader's path table and must not be
// modified. Path returns nil when the name range lies outside the table.
func (r *Reader) Path(entry Entry) []byte {
	start := uint64(entry.NameOffset)
	end := start + uint64(entry.NameLength)
	if end > uint64(len(r.names)) {
		return nil
	}
	return r.names[start:end:end]
}

// Lookup returns the entry for path.
//
// Missing paths return an error matching ErrNotFound and fs.ErrNotExist.
func (r *Reader) Lookup(path string) (Entry, error) {
	i, found := r.search(r.entries, []byte(path))
	if !found {
		return Entry{}, notFound("lookup", path)
	}
	return r.entries[i], nil
}

// Len returns the number of files in the archive.
func (r *Reader) Len() int {
	return len(r.entries)
}

// Index returns a copy of the archive's chunk index.
func (r *Reader) Index() []IndexEntry {
	return slices.Clone(r.index)
}

// Entries returns an iterator over directory entries in path order.
func (r *Reader) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, entry := range r.entries {
			if !yield(entry) {
				return
			}
		}
	}
}

// Paths returns an iterator over file paths in sorted order.
func (r *Reader) Paths() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, entry := range r.entries {
			if !yield(string(r.Path(entry))) {
				return
			}
		}
	}
}

// All returns an iterator over paths and their entries in sorted order.
func (r *Reader) All() iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		for _, entry := range r.entries {
			if !yield(string(r.Path(entry)), entry) {
				return
			}
		}
	}
}

// ValidPath reports whether name is an acceptable archive path: non-empty,
// slash separated, without leading or trailing slashes and without empty,
// "." or ".." elements.
func ValidPath(name []byte) bool {
	if len(name) == 0 {
		return false
	}
	for elem := range bytes.SplitSeq(name, []byte{'/'}) {
		switch string(elem) {
		case "", ".", "..":
			return false
		}
	}
	return true
}

// ReadCloser is a Reader over an archive file it owns.
// Close must be called to release the file.
type ReadCloser struct {
	*Reader
	f *os.File
}

// OpenFile opens and validates the archive at name.
func OpenFile(name string, opts ...Option) (*ReadCloser, error) {
	f, err := os.Open(name) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, ioError("open", "", err)
	}
	src, err := NewFileSource(f)
	if err != nil {
		f.Close()
		return nil, ioError("open", "", err)
	}
	r, err := Open(src, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ReadCloser{Reader: r, f: f}, nil
}

// Close closes the underlying archive file.
func (rc *ReadCloser) Close() error {
	if rc.f == nil {
		return nil
	}
	err := rc.f.Close()
	rc.f = nil
	return err
}
