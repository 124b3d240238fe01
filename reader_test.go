package far

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/far/internal/testutil"
)

func sampleFiles() []testutil.File {
	return testutil.FilesFromMap(map[string]string{
		"a":            "alpha",
		"b/c":          "charlie",
		"b/d":          "delta",
		"e/f/g":        "golf",
		"meta/sandbox": `{"features":[]}`,
	})
}

func openBytes(t *testing.T, data []byte, opts ...Option) (*Reader, error) {
	t.Helper()
	return Open(NewBufferSource(data), opts...)
}

func mustOpen(t *testing.T, data []byte) *Reader {
	t.Helper()
	r, err := openBytes(t, data)
	require.NoError(t, err)
	return r
}

// recordingSource remembers every absolute offset it was asked to seek to.
type recordingSource struct {
	Source
	seeks []int64
}

func (s *recordingSource) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.Source.Seek(offset, whence)
	if err == nil {
		s.seeks = append(s.seeks, pos)
	}
	return pos, err
}

func TestOpen_ValidArchive(t *testing.T) {
	t.Parallel()

	files := sampleFiles()
	r := mustOpen(t, testutil.BuildArchive(t, files...))

	assert.Equal(t, len(files), r.Len())
	assert.Equal(t, []string{"a", "b/c", "b/d", "e/f/g", "meta/sandbox"}, slices.Collect(r.Paths()))

	index := r.Index()
	require.Len(t, index, 2)
	assert.Equal(t, DirType, index[0].Type)
	assert.Equal(t, DirNamesType, index[1].Type)
}

func TestOpen_EntryCountMatchesDirectoryChunk(t *testing.T) {
	t.Parallel()

	for _, extra := range []int{0, 1, 3} {
		opts := make([]testutil.BuildOption, 0, extra)
		for range extra {
			opts = append(opts, testutil.WithExtraChunk("BLOBDATA", 16))
		}
		a := testutil.Build(sampleFiles(), opts...)

		r := mustOpen(t, a.Bytes)
		assert.Len(t, r.Index(), 2+extra)
		assert.Equal(t, int(a.DirLength/EntrySize), r.Len())
	}
}

func TestOpen_EmptyArchive(t *testing.T) {
	t.Parallel()

	r := mustOpen(t, testutil.BuildArchive(t))
	assert.Equal(t, 0, r.Len())
	_, err := r.Lookup("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_NamesChunkFirst(t *testing.T) {
	t.Parallel()

	a := testutil.Build(sampleFiles(), testutil.NamesFirst())
	r := mustOpen(t, a.Bytes)

	var buf bytes.Buffer
	require.NoError(t, r.ExtractTo("b/d", &buf))
	assert.Equal(t, "delta", buf.String())
}

func TestOpen_FirstMatchingChunkWins(t *testing.T) {
	t.Parallel()

	// The trailing zero-filled DIR chunk would describe one file named "".
	a := testutil.Build(sampleFiles(), testutil.WithExtraChunk("DIR-----", EntrySize))
	r := mustOpen(t, a.Bytes)
	assert.Equal(t, len(sampleFiles()), r.Len())
}

func TestOpen_FormatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(a *testutil.Archive)
		options []testutil.BuildOption
	}{
		{
			name: "bad magic",
			mutate: func(a *testutil.Archive) {
				a.Bytes[0] ^= 0xff
			},
		},
		{
			name: "index length not multiple of entry size",
			mutate: func(a *testutil.Archive) {
				testutil.PutUint64(a.Bytes, 8, 2*IndexEntrySize+8)
			},
		},
		{
			name: "index length overflows",
			mutate: func(a *testutil.Archive) {
				// A whole number of entries that cannot fit after the header.
				testutil.PutUint64(a.Bytes, 8, math.MaxUint64-15)
			},
		},
		{
			name: "first chunk not packed",
			mutate: func(a *testutil.Archive) {
				testutil.PutUint64(a.Bytes, a.IndexEntryOffset+8, a.DirOffset+8)
			},
		},
		{
			name: "second chunk not packed",
			mutate: func(a *testutil.Archive) {
				testutil.PutUint64(a.Bytes, a.IndexEntryOffset+IndexEntrySize+8, a.NamesOffset+8)
			},
		},
		{
			name: "chunk length misaligned",
			mutate: func(a *testutil.Archive) {
				// Last chunk, so packing still holds.
				testutil.PutUint64(a.Bytes, a.IndexEntryOffset+IndexEntrySize+16, a.NamesLength+4)
			},
		},
		{
			name: "chunk length overflows",
			mutate: func(a *testutil.Archive) {
				testutil.PutUint64(a.Bytes, a.IndexEntryOffset+IndexEntrySize+16, math.MaxUint64-7)
			},
		},
		{
			name: "missing directory chunk",
			mutate: func(a *testutil.Archive) {
				copy(a.Bytes[a.IndexEntryOffset:], "NOTADIR!")
			},
		},
		{
			name: "missing names chunk",
			mutate: func(a *testutil.Archive) {
				copy(a.Bytes[a.IndexEntryOffset+IndexEntrySize:], "NONAMES!")
			},
		},
		{
			name:    "directory length not multiple of entry size",
			options: []testutil.BuildOption{testutil.NamesFirst()},
			mutate: func(a *testutil.Archive) {
				testutil.PutUint64(a.Bytes, a.IndexEntryOffset+IndexEntrySize+16, a.DirLength+8)
			},
		},
		{
			name: "name outside path table",
			mutate: func(a *testutil.Archive) {
				rec := int(a.DirOffset) + 4
				a.Bytes[rec] = 0xff
				a.Bytes[rec+1] = 0xff
			},
		},
		{
			name: "data range overflows",
			mutate: func(a *testutil.Archive) {
				testutil.PutUint64(a.Bytes, int(a.DirOffset)+8, math.MaxUint64)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := testutil.Build(sampleFiles(), tt.options...)
			tt.mutate(a)

			r, err := openBytes(t, a.Bytes)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, ErrFormat)
			assert.Equal(t, KindFormat, KindOf(err))
			assert.NotErrorIs(t, err, ErrIO)
		})
	}
}

func TestOpen_PackingCheckedBeforeDirectoryRead(t *testing.T) {
	t.Parallel()

	a := testutil.Build(sampleFiles())
	testutil.PutUint64(a.Bytes, a.IndexEntryOffset+IndexEntrySize+8, a.NamesOffset+8)

	src := &recordingSource{Source: NewBufferSource(a.Bytes)}
	_, err := Open(src)
	require.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, []int64{0}, src.seeks)
}

func TestOpen_InvalidPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []testutil.File
	}{
		{"unsorted", []testutil.File{{Path: "b"}, {Path: "a"}}},
		{"duplicate", []testutil.File{{Path: "a"}, {Path: "a"}}},
		{"empty path", []testutil.File{{Path: ""}}},
		{"leading slash", []testutil.File{{Path: "/a"}}},
		{"trailing slash", []testutil.File{{Path: "a/"}}},
		{"empty element", []testutil.File{{Path: "a//b"}}},
		{"dot element", []testutil.File{{Path: "a/./b"}}},
		{"dotdot element", []testutil.File{{Path: "../escape"}}},
		{"file is parent", []testutil.File{{Path: "a"}, {Path: "a/b"}}},
		{"file is distant parent", []testutil.File{{Path: "a"}, {Path: "a.b"}, {Path: "a/x"}}},
		{"file is grandparent", []testutil.File{{Path: "a"}, {Path: "a-"}, {Path: "a/b/c"}}},
		{"nested file is parent", []testutil.File{{Path: "d/a"}, {Path: "d/a/b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := testutil.Build(tt.files, testutil.KeepOrder())
			_, err := openBytes(t, a.Bytes)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestOpen_FileAndDirectoryNamesCoexist(t *testing.T) {
	t.Parallel()

	// "a.b" and "a-" share a prefix with directory "a" without being its parent.
	a := testutil.Build([]testutil.File{{Path: "a-"}, {Path: "a.b"}, {Path: "a/x"}, {Path: "ab/c"}})
	r, err := openBytes(t, a.Bytes)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
}

func TestOpen_FileParentRejectedBeforeExtraction(t *testing.T) {
	t.Parallel()

	a := testutil.Build([]testutil.File{{Path: "a", Data: []byte("x")}, {Path: "a/b", Data: []byte("y")}})
	_, err := openBytes(t, a.Bytes)
	require.ErrorIs(t, err, ErrFormat)
	assert.Contains(t, err.Error(), `parent "a" is a file`)
}

func TestOpen_MaxFiles(t *testing.T) {
	t.Parallel()

	data := testutil.BuildArchive(t, sampleFiles()...)

	_, err := openBytes(t, data, WithMaxFiles(2))
	assert.ErrorIs(t, err, ErrTooManyFiles)
	assert.ErrorIs(t, err, ErrFormat)

	r, err := openBytes(t, data, WithMaxFiles(len(sampleFiles())))
	require.NoError(t, err)
	assert.Equal(t, len(sampleFiles()), r.Len())
}

func TestOpen_TruncatedBuffers(t *testing.T) {
	t.Parallel()

	a := testutil.Build(sampleFiles())
	metaEnd := int(a.NamesOffset + a.NamesLength)

	for n := range metaEnd {
		r, err := openBytes(t, a.Bytes[:n])
		require.Errorf(t, err, "prefix of %d bytes", n)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, ErrFormat)
	}

	// Past the directory data the archive opens, but content that is cut off
	// cannot be extracted.
	last := a.Files[len(a.Files)-1]
	cut := a.Bytes[:last.Offset+1]
	r := mustOpen(t, cut)
	err := r.ExtractTo(last.Path, io.Discard)
	assert.ErrorIs(t, err, ErrIO)
	assert.True(t, IsShortRead(err))
}

func TestOpen_DeclaredSizeBoundsReads(t *testing.T) {
	t.Parallel()

	a := testutil.Build(sampleFiles())
	declared := int64(a.NamesOffset + a.NamesLength - 1)

	_, err := Open(NewBufferSourceSize(a.Bytes, declared))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	a := testutil.Build(sampleFiles())
	r := mustOpen(t, a.Bytes)

	for _, placed := range a.Files {
		entry, err := r.Lookup(placed.Path)
		require.NoError(t, err, placed.Path)
		assert.Equal(t, placed.Offset, entry.DataOffset)
		assert.Equal(t, placed.Length, entry.DataLength)
		assert.Equal(t, placed.Path, string(r.Path(entry)))
	}

	for _, absent := range []string{"", "b", "b/", "e/f", "f/g", "meta/sandboxes", "meta/sandbo", "z", "/a"} {
		_, err := r.Lookup(absent)
		require.Error(t, err, absent)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, fs.ErrNotExist)
		assert.Equal(t, KindLookup, KindOf(err))
		assert.NotErrorIs(t, err, ErrIO)
	}
}

func TestIterators(t *testing.T) {
	t.Parallel()

	r := mustOpen(t, testutil.BuildArchive(t, sampleFiles()...))

	var entries []Entry
	for e := range r.Entries() {
		entries = append(entries, e)
	}
	assert.Len(t, entries, r.Len())

	// Iterators are restartable and stop early on request.
	first := slices.Collect(r.Paths())
	second := slices.Collect(r.Paths())
	assert.Equal(t, first, second)

	var seen []string
	for p, e := range r.All() {
		assert.Equal(t, p, string(r.Path(e)))
		seen = append(seen, p)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, first[:2], seen)
}

func TestPathIsBorrowed(t *testing.T) {
	t.Parallel()

	r := mustOpen(t, testutil.BuildArchive(t, sampleFiles()...))
	entry, err := r.Lookup("b/c")
	require.NoError(t, err)

	name := r.Path(entry)
	assert.Equal(t, len(name), cap(name))
	assert.Nil(t, r.Path(Entry{NameOffset: math.MaxUint32, NameLength: 1}))
}

func TestExtractTo(t *testing.T) {
	t.Parallel()

	files := sampleFiles()
	a := testutil.Build(files)
	r := mustOpen(t, a.Bytes)

	for _, f := range files {
		var buf bytes.Buffer
		require.NoError(t, r.ExtractTo(f.Path, &buf))
		assert.Equal(t, f.Data, buf.Bytes(), f.Path)
	}

	err := r.ExtractTo("missing", io.Discard)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtractTo_ByteIdenticalToSourceRange(t *testing.T) {
	t.Parallel()

	files := []testutil.File{
		{Path: "big", Data: bytes.Repeat([]byte("0123456789abcdef"), 10000)},
		{Path: "empty"},
		{Path: "small", Data: []byte{0}},
	}
	a := testutil.Build(files, testutil.WithAlignment(8))
	r := mustOpen(t, a.Bytes)

	for _, placed := range a.Files {
		var buf bytes.Buffer
		require.NoError(t, r.ExtractTo(placed.Path, &buf))
		assert.Equal(t, a.Bytes[placed.Offset:placed.Offset+placed.Length], buf.Bytes())
		assert.EqualValues(t, placed.Length, buf.Len())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestExtractTo_WriteFailureIsLocal(t *testing.T) {
	t.Parallel()

	r := mustOpen(t, testutil.BuildArchive(t, sampleFiles()...))

	err := r.ExtractTo("a", failingWriter{})
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, KindIO, KindOf(err))

	var buf bytes.Buffer
	require.NoError(t, r.ExtractTo("a", &buf))
	assert.Equal(t, "alpha", buf.String())
}

func TestExtractToPath(t *testing.T) {
	t.Parallel()

	r := mustOpen(t, testutil.BuildArchive(t, sampleFiles()...))
	dest := filepath.Join(t.TempDir(), "out")

	require.NoError(t, os.WriteFile(dest, []byte("previous content that is longer"), 0o600))
	require.NoError(t, r.ExtractToPath("e/f/g", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "golf", string(got))

	err = r.ExtractToPath("nope", filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrNotFound)

	err = r.ExtractToPath("a", filepath.Join(t.TempDir(), "missing", "dir", "out"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestExtractToFile(t *testing.T) {
	t.Parallel()

	r := mustOpen(t, testutil.BuildArchive(t, sampleFiles()...))
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, r.ExtractToFile("a", f))
	require.NoError(t, r.ExtractToFile("b/c", f))

	got, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "alphacharlie", string(got))
}

func TestExtractAll(t *testing.T) {
	t.Parallel()

	files := sampleFiles()
	r := mustOpen(t, testutil.BuildArchive(t, files...))
	dest := filepath.Join(t.TempDir(), "out")

	stats, err := r.ExtractAll(dest)
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.FileCount)

	var total uint64
	for _, f := range files {
		total += uint64(len(f.Data))
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(f.Path)))
		require.NoError(t, err)
		assert.Equal(t, f.Data, got)
	}
	assert.Equal(t, total, stats.TotalBytes)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.far")
	require.NoError(t, os.WriteFile(path, testutil.BuildArchive(t, sampleFiles()...), 0o600))

	rc, err := OpenFile(path)
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	require.NoError(t, rc.ExtractTo("meta/sandbox", &buf))
	assert.JSONEq(t, `{"features":[]}`, buf.String())
	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.far"))
	assert.ErrorIs(t, err, ErrIO)

	bad := filepath.Join(t.TempDir(), "bad.far")
	require.NoError(t, os.WriteFile(bad, []byte("not an archive at all"), 0o600))
	_, err = OpenFile(bad)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestValidPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a", true},
		{"a/b/c", true},
		{"meta/package", true},
		{".hidden", true},
		{"", false},
		{"/", false},
		{"/a", false},
		{"a/", false},
		{"a//b", false},
		{".", false},
		{"..", false},
		{"a/../b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidPath([]byte(tt.path)), tt.path)
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Op: "extract", Path: "a/b", Kind: KindIO, Err: errors.New("boom")}
	assert.Equal(t, "far: extract a/b: boom", err.Error())
	assert.Equal(t, "io", KindIO.String())
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
}

func FuzzOpen(f *testing.F) {
	f.Add(testutil.BuildArchive(f, sampleFiles()...))
	f.Add(testutil.Build(sampleFiles(), testutil.NamesFirst(), testutil.WithAlignment(8)).Bytes)
	f.Add([]byte{})
	f.Add([]byte{0xc8, 0xbf, 0x0b, 0x48, 0xad, 0xab, 0xc5, 0x11})

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := Open(NewBufferSource(data))
		if err != nil {
			if r != nil {
				t.Fatal("reader returned with error")
			}
			return
		}
		_ = r.ExtractTo("meta/sandbox", io.Discard) //nolint:errcheck // only checking for panics
		for p := range r.Paths() {
			if _, err := r.Lookup(p); err != nil {
				t.Fatalf("listed path %q not found: %v", p, err)
			}
		}
	})
}
