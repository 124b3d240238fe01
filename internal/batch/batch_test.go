package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader wraps a ReaderAt and counts calls.
type countingReader struct {
	r     io.ReaderAt
	calls atomic.Int32
}

func (c *countingReader) ReadAt(p []byte, off int64) (int, error) {
	c.calls.Add(1)
	return c.r.ReadAt(p, off)
}

// memorySink collects committed content.
type memorySink struct {
	mu    sync.Mutex
	files map[string][]byte
	skip  map[string]bool
	fail  string
}

func newMemorySink() *memorySink {
	return &memorySink{files: make(map[string][]byte), skip: make(map[string]bool)}
}

func (s *memorySink) ShouldProcess(e *Entry) bool { return !s.skip[e.Path] }

func (s *memorySink) Writer(e *Entry) (Committer, error) {
	if e.Path == s.fail {
		return nil, errors.New("refused")
	}
	return &memoryCommitter{sink: s, path: e.Path}, nil
}

type memoryCommitter struct {
	sink *memorySink
	path string
	buf  bytes.Buffer
}

func (c *memoryCommitter) Write(p []byte) (int, error) { return c.buf.Write(p) }

func (c *memoryCommitter) Commit() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.files[c.path] = c.buf.Bytes()
	return nil
}

func (c *memoryCommitter) Discard() error { return nil }

// layout places each content at a 16 byte boundary and returns the data
// and matching entries.
func layout(contents map[string]string, order []string) ([]byte, []*Entry) {
	var data []byte
	entries := make([]*Entry, 0, len(order))
	for _, path := range order {
		for len(data)%16 != 0 {
			data = append(data, 0xff)
		}
		entries = append(entries, &Entry{Path: path, Offset: uint64(len(data)), Length: uint64(len(contents[path]))})
		data = append(data, contents[path]...)
	}
	return data, entries
}

var sample = map[string]string{
	"a":     "alpha",
	"b/c":   "charlie",
	"b/d":   "",
	"e/f/g": "golf golf golf",
}

func TestProcessWritesEverything(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c", "b/d", "e/f/g"})
	src := &countingReader{r: bytes.NewReader(data)}
	sink := newMemorySink()

	stats, err := NewProcessor(src, int64(len(data))).Process(context.Background(), entries, sink)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Processed)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, uint64(26), stats.TotalBytes)
	for path, want := range sample {
		assert.Equal(t, want, string(sink.files[path]), path)
	}
	// All ranges are within the default gap so one read suffices.
	assert.Equal(t, 1, stats.Reads)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestProcessGroupsByGap(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c", "b/d", "e/f/g"})
	src := &countingReader{r: bytes.NewReader(data)}

	// Padding between entries is below 16 bytes, so a zero gap splits
	// every entry that does not start exactly at the previous end.
	stats, err := NewProcessor(src, int64(len(data)), WithMaxGap(0), WithWorkers(-1)).
		Process(context.Background(), entries, newMemorySink())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, int(src.calls.Load()), stats.Reads)
	assert.Greater(t, stats.Reads, 1)
}

func TestProcessSkips(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c", "b/d", "e/f/g"})
	sink := newMemorySink()
	sink.skip["a"] = true
	sink.skip["e/f/g"] = true

	stats, err := NewProcessor(bytes.NewReader(data), int64(len(data))).
		Process(context.Background(), entries, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.Skipped)
	assert.NotContains(t, sink.files, "a")
	assert.Equal(t, "charlie", string(sink.files["b/c"]))
}

func TestProcessNothingToDo(t *testing.T) {
	src := &countingReader{r: bytes.NewReader(nil)}
	stats, err := NewProcessor(src, 0).Process(context.Background(), nil, newMemorySink())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Zero(t, src.calls.Load())
}

func TestProcessOutOfRange(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c"})
	entries = append(entries, &Entry{Path: "late", Offset: uint64(len(data)), Length: 1})
	src := &countingReader{r: bytes.NewReader(data)}
	sink := newMemorySink()

	_, err := NewProcessor(src, int64(len(data))).Process(context.Background(), entries, sink)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, src.calls.Load(), "nothing is read before validation passes")
	assert.Empty(t, sink.files)
}

func TestProcessShortSource(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c"})
	// Declared size claims the full data; the reader only has half of it.
	src := bytes.NewReader(data[:len(data)/2])

	_, err := NewProcessor(src, int64(len(data))).Process(context.Background(), entries, newMemorySink())
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestProcessSinkError(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c"})
	sink := newMemorySink()
	sink.fail = "b/c"

	_, err := NewProcessor(bytes.NewReader(data), int64(len(data)), WithWorkers(-1)).
		Process(context.Background(), entries, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b/c")
}

func TestProcessCanceled(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProcessor(bytes.NewReader(data), int64(len(data))).Process(ctx, entries, newMemorySink())
	require.ErrorIs(t, err, context.Canceled)
}

func TestGroupEntries(t *testing.T) {
	e := func(off, length uint64) *Entry { return &Entry{Offset: off, Length: length} }

	tests := []struct {
		name     string
		entries  []*Entry
		maxGap   uint64
		maxBytes uint64
		want     [][2]uint64
	}{
		{
			name:     "single",
			entries:  []*Entry{e(8, 4)},
			maxGap:   0,
			maxBytes: 100,
			want:     [][2]uint64{{8, 12}},
		},
		{
			name:     "contiguous",
			entries:  []*Entry{e(0, 4), e(4, 4), e(8, 4)},
			maxGap:   0,
			maxBytes: 100,
			want:     [][2]uint64{{0, 12}},
		},
		{
			name:     "gap within limit",
			entries:  []*Entry{e(0, 4), e(10, 4)},
			maxGap:   6,
			maxBytes: 100,
			want:     [][2]uint64{{0, 14}},
		},
		{
			name:     "gap too large",
			entries:  []*Entry{e(0, 4), e(11, 4)},
			maxGap:   6,
			maxBytes: 100,
			want:     [][2]uint64{{0, 4}, {11, 15}},
		},
		{
			name:     "group size cap",
			entries:  []*Entry{e(0, 8), e(8, 8), e(16, 8)},
			maxGap:   0,
			maxBytes: 16,
			want:     [][2]uint64{{0, 16}, {16, 24}},
		},
		{
			name:     "oversized entry stands alone",
			entries:  []*Entry{e(0, 4), e(4, 64), e(68, 4)},
			maxGap:   0,
			maxBytes: 16,
			want:     [][2]uint64{{0, 4}, {4, 68}, {68, 72}},
		},
		{
			name:     "shared offsets",
			entries:  []*Entry{e(0, 0), e(0, 4), e(2, 2)},
			maxGap:   0,
			maxBytes: 100,
			want:     [][2]uint64{{0, 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := groupEntries(tt.entries, tt.maxGap, tt.maxBytes)
			got := make([][2]uint64, len(groups))
			total := 0
			for i, g := range groups {
				got[i] = [2]uint64{g.start, g.end}
				total += len(g.entries)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.entries), total)
		})
	}
}

func TestWorkerCount(t *testing.T) {
	p := NewProcessor(bytes.NewReader(nil), 0, WithWorkers(4))
	assert.Equal(t, 4, p.workerCount(10))
	assert.Equal(t, 2, p.workerCount(2))

	p = NewProcessor(bytes.NewReader(nil), 0, WithWorkers(-1))
	assert.Equal(t, 1, p.workerCount(10))

	p = NewProcessor(bytes.NewReader(nil), 0)
	assert.GreaterOrEqual(t, p.workerCount(1), 1)
}

func TestFileSink(t *testing.T) {
	data, entries := layout(sample, []string{"a", "b/c", "b/d", "e/f/g"})
	dest := t.TempDir()

	stats, err := NewProcessor(bytes.NewReader(data), int64(len(data)), WithWorkers(2)).
		Process(context.Background(), entries, NewFileSink(dest))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Processed)

	for path, want := range sample {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		require.NoError(t, err, path)
		assert.Equal(t, want, string(got), path)
	}

	leftovers, err := filepath.Glob(filepath.Join(dest, "b", ".far-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are renamed or removed")
}

func TestFileSinkOverwrite(t *testing.T) {
	data, entries := layout(sample, []string{"a"})
	dest := t.TempDir()
	target := filepath.Join(dest, "a")
	require.NoError(t, os.WriteFile(target, []byte("existing"), 0o644))

	stats, err := NewProcessor(bytes.NewReader(data), int64(len(data))).
		Process(context.Background(), entries, NewFileSink(dest))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(got))

	stats, err = NewProcessor(bytes.NewReader(data), int64(len(data))).
		Process(context.Background(), entries, NewFileSink(dest, WithOverwrite(true)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	got, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))
}

func TestFileCommitterDiscard(t *testing.T) {
	dest := t.TempDir()
	w, err := NewFileSink(dest).Writer(&Entry{Path: "x/y"})
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	entries, err := os.ReadDir(filepath.Join(dest, "x"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
