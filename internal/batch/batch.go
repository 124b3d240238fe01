// Package batch extracts many archive files concurrently.
//
// Entries are sorted by data offset and nearby ranges are grouped so that a
// group is fetched with one ReadAt. Groups are processed by a bounded set of
// workers and each entry is handed to a Sink.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/far/internal/sizing"
)

// Defaults for grouping reads.
const (
	// DefaultMaxGap is the largest hole between two ranges that still joins
	// them into one read. Archive content is usually page aligned, so the
	// padding between consecutive files stays below a page.
	DefaultMaxGap = 4096

	// DefaultMaxGroupBytes bounds the memory held by one group.
	DefaultMaxGroupBytes = 8 << 20
)

var (
	// ErrOutOfRange is returned for entries whose data lies outside the source.
	ErrOutOfRange = errors.New("batch: data range outside source")

	errSizeOverflow = errors.New("batch: size overflow")
)

// Entry is one file to extract.
type Entry struct {
	Path   string
	Offset uint64
	Length uint64
}

func (e *Entry) end() uint64 { return e.Offset + e.Length }

// Stats summarizes a Process call.
type Stats struct {
	// Processed is the number of entries written to the sink.
	Processed int
	// Skipped is the number of entries the sink declined.
	Skipped int
	// TotalBytes is the content size of the processed entries.
	TotalBytes uint64
	// Reads is the number of ReadAt calls issued.
	Reads int
}

// Processor reads entries from a source and writes them to a sink.
type Processor struct {
	source        io.ReaderAt
	size          int64
	workers       int
	maxGap        uint64
	maxGroupBytes uint64
	logger        *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of groups processed at once.
// Zero uses GOMAXPROCS; values below zero force serial processing.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithMaxGap sets the largest hole bridged when grouping reads.
func WithMaxGap(n uint64) ProcessorOption {
	return func(p *Processor) {
		p.maxGap = n
	}
}

// WithMaxGroupBytes bounds the size of a grouped read. A single entry
// larger than the bound still forms its own group.
func WithMaxGroupBytes(n uint64) ProcessorOption {
	return func(p *Processor) {
		p.maxGroupBytes = n
	}
}

// WithLogger sets the logger for batch progress.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a Processor over a source of size bytes.
func NewProcessor(source io.ReaderAt, size int64, opts ...ProcessorOption) *Processor {
	p := &Processor{
		source:        source,
		size:          size,
		maxGap:        DefaultMaxGap,
		maxGroupBytes: DefaultMaxGroupBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Process writes every entry accepted by sink.ShouldProcess.
//
// All entries are checked against the source size before anything is
// written. Processing stops at the first error or when ctx is canceled;
// entries already committed stay in place.
func (p *Processor) Process(ctx context.Context, entries []*Entry, sink Sink) (Stats, error) {
	var stats Stats

	todo := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if !sizing.Within(e.Offset, e.Length, p.size) {
			return stats, fmt.Errorf("%w: %s at %d+%d of %d bytes", ErrOutOfRange, e.Path, e.Offset, e.Length, p.size)
		}
		if !sink.ShouldProcess(e) {
			stats.Skipped++
			continue
		}
		todo = append(todo, e)
	}
	if len(todo) == 0 {
		return stats, nil
	}

	slices.SortFunc(todo, func(a, b *Entry) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	groups := groupEntries(todo, p.maxGap, p.maxGroupBytes)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount(len(groups)))
	for _, group := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			gs, err := p.processGroup(group, sink)
			mu.Lock()
			stats.Processed += gs.Processed
			stats.TotalBytes += gs.TotalBytes
			stats.Reads += gs.Reads
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	p.log().Debug("batch processed",
		"entries", stats.Processed,
		"skipped", stats.Skipped,
		"groups", len(groups),
		"bytes", stats.TotalBytes)
	return stats, err
}

// processGroup reads the group's range and writes each entry.
func (p *Processor) processGroup(group rangeGroup, sink Sink) (Stats, error) {
	var stats Stats
	size, err := sizing.ToInt(group.end-group.start, errSizeOverflow)
	if err != nil {
		return stats, err
	}
	data := make([]byte, size)
	stats.Reads++
	n, err := p.source.ReadAt(data, int64(group.start)) //nolint:gosec // offset fits in int64 after validation
	if n != size {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return stats, fmt.Errorf("batch: read %d bytes at %d: got %d: %w", size, group.start, n, err)
	}

	for _, e := range group.entries {
		local := e.Offset - group.start
		if err := writeEntry(sink, e, data[local:local+e.Length]); err != nil {
			return stats, err
		}
		stats.Processed++
		stats.TotalBytes += e.Length
	}
	return stats, nil
}

func writeEntry(sink Sink, e *Entry, content []byte) error {
	w, err := sink.Writer(e)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", e.Path, err)
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("batch: %s: %w", e.Path, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: %s: commit: %w", e.Path, err)
	}
	return nil
}

// workerCount determines the number of concurrent groups.
func (p *Processor) workerCount(groups int) int {
	workers := p.workers
	switch {
	case workers < 0:
		return 1
	case workers == 0:
		workers = runtime.GOMAXPROCS(0)
	}
	return max(1, min(workers, groups))
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
