package farfs

import (
	"context"
	"io/fs"

	"github.com/meigma/far/internal/batch"
	"github.com/meigma/far/tree"
)

// CopyStats reports the outcome of CopyDir.
type CopyStats = batch.Stats

// CopyOption configures CopyDir.
type CopyOption func(*copyConfig)

type copyConfig struct {
	overwrite bool
	workers   int
}

// CopyWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func CopyWithOverwrite(overwrite bool) CopyOption {
	return func(c *copyConfig) {
		c.overwrite = overwrite
	}
}

// CopyWithWorkers sets the number of workers for parallel extraction.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func CopyWithWorkers(n int) CopyOption {
	return func(c *copyConfig) {
		c.workers = n
	}
}

// CopyDir extracts all files under prefix to destDir, keeping their full
// archive paths. If prefix is "" or ".", every file is extracted; a prefix
// naming a file extracts just that file.
//
// Files are written atomically using temp files and renames, and parent
// directories are created as needed. Nearby file contents are fetched
// together and written by concurrent workers. Every data range is checked
// against the store before anything is written.
func (fsys *FileSystem) CopyDir(ctx context.Context, destDir, prefix string, opts ...CopyOption) (CopyStats, error) {
	const op = "copy"
	cfg := copyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := fsys.serving(); err != nil {
		return CopyStats{}, &fs.PathError{Op: op, Path: prefix, Err: err}
	}
	entries, err := fsys.collectEntries(op, prefix)
	if err != nil {
		return CopyStats{}, err
	}

	sink := batch.NewFileSink(destDir, batch.WithOverwrite(cfg.overwrite))
	proc := batch.NewProcessor(fsys.store, fsys.store.Size(),
		batch.WithWorkers(cfg.workers),
		batch.WithLogger(fsys.logger))
	stats, err := proc.Process(ctx, entries, sink)
	if err != nil {
		return stats, &fs.PathError{Op: op, Path: prefix, Err: err}
	}
	fsys.log().Debug("files copied",
		"prefix", prefix,
		"dest", destDir,
		"files", stats.Processed,
		"skipped", stats.Skipped)
	return stats, nil
}

// collectEntries gathers the files under prefix.
func (fsys *FileSystem) collectEntries(op, prefix string) ([]*batch.Entry, error) {
	if prefix == "" {
		prefix = "."
	}
	n, err := fsys.lookupNode(op, prefix)
	if err != nil {
		return nil, err
	}

	base := prefix
	if base == "." {
		base = ""
	}
	if f, ok := n.(*tree.File); ok {
		return []*batch.Entry{{Path: prefix, Offset: f.Offset(), Length: f.Length()}}, nil
	}
	dir, ok := n.(*tree.Dir)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: prefix, Err: fs.ErrInvalid}
	}

	var entries []*batch.Entry //nolint:prealloc // size unknown until the walk
	err = dir.Walk(func(p string, n tree.Node) error {
		f, ok := n.(*tree.File)
		if !ok {
			return nil
		}
		if base != "" {
			p = base + "/" + p
		}
		entries = append(entries, &batch.Entry{Path: p, Offset: f.Offset(), Length: f.Length()})
		return nil
	})
	return entries, err
}
