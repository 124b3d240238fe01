package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/meigma/far"
	"github.com/meigma/far/farfs"
	farhttp "github.com/meigma/far/http"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "far",
		Usage: "Inspect, extract and mount FAR archives",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug|info|warn|error",
				Value:   "warn",
				Sources: cli.EnvVars("FAR_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: text|json",
				Value:   "text",
				Sources: cli.EnvVars("FAR_LOG_FORMAT"),
			},
			&cli.IntFlag{
				Name:    "max-files",
				Usage:   "Reject archives with more files than this (0 disables the limit)",
				Sources: cli.EnvVars("FAR_MAX_FILES"),
			},
			&cli.StringSliceFlag{
				Name:  "header",
				Usage: "Extra request header for http(s) archives, as \"Key: Value\" (repeatable)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger, err := newLogger(cmd.Root().ErrWriter, cmd.String("log-level"), cmd.String("log-format"))
			if err != nil {
				return ctx, err
			}
			return withLogger(ctx, logger), nil
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			listCmd(),
			extractCmd(),
			catCmd(),
			treeCmd(),
			digestCmd(),
			mountCmd(),
		},
	}
}

// readerOptions returns the far options selected by global flags.
func readerOptions(ctx context.Context, cmd *cli.Command) []far.Option {
	opts := []far.Option{far.WithLogger(loggerFrom(ctx))}
	if n := cmd.Root().Int("max-files"); n > 0 {
		opts = append(opts, far.WithMaxFiles(int(n)))
	}
	return opts
}

// archive is an opened archive and the function releasing its backing.
type archive struct {
	*far.Reader
	close func() error
}

func (a *archive) Close() error {
	return a.close()
}

// isRemote reports whether name is fetched over HTTP.
func isRemote(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

// openArchive opens the archive named by the first argument, which is a
// local path or an http(s) URL.
func openArchive(ctx context.Context, cmd *cli.Command) (*archive, error) {
	name := cmd.Args().First()
	if name == "" {
		return nil, fmt.Errorf("%s: missing archive argument", cmd.Name)
	}
	if !isRemote(name) {
		rc, err := far.OpenFile(name, readerOptions(ctx, cmd)...)
		if err != nil {
			return nil, err
		}
		return &archive{Reader: rc.Reader, close: rc.Close}, nil
	}

	store, err := openRemote(ctx, cmd, name)
	if err != nil {
		return nil, err
	}
	size := store.Size()
	r, err := far.Open(far.NewSeekerSource(io.NewSectionReader(store, 0, size), size), readerOptions(ctx, cmd)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &archive{Reader: r, close: func() error { return nil }}, nil
}

// openRemote probes an archive served over HTTP.
func openRemote(ctx context.Context, cmd *cli.Command, url string) (*farhttp.Store, error) {
	opts := []farhttp.Option{farhttp.WithLogger(loggerFrom(ctx))}
	for _, h := range cmd.Root().StringSlice("header") {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q (want \"Key: Value\")", h)
		}
		opts = append(opts, farhttp.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
	}
	return farhttp.NewStore(ctx, url, opts...)
}

// openStore returns the backing store for a local path or an http(s) URL.
func openStore(ctx context.Context, cmd *cli.Command, name string) (farfs.Store, error) {
	if isRemote(name) {
		return openRemote(ctx, cmd, name)
	}
	return farfs.OpenFileStore(name)
}

// openFileSystem loads the archive named by the first argument as a farfs
// FileSystem. The caller must Close it.
func openFileSystem(ctx context.Context, cmd *cli.Command, opts ...farfs.Option) (*farfs.FileSystem, error) {
	name := cmd.Args().First()
	if name == "" {
		return nil, fmt.Errorf("%s: missing archive argument", cmd.Name)
	}
	store, err := openStore(ctx, cmd, name)
	if err != nil {
		return nil, err
	}
	opts = append([]farfs.Option{
		farfs.WithLogger(loggerFrom(ctx)),
		farfs.WithReaderOptions(readerOptions(ctx, cmd)...),
	}, opts...)
	fsys := farfs.New(store, opts...)
	if err := fsys.Err(); err != nil {
		_ = fsys.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return fsys, nil
}

// needArgs checks the number of positional arguments.
func needArgs(cmd *cli.Command, n int) error {
	if got := cmd.NArg(); got != n {
		return fmt.Errorf("%s: expected %d arguments, got %d (usage: far %s %s)",
			cmd.Name, n, got, cmd.Name, cmd.ArgsUsage)
	}
	return nil
}
