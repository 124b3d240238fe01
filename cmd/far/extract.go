package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/meigma/far/farfs"
	"github.com/meigma/far/internal/pathutil"
)

func extractCmd() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract one file, or every file with --all",
		ArgsUsage: "ARCHIVE PATH DEST | --all ARCHIVE DIR",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Extract every file below DIR",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "With --all, only extract files under this directory",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "With --all, replace files that already exist",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "With --all, number of parallel workers (0 = auto, <0 = serial)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("all") {
				return extractAll(ctx, cmd)
			}
			if err := needArgs(cmd, 3); err != nil {
				return err
			}

			rc, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer rc.Close()

			path := pathutil.Normalize(cmd.Args().Get(1))
			dest := cmd.Args().Get(2)
			if err := rc.ExtractToPath(path, dest); err != nil {
				return err
			}
			loggerFrom(ctx).Info("extracted file", "path", path, "dest", dest)
			return nil
		},
	}
}

func extractAll(ctx context.Context, cmd *cli.Command) error {
	if err := needArgs(cmd, 2); err != nil {
		return err
	}
	fsys, err := openFileSystem(ctx, cmd)
	if err != nil {
		return err
	}
	defer fsys.Close()

	dest := cmd.Args().Get(1)
	prefix := pathutil.Normalize(cmd.String("prefix"))
	stats, err := fsys.CopyDir(ctx, dest, prefix,
		farfs.CopyWithOverwrite(cmd.Bool("overwrite")),
		farfs.CopyWithWorkers(int(cmd.Int("workers"))))
	if err != nil {
		return err
	}
	loggerFrom(ctx).Info("extracted archive",
		"dest", dest,
		"files", stats.Processed,
		"skipped", stats.Skipped,
		"bytes", stats.TotalBytes)
	return nil
}

func catCmd() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Write the content of a file to standard output",
		ArgsUsage: "ARCHIVE PATH",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := needArgs(cmd, 2); err != nil {
				return err
			}
			rc, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer rc.Close()

			path := pathutil.Normalize(cmd.Args().Get(1))
			if err := rc.ExtractTo(path, cmd.Root().Writer); err != nil {
				return fmt.Errorf("cat: %w", err)
			}
			return nil
		},
	}
}
