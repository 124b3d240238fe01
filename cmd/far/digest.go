package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/meigma/far/internal/pathutil"
)

func digestCmd() *cli.Command {
	return &cli.Command{
		Name:      "digest",
		Usage:     "Print the sha256 digest of files in an archive (all files when none are named)",
		ArgsUsage: "ARCHIVE [PATH...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 1 {
				return needArgs(cmd, 1)
			}
			fsys, err := openFileSystem(ctx, cmd)
			if err != nil {
				return err
			}
			defer fsys.Close()

			paths := cmd.Args().Tail()
			if len(paths) == 0 {
				for p := range fsys.Reader().Paths() {
					paths = append(paths, p)
				}
			}

			w := cmd.Root().Writer
			for _, p := range paths {
				p = pathutil.Normalize(p)
				d, err := fsys.Digest(p)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "%s  %s\n", d, p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
