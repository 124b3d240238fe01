package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/meigma/far/tree"
)

func treeCmd() *cli.Command {
	return &cli.Command{
		Name:      "tree",
		Usage:     "Print the directory tree of an archive",
		ArgsUsage: "ARCHIVE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := needArgs(cmd, 1); err != nil {
				return err
			}
			fsys, err := openFileSystem(ctx, cmd)
			if err != nil {
				return err
			}
			defer fsys.Close()

			w := cmd.Root().Writer
			fmt.Fprintln(w, ".")
			root := fsys.Root()
			err = root.Walk(func(path string, n tree.Node) error {
				indent := strings.Repeat("  ", strings.Count(path, "/")+1)
				if d, ok := n.(*tree.Dir); ok {
					_, err := fmt.Fprintf(w, "%s%s/ (%d)\n", indent, d.Name(), d.Len())
					return err
				}
				f := n.(*tree.File)
				_, err := fmt.Fprintf(w, "%s%s [%d]\n", indent, f.Name(), f.Length())
				return err
			})
			if err != nil {
				return err
			}
			files, dirs := root.Count()
			_, err = fmt.Fprintf(w, "\n%d directories, %d files\n", dirs, files)
			return err
		},
	}
}
