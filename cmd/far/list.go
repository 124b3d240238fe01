package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

// listEntry is the JSON form of one directory entry.
type listEntry struct {
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List the files of an archive with their data ranges",
		ArgsUsage: "ARCHIVE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Write a JSON array instead of a table",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := needArgs(cmd, 1); err != nil {
				return err
			}
			rc, err := openArchive(ctx, cmd)
			if err != nil {
				return err
			}
			defer rc.Close()

			w := cmd.Root().Writer
			if cmd.Bool("json") {
				entries := make([]listEntry, 0, rc.Len())
				for path, e := range rc.All() {
					entries = append(entries, listEntry{Path: path, Offset: e.DataOffset, Length: e.DataLength})
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "OFFSET\tLENGTH\tPATH")
			for path, e := range rc.All() {
				fmt.Fprintf(tw, "%d\t%d\t%s\n", e.DataOffset, e.DataLength, path)
			}
			return tw.Flush()
		},
	}
}
