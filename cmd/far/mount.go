package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/meigma/far/fuse"
)

func mountCmd() *cli.Command {
	return &cli.Command{
		Name:      "mount",
		Usage:     "Serve an archive read-only over FUSE until interrupted",
		ArgsUsage: "ARCHIVE MOUNTPOINT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "allow-other",
				Usage: "Let other users access the mount",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Trace FUSE requests",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := needArgs(cmd, 2); err != nil {
				return err
			}
			fsys, err := openFileSystem(ctx, cmd)
			if err != nil {
				return err
			}
			defer fsys.Close()

			logger := loggerFrom(ctx)
			mountpoint := cmd.Args().Get(1)
			m := fuse.NewMounter(
				fuse.WithLogger(logger),
				fuse.WithDebug(cmd.Bool("debug")),
				fuse.WithAllowOther(cmd.Bool("allow-other")),
			)
			if err := fsys.Serve(m, mountpoint); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			done := make(chan error, 1)
			go func() { done <- m.Wait(mountpoint) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				logger.Info("interrupted, unmounting", "endpoint", mountpoint)
				return m.Unmount(mountpoint)
			}
		},
	}
}
