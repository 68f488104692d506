package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/janitor"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run all janitors until stopped",
		Long: `Run the sweep, probe, reload poll, and periodic hardware test on
their configured intervals. Stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: withJanitor(func(ctx context.Context, j *janitor.Janitor) error {
			err := j.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
}
