package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/janitor"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one board-state sweep",
		Long: `Walk every board once, repairing orphaned boards, dead sessions,
and expired or broken locks, then exit.`,
		Args: cobra.NoArgs,
		RunE: withJanitor(func(ctx context.Context, j *janitor.Janitor) error {
			return j.SweepOnce(ctx)
		}),
	}
}
