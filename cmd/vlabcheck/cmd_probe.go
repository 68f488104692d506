package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/janitor"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run one reachability probe",
		Long: `Check that every registered board's container answers on its
published port, deregistering the ones that stay dark, then exit.`,
		Args: cobra.NoArgs,
		RunE: withJanitor(func(ctx context.Context, j *janitor.Janitor) error {
			return j.ProbeOnce(ctx)
		}),
	}
}
