package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/janitor"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Apply the board document now",
		Long: `Parse the board document and sync its users and boards into the
control store, whether or not a reload was requested over the API.`,
		Args: cobra.NoArgs,
		RunE: withJanitor(func(ctx context.Context, j *janitor.Janitor) error {
			return j.ReloadNow(ctx)
		}),
	}
}
