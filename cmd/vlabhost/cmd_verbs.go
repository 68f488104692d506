package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/hostagent"
)

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <serial>",
		Short: "Provision a freshly connected board",
		Long: `Provision the board: start a container for it, install the
re-registration cron job, reset the FPGA if the config asks for it, and
register the board as available. Serials missing from the config
document are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: withAgent(func(ctx context.Context, agent *hostagent.Agent, serial string) error {
			return agent.Attach(ctx, serial)
		}),
	}
}

func newDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <serial>",
		Short: "Tear down a disconnected board",
		Long: `Remove the board's container and deregister it from the control
store. Safe to repeat; a board that is already gone stays gone.`,
		Args: cobra.ExactArgs(1),
		RunE: withAgent(func(ctx context.Context, agent *hostagent.Agent, serial string) error {
			return agent.Detach(ctx, serial)
		}),
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <serial>",
		Short: "Replace a board's container",
		Long: `Destroy the board's container and provision a fresh one, keeping
any lease and session intact. The new SSH port is published to the
control store.`,
		Args: cobra.ExactArgs(1),
		RunE: withAgent(func(ctx context.Context, agent *hostagent.Agent, serial string) error {
			return agent.Restart(ctx, serial)
		}),
	}
}
