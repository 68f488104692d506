package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/janitor"
	"github.com/RTSYork/VLAB/pkg/lease"
)

func newHwTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hwtest",
		Short: "Run the hardware self-tests now",
		Long: `Program each idle board with the test design and check its serial
output, withdrawing boards that fail. Skips boards that are in use and
whole runs when another tester holds the run lease.

The fail and restore subcommands inject and repair a failure by hand,
for exercising the failed-board path without touching hardware.`,
		Args: cobra.NoArgs,
		RunE: withJanitor(func(ctx context.Context, j *janitor.Janitor) error {
			return j.RunHardwareTests(ctx)
		}),
	}
	cmd.AddCommand(newHwTestFailCmd(), newHwTestRestoreCmd())
	return cmd
}

func newHwTestFailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fail <serial>",
		Short: "Mark a board failed and withdraw it",
		Args:  cobra.ExactArgs(1),
		RunE: withCoordinator(func(ctx context.Context, coord *lease.Coordinator, _ config.CheckConfig, args []string) error {
			return failBoard(ctx, coord, args[0])
		}),
	}
}

func newHwTestRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <serial>",
		Short: "Return a failed board to service",
		Args:  cobra.ExactArgs(1),
		RunE: withCoordinator(func(ctx context.Context, coord *lease.Coordinator, _ config.CheckConfig, args []string) error {
			return restoreBoard(ctx, coord, args[0])
		}),
	}
}

func failBoard(ctx context.Context, coord *lease.Coordinator, serial string) error {
	class, ok, err := coord.ClassOfBoard(ctx, serial)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Board %s is not in any board class.", serial)
	}
	if _, err := coord.WithdrawBoard(ctx, serial, class); err != nil {
		return err
	}
	if err := coord.RecordHwTest(ctx, serial, lease.HwTestFail, "Failure injected by vlabcheck.", time.Now()); err != nil {
		return err
	}
	fmt.Printf("Board %s marked as failed and removed from the pools.\n", serial)
	return nil
}

func restoreBoard(ctx context.Context, coord *lease.Coordinator, serial string) error {
	class, ok, err := coord.ClassOfBoard(ctx, serial)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Board %s is not in any board class.", serial)
	}
	if err := coord.ClearHwTest(ctx, serial); err != nil {
		return err
	}
	if err := coord.ActivateBoard(ctx, serial, class, time.Now()); err != nil {
		return err
	}
	fmt.Printf("Board %s restored to both pools.\n", serial)
	return nil
}
