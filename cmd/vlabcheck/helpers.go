package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/janitor"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/store"
	"github.com/RTSYork/VLAB/pkg/util"
)

// withJanitor wires the shared setup for every verb: config, logging,
// the store connection, and a signal-scoped context.
func withJanitor(fn func(ctx context.Context, j *janitor.Janitor) error) func(*cobra.Command, []string) error {
	return withCoordinator(func(ctx context.Context, coord *lease.Coordinator, cfg config.CheckConfig, _ []string) error {
		return fn(ctx, janitor.New(coord, janitor.NewSSHRemote(cfg.KeyFile), cfg))
	})
}

func withCoordinator(fn func(ctx context.Context, coord *lease.Coordinator, cfg config.CheckConfig, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadCheckConfig(configPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verboseFlag {
			level = "debug"
		}
		if err := util.SetLogLevel(level); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := store.ConnectWithRetry(ctx, cfg.Store.Addr, store.DialAttempts, store.DialDelay)
		if err != nil {
			return err
		}
		defer s.Close()

		return fn(ctx, lease.New(s), cfg, args)
	}
}
