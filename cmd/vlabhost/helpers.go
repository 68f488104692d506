package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/container"
	"github.com/RTSYork/VLAB/pkg/hostagent"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/store"
	"github.com/RTSYork/VLAB/pkg/util"
)

// withAgent wires the shared setup for every verb: config, logging, the
// store connection, and a signal-scoped context.
func withAgent(fn func(ctx context.Context, agent *hostagent.Agent, serial string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadBoardHostConfig(configPath)
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

		agent := hostagent.New(lease.New(s), container.Docker{}, cfg)
		return fn(ctx, agent, args[0])
	}
}
