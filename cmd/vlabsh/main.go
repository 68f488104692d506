// vlabsh is the forced-command shell VLAB users land in on the relay
// host. sshd invokes it with the user's request in SSH_ORIGINAL_COMMAND;
// authorized_keys pins every VLAB key to it, so this is the only thing a
// VLAB login can run. "getport" answers with a fresh tunnel port;
// class:port[:serial] allocates a board and bridges the user onto its
// serial console until they disconnect or lose the board.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/accesslog"
	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/relay"
	"github.com/RTSYork/VLAB/pkg/store"
	"github.com/RTSYork/VLAB/pkg/util"
)

const defaultConfigPath = "/vlab/relay.yaml"

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "vlabsh [request]",
		Short: "VLAB relay shell",
		Long: `The forced SSH command for VLAB logins on the relay host.

The request normally arrives in SSH_ORIGINAL_COMMAND; an argument
overrides it for manual testing. Requests:

  getport                  print a fresh tunnel port and exit
  boardclass:port          allocate a board of the class and attach
  boardclass:port:serial   attach to a specific board (overlords only)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := os.Getenv("SSH_ORIGINAL_COMMAND")
			if len(args) > 0 {
				arg = args[0]
			}
			return run(configPath, strings.TrimSpace(arg))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Service config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, arg string) error {
	cfg, err := config.LoadRelayConfig(configPath)
	if err != nil {
		return err
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if arg == "" {
		return errors.New("No request. Connect through the VLAB client, or pass 'getport' or 'boardclass:port'.")
	}
	me, err := user.Current()
	if err != nil {
		return fmt.Errorf("determining user: %w", err)
	}

	// sshd delivers SIGHUP when the user's connection drops; that is the
	// normal way a session ends.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	s, err := store.ConnectWithRetry(ctx, cfg.Store.Addr, store.DialAttempts, store.DialDelay)
	if err != nil {
		return err
	}
	defer s.Close()

	writer, err := accesslog.NewWriter(cfg.AccessLog, "vlabsh")
	if err != nil {
		return err
	}
	defer writer.Close()

	control := relay.NewSSHControl(cfg.KeyFile, os.Stdin, os.Stdout, os.Stderr)
	return relay.New(lease.New(s), writer, control, cfg).Run(ctx, me.Username, arg)
}
