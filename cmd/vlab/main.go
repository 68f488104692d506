// vlab is the board-connection client users run on their own machines.
//
//	vlab -k mykey.vlabkey -b vlab_zybo-z7
//
// It asks the relay for a tunnel port, reconnects with the JTAG and web
// forwards in place, and attaches the terminal to the allocated board's
// serial console. Flag defaults persist in ~/.vlab/settings.json.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/client"
	"github.com/RTSYork/VLAB/pkg/sshexec"
	"github.com/RTSYork/VLAB/pkg/util"
	"github.com/RTSYork/VLAB/pkg/version"
)

func main() {
	saved, err := client.LoadSettings()
	if err != nil {
		util.Warnf("Could not load settings: %v", err)
		saved = &client.Settings{}
	}

	var (
		opts    client.Options
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:   "vlab",
		Short: "Connect to a VLAB board",
		Long: `Connect to a board in the virtual lab.

The client connects twice: once to fetch a fresh tunnel port, then
again with the JTAG and web forwards in place, leaving this terminal
attached to the board's serial console. Disconnect with the usual
screen detach, or just close the terminal.

  vlab -k mykey.vlabkey -b vlab_zybo-z7

Defaults for the relay, port, user, board, and key can be saved with
'vlab settings set' so only the keyfile flag is ever required.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		Args:              cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				if err := util.SetLogLevel("debug"); err != nil {
					return err
				}
			}
			return client.New(opts).Run(cmd.Context())
		},
	}

	f := rootCmd.Flags()
	f.StringVarP(&opts.Relay, "relay", "r", saved.RelayDefault(), "The hostname of the relay server")
	f.IntVarP(&opts.Port, "port", "p", saved.PortDefault(), "The ssh port of the relay server")
	f.IntVarP(&opts.LocalPort, "localport", "l", client.DefaultLocalPort, "Local port for the JTAG forward")
	f.IntVar(&opts.WebPort, "webport", client.DefaultWebPort, "Local port for the web forward")
	f.StringVarP(&opts.KeyFile, "key", "k", saved.KeyDefault(), "VLAB keyfile to use for authentication")
	f.StringVarP(&opts.User, "user", "u", saved.UserDefault(), "VLAB username")
	f.StringVarP(&opts.Board, "board", "b", saved.BoardDefault(), "Requested board class")
	f.StringVar(&opts.Serial, "serial", "", "Specific board serial (overlords only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newSettingsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("vlab %s\n", version.Info())
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if hint := sshexec.Advice(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}
