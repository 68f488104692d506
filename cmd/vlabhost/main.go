// vlabhost is the board-host agent. The OS device event handler invokes
// attach and detach as boards come and go; the relay and the janitor
// invoke restart over SSH when a user's container needs replacing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/version"
)

const defaultConfigPath = "/vlab/boardhost.yaml"

var (
	configPath  string
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vlabhost",
		Short: "VLAB board-host agent",
		Long: `Manages the board containers on this host.

  vlabhost attach <serial>    provision a freshly connected board
  vlabhost detach <serial>    tear down a disconnected board
  vlabhost restart <serial>   replace a board's container`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Service config file")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newAttachCmd(),
		newDetachCmd(),
		newRestartCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("vlabhost %s\n", version.Info())
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
