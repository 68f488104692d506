// vlabcheck runs the VLAB janitors: the sweeper that repairs stale
// lease and session state, the reachability probe, the periodic
// hardware self-test, and the config reload poll. It normally runs as a
// daemon; each job is also a one-shot verb for operators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/version"
)

const defaultConfigPath = "/vlab/check.yaml"

var (
	configPath  string
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vlabcheck",
		Short: "VLAB board and session janitor",
		Long: `Repairs the lab's shared state.

  vlabcheck run              run all janitors until stopped
  vlabcheck sweep            one board-state sweep
  vlabcheck probe            one reachability probe
  vlabcheck boards           list boards and their state
  vlabcheck reload           apply the board document now
  vlabcheck hwtest           run the hardware self-tests now
  vlabcheck hwtest fail <serial>      mark a board failed (maintenance)
  vlabcheck hwtest restore <serial>   return a failed board to service`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Service config file")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newRunCmd(),
		newSweepCmd(),
		newProbeCmd(),
		newBoardsCmd(),
		newReloadCmd(),
		newHwTestCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("vlabcheck %s\n", version.Info())
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
