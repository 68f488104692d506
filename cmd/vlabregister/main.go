// vlabregister reasserts a board's registration from inside its
// container. The host agent installs it in each container's cron, so a
// flushed or restarted control store relearns every board within a
// minute without touching the lease state.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/hostagent"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/store"
)

// One shot per cron minute: a failed attempt just waits for the next.
const registerTimeout = 30 * time.Second

func main() {
	cmd := &cobra.Command{
		Use:           "vlabregister <serial> <server> <port> <store-addr>",
		Short:         "Re-register a board with the control store",
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("port %q is not a number", args[2])
			}

			ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
			defer cancel()

			s, err := store.Connect(ctx, args[3])
			if err != nil {
				return err
			}
			defer s.Close()

			return hostagent.Reassert(ctx, lease.New(s), args[0], args[1], port)
		},
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
