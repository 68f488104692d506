package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/cli"
	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

func newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List boards and their current state",
		Long: `List every registered board with its class, hardware server,
container port, state, current user and how long the board has been held.`,
		Args: cobra.NoArgs,
		RunE: withCoordinator(func(ctx context.Context, coord *lease.Coordinator, _ config.CheckConfig, _ []string) error {
			return listBoards(ctx, coord)
		}),
	}
}

func listBoards(ctx context.Context, coord *lease.Coordinator) error {
	classes, err := coord.Classes(ctx)
	if err != nil {
		return err
	}
	sort.Strings(classes)

	t := cli.NewTable("BOARDCLASS", "SERIAL", "SERVER", "PORT", "STATUS", "USER", "HELD")
	var total, available, inUse, failed int64
	for _, class := range classes {
		serials, err := coord.BoardsOfClass(ctx, class)
		if err != nil {
			return err
		}
		sort.Strings(serials)
		for _, serial := range serials {
			server, port, err := coord.BoardDetails(ctx, serial)
			if err != nil {
				// A board mid-detach drops out of the listing.
				var unknown *util.UnknownBoardError
				if errors.As(err, &unknown) {
					continue
				}
				return err
			}
			status, err := coord.Status(ctx, serial, class)
			if err != nil {
				return err
			}

			user, held := "", ""
			switch {
			case status.Lock != nil:
				user = status.Lock.User
				held = cli.Duration(time.Since(status.Lock.Time))
			case status.Session != nil:
				user = status.Session.User
				held = cli.Duration(time.Since(status.Session.Start))
			}

			total++
			switch status.Kind {
			case lease.StatusAvailable:
				available++
			case lease.StatusInUseLocked, lease.StatusInUseUnlocked:
				inUse++
			case lease.StatusHwTestFailed:
				failed++
			}

			t.Row(class, serial, server, strconv.Itoa(port), formatBoardStatus(status.Kind), user, held)
		}
	}
	t.Flush()

	fmt.Printf("\n%s: %d available, %d in use, %d failed.\n", cli.Count(total, "board"), available, inUse, failed)
	return nil
}

func formatBoardStatus(kind lease.StatusKind) string {
	switch kind {
	case lease.StatusAvailable:
		return cli.Green(string(kind))
	case lease.StatusInUseLocked, lease.StatusInUseUnlocked:
		return cli.Yellow(string(kind))
	case lease.StatusHwTestFailed:
		return cli.Red(string(kind))
	default:
		return cli.Dim(string(kind))
	}
}
