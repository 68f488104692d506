package janitor

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/RTSYork/VLAB/pkg/util"
)

// ProbeOnce checks that every registered board's container still answers
// on its published SSH port. A board that fails twice in a row has lost
// its container or its host, so it is deregistered until the host agent
// reasserts it.
func (j *Janitor) ProbeOnce(ctx context.Context) error {
	classes, err := j.coord.Classes(ctx)
	if err != nil {
		return err
	}
	for _, class := range classes {
		serials, err := j.coord.BoardsOfClass(ctx, class)
		if err != nil {
			return err
		}
		for _, serial := range serials {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := j.probeBoard(ctx, serial); err != nil {
				util.WithBoard(serial).Warnf("Probe failed: %v", err)
			}
		}
	}
	return nil
}

func (j *Janitor) probeBoard(ctx context.Context, serial string) error {
	server, port, err := j.coord.BoardDetails(ctx, serial)
	if err != nil {
		return err
	}
	if reachable(ctx, server, port) {
		return nil
	}
	util.WithBoard(serial).Warnf("Board on %s:%d failed connection check. Waiting %s and checking again.", server, port, j.retryDelay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(j.retryDelay):
	}

	// The host agent may have restarted the container in the meantime,
	// which moves the published port. Read it again before giving up.
	server, port, err = j.coord.BoardDetails(ctx, serial)
	if err != nil {
		return err
	}
	if reachable(ctx, server, port) {
		return nil
	}
	util.WithBoard(serial).Warnf("Board on %s:%d failed connection check twice. Removing from the store.", server, port)
	return j.coord.RemoveBoard(ctx, serial)
}

func reachable(ctx context.Context, server string, port int) bool {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(server, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
