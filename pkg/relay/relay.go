// Package relay implements the server side of a VLAB connection: the
// command a user's forced-command SSH login runs on the relay host. It
// answers tunnel port requests, allocates and leases boards, bridges the
// user to the board container's serial console, and keeps the session
// alive until the user disconnects or loses the board.
package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/RTSYork/VLAB/pkg/accesslog"
	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// Relay serves one invocation on behalf of one authenticated user. The
// user's identity comes from the SSH layer and is trusted as-is.
type Relay struct {
	coord     *lease.Coordinator
	writer    *accesslog.Writer
	control   Control
	stdout    io.Writer
	settle    time.Duration
	pingEvery time.Duration
	now       func() time.Time
}

// New builds a relay around an established coordinator and access log.
func New(coord *lease.Coordinator, writer *accesslog.Writer, control Control, cfg config.RelayConfig) *Relay {
	return &Relay{
		coord:     coord,
		writer:    writer,
		control:   control,
		stdout:    os.Stdout,
		settle:    cfg.SettleDelay,
		pingEvery: lease.PingInterval,
		now:       time.Now,
	}
}

// Run dispatches a single relay command. arg is the SSH original command:
// either "getport" or a board request of the form class:port[:serial].
func (r *Relay) Run(ctx context.Context, user, arg string) error {
	if arg == CommandGetPort {
		return r.getPort(ctx)
	}
	req, err := ParseRequest(arg)
	if err != nil {
		return err
	}
	if err := r.authorize(ctx, user, req); err != nil {
		return err
	}
	return r.shell(ctx, user, req)
}

// getPort hands the client a fresh tunnel port from the shared counter.
func (r *Relay) getPort(ctx context.Context) error {
	port, err := r.coord.IssuePort(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.stdout, "VLABPORT:%d\n", port)
	return nil
}

// authorize rejects the request before any allocation work happens. The
// checks run in a fixed order so the user always sees the most specific
// complaint: unknown user, then unknown class, then missing access.
func (r *Relay) authorize(ctx context.Context, user string, req Request) error {
	ok, err := r.coord.IsUser(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return &util.UnknownUserError{User: user}
	}
	ok, err = r.coord.ClassExists(ctx, req.Class)
	if err != nil {
		return err
	}
	if !ok {
		return &util.UnknownClassError{Class: req.Class}
	}
	ok, err = r.coord.MayAccess(ctx, user, req.Class)
	if err != nil {
		return err
	}
	if !ok {
		return &util.UnauthorizedError{User: user, Class: req.Class}
	}
	if req.Serial != "" {
		overlord, err := r.coord.IsOverlord(ctx, user)
		if err != nil {
			return err
		}
		if !overlord {
			return &util.OverlordRequiredError{User: user}
		}
	}
	return nil
}
