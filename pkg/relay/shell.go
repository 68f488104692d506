package relay

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// shell runs one interactive session end to end: allocate a board, take
// its lease, restart its container, bridge the user onto its serial
// console, and give everything back when the user goes away. The lease
// guards make the teardown safe even if the board changed hands while
// the user was still attached.
func (r *Relay) shell(ctx context.Context, user string, req Request) error {
	serial, err := r.allocate(ctx, user, req)
	if err != nil {
		return err
	}

	// StartSession takes the lease on the way in, so one call covers the
	// fresh claim and the reuse case alike, stamping both with one time.
	start := r.now()
	if err := r.coord.StartSession(ctx, serial, req.Class, user, start); err != nil {
		return err
	}
	remaining, err := r.coord.UnlockedCount(ctx, req.Class)
	if err != nil {
		return err
	}
	r.writer.Lock(user, req.Class, serial, remaining)
	r.writer.Start(user, req.Class, serial)
	printLockNotice(r.stdout, serial, req.Class, user, start)

	reset := r.resetWanted(ctx, serial)

	server, port, err := r.provision(ctx, serial)
	if err != nil {
		r.teardown(ctx, user, req.Class, serial, start, false, false)
		return err
	}
	if reset {
		fmt.Fprintln(r.stdout, "Resetting board...")
		if err := r.control.ResetBoard(ctx, server, port); err != nil {
			util.Warnf("Resetting board %s failed: %v", serial, err)
		}
	}

	attachCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var preempted atomic.Bool
	go r.keepalive(attachCtx, cancel, &preempted, serial, req.Class, user, start)

	err = r.control.Attach(attachCtx, AttachSpec{
		Server:     server,
		Port:       port,
		TunnelPort: req.TunnelPort,
		User:       user,
		Class:      req.Class,
		Serial:     serial,
		LockExpiry: start.Add(lease.MaxLockTime),
	})
	cancel()
	if err != nil && !preempted.Load() {
		r.teardown(ctx, user, req.Class, serial, start, reset, false)
		return err
	}

	fmt.Fprintln(r.stdout, "User disconnected. Cleaning up...")
	r.teardown(ctx, user, req.Class, serial, start, reset, preempted.Load())
	fmt.Fprintln(r.stdout, "Disconnected successfully.")
	return nil
}

// provision restarts the board's container so the user starts from a
// clean machine, then waits out the settle delay and re-reads the board
// address. The restart moves the container's published SSH port, so the
// pre-restart port must not be reused.
func (r *Relay) provision(ctx context.Context, serial string) (string, int, error) {
	server, _, err := r.coord.BoardDetails(ctx, serial)
	if err != nil {
		return "", 0, err
	}
	fmt.Fprintln(r.stdout, "Restarting target container...")
	if err := r.control.RestartContainer(ctx, server, serial); err != nil {
		return "", 0, err
	}
	fmt.Fprintln(r.stdout, "Connecting to board server...")
	if err := r.settleWait(ctx); err != nil {
		return "", 0, err
	}
	return r.coord.BoardDetails(ctx, serial)
}

// settleWait gives the freshly started container time to publish its
// port and bring up sshd before anyone dials it.
func (r *Relay) settleWait(ctx context.Context) error {
	t := time.NewTimer(r.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// teardown closes out the session. With preempted set the board belongs
// to someone else already, so the FPGA is left alone and the guarded
// store calls quietly decline to touch the new owner's keys. The session
// usually ends by cancellation (sshd signals a user disconnect), so the
// store calls here must outlive the context that got us here.
func (r *Relay) teardown(ctx context.Context, user, class, serial string, start time.Time, reset, preempted bool) {
	ctx = context.WithoutCancel(ctx)
	r.writer.Release(user, class, serial)
	if reset && !preempted {
		server, port, err := r.coord.BoardDetails(ctx, serial)
		if err != nil {
			util.Warnf("Looking up board %s for reset failed: %v", serial, err)
		} else {
			fmt.Fprintln(r.stdout, "Resetting board...")
			if err := r.control.ResetBoard(ctx, server, port); err != nil {
				util.Warnf("Resetting board %s failed: %v", serial, err)
			}
		}
	}
	fmt.Fprintln(r.stdout, "Releasing lock...")
	if _, err := r.coord.UnlockBoardIfUserAndTime(ctx, serial, class, user, start); err != nil {
		util.Warnf("Releasing lock on %s failed: %v", serial, err)
	}
	if _, err := r.coord.EndSessionIfUserAndTime(ctx, serial, class, user, start); err != nil {
		util.Warnf("Ending session on %s failed: %v", serial, err)
	}
	r.writer.End(user, class, serial)
}

// resetWanted reports whether the board's config entry asks for an FPGA
// reset around each session. Boards missing from the config document
// never get reset: there is no way to know what tooling they need.
func (r *Relay) resetWanted(ctx context.Context, serial string) bool {
	meta, err := r.coord.KnownBoardMeta(ctx, serial)
	if err != nil {
		return false
	}
	return meta.Reset
}

// printLockNotice tells the user when their exclusive hold runs out.
func printLockNotice(w io.Writer, serial, class, user string, start time.Time) {
	expiry := start.Add(lease.MaxLockTime)
	fmt.Fprintf(w, "Locked board '%s' of type '%s' for user '%s' at %s for %d seconds\n",
		serial, class, user, start.Format("15:04:05 MST"), int(lease.MaxLockTime/time.Second))
	stars := strings.Repeat("*", 91)
	fmt.Fprintln(w, stars)
	fmt.Fprintf(w, "*              YOUR EXCLUSIVE BOARD LOCK EXPIRES ON %s              *\n",
		expiry.Format("02/01/06 AT 15:04:05 MST"))
	fmt.Fprintln(w, "* AFTER THIS TIME SOMEONE ELSE MIGHT BE ALLOCATED YOUR BOARD AND YOU WILL BE DISCONNECTED *")
	fmt.Fprintln(w, stars)
}
