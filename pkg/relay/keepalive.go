package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// keepalive watches over the session while the user is attached. Every
// ping interval it refreshes the session's ping mark, guarded by owner
// and start time. Once the lease deadline passes it gives up the class
// lock so others may claim the board; the session itself carries on
// until somebody actually takes it. A failed guarded ping means exactly
// that happened, so the user is told and the attachment is cut.
func (r *Relay) keepalive(ctx context.Context, cancel context.CancelFunc, preempted *atomic.Bool, serial, class, user string, start time.Time) {
	ticker := time.NewTicker(r.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if r.now().Sub(start) > lease.MaxLockTime {
			if _, err := r.coord.UnlockBoardIfUserAndTime(ctx, serial, class, user, start); err != nil && ctx.Err() == nil {
				util.Warnf("Giving up expired lock on %s failed: %v", serial, err)
			}
		}
		ok, err := r.coord.PingSessionIfUserAndTime(ctx, serial, user, start)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			util.Warnf("Session ping for %s failed: %v", serial, err)
			continue
		}
		if !ok {
			preempted.Store(true)
			fmt.Fprintln(r.stdout, "Your lock has expired and the board has been allocated to another user. Disconnecting.")
			cancel()
			return
		}
		r.writer.Ping(user, class, serial)
	}
}
