package janitor

import (
	"context"
	"sort"

	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// SweepOnce walks every board and repairs the states users leave behind:
// sessions whose pings stopped, locks that outlived their lease, and the
// half-written remains of crashed shells. Classes with an allocation in
// flight are skipped this round, as are boards under hardware test.
func (j *Janitor) SweepOnce(ctx context.Context) error {
	classes, err := j.coord.Classes(ctx)
	if err != nil {
		return err
	}
	sort.Strings(classes)
	for _, class := range classes {
		held, err := j.coord.LockingHeld(ctx, class)
		if err != nil {
			return err
		}
		if held {
			util.WithClass(class).Debug("Allocation in flight. Skipping class this sweep.")
			continue
		}
		serials, err := j.coord.BoardsOfClass(ctx, class)
		if err != nil {
			return err
		}
		sort.Strings(serials)
		for _, serial := range serials {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := j.sweepBoard(ctx, class, serial); err != nil {
				util.WithBoard(serial).Warnf("Sweep failed: %v", err)
			}
		}
	}
	if err := j.coord.RecordSweep(ctx); err != nil {
		util.Warnf("Recording sweep pass: %v", err)
	}
	return nil
}

// sweepBoard applies the repair rules to one board. The session side runs
// first; when it recovers a board the lock side has nothing left to do,
// because recovery refills both pools.
func (j *Janitor) sweepBoard(ctx context.Context, class, serial string) error {
	testing, err := j.coord.IsTesting(ctx, serial)
	if err != nil {
		return err
	}
	if testing {
		util.WithBoard(serial).Debug("Board under hardware test. Skipping.")
		return nil
	}
	server, port, err := j.coord.BoardDetails(ctx, serial)
	if err != nil {
		return err
	}
	now := j.now()

	// Session side: boards missing from the available pool must carry a
	// live session to justify it.
	if _, inAvail, err := j.coord.InAvailable(ctx, serial, class); err != nil {
		return err
	} else if !inAvail {
		sess, ok, err := j.coord.SessionOf(ctx, serial)
		if err != nil {
			return err
		}
		if !ok {
			hasSession, err := j.coord.HasSessionKeys(ctx, serial)
			if err != nil {
				return err
			}
			hasLock, err := j.coord.HasLockKeys(ctx, serial)
			if err != nil {
				return err
			}
			switch {
			case !hasSession && !hasLock:
				util.WithBoard(serial).Info("Board marked as in-use but has no session info. Setting as available.")
				return j.recoverBoard(ctx, class, serial, server, port)
			case hasSession:
				util.WithBoard(serial).Warn("Board has a partial session record. Recovering.")
				return j.recoverBoard(ctx, class, serial, server, port)
			}
			// Only lock keys remain; the lock side below handles them.
		} else if now.Sub(sess.Ping) > lease.PingTimeout {
			util.WithBoard(serial).WithField("user", sess.User).Info("Board ping timed out. Set as available and unlocked.")
			return j.recoverBoard(ctx, class, serial, server, port)
		}
	}

	// Lock side: boards missing from the unlocked pool must carry a valid,
	// unexpired lock backed by a session.
	if _, inUnlocked, err := j.coord.InUnlocked(ctx, serial, class); err != nil {
		return err
	} else if !inUnlocked {
		lock, ok, err := j.coord.LockOf(ctx, serial)
		if err != nil {
			return err
		}
		hasSession, err := j.coord.HasSessionKeys(ctx, serial)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			util.WithBoard(serial).Info("Board marked as locked but has no lock info. Setting as unlocked.")
			j.resetIfFlagged(ctx, serial, server, port)
			return j.coord.UnlockBoard(ctx, serial, class)
		case !hasSession:
			// Half-locked: the shell died between taking the lease and
			// starting the session. The crashed shell may have got as far
			// as the container, so that is restarted too.
			util.WithBoard(serial).WithField("user", lock.User).Info("Board locked without a session. Setting as unlocked.")
			j.resetIfFlagged(ctx, serial, server, port)
			if err := j.remote.RestartContainer(ctx, server, serial); err != nil {
				util.WithBoard(serial).Warnf("Container restart failed: %v", err)
			}
			return j.coord.UnlockBoard(ctx, serial, class)
		case now.Sub(lock.Time) > lease.MaxLockTime:
			util.WithBoard(serial).WithField("user", lock.User).Info("Board lock timed out. Forced release.")
			return j.coord.UnlockBoard(ctx, serial, class)
		}
	}
	return nil
}

// recoverBoard puts a wedged board back in service: optional FPGA reset,
// a fresh container so stray screen sessions die, then both pools. The
// container restart is best-effort; the pools are not.
func (j *Janitor) recoverBoard(ctx context.Context, class, serial, server string, port int) error {
	j.resetIfFlagged(ctx, serial, server, port)
	if err := j.remote.RestartContainer(ctx, server, serial); err != nil {
		util.WithBoard(serial).Warnf("Container restart failed: %v", err)
	}
	if err := j.coord.UnlockBoard(ctx, serial, class); err != nil {
		return err
	}
	return j.coord.EndSession(ctx, serial, class)
}
