package relay

import (
	"context"
	"fmt"

	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// allocate picks the board the session will run on. Boards the user
// already holds are reused; otherwise the least-recently-unlocked board
// wins, preferring fully idle boards over ones with an expired lease.
func (r *Relay) allocate(ctx context.Context, user string, req Request) (string, error) {
	if req.Serial != "" {
		return r.allocateSerial(ctx, user, req)
	}
	if serial, ok, err := r.ownBoardOfClass(ctx, user, req.Class); err != nil {
		return "", err
	} else if ok {
		fmt.Fprintf(r.stdout, "You already have an active session, reusing board '%s'.\n", serial)
		return serial, nil
	}

	// The token tells the sweeper an allocation is mid-flight so it does
	// not reap the winner before its lock keys land. It expires on its
	// own after a successful claim.
	if err := r.coord.SetLocking(ctx, req.Class); err != nil {
		return "", err
	}
	fmt.Fprintf(r.stdout, "Requesting least-recently-unlocked board of class '%s'...\n", req.Class)
	serial, ok, err := r.coord.AllocateAvailable(ctx, req.Class)
	if err != nil {
		return "", err
	}
	if !ok {
		serial, ok, err = r.coord.AllocateUnlocked(ctx, req.Class)
		if err != nil {
			return "", err
		}
	}
	if !ok {
		if err := r.coord.ClearLocking(ctx, req.Class); err != nil {
			util.Warnf("Clearing allocation token for %s failed: %v", req.Class, err)
		}
		r.writer.NoFreeBoards(user, req.Class)
		return "", &util.NoFreeBoardsError{Class: req.Class, RetryAfter: lease.MaxLockTime}
	}
	return serial, nil
}

// allocateSerial claims one named board. Only the lease-free pool is
// consulted: a board someone else holds is never stolen, however stale
// its session looks.
func (r *Relay) allocateSerial(ctx context.Context, user string, req Request) (string, error) {
	mine, err := r.holdsBoard(ctx, user, req.Serial)
	if err != nil {
		return "", err
	}
	if mine {
		fmt.Fprintf(r.stdout, "You already have an active session, reusing board '%s'.\n", req.Serial)
		return req.Serial, nil
	}
	class, ok, err := r.coord.ClassOfBoard(ctx, req.Serial)
	if err != nil {
		return "", err
	}
	if !ok || class != req.Class {
		return "", &util.UnknownBoardError{Serial: req.Serial}
	}
	claimed, err := r.coord.ClaimUnlocked(ctx, req.Serial, req.Class)
	if err != nil {
		return "", err
	}
	if !claimed {
		owner := ""
		if lock, ok, err := r.coord.LockOf(ctx, req.Serial); err != nil {
			return "", err
		} else if ok {
			owner = lock.User
		}
		return "", &util.BoardLockedError{Serial: req.Serial, Owner: owner}
	}
	return req.Serial, nil
}

// ownBoardOfClass scans the class for a board whose lock or session
// already belongs to the user.
func (r *Relay) ownBoardOfClass(ctx context.Context, user, class string) (string, bool, error) {
	serials, err := r.coord.BoardsOfClass(ctx, class)
	if err != nil {
		return "", false, err
	}
	for _, serial := range serials {
		mine, err := r.holdsBoard(ctx, user, serial)
		if err != nil {
			return "", false, err
		}
		if mine {
			return serial, true, nil
		}
	}
	return "", false, nil
}

func (r *Relay) holdsBoard(ctx context.Context, user, serial string) (bool, error) {
	if lock, ok, err := r.coord.LockOf(ctx, serial); err != nil {
		return false, err
	} else if ok && lock.User == user {
		return true, nil
	}
	if sess, ok, err := r.coord.SessionOf(ctx, serial); err != nil {
		return false, err
	} else if ok && sess.User == user {
		return true, nil
	}
	return false, nil
}
