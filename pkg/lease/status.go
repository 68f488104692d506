package lease

import "context"

// StatusKind enumerates the displayable states of a board. The values
// double as the JSON vocabulary of the observability API.
type StatusKind string

const (
	StatusAvailable     StatusKind = "available"
	StatusInUseLocked   StatusKind = "in_use_locked"
	StatusInUseUnlocked StatusKind = "in_use_unlocked"
	StatusHwTestFailed  StatusKind = "hwtest_failed"
	StatusUnknown       StatusKind = "unknown"
)

// BoardStatus is the projection of a board's pool membership and key
// state into a single tagged value. Exactly one payload is set:
// Lock for in_use_locked, Session for in_use_unlocked.
type BoardStatus struct {
	Kind    StatusKind
	Lock    *Lock
	Session *Session
}

// Status projects a board's current state. Precedence: a board in the
// available pool is available no matter what stale keys say; a held lock
// means in-use-locked; an unlocked board with a live session triple is
// in-use-unlocked (lease expired, user still on); a recorded test
// failure explains a board missing from the pools; anything else is
// unknown and will be repaired by the next sweep.
func (c *Coordinator) Status(ctx context.Context, serial, class string) (BoardStatus, error) {
	_, inAvail, err := c.InAvailable(ctx, serial, class)
	if err != nil {
		return BoardStatus{}, err
	}
	if inAvail {
		return BoardStatus{Kind: StatusAvailable}, nil
	}

	lock, lockOK, err := c.LockOf(ctx, serial)
	if err != nil {
		return BoardStatus{}, err
	}
	if lockOK {
		return BoardStatus{Kind: StatusInUseLocked, Lock: &lock}, nil
	}

	_, inUnlocked, err := c.InUnlocked(ctx, serial, class)
	if err != nil {
		return BoardStatus{}, err
	}
	sess, sessOK, err := c.SessionOf(ctx, serial)
	if err != nil {
		return BoardStatus{}, err
	}
	if inUnlocked && sessOK {
		return BoardStatus{Kind: StatusInUseUnlocked, Session: &sess}, nil
	}

	hw, hwOK, err := c.HwTestOf(ctx, serial)
	if err != nil {
		return BoardStatus{}, err
	}
	if hwOK && hw.Status == HwTestFail {
		return BoardStatus{Kind: StatusHwTestFailed}, nil
	}

	return BoardStatus{Kind: StatusUnknown}, nil
}
