package lease

import (
	"context"
	"strconv"

	"github.com/RTSYork/VLAB/pkg/store"
	"github.com/RTSYork/VLAB/pkg/util"
)

// KnownBoard is the static metadata the config document declares per serial.
type KnownBoard struct {
	Serial string
	Class  string
	Type   string
	Reset  bool
}

// IsUser reports whether the login name is a VLAB user.
func (c *Coordinator) IsUser(ctx context.Context, user string) (bool, error) {
	return c.s.SIsMember(ctx, store.KeyUsers(), user)
}

// IsOverlord reports whether the user bypasses class ACLs.
func (c *Coordinator) IsOverlord(ctx context.Context, user string) (bool, error) {
	return c.s.Exists(ctx, store.KeyUserOverlord(user))
}

// MayAccess reports whether the user may lease boards of the class.
func (c *Coordinator) MayAccess(ctx context.Context, user, class string) (bool, error) {
	overlord, err := c.IsOverlord(ctx, user)
	if err != nil {
		return false, err
	}
	if overlord {
		return true, nil
	}
	return c.s.SIsMember(ctx, store.KeyUserAllowedBoards(user), class)
}

// Users lists all registered login names.
func (c *Coordinator) Users(ctx context.Context) ([]string, error) {
	return c.s.SMembers(ctx, store.KeyUsers())
}

// Classes lists the classes with at least one registered board.
func (c *Coordinator) Classes(ctx context.Context) ([]string, error) {
	return c.s.SMembers(ctx, store.KeyBoardClasses())
}

// ClassExists reports whether the class is registered.
func (c *Coordinator) ClassExists(ctx context.Context, class string) (bool, error) {
	return c.s.SIsMember(ctx, store.KeyBoardClasses(), class)
}

// BoardsOfClass lists the serials registered under the class.
func (c *Coordinator) BoardsOfClass(ctx context.Context, class string) ([]string, error) {
	return c.s.SMembers(ctx, store.KeyClassBoards(class))
}

// BoardCount returns how many boards the class has.
func (c *Coordinator) BoardCount(ctx context.Context, class string) (int64, error) {
	return c.s.SCard(ctx, store.KeyClassBoards(class))
}

// AvailableCount returns the idle-pool cardinality.
func (c *Coordinator) AvailableCount(ctx context.Context, class string) (int64, error) {
	return c.s.ZCard(ctx, store.KeyClassAvailable(class))
}

// UnlockedCount returns the lease-free-pool cardinality.
func (c *Coordinator) UnlockedCount(ctx context.Context, class string) (int64, error) {
	return c.s.ZCard(ctx, store.KeyClassUnlocked(class))
}

// InAvailable reports pool membership and the idle-since score.
func (c *Coordinator) InAvailable(ctx context.Context, serial, class string) (float64, bool, error) {
	return c.s.ZScore(ctx, store.KeyClassAvailable(class), serial)
}

// InUnlocked reports pool membership and the unlocked-since score.
func (c *Coordinator) InUnlocked(ctx context.Context, serial, class string) (float64, bool, error) {
	return c.s.ZScore(ctx, store.KeyClassUnlocked(class), serial)
}

// ClassOfBoard finds the class whose board set contains the serial by
// scanning all classes. No serial→class back-link is kept in the store;
// the scan is small and avoids a second structure that could drift.
func (c *Coordinator) ClassOfBoard(ctx context.Context, serial string) (string, bool, error) {
	classes, err := c.Classes(ctx)
	if err != nil {
		return "", false, err
	}
	for _, class := range classes {
		ok, err := c.s.SIsMember(ctx, store.KeyClassBoards(class), serial)
		if err != nil {
			return "", false, err
		}
		if ok {
			return class, true, nil
		}
	}
	return "", false, nil
}

// IsKnownBoard reports whether the config document declares the serial.
func (c *Coordinator) IsKnownBoard(ctx context.Context, serial string) (bool, error) {
	return c.s.SIsMember(ctx, store.KeyKnownBoards(), serial)
}

// KnownBoards lists the serials the config document declares.
func (c *Coordinator) KnownBoards(ctx context.Context) ([]string, error) {
	return c.s.SMembers(ctx, store.KeyKnownBoards())
}

// KnownBoardMeta reads a serial's static metadata.
func (c *Coordinator) KnownBoardMeta(ctx context.Context, serial string) (KnownBoard, error) {
	class, ok, err := c.s.Get(ctx, store.KeyKnownBoardClass(serial))
	if err != nil {
		return KnownBoard{}, err
	}
	if !ok {
		return KnownBoard{}, &util.UnknownBoardError{Serial: serial}
	}
	boardType, _, err := c.s.Get(ctx, store.KeyKnownBoardType(serial))
	if err != nil {
		return KnownBoard{}, err
	}
	reset, _, err := c.s.Get(ctx, store.KeyKnownBoardReset(serial))
	if err != nil {
		return KnownBoard{}, err
	}
	return KnownBoard{
		Serial: serial,
		Class:  class,
		Type:   boardType,
		Reset:  reset == "true",
	}, nil
}

// BoardDetails returns where an attached board's container can be
// reached: the board-host address and the host port mapped to SSH.
func (c *Coordinator) BoardDetails(ctx context.Context, serial string) (server string, port int, err error) {
	server, ok, err := c.s.Get(ctx, store.KeyBoardServer(serial))
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, &util.UnknownBoardError{Serial: serial}
	}
	portStr, ok, err := c.s.Get(ctx, store.KeyBoardPort(serial))
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, &util.UnknownBoardError{Serial: serial}
	}
	port, convErr := strconv.Atoi(portStr)
	if convErr != nil {
		return "", 0, &util.UnknownBoardError{Serial: serial}
	}
	return server, port, nil
}

// LockOf reads the board's lease pair. ok is true only when both halves
// are present; a partial pair is reported as absent and is the sweeper's
// cue to repair the board.
func (c *Coordinator) LockOf(ctx context.Context, serial string) (Lock, bool, error) {
	user, okUser, err := c.s.Get(ctx, store.KeyBoardLockUser(serial))
	if err != nil {
		return Lock{}, false, err
	}
	timeStr, okTime, err := c.s.Get(ctx, store.KeyBoardLockTime(serial))
	if err != nil {
		return Lock{}, false, err
	}
	if !okUser || !okTime {
		return Lock{User: user}, false, nil
	}
	t, valid := parseTime(timeStr)
	if !valid {
		return Lock{User: user}, false, nil
	}
	return Lock{User: user, Time: t}, true, nil
}

// HasLockKeys reports whether any half of the lease pair is present.
func (c *Coordinator) HasLockKeys(ctx context.Context, serial string) (bool, error) {
	for _, key := range store.LockKeys(serial) {
		ok, err := c.s.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// SessionOf reads the board's session triple. ok is true only when all
// three parts are present and well-formed.
func (c *Coordinator) SessionOf(ctx context.Context, serial string) (Session, bool, error) {
	user, okUser, err := c.s.Get(ctx, store.KeyBoardSessionUser(serial))
	if err != nil {
		return Session{}, false, err
	}
	startStr, okStart, err := c.s.Get(ctx, store.KeyBoardSessionStart(serial))
	if err != nil {
		return Session{}, false, err
	}
	pingStr, okPing, err := c.s.Get(ctx, store.KeyBoardSessionPing(serial))
	if err != nil {
		return Session{}, false, err
	}
	if !okUser || !okStart || !okPing {
		return Session{User: user}, false, nil
	}
	start, validStart := parseTime(startStr)
	ping, validPing := parseTime(pingStr)
	if !validStart || !validPing {
		return Session{User: user}, false, nil
	}
	return Session{User: user, Start: start, Ping: ping}, true, nil
}

// HasSessionKeys reports whether any part of the session triple is present.
func (c *Coordinator) HasSessionKeys(ctx context.Context, serial string) (bool, error) {
	for _, key := range store.SessionKeys(serial) {
		ok, err := c.s.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// SetLocking sets the advisory allocation-in-flight token for the class.
// It is not a mutual-exclusion lock: allocation's pop-min is the real
// exclusion primitive. The token only tells the sweeper to stay away.
func (c *Coordinator) SetLocking(ctx context.Context, class string) error {
	return c.s.SetEx(ctx, store.KeyClassLocking(class), "1", LockingTTL)
}

// ClearLocking drops the token early instead of waiting out the TTL.
func (c *Coordinator) ClearLocking(ctx context.Context, class string) error {
	return c.s.Del(ctx, store.KeyClassLocking(class))
}

// LockingHeld reports whether an allocation is in flight for the class.
func (c *Coordinator) LockingHeld(ctx context.Context, class string) (bool, error) {
	return c.s.Exists(ctx, store.KeyClassLocking(class))
}

// IssuePort returns the next tunnel port. The counter holds the next
// port to issue; INCR reads and advances it in one step, so the issued
// port is INCR minus one. Past the top of the range the counter rewinds
// and PortLo is issued again. An uninitialized or out-of-range counter
// self-heals the same way.
func (c *Coordinator) IssuePort(ctx context.Context) (int, error) {
	n, err := c.s.Incr(ctx, store.KeyPortCounter())
	if err != nil {
		return 0, err
	}
	port := int(n) - 1
	if port < PortLo || port >= PortHi {
		if err := c.s.Set(ctx, store.KeyPortCounter(), strconv.Itoa(PortLo+1)); err != nil {
			return 0, err
		}
		port = PortLo
	}
	return port, nil
}

// InitPortCounter seeds the counter so the first issue is PortLo. Set-if-
// absent only: config reloads never rewind an advancing counter.
func (c *Coordinator) InitPortCounter(ctx context.Context) error {
	_, err := c.s.SetNX(ctx, store.KeyPortCounter(), strconv.Itoa(PortLo), 0)
	return err
}
