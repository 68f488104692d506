// Package lease implements the coordination primitives for board leases
// and sessions. A lease (lock) is the class-level assertion "this user
// holds this board", bounded by MaxLockTime; a session is the user's live
// shell on the board and may outlive the lease. All state lives in the
// control store; every component mutates it through a Coordinator rather
// than touching keys directly.
package lease

import (
	"context"
	"strconv"
	"time"

	"github.com/RTSYork/VLAB/pkg/store"
)

// Lab-wide timing defaults. Service configs may override the tunables;
// these values are the contract the tests are written against.
const (
	MaxLockTime    = 600 * time.Second
	PingInterval   = 10 * time.Second
	PingTimeout    = 30 * time.Second
	LockingTTL     = 2 * time.Second
	HwTestRunTTL   = 4 * time.Hour
	HwTestTestTTL  = 120 * time.Second
	ReloadFlagTTL  = 120 * time.Second
	TriggerFlagTTL = 300 * time.Second
)

// Tunnel port counter range. The counter holds the next port to issue,
// so the first issue after initialization is PortLo.
const (
	PortLo = 30000
	PortHi = 35000
)

// Lock is a snapshot of a board's lease keys.
type Lock struct {
	User string
	Time time.Time
}

// Session is a snapshot of a board's session keys.
type Session struct {
	User  string
	Start time.Time
	Ping  time.Time
}

// Coordinator composes the lease and session primitives on a Store.
type Coordinator struct {
	s   store.Store
	now func() time.Time
}

// New returns a Coordinator on the given store.
func New(s store.Store) *Coordinator {
	return &Coordinator{s: s, now: time.Now}
}

// NewWithClock returns a Coordinator with an injected time source.
func NewWithClock(s store.Store, now func() time.Time) *Coordinator {
	return &Coordinator{s: s, now: now}
}

// Ping reports whether the control store answers.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.s.Ping(ctx)
}

// LockBoard takes the class-level lease: the board leaves the unlocked
// pool and the lock pair records holder and start time. The caller is
// expected to have set the class locking token; no atomicity across the
// steps is needed because stale writers are fenced by the guarded
// variants on the release side.
func (c *Coordinator) LockBoard(ctx context.Context, serial, class, user string, t time.Time) error {
	if _, err := c.s.ZRem(ctx, store.KeyClassUnlocked(class), serial); err != nil {
		return err
	}
	if err := c.s.Set(ctx, store.KeyBoardLockUser(serial), user); err != nil {
		return err
	}
	return c.s.Set(ctx, store.KeyBoardLockTime(serial), formatTime(t))
}

// UnlockBoard drops the lease unconditionally and returns the board to
// the unlocked pool with an idle-since score of now.
func (c *Coordinator) UnlockBoard(ctx context.Context, serial, class string) error {
	if err := c.s.Del(ctx, store.LockKeys(serial)...); err != nil {
		return err
	}
	return c.s.ZAdd(ctx, store.KeyClassUnlocked(class), epoch(c.now()), serial)
}

// UnlockBoardIfUser unlocks only while the given user still holds the
// lock. Reports whether it acted.
func (c *Coordinator) UnlockBoardIfUser(ctx context.Context, serial, class, user string) (bool, error) {
	cur, ok, err := c.s.Get(ctx, store.KeyBoardLockUser(serial))
	if err != nil {
		return false, err
	}
	if !ok || cur != user {
		return false, nil
	}
	if err := c.UnlockBoard(ctx, serial, class); err != nil {
		return false, err
	}
	return true, nil
}

// UnlockBoardIfUserAndTime unlocks only while the lock still belongs to
// this exact lease ({user, time} pair). A stale releaser, such as a
// shell preempted long ago or a slow teardown, misses the guard and
// becomes a no-op instead of clobbering the new holder.
func (c *Coordinator) UnlockBoardIfUserAndTime(ctx context.Context, serial, class, user string, t time.Time) (bool, error) {
	curUser, ok, err := c.s.Get(ctx, store.KeyBoardLockUser(serial))
	if err != nil {
		return false, err
	}
	if !ok || curUser != user {
		return false, nil
	}
	curTime, ok, err := c.s.Get(ctx, store.KeyBoardLockTime(serial))
	if err != nil {
		return false, err
	}
	if !ok || curTime != formatTime(t) {
		return false, nil
	}
	if err := c.UnlockBoard(ctx, serial, class); err != nil {
		return false, err
	}
	return true, nil
}

// StartSession takes the lease and opens the session in one sweep: the
// board leaves both pools and the session triple records the user and
// the start instant (which doubles as the ping seed).
func (c *Coordinator) StartSession(ctx context.Context, serial, class, user string, t time.Time) error {
	if err := c.LockBoard(ctx, serial, class, user, t); err != nil {
		return err
	}
	if _, err := c.s.ZRem(ctx, store.KeyClassAvailable(class), serial); err != nil {
		return err
	}
	if err := c.s.Set(ctx, store.KeyBoardSessionUser(serial), user); err != nil {
		return err
	}
	if err := c.s.Set(ctx, store.KeyBoardSessionStart(serial), formatTime(t)); err != nil {
		return err
	}
	return c.s.Set(ctx, store.KeyBoardSessionPing(serial), formatTime(t))
}

// EndSession clears the session triple and returns the board to the
// available pool. It does not touch the lock: the unlock may already
// have happened via lease expiry, or is the caller's next step.
func (c *Coordinator) EndSession(ctx context.Context, serial, class string) error {
	if err := c.s.Del(ctx, store.SessionKeys(serial)...); err != nil {
		return err
	}
	return c.s.ZAdd(ctx, store.KeyClassAvailable(class), epoch(c.now()), serial)
}

// EndSessionIfUser ends the session only while it still belongs to user.
func (c *Coordinator) EndSessionIfUser(ctx context.Context, serial, class, user string) (bool, error) {
	cur, ok, err := c.s.Get(ctx, store.KeyBoardSessionUser(serial))
	if err != nil {
		return false, err
	}
	if !ok || cur != user {
		return false, nil
	}
	if err := c.EndSession(ctx, serial, class); err != nil {
		return false, err
	}
	return true, nil
}

// EndSessionIfUserAndTime ends the session only while it is this exact
// session ({user, start} pair).
func (c *Coordinator) EndSessionIfUserAndTime(ctx context.Context, serial, class, user string, start time.Time) (bool, error) {
	curUser, ok, err := c.s.Get(ctx, store.KeyBoardSessionUser(serial))
	if err != nil {
		return false, err
	}
	if !ok || curUser != user {
		return false, nil
	}
	curStart, ok, err := c.s.Get(ctx, store.KeyBoardSessionStart(serial))
	if err != nil {
		return false, err
	}
	if !ok || curStart != formatTime(start) {
		return false, nil
	}
	if err := c.EndSession(ctx, serial, class); err != nil {
		return false, err
	}
	return true, nil
}

// PingSession refreshes the session liveness stamp.
func (c *Coordinator) PingSession(ctx context.Context, serial string) error {
	return c.s.Set(ctx, store.KeyBoardSessionPing(serial), formatTime(c.now()))
}

// PingSessionIfUserAndTime refreshes the stamp only while the session
// still belongs to this exact {user, start} pair. A false return tells
// the keep-alive loop that another session has taken the board over and
// the caller must terminate.
func (c *Coordinator) PingSessionIfUserAndTime(ctx context.Context, serial, user string, start time.Time) (bool, error) {
	curUser, ok, err := c.s.Get(ctx, store.KeyBoardSessionUser(serial))
	if err != nil {
		return false, err
	}
	if !ok || curUser != user {
		return false, nil
	}
	curStart, ok, err := c.s.Get(ctx, store.KeyBoardSessionStart(serial))
	if err != nil {
		return false, err
	}
	if !ok || curStart != formatTime(start) {
		return false, nil
	}
	if err := c.PingSession(ctx, serial); err != nil {
		return false, err
	}
	return true, nil
}

// AllocateAvailable pops the longest-idle fully idle board of the class.
func (c *Coordinator) AllocateAvailable(ctx context.Context, class string) (string, bool, error) {
	return c.s.ZPopMin(ctx, store.KeyClassAvailable(class))
}

// AllocateUnlocked pops the longest-idle lease-free board of the class.
// The board may still carry an in-flight session whose lease expired;
// that session's keep-alive will observe the takeover and terminate.
func (c *Coordinator) AllocateUnlocked(ctx context.Context, class string) (string, bool, error) {
	return c.s.ZPopMin(ctx, store.KeyClassUnlocked(class))
}

// ClaimUnlocked withdraws one specific board from the class's lease-free
// pool. False means the board is not lease-free right now, so somebody
// else holds it.
func (c *Coordinator) ClaimUnlocked(ctx context.Context, serial, class string) (bool, error) {
	return c.s.ZRem(ctx, store.KeyClassUnlocked(class), serial)
}

// RemoveBoard deregisters an attached board: class membership, pool
// membership, and every per-serial instance key. Known-board metadata is
// left alone, it belongs to the config document. Idempotent.
func (c *Coordinator) RemoveBoard(ctx context.Context, serial string) error {
	class, ok, err := c.ClassOfBoard(ctx, serial)
	if err != nil {
		return err
	}
	if ok {
		if err := c.s.SRem(ctx, store.KeyClassBoards(class), serial); err != nil {
			return err
		}
		if _, err := c.s.ZRem(ctx, store.KeyClassAvailable(class), serial); err != nil {
			return err
		}
		if _, err := c.s.ZRem(ctx, store.KeyClassUnlocked(class), serial); err != nil {
			return err
		}
	}
	return c.s.Del(ctx, store.BoardInstanceKeys(serial)...)
}

// UnlockBoardsHeldBy force-releases every lease the user holds, across
// all classes. Returns the serials released.
func (c *Coordinator) UnlockBoardsHeldBy(ctx context.Context, user string) ([]string, error) {
	classes, err := c.Classes(ctx)
	if err != nil {
		return nil, err
	}
	var released []string
	for _, class := range classes {
		serials, err := c.BoardsOfClass(ctx, class)
		if err != nil {
			return released, err
		}
		for _, serial := range serials {
			acted, err := c.UnlockBoardIfUser(ctx, serial, class, user)
			if err != nil {
				return released, err
			}
			if acted {
				released = append(released, serial)
			}
		}
	}
	return released, nil
}

// Times are stored as epoch seconds: human-readable in the store, and
// directly comparable with pool scores.

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseTime(s string) (time.Time, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

func epoch(t time.Time) float64 {
	return float64(t.Unix())
}
