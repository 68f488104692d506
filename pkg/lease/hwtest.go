package lease

import (
	"context"
	"time"

	"github.com/RTSYork/VLAB/pkg/store"
)

// Hardware-test verdicts recorded per serial.
const (
	HwTestPass = "pass"
	HwTestFail = "fail"
)

// HwTest is the recorded outcome of a board's last hardware self-test.
type HwTest struct {
	Status  string
	Time    time.Time
	Message string
}

// HwTestOf reads the board's last test record, if any.
func (c *Coordinator) HwTestOf(ctx context.Context, serial string) (HwTest, bool, error) {
	status, ok, err := c.s.Get(ctx, store.KeyBoardHwTestStatus(serial))
	if err != nil {
		return HwTest{}, false, err
	}
	if !ok {
		return HwTest{}, false, nil
	}
	timeStr, _, err := c.s.Get(ctx, store.KeyBoardHwTestTime(serial))
	if err != nil {
		return HwTest{}, false, err
	}
	message, _, err := c.s.Get(ctx, store.KeyBoardHwTestMessage(serial))
	if err != nil {
		return HwTest{}, false, err
	}
	t, _ := parseTime(timeStr)
	return HwTest{Status: status, Time: t, Message: message}, true, nil
}

// RecordHwTest writes the board's test verdict.
func (c *Coordinator) RecordHwTest(ctx context.Context, serial, status, message string, t time.Time) error {
	if err := c.s.Set(ctx, store.KeyBoardHwTestStatus(serial), status); err != nil {
		return err
	}
	if err := c.s.Set(ctx, store.KeyBoardHwTestTime(serial), formatTime(t)); err != nil {
		return err
	}
	return c.s.Set(ctx, store.KeyBoardHwTestMessage(serial), message)
}

// ClearHwTest deletes the board's test record, as when an operator
// returns a withdrawn board to service.
func (c *Coordinator) ClearHwTest(ctx context.Context, serial string) error {
	return c.s.Del(ctx,
		store.KeyBoardHwTestStatus(serial),
		store.KeyBoardHwTestTime(serial),
		store.KeyBoardHwTestMessage(serial))
}

// WithdrawBoard pulls the board out of both pools so nobody can claim it
// while it is under test. Reports whether it was in at least one pool; a
// false return means somebody claimed the board first.
func (c *Coordinator) WithdrawBoard(ctx context.Context, serial, class string) (bool, error) {
	fromAvail, err := c.s.ZRem(ctx, store.KeyClassAvailable(class), serial)
	if err != nil {
		return false, err
	}
	fromUnlocked, err := c.s.ZRem(ctx, store.KeyClassUnlocked(class), serial)
	if err != nil {
		return fromAvail, err
	}
	return fromAvail || fromUnlocked, nil
}

// MarkTesting flags the board as under test so the sweeper leaves it
// alone. The TTL bounds the damage if the tester dies mid-run.
func (c *Coordinator) MarkTesting(ctx context.Context, serial string) error {
	return c.s.SetEx(ctx, store.KeyBoardHwTestTesting(serial), "1", HwTestTestTTL)
}

// ClearTesting removes the under-test marker.
func (c *Coordinator) ClearTesting(ctx context.Context, serial string) error {
	return c.s.Del(ctx, store.KeyBoardHwTestTesting(serial))
}

// IsTesting reports whether the board is currently under test.
func (c *Coordinator) IsTesting(ctx context.Context, serial string) (bool, error) {
	return c.s.Exists(ctx, store.KeyBoardHwTestTesting(serial))
}

// AcquireHwTestRun takes the global single-runner lease. Reports false
// when another run is active. The TTL releases a runner that died.
func (c *Coordinator) AcquireHwTestRun(ctx context.Context) (bool, error) {
	return c.s.SetNX(ctx, store.KeyHwTestRunning(), formatTime(c.now()), HwTestRunTTL)
}

// ReleaseHwTestRun drops the single-runner lease.
func (c *Coordinator) ReleaseHwTestRun(ctx context.Context) error {
	return c.s.Del(ctx, store.KeyHwTestRunning())
}

// HwTestRunning reports whether a test run is active.
func (c *Coordinator) HwTestRunning(ctx context.Context) (bool, error) {
	return c.s.Exists(ctx, store.KeyHwTestRunning())
}

// TriggerHwTest raises the out-of-schedule test flag the janitor watches.
func (c *Coordinator) TriggerHwTest(ctx context.Context) error {
	return c.s.SetEx(ctx, store.KeyHwTestTrigger(), "1", TriggerFlagTTL)
}

// HwTestTriggered reports whether the trigger flag is up.
func (c *Coordinator) HwTestTriggered(ctx context.Context) (bool, error) {
	return c.s.Exists(ctx, store.KeyHwTestTrigger())
}

// ClearHwTestTrigger consumes the trigger flag.
func (c *Coordinator) ClearHwTestTrigger(ctx context.Context) error {
	return c.s.Del(ctx, store.KeyHwTestTrigger())
}
