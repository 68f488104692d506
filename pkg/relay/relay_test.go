package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RTSYork/VLAB/internal/testutil"
	"github.com/RTSYork/VLAB/pkg/accesslog"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/store"
	"github.com/RTSYork/VLAB/pkg/util"
)

const (
	testSerial = "210351A77F75"
	testClass  = "vlab_zybo-z7"
	testServer = "bh001.cs.york.ac.uk"
	testPort   = 40001
)

type testClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.at = t
	c.mu.Unlock()
}

type fakeControl struct {
	mu         sync.Mutex
	restarts   []string
	resets     []string
	attaches   []AttachSpec
	restartErr error
	attachErr  error
	block      bool
	started    chan struct{}
}

func newFakeControl() *fakeControl {
	return &fakeControl{started: make(chan struct{})}
}

func (f *fakeControl) RestartContainer(ctx context.Context, server, serial string) error {
	f.mu.Lock()
	f.restarts = append(f.restarts, serial)
	err := f.restartErr
	f.mu.Unlock()
	return err
}

func (f *fakeControl) ResetBoard(ctx context.Context, server string, port int) error {
	f.mu.Lock()
	f.resets = append(f.resets, fmt.Sprintf("%s:%d", server, port))
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) Attach(ctx context.Context, spec AttachSpec) error {
	f.mu.Lock()
	f.attaches = append(f.attaches, spec)
	select {
	case <-f.started:
	default:
		close(f.started)
	}
	err := f.attachErr
	block := f.block
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeControl) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarts)
}

func (f *fakeControl) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resets)
}

type testRelay struct {
	*Relay
	store   *store.Redis
	control *fakeControl
	out     *bytes.Buffer
	clock   *testClock
	logPath string
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	s := testutil.NewStore(t)
	logPath := filepath.Join(t.TempDir(), "access.log")
	writer, err := accesslog.NewWriter(logPath, "vlabsh")
	if err != nil {
		t.Fatalf("opening access log: %v", err)
	}
	t.Cleanup(func() { writer.Close() })

	clock := &testClock{at: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	control := newFakeControl()
	out := &bytes.Buffer{}
	r := &Relay{
		coord:     lease.New(s),
		writer:    writer,
		control:   control,
		stdout:    out,
		settle:    0,
		pingEvery: 10 * time.Millisecond,
		now:       clock.Now,
	}
	return &testRelay{Relay: r, store: s, control: control, out: out, clock: clock, logPath: logPath}
}

func (tr *testRelay) seedBoard(t *testing.T, reset bool) {
	t.Helper()
	testutil.SeedAttachedBoard(t, tr.store, testSerial, testClass, testServer, testPort, 100)
	testutil.SeedKnownBoard(t, tr.store, testSerial, testClass, "zybo-z7", reset)
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name string
		arg  string
		want Request
		ok   bool
	}{
		{"plain", "vlab_zybo-z7:30000", Request{Class: "vlab_zybo-z7", TunnelPort: 30000}, true},
		{"with serial", "vlab_zybo-z7:30000:210351A77F75", Request{Class: "vlab_zybo-z7", TunnelPort: 30000, Serial: "210351A77F75"}, true},
		{"no colon", "vlab_zybo-z7", Request{}, false},
		{"port not a number", "vlab_zybo-z7:x", Request{}, false},
		{"port zero", "vlab_zybo-z7:0", Request{}, false},
		{"port too big", "vlab_zybo-z7:70000", Request{}, false},
		{"empty class", ":30000", Request{}, false},
		{"empty serial", "vlab_zybo-z7:30000:", Request{}, false},
		{"too many parts", "a:30000:b:c", Request{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRequest(tc.arg)
			if tc.ok {
				if err != nil {
					t.Fatalf("ParseRequest(%q): %v", tc.arg, err)
				}
				if got != tc.want {
					t.Fatalf("ParseRequest(%q) = %+v, want %+v", tc.arg, got, tc.want)
				}
				return
			}
			if !errors.Is(err, ErrBadRequest) {
				t.Fatalf("ParseRequest(%q) err = %v, want ErrBadRequest", tc.arg, err)
			}
		})
	}
}

func TestRunGetPort(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)

	if err := tr.coord.InitPortCounter(ctx); err != nil {
		t.Fatalf("InitPortCounter: %v", err)
	}
	if err := tr.Run(ctx, "alice", "getport"); err != nil {
		t.Fatalf("Run(getport): %v", err)
	}
	if got := tr.out.String(); got != "VLABPORT:30000\n" {
		t.Fatalf("getport output = %q", got)
	}
}

func TestRunAuthorization(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, false)
	testutil.SeedUser(t, tr.store, "alice", false, testClass)
	testutil.SeedUser(t, tr.store, "trent", false, "vlab_other")

	t.Run("unknown user", func(t *testing.T) {
		err := tr.Run(ctx, "mallory", testClass+":12345")
		var uerr *util.UnknownUserError
		if !errors.As(err, &uerr) || uerr.User != "mallory" {
			t.Fatalf("err = %v, want UnknownUserError for mallory", err)
		}
	})

	t.Run("unknown class", func(t *testing.T) {
		err := tr.Run(ctx, "alice", "vlab_nonexistent:12345")
		var cerr *util.UnknownClassError
		if !errors.As(err, &cerr) || cerr.Class != "vlab_nonexistent" {
			t.Fatalf("err = %v, want UnknownClassError", err)
		}
	})

	t.Run("not allowed", func(t *testing.T) {
		err := tr.Run(ctx, "trent", testClass+":12345")
		var aerr *util.UnauthorizedError
		if !errors.As(err, &aerr) {
			t.Fatalf("err = %v, want UnauthorizedError", err)
		}
	})

	t.Run("serial needs overlord", func(t *testing.T) {
		err := tr.Run(ctx, "alice", testClass+":12345:"+testSerial)
		var oerr *util.OverlordRequiredError
		if !errors.As(err, &oerr) {
			t.Fatalf("err = %v, want OverlordRequiredError", err)
		}
	})

	t.Run("bad argument", func(t *testing.T) {
		if err := tr.Run(ctx, "alice", "gibberish"); !errors.Is(err, ErrBadRequest) {
			t.Fatalf("err = %v, want ErrBadRequest", err)
		}
	})
}

func TestShellHappyPath(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, true)
	testutil.SeedUser(t, tr.store, "alice", false, testClass)

	if err := tr.Run(ctx, "alice", testClass+":12345"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := tr.out.String()
	order := []string{
		"Requesting least-recently-unlocked board of class 'vlab_zybo-z7'...",
		"Locked board '210351A77F75' of type 'vlab_zybo-z7' for user 'alice'",
		"YOUR EXCLUSIVE BOARD LOCK EXPIRES ON",
		"Restarting target container...",
		"Connecting to board server...",
		"Resetting board...",
		"User disconnected. Cleaning up...",
		"Releasing lock...",
		"Disconnected successfully.",
	}
	pos := -1
	for _, msg := range order {
		idx := strings.Index(out, msg)
		if idx < 0 {
			t.Fatalf("output missing %q:\n%s", msg, out)
		}
		if idx < pos {
			t.Fatalf("output out of order at %q:\n%s", msg, out)
		}
		pos = idx
	}

	if got := tr.control.restartCount(); got != 1 {
		t.Fatalf("restarts = %d, want 1", got)
	}
	// Reset runs before attach and again on teardown.
	if got := tr.control.resetCount(); got != 2 {
		t.Fatalf("resets = %d, want 2", got)
	}
	spec := tr.control.attaches[0]
	if spec.Server != testServer || spec.Port != testPort || spec.TunnelPort != 12345 {
		t.Fatalf("attach spec = %+v", spec)
	}
	if want := tr.clock.Now().Add(lease.MaxLockTime); !spec.LockExpiry.Equal(want) {
		t.Fatalf("attach expiry = %v, want %v", spec.LockExpiry, want)
	}

	if _, ok, _ := tr.coord.LockOf(ctx, testSerial); ok {
		t.Fatal("lock keys survived teardown")
	}
	if _, ok, _ := tr.coord.SessionOf(ctx, testSerial); ok {
		t.Fatal("session keys survived teardown")
	}
	if _, ok, _ := tr.coord.InUnlocked(ctx, testSerial, testClass); !ok {
		t.Fatal("board not returned to unlocked pool")
	}
	if _, ok, _ := tr.coord.InAvailable(ctx, testSerial, testClass); !ok {
		t.Fatal("board not returned to available pool")
	}

	stats, err := accesslog.NewParser(tr.logPath).Stats()
	if err != nil {
		t.Fatalf("parsing access log: %v", err)
	}
	if stats.TotalSessions != 1 {
		t.Fatalf("logged sessions = %d, want 1", stats.TotalSessions)
	}
}

func TestShellReusesHeldBoard(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, false)
	testutil.SeedUser(t, tr.store, "alice", false, testClass)

	earlier := tr.clock.Now().Add(-5 * time.Minute)
	if err := tr.coord.StartSession(ctx, testSerial, testClass, "alice", earlier); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := tr.Run(ctx, "alice", testClass+":12345"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := tr.out.String()
	if !strings.Contains(out, "You already have an active session, reusing board '210351A77F75'.") {
		t.Fatalf("missing reuse message:\n%s", out)
	}
	if strings.Contains(out, "Requesting least-recently-unlocked") {
		t.Fatalf("reuse path went through allocation:\n%s", out)
	}
	// Reuse still provisions a fresh container.
	if got := tr.control.restartCount(); got != 1 {
		t.Fatalf("restarts = %d, want 1", got)
	}
}

func TestShellNoFreeBoards(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, false)
	testutil.SeedUser(t, tr.store, "alice", false, testClass)
	testutil.SeedUser(t, tr.store, "bob", false, testClass)

	// bob holds the only board.
	if err := tr.coord.StartSession(ctx, testSerial, testClass, "bob", tr.clock.Now()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	err := tr.Run(ctx, "alice", testClass+":12345")
	var nerr *util.NoFreeBoardsError
	if !errors.As(err, &nerr) || nerr.Class != testClass {
		t.Fatalf("err = %v, want NoFreeBoardsError", err)
	}
	if held, _ := tr.coord.LockingHeld(ctx, testClass); held {
		t.Fatal("allocation token not cleared after failure")
	}

	stats, perr := accesslog.NewParser(tr.logPath).Stats()
	if perr != nil {
		t.Fatalf("parsing access log: %v", perr)
	}
	if stats.TotalDenials != 1 {
		t.Fatalf("logged denials = %d, want 1", stats.TotalDenials)
	}
}

func TestShellSpecificSerial(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, false)
	testutil.SeedUser(t, tr.store, "olivia", true)
	testutil.SeedUser(t, tr.store, "bob", false, testClass)

	t.Run("locked by someone else", func(t *testing.T) {
		if err := tr.coord.StartSession(ctx, testSerial, testClass, "bob", tr.clock.Now()); err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		err := tr.Run(ctx, "olivia", testClass+":12345:"+testSerial)
		var berr *util.BoardLockedError
		if !errors.As(err, &berr) || berr.Owner != "bob" {
			t.Fatalf("err = %v, want BoardLockedError owned by bob", err)
		}
	})

	t.Run("unknown serial", func(t *testing.T) {
		err := tr.Run(ctx, "olivia", testClass+":12345:FFFFFFFF")
		var uerr *util.UnknownBoardError
		if !errors.As(err, &uerr) {
			t.Fatalf("err = %v, want UnknownBoardError", err)
		}
	})

	t.Run("free board is claimed", func(t *testing.T) {
		if err := tr.coord.EndSession(ctx, testSerial, testClass); err != nil {
			t.Fatalf("EndSession: %v", err)
		}
		if err := tr.coord.UnlockBoard(ctx, testSerial, testClass); err != nil {
			t.Fatalf("UnlockBoard: %v", err)
		}
		tr.out.Reset()
		if err := tr.Run(ctx, "olivia", testClass+":12345:"+testSerial); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if strings.Contains(tr.out.String(), "Requesting least-recently-unlocked") {
			t.Fatalf("serial request went through class allocation:\n%s", tr.out.String())
		}
	})
}

func TestShellProvisionFailureReleases(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, false)
	testutil.SeedUser(t, tr.store, "alice", false, testClass)
	tr.control.restartErr = errors.New("host agent unreachable")

	err := tr.Run(ctx, "alice", testClass+":12345")
	if err == nil || !strings.Contains(err.Error(), "host agent unreachable") {
		t.Fatalf("err = %v, want host agent failure", err)
	}

	if _, ok, _ := tr.coord.LockOf(ctx, testSerial); ok {
		t.Fatal("lock keys survived failed provisioning")
	}
	if _, ok, _ := tr.coord.InUnlocked(ctx, testSerial, testClass); !ok {
		t.Fatal("board not returned to unlocked pool")
	}
	if _, ok, _ := tr.coord.InAvailable(ctx, testSerial, testClass); !ok {
		t.Fatal("board not returned to available pool")
	}
}

func TestKeepaliveGivesUpExpiredLock(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, false)
	testutil.SeedUser(t, tr.store, "alice", false, testClass)
	tr.control.block = true

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(runCtx, "alice", testClass+":12345") }()

	select {
	case <-tr.control.started:
	case <-time.After(5 * time.Second):
		t.Fatal("attach never started")
	}
	start := tr.clock.Now()
	tr.clock.Set(start.Add(lease.MaxLockTime + time.Minute))

	waitFor(t, func() bool {
		_, ok, err := tr.coord.LockOf(ctx, testSerial)
		return err == nil && !ok
	}, "lock was not given up after expiry")

	// The session itself lives on until someone takes the board.
	sess, ok, err := tr.coord.SessionOf(ctx, testSerial)
	if err != nil || !ok || sess.User != "alice" {
		t.Fatalf("session after expiry = %+v ok=%v err=%v", sess, ok, err)
	}
	if _, ok, _ := tr.coord.InUnlocked(ctx, testSerial, testClass); !ok {
		t.Fatal("board not offered back to unlocked pool")
	}
	if _, ok, _ := tr.coord.InAvailable(ctx, testSerial, testClass); ok {
		t.Fatal("board must stay out of available while the session runs")
	}

	cancelRun()
	err = <-errc
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	// Teardown ended the session, so the board is fully idle again.
	if _, ok, _ := tr.coord.SessionOf(ctx, testSerial); ok {
		t.Fatal("session keys survived teardown")
	}
	if _, ok, _ := tr.coord.InAvailable(ctx, testSerial, testClass); !ok {
		t.Fatal("board not returned to available pool")
	}
}

func TestKeepalivePreemption(t *testing.T) {
	ctx := testutil.Context(t)
	tr := newTestRelay(t)
	tr.seedBoard(t, false)
	testutil.SeedUser(t, tr.store, "alice", false, testClass)
	tr.control.block = true

	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx, "alice", testClass+":12345") }()

	select {
	case <-tr.control.started:
	case <-time.After(5 * time.Second):
		t.Fatal("attach never started")
	}

	// Another session takes the board over.
	takeover := tr.clock.Now().Add(time.Second)
	if err := tr.coord.StartSession(ctx, testSerial, testClass, "bob", takeover); err != nil {
		t.Fatalf("takeover StartSession: %v", err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run after preemption: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("preempted session never terminated")
	}

	if !strings.Contains(tr.out.String(), "Your lock has expired and the board has been allocated to another user.") {
		t.Fatalf("missing preemption notice:\n%s", tr.out.String())
	}
	lock, ok, err := tr.coord.LockOf(ctx, testSerial)
	if err != nil || !ok || lock.User != "bob" {
		t.Fatalf("lock after preemption = %+v ok=%v err=%v, want bob's", lock, ok, err)
	}
	sess, ok, err := tr.coord.SessionOf(ctx, testSerial)
	if err != nil || !ok || sess.User != "bob" {
		t.Fatalf("session after preemption = %+v ok=%v err=%v, want bob's", sess, ok, err)
	}
	// The loser's teardown must not have freed bob's board.
	if _, ok, _ := tr.coord.InAvailable(ctx, testSerial, testClass); ok {
		t.Fatal("preempted teardown returned bob's board to available")
	}
	if _, ok, _ := tr.coord.InUnlocked(ctx, testSerial, testClass); ok {
		t.Fatal("preempted teardown returned bob's board to unlocked")
	}
}

func TestScreenCommand(t *testing.T) {
	spec := AttachSpec{
		Server:     testServer,
		Port:       testPort,
		TunnelPort: 12345,
		User:       "alice",
		Class:      testClass,
		Serial:     testSerial,
		LockExpiry: time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC),
	}
	cmd := screenCommand(spec)

	for _, want := range []string{
		`defhstatus "vlab_zybo-z7 (VLAB Shell)"`,
		`caption string " VLAB Shell [ User: alice | Lock expires: 02/03/26 at 10:10:00 UTC | Board class: vlab_zybo-z7 | Board serial: 210351A77F75 | Server: bh001.cs.york.ac.uk ]"`,
		"screen -c /vlab/vlabscreenrc -qdRR - /dev/ttyFPGA 115200",
		"killall -q screen",
		"pkill -SIGINT -nx sshd",
	} {
		if !strings.Contains(cmd, want) {
			t.Fatalf("screen command missing %q:\n%s", want, cmd)
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
