// Package hostagent implements the board-host side of VLAB: reacting to
// udev attach and detach events, provisioning board containers, and keeping
// the control store's view of this host's boards current.
package hostagent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/container"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// Device symlinks appear a beat after the udev event that fires us, so
// resolution retries briefly before giving up.
const (
	deviceWaitAttempts = 10
	deviceWaitDelay    = 500 * time.Millisecond
)

const (
	// cronFile is written inside each container so the board re-registers
	// itself every minute, healing a flushed control store.
	cronFile = "/etc/cron.d/vlab-cron"
	// registerBinary is the re-register tool baked into the board image.
	registerBinary = "/vlab/vlabregister"
)

// Agent handles attach, detach, and restart for the boards plugged into
// this host. Operations on the same serial are serialized; different
// serials proceed in parallel.
type Agent struct {
	coord  *lease.Coordinator
	engine container.Engine
	cfg    config.BoardHostConfig
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an Agent driving the given coordinator and container engine.
func New(coord *lease.Coordinator, engine container.Engine, cfg config.BoardHostConfig) *Agent {
	return &Agent{
		coord:  coord,
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (a *Agent) serialLock(serial string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[serial]
	if !ok {
		l = &sync.Mutex{}
		a.locks[serial] = l
	}
	return l
}

// Attach provisions a freshly plugged-in board: fresh container, cron job,
// optional FPGA reset, then registration and activation in the store.
// Serials missing from the config document are ignored with a warning so
// udev does not retry them.
func (a *Agent) Attach(ctx context.Context, serial string) error {
	l := a.serialLock(serial)
	l.Lock()
	defer l.Unlock()

	meta, err := a.coord.KnownBoardMeta(ctx, serial)
	if err != nil {
		if errors.Is(err, util.ErrUnknownBoard) {
			util.WithBoard(serial).Warn("Board connected but not in the config document. Ignoring.")
			return nil
		}
		return err
	}

	port, err := a.provision(ctx, serial)
	if err != nil {
		return err
	}

	if meta.Reset {
		util.WithBoard(serial).Info("Resetting FPGA configuration.")
		if _, err := a.engine.Exec(ctx, container.Name(serial), container.ResetCommand); err != nil {
			return err
		}
	}

	hostname, err := a.hostname()
	if err != nil {
		return err
	}
	if err := a.coord.RegisterBoard(ctx, serial, meta.Class, hostname, port); err != nil {
		return err
	}
	if err := a.coord.ActivateBoard(ctx, serial, meta.Class, a.now()); err != nil {
		return err
	}
	util.WithBoard(serial).WithField("class", meta.Class).Infof("Board attached on port %d.", port)
	return nil
}

// Detach tears down a board's container and deregisters it everywhere.
// Both halves tolerate already-gone state, so a duplicate detach event is
// harmless.
func (a *Agent) Detach(ctx context.Context, serial string) error {
	l := a.serialLock(serial)
	l.Lock()
	defer l.Unlock()

	if err := a.engine.Remove(ctx, container.Name(serial)); err != nil {
		return err
	}
	if err := a.coord.RemoveBoard(ctx, serial); err != nil {
		return err
	}
	util.WithBoard(serial).Info("Board detached and deregistered.")
	return nil
}

// Restart destroys the board's container and provisions a fresh one, then
// records the new host port. The relay invokes this on behalf of users
// whose board has wedged; the board keeps its lease and session.
func (a *Agent) Restart(ctx context.Context, serial string) error {
	l := a.serialLock(serial)
	l.Lock()
	defer l.Unlock()

	known, err := a.coord.IsKnownBoard(ctx, serial)
	if err != nil {
		return err
	}
	if !known {
		return &util.UnknownBoardError{Serial: serial}
	}

	port, err := a.provision(ctx, serial)
	if err != nil {
		return err
	}
	if err := a.coord.SetBoardPort(ctx, serial, port); err != nil {
		return err
	}
	util.WithBoard(serial).Infof("Board restarted on port %d.", port)
	return nil
}

// provision replaces any container for the serial with a fresh one and
// returns the published SSH port. The cron job goes in before the port is
// reported so a half-provisioned container still heals itself.
func (a *Agent) provision(ctx context.Context, serial string) (int, error) {
	jtag, tty, err := a.resolveDevices(ctx, serial)
	if err != nil {
		return 0, err
	}

	name := container.Name(serial)
	if err := a.engine.Remove(ctx, name); err != nil {
		return 0, err
	}
	spec := container.RunSpec{
		Image:    a.cfg.Image,
		JTAGDev:  jtag,
		TTYDev:   tty,
		ToolsDir: a.cfg.ToolsDir,
	}
	if err := a.engine.Run(ctx, name, spec); err != nil {
		return 0, err
	}
	port, err := a.engine.HostPort(ctx, name)
	if err != nil {
		return 0, err
	}
	if err := a.installCron(ctx, serial, port); err != nil {
		return 0, err
	}
	return port, nil
}

func (a *Agent) installCron(ctx context.Context, serial string, port int) error {
	hostname, err := a.hostname()
	if err != nil {
		return err
	}
	line := fmt.Sprintf("* * * * * root %s %s %s %d %s",
		registerBinary, serial, hostname, port, a.cfg.Store.Addr)
	cmd := fmt.Sprintf("echo '%s' > %s", line, cronFile)
	_, err = a.engine.Exec(ctx, container.Name(serial), cmd)
	return err
}

// resolveDevices follows the udev-managed symlinks to the real device
// nodes. Docker rejects symlinks in --device, and the links may not exist
// yet when the attach event fires.
func (a *Agent) resolveDevices(ctx context.Context, serial string) (string, string, error) {
	dir := filepath.Join(a.cfg.DeviceDir, serial)
	var jtagErr, ttyErr error
	for attempt := 0; attempt < deviceWaitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(deviceWaitDelay):
			}
		}
		var jtag, tty string
		jtag, jtagErr = filepath.EvalSymlinks(filepath.Join(dir, "jtag"))
		tty, ttyErr = filepath.EvalSymlinks(filepath.Join(dir, "tty"))
		if jtagErr == nil && ttyErr == nil {
			return jtag, tty, nil
		}
	}
	err := jtagErr
	if err == nil {
		err = ttyErr
	}
	return "", "", fmt.Errorf("resolving devices for board %s: %w", serial, err)
}

func (a *Agent) hostname() (string, error) {
	if a.cfg.Hostname != "" {
		return a.cfg.Hostname, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("determining hostname: %w", err)
	}
	return hostname, nil
}

// Reassert refreshes a board's registration from inside its container: the
// class membership and server/port pair only. It never touches the pools,
// so a board mid-lease cannot reappear in them because its cron job fired.
// Serials missing from the config document are rejected.
func Reassert(ctx context.Context, coord *lease.Coordinator, serial, server string, port int) error {
	meta, err := coord.KnownBoardMeta(ctx, serial)
	if err != nil {
		return err
	}
	return coord.RegisterBoard(ctx, serial, meta.Class, server, port)
}
