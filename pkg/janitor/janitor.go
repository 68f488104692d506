// Package janitor keeps the lab healthy behind the users' backs: it
// sweeps up dead sessions and expired or half-written locks, probes that
// every attached board's container still answers, runs the periodic
// hardware self-test, and applies config reload requests. One janitor
// process runs per lab, on the relay host.
package janitor

import (
	"context"
	"time"

	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

const (
	// probeTimeout bounds one TCP reachability attempt.
	probeTimeout = 5 * time.Second
	// probeRetryDelay is how long a board gets to come back before the
	// second and final attempt.
	probeRetryDelay = 3 * time.Second
)

// Janitor runs the maintenance passes against one control store.
type Janitor struct {
	coord      *lease.Coordinator
	remote     Remote
	cfg        config.CheckConfig
	now        func() time.Time
	retryDelay time.Duration
}

// New builds a janitor around an established coordinator.
func New(coord *lease.Coordinator, remote Remote, cfg config.CheckConfig) *Janitor {
	return &Janitor{
		coord:      coord,
		remote:     remote,
		cfg:        cfg,
		now:        time.Now,
		retryDelay: probeRetryDelay,
	}
}

// Run drives the janitor until ctx ends: sweep and probe on one ticker,
// reload and trigger polling on a faster one, and hardware tests on
// their own period or when the trigger flag appears. Every pass failure
// is logged and the loop carries on; a broken store this minute does not
// stop the sweep next minute.
func (j *Janitor) Run(ctx context.Context) error {
	sweep := time.NewTicker(j.cfg.SweepInterval)
	defer sweep.Stop()
	poll := time.NewTicker(j.cfg.ReloadPoll)
	defer poll.Stop()
	hwtest := time.NewTicker(j.cfg.HwTestPeriod)
	defer hwtest.Stop()

	util.Infof("Janitor running: sweep every %s, hardware test every %s.",
		j.cfg.SweepInterval, j.cfg.HwTestPeriod)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			if err := j.SweepOnce(ctx); err != nil {
				util.Warnf("Sweep failed: %v", err)
			}
			if j.cfg.Probe {
				if err := j.ProbeOnce(ctx); err != nil {
					util.Warnf("Reachability probe failed: %v", err)
				}
			}
		case <-poll.C:
			if err := j.ReloadIfRequested(ctx); err != nil {
				util.Warnf("Config reload failed: %v", err)
			}
			triggered, err := j.coord.HwTestTriggered(ctx)
			if err != nil {
				util.Warnf("Hardware test trigger check failed: %v", err)
				continue
			}
			if triggered {
				if err := j.coord.ClearHwTestTrigger(ctx); err != nil {
					util.Warnf("Clearing hardware test trigger failed: %v", err)
				}
				if err := j.RunHardwareTests(ctx); err != nil {
					util.Warnf("Hardware test run failed: %v", err)
				}
			}
		case <-hwtest.C:
			if err := j.RunHardwareTests(ctx); err != nil {
				util.Warnf("Hardware test run failed: %v", err)
			}
		}
	}
}

// resetIfFlagged reprograms the FPGA when the board's config entry asks
// for it. Reset failures are logged and swallowed: the board is being
// repaired, and a failed reset must not stop the rest of the repair.
func (j *Janitor) resetIfFlagged(ctx context.Context, serial, server string, port int) {
	meta, err := j.coord.KnownBoardMeta(ctx, serial)
	if err != nil || !meta.Reset {
		return
	}
	if err := j.remote.ResetBoard(ctx, server, port); err != nil {
		util.WithBoard(serial).Warnf("FPGA reset failed: %v", err)
	}
}
