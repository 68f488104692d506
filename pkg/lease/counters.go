package lease

import (
	"context"
	"strconv"

	"github.com/RTSYork/VLAB/pkg/store"
)

// RecordSweep bumps the completed-sweep counter. The janitor calls it at
// the end of every pass so the dashboard can tell a quiet lab from a dead
// janitor.
func (c *Coordinator) RecordSweep(ctx context.Context) error {
	_, err := c.s.Incr(ctx, store.KeyStatsSweeps())
	return err
}

// SweepCount reads the completed-sweep counter.
func (c *Coordinator) SweepCount(ctx context.Context) (int64, error) {
	return c.counter(ctx, store.KeyStatsSweeps())
}

// RecordHwTestRun bumps the completed hardware-test-run counter.
func (c *Coordinator) RecordHwTestRun(ctx context.Context) error {
	_, err := c.s.Incr(ctx, store.KeyStatsHwTestRuns())
	return err
}

// HwTestRunCount reads the completed hardware-test-run counter.
func (c *Coordinator) HwTestRunCount(ctx context.Context) (int64, error) {
	return c.counter(ctx, store.KeyStatsHwTestRuns())
}

func (c *Coordinator) counter(ctx context.Context, key string) (int64, error) {
	v, ok, err := c.s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, convErr := strconv.ParseInt(v, 10, 64)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}
