package janitor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/RTSYork/VLAB/pkg/container"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// snippetLen bounds how much serial output a failure message carries.
const snippetLen = 200

type testOutcome int

const (
	outcomeSkipped testOutcome = iota
	outcomePassed
	outcomeFailed
)

// RunHardwareTests programs the self-test design onto every idle board and
// checks the UART for the expected magic string. A store-wide lease keeps
// concurrent janitors from testing the same lab twice; boards that fail
// stay out of the pools until a later run passes them.
func (j *Janitor) RunHardwareTests(ctx context.Context) error {
	got, err := j.coord.AcquireHwTestRun(ctx)
	if err != nil {
		return err
	}
	if !got {
		util.Infof("Hardware test already running elsewhere. Skipping this run.")
		return nil
	}
	defer func() {
		if err := j.coord.ReleaseHwTestRun(ctx); err != nil {
			util.Warnf("Failed to release hardware test lease: %v", err)
		}
	}()

	classes, err := j.coord.Classes(ctx)
	if err != nil {
		return err
	}
	sort.Strings(classes)
	var passed, failed, skipped int
	for _, class := range classes {
		serials, err := j.coord.BoardsOfClass(ctx, class)
		if err != nil {
			return err
		}
		sort.Strings(serials)
		for _, serial := range serials {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := j.testBoard(ctx, class, serial)
			if err != nil {
				util.WithBoard(serial).Warnf("Hardware test errored: %v", err)
				skipped++
				continue
			}
			switch outcome {
			case outcomePassed:
				passed++
			case outcomeFailed:
				failed++
			default:
				skipped++
			}
		}
	}
	util.Infof("Hardware test complete: %d tested (%d pass, %d fail), %d skipped", passed+failed, passed, failed, skipped)
	if err := j.coord.RecordHwTestRun(ctx); err != nil {
		util.Warnf("Recording hardware test run: %v", err)
	}
	return nil
}

func (j *Janitor) testBoard(ctx context.Context, class, serial string) (testOutcome, error) {
	server, port, err := j.coord.BoardDetails(ctx, serial)
	if err != nil {
		return outcomeSkipped, err
	}
	idle, err := j.boardIdle(ctx, serial)
	if err != nil {
		return outcomeSkipped, err
	}
	if !idle {
		util.WithBoard(serial).Debug("Board in use. Skipping hardware test.")
		return outcomeSkipped, nil
	}
	wasInPool, err := j.coord.WithdrawBoard(ctx, serial, class)
	if err != nil {
		return outcomeSkipped, err
	}
	if !wasInPool {
		// Out of the pools with no lock or session means either a user
		// claimed it between the idle check and the withdraw, or an
		// earlier run failed it. Only the failed case gets retested.
		prev, ok, err := j.coord.HwTestOf(ctx, serial)
		if err != nil {
			return outcomeSkipped, err
		}
		if !ok || prev.Status != lease.HwTestFail {
			util.WithBoard(serial).Debug("Board claimed mid-check. Skipping hardware test.")
			return outcomeSkipped, nil
		}
	}
	if err := j.coord.MarkTesting(ctx, serial); err != nil {
		return outcomeSkipped, err
	}
	defer func() {
		if err := j.coord.ClearTesting(ctx, serial); err != nil {
			util.WithBoard(serial).Warnf("Failed to clear testing marker: %v", err)
		}
	}()

	status, message := j.runTest(ctx, server, port)
	if err := j.coord.RecordHwTest(ctx, serial, status, message, j.now()); err != nil {
		return outcomeSkipped, err
	}
	j.resetIfFlagged(ctx, serial, server, port)
	if status != lease.HwTestPass {
		util.WithBoard(serial).Warnf("Hardware test failed: %s", message)
		return outcomeFailed, nil
	}
	util.WithBoard(serial).Info("Hardware test passed.")
	return outcomePassed, j.coord.ActivateBoard(ctx, serial, class, j.now())
}

// boardIdle reports whether nobody holds the board in any form.
func (j *Janitor) boardIdle(ctx context.Context, serial string) (bool, error) {
	hasLock, err := j.coord.HasLockKeys(ctx, serial)
	if err != nil {
		return false, err
	}
	if hasLock {
		return false, nil
	}
	hasSession, err := j.coord.HasSessionKeys(ctx, serial)
	if err != nil {
		return false, err
	}
	return !hasSession, nil
}

// runTest executes the self-test on the board's container and turns the
// outcome into a verdict. Programming failures and missing magic are both
// failures; the message says which.
func (j *Janitor) runTest(ctx context.Context, server string, port int) (status, message string) {
	output, err := j.remote.RunTest(ctx, server, port)
	if err != nil {
		return lease.HwTestFail, fmt.Sprintf("Programming failed: %v", err)
	}
	if strings.Contains(output, container.TestMagic) {
		return lease.HwTestPass, "OK"
	}
	snippet := output
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	snippet = strings.ReplaceAll(snippet, "\n", "\\n")
	return lease.HwTestFail, fmt.Sprintf("Expected '%s' in serial output, got: '%s'", container.TestMagic, snippet)
}
