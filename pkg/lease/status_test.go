package lease

import (
	"testing"
	"time"

	"github.com/RTSYork/VLAB/internal/testutil"
	"github.com/RTSYork/VLAB/pkg/store"
)

func TestStatusProjection(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("available", func(t *testing.T) {
		c, s := coordinator(t)
		ctx := testutil.Context(t)
		testutil.SeedAttachedBoard(t, s, testSerial, testClass, "pc-a", 2201, 100)

		st, err := c.Status(ctx, testSerial, testClass)
		if err != nil {
			t.Fatal(err)
		}
		if st.Kind != StatusAvailable {
			t.Errorf("kind = %s, want %s", st.Kind, StatusAvailable)
		}
		if st.Lock != nil || st.Session != nil {
			t.Errorf("available board should carry no lease details: %+v", st)
		}
	})

	t.Run("in use locked", func(t *testing.T) {
		c, s := coordinator(t)
		ctx := testutil.Context(t)
		testutil.SeedAttachedBoard(t, s, testSerial, testClass, "pc-a", 2201, 100)
		if err := c.StartSession(ctx, testSerial, testClass, "alice", now); err != nil {
			t.Fatal(err)
		}

		st, err := c.Status(ctx, testSerial, testClass)
		if err != nil {
			t.Fatal(err)
		}
		if st.Kind != StatusInUseLocked {
			t.Errorf("kind = %s, want %s", st.Kind, StatusInUseLocked)
		}
		if st.Lock == nil || st.Lock.User != "alice" {
			t.Errorf("lock details missing: %+v", st.Lock)
		}
		if st.Session == nil || st.Session.User != "alice" {
			t.Errorf("session details missing: %+v", st.Session)
		}
	})

	t.Run("in use unlocked", func(t *testing.T) {
		c, s := coordinator(t)
		ctx := testutil.Context(t)
		testutil.SeedAttachedBoard(t, s, testSerial, testClass, "pc-a", 2201, 100)
		if err := c.StartSession(ctx, testSerial, testClass, "alice", now); err != nil {
			t.Fatal(err)
		}
		// Lease expiry returns the board to the unlocked pool while the
		// session carries on.
		if err := c.UnlockBoard(ctx, testSerial, testClass); err != nil {
			t.Fatal(err)
		}

		st, err := c.Status(ctx, testSerial, testClass)
		if err != nil {
			t.Fatal(err)
		}
		if st.Kind != StatusInUseUnlocked {
			t.Errorf("kind = %s, want %s", st.Kind, StatusInUseUnlocked)
		}
		if st.Lock != nil {
			t.Errorf("expired lease should carry no lock: %+v", st.Lock)
		}
		if st.Session == nil || st.Session.User != "alice" {
			t.Errorf("session details missing: %+v", st.Session)
		}
	})

	t.Run("hwtest failed", func(t *testing.T) {
		c, s := coordinator(t)
		ctx := testutil.Context(t)
		testutil.SeedAttachedBoard(t, s, testSerial, testClass, "pc-a", 2201, 100)
		// Withdrawn from circulation after a failed self-test.
		if _, err := s.ZRem(ctx, store.KeyClassAvailable(testClass), testSerial); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ZRem(ctx, store.KeyClassUnlocked(testClass), testSerial); err != nil {
			t.Fatal(err)
		}
		if err := c.RecordHwTest(ctx, testSerial, HwTestFail, "no test magic in output", now); err != nil {
			t.Fatal(err)
		}

		st, err := c.Status(ctx, testSerial, testClass)
		if err != nil {
			t.Fatal(err)
		}
		if st.Kind != StatusHwTestFailed {
			t.Errorf("kind = %s, want %s", st.Kind, StatusHwTestFailed)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		c, _ := coordinator(t)
		ctx := testutil.Context(t)

		st, err := c.Status(ctx, "mystery-serial", testClass)
		if err != nil {
			t.Fatal(err)
		}
		if st.Kind != StatusUnknown {
			t.Errorf("kind = %s, want %s", st.Kind, StatusUnknown)
		}
	})

	t.Run("half lock reads as unknown", func(t *testing.T) {
		c, s := coordinator(t)
		ctx := testutil.Context(t)
		testutil.SeedAttachedBoard(t, s, testSerial, testClass, "pc-a", 2201, 100)
		if err := c.StartSession(ctx, testSerial, testClass, "alice", now); err != nil {
			t.Fatal(err)
		}
		// Simulate a torn write: the time half of the lock is missing.
		if err := s.Del(ctx, store.KeyBoardLockTime(testSerial)); err != nil {
			t.Fatal(err)
		}
		if err := s.Del(ctx, store.KeyBoardSessionUser(testSerial)); err != nil {
			t.Fatal(err)
		}

		st, err := c.Status(ctx, testSerial, testClass)
		if err != nil {
			t.Fatal(err)
		}
		if st.Kind != StatusUnknown {
			t.Errorf("partial lease state should read as %s, got %s", StatusUnknown, st.Kind)
		}
	})
}

func TestHwTestRecords(t *testing.T) {
	c, _ := coordinator(t)
	ctx := testutil.Context(t)
	now := time.Unix(1700000000, 0)

	t.Run("absent", func(t *testing.T) {
		_, ok, err := c.HwTestOf(ctx, testSerial)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("no record should exist yet")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		if err := c.RecordHwTest(ctx, testSerial, HwTestPass, "", now); err != nil {
			t.Fatal(err)
		}
		ht, ok, err := c.HwTestOf(ctx, testSerial)
		if err != nil || !ok {
			t.Fatalf("HwTestOf = %v, %v", ok, err)
		}
		if ht.Status != HwTestPass || !ht.Time.Equal(now) || ht.Message != "" {
			t.Errorf("unexpected record: %+v", ht)
		}
	})

	t.Run("failure keeps message", func(t *testing.T) {
		if err := c.RecordHwTest(ctx, testSerial, HwTestFail, "bitstream load failed", now); err != nil {
			t.Fatal(err)
		}
		ht, ok, err := c.HwTestOf(ctx, testSerial)
		if err != nil || !ok {
			t.Fatalf("HwTestOf = %v, %v", ok, err)
		}
		if ht.Status != HwTestFail || ht.Message != "bitstream load failed" {
			t.Errorf("unexpected record: %+v", ht)
		}
	})
}

func TestHwTestMarkers(t *testing.T) {
	s, mr := testutil.NewStoreWithMini(t)
	c := New(s)
	ctx := testutil.Context(t)

	t.Run("testing marker expires", func(t *testing.T) {
		if err := c.MarkTesting(ctx, testSerial); err != nil {
			t.Fatal(err)
		}
		testing1, err := c.IsTesting(ctx, testSerial)
		if err != nil || !testing1 {
			t.Fatalf("IsTesting = %v, %v", testing1, err)
		}
		mr.FastForward(HwTestTestTTL + time.Second)
		testing2, err := c.IsTesting(ctx, testSerial)
		if err != nil {
			t.Fatal(err)
		}
		if testing2 {
			t.Error("marker should have expired")
		}
	})

	t.Run("run lease is exclusive", func(t *testing.T) {
		got, err := c.AcquireHwTestRun(ctx)
		if err != nil || !got {
			t.Fatalf("AcquireHwTestRun = %v, %v", got, err)
		}
		got, err = c.AcquireHwTestRun(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got {
			t.Error("second acquire should lose while a run is active")
		}

		running, err := c.HwTestRunning(ctx)
		if err != nil || !running {
			t.Fatalf("HwTestRunning = %v, %v", running, err)
		}

		if err := c.ReleaseHwTestRun(ctx); err != nil {
			t.Fatal(err)
		}
		got, err = c.AcquireHwTestRun(ctx)
		if err != nil || !got {
			t.Fatalf("acquire after release = %v, %v", got, err)
		}
	})

	t.Run("run lease expires", func(t *testing.T) {
		mr.FastForward(HwTestRunTTL + time.Minute)
		got, err := c.AcquireHwTestRun(ctx)
		if err != nil || !got {
			t.Fatalf("acquire after expiry = %v, %v", got, err)
		}
	})

	t.Run("trigger flag", func(t *testing.T) {
		triggered, err := c.HwTestTriggered(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if triggered {
			t.Error("no trigger should be pending")
		}
		if err := c.TriggerHwTest(ctx); err != nil {
			t.Fatal(err)
		}
		triggered, err = c.HwTestTriggered(ctx)
		if err != nil || !triggered {
			t.Fatalf("HwTestTriggered = %v, %v", triggered, err)
		}
		if err := c.ClearHwTestTrigger(ctx); err != nil {
			t.Fatal(err)
		}
		triggered, _ = c.HwTestTriggered(ctx)
		if triggered {
			t.Error("trigger should be consumed")
		}
	})
}

func TestConfigReloadFlag(t *testing.T) {
	s, mr := testutil.NewStoreWithMini(t)
	c := New(s)
	ctx := testutil.Context(t)

	requested, err := c.ConfigReloadRequested(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if requested {
		t.Error("no reload should be pending")
	}

	if err := c.RequestConfigReload(ctx); err != nil {
		t.Fatal(err)
	}
	requested, err = c.ConfigReloadRequested(ctx)
	if err != nil || !requested {
		t.Fatalf("ConfigReloadRequested = %v, %v", requested, err)
	}

	t.Run("consumed by the reloader", func(t *testing.T) {
		if err := c.ClearConfigReload(ctx); err != nil {
			t.Fatal(err)
		}
		requested, _ := c.ConfigReloadRequested(ctx)
		if requested {
			t.Error("flag should be cleared")
		}
	})

	t.Run("expires if nobody reloads", func(t *testing.T) {
		if err := c.RequestConfigReload(ctx); err != nil {
			t.Fatal(err)
		}
		mr.FastForward(ReloadFlagTTL + time.Second)
		requested, _ := c.ConfigReloadRequested(ctx)
		if requested {
			t.Error("flag should have expired")
		}
	})
}
