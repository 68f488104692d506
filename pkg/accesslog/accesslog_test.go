package accesslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestWriterFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	w, err := NewWriter(path, "vlabsh")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	w.Start("alice", "vlab_zybo-z7", "210351A77F75")
	w.Lock("alice", "vlab_zybo-z7", "210351A77F75", 3)
	w.Ping("alice", "vlab_zybo-z7", "210351A77F75") // suppressed at info level
	w.Release("alice", "vlab_zybo-z7", "210351A77F75")
	w.End("alice", "vlab_zybo-z7", "210351A77F75")
	w.NoFreeBoards("bob", "vlab_nexys4")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, path)
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5 (ping suppressed): %q", len(lines), lines)
	}
	wantSuffixes := []string{
		" ; INFO ; vlabsh ; START: alice, vlab_zybo-z7:210351A77F75",
		" ; INFO ; vlabsh ; LOCK: alice, vlab_zybo-z7:210351A77F75, 3 remaining in set",
		" ; INFO ; vlabsh ; RELEASE: alice, vlab_zybo-z7:210351A77F75",
		" ; INFO ; vlabsh ; END: alice, vlab_zybo-z7:210351A77F75",
		" ; CRITICAL ; vlabsh ; NOFREEBOARDS: bob, vlab_nexys4",
	}
	for i, suffix := range wantSuffixes {
		if !strings.HasSuffix(lines[i], suffix) {
			t.Errorf("line %d = %q, want suffix %q", i, lines[i], suffix)
		}
		if lineRE.FindStringSubmatch(lines[i]) == nil {
			t.Errorf("line %d does not match the log line format: %q", i, lines[i])
		}
	}
}

func TestWriterDebugPing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	w, err := NewWriter(path, "vlabsh")
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebug(true)
	w.Ping("alice", "vlab_zybo-z7", "210351A77F75")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 || !strings.HasSuffix(lines[0], " ; DEBUG ; vlabsh ; PING: alice, vlab_zybo-z7:210351A77F75") {
		t.Errorf("ping line = %q", lines)
	}
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fixedNow() time.Time {
	return time.Date(2026, 2, 16, 22, 0, 0, 0, time.UTC)
}

func TestParserStats(t *testing.T) {
	path := writeLog(t,
		"2026-02-16 20:00:00,000 ; INFO ; vlabsh ; START: ian, vlab_zybo-z7:210351A77F75",
		"2026-02-16 20:00:00,100 ; INFO ; vlabsh ; LOCK: ian, vlab_zybo-z7:210351A77F75, 3 remaining in set",
		"this line is noise and must be skipped",
		"2026-02-16 20:10:00,000 ; INFO ; vlabsh ; RELEASE: ian, vlab_zybo-z7:210351A77F75",
		"2026-02-16 20:30:00,000 ; INFO ; vlabsh ; END: ian, vlab_zybo-z7:210351A77F75",
		"2026-02-16 21:00:00,000 ; INFO ; vlabsh ; START: alice, vlab_zybo-z7:210351A77F99",
		"2026-02-16 21:05:00,000 ; INFO ; vlabsh ; LOCK: alice, vlab_zybo-z7:210351A77F99, 2 remaining in set",
		"2026-02-16 21:15:00,000 ; INFO ; vlabsh ; END: alice, vlab_zybo-z7:210351A77F99",
		"2026-02-16 21:20:00,000 ; CRITICAL ; vlabsh ; NOFREEBOARDS: bob, vlab_nexys4",
		"2026-02-16 21:30:00,000 ; INFO ; vlabsh ; START: carol, vlab_zybo-z7:210351A77FAA",
		"2026-02-01 10:00:00,000 ; INFO ; vlabsh ; LOCK: old, vlab_zybo-z7:OLDSERIAL, 1 remaining in set",
	)
	p := NewParserWithClock(path, fixedNow)

	stats, err := p.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if stats.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d", stats.TotalSessions)
	}
	if len(stats.Sessions) != 2 {
		t.Fatalf("Sessions = %+v", stats.Sessions)
	}
	first := stats.Sessions[0]
	if first.User != "ian" || first.Serial != "210351A77F75" || first.Duration != 1800 {
		t.Errorf("first session = %+v (release must not end the session)", first)
	}
	second := stats.Sessions[1]
	if second.User != "alice" || second.Duration != 900 {
		t.Errorf("second session = %+v", second)
	}

	if len(stats.Users) != 2 || stats.Users[0].User != "ian" || stats.Users[1].User != "alice" {
		t.Fatalf("Users = %+v, expected ian first by total time", stats.Users)
	}
	if stats.Users[0].TotalTime != 1800 || stats.Users[0].Count != 1 || stats.Users[0].AvgTime != 1800 {
		t.Errorf("ian stats = %+v", stats.Users[0])
	}

	// The 2026-02-01 bucket is outside the 7 day window.
	if len(stats.Hourly) != 2 {
		t.Fatalf("Hourly = %+v", stats.Hourly)
	}
	if stats.Hourly[0].Hour != "2026-02-16 20:00" || stats.Hourly[0].Locks != 1 {
		t.Errorf("first bucket = %+v", stats.Hourly[0])
	}
	if stats.Hourly[1].Hour != "2026-02-16 21:00" || stats.Hourly[1].Locks != 1 {
		t.Errorf("second bucket = %+v", stats.Hourly[1])
	}

	if stats.TotalDenials != 1 || len(stats.Denials) != 1 || stats.DenialsToday != 1 {
		t.Errorf("denials = %d today %d list %+v", stats.TotalDenials, stats.DenialsToday, stats.Denials)
	}
	if stats.Denials[0].User != "bob" || stats.Denials[0].Class != "vlab_nexys4" {
		t.Errorf("denial = %+v", stats.Denials[0])
	}
}

func TestParserClampsNegativeDuration(t *testing.T) {
	path := writeLog(t,
		"2026-02-16 19:00:00,000 ; INFO ; vlabsh ; START: dave, vlab_nexys4:X1",
		"2026-02-16 18:59:00,000 ; INFO ; vlabsh ; END: dave, vlab_nexys4:X1",
	)
	stats, err := NewParserWithClock(path, fixedNow).Stats()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.Sessions) != 1 || stats.Sessions[0].Duration != 0 {
		t.Errorf("sessions = %+v, expected one zero-duration session", stats.Sessions)
	}
}

func TestParserUnpairedEndIgnored(t *testing.T) {
	path := writeLog(t,
		"2026-02-16 19:00:00,000 ; INFO ; vlabsh ; END: eve, vlab_nexys4:X1",
	)
	stats, err := NewParserWithClock(path, fixedNow).Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalSessions != 0 {
		t.Errorf("TotalSessions = %d, END without START must not count", stats.TotalSessions)
	}
}

func TestParserCacheInvalidation(t *testing.T) {
	path := writeLog(t,
		"2026-02-16 20:00:00,000 ; INFO ; vlabsh ; START: ian, vlab_zybo-z7:210351A77F75",
		"2026-02-16 20:30:00,000 ; INFO ; vlabsh ; END: ian, vlab_zybo-z7:210351A77F75",
	)
	p := NewParserWithClock(path, fixedNow)

	s1, err := p.Stats()
	if err != nil {
		t.Fatal(err)
	}
	s2, err := p.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("unchanged file must serve the cached result")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("2026-02-16 21:00:00,000 ; INFO ; vlabsh ; START: alice, vlab_zybo-z7:210351A77F99\n")
	f.WriteString("2026-02-16 21:15:00,000 ; INFO ; vlabsh ; END: alice, vlab_zybo-z7:210351A77F99\n")
	f.Close()

	s3, err := p.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s3 == s2 {
		t.Error("grown file must be re-parsed")
	}
	if s3.TotalSessions != 2 {
		t.Errorf("TotalSessions after append = %d", s3.TotalSessions)
	}
}

func TestParserMissingFile(t *testing.T) {
	p := NewParser(filepath.Join(t.TempDir(), "absent.log"))
	stats, err := p.Stats()
	if err != nil {
		t.Fatalf("missing file must not be an error, got %v", err)
	}
	if stats.TotalSessions != 0 || stats.TotalDenials != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Sessions == nil || stats.Hourly == nil || stats.Users == nil || stats.Denials == nil {
		t.Error("empty stats must use empty slices, not nil")
	}
}
