// Package accesslog writes and parses the lab's append-only access log.
// The line format is fixed by deployed tooling: timestamp, level, source,
// and an event message, separated by " ; ".
package accesslog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Event names recorded in the log. START/END bracket a user's session,
// LOCK/RELEASE bracket the lease, NOFREEBOARDS records a denial.
const (
	EventStart        = "START"
	EventLock         = "LOCK"
	EventRelease      = "RELEASE"
	EventEnd          = "END"
	EventNoFreeBoards = "NOFREEBOARDS"
	EventPing         = "PING"
)

// lineFormatter renders entries as
// "2026-02-16 21:19:06,445 ; INFO ; vlabsh ; START: ian, vlab_zybo-z7:210351A77F75".
type lineFormatter struct {
	source string
}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format("2006-01-02 15:04:05,000")
	return []byte(fmt.Sprintf("%s ; %s ; %s ; %s\n", ts, levelName(entry.Level), f.source, entry.Message)), nil
}

func levelName(level logrus.Level) string {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARNING"
	default:
		return "CRITICAL"
	}
}

// Writer appends access events to the shared log file. Denials are logged
// at critical, pings at debug; pings are suppressed unless debug is on.
type Writer struct {
	log  *logrus.Logger
	file *os.File
}

// NewWriter opens (or creates) the access log for appending. The source
// tag is conventionally the writing program's name.
func NewWriter(path, source string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating access log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening access log: %w", err)
	}

	log := logrus.New()
	log.SetOutput(file)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&lineFormatter{source: source})

	return &Writer{log: log, file: file}, nil
}

// SetDebug toggles PING logging.
func (w *Writer) SetDebug(on bool) {
	if on {
		w.log.SetLevel(logrus.DebugLevel)
	} else {
		w.log.SetLevel(logrus.InfoLevel)
	}
}

// Close flushes and closes the log file.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Start records the beginning of a user's session on a board.
func (w *Writer) Start(user, class, serial string) {
	w.log.Infof("%s: %s, %s:%s", EventStart, user, class, serial)
}

// Lock records a taken lease and how many boards the class has left.
func (w *Writer) Lock(user, class, serial string, remaining int64) {
	w.log.Infof("%s: %s, %s:%s, %d remaining in set", EventLock, user, class, serial, remaining)
}

// Release records a lease being given back.
func (w *Writer) Release(user, class, serial string) {
	w.log.Infof("%s: %s, %s:%s", EventRelease, user, class, serial)
}

// End records the end of a user's session.
func (w *Writer) End(user, class, serial string) {
	w.log.Infof("%s: %s, %s:%s", EventEnd, user, class, serial)
}

// NoFreeBoards records a denied allocation.
func (w *Writer) NoFreeBoards(user, class string) {
	w.log.Errorf("%s: %s, %s", EventNoFreeBoards, user, class)
}

// Ping records a keepalive heartbeat. Debug only; most deployments never
// see these.
func (w *Writer) Ping(user, class, serial string) {
	w.log.Debugf("%s: %s, %s:%s", EventPing, user, class, serial)
}
