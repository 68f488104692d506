package accesslog

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04:05,000"
	hourLayout      = "2006-01-02 15:04"

	// The dashboard shows recent history only.
	hourlyWindow = 7 * 24 * time.Hour
	maxSessions  = 100
	maxDenials   = 50
)

var (
	lineRE    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d+)\s*;\s*(\w+)\s*;\s*(\S+)\s*;(.*)$`)
	startRE   = regexp.MustCompile(`^START:\s*(\S+),\s*(\S+):(\S+)`)
	lockRE    = regexp.MustCompile(`^LOCK:\s*(\S+),\s*(\S+):(\S+),\s*(\d+)\s+remaining in set`)
	releaseRE = regexp.MustCompile(`^RELEASE:\s*(\S+),\s*(\S+):(\S+)`)
	endRE     = regexp.MustCompile(`^END:\s*(\S+),\s*(\S+):(\S+)`)
	noFreeRE  = regexp.MustCompile(`^NOFREEBOARDS:\s*(\S+),\s*(\S+)`)
)

// SessionRecord is a completed START/END pairing.
type SessionRecord struct {
	User     string    `json:"user"`
	Class    string    `json:"boardclass"`
	Serial   string    `json:"serial"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration float64   `json:"duration_s"`
}

// HourCount is the number of leases taken in one hour bucket.
type HourCount struct {
	Hour  string `json:"hour"`
	Locks int    `json:"locks"`
}

// UserStats aggregates one user's completed sessions.
type UserStats struct {
	User      string  `json:"user"`
	Count     int     `json:"count"`
	TotalTime float64 `json:"total_time_s"`
	AvgTime   float64 `json:"avg_time_s"`
}

// Denial is one NOFREEBOARDS event.
type Denial struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Class     string    `json:"boardclass"`
}

// Stats is everything the dashboard derives from the access log.
type Stats struct {
	Sessions      []SessionRecord `json:"sessions"`
	Hourly        []HourCount     `json:"hourly"`
	Users         []UserStats     `json:"users"`
	Denials       []Denial        `json:"denials"`
	DenialsToday  int             `json:"denials_today"`
	TotalSessions int             `json:"total_sessions"`
	TotalDenials  int             `json:"total_denials"`
}

// Parser scans the access log and aggregates usage statistics, caching by
// file mtime and size so the dashboard can poll cheaply. Lines that match
// no event pattern are noise and skipped.
type Parser struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	mtime  time.Time
	size   int64
	cached *Stats
}

// NewParser returns a Parser over the given log path.
func NewParser(path string) *Parser {
	return &Parser{path: path, now: time.Now}
}

// NewParserWithClock returns a Parser with an injected time source.
func NewParserWithClock(path string, now func() time.Time) *Parser {
	return &Parser{path: path, now: now}
}

// Stats parses the log, or returns the cached result when the file has not
// changed. A missing log file yields empty statistics, not an error.
func (p *Parser) Stats() (*Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return emptyStats(), nil
	}
	if p.cached != nil && info.ModTime().Equal(p.mtime) && info.Size() == p.size {
		return p.cached, nil
	}

	stats, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.mtime = info.ModTime()
	p.size = info.Size()
	p.cached = stats
	return stats, nil
}

func emptyStats() *Stats {
	return &Stats{
		Sessions: []SessionRecord{},
		Hourly:   []HourCount{},
		Users:    []UserStats{},
		Denials:  []Denial{},
	}
}

type sessionKey struct {
	user  string
	class string
}

type openSession struct {
	start  time.Time
	serial string
}

func (p *Parser) parse() (*Stats, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return emptyStats(), nil
	}
	defer file.Close()

	open := make(map[sessionKey]openSession)
	var completed []SessionRecord
	var denials []Denial
	hourly := make(map[string]int)
	userCount := make(map[string]int)
	userTotal := make(map[string]float64)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		m := lineRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		ts, err := time.Parse(timestampLayout, m[1])
		if err != nil {
			continue
		}
		message := strings.TrimSpace(m[4])

		if sm := startRE.FindStringSubmatch(message); sm != nil {
			open[sessionKey{sm[1], sm[2]}] = openSession{start: ts, serial: sm[3]}
			continue
		}
		if lm := lockRE.FindStringSubmatch(message); lm != nil {
			hourly[ts.Format("2006-01-02 15:00")]++
			continue
		}
		if releaseRE.MatchString(message) {
			// A release only ends the lease; the session may continue.
			continue
		}
		if em := endRE.FindStringSubmatch(message); em != nil {
			key := sessionKey{em[1], em[2]}
			sess, ok := open[key]
			if !ok {
				continue
			}
			delete(open, key)
			duration := ts.Sub(sess.start).Seconds()
			if duration < 0 {
				duration = 0
			}
			completed = append(completed, SessionRecord{
				User:     em[1],
				Class:    em[2],
				Serial:   em[3],
				Start:    sess.start,
				End:      ts,
				Duration: duration,
			})
			userCount[em[1]]++
			userTotal[em[1]] += duration
			continue
		}
		if nm := noFreeRE.FindStringSubmatch(message); nm != nil {
			denials = append(denials, Denial{Timestamp: ts, User: nm[1], Class: nm[2]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning access log: %w", err)
	}

	return p.aggregate(completed, denials, hourly, userCount, userTotal), nil
}

func (p *Parser) aggregate(completed []SessionRecord, denials []Denial, hourly map[string]int, userCount map[string]int, userTotal map[string]float64) *Stats {
	now := p.now()

	users := make([]UserStats, 0, len(userCount))
	names := make([]string, 0, len(userCount))
	for name := range userCount {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		count := userCount[name]
		total := userTotal[name]
		users = append(users, UserStats{
			User:      name,
			Count:     count,
			TotalTime: total,
			AvgTime:   total / float64(count),
		})
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].TotalTime > users[j].TotalTime })

	cutoff := now.Add(-hourlyWindow)
	hours := make([]string, 0, len(hourly))
	for hour := range hourly {
		hours = append(hours, hour)
	}
	sort.Strings(hours)
	buckets := make([]HourCount, 0, len(hours))
	for _, hour := range hours {
		t, err := time.Parse(hourLayout, hour)
		if err != nil {
			continue
		}
		if !t.Before(cutoff) {
			buckets = append(buckets, HourCount{Hour: hour, Locks: hourly[hour]})
		}
	}

	today := now.Format("2006-01-02")
	denialsToday := 0
	for _, d := range denials {
		if d.Timestamp.Format("2006-01-02") == today {
			denialsToday++
		}
	}

	stats := &Stats{
		Sessions:      tail(completed, maxSessions),
		Hourly:        buckets,
		Users:         users,
		Denials:       tail(denials, maxDenials),
		DenialsToday:  denialsToday,
		TotalSessions: len(completed),
		TotalDenials:  len(denials),
	}
	return stats
}

func tail[T any](s []T, n int) []T {
	if s == nil {
		return []T{}
	}
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
