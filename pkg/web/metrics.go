package web

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/RTSYork/VLAB/pkg/accesslog"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

const scrapeTimeout = 10 * time.Second

var statusKinds = []lease.StatusKind{
	lease.StatusAvailable,
	lease.StatusInUseLocked,
	lease.StatusInUseUnlocked,
	lease.StatusHwTestFailed,
	lease.StatusUnknown,
}

// collector projects the control store and the access log into prometheus
// metrics at scrape time. Nothing is cached here: the store is the source
// of truth and a lab's board count keeps a scrape cheap.
type collector struct {
	coord  *lease.Coordinator
	parser *accesslog.Parser

	boards     *prometheus.Desc
	sessions   *prometheus.Desc
	denials    *prometheus.Desc
	sweeps     *prometheus.Desc
	hwtestRuns *prometheus.Desc
	storeUp    *prometheus.Desc
}

func newCollector(coord *lease.Coordinator, parser *accesslog.Parser) *collector {
	return &collector{
		coord:  coord,
		parser: parser,
		boards: prometheus.NewDesc("vlab_boards",
			"Boards by class and status.",
			[]string{"boardclass", "status"}, nil),
		sessions: prometheus.NewDesc("vlab_sessions_completed_total",
			"Completed sessions recorded in the access log.",
			nil, nil),
		denials: prometheus.NewDesc("vlab_denials_total",
			"NOFREEBOARDS denials recorded in the access log.",
			nil, nil),
		sweeps: prometheus.NewDesc("vlab_janitor_sweeps_total",
			"Completed janitor sweep passes.",
			nil, nil),
		hwtestRuns: prometheus.NewDesc("vlab_hwtest_runs_total",
			"Completed hardware test runs.",
			nil, nil),
		storeUp: prometheus.NewDesc("vlab_store_up",
			"Whether the control store answered the last scrape.",
			nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.boards
	ch <- c.sessions
	ch <- c.denials
	ch <- c.sweeps
	ch <- c.hwtestRuns
	ch <- c.storeUp
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	up := 1.0
	if err := c.collectBoards(ctx, ch); err != nil {
		util.Warnf("Metrics scrape: %v", err)
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(c.storeUp, prometheus.GaugeValue, up)

	if stats, err := c.parser.Stats(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.CounterValue, float64(stats.TotalSessions))
		ch <- prometheus.MustNewConstMetric(c.denials, prometheus.CounterValue, float64(stats.TotalDenials))
	} else {
		util.Warnf("Metrics scrape: %v", err)
	}

	if n, err := c.coord.SweepCount(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.sweeps, prometheus.CounterValue, float64(n))
	}
	if n, err := c.coord.HwTestRunCount(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.hwtestRuns, prometheus.CounterValue, float64(n))
	}
}

// collectBoards emits one gauge per class and status, zero-filled so the
// series never disappear between scrapes.
func (c *collector) collectBoards(ctx context.Context, ch chan<- prometheus.Metric) error {
	classes, err := c.coord.Classes(ctx)
	if err != nil {
		return err
	}
	for _, class := range classes {
		serials, err := c.coord.BoardsOfClass(ctx, class)
		if err != nil {
			return err
		}
		counts := make(map[lease.StatusKind]int, len(statusKinds))
		for _, serial := range serials {
			status, err := c.coord.Status(ctx, serial, class)
			if err != nil {
				return err
			}
			counts[status.Kind]++
		}
		for _, kind := range statusKinds {
			ch <- prometheus.MustNewConstMetric(c.boards, prometheus.GaugeValue,
				float64(counts[kind]), class, string(kind))
		}
	}
	return nil
}
