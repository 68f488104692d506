package web

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

// BoardView is one row of the /api/boards listing.
type BoardView struct {
	Serial string           `json:"serial"`
	Class  string           `json:"boardclass"`
	Server string           `json:"server"`
	Port   int              `json:"port"`
	Status lease.StatusKind `json:"status"`
	// User and the timestamps are present for the in-use states only.
	User         string     `json:"user,omitempty"`
	SessionStart *time.Time `json:"session_start,omitempty"`
	LockTime     *time.Time `json:"lock_time,omitempty"`
	DurationS    int64      `json:"duration_s,omitempty"`
}

// ClassSummary counts one class's boards by state. The in-use split comes
// from the pool cardinalities: a board freshly released sits in both pools
// for a moment, so in_use_unlocked is clamped to in_use rather than summed
// exactly. hwtest_failed is counted from the per-board projection.
type ClassSummary struct {
	Total         int64 `json:"total"`
	Available     int64 `json:"available"`
	InUse         int64 `json:"in_use"`
	InUseLocked   int64 `json:"in_use_locked"`
	InUseUnlocked int64 `json:"in_use_unlocked"`
	HwTestFailed  int64 `json:"hwtest_failed"`
}

func (c *ClassSummary) add(other ClassSummary) {
	c.Total += other.Total
	c.Available += other.Available
	c.InUse += other.InUse
	c.InUseLocked += other.InUseLocked
	c.InUseUnlocked += other.InUseUnlocked
	c.HwTestFailed += other.HwTestFailed
}

// BoardsResponse is the /api/boards payload.
type BoardsResponse struct {
	Boards    []BoardView             `json:"boards"`
	Summary   map[string]ClassSummary `json:"summary"`
	Totals    ClassSummary            `json:"totals"`
	Timestamp time.Time               `json:"timestamp"`
}

func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := BoardsResponse{
		Boards:    []BoardView{},
		Summary:   map[string]ClassSummary{},
		Timestamp: s.now().UTC(),
	}

	classes, err := s.coord.Classes(ctx)
	if err != nil {
		s.storeError(w, err)
		return
	}
	sort.Strings(classes)
	for _, class := range classes {
		summary, views, err := s.classBoards(ctx, class)
		if err != nil {
			s.storeError(w, err)
			return
		}
		resp.Summary[class] = summary
		resp.Boards = append(resp.Boards, views...)
		resp.Totals.add(summary)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) classBoards(ctx context.Context, class string) (ClassSummary, []BoardView, error) {
	total, err := s.coord.BoardCount(ctx, class)
	if err != nil {
		return ClassSummary{}, nil, err
	}
	available, err := s.coord.AvailableCount(ctx, class)
	if err != nil {
		return ClassSummary{}, nil, err
	}
	unlocked, err := s.coord.UnlockedCount(ctx, class)
	if err != nil {
		return ClassSummary{}, nil, err
	}
	inUse := total - available
	inUseUnlocked := unlocked
	if inUseUnlocked > inUse {
		inUseUnlocked = inUse
	}
	summary := ClassSummary{
		Total:         total,
		Available:     available,
		InUse:         inUse,
		InUseLocked:   inUse - inUseUnlocked,
		InUseUnlocked: inUseUnlocked,
	}

	serials, err := s.coord.BoardsOfClass(ctx, class)
	if err != nil {
		return ClassSummary{}, nil, err
	}
	sort.Strings(serials)
	views := make([]BoardView, 0, len(serials))
	for _, serial := range serials {
		view, ok, err := s.boardView(ctx, class, serial)
		if err != nil {
			return ClassSummary{}, nil, err
		}
		if !ok {
			continue
		}
		if view.Status == lease.StatusHwTestFailed {
			summary.HwTestFailed++
		}
		views = append(views, view)
	}
	return summary, views, nil
}

func (s *Server) boardView(ctx context.Context, class, serial string) (BoardView, bool, error) {
	server, port, err := s.coord.BoardDetails(ctx, serial)
	if err != nil {
		// A board detached between the set read and here is not an
		// outage; it just drops out of this response.
		var unknown *util.UnknownBoardError
		if errors.As(err, &unknown) {
			return BoardView{}, false, nil
		}
		return BoardView{}, false, err
	}
	status, err := s.coord.Status(ctx, serial, class)
	if err != nil {
		return BoardView{}, false, err
	}

	view := BoardView{
		Serial: serial,
		Class:  class,
		Server: server,
		Port:   port,
		Status: status.Kind,
	}
	now := s.now()
	switch {
	case status.Lock != nil:
		view.User = status.Lock.User
		lockTime := status.Lock.Time
		view.LockTime = &lockTime
		view.DurationS = int64(now.Sub(lockTime).Seconds())
	case status.Session != nil:
		view.User = status.Session.User
		start := status.Session.Start
		view.SessionStart = &start
		view.DurationS = int64(now.Sub(start).Seconds())
	}
	return view, true, nil
}
