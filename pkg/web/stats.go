package web

import (
	"net/http"

	"github.com/RTSYork/VLAB/pkg/accesslog"
	"github.com/RTSYork/VLAB/pkg/util"
)

// The stats endpoints slice the parser's aggregate into the shapes the
// dashboard charts consume. A missing access log is empty statistics;
// only an unreadable one is an error.

func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.stats(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"total_sessions": stats.TotalSessions,
		"total_denials":  stats.TotalDenials,
		"denials_today":  stats.DenialsToday,
	})
}

func (s *Server) handleStatsHourly(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.stats(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hourly": stats.Hourly})
}

func (s *Server) handleStatsUsers(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.stats(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": stats.Users})
}

func (s *Server) handleStatsDenials(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.stats(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"denials": stats.Denials})
}

func (s *Server) stats(w http.ResponseWriter) (*accesslog.Stats, bool) {
	stats, err := s.parser.Stats()
	if err != nil {
		util.Errorf("Parsing access log: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "access log unreadable",
		})
		return nil, false
	}
	return stats, true
}
