// Package web serves the observability API behind vlabweb: live board
// status projected from the control store, usage statistics parsed from
// the access log, prometheus metrics, and the POST triggers for config
// reload and out-of-schedule hardware tests. Everything here is a read
// or a flag write; the janitor does the actual work.
package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RTSYork/VLAB/pkg/accesslog"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/util"
)

const requestTimeout = 30 * time.Second

// Server carries the handler dependencies. Construct with New.
type Server struct {
	coord  *lease.Coordinator
	parser *accesslog.Parser
	reg    *prometheus.Registry
	now    func() time.Time
}

// New builds the API server over an established coordinator and access
// log parser.
func New(coord *lease.Coordinator, parser *accesslog.Parser) *Server {
	s := &Server{
		coord:  coord,
		parser: parser,
		reg:    prometheus.NewRegistry(),
		now:    time.Now,
	}
	s.reg.MustRegister(newCollector(coord, parser))
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/boards", s.handleBoards)
		r.Route("/stats", func(r chi.Router) {
			r.Get("/summary", s.handleStatsSummary)
			r.Get("/hourly", s.handleStatsHourly)
			r.Get("/users", s.handleStatsUsers)
			r.Get("/denials", s.handleStatsDenials)
		})
		r.Post("/config/reload", s.handleConfigReload)
		r.Post("/hwtest/trigger", s.handleHwTestTrigger)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "control store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request. Probe endpoints log at debug
// so a scraping prometheus does not drown the log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		entry := util.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			entry.Debug("Request served.")
		} else {
			entry.Info("Request served.")
		}
	})
}

// writeJSON encodes to a buffer first so an encoding failure can still
// become a clean 500 instead of a half-written body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		util.Errorf("Encoding API response: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	util.Errorf("Control store unavailable: %v", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": "control store unavailable",
	})
}
