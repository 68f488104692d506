package web

import (
	"net/http"

	"github.com/RTSYork/VLAB/pkg/util"
)

// handleConfigReload raises the reload flag. The janitor's poll loop picks
// it up within seconds; the flag's own TTL withdraws the request if no
// janitor is alive to consume it.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.RequestConfigReload(r.Context()); err != nil {
		s.storeError(w, err)
		return
	}
	util.Infof("Config reload requested over the API.")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}

// handleHwTestTrigger raises the out-of-schedule hardware test flag,
// unless a run is already active.
func (s *Server) handleHwTestTrigger(w http.ResponseWriter, r *http.Request) {
	running, err := s.coord.HwTestRunning(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if running {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "a hardware test run is already active",
		})
		return
	}
	if err := s.coord.TriggerHwTest(r.Context()); err != nil {
		s.storeError(w, err)
		return
	}
	util.Infof("Hardware test triggered over the API.")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "hardware test triggered"})
}
