package server

import (
	"net/http"

	"github.com/solfeed/txflow/ingest"
)

// adminAuthorized admits diagnostic requests carrying the configured admin
// token. An empty configured token leaves the endpoints open, for
// deployments where the ingress restricts them instead.
func (s *Server) adminAuthorized(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Admin.Token == "" {
		return true
	}
	if r.Header.Get(s.cfg.Admin.Header) != s.cfg.Admin.Token {
		writeError(w, http.StatusForbidden, codeForbidden, "invalid admin token")
		return false
	}
	return true
}

// ingestStats serves GET /api/admin/ingest/stats.
func (s *Server) ingestStats(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(w, r) {
		return
	}
	var snapshot ingest.StatsSnapshot
	if s.stats != nil {
		snapshot = s.stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// wafDebug serves the firewall diagnostic route.
func (s *Server) wafDebug(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.scorer.Debug(r.Context()))
}
