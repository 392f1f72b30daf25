package server

import (
	"context"
	"net/http"
)

// Pinger verifies connectivity of one backing integration.
type Pinger interface {
	Ping(ctx context.Context) error
}

// integrationCheck reports one readiness probe. Disabled integrations are
// reported but never fail readiness.
type integrationCheck struct {
	Enabled bool   `json:"enabled"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

type readiness struct {
	Ready  bool                        `json:"ready"`
	Checks map[string]integrationCheck `json:"checks"`
}

func runCheck(ctx context.Context, pinger Pinger) integrationCheck {
	if pinger == nil {
		return integrationCheck{Enabled: false, OK: true, Details: "disabled"}
	}
	if err := pinger.Ping(ctx); err != nil {
		return integrationCheck{Enabled: true, OK: false, Details: err.Error()}
	}
	return integrationCheck{Enabled: true, OK: true, Details: "healthy"}
}

// healthz reports process liveness only.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// readyz probes every enabled integration and reports 503 if any fails.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	var ctx = r.Context()
	var postgres, redis Pinger
	if s.store != nil {
		postgres = s.store
	}
	if s.kv != nil {
		redis = s.kv
	}
	var checks = map[string]integrationCheck{
		"postgres": runCheck(ctx, postgres),
		"redis":    runCheck(ctx, redis),
		"kafka":    runCheck(ctx, s.broker),
	}

	var ready = true
	for _, c := range checks {
		if c.Enabled && !c.OK {
			ready = false
		}
	}

	var status = http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readiness{Ready: ready, Checks: checks})
}

// versionInfo reports the service name and build version.
func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}{Name: s.name, Version: s.version})
}
