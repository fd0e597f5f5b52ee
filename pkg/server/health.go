package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthHandler answers liveness probes.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports per-component readiness. The runner and leader
// election entries are informational and never gate readiness.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	initialized := s.ready
	started := s.started
	s.mu.RUnlock()

	allReady := true

	dbStatus := map[string]string{"status": "up"}
	if s.gdb != nil {
		sqlDB, err := s.gdb.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			allReady = false
		}
	} else {
		dbStatus["status"] = "not_configured"
		allReady = false
	}

	initStatus := map[string]string{"status": "complete"}
	if !initialized {
		initStatus["status"] = "pending"
		allReady = false
	}

	runnerStatus := map[string]string{"status": "running"}
	switch {
	case !s.cfg.Ledger.Enabled:
		runnerStatus["status"] = "disabled"
	case !started:
		runnerStatus["status"] = "pending"
	}

	leaderStatus := map[string]string{"status": "not_configured"}
	if s.elector != nil {
		if s.elector.IsLeader() {
			leaderStatus["status"] = "leader"
		} else {
			leaderStatus["status"] = "follower"
		}
	}

	status := "ready"
	code := http.StatusOK
	if !allReady {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"components": map[string]any{
			"database":        dbStatus,
			"initialization":  initStatus,
			"runner":          runnerStatus,
			"leader_election": leaderStatus,
		},
	})
}
