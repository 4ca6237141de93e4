package httpapi

import (
	"net/http"
	"strconv"

	"github.com/tesela-labs/tesela/internal/apperr"
)

// projectOf resolves the project scope from the query string or the
// X-Project-ID header.
func projectOf(r *http.Request) (string, error) {
	if p := r.URL.Query().Get("project"); p != "" {
		return p, nil
	}
	if p := r.Header.Get("X-Project-ID"); p != "" {
		return p, nil
	}
	return "", apperr.Invalid("project is required (query ?project= or X-Project-ID)")
}

// actorOf names the acting operator for audit rows.
func actorOf(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return sessionIDFrom(r.Context())
}

func limitOf(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// handleReadyz verifies the ledger is reachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListProjects(r.Context()); err != nil {
		s.writeError(w, r, apperr.Dependency(err, "ledger"))
		return
	}
	s.writeJSON(w, map[string]string{"status": "ready"})
}

// handleReadiness serves the four counters and the axial_ready verdict.
// Never mutates; on a ledger outage the last-known report is served with
// degraded=true.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.gate.Report(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, report)
}

// handleAnalysisGate serves the operational backpressure gate.
func (s *Server) handleAnalysisGate(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gate, err := s.gate.Analysis(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, gate)
}

// handleStats serves per-project ledger statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.store.GetProjectStats(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, stats)
}

// handleVersions lists the audit trail for a label, newest first.
func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.store.ListVersionEvents(r.Context(), projectID, r.URL.Query().Get("codigo"), limitOf(r, 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"project_id": projectID, "events": events})
}
