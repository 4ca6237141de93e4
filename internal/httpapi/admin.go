package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/ops"
	"github.com/tesela-labs/tesela/internal/types"
)

func (s *Server) handleGetFreeze(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.frozen.Get(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, state)
}

type freezeRequest struct {
	ProjectID string `json:"project_id"`
	Note      string `json:"note,omitempty"`
}

// handleFreeze locks the project's identity layer. Idempotent: freezing a
// frozen project returns the current state.
func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.frozen.Freeze(r.Context(), req.ProjectID, actorOf(r), req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, state)
}

// handleFreezeBreak lifts the lock. The note should say why.
func (s *Server) handleFreezeBreak(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.frozen.Break(r.Context(), req.ProjectID, actorOf(r), req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, state)
}

type syncRequest struct {
	ProjectID string `json:"project_id"`
	DryRun    *bool  `json:"dry_run,omitempty"`
}

// handleSyncEntity triggers a projection pass. The entity segment names
// what the caller cares about but a real run always walks the full
// dependency order, so earlier entity classes are flushed first. Dry run
// reports the backlog without touching the graph.
func (s *Server) handleSyncEntity(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if entity != "all" && !types.SyncEntity(entity).IsValid() {
		s.writeError(w, r, apperr.Invalid("unknown sync entity %q", entity))
		return
	}
	var req syncRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	if dryRun {
		remaining, err := s.store.CountUnsynced(r.Context(), req.ProjectID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, map[string]any{
			"project_id": req.ProjectID,
			"dry_run":    true,
			"remaining":  remaining,
		})
		return
	}
	result, err := s.sync.SyncProject(r.Context(), req.ProjectID, sessionIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, result)
}

type operationRequest struct {
	ProjectID      string `json:"project_id"`
	DryRun         *bool  `json:"dry_run,omitempty"`
	Confirm        bool   `json:"confirm,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	Note           string `json:"note,omitempty"`
}

// handleOperation runs a maintenance operation through the runner's
// discipline: dry run by default, real runs need confirm plus a session id,
// and a violation is answered with a safe NOOP rather than an error.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	operation := chi.URLParam(r, "operation")
	var req operationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	if key := r.Header.Get("X-Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	resp, err := s.runner.Run(r.Context(), ops.Request{
		ProjectID:      req.ProjectID,
		Operation:      operation,
		DryRun:         dryRun,
		Confirm:        req.Confirm,
		SessionID:      sessionIDFrom(r.Context()),
		RequestID:      requestIDFrom(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
		BatchSize:      req.BatchSize,
		Actor:          actorOf(r),
		Note:           req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, resp)
}

// handleOpsRecent serves the short operational history.
func (s *Server) handleOpsRecent(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.store.ListOpsLog(r.Context(), projectID, types.OpsLogFilter{Limit: limitOf(r, 20)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"project_id": projectID, "entries": entries})
}

// handleOpsLog serves the filtered ops log: kind=all|errors|mutations,
// op=<operation>, intent=write_intent_post, since/until RFC3339.
func (s *Server) handleOpsLog(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := types.OpsLogFilter{
		Kind:   q.Get("kind"),
		Op:     q.Get("op"),
		Intent: q.Get("intent"),
		Limit:  limitOf(r, 100),
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, apperr.Invalid("invalid since timestamp %q", raw))
			return
		}
		filter.Since = &t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, apperr.Invalid("invalid until timestamp %q", raw))
			return
		}
		filter.Until = &t
	}
	entries, err := s.store.ListOpsLog(r.Context(), projectID, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"project_id": projectID, "entries": entries})
}
