package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/lifecycle"
	"github.com/tesela-labs/tesela/internal/types"
)

type checkBatchRequest struct {
	ProjectID string   `json:"project_id"`
	Labels    []string `json:"labels"`
}

// handleCheckBatch resolves a batch of labels against the catalog before
// submission. Read-only.
func (s *Server) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req checkBatchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.engine.CheckBatch(r.Context(), req.ProjectID, req.Labels)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"project_id": req.ProjectID, "results": results})
}

type submitRequest struct {
	ProjectID  string  `json:"project_id"`
	Codigo     string  `json:"codigo"`
	FragmentID *string `json:"fragment_id,omitempty"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Memo       string  `json:"memo,omitempty"`
}

func (req submitRequest) toEngine() lifecycle.SubmitRequest {
	return lifecycle.SubmitRequest{
		ProjectID:  req.ProjectID,
		Codigo:     req.Codigo,
		FragmentID: req.FragmentID,
		Source:     types.CandidateSource(req.Source),
		Confidence: req.Confidence,
		Memo:       req.Memo,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cand, err := s.engine.Submit(r.Context(), req.toEngine())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, cand)
}

type submitBatchRequest struct {
	ProjectID  string          `json:"project_id"`
	Candidates []submitRequest `json:"candidates"`
}

// handleSubmitBatch submits several candidates in one call. Each row is
// independent: a failed row is reported in place and does not abort the
// rest of the batch.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Candidates) == 0 {
		s.writeError(w, r, apperr.Invalid("candidates cannot be empty"))
		return
	}
	type row struct {
		Candidate *types.Candidate `json:"candidate,omitempty"`
		Error     string           `json:"error,omitempty"`
	}
	out := make([]row, 0, len(req.Candidates))
	for _, item := range req.Candidates {
		if item.ProjectID == "" {
			item.ProjectID = req.ProjectID
		}
		cand, err := s.engine.Submit(r.Context(), item.toEngine())
		if err != nil {
			out = append(out, row{Error: err.Error()})
			continue
		}
		out = append(out, row{Candidate: cand})
	}
	s.writeJSONStatus(w, http.StatusCreated, map[string]any{
		"project_id": req.ProjectID,
		"results":    out,
	})
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := types.CandidateFilter{
		Codigo:     q.Get("codigo"),
		FragmentID: q.Get("fragment"),
		Source:     types.CandidateSource(q.Get("source")),
		Limit:      limitOf(r, 100),
	}
	for _, raw := range q["state"] {
		st := types.CandidateState(raw)
		if !st.IsValid() {
			s.writeError(w, r, apperr.Invalid("unknown candidate state %q", raw))
			return
		}
		filter.States = append(filter.States, st)
	}
	cands, err := s.store.ListCandidates(r.Context(), projectID, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"project_id": projectID, "candidates": cands})
}

type transitionRequest struct {
	ProjectID string `json:"project_id"`
	Memo      string `json:"memo,omitempty"`
}

func (s *Server) handleTransitionCandidate(w http.ResponseWriter, r *http.Request, state types.CandidateState) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cand, err := s.engine.Transition(r.Context(), req.ProjectID, chi.URLParam(r, "id"), state, actorOf(r), req.Memo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, cand)
}

func (s *Server) handleValidateCandidate(w http.ResponseWriter, r *http.Request) {
	s.handleTransitionCandidate(w, r, types.CandidateValidated)
}

func (s *Server) handleRejectCandidate(w http.ResponseWriter, r *http.Request) {
	s.handleTransitionCandidate(w, r, types.CandidateRejected)
}

func (s *Server) handlePromoteCandidate(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.engine.Promote(r.Context(), req.ProjectID, chi.URLParam(r, "id"), actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, result)
}

type mergeIDsRequest struct {
	ProjectID      string   `json:"project_id"`
	SourceIDs      []string `json:"source_ids"`
	TargetCodigo   string   `json:"target_codigo"`
	Memo           string   `json:"memo,omitempty"`
	DryRun         *bool    `json:"dry_run,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// handleMergeIDs merges candidates into a target label. dry_run defaults
// to true; a real run requires an explicit false.
func (s *Server) handleMergeIDs(w http.ResponseWriter, r *http.Request) {
	var req mergeIDsRequest
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
	result, err := s.engine.MergeByIDs(r.Context(), lifecycle.MergeIDsRequest{
		ProjectID:      req.ProjectID,
		SourceIDs:      req.SourceIDs,
		TargetCodigo:   req.TargetCodigo,
		Memo:           req.Memo,
		DryRun:         dryRun,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          actorOf(r),
		SessionID:      sessionIDFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, result)
}

type mergePairsRequest struct {
	ProjectID      string                `json:"project_id"`
	Pairs          []lifecycle.MergePair `json:"pairs"`
	Memo           string                `json:"memo,omitempty"`
	DryRun         *bool                 `json:"dry_run,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	ApplyToCatalog bool                  `json:"apply_to_catalog,omitempty"`
}

// handleMergePairs merges by label pair, the auto-merge surface. Admin
// only; catalog rewriting additionally needs the engine switch.
func (s *Server) handleMergePairs(w http.ResponseWriter, r *http.Request) {
	var req mergePairsRequest
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
	result, err := s.engine.MergePairs(r.Context(), lifecycle.MergePairsRequest{
		ProjectID:      req.ProjectID,
		Pairs:          req.Pairs,
		Memo:           req.Memo,
		DryRun:         dryRun,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          actorOf(r),
		SessionID:      sessionIDFrom(r.Context()),
		ApplyToCatalog: req.ApplyToCatalog,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, result)
}
