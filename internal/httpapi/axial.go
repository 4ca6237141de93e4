package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/lifecycle"
	"github.com/tesela-labs/tesela/internal/types"
)

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid id %q", raw)
	}
	return id, nil
}

type axialRequest struct {
	ProjectID string   `json:"project_id"`
	Categoria string   `json:"categoria"`
	Codigo    string   `json:"codigo"`
	Relation  string   `json:"relation"`
	Memo      string   `json:"memo,omitempty"`
	Evidence  []string `json:"evidence,omitempty"`
}

// handleCreateAxial persists an axial relation. The engine refuses with
// not_ready while any readiness counter is non-zero.
func (s *Server) handleCreateAxial(w http.ResponseWriter, r *http.Request) {
	var req axialRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rel, err := s.engine.CreateAxialRelation(r.Context(), lifecycle.AxialRequest{
		ProjectID: req.ProjectID,
		Categoria: req.Categoria,
		Codigo:    req.Codigo,
		Relation:  types.RelationType(req.Relation),
		Memo:      req.Memo,
		Evidence:  req.Evidence,
		Actor:     actorOf(r),
		SessionID: sessionIDFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, rel)
}

func (s *Server) handleTransitionAxial(w http.ResponseWriter, r *http.Request, state types.AxialState) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rel, err := s.engine.TransitionAxialRelation(r.Context(), req.ProjectID, id, state, actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, rel)
}

func (s *Server) handleValidateAxial(w http.ResponseWriter, r *http.Request) {
	s.handleTransitionAxial(w, r, types.AxialValidated)
}

func (s *Server) handleRejectAxial(w http.ResponseWriter, r *http.Request) {
	s.handleTransitionAxial(w, r, types.AxialRejected)
}

type predictionRequest struct {
	ProjectID    string  `json:"project_id"`
	SourceCodeID int64   `json:"source_code_id"`
	TargetCodeID int64   `json:"target_code_id"`
	Relation     string  `json:"relation"`
	Source       string  `json:"source,omitempty"`
	Score        float64 `json:"score"`
}

// handleCreatePrediction records a proposed code→code relation. Predictions
// start pending and only reach the graph once validated.
func (s *Server) handleCreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := &types.LinkPrediction{
		ProjectID:    req.ProjectID,
		SourceCodeID: req.SourceCodeID,
		TargetCodeID: req.TargetCodeID,
		Relation:     req.Relation,
		Source:       req.Source,
		Score:        req.Score,
		State:        types.PredictionPending,
	}
	if err := p.Validate(); err != nil {
		s.writeError(w, r, apperr.Invalid("invalid prediction: %v", err))
		return
	}
	id, err := s.store.CreatePrediction(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.store.GetPrediction(r.Context(), req.ProjectID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, created)
}

func (s *Server) handleTransitionPrediction(w http.ResponseWriter, r *http.Request, state types.PredictionState) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.TransitionPrediction(r.Context(), req.ProjectID, id, state, actorOf(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.store.GetPrediction(r.Context(), req.ProjectID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, p)
}

func (s *Server) handleValidatePrediction(w http.ResponseWriter, r *http.Request) {
	s.handleTransitionPrediction(w, r, types.PredictionValidated)
}

func (s *Server) handleRejectPrediction(w http.ResponseWriter, r *http.Request) {
	s.handleTransitionPrediction(w, r, types.PredictionRejected)
}

type fragmentsBatchRequest struct {
	ProjectID string `json:"project_id"`
	Interview *struct {
		ID         string `json:"id"`
		Title      string `json:"title,omitempty"`
		SourceFile string `json:"source_file,omitempty"`
	} `json:"interview,omitempty"`
	Fragments []struct {
		ID      string `json:"id"`
		Text    string `json:"text"`
		ParIdx  int    `json:"par_idx"`
		Speaker string `json:"speaker,omitempty"`
	} `json:"fragments"`
}

// handleFragmentsBatch ingests interview fragments. Idempotent: re-sending
// a batch upserts by fragment id.
func (s *Server) handleFragmentsBatch(w http.ResponseWriter, r *http.Request) {
	var req fragmentsBatchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" {
		s.writeError(w, r, apperr.Invalid("project_id is required"))
		return
	}
	if len(req.Fragments) == 0 {
		s.writeError(w, r, apperr.Invalid("fragments cannot be empty"))
		return
	}
	interviewID := ""
	if req.Interview != nil {
		interviewID = req.Interview.ID
		err := s.store.UpsertInterview(r.Context(), &types.Interview{
			ID:         req.Interview.ID,
			ProjectID:  req.ProjectID,
			Title:      req.Interview.Title,
			SourceFile: req.Interview.SourceFile,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	frags := make([]*types.Fragment, 0, len(req.Fragments))
	for _, f := range req.Fragments {
		frags = append(frags, &types.Fragment{
			ID:          f.ID,
			ProjectID:   req.ProjectID,
			InterviewID: interviewID,
			Text:        f.Text,
			ParIdx:      f.ParIdx,
			CharLen:     len(f.Text),
			Speaker:     f.Speaker,
		})
	}
	upserted, err := s.store.UpsertFragments(r.Context(), frags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, map[string]any{
		"project_id": req.ProjectID,
		"upserted":   upserted,
	})
}
