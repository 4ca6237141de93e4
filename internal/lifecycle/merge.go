package lifecycle

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/telemetry"
	"github.com/tesela-labs/tesela/internal/types"
)

// MergeIDsRequest merges specific candidates into a target label.
type MergeIDsRequest struct {
	ProjectID      string
	SourceIDs      []string
	TargetCodigo   string
	Memo           string
	DryRun         bool
	IdempotencyKey string
	Actor          string
	SessionID      string
}

// MergePair names one source→target label rewrite.
type MergePair struct {
	SourceCodigo string `json:"source_codigo"`
	TargetCodigo string `json:"target_codigo"`
}

// MergePairsRequest merges all candidates (and, when enabled, catalog rows)
// matching each source label into the pair's target.
type MergePairsRequest struct {
	ProjectID      string
	Pairs          []MergePair
	Memo           string
	DryRun         bool
	IdempotencyKey string
	Actor          string
	SessionID      string
	// ApplyToCatalog also rewrites catalog rows whose label matches a
	// source. Requires the engine's AllowCatalogMerge switch.
	ApplyToCatalog bool
}

// MergeResult reports what a merge did, or would do under dry run.
type MergeResult struct {
	ProjectID    string `json:"project_id"`
	TargetCodigo string `json:"target_codigo,omitempty"`
	TargetCodeID int64  `json:"target_code_id,omitempty"`
	DryRun       bool   `json:"dry_run"`
	WouldMove    int    `json:"would_move,omitempty"`
	Moved        int    `json:"moved"`
	MarkedMerged int    `json:"marked_merged"`
	CatalogRows  int    `json:"catalog_rows,omitempty"`
	Idempotent   bool   `json:"idempotent,omitempty"` // replayed from a bound key
}

// MergeByIDs merges the source candidates into target_codigo. One
// transaction under the catalog advisory lock; no partial success. Evidence
// is never lost: every source fragment ends up linked to the target through
// exactly one assignment or candidate row. Dry runs read only and work on
// frozen projects.
func (e *Engine) MergeByIDs(ctx context.Context, req MergeIDsRequest) (*MergeResult, error) {
	if len(req.SourceIDs) == 0 {
		return nil, apperr.Invalid("source_ids cannot be empty")
	}
	if strings.TrimSpace(req.TargetCodigo) == "" {
		return nil, apperr.Invalid("target_codigo cannot be empty")
	}

	if req.DryRun {
		return e.planMergeByIDs(ctx, req)
	}

	if err := e.ensureUnfrozen(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	var result *MergeResult
	err := e.store.RunInProjectLock(ctx, req.ProjectID, types.LockCatalog, req.SessionID, func(tx storage.Tx) error {
		if replay, found, err := e.replay(ctx, tx, req.ProjectID, req.IdempotencyKey); err != nil || found {
			result = replay
			return err
		}

		target, err := resolveOrCreateCode(ctx, tx, req.ProjectID, req.TargetCodigo, req.Memo, req.Actor)
		if err != nil {
			return err
		}
		r := &MergeResult{
			ProjectID:    req.ProjectID,
			TargetCodigo: target.row.Codigo,
			TargetCodeID: target.row.CodeID,
		}
		for _, id := range req.SourceIDs {
			if err := e.mergeCandidate(ctx, tx, req, id, target.row, r); err != nil {
				return err
			}
		}
		result = r
		return e.bind(ctx, tx, req.ProjectID, req.IdempotencyKey, r)
	})
	if err != nil {
		return nil, err
	}
	telemetry.RecordMerge(ctx, req.ProjectID)
	e.log.Info("candidates merged",
		zap.String("project_id", req.ProjectID),
		zap.String("target", result.TargetCodigo),
		zap.Int("moved", result.Moved),
		zap.Int("marked_merged", result.MarkedMerged))
	return result, nil
}

// planMergeByIDs computes the dry-run view without writing.
func (e *Engine) planMergeByIDs(ctx context.Context, req MergeIDsRequest) (*MergeResult, error) {
	r := &MergeResult{ProjectID: req.ProjectID, TargetCodigo: req.TargetCodigo, DryRun: true}
	if target, err := e.store.GetCodeByLabel(ctx, req.ProjectID, req.TargetCodigo); err == nil {
		r.TargetCodeID = target.CodeID
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}
	for _, id := range req.SourceIDs {
		cand, err := e.store.GetCandidate(ctx, req.ProjectID, id)
		if err != nil {
			return nil, err
		}
		if cand.State == types.CandidateMerged {
			continue
		}
		moves, err := e.evidenceWouldMove(ctx, req.ProjectID, cand, req.TargetCodigo)
		if err != nil {
			return nil, err
		}
		if moves {
			r.WouldMove++
		} else {
			r.MarkedMerged++
		}
	}
	return r, nil
}

// evidenceWouldMove reports whether the candidate's fragment is not yet
// linked to the target.
func (e *Engine) evidenceWouldMove(ctx context.Context, projectID string, cand *types.Candidate, target string) (bool, error) {
	if cand.FragmentID == nil {
		return false, nil
	}
	if _, err := e.store.GetAssignment(ctx, projectID, *cand.FragmentID, target); err == nil {
		return false, nil
	} else if !apperr.IsNotFound(err) {
		return false, err
	}
	existing, err := e.store.ListCandidates(ctx, projectID, types.CandidateFilter{
		Codigo:     target,
		FragmentID: *cand.FragmentID,
	})
	if err != nil {
		return false, err
	}
	return len(existing) == 0, nil
}

// mergeCandidate applies the row-wise merge semantics to one source
// candidate: move the evidence to the target when the fragment is not yet
// linked there, mark the source merged either way, and record the version
// event.
func (e *Engine) mergeCandidate(ctx context.Context, tx storage.Tx, req MergeIDsRequest, id string, target *types.CatalogCode, r *MergeResult) error {
	cand, err := tx.GetCandidate(ctx, req.ProjectID, id)
	if err != nil {
		return err
	}
	if cand.State == types.CandidateMerged {
		// Re-merging a merged candidate is a no-op, not an error.
		return nil
	}

	moved := false
	if cand.FragmentID != nil {
		_, err := tx.GetAssignment(ctx, req.ProjectID, *cand.FragmentID, target.Codigo)
		switch {
		case err == nil:
			// Evidence already definitive under the target.
		case apperr.IsNotFound(err):
			cita, err := e.citaFor(ctx, req.ProjectID, *cand.FragmentID)
			if err != nil {
				return err
			}
			if _, err := tx.CreateAssignment(ctx, &types.Assignment{
				ProjectID:  req.ProjectID,
				FragmentID: *cand.FragmentID,
				Codigo:     target.Codigo,
				CodeID:     &target.CodeID,
				Cita:       cita,
			}); err != nil {
				return err
			}
			moved = true
		default:
			return err
		}
	}

	previous, _ := json.Marshal(map[string]any{"codigo": cand.Codigo, "state": cand.State})
	cand.State = types.CandidateMerged
	cand.MergedInto = target.Codigo
	cand.CodeID = &target.CodeID
	if req.Memo != "" {
		cand.Memo = req.Memo
	}
	if err := tx.UpdateCandidate(ctx, cand); err != nil {
		return err
	}

	next, _ := json.Marshal(map[string]any{
		"codigo":  target.Codigo,
		"code_id": target.CodeID,
		"state":   types.CandidateMerged,
	})
	if err := tx.AppendVersionEvent(ctx, &types.VersionEvent{
		ProjectID: req.ProjectID,
		Codigo:    cand.Codigo,
		CodeID:    &target.CodeID,
		Action:    types.ActionMerge,
		Actor:     req.Actor,
		Previous:  previous,
		Next:      next,
	}); err != nil {
		return err
	}

	if moved {
		r.Moved++
	} else {
		r.MarkedMerged++
	}
	return nil
}

// MergePairs applies merge semantics row-wise across every candidate whose
// label matches a pair's source. With ApplyToCatalog (and the engine switch
// on), matching catalog rows are marked merged with their canonical pointer
// set to the target. Idempotent by key; refused while frozen unless dry run.
func (e *Engine) MergePairs(ctx context.Context, req MergePairsRequest) (*MergeResult, error) {
	if len(req.Pairs) == 0 {
		return nil, apperr.Invalid("pairs cannot be empty")
	}
	for _, p := range req.Pairs {
		if strings.TrimSpace(p.SourceCodigo) == "" || strings.TrimSpace(p.TargetCodigo) == "" {
			return nil, apperr.Invalid("pair labels cannot be empty")
		}
		if strings.EqualFold(p.SourceCodigo, p.TargetCodigo) {
			return nil, apperr.Invalid("pair %q → %q merges a label into itself", p.SourceCodigo, p.TargetCodigo)
		}
	}
	if req.ApplyToCatalog && !e.cfg.AllowCatalogMerge {
		return nil, apperr.Invalid("catalog merges are disabled; enable lifecycle.allow_catalog_merge first")
	}

	if req.DryRun {
		return e.planMergePairs(ctx, req)
	}

	if err := e.ensureUnfrozen(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	var result *MergeResult
	err := e.store.RunInProjectLock(ctx, req.ProjectID, types.LockCatalog, req.SessionID, func(tx storage.Tx) error {
		if replay, found, err := e.replay(ctx, tx, req.ProjectID, req.IdempotencyKey); err != nil || found {
			result = replay
			return err
		}

		r := &MergeResult{ProjectID: req.ProjectID}
		for _, pair := range req.Pairs {
			target, err := resolveOrCreateCode(ctx, tx, req.ProjectID, pair.TargetCodigo, req.Memo, req.Actor)
			if err != nil {
				return err
			}
			sources, err := tx.ListCandidates(ctx, req.ProjectID, types.CandidateFilter{Codigo: pair.SourceCodigo})
			if err != nil {
				return err
			}
			idsReq := MergeIDsRequest{
				ProjectID: req.ProjectID,
				Memo:      req.Memo,
				Actor:     req.Actor,
				SessionID: req.SessionID,
			}
			for _, cand := range sources {
				if err := e.mergeCandidate(ctx, tx, idsReq, cand.ID, target.row, r); err != nil {
					return err
				}
			}
			if req.ApplyToCatalog {
				n, err := e.mergeCatalogRow(ctx, tx, req, pair.SourceCodigo, target.row)
				if err != nil {
					return err
				}
				r.CatalogRows += n
			}
		}
		result = r
		return e.bind(ctx, tx, req.ProjectID, req.IdempotencyKey, r)
	})
	if err != nil {
		return nil, err
	}
	telemetry.RecordMerge(ctx, req.ProjectID)
	e.log.Info("pairs merged",
		zap.String("project_id", req.ProjectID),
		zap.Int("pairs", len(req.Pairs)),
		zap.Int("moved", result.Moved),
		zap.Int("marked_merged", result.MarkedMerged),
		zap.Int("catalog_rows", result.CatalogRows))
	return result, nil
}

// planMergePairs computes the dry-run view without writing.
func (e *Engine) planMergePairs(ctx context.Context, req MergePairsRequest) (*MergeResult, error) {
	r := &MergeResult{ProjectID: req.ProjectID, DryRun: true}
	for _, pair := range req.Pairs {
		sources, err := e.store.ListCandidates(ctx, req.ProjectID, types.CandidateFilter{Codigo: pair.SourceCodigo})
		if err != nil {
			return nil, err
		}
		for _, cand := range sources {
			if cand.State == types.CandidateMerged {
				continue
			}
			moves, err := e.evidenceWouldMove(ctx, req.ProjectID, cand, pair.TargetCodigo)
			if err != nil {
				return nil, err
			}
			if moves {
				r.WouldMove++
			} else {
				r.MarkedMerged++
			}
		}
		if req.ApplyToCatalog {
			if src, err := e.store.GetCodeByLabel(ctx, req.ProjectID, pair.SourceCodigo); err == nil && src.Status == types.CodeActive {
				r.CatalogRows++
			} else if err != nil && !apperr.IsNotFound(err) {
				return nil, err
			}
		}
	}
	return r, nil
}

// mergeCatalogRow marks the catalog row labelled source as merged into the
// target, repointing its canonical pointer. Assignments carrying the old
// identity keep their code_id; they stay resolvable through the chain and
// the repair operation rewrites them on the next pass.
func (e *Engine) mergeCatalogRow(ctx context.Context, tx storage.Tx, req MergePairsRequest, source string, target *types.CatalogCode) (int, error) {
	src, err := tx.GetCodeByLabel(ctx, req.ProjectID, source)
	if err != nil {
		if apperr.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if src.Status != types.CodeActive || src.CodeID == target.CodeID {
		return 0, nil
	}
	previous, _ := json.Marshal(map[string]any{"status": src.Status, "canonical_code_id": src.CanonicalCodeID})
	if err := tx.UpdateCodePointer(ctx, req.ProjectID, src.CodeID, types.CodeMerged, &target.CodeID); err != nil {
		return 0, err
	}
	next, _ := json.Marshal(map[string]any{"status": types.CodeMerged, "canonical_code_id": target.CodeID})
	if err := tx.AppendVersionEvent(ctx, &types.VersionEvent{
		ProjectID: req.ProjectID,
		Codigo:    src.Codigo,
		CodeID:    &src.CodeID,
		Action:    types.ActionMerge,
		Actor:     req.Actor,
		Previous:  previous,
		Next:      next,
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

// ensureUnfrozen rejects real merges on frozen projects.
func (e *Engine) ensureUnfrozen(ctx context.Context, projectID string) error {
	st, err := e.store.GetFreeze(ctx, projectID)
	if err != nil {
		return err
	}
	if st.IsFrozen {
		return apperr.Frozen(projectID)
	}
	return nil
}

// replay returns the response previously bound to the idempotency key.
func (e *Engine) replay(ctx context.Context, tx storage.Tx, projectID, key string) (*MergeResult, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	raw, found, err := tx.GetIdempotentResponse(ctx, projectID, key)
	if err != nil || !found {
		return nil, false, err
	}
	var r MergeResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, apperr.Internal(err, "corrupt idempotency snapshot for key %s", key)
	}
	r.Idempotent = true
	return &r, true, nil
}

// bind stores the response under the idempotency key, committing with the
// merge itself.
func (e *Engine) bind(ctx context.Context, tx storage.Tx, projectID, key string, r *MergeResult) error {
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return apperr.Internal(err, "failed to snapshot merge result")
	}
	return tx.PutIdempotentResponse(ctx, projectID, key, raw, e.cfg.IdempotencyTTL)
}
