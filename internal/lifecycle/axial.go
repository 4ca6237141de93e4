package lifecycle

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/telemetry"
	"github.com/tesela-labs/tesela/internal/types"
)

// AxialRequest creates a categoria→codigo relation with evidence.
type AxialRequest struct {
	ProjectID string
	Categoria string
	Codigo    string
	Relation  types.RelationType
	Memo      string
	Evidence  []string
	Actor     string
	SessionID string
}

// CreateAxialRelation persists an axial relation. The write path is gated:
// the readiness counters are computed inside the transaction, under the
// axial advisory lock, and any non-zero counter refuses the write with
// not_ready and the blocking reasons. The relation's code_id is resolved to
// canonical before persistence.
func (e *Engine) CreateAxialRelation(ctx context.Context, req AxialRequest) (*types.AxialRelation, error) {
	rel := &types.AxialRelation{
		ProjectID: req.ProjectID,
		Categoria: req.Categoria,
		Codigo:    req.Codigo,
		Relation:  req.Relation,
		Memo:      req.Memo,
		Evidence:  req.Evidence,
		State:     types.AxialPending,
	}
	if err := rel.Validate(); err != nil {
		return nil, apperr.Invalid("invalid axial relation: %v", err)
	}
	for _, fragmentID := range req.Evidence {
		if _, err := e.store.GetFragment(ctx, req.ProjectID, fragmentID); err != nil {
			return nil, err
		}
	}

	err := e.store.RunInProjectLock(ctx, req.ProjectID, types.LockAxial, req.SessionID, func(tx storage.Tx) error {
		counters, err := tx.ReadinessCounters(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if !counters.Ready() {
			return apperr.NotReady(counters.BlockingReasons())
		}

		canonicalCode, err := e.resolveToActiveTx(ctx, tx, req.ProjectID, req.Codigo)
		if err != nil {
			return err
		}
		rel.Codigo = canonicalCode.Codigo
		rel.CodeID = canonicalCode.CodeID

		if _, err := tx.CreateAxialRelation(ctx, rel); err != nil {
			return err
		}
		next, _ := json.Marshal(map[string]any{
			"categoria": rel.Categoria,
			"codigo":    rel.Codigo,
			"relation":  rel.Relation,
			"evidence":  rel.Evidence,
		})
		return tx.AppendVersionEvent(ctx, &types.VersionEvent{
			ProjectID: req.ProjectID,
			Codigo:    rel.Codigo,
			CodeID:    &rel.CodeID,
			Action:    types.ActionCreate,
			Actor:     req.Actor,
			Next:      next,
		})
	})
	if err != nil {
		if apperr.IsNotReady(err) {
			telemetry.RecordGateRefusal(ctx, req.ProjectID)
		}
		return nil, err
	}
	e.log.Info("axial relation created",
		zap.String("project_id", req.ProjectID),
		zap.String("categoria", rel.Categoria),
		zap.String("codigo", rel.Codigo),
		zap.String("relation", string(rel.Relation)),
		zap.Int64("code_id", rel.CodeID))
	return rel, nil
}

// TransitionAxialRelation validates or rejects a relation. Gated like
// creation: axial writes stay refused while the ontology is inconsistent.
func (e *Engine) TransitionAxialRelation(ctx context.Context, projectID string, id int64, state types.AxialState, actor string) (*types.AxialRelation, error) {
	if state != types.AxialValidated && state != types.AxialRejected {
		return nil, apperr.Invalid("transition target must be validated or rejected, got %s", state)
	}
	err := e.store.RunInProjectLock(ctx, projectID, types.LockAxial, actor, func(tx storage.Tx) error {
		counters, err := tx.ReadinessCounters(ctx, projectID)
		if err != nil {
			return err
		}
		if !counters.Ready() {
			return apperr.NotReady(counters.BlockingReasons())
		}
		return tx.TransitionAxialRelation(ctx, projectID, id, state, actor)
	})
	if err != nil {
		if apperr.IsNotReady(err) {
			telemetry.RecordGateRefusal(ctx, projectID)
		}
		return nil, err
	}
	return e.store.GetAxialRelation(ctx, projectID, id)
}

// resolveToActiveTx resolves a label to its canonical active catalog row
// within the transaction snapshot.
func (e *Engine) resolveToActiveTx(ctx context.Context, tx storage.Tx, projectID, codigo string) (*types.CatalogCode, error) {
	code, err := tx.GetCodeByLabel(ctx, projectID, codigo)
	if err != nil {
		return nil, err
	}
	if code.Status == types.CodeActive && (code.CanonicalCodeID == nil || code.IsSelfCanonical()) {
		return code, nil
	}
	resolved, err := resolveOrCreateCode(ctx, tx, projectID, codigo, "", "")
	if err != nil {
		return nil, err
	}
	return resolved.row, nil
}
