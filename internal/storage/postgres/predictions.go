package postgres

import (
	"context"
	"fmt"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

const predictionCols = `id, project_id, source_code_id, target_code_id, relation, source, score,
	state, sync_status, sync_error, created_at, updated_at`

func scanPrediction(row rowScanner) (*types.LinkPrediction, error) {
	var p types.LinkPrediction
	err := row.Scan(&p.ID, &p.ProjectID, &p.SourceCodeID, &p.TargetCodeID, &p.Relation,
		&p.Source, &p.Score, &p.State, &p.SyncStatus, &p.SyncError, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePrediction inserts a proposed code→code relation. A collision on
// (source, target, relation) keeps the higher score.
func (q queries) CreatePrediction(ctx context.Context, p *types.LinkPrediction) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, apperr.Invalid("invalid link prediction: %v", err)
	}
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO link_predictions (project_id, source_code_id, target_code_id, relation, source, score)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (project_id, source_code_id, target_code_id, relation) DO UPDATE SET
		     score      = GREATEST(link_predictions.score, EXCLUDED.score),
		     updated_at = now()
		 RETURNING id`,
		p.ProjectID, p.SourceCodeID, p.TargetCodeID, p.Relation, p.Source, p.Score).Scan(&id)
	if err != nil {
		return 0, translateError(err, fmt.Sprintf("prediction %d→%d", p.SourceCodeID, p.TargetCodeID))
	}
	p.ID = id
	return id, nil
}

// GetPrediction loads one prediction by id.
func (q queries) GetPrediction(ctx context.Context, projectID string, id int64) (*types.LinkPrediction, error) {
	p, err := scanPrediction(q.db.QueryRow(ctx,
		`SELECT `+predictionCols+` FROM link_predictions WHERE project_id = $1 AND id = $2`,
		projectID, id))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("prediction %d", id))
	}
	return p, nil
}

// TransitionPrediction moves a prediction to a new validation state. A
// freshly validated prediction re-enters the sync scan; a rejected one
// never projects.
func (q queries) TransitionPrediction(ctx context.Context, projectID string, id int64, state types.PredictionState, actor string) error {
	if !state.IsValid() {
		return apperr.Invalid("invalid prediction state: %s", state)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE link_predictions
		 SET state = $3, sync_status = 'pending', sync_error = '', updated_at = now()
		 WHERE project_id = $1 AND id = $2`,
		projectID, id, state)
	if err != nil {
		return translateError(err, fmt.Sprintf("prediction %d", id))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prediction %d not found", id)
	}
	return nil
}
