package postgres

import (
	"context"
	"fmt"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// GetFreeze returns the project's freeze row. A project with no row has
// never been frozen and reports is_frozen=false.
func (q queries) GetFreeze(ctx context.Context, projectID string) (*types.FreezeState, error) {
	var f types.FreezeState
	err := q.db.QueryRow(ctx,
		`SELECT project_id, is_frozen, frozen_at, frozen_by, broken_at, broken_by, note
		 FROM freeze WHERE project_id = $1`,
		projectID).Scan(&f.ProjectID, &f.IsFrozen, &f.FrozenAt, &f.FrozenBy,
		&f.BrokenAt, &f.BrokenBy, &f.Note)
	if err != nil {
		if apperr.IsNotFound(translateError(err, "freeze")) {
			return &types.FreezeState{ProjectID: projectID}, nil
		}
		return nil, fmt.Errorf("failed to read freeze state: %w", err)
	}
	return &f, nil
}

// SetFreeze flips the project lock. Freezing records who and when; breaking
// keeps the frozen_* columns so the last freeze window stays visible.
func (q queries) SetFreeze(ctx context.Context, projectID string, frozen bool, actor, note string) (*types.FreezeState, error) {
	var sql string
	if frozen {
		sql = `INSERT INTO freeze (project_id, is_frozen, frozen_at, frozen_by, note)
		       VALUES ($1, TRUE, now(), $2, $3)
		       ON CONFLICT (project_id) DO UPDATE SET
		           is_frozen = TRUE, frozen_at = now(), frozen_by = $2, note = $3`
	} else {
		sql = `INSERT INTO freeze (project_id, is_frozen, broken_at, broken_by, note)
		       VALUES ($1, FALSE, now(), $2, $3)
		       ON CONFLICT (project_id) DO UPDATE SET
		           is_frozen = FALSE, broken_at = now(), broken_by = $2, note = $3`
	}
	if _, err := q.db.Exec(ctx, sql, projectID, actor, note); err != nil {
		return nil, translateError(err, fmt.Sprintf("freeze for project %s", projectID))
	}
	return q.GetFreeze(ctx, projectID)
}
