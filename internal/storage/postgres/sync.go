package postgres

import (
	"context"
	"fmt"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// Unsynced scans select rows that still need projection: sync flag down and
// no recorded permanent error. Rows with a recorded error are excluded so a
// poisoned row cannot wedge the scan; repair clears the error column.

// ListUnsyncedFragments returns fragments awaiting projection, ordered by id.
func (q queries) ListUnsyncedFragments(ctx context.Context, projectID string, limit int) ([]*types.Fragment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+fragmentCols+` FROM fragments
		 WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''
		 ORDER BY id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced fragments: %w", err)
	}
	defer rows.Close()

	var out []*types.Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListUnsyncedCodes returns catalog rows awaiting projection.
func (q queries) ListUnsyncedCodes(ctx context.Context, projectID string, limit int) ([]*types.CatalogCode, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+catalogCols+` FROM catalog
		 WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''
		 ORDER BY code_id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced codes: %w", err)
	}
	defer rows.Close()
	return collectCodes(rows)
}

// ListUnsyncedAssignments returns assignment edges awaiting projection.
// Rows without a code_id are skipped; backfill must run first.
func (q queries) ListUnsyncedAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+assignmentCols+` FROM assignments
		 WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''
		   AND code_id IS NOT NULL
		 ORDER BY id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced assignments: %w", err)
	}
	defer rows.Close()
	return collectAssignments(rows)
}

// ListUnsyncedAxial returns validated axial relations awaiting projection.
func (q queries) ListUnsyncedAxial(ctx context.Context, projectID string, limit int) ([]*types.AxialRelation, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+axialCols+` FROM axial_relations
		 WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''
		   AND state = 'validated'
		 ORDER BY id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced axial relations: %w", err)
	}
	defer rows.Close()
	return collectAxial(rows)
}

// ListUnsyncedPredictions returns validated predictions awaiting projection.
func (q queries) ListUnsyncedPredictions(ctx context.Context, projectID string, limit int) ([]*types.LinkPrediction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+predictionCols+` FROM link_predictions
		 WHERE project_id = $1 AND sync_status = 'pending' AND state = 'validated'
		 ORDER BY id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced predictions: %w", err)
	}
	defer rows.Close()

	var out []*types.LinkPrediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkFragmentsSynced flips the sync flag after a successful graph upsert.
func (q queries) MarkFragmentsSynced(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx,
		`UPDATE fragments SET neo4j_synced = TRUE, neo4j_sync_error = ''
		 WHERE project_id = $1 AND id = ANY($2)`,
		projectID, ids)
	if err != nil {
		return fmt.Errorf("failed to mark fragments synced: %w", err)
	}
	return nil
}

// MarkFragmentSyncError records a permanent failure and halts the row's retries.
func (q queries) MarkFragmentSyncError(ctx context.Context, projectID, id, msg string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE fragments SET neo4j_sync_error = $3 WHERE project_id = $1 AND id = $2`,
		projectID, id, msg)
	if err != nil {
		return fmt.Errorf("failed to record fragment sync error: %w", err)
	}
	return nil
}

// MarkCodesSynced flips the sync flag on catalog rows.
func (q queries) MarkCodesSynced(ctx context.Context, projectID string, codeIDs []int64) error {
	if len(codeIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx,
		`UPDATE catalog SET neo4j_synced = TRUE, neo4j_sync_error = ''
		 WHERE project_id = $1 AND code_id = ANY($2)`,
		projectID, codeIDs)
	if err != nil {
		return fmt.Errorf("failed to mark codes synced: %w", err)
	}
	return nil
}

// MarkCodeSyncError records a permanent failure on a catalog row.
func (q queries) MarkCodeSyncError(ctx context.Context, projectID string, codeID int64, msg string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE catalog SET neo4j_sync_error = $3 WHERE project_id = $1 AND code_id = $2`,
		projectID, codeID, msg)
	if err != nil {
		return fmt.Errorf("failed to record code sync error: %w", err)
	}
	return nil
}

// MarkAssignmentsSynced flips the sync flag on assignment edges.
func (q queries) MarkAssignmentsSynced(ctx context.Context, projectID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx,
		`UPDATE assignments SET neo4j_synced = TRUE, neo4j_sync_error = ''
		 WHERE project_id = $1 AND id = ANY($2)`,
		projectID, ids)
	if err != nil {
		return fmt.Errorf("failed to mark assignments synced: %w", err)
	}
	return nil
}

// MarkAssignmentSyncError records a permanent failure on an assignment edge.
func (q queries) MarkAssignmentSyncError(ctx context.Context, projectID string, id int64, msg string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE assignments SET neo4j_sync_error = $3 WHERE project_id = $1 AND id = $2`,
		projectID, id, msg)
	if err != nil {
		return fmt.Errorf("failed to record assignment sync error: %w", err)
	}
	return nil
}

// MarkAxialSynced flips the sync flag on axial relations.
func (q queries) MarkAxialSynced(ctx context.Context, projectID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx,
		`UPDATE axial_relations SET neo4j_synced = TRUE, neo4j_sync_error = ''
		 WHERE project_id = $1 AND id = ANY($2)`,
		projectID, ids)
	if err != nil {
		return fmt.Errorf("failed to mark axial relations synced: %w", err)
	}
	return nil
}

// MarkAxialSyncError records a permanent failure on an axial relation.
func (q queries) MarkAxialSyncError(ctx context.Context, projectID string, id int64, msg string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE axial_relations SET neo4j_sync_error = $3 WHERE project_id = $1 AND id = $2`,
		projectID, id, msg)
	if err != nil {
		return fmt.Errorf("failed to record axial sync error: %w", err)
	}
	return nil
}

// MarkPredictionsSynced flips the status on projected predictions.
func (q queries) MarkPredictionsSynced(ctx context.Context, projectID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx,
		`UPDATE link_predictions SET sync_status = 'synced', sync_error = ''
		 WHERE project_id = $1 AND id = ANY($2)`,
		projectID, ids)
	if err != nil {
		return fmt.Errorf("failed to mark predictions synced: %w", err)
	}
	return nil
}

// MarkPredictionSyncError records a permanent failure on a prediction.
func (q queries) MarkPredictionSyncError(ctx context.Context, projectID string, id int64, msg string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE link_predictions SET sync_status = 'failed', sync_error = $3
		 WHERE project_id = $1 AND id = $2`,
		projectID, id, msg)
	if err != nil {
		return fmt.Errorf("failed to record prediction sync error: %w", err)
	}
	return nil
}

// CountUnsynced returns the projection backlog per entity class.
func (q queries) CountUnsynced(ctx context.Context, projectID string) (map[types.SyncEntity]int, error) {
	var fragments, codes, assignments, axial, predictions int
	err := q.db.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM fragments
		    WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''),
		   (SELECT count(*) FROM catalog
		    WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''),
		   (SELECT count(*) FROM assignments
		    WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''
		      AND code_id IS NOT NULL),
		   (SELECT count(*) FROM axial_relations
		    WHERE project_id = $1 AND NOT neo4j_synced AND neo4j_sync_error = ''
		      AND state = 'validated'),
		   (SELECT count(*) FROM link_predictions
		    WHERE project_id = $1 AND sync_status = 'pending' AND state = 'validated')`,
		projectID).Scan(&fragments, &codes, &assignments, &axial, &predictions)
	if err != nil {
		return nil, fmt.Errorf("failed to count unsynced rows: %w", err)
	}
	return map[types.SyncEntity]int{
		types.SyncFragments:   fragments,
		types.SyncCodes:       codes,
		types.SyncAssignments: assignments,
		types.SyncAxial:       axial,
		types.SyncPredictions: predictions,
	}, nil
}

// GetSyncCursor returns the resumable cursor for (project, entity).
func (q queries) GetSyncCursor(ctx context.Context, projectID string, entity types.SyncEntity) (*types.SyncCursor, error) {
	var c types.SyncCursor
	err := q.db.QueryRow(ctx,
		`SELECT project_id, entity, position, updated_at FROM sync_cursors
		 WHERE project_id = $1 AND entity = $2`,
		projectID, entity).Scan(&c.ProjectID, &c.Entity, &c.Position, &c.UpdatedAt)
	if err != nil {
		if apperr.IsNotFound(translateError(err, "sync cursor")) {
			return &types.SyncCursor{ProjectID: projectID, Entity: entity}, nil
		}
		return nil, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	return &c, nil
}

// SetSyncCursor records progress for (project, entity).
func (q queries) SetSyncCursor(ctx context.Context, projectID string, entity types.SyncEntity, position string) error {
	if !entity.IsValid() {
		return apperr.Invalid("invalid sync entity: %s", entity)
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO sync_cursors (project_id, entity, position, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (project_id, entity) DO UPDATE SET
		     position = EXCLUDED.position, updated_at = now()`,
		projectID, entity, position)
	if err != nil {
		return fmt.Errorf("failed to set sync cursor: %w", err)
	}
	return nil
}
