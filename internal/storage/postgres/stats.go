package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/tesela-labs/tesela/internal/types"
)

// GetProjectStats summarises ledger state for the operator surface.
func (q queries) GetProjectStats(ctx context.Context, projectID string) (*types.ProjectStats, error) {
	stats := &types.ProjectStats{
		ProjectID:         projectID,
		CatalogByStatus:   make(map[types.CodeStatus]int),
		CandidatesByState: make(map[types.CandidateState]int),
	}

	rows, err := q.db.Query(ctx,
		`SELECT status, count(*) FROM catalog WHERE project_id = $1 GROUP BY status`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count catalog by status: %w", err)
	}
	for rows.Next() {
		var (
			status types.CodeStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan catalog count: %w", err)
		}
		stats.CatalogByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.db.Query(ctx,
		`SELECT state, count(*) FROM candidates WHERE project_id = $1 GROUP BY state`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count candidates by state: %w", err)
	}
	for rows.Next() {
		var (
			state types.CandidateState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan candidate count: %w", err)
		}
		stats.CandidatesByState[state] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	unsynced, err := q.CountUnsynced(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stats.UnsyncedFragments = unsynced[types.SyncFragments]
	stats.UnsyncedCodes = unsynced[types.SyncCodes]
	stats.UnsyncedAxial = unsynced[types.SyncAxial]
	stats.UnsyncedPredictions = unsynced[types.SyncPredictions]

	pending, oldest, err := q.PendingBacklog(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stats.PendingCandidates = pending
	if !oldest.IsZero() {
		stats.OldestPendingAgeDays = time.Since(oldest).Hours() / 24
	}
	return stats, nil
}
