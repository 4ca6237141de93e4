package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// AppendVersionEvent writes one row of the catalog audit log. It runs in
// the same transaction as the write it records, so audit and mutation
// commit or roll back together.
func (q queries) AppendVersionEvent(ctx context.Context, ev *types.VersionEvent) error {
	if !ev.Action.IsValid() {
		return apperr.Invalid("invalid version action: %s", ev.Action)
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO versions (project_id, codigo, code_id, action, actor, previous, next)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ProjectID, ev.Codigo, ev.CodeID, ev.Action, ev.Actor, ev.Previous, ev.Next)
	if err != nil {
		return fmt.Errorf("failed to append version event: %w", err)
	}
	return nil
}

// ListVersionEvents returns the audit trail for a label, newest first.
// An empty codigo returns the whole project trail.
func (q queries) ListVersionEvents(ctx context.Context, projectID, codigo string, limit int) ([]*types.VersionEvent, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, project_id, codigo, code_id, action, actor, previous, next, at
		 FROM versions
		 WHERE project_id = $1 AND ($2 = '' OR lower(codigo) = lower($2))
		 ORDER BY at DESC, id DESC
		 LIMIT NULLIF($3, 0)`,
		projectID, codigo, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list version events: %w", err)
	}
	defer rows.Close()

	var out []*types.VersionEvent
	for rows.Next() {
		var ev types.VersionEvent
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.Codigo, &ev.CodeID, &ev.Action,
			&ev.Actor, &ev.Previous, &ev.Next, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan version event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

const opsLogCols = `id, project_id, session_id, request_id, operation, dry_run, confirm,
	write_intent, batch_size, updated_rows, duration_ms, status_code, outcome, error,
	actor, started_at, finished_at`

// AppendOpsLog persists the record of one admin operation run.
func (q queries) AppendOpsLog(ctx context.Context, entry *types.OpsLogEntry) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO ops_log (project_id, session_id, request_id, operation, dry_run, confirm,
		                      write_intent, batch_size, updated_rows, duration_ms, status_code,
		                      outcome, error, actor, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`,
		entry.ProjectID, entry.SessionID, entry.RequestID, entry.Operation, entry.DryRun,
		entry.Confirm, entry.WriteIntent, entry.BatchSize, entry.UpdatedRows, entry.DurationMS,
		entry.StatusCode, entry.Outcome, entry.Error, entry.Actor,
		entry.StartedAt, entry.FinishedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append ops log: %w", err)
	}
	entry.ID = id
	return id, nil
}

// ListOpsLog returns operational history, newest first, filtered per the
// /ops endpoints: kind (all|errors|mutations), exact op name, intent
// (all|write_intent_post) and a time window.
func (q queries) ListOpsLog(ctx context.Context, projectID string, filter types.OpsLogFilter) ([]*types.OpsLogEntry, error) {
	sql := `SELECT ` + opsLogCols + ` FROM ops_log WHERE project_id = $1`
	args := []any{projectID}

	switch strings.ToLower(filter.Kind) {
	case "", "all":
	case "errors":
		sql += ` AND outcome IN ('ERROR', 'UNKNOWN')`
	case "mutations":
		sql += ` AND NOT dry_run AND outcome = 'OK'`
	default:
		return nil, apperr.Invalid("unknown ops log kind: %s", filter.Kind)
	}
	if filter.Op != "" {
		args = append(args, filter.Op)
		sql += fmt.Sprintf(" AND operation = $%d", len(args))
	}
	switch strings.ToLower(filter.Intent) {
	case "", "all":
	case "write_intent_post":
		sql += ` AND write_intent`
	default:
		return nil, apperr.Invalid("unknown ops log intent: %s", filter.Intent)
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		sql += fmt.Sprintf(" AND started_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		sql += fmt.Sprintf(" AND started_at <= $%d", len(args))
	}
	sql += " ORDER BY started_at DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ops log: %w", err)
	}
	defer rows.Close()

	var out []*types.OpsLogEntry
	for rows.Next() {
		var e types.OpsLogEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.RequestID, &e.Operation,
			&e.DryRun, &e.Confirm, &e.WriteIntent, &e.BatchSize, &e.UpdatedRows,
			&e.DurationMS, &e.StatusCode, &e.Outcome, &e.Error, &e.Actor,
			&e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ops log entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
