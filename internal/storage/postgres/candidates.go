package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

const candidateCols = `id::text, project_id, codigo, fragment_id, source, confidence, state,
	merged_into, memo, validator, code_id, created_at, updated_at`

func scanCandidate(row rowScanner) (*types.Candidate, error) {
	var c types.Candidate
	err := row.Scan(&c.ID, &c.ProjectID, &c.Codigo, &c.FragmentID, &c.Source, &c.Confidence,
		&c.State, &c.MergedInto, &c.Memo, &c.Validator, &c.CodeID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCandidate inserts a proposal. A collision on
// (project_id, codigo, fragment_id) re-opens the existing row: state back to
// pending, confidence raised to the max of old and new.
func (q queries) UpsertCandidate(ctx context.Context, cand *types.Candidate) (string, bool, error) {
	if err := cand.Validate(); err != nil {
		return "", false, apperr.Invalid("invalid candidate: %v", err)
	}
	var (
		id      string
		created bool
	)
	err := q.db.QueryRow(ctx,
		`INSERT INTO candidates (id, project_id, codigo, fragment_id, source, confidence, memo, code_id)
		 VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project_id, codigo, fragment_id) DO UPDATE SET
		     state      = 'pending',
		     confidence = GREATEST(candidates.confidence, EXCLUDED.confidence),
		     memo       = CASE WHEN EXCLUDED.memo <> '' THEN EXCLUDED.memo ELSE candidates.memo END,
		     updated_at = now()
		 RETURNING id::text, (xmax = 0)`,
		cand.ID, cand.ProjectID, cand.Codigo, cand.FragmentID, cand.Source,
		cand.Confidence, cand.Memo, cand.CodeID).Scan(&id, &created)
	if err != nil {
		return "", false, translateError(err, fmt.Sprintf("candidate %q", cand.Codigo))
	}
	cand.ID = id
	return id, created, nil
}

// GetCandidate loads one candidate by id.
func (q queries) GetCandidate(ctx context.Context, projectID, id string) (*types.Candidate, error) {
	c, err := scanCandidate(q.db.QueryRow(ctx,
		`SELECT `+candidateCols+` FROM candidates WHERE project_id = $1 AND id = $2::uuid`,
		projectID, id))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("candidate %s", id))
	}
	return c, nil
}

// ListCandidates returns candidates matching the filter, oldest first.
func (q queries) ListCandidates(ctx context.Context, projectID string, filter types.CandidateFilter) ([]*types.Candidate, error) {
	sql := `SELECT ` + candidateCols + ` FROM candidates WHERE project_id = $1`
	args := []any{projectID}

	if len(filter.States) > 0 {
		var states []string
		for _, s := range filter.States {
			states = append(states, string(s))
		}
		args = append(args, states)
		sql += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	if filter.Codigo != "" {
		args = append(args, strings.ToLower(filter.Codigo))
		sql += fmt.Sprintf(" AND lower(codigo) = $%d", len(args))
	}
	if filter.FragmentID != "" {
		args = append(args, filter.FragmentID)
		sql += fmt.Sprintf(" AND fragment_id = $%d", len(args))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		sql += fmt.Sprintf(" AND source = $%d", len(args))
	}
	sql += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()
	return collectCandidates(rows)
}

func collectCandidates(rows pgx.Rows) ([]*types.Candidate, error) {
	var out []*types.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCandidate rewrites the mutable columns of a candidate row.
func (q queries) UpdateCandidate(ctx context.Context, cand *types.Candidate) error {
	if err := cand.Validate(); err != nil {
		return apperr.Invalid("invalid candidate: %v", err)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE candidates
		 SET codigo = $3, state = $4, merged_into = $5, memo = $6, validator = $7,
		     confidence = $8, code_id = $9, updated_at = now()
		 WHERE project_id = $1 AND id = $2::uuid`,
		cand.ProjectID, cand.ID, cand.Codigo, cand.State, cand.MergedInto,
		cand.Memo, cand.Validator, cand.Confidence, cand.CodeID)
	if err != nil {
		return translateError(err, fmt.Sprintf("candidate %s", cand.ID))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("candidate %s not found", cand.ID)
	}
	return nil
}

// ListCandidatesMissingCodeID returns open candidates whose label already
// exists in the catalog but whose code_id column is still NULL. Backfill
// targets.
func (q queries) ListCandidatesMissingCodeID(ctx context.Context, projectID string, limit int) ([]*types.Candidate, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+candidateCols+` FROM candidates c
		 WHERE c.project_id = $1 AND c.code_id IS NULL
		   AND c.state IN ('pending', 'validated')
		   AND EXISTS (
		         SELECT 1 FROM catalog k
		         WHERE k.project_id = c.project_id AND lower(k.codigo) = lower(c.codigo))
		 ORDER BY c.created_at, c.id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates missing code_id: %w", err)
	}
	defer rows.Close()
	return collectCandidates(rows)
}

// ListUnembeddedCandidates returns pending candidates the background
// embedder has not processed yet, oldest first.
func (q queries) ListUnembeddedCandidates(ctx context.Context, projectID string, limit int) ([]*types.Candidate, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+candidateCols+` FROM candidates
		 WHERE project_id = $1 AND NOT embedded AND state = 'pending'
		 ORDER BY created_at, id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded candidates: %w", err)
	}
	defer rows.Close()
	return collectCandidates(rows)
}

// MarkCandidatesEmbedded records that embeddings reached the vector store.
func (q queries) MarkCandidatesEmbedded(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx,
		`UPDATE candidates SET embedded = TRUE
		 WHERE project_id = $1 AND id = ANY($2::uuid[])`,
		projectID, ids)
	if err != nil {
		return fmt.Errorf("failed to mark candidates embedded: %w", err)
	}
	return nil
}

// PendingBacklog returns the pending candidate count and the creation time
// of the oldest pending row.
func (q queries) PendingBacklog(ctx context.Context, projectID string) (int, time.Time, error) {
	var (
		count  int
		oldest *time.Time
	)
	err := q.db.QueryRow(ctx,
		`SELECT count(*), min(created_at) FROM candidates
		 WHERE project_id = $1 AND state = 'pending'`,
		projectID).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read pending backlog: %w", err)
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}
