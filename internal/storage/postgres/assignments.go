package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/canonical"
	"github.com/tesela-labs/tesela/internal/types"
)

const assignmentCols = `id, project_id, fragment_id, codigo, code_id, cita, source_file,
	neo4j_synced, neo4j_sync_error, created_at, updated_at`

func scanAssignment(row rowScanner) (*types.Assignment, error) {
	var a types.Assignment
	err := row.Scan(&a.ID, &a.ProjectID, &a.FragmentID, &a.Codigo, &a.CodeID, &a.Cita,
		&a.SourceFile, &a.Neo4jSynced, &a.SyncError, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAssignment inserts a definitive code↔fragment link.
func (q queries) CreateAssignment(ctx context.Context, a *types.Assignment) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, apperr.Invalid("invalid assignment: %v", err)
	}
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO assignments (project_id, fragment_id, codigo, code_id, cita, source_file)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		a.ProjectID, a.FragmentID, a.Codigo, a.CodeID, a.Cita, a.SourceFile).Scan(&id)
	if err != nil {
		return 0, translateError(err, fmt.Sprintf("assignment (%s, %q)", a.FragmentID, a.Codigo))
	}
	a.ID = id
	return id, nil
}

// GetAssignment looks up the link for (fragment, codigo), label matched
// case-insensitively because labels come from the catalog.
func (q queries) GetAssignment(ctx context.Context, projectID, fragmentID, codigo string) (*types.Assignment, error) {
	a, err := scanAssignment(q.db.QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM assignments
		 WHERE project_id = $1 AND fragment_id = $2 AND lower(codigo) = lower($3)`,
		projectID, fragmentID, codigo))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("assignment (%s, %q)", fragmentID, codigo))
	}
	return a, nil
}

// ListAssignments returns assignments ordered by id. limit 0 means all.
func (q queries) ListAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+assignmentCols+` FROM assignments
		 WHERE project_id = $1 ORDER BY id LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func collectAssignments(rows pgx.Rows) ([]*types.Assignment, error) {
	var out []*types.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAssignmentsMissingCodeID returns rows whose code_id is NULL although
// the label exists in the catalog. These are the missing_code_id counter's
// members and the backfill operation's targets.
func (q queries) ListAssignmentsMissingCodeID(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+assignmentCols+` FROM assignments a
		 WHERE a.project_id = $1 AND a.code_id IS NULL
		   AND EXISTS (
		         SELECT 1 FROM catalog k
		         WHERE k.project_id = a.project_id AND lower(k.codigo) = lower(a.codigo))
		 ORDER BY a.id
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments missing code_id: %w", err)
	}
	defer rows.Close()
	return collectAssignments(rows)
}

// ListDivergentAssignments returns rows whose codigo and code_id do not
// resolve to the same canonical code. Resolution runs over an in-memory
// snapshot of the canonical pairs.
func (q queries) ListDivergentAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	pairs, err := q.ListCanonicalPairs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	chain := canonical.NewChain(pairs, q.maxHops)

	rows, err := q.db.Query(ctx,
		`SELECT `+assignmentCols+` FROM assignments
		 WHERE project_id = $1 AND code_id IS NOT NULL
		 ORDER BY id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*types.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if !chain.Divergent(*a.CodeID, a.Codigo) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// UpdateAssignmentIdentity rewrites the denormalised (code_id, codigo) pair
// and resets the sync flag so projection republishes the edge.
func (q queries) UpdateAssignmentIdentity(ctx context.Context, projectID string, id int64, codeID int64, codigo string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE assignments
		 SET code_id = $3, codigo = $4,
		     neo4j_synced = FALSE, neo4j_sync_error = '', updated_at = now()
		 WHERE project_id = $1 AND id = $2`,
		projectID, id, codeID, codigo)
	if err != nil {
		return translateError(err, fmt.Sprintf("assignment %d", id))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("assignment %d not found", id)
	}
	return nil
}
