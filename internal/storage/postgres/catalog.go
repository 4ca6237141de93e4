package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// CreateProject inserts the tenancy root row.
func (q queries) CreateProject(ctx context.Context, p *types.Project) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO projects (id, organization_id, name) VALUES ($1, $2, $3)`,
		p.ID, p.OrganizationID, p.Name)
	return translateError(err, fmt.Sprintf("project %s", p.ID))
}

// GetProject loads a project by id.
func (q queries) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	var p types.Project
	err := q.db.QueryRow(ctx,
		`SELECT id, organization_id, name, created_at FROM projects WHERE id = $1`,
		projectID).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("project %s", projectID))
	}
	return &p, nil
}

// ListProjects returns all projects ordered by creation time.
func (q queries) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, organization_id, name, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

const catalogCols = `code_id, project_id, codigo, status, canonical_code_id, memo,
	neo4j_synced, neo4j_sync_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCode(row rowScanner) (*types.CatalogCode, error) {
	var c types.CatalogCode
	err := row.Scan(&c.CodeID, &c.ProjectID, &c.Codigo, &c.Status, &c.CanonicalCodeID,
		&c.Memo, &c.Neo4jSynced, &c.SyncError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCode inserts a catalog row and mints its code_id.
func (q queries) CreateCode(ctx context.Context, code *types.CatalogCode) (int64, error) {
	if err := code.Validate(); err != nil {
		return 0, apperr.Invalid("invalid catalog code: %v", err)
	}
	status := code.Status
	if status == "" {
		status = types.CodeActive
	}
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO catalog (project_id, codigo, status, canonical_code_id, memo)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING code_id`,
		code.ProjectID, code.Codigo, status, code.CanonicalCodeID, code.Memo).Scan(&id)
	if err != nil {
		return 0, translateError(err, fmt.Sprintf("code %q", code.Codigo))
	}
	code.CodeID = id
	return id, nil
}

// GetCode loads a catalog row by its stable id.
func (q queries) GetCode(ctx context.Context, projectID string, codeID int64) (*types.CatalogCode, error) {
	c, err := scanCode(q.db.QueryRow(ctx,
		`SELECT `+catalogCols+` FROM catalog WHERE project_id = $1 AND code_id = $2`,
		projectID, codeID))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("code %d", codeID))
	}
	return c, nil
}

// GetCodeByLabel looks up a catalog row by label, case-insensitively.
// Stable across case-only renames.
func (q queries) GetCodeByLabel(ctx context.Context, projectID, codigo string) (*types.CatalogCode, error) {
	c, err := scanCode(q.db.QueryRow(ctx,
		`SELECT `+catalogCols+` FROM catalog
		 WHERE project_id = $1 AND lower(codigo) = lower($2)`,
		projectID, codigo))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("code %q", codigo))
	}
	return c, nil
}

// ListCodes returns catalog rows, optionally filtered by status. limit 0
// means no limit.
func (q queries) ListCodes(ctx context.Context, projectID string, statuses []types.CodeStatus, limit int) ([]*types.CatalogCode, error) {
	var statusArgs []string
	for _, s := range statuses {
		statusArgs = append(statusArgs, string(s))
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+catalogCols+` FROM catalog
		 WHERE project_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		 ORDER BY code_id
		 LIMIT NULLIF($3, 0)`,
		projectID, statusArgs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	defer rows.Close()
	return collectCodes(rows)
}

// ListRecentCodes returns the most recently updated catalog rows, newest
// first. The duplicate pre-check compares submissions against this window.
func (q queries) ListRecentCodes(ctx context.Context, projectID string, limit int) ([]*types.CatalogCode, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+catalogCols+` FROM catalog
		 WHERE project_id = $1
		 ORDER BY updated_at DESC
		 LIMIT NULLIF($2, 0)`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent codes: %w", err)
	}
	defer rows.Close()
	return collectCodes(rows)
}

func collectCodes(rows pgx.Rows) ([]*types.CatalogCode, error) {
	var out []*types.CatalogCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCanonicalPairs returns the (code_id → canonical_code_id) view of the
// whole project catalog for chain walks.
func (q queries) ListCanonicalPairs(ctx context.Context, projectID string) ([]types.CodePointer, error) {
	rows, err := q.db.Query(ctx,
		`SELECT code_id, canonical_code_id, status, codigo FROM catalog WHERE project_id = $1`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical pairs: %w", err)
	}
	defer rows.Close()

	var out []types.CodePointer
	for rows.Next() {
		var p types.CodePointer
		if err := rows.Scan(&p.CodeID, &p.CanonicalCodeID, &p.Status, &p.Codigo); err != nil {
			return nil, fmt.Errorf("failed to scan canonical pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateCodePointer rewrites a row's status and canonical pointer and
// resets its sync flag so projection picks up the change.
func (q queries) UpdateCodePointer(ctx context.Context, projectID string, codeID int64, status types.CodeStatus, canonicalCodeID *int64) error {
	if !status.IsValid() {
		return apperr.Invalid("invalid status: %s", status)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE catalog
		 SET status = $3, canonical_code_id = $4,
		     neo4j_synced = FALSE, neo4j_sync_error = '', updated_at = now()
		 WHERE project_id = $1 AND code_id = $2`,
		projectID, codeID, status, canonicalCodeID)
	if err != nil {
		return translateError(err, fmt.Sprintf("code %d", codeID))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("code %d not found", codeID)
	}
	return nil
}

// RenameCode changes a row's label. The code_id is untouched, which is the
// point: identity survives renames.
func (q queries) RenameCode(ctx context.Context, projectID string, codeID int64, newCodigo string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE catalog
		 SET codigo = $3, neo4j_synced = FALSE, neo4j_sync_error = '', updated_at = now()
		 WHERE project_id = $1 AND code_id = $2`,
		projectID, codeID, newCodigo)
	if err != nil {
		return translateError(err, fmt.Sprintf("code %q", newCodigo))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("code %d not found", codeID)
	}
	return nil
}
