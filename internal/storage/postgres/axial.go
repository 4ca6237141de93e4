package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

const axialCols = `id, project_id, categoria, codigo, code_id, relation, memo, evidence, state,
	neo4j_synced, neo4j_sync_error, created_at, updated_at`

func scanAxial(row rowScanner) (*types.AxialRelation, error) {
	var r types.AxialRelation
	err := row.Scan(&r.ID, &r.ProjectID, &r.Categoria, &r.Codigo, &r.CodeID, &r.Relation,
		&r.Memo, &r.Evidence, &r.State, &r.Neo4jSynced, &r.SyncError, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateAxialRelation inserts a categoria→codigo relation. The caller has
// already resolved code_id to canonical and passed the readiness gate.
func (q queries) CreateAxialRelation(ctx context.Context, r *types.AxialRelation) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, apperr.Invalid("invalid axial relation: %v", err)
	}
	state := r.State
	if state == "" {
		state = types.AxialPending
	}
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO axial_relations (project_id, categoria, codigo, code_id, relation, memo, evidence, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		r.ProjectID, r.Categoria, r.Codigo, r.CodeID, r.Relation, r.Memo, r.Evidence, state).Scan(&id)
	if err != nil {
		return 0, translateError(err, fmt.Sprintf("axial relation (%q, %q, %s)", r.Categoria, r.Codigo, r.Relation))
	}
	r.ID = id
	return id, nil
}

// GetAxialRelation loads one relation by id.
func (q queries) GetAxialRelation(ctx context.Context, projectID string, id int64) (*types.AxialRelation, error) {
	r, err := scanAxial(q.db.QueryRow(ctx,
		`SELECT `+axialCols+` FROM axial_relations WHERE project_id = $1 AND id = $2`,
		projectID, id))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("axial relation %d", id))
	}
	return r, nil
}

// ListAxialRelations returns relations, optionally filtered by state.
func (q queries) ListAxialRelations(ctx context.Context, projectID string, states []types.AxialState, limit int) ([]*types.AxialRelation, error) {
	var stateArgs []string
	for _, s := range states {
		stateArgs = append(stateArgs, string(s))
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+axialCols+` FROM axial_relations
		 WHERE project_id = $1 AND ($2::text[] IS NULL OR state = ANY($2))
		 ORDER BY id
		 LIMIT NULLIF($3, 0)`,
		projectID, stateArgs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list axial relations: %w", err)
	}
	defer rows.Close()
	return collectAxial(rows)
}

func collectAxial(rows pgx.Rows) ([]*types.AxialRelation, error) {
	var out []*types.AxialRelation
	for rows.Next() {
		r, err := scanAxial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan axial relation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransitionAxialRelation moves a relation to a new validation state and
// resets its sync flag so the graph edge reflects the decision.
func (q queries) TransitionAxialRelation(ctx context.Context, projectID string, id int64, state types.AxialState, actor string) error {
	if !state.IsValid() {
		return apperr.Invalid("invalid axial state: %s", state)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE axial_relations
		 SET state = $3, neo4j_synced = FALSE, neo4j_sync_error = '', updated_at = now()
		 WHERE project_id = $1 AND id = $2`,
		projectID, id, state)
	if err != nil {
		return translateError(err, fmt.Sprintf("axial relation %d", id))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("axial relation %d not found", id)
	}
	return nil
}
