package postgres

import (
	"context"
	"fmt"

	"github.com/tesela-labs/tesela/internal/canonical"
	"github.com/tesela-labs/tesela/internal/types"
)

// ReadinessCounters computes the four structural-consistency counters in
// one snapshot. The two label/pointer counters are plain SQL; divergence
// and cycle counts walk an in-memory snapshot of the canonical pairs.
func (q queries) ReadinessCounters(ctx context.Context, projectID string) (types.ReadinessCounters, error) {
	var c types.ReadinessCounters

	// Assignments whose code_id is NULL although the label is catalogued.
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM assignments a
		 WHERE a.project_id = $1 AND a.code_id IS NULL
		   AND EXISTS (
		         SELECT 1 FROM catalog k
		         WHERE k.project_id = a.project_id AND lower(k.codigo) = lower(a.codigo))`,
		projectID).Scan(&c.MissingCodeID)
	if err != nil {
		return c, fmt.Errorf("failed to count missing code_id: %w", err)
	}

	// Merged rows with a NULL, dangling or self canonical pointer. A
	// self-pointer on a merged row claims to be its own survivor, which
	// contradicts its status.
	err = q.db.QueryRow(ctx,
		`SELECT count(*) FROM catalog m
		 WHERE m.project_id = $1 AND m.status = 'merged'
		   AND (m.canonical_code_id IS NULL
		        OR m.canonical_code_id = m.code_id
		        OR NOT EXISTS (
		              SELECT 1 FROM catalog k
		              WHERE k.project_id = m.project_id AND k.code_id = m.canonical_code_id))`,
		projectID).Scan(&c.MissingCanonicalCodeID)
	if err != nil {
		return c, fmt.Errorf("failed to count missing canonical pointers: %w", err)
	}

	pairs, err := q.ListCanonicalPairs(ctx, projectID)
	if err != nil {
		return c, err
	}
	chain := canonical.NewChain(pairs, q.maxHops)
	c.CyclesNonTrivial = len(chain.CycleMembers())

	rows, err := q.db.Query(ctx,
		`SELECT code_id, codigo FROM assignments
		 WHERE project_id = $1 AND code_id IS NOT NULL`,
		projectID)
	if err != nil {
		return c, fmt.Errorf("failed to scan assignments for divergence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			codeID int64
			codigo string
		)
		if err := rows.Scan(&codeID, &codigo); err != nil {
			return c, fmt.Errorf("failed to scan assignment identity: %w", err)
		}
		if chain.Divergent(codeID, codigo) {
			c.DivergencesTextVsID++
		}
	}
	return c, rows.Err()
}
