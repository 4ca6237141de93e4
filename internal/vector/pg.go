package vector

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tesela-labs/tesela/internal/apperr"
)

// PgStore keeps embeddings in the same PostgreSQL instance as the ledger,
// in the embeddings table, using the pgvector extension. It shares the
// ledger's connection pool so request and background concurrency stay
// within one database limit.
type PgStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PgStore)(nil)

// NewPgStore wraps an existing pool. The embeddings table and the vector
// extension are created by the ledger migrations.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Upsert stores or replaces the fragment's embedding.
func (s *PgStore) Upsert(ctx context.Context, e *Embedding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embeddings (project_id, fragment_id, embedding, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, fragment_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model,
		              created_at = now()`,
		e.ProjectID, e.FragmentID, pgvector.NewVector(e.Vector), e.Model)
	if err != nil {
		return apperr.Dependency(err, "vector")
	}
	return nil
}

// Search runs a cosine nearest-neighbor query scoped to the project.
func (s *PgStore) Search(ctx context.Context, projectID string, query []float32, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT fragment_id, embedding <=> $2 AS distance
		FROM embeddings
		WHERE project_id = $1
		ORDER BY distance
		LIMIT $3`,
		projectID, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, apperr.Dependency(err, "vector")
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.FragmentID, &m.Distance); err != nil {
			return nil, apperr.Dependency(err, "vector")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Dependency(err, "vector")
	}
	return out, nil
}

// Ping verifies the pool.
func (s *PgStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperr.Dependency(err, "vector")
	}
	return nil
}

// Close is a no-op; the shared pool belongs to the ledger.
func (s *PgStore) Close(ctx context.Context) error { return nil }
