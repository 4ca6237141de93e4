// Package vector defines the embedding projection target.
//
// Embeddings are keyed by fragment_id and carry project_id as an indexed
// payload field. Like the graph, the vector store is a projection of the
// ledger; losing it costs a re-embed, never data.
package vector

import (
	"context"
	"time"
)

// Embedding is one stored vector for a fragment.
type Embedding struct {
	ProjectID  string    `json:"project_id"`
	FragmentID string    `json:"fragment_id"`
	Vector     []float32 `json:"-"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Match is one nearest-neighbor search result.
type Match struct {
	FragmentID string  `json:"fragment_id"`
	Distance   float64 `json:"distance"`
}

// Store is the embedding projection target. Upserts are idempotent by
// (project_id, fragment_id).
type Store interface {
	Upsert(ctx context.Context, e *Embedding) error
	// Search returns up to limit fragments nearest to query by cosine
	// distance, scoped to one project.
	Search(ctx context.Context, projectID string, query []float32, limit int) ([]Match, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
