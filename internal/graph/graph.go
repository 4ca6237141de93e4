// Package graph defines the projection target for the knowledge graph.
//
// The graph store is a projection of the ledger, never an authority: it
// only reflects identity minted by the ledger, and every upsert merges by
// stable identity (code_id for codes, (id, project_id) for fragments) so
// replays are harmless. The reverse direction does not exist.
package graph

import (
	"context"

	"github.com/tesela-labs/tesela/internal/types"
)

// Store is the projection target. Implementations must make every call
// idempotent and must not drop newer state for older (upserts carry the
// ledger row's updated_at for that purpose).
type Store interface {
	// UpsertFragment merges the fragment node, its interview node and the
	// HAS_FRAGMENT edge.
	UpsertFragment(ctx context.Context, f *types.Fragment) error
	// UpsertCode merges the code node by code_id. codigo is a renameable
	// label property, never a match key.
	UpsertCode(ctx context.Context, c *types.CatalogCode) error
	// UpsertAssignment merges the Fragment-HAS_CODE→Code edge.
	UpsertAssignment(ctx context.Context, a *types.Assignment) error
	// UpsertAxialRelation merges the category node and the
	// Category-REL→Code edge with its evidence payload.
	UpsertAxialRelation(ctx context.Context, r *types.AxialRelation) error
	// UpsertPrediction merges the Code-REL→Code edge for a validated link
	// prediction.
	UpsertPrediction(ctx context.Context, p *types.LinkPrediction) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
