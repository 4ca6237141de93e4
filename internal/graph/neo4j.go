package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// Neo4jConfig holds connection parameters for the graph database.
type Neo4jConfig struct {
	URI      string // e.g. neo4j://localhost:7687
	User     string
	Password string
	Database string // empty uses the server default
}

// Neo4jStore implements Store on a Neo4j server. All writes are Cypher
// MERGE statements keyed by stable identity, guarded by an updated_at
// comparison so an older ledger state never overwrites a newer one.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ Store = (*Neo4jStore)(nil)

// NewNeo4jStore connects to the graph database and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperr.Dependency(err, "neo4j")
	}
	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

// Ping verifies connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return apperr.Dependency(err, "neo4j")
	}
	return nil
}

// Close releases the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return apperr.Dependency(err, "neo4j")
	}
	return nil
}

// UpsertFragment merges the fragment node, its interview and the
// HAS_FRAGMENT edge. Fragment identity in the graph is the composite
// (id, project_id).
func (s *Neo4jStore) UpsertFragment(ctx context.Context, f *types.Fragment) error {
	params := map[string]any{
		"id":           f.ID,
		"project_id":   f.ProjectID,
		"text":         f.Text,
		"par_idx":      f.ParIdx,
		"char_len":     f.CharLen,
		"speaker":      f.Speaker,
		"interview_id": f.InterviewID,
		"updated_at":   f.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	cypher := `
		MERGE (fr:Fragment {id: $id, project_id: $project_id})
		SET fr.text = $text, fr.par_idx = $par_idx,
		    fr.char_len = $char_len, fr.speaker = $speaker,
		    fr.updated_at = $updated_at`
	if f.InterviewID != "" {
		cypher += `
		MERGE (iv:Interview {id: $interview_id, project_id: $project_id})
		MERGE (iv)-[:HAS_FRAGMENT]->(fr)`
	}
	return s.run(ctx, cypher, params)
}

// UpsertCode merges the code node by code_id; the label is a property.
// An older snapshot never clobbers a newer label.
func (s *Neo4jStore) UpsertCode(ctx context.Context, c *types.CatalogCode) error {
	return s.run(ctx, `
		MERGE (co:Code {code_id: $code_id, project_id: $project_id})
		ON CREATE SET co.codigo = $codigo, co.status = $status, co.updated_at = $updated_at
		ON MATCH SET co.codigo = CASE WHEN co.updated_at IS NULL OR co.updated_at <= $updated_at
		                              THEN $codigo ELSE co.codigo END,
		             co.status = CASE WHEN co.updated_at IS NULL OR co.updated_at <= $updated_at
		                              THEN $status ELSE co.status END,
		             co.updated_at = CASE WHEN co.updated_at IS NULL OR co.updated_at <= $updated_at
		                                  THEN $updated_at ELSE co.updated_at END`,
		map[string]any{
			"code_id":    c.CodeID,
			"project_id": c.ProjectID,
			"codigo":     c.Codigo,
			"status":     string(c.Status),
			"updated_at": c.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
}

// UpsertAssignment merges the Fragment-HAS_CODE→Code edge.
func (s *Neo4jStore) UpsertAssignment(ctx context.Context, a *types.Assignment) error {
	if a.CodeID == nil {
		return apperr.Invalid("assignment %d has no code_id; backfill before projecting", a.ID)
	}
	return s.run(ctx, `
		MERGE (fr:Fragment {id: $fragment_id, project_id: $project_id})
		MERGE (co:Code {code_id: $code_id, project_id: $project_id})
		MERGE (fr)-[r:HAS_CODE]->(co)
		SET r.cita = $cita, r.updated_at = $updated_at`,
		map[string]any{
			"fragment_id": a.FragmentID,
			"project_id":  a.ProjectID,
			"code_id":     *a.CodeID,
			"cita":        a.Cita,
			"updated_at":  a.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
}

// UpsertAxialRelation merges the category node and its REL edge to the
// code, carrying relation type, memo and evidence.
func (s *Neo4jStore) UpsertAxialRelation(ctx context.Context, r *types.AxialRelation) error {
	return s.run(ctx, `
		MERGE (ca:Category {nombre: $categoria, project_id: $project_id})
		MERGE (co:Code {code_id: $code_id, project_id: $project_id})
		MERGE (ca)-[rel:REL {type: $relation}]->(co)
		SET rel.memo = $memo, rel.evidence = $evidence, rel.updated_at = $updated_at`,
		map[string]any{
			"categoria":  r.Categoria,
			"project_id": r.ProjectID,
			"code_id":    r.CodeID,
			"relation":   string(r.Relation),
			"memo":       r.Memo,
			"evidence":   r.Evidence,
			"updated_at": r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
}

// UpsertPrediction merges the Code-REL→Code edge for a validated link
// prediction.
func (s *Neo4jStore) UpsertPrediction(ctx context.Context, p *types.LinkPrediction) error {
	return s.run(ctx, `
		MERGE (src:Code {code_id: $source_code_id, project_id: $project_id})
		MERGE (dst:Code {code_id: $target_code_id, project_id: $project_id})
		MERGE (src)-[rel:REL {type: $relation}]->(dst)
		SET rel.source = $source, rel.score = $score, rel.updated_at = $updated_at`,
		map[string]any{
			"source_code_id": p.SourceCodeID,
			"target_code_id": p.TargetCodeID,
			"project_id":     p.ProjectID,
			"relation":       p.Relation,
			"source":         p.Source,
			"score":          p.Score,
			"updated_at":     p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
}
