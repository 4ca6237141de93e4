package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tesela-labs/tesela/internal/types"
)

// Integration test for the Neo4j store. Runs only against a real server:
//
//	TESELA_TEST_NEO4J_URI=neo4j://localhost:7687 \
//	TESELA_TEST_NEO4J_USER=neo4j TESELA_TEST_NEO4J_PASSWORD=secret \
//	go test ./internal/graph/
//
// Nodes are keyed by a random project id, so reruns never collide.

func openTestNeo4j(t *testing.T) *Neo4jStore {
	t.Helper()
	uri := os.Getenv("TESELA_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("TESELA_TEST_NEO4J_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := NewNeo4jStore(ctx, Neo4jConfig{
		URI:      uri,
		User:     os.Getenv("TESELA_TEST_NEO4J_USER"),
		Password: os.Getenv("TESELA_TEST_NEO4J_PASSWORD"),
	})
	if err != nil {
		t.Fatalf("NewNeo4jStore: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Close(ctx) //nolint:errcheck
	})
	return s
}

func (s *Neo4jStore) queryInt(ctx context.Context, t *testing.T, cypher string, params map[string]any) int64 {
	t.Helper()
	res, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("query returned %d records, want 1", len(res.Records))
	}
	n, ok := res.Records[0].Values[0].(int64)
	if !ok {
		t.Fatalf("query returned %T, want int64", res.Records[0].Values[0])
	}
	return n
}

func TestIntegrationProjectionShape(t *testing.T) {
	s := openTestNeo4j(t)
	ctx := context.Background()
	projectID := "it-" + uuid.NewString()
	now := time.Now().UTC()

	err := s.UpsertFragment(ctx, &types.Fragment{
		ID:          "frag-1",
		ProjectID:   projectID,
		InterviewID: "iv-1",
		Text:        "sin agua",
		ParIdx:      1,
		CharLen:     8,
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("UpsertFragment: %v", err)
	}

	codeID := int64(1)
	err = s.UpsertCode(ctx, &types.CatalogCode{
		CodeID:    codeID,
		ProjectID: projectID,
		Codigo:    "escasez de agua",
		Status:    types.CodeActive,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertCode: %v", err)
	}

	err = s.UpsertAssignment(ctx, &types.Assignment{
		ProjectID:  projectID,
		FragmentID: "frag-1",
		Codigo:     "escasez de agua",
		CodeID:     &codeID,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("UpsertAssignment: %v", err)
	}

	// Interview -HAS_FRAGMENT-> Fragment -HAS_CODE-> Code, one path.
	got := s.queryInt(ctx, t, `
		MATCH (:Interview {id: $iv, project_id: $p})-[:HAS_FRAGMENT]->
		      (:Fragment {id: $fr, project_id: $p})-[:HAS_CODE]->
		      (:Code {code_id: $co, project_id: $p})
		RETURN count(*)`,
		map[string]any{"p": projectID, "iv": "iv-1", "fr": "frag-1", "co": codeID})
	if got != 1 {
		t.Errorf("projection path count = %d, want 1", got)
	}

	// Re-upserting merges rather than duplicating.
	if err := s.UpsertAssignment(ctx, &types.Assignment{
		ProjectID:  projectID,
		FragmentID: "frag-1",
		Codigo:     "escasez de agua",
		CodeID:     &codeID,
		UpdatedAt:  now.Add(time.Second),
	}); err != nil {
		t.Fatalf("UpsertAssignment again: %v", err)
	}
	got = s.queryInt(ctx, t, `
		MATCH (:Fragment {id: $fr, project_id: $p})-[r:HAS_CODE]->(:Code {project_id: $p})
		RETURN count(r)`,
		map[string]any{"p": projectID, "fr": "frag-1"})
	if got != 1 {
		t.Errorf("HAS_CODE edge count after re-upsert = %d, want 1", got)
	}
}

func TestIntegrationStaleCodeSnapshotIgnored(t *testing.T) {
	s := openTestNeo4j(t)
	ctx := context.Background()
	projectID := "it-" + uuid.NewString()
	now := time.Now().UTC()

	fresh := &types.CatalogCode{
		CodeID:    7,
		ProjectID: projectID,
		Codigo:    "nuevo nombre",
		Status:    types.CodeActive,
		UpdatedAt: now,
	}
	if err := s.UpsertCode(ctx, fresh); err != nil {
		t.Fatalf("UpsertCode: %v", err)
	}

	// An older snapshot of the same code must not clobber the label.
	stale := &types.CatalogCode{
		CodeID:    7,
		ProjectID: projectID,
		Codigo:    "nombre viejo",
		Status:    types.CodeActive,
		UpdatedAt: now.Add(-time.Hour),
	}
	if err := s.UpsertCode(ctx, stale); err != nil {
		t.Fatalf("UpsertCode stale: %v", err)
	}

	got := s.queryInt(ctx, t, `
		MATCH (co:Code {code_id: 7, project_id: $p, codigo: "nuevo nombre"})
		RETURN count(co)`,
		map[string]any{"p": projectID})
	if got != 1 {
		t.Errorf("code with fresh label count = %d, want 1", got)
	}
}
