package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// MemoryStore is an in-memory Store for tests. It records merged nodes and
// edges keyed exactly the way the Neo4j implementation keys them, so
// projection tests can assert graph state equals ledger state.
type MemoryStore struct {
	mu sync.Mutex

	Fragments  map[string]*types.Fragment      // (project, id)
	Codes      map[string]*types.CatalogCode   // (project, code_id)
	Interviews map[string]bool                 // (project, id)
	HasCode    map[string]*types.Assignment    // (project, fragment, code_id)
	AxialEdges map[string]*types.AxialRelation // (project, categoria, code_id, relation)
	CodeEdges  map[string]*types.LinkPrediction

	// FailWith makes every upsert fail, simulating an outage.
	FailWith error
	// Upserts counts calls, replays included.
	Upserts int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Fragments:  make(map[string]*types.Fragment),
		Codes:      make(map[string]*types.CatalogCode),
		Interviews: make(map[string]bool),
		HasCode:    make(map[string]*types.Assignment),
		AxialEdges: make(map[string]*types.AxialRelation),
		CodeEdges:  make(map[string]*types.LinkPrediction),
	}
}

// SetOffline toggles simulated outage.
func (s *MemoryStore) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offline {
		s.FailWith = apperr.Dependency(nil, "graph")
	} else {
		s.FailWith = nil
	}
}

func (s *MemoryStore) fail() error {
	if s.FailWith != nil {
		return s.FailWith
	}
	return nil
}

// FragmentKey builds the composite identity key used by the fake.
func FragmentKey(projectID, id string) string { return projectID + "/" + id }

// CodeKey builds the code identity key used by the fake.
func CodeKey(projectID string, codeID int64) string {
	return fmt.Sprintf("%s/%d", projectID, codeID)
}

// UpsertFragment records the fragment node and interview edge.
func (s *MemoryStore) UpsertFragment(ctx context.Context, f *types.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	if err := s.fail(); err != nil {
		return err
	}
	cp := *f
	s.Fragments[FragmentKey(f.ProjectID, f.ID)] = &cp
	if f.InterviewID != "" {
		s.Interviews[FragmentKey(f.ProjectID, f.InterviewID)] = true
	}
	return nil
}

// UpsertCode records the code node by code_id.
func (s *MemoryStore) UpsertCode(ctx context.Context, c *types.CatalogCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	if err := s.fail(); err != nil {
		return err
	}
	key := CodeKey(c.ProjectID, c.CodeID)
	if prev, ok := s.Codes[key]; ok && prev.UpdatedAt.After(c.UpdatedAt) {
		return nil // never let an older state overwrite a newer one
	}
	cp := *c
	s.Codes[key] = &cp
	return nil
}

// UpsertAssignment records the HAS_CODE edge.
func (s *MemoryStore) UpsertAssignment(ctx context.Context, a *types.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	if err := s.fail(); err != nil {
		return err
	}
	if a.CodeID == nil {
		return apperr.Invalid("assignment %d has no code_id; backfill before projecting", a.ID)
	}
	cp := *a
	s.HasCode[fmt.Sprintf("%s/%s/%d", a.ProjectID, a.FragmentID, *a.CodeID)] = &cp
	return nil
}

// UpsertAxialRelation records the Category REL edge.
func (s *MemoryStore) UpsertAxialRelation(ctx context.Context, r *types.AxialRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	if err := s.fail(); err != nil {
		return err
	}
	cp := *r
	cp.Evidence = append([]string(nil), r.Evidence...)
	s.AxialEdges[fmt.Sprintf("%s/%s/%d/%s", r.ProjectID, r.Categoria, r.CodeID, r.Relation)] = &cp
	return nil
}

// UpsertPrediction records the Code REL Code edge.
func (s *MemoryStore) UpsertPrediction(ctx context.Context, p *types.LinkPrediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	if err := s.fail(); err != nil {
		return err
	}
	cp := *p
	s.CodeEdges[fmt.Sprintf("%s/%d/%d/%s", p.ProjectID, p.SourceCodeID, p.TargetCodeID, p.Relation)] = &cp
	return nil
}

// Ping reports the simulated outage state.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail()
}

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }
