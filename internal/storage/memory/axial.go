package memory

import (
	"context"
	"strings"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// CreateAxialRelation inserts a categoria→codigo relation.
func (s *Store) CreateAxialRelation(ctx context.Context, r *types.AxialRelation) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, apperr.Invalid("invalid axial relation: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(r.ProjectID)
	if err != nil {
		return 0, err
	}
	for _, existing := range d.axial {
		if strings.EqualFold(existing.Categoria, r.Categoria) &&
			strings.EqualFold(existing.Codigo, r.Codigo) &&
			existing.Relation == r.Relation {
			return 0, apperr.Conflict("axial relation (%q, %q, %s) already exists",
				r.Categoria, r.Codigo, r.Relation)
		}
	}
	s.nextAxialID++
	cp := *r
	cp.ID = s.nextAxialID
	cp.Evidence = append([]string(nil), r.Evidence...)
	if cp.State == "" {
		cp.State = types.AxialPending
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	d.axial[cp.ID] = &cp
	r.ID = cp.ID
	return cp.ID, nil
}

// GetAxialRelation loads one relation by id.
func (s *Store) GetAxialRelation(ctx context.Context, projectID string, id int64) (*types.AxialRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	r, ok := d.axial[id]
	if !ok {
		return nil, apperr.NotFound("axial relation %d not found", id)
	}
	cp := *r
	cp.Evidence = append([]string(nil), r.Evidence...)
	return &cp, nil
}

// ListAxialRelations returns relations, optionally filtered by state.
func (s *Store) ListAxialRelations(ctx context.Context, projectID string, states []types.AxialState, limit int) ([]*types.AxialRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.AxialRelation
	for _, r := range d.axial {
		if len(states) > 0 && !containsAxialState(states, r.State) {
			continue
		}
		cp := *r
		cp.Evidence = append([]string(nil), r.Evidence...)
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.AxialRelation) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// TransitionAxialRelation moves a relation to a new validation state.
func (s *Store) TransitionAxialRelation(ctx context.Context, projectID string, id int64, state types.AxialState, actor string) error {
	if !state.IsValid() {
		return apperr.Invalid("invalid axial state: %s", state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	r, ok := d.axial[id]
	if !ok {
		return apperr.NotFound("axial relation %d not found", id)
	}
	r.State = state
	r.Neo4jSynced = false
	r.SyncError = ""
	r.UpdatedAt = time.Now()
	return nil
}

func containsAxialState(states []types.AxialState, st types.AxialState) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}
