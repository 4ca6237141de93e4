package memory

import (
	"context"
	"strings"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/canonical"
	"github.com/tesela-labs/tesela/internal/types"
)

// CreateAssignment inserts a definitive code↔fragment link.
func (s *Store) CreateAssignment(ctx context.Context, a *types.Assignment) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, apperr.Invalid("invalid assignment: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(a.ProjectID)
	if err != nil {
		return 0, err
	}
	for _, existing := range d.assignments {
		if existing.FragmentID == a.FragmentID && strings.EqualFold(existing.Codigo, a.Codigo) {
			return 0, apperr.Conflict("assignment (%s, %q) already exists", a.FragmentID, a.Codigo)
		}
	}
	s.nextAssignmentID++
	cp := *a
	cp.ID = s.nextAssignmentID
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	d.assignments[cp.ID] = &cp
	a.ID = cp.ID
	return cp.ID, nil
}

// GetAssignment looks up the link for (fragment, codigo).
func (s *Store) GetAssignment(ctx context.Context, projectID, fragmentID, codigo string) (*types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	for _, a := range d.assignments {
		if a.FragmentID == fragmentID && strings.EqualFold(a.Codigo, codigo) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("assignment (%s, %q) not found", fragmentID, codigo)
}

// ListAssignments returns assignments ordered by id.
func (s *Store) ListAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Assignment
	for _, a := range d.assignments {
		cp := *a
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Assignment) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// ListAssignmentsMissingCodeID returns rows whose code_id is NULL although
// the label exists in the catalog.
func (s *Store) ListAssignmentsMissingCodeID(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Assignment
	for _, a := range d.assignments {
		if a.CodeID != nil || !labelCatalogued(d, a.Codigo) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Assignment) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// ListDivergentAssignments returns rows whose codigo and code_id do not
// resolve to the same canonical code.
func (s *Store) ListDivergentAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	pairs, err := s.ListCanonicalPairs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	chain := canonical.NewChain(pairs, s.maxHops)

	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Assignment
	for _, a := range d.assignments {
		if a.CodeID == nil || !chain.Divergent(*a.CodeID, a.Codigo) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Assignment) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// UpdateAssignmentIdentity rewrites the denormalised (code_id, codigo) pair
// and resets the sync flag.
func (s *Store) UpdateAssignmentIdentity(ctx context.Context, projectID string, id int64, codeID int64, codigo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	a, ok := d.assignments[id]
	if !ok {
		return apperr.NotFound("assignment %d not found", id)
	}
	a.CodeID = &codeID
	a.Codigo = codigo
	a.Neo4jSynced = false
	a.SyncError = ""
	a.UpdatedAt = time.Now()
	return nil
}
