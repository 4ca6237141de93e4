package memory

import (
	"context"
	"strings"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

func candidateKeyMatches(c *types.Candidate, codigo string, fragmentID *string) bool {
	if c.Codigo != codigo {
		return false
	}
	if (c.FragmentID == nil) != (fragmentID == nil) {
		return false
	}
	return c.FragmentID == nil || *c.FragmentID == *fragmentID
}

// UpsertCandidate inserts a proposal. A collision on
// (project_id, codigo, fragment_id) re-opens the existing row.
func (s *Store) UpsertCandidate(ctx context.Context, cand *types.Candidate) (string, bool, error) {
	if err := cand.Validate(); err != nil {
		return "", false, apperr.Invalid("invalid candidate: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(cand.ProjectID)
	if err != nil {
		return "", false, err
	}
	for _, existing := range d.candidates {
		if !candidateKeyMatches(existing, cand.Codigo, cand.FragmentID) {
			continue
		}
		existing.State = types.CandidatePending
		if cand.Confidence > existing.Confidence {
			existing.Confidence = cand.Confidence
		}
		if cand.Memo != "" {
			existing.Memo = cand.Memo
		}
		existing.UpdatedAt = time.Now()
		cand.ID = existing.ID
		return existing.ID, false, nil
	}
	cp := *cand
	if cp.ID == "" {
		cp.ID = newUUID()
	}
	if cp.State == "" {
		cp.State = types.CandidatePending
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	d.candidates[cp.ID] = &cp
	cand.ID = cp.ID
	return cp.ID, true, nil
}

// GetCandidate loads one candidate by id.
func (s *Store) GetCandidate(ctx context.Context, projectID, id string) (*types.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	c, ok := d.candidates[id]
	if !ok {
		return nil, apperr.NotFound("candidate %s not found", id)
	}
	cp := *c
	return &cp, nil
}

// ListCandidates returns candidates matching the filter, oldest first.
func (s *Store) ListCandidates(ctx context.Context, projectID string, filter types.CandidateFilter) ([]*types.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Candidate
	for _, c := range d.candidates {
		if len(filter.States) > 0 && !containsState(filter.States, c.State) {
			continue
		}
		if filter.Codigo != "" && !strings.EqualFold(c.Codigo, filter.Codigo) {
			continue
		}
		if filter.FragmentID != "" && (c.FragmentID == nil || *c.FragmentID != filter.FragmentID) {
			continue
		}
		if filter.Source != "" && c.Source != filter.Source {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Candidate) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return truncate(out, filter.Limit), nil
}

// UpdateCandidate rewrites the mutable columns of a candidate row.
func (s *Store) UpdateCandidate(ctx context.Context, cand *types.Candidate) error {
	if err := cand.Validate(); err != nil {
		return apperr.Invalid("invalid candidate: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(cand.ProjectID)
	if err != nil {
		return err
	}
	existing, ok := d.candidates[cand.ID]
	if !ok {
		return apperr.NotFound("candidate %s not found", cand.ID)
	}
	existing.Codigo = cand.Codigo
	existing.State = cand.State
	existing.MergedInto = cand.MergedInto
	existing.Memo = cand.Memo
	existing.Validator = cand.Validator
	existing.Confidence = cand.Confidence
	if cand.CodeID != nil {
		id := *cand.CodeID
		existing.CodeID = &id
	} else {
		existing.CodeID = nil
	}
	existing.UpdatedAt = time.Now()
	return nil
}

// ListCandidatesMissingCodeID returns open candidates whose label is
// catalogued but whose code_id is still unset.
func (s *Store) ListCandidatesMissingCodeID(ctx context.Context, projectID string, limit int) ([]*types.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Candidate
	for _, c := range d.candidates {
		if c.CodeID != nil {
			continue
		}
		if c.State != types.CandidatePending && c.State != types.CandidateValidated {
			continue
		}
		if !labelCatalogued(d, c.Codigo) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Candidate) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return truncate(out, limit), nil
}

// PendingBacklog returns the pending candidate count and the creation time
// of the oldest pending row.
func (s *Store) PendingBacklog(ctx context.Context, projectID string) (int, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return 0, time.Time{}, err
	}
	var (
		count  int
		oldest time.Time
	)
	for _, c := range d.candidates {
		if c.State != types.CandidatePending {
			continue
		}
		count++
		if oldest.IsZero() || c.CreatedAt.Before(oldest) {
			oldest = c.CreatedAt
		}
	}
	return count, oldest, nil
}

// ListUnembeddedCandidates returns pending candidates not yet embedded.
func (s *Store) ListUnembeddedCandidates(ctx context.Context, projectID string, limit int) ([]*types.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Candidate
	for _, c := range d.candidates {
		if c.State != types.CandidatePending || d.embedded[c.ID] {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Candidate) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return truncate(out, limit), nil
}

// MarkCandidatesEmbedded records that embeddings reached the vector store.
func (s *Store) MarkCandidatesEmbedded(ctx context.Context, projectID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		d.embedded[id] = true
	}
	return nil
}

func containsState(states []types.CandidateState, st types.CandidateState) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}

func labelCatalogued(d *projectData, codigo string) bool {
	for _, c := range d.codes {
		if strings.EqualFold(c.Codigo, codigo) {
			return true
		}
	}
	return false
}
