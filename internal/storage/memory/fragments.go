package memory

import (
	"context"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// UpsertInterview registers an interview.
func (s *Store) UpsertInterview(ctx context.Context, iv *types.Interview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(iv.ProjectID)
	if err != nil {
		return err
	}
	if existing, ok := d.interviews[iv.ID]; ok {
		existing.Title = iv.Title
		existing.SourceFile = iv.SourceFile
		return nil
	}
	cp := *iv
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	d.interviews[cp.ID] = &cp
	return nil
}

// UpsertFragments registers a batch of fragments and returns the number of
// new rows. A re-registered fragment keeps its sync flag unless the text
// changed.
func (s *Store) UpsertFragments(ctx context.Context, frags []*types.Fragment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, f := range frags {
		d, err := s.data(f.ProjectID)
		if err != nil {
			return created, err
		}
		if existing, ok := d.fragments[f.ID]; ok {
			if existing.Text != f.Text {
				existing.Neo4jSynced = false
			}
			existing.InterviewID = f.InterviewID
			existing.Text = f.Text
			existing.ParIdx = f.ParIdx
			existing.CharLen = f.CharLen
			existing.Speaker = f.Speaker
			continue
		}
		cp := *f
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		d.fragments[cp.ID] = &cp
		created++
	}
	return created, nil
}

// GetFragment loads one fragment by id.
func (s *Store) GetFragment(ctx context.Context, projectID, id string) (*types.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	f, ok := d.fragments[id]
	if !ok {
		return nil, apperr.NotFound("fragment %s not found", id)
	}
	cp := *f
	return &cp, nil
}
