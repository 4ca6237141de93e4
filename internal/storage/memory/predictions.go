package memory

import (
	"context"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// CreatePrediction inserts a proposed code→code relation. A collision on
// (source, target, relation) keeps the higher score.
func (s *Store) CreatePrediction(ctx context.Context, p *types.LinkPrediction) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, apperr.Invalid("invalid link prediction: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(p.ProjectID)
	if err != nil {
		return 0, err
	}
	for _, existing := range d.predictions {
		if existing.SourceCodeID == p.SourceCodeID &&
			existing.TargetCodeID == p.TargetCodeID &&
			existing.Relation == p.Relation {
			if p.Score > existing.Score {
				existing.Score = p.Score
			}
			existing.UpdatedAt = time.Now()
			p.ID = existing.ID
			return existing.ID, nil
		}
	}
	s.nextPredictionID++
	cp := *p
	cp.ID = s.nextPredictionID
	if cp.State == "" {
		cp.State = types.PredictionPending
	}
	if cp.SyncStatus == "" {
		cp.SyncStatus = types.PredictionSyncPending
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	d.predictions[cp.ID] = &cp
	p.ID = cp.ID
	return cp.ID, nil
}

// GetPrediction loads one prediction by id.
func (s *Store) GetPrediction(ctx context.Context, projectID string, id int64) (*types.LinkPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	p, ok := d.predictions[id]
	if !ok {
		return nil, apperr.NotFound("prediction %d not found", id)
	}
	cp := *p
	return &cp, nil
}

// TransitionPrediction moves a prediction to a new validation state.
func (s *Store) TransitionPrediction(ctx context.Context, projectID string, id int64, state types.PredictionState, actor string) error {
	if !state.IsValid() {
		return apperr.Invalid("invalid prediction state: %s", state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	p, ok := d.predictions[id]
	if !ok {
		return apperr.NotFound("prediction %d not found", id)
	}
	p.State = state
	p.SyncStatus = types.PredictionSyncPending
	p.SyncError = ""
	p.UpdatedAt = time.Now()
	return nil
}
