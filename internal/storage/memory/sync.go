package memory

import (
	"context"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// ListUnsyncedFragments returns fragments awaiting projection, ordered by id.
func (s *Store) ListUnsyncedFragments(ctx context.Context, projectID string, limit int) ([]*types.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Fragment
	for _, f := range d.fragments {
		if f.Neo4jSynced || f.SyncError != "" {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Fragment) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// ListUnsyncedCodes returns catalog rows awaiting projection.
func (s *Store) ListUnsyncedCodes(ctx context.Context, projectID string, limit int) ([]*types.CatalogCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.CatalogCode
	for _, c := range d.codes {
		if c.Neo4jSynced || c.SyncError != "" {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.CatalogCode) bool { return a.CodeID < b.CodeID })
	return truncate(out, limit), nil
}

// ListUnsyncedAssignments returns assignment edges awaiting projection.
func (s *Store) ListUnsyncedAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.Assignment
	for _, a := range d.assignments {
		if a.Neo4jSynced || a.SyncError != "" || a.CodeID == nil {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.Assignment) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// ListUnsyncedAxial returns validated axial relations awaiting projection.
func (s *Store) ListUnsyncedAxial(ctx context.Context, projectID string, limit int) ([]*types.AxialRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.AxialRelation
	for _, r := range d.axial {
		if r.Neo4jSynced || r.SyncError != "" || r.State != types.AxialValidated {
			continue
		}
		cp := *r
		cp.Evidence = append([]string(nil), r.Evidence...)
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.AxialRelation) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// ListUnsyncedPredictions returns validated predictions awaiting projection.
func (s *Store) ListUnsyncedPredictions(ctx context.Context, projectID string, limit int) ([]*types.LinkPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.LinkPrediction
	for _, p := range d.predictions {
		if p.SyncStatus != types.PredictionSyncPending || p.State != types.PredictionValidated {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.LinkPrediction) bool { return a.ID < b.ID })
	return truncate(out, limit), nil
}

// MarkFragmentsSynced flips the sync flag after a successful graph upsert.
func (s *Store) MarkFragmentsSynced(ctx context.Context, projectID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if f, ok := d.fragments[id]; ok {
			f.Neo4jSynced = true
			f.SyncError = ""
		}
	}
	return nil
}

// MarkFragmentSyncError records a permanent failure.
func (s *Store) MarkFragmentSyncError(ctx context.Context, projectID, id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	if f, ok := d.fragments[id]; ok {
		f.SyncError = msg
	}
	return nil
}

// MarkCodesSynced flips the sync flag on catalog rows.
func (s *Store) MarkCodesSynced(ctx context.Context, projectID string, codeIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	for _, id := range codeIDs {
		if c, ok := d.codes[id]; ok {
			c.Neo4jSynced = true
			c.SyncError = ""
		}
	}
	return nil
}

// MarkCodeSyncError records a permanent failure on a catalog row.
func (s *Store) MarkCodeSyncError(ctx context.Context, projectID string, codeID int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	if c, ok := d.codes[codeID]; ok {
		c.SyncError = msg
	}
	return nil
}

// MarkAssignmentsSynced flips the sync flag on assignment edges.
func (s *Store) MarkAssignmentsSynced(ctx context.Context, projectID string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if a, ok := d.assignments[id]; ok {
			a.Neo4jSynced = true
			a.SyncError = ""
		}
	}
	return nil
}

// MarkAssignmentSyncError records a permanent failure on an assignment edge.
func (s *Store) MarkAssignmentSyncError(ctx context.Context, projectID string, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	if a, ok := d.assignments[id]; ok {
		a.SyncError = msg
	}
	return nil
}

// MarkAxialSynced flips the sync flag on axial relations.
func (s *Store) MarkAxialSynced(ctx context.Context, projectID string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if r, ok := d.axial[id]; ok {
			r.Neo4jSynced = true
			r.SyncError = ""
		}
	}
	return nil
}

// MarkAxialSyncError records a permanent failure on an axial relation.
func (s *Store) MarkAxialSyncError(ctx context.Context, projectID string, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	if r, ok := d.axial[id]; ok {
		r.SyncError = msg
	}
	return nil
}

// MarkPredictionsSynced flips the status on projected predictions.
func (s *Store) MarkPredictionsSynced(ctx context.Context, projectID string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if p, ok := d.predictions[id]; ok {
			p.SyncStatus = types.PredictionSyncDone
			p.SyncError = ""
		}
	}
	return nil
}

// MarkPredictionSyncError records a permanent failure on a prediction.
func (s *Store) MarkPredictionSyncError(ctx context.Context, projectID string, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	if p, ok := d.predictions[id]; ok {
		p.SyncStatus = types.PredictionSyncFailed
		p.SyncError = msg
	}
	return nil
}

// CountUnsynced returns the projection backlog per entity class.
func (s *Store) CountUnsynced(ctx context.Context, projectID string) (map[types.SyncEntity]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	out := map[types.SyncEntity]int{
		types.SyncFragments:   0,
		types.SyncCodes:       0,
		types.SyncAssignments: 0,
		types.SyncAxial:       0,
		types.SyncPredictions: 0,
	}
	for _, f := range d.fragments {
		if !f.Neo4jSynced && f.SyncError == "" {
			out[types.SyncFragments]++
		}
	}
	for _, c := range d.codes {
		if !c.Neo4jSynced && c.SyncError == "" {
			out[types.SyncCodes]++
		}
	}
	for _, a := range d.assignments {
		if !a.Neo4jSynced && a.SyncError == "" && a.CodeID != nil {
			out[types.SyncAssignments]++
		}
	}
	for _, r := range d.axial {
		if !r.Neo4jSynced && r.SyncError == "" && r.State == types.AxialValidated {
			out[types.SyncAxial]++
		}
	}
	for _, p := range d.predictions {
		if p.SyncStatus == types.PredictionSyncPending && p.State == types.PredictionValidated {
			out[types.SyncPredictions]++
		}
	}
	return out, nil
}

// GetSyncCursor returns the resumable cursor for (project, entity).
func (s *Store) GetSyncCursor(ctx context.Context, projectID string, entity types.SyncEntity) (*types.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	if c, ok := d.cursors[entity]; ok {
		cp := *c
		return &cp, nil
	}
	return &types.SyncCursor{ProjectID: projectID, Entity: entity}, nil
}

// SetSyncCursor records progress for (project, entity).
func (s *Store) SetSyncCursor(ctx context.Context, projectID string, entity types.SyncEntity, position string) error {
	if !entity.IsValid() {
		return apperr.Invalid("invalid sync entity: %s", entity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	d.cursors[entity] = &types.SyncCursor{
		ProjectID: projectID,
		Entity:    entity,
		Position:  position,
		UpdatedAt: time.Now(),
	}
	return nil
}
