package memory

import (
	"context"
	"time"

	"github.com/tesela-labs/tesela/internal/types"
)

// GetFreeze returns the project's freeze state.
func (s *Store) GetFreeze(ctx context.Context, projectID string) (*types.FreezeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	f := d.freeze
	return &f, nil
}

// SetFreeze flips the project lock.
func (s *Store) SetFreeze(ctx context.Context, projectID string, frozen bool, actor, note string) (*types.FreezeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	d.freeze.IsFrozen = frozen
	d.freeze.Note = note
	if frozen {
		d.freeze.FrozenAt = &now
		d.freeze.FrozenBy = actor
	} else {
		d.freeze.BrokenAt = &now
		d.freeze.BrokenBy = actor
	}
	f := d.freeze
	return &f, nil
}
