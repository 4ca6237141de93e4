package memory

import (
	"context"
	"strings"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// AppendVersionEvent writes one row of the catalog audit log.
func (s *Store) AppendVersionEvent(ctx context.Context, ev *types.VersionEvent) error {
	if !ev.Action.IsValid() {
		return apperr.Invalid("invalid version action: %s", ev.Action)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(ev.ProjectID)
	if err != nil {
		return err
	}
	s.nextVersionID++
	cp := *ev
	cp.ID = s.nextVersionID
	if cp.At.IsZero() {
		cp.At = time.Now()
	}
	d.versions = append(d.versions, &cp)
	return nil
}

// ListVersionEvents returns the audit trail for a label, newest first.
func (s *Store) ListVersionEvents(ctx context.Context, projectID, codigo string, limit int) ([]*types.VersionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.VersionEvent
	for _, ev := range d.versions {
		if codigo != "" && !strings.EqualFold(ev.Codigo, codigo) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.VersionEvent) bool {
		if !a.At.Equal(b.At) {
			return a.At.After(b.At)
		}
		return a.ID > b.ID
	})
	return truncate(out, limit), nil
}

// AppendOpsLog persists the record of one admin operation run.
func (s *Store) AppendOpsLog(ctx context.Context, entry *types.OpsLogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(entry.ProjectID)
	if err != nil {
		return 0, err
	}
	s.nextOpsLogID++
	cp := *entry
	cp.ID = s.nextOpsLogID
	d.opsLog = append(d.opsLog, &cp)
	entry.ID = cp.ID
	return cp.ID, nil
}

// ListOpsLog returns operational history, newest first.
func (s *Store) ListOpsLog(ctx context.Context, projectID string, filter types.OpsLogFilter) ([]*types.OpsLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.OpsLogEntry
	for _, e := range d.opsLog {
		switch strings.ToLower(filter.Kind) {
		case "", "all":
		case "errors":
			if e.Outcome != types.OutcomeError && e.Outcome != types.OutcomeUnknown {
				continue
			}
		case "mutations":
			if e.DryRun || e.Outcome != types.OutcomeOK {
				continue
			}
		default:
			return nil, apperr.Invalid("unknown ops log kind: %s", filter.Kind)
		}
		if filter.Op != "" && e.Operation != filter.Op {
			continue
		}
		switch strings.ToLower(filter.Intent) {
		case "", "all":
		case "write_intent_post":
			if !e.WriteIntent {
				continue
			}
		default:
			return nil, apperr.Invalid("unknown ops log intent: %s", filter.Intent)
		}
		if filter.Since != nil && e.StartedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.StartedAt.After(*filter.Until) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.OpsLogEntry) bool {
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.After(b.StartedAt)
		}
		return a.ID > b.ID
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return truncate(out, limit), nil
}

// GetIdempotentResponse returns the bound response for a key, if any.
func (s *Store) GetIdempotentResponse(ctx context.Context, projectID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, false, err
	}
	entry, ok := d.idempotency[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.response, true, nil
}

// PutIdempotentResponse binds a response snapshot to the key.
func (s *Store) PutIdempotentResponse(ctx context.Context, projectID, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	if existing, ok := d.idempotency[key]; ok && time.Now().Before(existing.expiresAt) {
		return nil
	}
	d.idempotency[key] = idemEntry{
		response:  append([]byte(nil), response...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// GetProjectStats summarises ledger state for the operator surface.
func (s *Store) GetProjectStats(ctx context.Context, projectID string) (*types.ProjectStats, error) {
	unsynced, err := s.CountUnsynced(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pending, oldest, err := s.PendingBacklog(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	stats := &types.ProjectStats{
		ProjectID:           projectID,
		CatalogByStatus:     make(map[types.CodeStatus]int),
		CandidatesByState:   make(map[types.CandidateState]int),
		UnsyncedFragments:   unsynced[types.SyncFragments],
		UnsyncedCodes:       unsynced[types.SyncCodes],
		UnsyncedAxial:       unsynced[types.SyncAxial],
		UnsyncedPredictions: unsynced[types.SyncPredictions],
		PendingCandidates:   pending,
	}
	for _, c := range d.codes {
		stats.CatalogByStatus[c.Status]++
	}
	for _, c := range d.candidates {
		stats.CandidatesByState[c.State]++
	}
	if !oldest.IsZero() {
		stats.OldestPendingAgeDays = time.Since(oldest).Hours() / 24
	}
	return stats, nil
}
