package memory

import (
	"context"
	"strings"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// CreateCode inserts a catalog row and mints its code_id.
func (s *Store) CreateCode(ctx context.Context, code *types.CatalogCode) (int64, error) {
	if err := code.Validate(); err != nil {
		return 0, apperr.Invalid("invalid catalog code: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(code.ProjectID)
	if err != nil {
		return 0, err
	}
	for _, existing := range d.codes {
		if strings.EqualFold(existing.Codigo, code.Codigo) {
			return 0, apperr.Conflict("code %q already exists", code.Codigo)
		}
	}
	s.nextCodeID++
	cp := *code
	cp.CodeID = s.nextCodeID
	if cp.Status == "" {
		cp.Status = types.CodeActive
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	d.codes[cp.CodeID] = &cp
	code.CodeID = cp.CodeID
	return cp.CodeID, nil
}

// GetCode loads a catalog row by its stable id.
func (s *Store) GetCode(ctx context.Context, projectID string, codeID int64) (*types.CatalogCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	c, ok := d.codes[codeID]
	if !ok {
		return nil, apperr.NotFound("code %d not found", codeID)
	}
	cp := *c
	return &cp, nil
}

// GetCodeByLabel looks up a catalog row by label, case-insensitively.
func (s *Store) GetCodeByLabel(ctx context.Context, projectID, codigo string) (*types.CatalogCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	for _, c := range d.codes {
		if strings.EqualFold(c.Codigo, codigo) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("code %q not found", codigo)
}

// ListCodes returns catalog rows, optionally filtered by status.
func (s *Store) ListCodes(ctx context.Context, projectID string, statuses []types.CodeStatus, limit int) ([]*types.CatalogCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.CatalogCode
	for _, c := range d.codes {
		if len(statuses) > 0 && !containsStatus(statuses, c.Status) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.CatalogCode) bool { return a.CodeID < b.CodeID })
	return truncate(out, limit), nil
}

// ListRecentCodes returns the most recently updated catalog rows, newest first.
func (s *Store) ListRecentCodes(ctx context.Context, projectID string, limit int) ([]*types.CatalogCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []*types.CatalogCode
	for _, c := range d.codes {
		cp := *c
		out = append(out, &cp)
	}
	sortSlice(out, func(a, b *types.CatalogCode) bool { return a.UpdatedAt.After(b.UpdatedAt) })
	return truncate(out, limit), nil
}

// ListCanonicalPairs returns the (code_id → canonical_code_id) view of the
// whole project catalog.
func (s *Store) ListCanonicalPairs(ctx context.Context, projectID string) ([]types.CodePointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	var out []types.CodePointer
	for _, c := range d.codes {
		p := types.CodePointer{CodeID: c.CodeID, Status: c.Status, Codigo: c.Codigo}
		if c.CanonicalCodeID != nil {
			id := *c.CanonicalCodeID
			p.CanonicalCodeID = &id
		}
		out = append(out, p)
	}
	sortSlice(out, func(a, b types.CodePointer) bool { return a.CodeID < b.CodeID })
	return out, nil
}

// UpdateCodePointer rewrites a row's status and canonical pointer and
// resets its sync flag.
func (s *Store) UpdateCodePointer(ctx context.Context, projectID string, codeID int64, status types.CodeStatus, canonicalCodeID *int64) error {
	if !status.IsValid() {
		return apperr.Invalid("invalid status: %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	c, ok := d.codes[codeID]
	if !ok {
		return apperr.NotFound("code %d not found", codeID)
	}
	c.Status = status
	if canonicalCodeID != nil {
		id := *canonicalCodeID
		c.CanonicalCodeID = &id
	} else {
		c.CanonicalCodeID = nil
	}
	c.Neo4jSynced = false
	c.SyncError = ""
	c.UpdatedAt = time.Now()
	return nil
}

// RenameCode changes a row's label, keeping its code_id.
func (s *Store) RenameCode(ctx context.Context, projectID string, codeID int64, newCodigo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(projectID)
	if err != nil {
		return err
	}
	c, ok := d.codes[codeID]
	if !ok {
		return apperr.NotFound("code %d not found", codeID)
	}
	for _, other := range d.codes {
		if other.CodeID != codeID && strings.EqualFold(other.Codigo, newCodigo) {
			return apperr.Conflict("code %q already exists", newCodigo)
		}
	}
	c.Codigo = newCodigo
	c.Neo4jSynced = false
	c.SyncError = ""
	c.UpdatedAt = time.Now()
	return nil
}

func containsStatus(statuses []types.CodeStatus, st types.CodeStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
