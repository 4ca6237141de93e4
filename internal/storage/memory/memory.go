// Package memory implements the ontology ledger in process memory.
//
// It exists for unit tests of the engines and the HTTP surface: the full
// storage.Ledger contract without a database. Transactions snapshot the
// store and restore it when the callback fails, so failure-atomicity tests
// behave like the real backend. Not intended for production use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/canonical"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/types"
)

type idemEntry struct {
	response  []byte
	expiresAt time.Time
}

type lockKey struct {
	projectID string
	class     types.LockClass
}

type projectData struct {
	project     types.Project
	codes       map[int64]*types.CatalogCode
	candidates  map[string]*types.Candidate
	assignments map[int64]*types.Assignment
	axial       map[int64]*types.AxialRelation
	fragments   map[string]*types.Fragment
	interviews  map[string]*types.Interview
	predictions map[int64]*types.LinkPrediction
	freeze      types.FreezeState
	embedded    map[string]bool
	idempotency map[string]idemEntry
	versions    []*types.VersionEvent
	opsLog      []*types.OpsLogEntry
	cursors     map[types.SyncEntity]*types.SyncCursor
}

func newProjectData(p types.Project) *projectData {
	return &projectData{
		project:     p,
		codes:       make(map[int64]*types.CatalogCode),
		candidates:  make(map[string]*types.Candidate),
		assignments: make(map[int64]*types.Assignment),
		axial:       make(map[int64]*types.AxialRelation),
		fragments:   make(map[string]*types.Fragment),
		interviews:  make(map[string]*types.Interview),
		predictions: make(map[int64]*types.LinkPrediction),
		freeze:      types.FreezeState{ProjectID: p.ID},
		embedded:    make(map[string]bool),
		idempotency: make(map[string]idemEntry),
		cursors:     make(map[types.SyncEntity]*types.SyncCursor),
	}
}

// Store is the in-memory ledger. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	projects map[string]*projectData

	nextCodeID       int64
	nextAssignmentID int64
	nextAxialID      int64
	nextPredictionID int64
	nextVersionID    int64
	nextOpsLogID     int64

	maxHops int

	lockMu sync.Mutex
	locks  map[lockKey]string
}

var (
	_ storage.Ledger = (*Store)(nil)
	_ storage.Tx     = (*Store)(nil)
)

// New returns an empty in-memory ledger.
func New() *Store {
	return &Store{
		projects: make(map[string]*projectData),
		maxHops:  canonical.DefaultMaxHops,
		locks:    make(map[lockKey]string),
	}
}

// SetMaxHops overrides the chain-walk budget used by readiness counters.
func (s *Store) SetMaxHops(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxHops = n
	}
}

// Close is a no-op for the in-memory ledger.
func (s *Store) Close() error { return nil }

func (s *Store) data(projectID string) (*projectData, error) {
	d, ok := s.projects[projectID]
	if !ok {
		return nil, apperr.NotFound("project %s not found", projectID)
	}
	return d, nil
}

// CreateProject inserts the tenancy root row.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return apperr.Conflict("project %s already exists", p.ID)
	}
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.projects[p.ID] = newProjectData(cp)
	return nil
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return nil, err
	}
	p := d.project
	return &p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Project
	for _, d := range s.projects {
		p := d.project
		out = append(out, &p)
	}
	sortSlice(out, func(a, b *types.Project) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return out, nil
}

// RunInTransaction executes fn against the store, restoring the previous
// state if fn fails. Transactions are serialised.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// RunInProjectLock executes fn while holding the advisory lock
// (projectID, class). A lock held elsewhere fails fast with busy.
func (s *Store) RunInProjectLock(ctx context.Context, projectID string, class types.LockClass, sessionID string, fn func(tx storage.Tx) error) error {
	key := lockKey{projectID, class}

	s.lockMu.Lock()
	if holder, held := s.locks[key]; held {
		s.lockMu.Unlock()
		return apperr.Busy(class.String(), holder)
	}
	s.locks[key] = sessionID
	s.lockMu.Unlock()

	defer func() {
		s.lockMu.Lock()
		delete(s.locks, key)
		s.lockMu.Unlock()
	}()

	return s.RunInTransaction(ctx, fn)
}

// HoldLock grabs the advisory lock out of band so tests can provoke busy
// errors. The returned function releases it.
func (s *Store) HoldLock(projectID string, class types.LockClass, sessionID string) func() {
	key := lockKey{projectID, class}
	s.lockMu.Lock()
	s.locks[key] = sessionID
	s.lockMu.Unlock()
	return func() {
		s.lockMu.Lock()
		delete(s.locks, key)
		s.lockMu.Unlock()
	}
}

type snapshot struct {
	projects         map[string]*projectData
	nextCodeID       int64
	nextAssignmentID int64
	nextAxialID      int64
	nextPredictionID int64
	nextVersionID    int64
	nextOpsLogID     int64
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make(map[string]*projectData, len(s.projects))
	for id, d := range s.projects {
		projects[id] = d.clone()
	}
	return snapshot{
		projects:         projects,
		nextCodeID:       s.nextCodeID,
		nextAssignmentID: s.nextAssignmentID,
		nextAxialID:      s.nextAxialID,
		nextPredictionID: s.nextPredictionID,
		nextVersionID:    s.nextVersionID,
		nextOpsLogID:     s.nextOpsLogID,
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = snap.projects
	s.nextCodeID = snap.nextCodeID
	s.nextAssignmentID = snap.nextAssignmentID
	s.nextAxialID = snap.nextAxialID
	s.nextPredictionID = snap.nextPredictionID
	s.nextVersionID = snap.nextVersionID
	s.nextOpsLogID = snap.nextOpsLogID
}

func (d *projectData) clone() *projectData {
	out := newProjectData(d.project)
	out.freeze = d.freeze
	for k, v := range d.codes {
		cp := *v
		out.codes[k] = &cp
	}
	for k, v := range d.candidates {
		cp := *v
		out.candidates[k] = &cp
	}
	for k, v := range d.assignments {
		cp := *v
		out.assignments[k] = &cp
	}
	for k, v := range d.axial {
		cp := *v
		cp.Evidence = append([]string(nil), v.Evidence...)
		out.axial[k] = &cp
	}
	for k, v := range d.fragments {
		cp := *v
		out.fragments[k] = &cp
	}
	for k, v := range d.interviews {
		cp := *v
		out.interviews[k] = &cp
	}
	for k, v := range d.predictions {
		cp := *v
		out.predictions[k] = &cp
	}
	for k, v := range d.embedded {
		out.embedded[k] = v
	}
	for k, v := range d.idempotency {
		out.idempotency[k] = v
	}
	out.versions = append([]*types.VersionEvent(nil), d.versions...)
	out.opsLog = append([]*types.OpsLogEntry(nil), d.opsLog...)
	for k, v := range d.cursors {
		cp := *v
		out.cursors[k] = &cp
	}
	return out
}

// newUUID returns a fresh candidate id.
func newUUID() string { return uuid.NewString() }

// sortSlice is a tiny helper so list methods return deterministic order.
func sortSlice[T any](s []T, less func(a, b T) bool) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(s[j], s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
