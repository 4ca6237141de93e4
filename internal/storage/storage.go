// Package storage provides shared types for the ontology ledger.
//
// The concrete implementation lives in the postgres sub-package; the memory
// sub-package holds an in-memory implementation used by tests. This package
// holds the interface and value types referenced by both the backends and
// their consumers (the lifecycle engine, the readiness gate, the projection
// synchronizer, cmd/tesela).
package storage

import (
	"context"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the
// ledger. It matches any not_found taxonomy error via errors.Is.
var ErrNotFound = apperr.NotFound("not found")

// Ledger is the interface satisfied by *postgres.Store.
// Consumers depend on this interface rather than on the concrete type so
// that the in-memory implementation (and mocks) can be substituted.
type Ledger interface {
	// Projects
	CreateProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, projectID string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)

	// Catalog reads. Label lookups are case-insensitive.
	GetCode(ctx context.Context, projectID string, codeID int64) (*types.CatalogCode, error)
	GetCodeByLabel(ctx context.Context, projectID, codigo string) (*types.CatalogCode, error)
	ListCodes(ctx context.Context, projectID string, statuses []types.CodeStatus, limit int) ([]*types.CatalogCode, error)
	ListRecentCodes(ctx context.Context, projectID string, limit int) ([]*types.CatalogCode, error)
	ListCanonicalPairs(ctx context.Context, projectID string) ([]types.CodePointer, error)

	// Candidates
	GetCandidate(ctx context.Context, projectID, id string) (*types.Candidate, error)
	ListCandidates(ctx context.Context, projectID string, filter types.CandidateFilter) ([]*types.Candidate, error)
	// PendingBacklog returns the pending candidate count and the age of the
	// oldest pending row. Zero time when there is no backlog.
	PendingBacklog(ctx context.Context, projectID string) (int, time.Time, error)
	// Embedding backlog for the background embedder. Embedding is deferred
	// work; failures never touch candidate state.
	ListUnembeddedCandidates(ctx context.Context, projectID string, limit int) ([]*types.Candidate, error)
	MarkCandidatesEmbedded(ctx context.Context, projectID string, ids []string) error

	// Assignments
	GetAssignment(ctx context.Context, projectID, fragmentID, codigo string) (*types.Assignment, error)
	ListAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error)

	// Axial relations
	GetAxialRelation(ctx context.Context, projectID string, id int64) (*types.AxialRelation, error)
	ListAxialRelations(ctx context.Context, projectID string, states []types.AxialState, limit int) ([]*types.AxialRelation, error)

	// Fragments and interviews
	UpsertInterview(ctx context.Context, iv *types.Interview) error
	UpsertFragments(ctx context.Context, frags []*types.Fragment) (int, error)
	GetFragment(ctx context.Context, projectID, id string) (*types.Fragment, error)

	// Link predictions
	CreatePrediction(ctx context.Context, p *types.LinkPrediction) (int64, error)
	GetPrediction(ctx context.Context, projectID string, id int64) (*types.LinkPrediction, error)
	TransitionPrediction(ctx context.Context, projectID string, id int64, state types.PredictionState, actor string) error

	// Readiness counters (C4). Computed in one consistent snapshot.
	ReadinessCounters(ctx context.Context, projectID string) (types.ReadinessCounters, error)

	// Freeze
	GetFreeze(ctx context.Context, projectID string) (*types.FreezeState, error)
	SetFreeze(ctx context.Context, projectID string, frozen bool, actor, note string) (*types.FreezeState, error)

	// Projection scanning. Each List returns unsynced rows ordered by their
	// primary key, bounded by limit; the Mark calls flip sync flags after a
	// successful graph upsert. Per-row permanent failures record the error
	// message and exclude the row from future scans.
	ListUnsyncedFragments(ctx context.Context, projectID string, limit int) ([]*types.Fragment, error)
	ListUnsyncedCodes(ctx context.Context, projectID string, limit int) ([]*types.CatalogCode, error)
	ListUnsyncedAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error)
	ListUnsyncedAxial(ctx context.Context, projectID string, limit int) ([]*types.AxialRelation, error)
	ListUnsyncedPredictions(ctx context.Context, projectID string, limit int) ([]*types.LinkPrediction, error)
	MarkFragmentsSynced(ctx context.Context, projectID string, ids []string) error
	MarkFragmentSyncError(ctx context.Context, projectID, id, msg string) error
	MarkCodesSynced(ctx context.Context, projectID string, codeIDs []int64) error
	MarkCodeSyncError(ctx context.Context, projectID string, codeID int64, msg string) error
	MarkAssignmentsSynced(ctx context.Context, projectID string, ids []int64) error
	MarkAssignmentSyncError(ctx context.Context, projectID string, id int64, msg string) error
	MarkAxialSynced(ctx context.Context, projectID string, ids []int64) error
	MarkAxialSyncError(ctx context.Context, projectID string, id int64, msg string) error
	MarkPredictionsSynced(ctx context.Context, projectID string, ids []int64) error
	MarkPredictionSyncError(ctx context.Context, projectID string, id int64, msg string) error
	CountUnsynced(ctx context.Context, projectID string) (map[types.SyncEntity]int, error)

	// Sync cursors, one per (project, entity)
	GetSyncCursor(ctx context.Context, projectID string, entity types.SyncEntity) (*types.SyncCursor, error)
	SetSyncCursor(ctx context.Context, projectID string, entity types.SyncEntity, position string) error

	// Idempotency snapshots
	GetIdempotentResponse(ctx context.Context, projectID, key string) ([]byte, bool, error)

	// Audit
	ListVersionEvents(ctx context.Context, projectID, codigo string, limit int) ([]*types.VersionEvent, error)
	AppendOpsLog(ctx context.Context, entry *types.OpsLogEntry) (int64, error)
	ListOpsLog(ctx context.Context, projectID string, filter types.OpsLogFilter) ([]*types.OpsLogEntry, error)

	// Statistics
	GetProjectStats(ctx context.Context, projectID string) (*types.ProjectStats, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
	// RunInProjectLock runs fn inside a transaction holding the advisory
	// lock (projectID, class). A held lock fails fast with a busy error
	// carrying the holder's session id when known. The lock is released on
	// commit, rollback or cancellation.
	RunInProjectLock(ctx context.Context, projectID string, class types.LockClass, sessionID string, fn func(tx Tx) error) error

	// Lifecycle
	Close() error
}

// Tx provides atomic multi-operation support within a single ledger
// transaction.
//
//   - All operations share one database transaction.
//   - If the callback returns an error or panics, the transaction rolls back.
//   - On successful return, the transaction commits.
//   - Writes are invisible to other connections until commit.
//
// Freeze checks and version events are the caller's responsibility: engines
// read the freeze row first and append version events alongside every
// ontology-affecting write.
type Tx interface {
	// Catalog. CreateCode mints the code_id. Mutations reset the row's
	// sync flag so projection picks the change up.
	CreateCode(ctx context.Context, code *types.CatalogCode) (int64, error)
	GetCode(ctx context.Context, projectID string, codeID int64) (*types.CatalogCode, error)
	GetCodeByLabel(ctx context.Context, projectID, codigo string) (*types.CatalogCode, error)
	ListCodes(ctx context.Context, projectID string, statuses []types.CodeStatus, limit int) ([]*types.CatalogCode, error)
	ListCanonicalPairs(ctx context.Context, projectID string) ([]types.CodePointer, error)
	UpdateCodePointer(ctx context.Context, projectID string, codeID int64, status types.CodeStatus, canonicalCodeID *int64) error
	RenameCode(ctx context.Context, projectID string, codeID int64, newCodigo string) error

	// Candidates
	UpsertCandidate(ctx context.Context, cand *types.Candidate) (id string, created bool, err error)
	GetCandidate(ctx context.Context, projectID, id string) (*types.Candidate, error)
	ListCandidates(ctx context.Context, projectID string, filter types.CandidateFilter) ([]*types.Candidate, error)
	UpdateCandidate(ctx context.Context, cand *types.Candidate) error
	ListCandidatesMissingCodeID(ctx context.Context, projectID string, limit int) ([]*types.Candidate, error)

	// Assignments
	CreateAssignment(ctx context.Context, a *types.Assignment) (int64, error)
	GetAssignment(ctx context.Context, projectID, fragmentID, codigo string) (*types.Assignment, error)
	ListAssignmentsMissingCodeID(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error)
	ListDivergentAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error)
	// UpdateAssignmentIdentity rewrites the denormalised identity pair and
	// resets the row's sync flag.
	UpdateAssignmentIdentity(ctx context.Context, projectID string, id int64, codeID int64, codigo string) error

	// Axial relations
	CreateAxialRelation(ctx context.Context, r *types.AxialRelation) (int64, error)
	TransitionAxialRelation(ctx context.Context, projectID string, id int64, state types.AxialState, actor string) error

	// Link predictions
	TransitionPrediction(ctx context.Context, projectID string, id int64, state types.PredictionState, actor string) error

	// Freeze (read inside the transaction snapshot)
	GetFreeze(ctx context.Context, projectID string) (*types.FreezeState, error)

	// Readiness counters within the transaction snapshot. Axial write
	// paths call this under the axial advisory lock.
	ReadinessCounters(ctx context.Context, projectID string) (types.ReadinessCounters, error)

	// Projection scanning, under the sync advisory lock. Same contract as
	// the Ledger methods.
	ListUnsyncedFragments(ctx context.Context, projectID string, limit int) ([]*types.Fragment, error)
	ListUnsyncedCodes(ctx context.Context, projectID string, limit int) ([]*types.CatalogCode, error)
	ListUnsyncedAssignments(ctx context.Context, projectID string, limit int) ([]*types.Assignment, error)
	ListUnsyncedAxial(ctx context.Context, projectID string, limit int) ([]*types.AxialRelation, error)
	ListUnsyncedPredictions(ctx context.Context, projectID string, limit int) ([]*types.LinkPrediction, error)
	MarkFragmentsSynced(ctx context.Context, projectID string, ids []string) error
	MarkFragmentSyncError(ctx context.Context, projectID, id, msg string) error
	MarkCodesSynced(ctx context.Context, projectID string, codeIDs []int64) error
	MarkCodeSyncError(ctx context.Context, projectID string, codeID int64, msg string) error
	MarkAssignmentsSynced(ctx context.Context, projectID string, ids []int64) error
	MarkAssignmentSyncError(ctx context.Context, projectID string, id int64, msg string) error
	MarkAxialSynced(ctx context.Context, projectID string, ids []int64) error
	MarkAxialSyncError(ctx context.Context, projectID string, id int64, msg string) error
	MarkPredictionsSynced(ctx context.Context, projectID string, ids []int64) error
	MarkPredictionSyncError(ctx context.Context, projectID string, id int64, msg string) error
	SetSyncCursor(ctx context.Context, projectID string, entity types.SyncEntity, position string) error

	// Audit
	AppendVersionEvent(ctx context.Context, ev *types.VersionEvent) error

	// Idempotency. Put binds the response snapshot to the key with a TTL;
	// the write commits atomically with the operation it protects.
	GetIdempotentResponse(ctx context.Context, projectID, key string) ([]byte, bool, error)
	PutIdempotentResponse(ctx context.Context, projectID, key string, response []byte, ttl time.Duration) error
}
