// Package projection incrementally mirrors ledger state into the graph
// store.
//
// The ledger is authoritative; projection is deferred and resumable. Rows
// carry a sync flag that flips only after a successful graph upsert, so a
// crash mid-run costs a re-upsert, never a lost row. Entities project in
// dependency order: fragments, then codes, then the assignments joining
// them, then axial relations, with link predictions last.
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/graph"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/telemetry"
	"github.com/tesela-labs/tesela/internal/types"
)

// Config tunes a sync run.
type Config struct {
	// BatchSize rows are scanned per entity per pass.
	BatchSize int
	// RunBudget caps total upserts in one run; remaining rows wait for the
	// next run.
	RunBudget int
	// MaxAttempts bounds upsert retries on transient graph errors.
	MaxAttempts int
	// BackoffBase is the initial retry delay.
	BackoffBase time.Duration
	// BackoffCap is the maximum retry delay.
	BackoffCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.RunBudget <= 0 {
		c.RunBudget = 2000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	return c
}

// Result summarizes one sync run.
type Result struct {
	ProjectID string                   `json:"project_id"`
	Scanned   int                      `json:"scanned"`
	Synced    int                      `json:"synced"`
	Failed    int                      `json:"failed"` // permanent, error recorded
	Remaining map[types.SyncEntity]int `json:"remaining"`
	Duration  time.Duration            `json:"duration"`
}

// Synchronizer drives projection runs. Runs for the same project are
// serialized through the sync advisory lock; a second concurrent run gets
// busy instead of interleaving.
type Synchronizer struct {
	store storage.Ledger
	graph graph.Store
	cfg   Config
	log   *zap.Logger
}

// New builds a synchronizer.
func New(store storage.Ledger, g graph.Store, cfg Config, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{store: store, graph: g, cfg: cfg.withDefaults(), log: log}
}

// SyncProject runs one bounded projection pass for a project.
func (s *Synchronizer) SyncProject(ctx context.Context, projectID, sessionID string) (*Result, error) {
	start := time.Now()
	res := &Result{ProjectID: projectID}

	err := s.store.RunInProjectLock(ctx, projectID, types.LockSync, sessionID, func(tx storage.Tx) error {
		budget := s.cfg.RunBudget
		for _, entity := range types.SyncOrder {
			if budget <= 0 {
				break
			}
			n, err := s.syncEntity(ctx, tx, projectID, entity, &budget, res)
			if err != nil {
				return err
			}
			if n > 0 {
				s.log.Debug("projected entity batch",
					zap.String("project_id", projectID),
					zap.String("entity", string(entity)),
					zap.Int("rows", n))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	remaining, err := s.store.CountUnsynced(ctx, projectID)
	if err != nil {
		return nil, err
	}
	res.Remaining = remaining
	res.Duration = time.Since(start)
	telemetry.RecordSyncBatch(ctx, projectID, res.Failed)
	s.log.Info("projection run finished",
		zap.String("project_id", projectID),
		zap.Int("scanned", res.Scanned),
		zap.Int("synced", res.Synced),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// SyncAll runs one pass over every project.
func (s *Synchronizer) SyncAll(ctx context.Context, sessionID string) ([]*Result, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Result
	for _, p := range projects {
		res, err := s.SyncProject(ctx, p.ID, sessionID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindBusy) {
				s.log.Info("projection skipped, lock held",
					zap.String("project_id", p.ID))
				continue
			}
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Synchronizer) syncEntity(ctx context.Context, tx storage.Tx, projectID string, entity types.SyncEntity, budget *int, res *Result) (int, error) {
	limit := s.cfg.BatchSize
	if limit > *budget {
		limit = *budget
	}
	switch entity {
	case types.SyncFragments:
		return s.syncFragments(ctx, tx, projectID, limit, budget, res)
	case types.SyncCodes:
		return s.syncCodes(ctx, tx, projectID, limit, budget, res)
	case types.SyncAssignments:
		return s.syncAssignments(ctx, tx, projectID, limit, budget, res)
	case types.SyncAxial:
		return s.syncAxial(ctx, tx, projectID, limit, budget, res)
	case types.SyncPredictions:
		return s.syncPredictions(ctx, tx, projectID, limit, budget, res)
	}
	return 0, apperr.Invalid("invalid sync entity: %s", entity)
}

func (s *Synchronizer) syncFragments(ctx context.Context, tx storage.Tx, projectID string, limit int, budget *int, res *Result) (int, error) {
	rows, err := tx.ListUnsyncedFragments(ctx, projectID, limit)
	if err != nil {
		return 0, err
	}
	var done []string
	for _, f := range rows {
		res.Scanned++
		*budget--
		err := s.upsert(ctx, func() error { return s.graph.UpsertFragment(ctx, f) })
		if err != nil {
			if perm := s.recordPermanent(ctx, err, func(msg string) error {
				return tx.MarkFragmentSyncError(ctx, projectID, f.ID, msg)
			}, res); perm {
				continue
			}
			return len(done), s.flushFragments(ctx, tx, projectID, done, err)
		}
		done = append(done, f.ID)
		res.Synced++
	}
	return len(done), s.flushFragments(ctx, tx, projectID, done, nil)
}

func (s *Synchronizer) flushFragments(ctx context.Context, tx storage.Tx, projectID string, done []string, cause error) error {
	if len(done) > 0 {
		if err := tx.MarkFragmentsSynced(ctx, projectID, done); err != nil {
			return err
		}
		if err := tx.SetSyncCursor(ctx, projectID, types.SyncFragments, done[len(done)-1]); err != nil {
			return err
		}
	}
	return cause
}

func (s *Synchronizer) syncCodes(ctx context.Context, tx storage.Tx, projectID string, limit int, budget *int, res *Result) (int, error) {
	rows, err := tx.ListUnsyncedCodes(ctx, projectID, limit)
	if err != nil {
		return 0, err
	}
	var done []int64
	for _, c := range rows {
		res.Scanned++
		*budget--
		err := s.upsert(ctx, func() error { return s.graph.UpsertCode(ctx, c) })
		if err != nil {
			if perm := s.recordPermanent(ctx, err, func(msg string) error {
				return tx.MarkCodeSyncError(ctx, projectID, c.CodeID, msg)
			}, res); perm {
				continue
			}
			return len(done), s.flushCodes(ctx, tx, projectID, done, err)
		}
		done = append(done, c.CodeID)
		res.Synced++
	}
	return len(done), s.flushCodes(ctx, tx, projectID, done, nil)
}

func (s *Synchronizer) flushCodes(ctx context.Context, tx storage.Tx, projectID string, done []int64, cause error) error {
	if len(done) > 0 {
		if err := tx.MarkCodesSynced(ctx, projectID, done); err != nil {
			return err
		}
		if err := tx.SetSyncCursor(ctx, projectID, types.SyncCodes, fmt.Sprint(done[len(done)-1])); err != nil {
			return err
		}
	}
	return cause
}

func (s *Synchronizer) syncAssignments(ctx context.Context, tx storage.Tx, projectID string, limit int, budget *int, res *Result) (int, error) {
	rows, err := tx.ListUnsyncedAssignments(ctx, projectID, limit)
	if err != nil {
		return 0, err
	}
	var done []int64
	for _, a := range rows {
		res.Scanned++
		*budget--
		err := s.upsert(ctx, func() error { return s.graph.UpsertAssignment(ctx, a) })
		if err != nil {
			if perm := s.recordPermanent(ctx, err, func(msg string) error {
				return tx.MarkAssignmentSyncError(ctx, projectID, a.ID, msg)
			}, res); perm {
				continue
			}
			return len(done), s.flushAssignments(ctx, tx, projectID, done, err)
		}
		done = append(done, a.ID)
		res.Synced++
	}
	return len(done), s.flushAssignments(ctx, tx, projectID, done, nil)
}

func (s *Synchronizer) flushAssignments(ctx context.Context, tx storage.Tx, projectID string, done []int64, cause error) error {
	if len(done) > 0 {
		if err := tx.MarkAssignmentsSynced(ctx, projectID, done); err != nil {
			return err
		}
		if err := tx.SetSyncCursor(ctx, projectID, types.SyncAssignments, fmt.Sprint(done[len(done)-1])); err != nil {
			return err
		}
	}
	return cause
}

func (s *Synchronizer) syncAxial(ctx context.Context, tx storage.Tx, projectID string, limit int, budget *int, res *Result) (int, error) {
	rows, err := tx.ListUnsyncedAxial(ctx, projectID, limit)
	if err != nil {
		return 0, err
	}
	var done []int64
	for _, r := range rows {
		res.Scanned++
		*budget--
		err := s.upsert(ctx, func() error { return s.graph.UpsertAxialRelation(ctx, r) })
		if err != nil {
			if perm := s.recordPermanent(ctx, err, func(msg string) error {
				return tx.MarkAxialSyncError(ctx, projectID, r.ID, msg)
			}, res); perm {
				continue
			}
			return len(done), s.flushAxial(ctx, tx, projectID, done, err)
		}
		done = append(done, r.ID)
		res.Synced++
	}
	return len(done), s.flushAxial(ctx, tx, projectID, done, nil)
}

func (s *Synchronizer) flushAxial(ctx context.Context, tx storage.Tx, projectID string, done []int64, cause error) error {
	if len(done) > 0 {
		if err := tx.MarkAxialSynced(ctx, projectID, done); err != nil {
			return err
		}
		if err := tx.SetSyncCursor(ctx, projectID, types.SyncAxial, fmt.Sprint(done[len(done)-1])); err != nil {
			return err
		}
	}
	return cause
}

func (s *Synchronizer) syncPredictions(ctx context.Context, tx storage.Tx, projectID string, limit int, budget *int, res *Result) (int, error) {
	rows, err := tx.ListUnsyncedPredictions(ctx, projectID, limit)
	if err != nil {
		return 0, err
	}
	var done []int64
	for _, p := range rows {
		res.Scanned++
		*budget--
		err := s.upsert(ctx, func() error { return s.graph.UpsertPrediction(ctx, p) })
		if err != nil {
			if perm := s.recordPermanent(ctx, err, func(msg string) error {
				return tx.MarkPredictionSyncError(ctx, projectID, p.ID, msg)
			}, res); perm {
				continue
			}
			return len(done), s.flushPredictions(ctx, tx, projectID, done, err)
		}
		done = append(done, p.ID)
		res.Synced++
	}
	return len(done), s.flushPredictions(ctx, tx, projectID, done, nil)
}

func (s *Synchronizer) flushPredictions(ctx context.Context, tx storage.Tx, projectID string, done []int64, cause error) error {
	if len(done) > 0 {
		if err := tx.MarkPredictionsSynced(ctx, projectID, done); err != nil {
			return err
		}
		if err := tx.SetSyncCursor(ctx, projectID, types.SyncPredictions, fmt.Sprint(done[len(done)-1])); err != nil {
			return err
		}
	}
	return cause
}

// upsert runs one graph write with bounded exponential backoff. Transient
// dependency errors retry; anything else aborts immediately as permanent.
func (s *Synchronizer) upsert(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.BackoffBase
	bo.Multiplier = 2
	bo.MaxInterval = s.cfg.BackoffCap

	attempts := uint64(s.cfg.MaxAttempts - 1)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !apperr.KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), ctx))
}

// recordPermanent writes the row's sync error when the failure is permanent
// and reports whether the run may continue. Transient exhaustion leaves the
// row pending for the next run and aborts this one.
func (s *Synchronizer) recordPermanent(ctx context.Context, cause error, mark func(msg string) error, res *Result) bool {
	if apperr.KindOf(cause).Retryable() {
		return false
	}
	res.Failed++
	if err := mark(cause.Error()); err != nil {
		s.log.Warn("failed to record sync error", zap.Error(err))
	}
	return true
}
