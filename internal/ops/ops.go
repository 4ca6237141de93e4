// Package ops runs the controlled maintenance operations.
//
// Every mutating operation shares one discipline: dry-run by default,
// explicit confirmation with a fresh session id for real runs, a project
// advisory lock for the duration, optional idempotency binding, and a
// persisted ops_log row mirrored by request.start/request.end log events.
// Any discipline violation turns the call into a safe NOOP.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/freeze"
	"github.com/tesela-labs/tesela/internal/projection"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/types"
)

// Operation names. Stable; they appear in the ops log and the API.
const (
	OpBackfill = "backfill_code_ids"
	OpRepair   = "repair_canonical"
	OpSync     = "sync_projection"
	OpFreeze   = "freeze"
	OpUnfreeze = "unfreeze"
)

func knownOperation(op string) bool {
	switch op {
	case OpBackfill, OpRepair, OpSync, OpFreeze, OpUnfreeze:
		return true
	}
	return false
}

// Config tunes the runner.
type Config struct {
	// BatchSize bounds rows touched per backfill/repair pass.
	BatchSize int
	// IdempotencyTTL is how long a bound response survives.
	IdempotencyTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	return c
}

// Request carries one maintenance call through the discipline.
type Request struct {
	ProjectID      string `json:"project_id"`
	Operation      string `json:"operation"`
	DryRun         bool   `json:"dry_run"`
	Confirm        bool   `json:"confirm"`
	SessionID      string `json:"session_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	Actor          string `json:"actor,omitempty"`
	// Note annotates freeze toggles.
	Note string `json:"note,omitempty"`
}

// Response is the uniform result of a maintenance call.
type Response struct {
	Operation   string          `json:"operation"`
	ProjectID   string          `json:"project_id"`
	RequestID   string          `json:"request_id"`
	DryRun      bool            `json:"dry_run"`
	Outcome     types.Outcome   `json:"outcome"`
	UpdatedRows int             `json:"updated_rows"`
	Message     string          `json:"message,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	Idempotent  bool            `json:"idempotent,omitempty"`

	// bound marks that the idempotency snapshot committed with the
	// operation's own transaction.
	bound bool
}

// Runner executes maintenance operations over the ledger.
type Runner struct {
	store  storage.Ledger
	sync   *projection.Synchronizer
	frozen *freeze.Controller
	cfg    Config
	log    *zap.Logger
}

// NewRunner builds the runner.
func NewRunner(store storage.Ledger, sync *projection.Synchronizer, frozen *freeze.Controller, cfg Config, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{store: store, sync: sync, frozen: frozen, cfg: cfg.withDefaults(), log: log}
}

// Run executes one maintenance call under the shared discipline.
func (r *Runner) Run(ctx context.Context, req Request) (resp *Response, err error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.BatchSize <= 0 {
		req.BatchSize = r.cfg.BatchSize
	}
	start := time.Now()
	writeIntent := !req.DryRun

	r.log.Info("request.start",
		zap.String("project_id", req.ProjectID),
		zap.String("session_id", req.SessionID),
		zap.String("request_id", req.RequestID),
		zap.String("operation", req.Operation),
		zap.Bool("dry_run", req.DryRun),
		zap.Bool("confirm", req.Confirm),
		zap.Int("batch_size", req.BatchSize))

	outcome := types.OutcomeUnknown
	updated := 0
	statusCode := http.StatusOK
	defer func() {
		if p := recover(); p != nil {
			outcome = types.OutcomeUnknown
			statusCode = http.StatusInternalServerError
			err = apperr.Internal(nil, "operation %s panicked: %v", req.Operation, p)
			resp = nil
		}
		r.logEnd(ctx, req, writeIntent, outcome, updated, statusCode, start, err)
	}()

	if !knownOperation(req.Operation) {
		outcome = types.OutcomeError
		statusCode = http.StatusBadRequest
		return nil, apperr.Invalid("unknown operation: %s", req.Operation)
	}
	if _, err := r.store.GetProject(ctx, req.ProjectID); err != nil {
		outcome = types.OutcomeError
		statusCode = apperr.KindOf(err).HTTPStatus()
		return nil, err
	}

	// Discipline: a real run needs confirm and a session id. A violation is
	// a safe NOOP, never a partial execution.
	if writeIntent && (!req.Confirm || req.SessionID == "") {
		outcome = types.OutcomeNoop
		return &Response{
			Operation: req.Operation,
			ProjectID: req.ProjectID,
			RequestID: req.RequestID,
			DryRun:    req.DryRun,
			Outcome:   types.OutcomeNoop,
			Message:   "real run requires confirm=true and X-Session-ID; nothing was changed",
		}, nil
	}

	// Idempotent replay: identical re-submissions return the bound response
	// without re-executing.
	if writeIntent && req.IdempotencyKey != "" {
		snapshot, ok, err := r.store.GetIdempotentResponse(ctx, req.ProjectID, req.IdempotencyKey)
		if err != nil {
			outcome = types.OutcomeError
			statusCode = apperr.KindOf(err).HTTPStatus()
			return nil, err
		}
		if ok {
			var prior Response
			if err := json.Unmarshal(snapshot, &prior); err == nil {
				prior.Idempotent = true
				outcome = types.OutcomeNoop
				updated = 0
				return &prior, nil
			}
		}
	}

	resp, err = r.dispatch(ctx, req)
	if err != nil {
		outcome = types.OutcomeError
		statusCode = apperr.KindOf(err).HTTPStatus()
		return nil, err
	}
	r.finalize(req, resp)
	outcome = resp.Outcome
	updated = resp.UpdatedRows

	// Backfill and repair bind their snapshot inside the operation's own
	// transaction. Sync and freeze run outside a single runner-owned
	// transaction and converge on re-execution, so their snapshot binds
	// after the fact.
	if writeIntent && req.IdempotencyKey != "" && !resp.bound {
		snapshot, merr := json.Marshal(resp)
		if merr == nil {
			err = r.store.RunInTransaction(ctx, func(tx storage.Tx) error {
				return tx.PutIdempotentResponse(ctx, req.ProjectID, req.IdempotencyKey, snapshot, r.cfg.IdempotencyTTL)
			})
			if err != nil {
				outcome = types.OutcomeError
				statusCode = apperr.KindOf(err).HTTPStatus()
				return nil, err
			}
		}
	}
	return resp, nil
}

// finalize fills the response envelope and defaults the outcome.
func (r *Runner) finalize(req Request, resp *Response) {
	resp.Operation = req.Operation
	resp.ProjectID = req.ProjectID
	resp.RequestID = req.RequestID
	resp.DryRun = req.DryRun
	if resp.Outcome == "" {
		if resp.UpdatedRows == 0 {
			resp.Outcome = types.OutcomeNoop
		} else {
			resp.Outcome = types.OutcomeOK
		}
	}
}

// bindResult snapshots the finished response under the caller's
// idempotency key within the operation's transaction, so the writes and
// their receipt commit or roll back together.
func (r *Runner) bindResult(ctx context.Context, tx storage.Tx, req Request, resp *Response) error {
	if req.DryRun || req.IdempotencyKey == "" {
		return nil
	}
	r.finalize(req, resp)
	snapshot, err := json.Marshal(resp)
	if err != nil {
		return apperr.Internal(err, "failed to snapshot operation result")
	}
	if err := tx.PutIdempotentResponse(ctx, req.ProjectID, req.IdempotencyKey, snapshot, r.cfg.IdempotencyTTL); err != nil {
		return err
	}
	resp.bound = true
	return nil
}

func (r *Runner) dispatch(ctx context.Context, req Request) (*Response, error) {
	switch req.Operation {
	case OpBackfill:
		return r.runBackfill(ctx, req)
	case OpRepair:
		return r.runRepair(ctx, req)
	case OpSync:
		return r.runSync(ctx, req)
	case OpFreeze, OpUnfreeze:
		return r.runFreezeToggle(ctx, req)
	}
	return nil, apperr.Invalid("unknown operation: %s", req.Operation)
}

func (r *Runner) logEnd(ctx context.Context, req Request, writeIntent bool, outcome types.Outcome, updated, statusCode int, start time.Time, cause error) {
	duration := time.Since(start)
	fields := []zap.Field{
		zap.String("project_id", req.ProjectID),
		zap.String("session_id", req.SessionID),
		zap.String("request_id", req.RequestID),
		zap.String("operation", req.Operation),
		zap.Bool("dry_run", req.DryRun),
		zap.Bool("confirm", req.Confirm),
		zap.Int("batch_size", req.BatchSize),
		zap.Int("updated_rows", updated),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Int("status_code", statusCode),
		zap.String("outcome", string(outcome)),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	r.log.Info("request.end", fields...)

	entry := &types.OpsLogEntry{
		ProjectID:   req.ProjectID,
		SessionID:   req.SessionID,
		RequestID:   req.RequestID,
		Operation:   req.Operation,
		DryRun:      req.DryRun,
		Confirm:     req.Confirm,
		WriteIntent: writeIntent,
		BatchSize:   req.BatchSize,
		UpdatedRows: updated,
		DurationMS:  duration.Milliseconds(),
		StatusCode:  statusCode,
		Outcome:     outcome,
		Actor:       req.Actor,
		StartedAt:   start,
		FinishedAt:  start.Add(duration),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if _, err := r.store.AppendOpsLog(ctx, entry); err != nil {
		r.log.Warn("failed to append ops log", zap.Error(err))
	}
}
