// Package readiness computes the axial_ready gate.
//
// Four counters describe the structural consistency of a project's
// ontology; axial writes are refused while any of them is non-zero.
// Self-canonical active rows are an expected state and never block.
// Freeze is a separate concern and is not part of readiness.
package readiness

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/telemetry"
	"github.com/tesela-labs/tesela/internal/types"
)

// Ledger is the slice of the store the gate needs.
type Ledger interface {
	ReadinessCounters(ctx context.Context, projectID string) (types.ReadinessCounters, error)
	PendingBacklog(ctx context.Context, projectID string) (int, time.Time, error)
}

// Config tunes the operational gate thresholds.
type Config struct {
	// BacklogThresholdCount refuses new analysis scheduling once this many
	// candidates sit pending.
	BacklogThresholdCount int
	// BacklogThresholdDays refuses scheduling once the oldest pending
	// candidate is older than this.
	BacklogThresholdDays int
}

func (c Config) withDefaults() Config {
	if c.BacklogThresholdCount <= 0 {
		c.BacklogThresholdCount = 50
	}
	if c.BacklogThresholdDays <= 0 {
		c.BacklogThresholdDays = 3
	}
	return c
}

// Gate serves readiness reports and enforces the write-path guard.
type Gate struct {
	store Ledger
	cfg   Config
	log   *zap.Logger

	mu    sync.RWMutex
	cache map[string]types.ReadinessReport // last-known good, per project
}

// NewGate builds the readiness gate.
func NewGate(store Ledger, cfg Config, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   log,
		cache: make(map[string]types.ReadinessReport),
	}
}

// Report computes the gate result. On a ledger outage the last-known
// report is served with degraded=true so read paths stay available; when
// nothing is cached the outage propagates as a dependency error.
func (g *Gate) Report(ctx context.Context, projectID string) (*types.ReadinessReport, error) {
	counters, err := g.store.ReadinessCounters(ctx, projectID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		g.mu.RLock()
		cached, ok := g.cache[projectID]
		g.mu.RUnlock()
		if !ok {
			return nil, apperr.Dependency(err, "ledger")
		}
		g.log.Warn("serving cached readiness",
			zap.String("project_id", projectID),
			zap.Error(err))
		cached.Degraded = true
		return &cached, nil
	}

	report := types.ReadinessReport{
		ProjectID:       projectID,
		Counters:        counters,
		AxialReady:      counters.Ready(),
		BlockingReasons: counters.BlockingReasons(),
		ComputedAt:      time.Now(),
	}
	g.mu.Lock()
	g.cache[projectID] = report
	g.mu.Unlock()
	return &report, nil
}

// EnsureReady refuses with not_ready (carrying the blocking reasons) when
// any counter is non-zero. A pre-flight convenience for callers outside a
// ledger transaction; the axial write paths re-check the counters inside
// their own transaction, which is the authoritative guard.
func (g *Gate) EnsureReady(ctx context.Context, projectID string) error {
	report, err := g.Report(ctx, projectID)
	if err != nil {
		return err
	}
	if !report.AxialReady {
		telemetry.RecordGateRefusal(ctx, projectID)
		return apperr.NotReady(report.BlockingReasons)
	}
	return nil
}

// AnalysisGate is the operational companion gate: it refuses to schedule
// new LLM analyses while the candidate backlog is too deep or too old,
// forcing validation first.
type AnalysisGate struct {
	ProjectID     string   `json:"project_id"`
	CanSchedule   bool     `json:"can_schedule"`
	Reasons       []string `json:"reasons,omitempty"`
	Pending       int      `json:"pending"`
	OldestAgeDays float64  `json:"oldest_age_days"`
}

// Analysis gate reason names. Stable; they appear in API responses.
const (
	ReasonBacklogCount = "candidate_backlog_count"
	ReasonBacklogAge   = "candidate_backlog_age"
)

// Analysis computes the operational gate for a project.
func (g *Gate) Analysis(ctx context.Context, projectID string) (*AnalysisGate, error) {
	pending, oldest, err := g.store.PendingBacklog(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := &AnalysisGate{ProjectID: projectID, CanSchedule: true, Pending: pending}
	if !oldest.IsZero() {
		out.OldestAgeDays = time.Since(oldest).Hours() / 24
	}
	if pending >= g.cfg.BacklogThresholdCount {
		out.CanSchedule = false
		out.Reasons = append(out.Reasons, ReasonBacklogCount)
	}
	if out.OldestAgeDays >= float64(g.cfg.BacklogThresholdDays) {
		out.CanSchedule = false
		out.Reasons = append(out.Reasons, ReasonBacklogAge)
	}
	return out, nil
}
