package readiness

import (
	"context"
	"testing"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/storage/memory"
	"github.com/tesela-labs/tesela/internal/types"
)

const testProject = "proj-1"

func newTestGate(t *testing.T) (*Gate, *memory.Store) {
	t.Helper()
	store := memory.New()
	if err := store.CreateProject(context.Background(), &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return NewGate(store, Config{}, nil), store
}

// flakyLedger fails counter reads on demand, for the degraded-cache path.
type flakyLedger struct {
	Ledger
	fail bool
}

func (f *flakyLedger) ReadinessCounters(ctx context.Context, projectID string) (types.ReadinessCounters, error) {
	if f.fail {
		return types.ReadinessCounters{}, apperr.Dependency(context.DeadlineExceeded, "ledger")
	}
	return f.Ledger.ReadinessCounters(ctx, projectID)
}

func TestReportCleanProject(t *testing.T) {
	gate, _ := newTestGate(t)
	report, err := gate.Report(context.Background(), testProject)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !report.AxialReady {
		t.Errorf("empty project not ready: %+v", report)
	}
	if len(report.BlockingReasons) != 0 {
		t.Errorf("unexpected reasons: %v", report.BlockingReasons)
	}
}

func TestReportBlocksOnMissingCodeID(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	code := &types.CatalogCode{ProjectID: testProject, Codigo: "escasez de agua", Status: types.CodeActive}
	if _, err := store.CreateCode(ctx, code); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	if _, err := store.UpsertFragments(ctx, []*types.Fragment{{ID: "frag-1", ProjectID: testProject, Text: "x"}}); err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}
	if _, err := store.CreateAssignment(ctx, &types.Assignment{
		ProjectID:  testProject,
		FragmentID: "frag-1",
		Codigo:     "escasez de agua",
	}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	report, err := gate.Report(ctx, testProject)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.AxialReady {
		t.Fatalf("project with unidentified assignment reported ready")
	}
	if report.Counters.MissingCodeID != 1 {
		t.Errorf("missing_code_id = %d, want 1", report.Counters.MissingCodeID)
	}

	err = gate.EnsureReady(ctx, testProject)
	if !apperr.IsNotReady(err) {
		t.Fatalf("EnsureReady: got %v, want not_ready", err)
	}
}

func TestSelfCanonicalActiveRowsDoNotBlock(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	code := &types.CatalogCode{ProjectID: testProject, Codigo: "escasez de agua", Status: types.CodeActive}
	if _, err := store.CreateCode(ctx, code); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	if err := store.UpdateCodePointer(ctx, testProject, code.CodeID, types.CodeActive, &code.CodeID); err != nil {
		t.Fatalf("UpdateCodePointer: %v", err)
	}

	report, err := gate.Report(ctx, testProject)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !report.AxialReady {
		t.Errorf("self-canonical active row blocked the gate: %+v", report.Counters)
	}
}

func TestReportBlocksOnCycle(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	a := &types.CatalogCode{ProjectID: testProject, Codigo: "a b", Status: types.CodeActive}
	b := &types.CatalogCode{ProjectID: testProject, Codigo: "c d", Status: types.CodeActive}
	for _, c := range []*types.CatalogCode{a, b} {
		if _, err := store.CreateCode(ctx, c); err != nil {
			t.Fatalf("CreateCode: %v", err)
		}
	}
	if err := store.UpdateCodePointer(ctx, testProject, a.CodeID, types.CodeMerged, &b.CodeID); err != nil {
		t.Fatalf("UpdateCodePointer: %v", err)
	}
	if err := store.UpdateCodePointer(ctx, testProject, b.CodeID, types.CodeMerged, &a.CodeID); err != nil {
		t.Fatalf("UpdateCodePointer: %v", err)
	}

	report, err := gate.Report(ctx, testProject)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.AxialReady || report.Counters.CyclesNonTrivial == 0 {
		t.Errorf("two-node cycle not detected: %+v", report.Counters)
	}
}

func TestReportServesCacheDuringOutage(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.CreateProject(ctx, &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	flaky := &flakyLedger{Ledger: store}
	gate := NewGate(flaky, Config{}, nil)

	if _, err := gate.Report(ctx, testProject); err != nil {
		t.Fatalf("warm-up Report: %v", err)
	}

	flaky.fail = true
	report, err := gate.Report(ctx, testProject)
	if err != nil {
		t.Fatalf("Report during outage: %v", err)
	}
	if !report.Degraded {
		t.Errorf("cached report not marked degraded")
	}

	// A cold cache propagates the outage.
	cold := NewGate(flaky, Config{}, nil)
	if _, err := cold.Report(ctx, testProject); err == nil {
		t.Errorf("cold gate swallowed the outage")
	}
}

func TestAnalysisGateBacklog(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.CreateProject(ctx, &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	gate := NewGate(store, Config{BacklogThresholdCount: 2, BacklogThresholdDays: 3}, nil)

	out, err := gate.Analysis(ctx, testProject)
	if err != nil {
		t.Fatalf("Analysis: %v", err)
	}
	if !out.CanSchedule {
		t.Fatalf("empty backlog refused scheduling: %+v", out)
	}

	for _, codigo := range []string{"uno dos", "tres cuatro"} {
		if _, _, err := store.UpsertCandidate(ctx, &types.Candidate{
			ProjectID:  testProject,
			Codigo:     codigo,
			Source:     types.SourceLLM,
			Confidence: 0.5,
			State:      types.CandidatePending,
		}); err != nil {
			t.Fatalf("UpsertCandidate: %v", err)
		}
	}

	out, err = gate.Analysis(ctx, testProject)
	if err != nil {
		t.Fatalf("Analysis: %v", err)
	}
	if out.CanSchedule {
		t.Errorf("backlog of %d at threshold 2 still schedulable", out.Pending)
	}
	if len(out.Reasons) == 0 || out.Reasons[0] != ReasonBacklogCount {
		t.Errorf("reasons = %v, want %s", out.Reasons, ReasonBacklogCount)
	}
}
