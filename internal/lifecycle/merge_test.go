package lifecycle

import (
	"context"
	"testing"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/storage/memory"
	"github.com/tesela-labs/tesela/internal/types"
)

func submitWithFragment(t *testing.T, engine *Engine, store *memory.Store, codigo, fragmentID, text string) *types.Candidate {
	t.Helper()
	seedFragment(t, store, fragmentID, text)
	cand, err := engine.Submit(context.Background(), SubmitRequest{
		ProjectID:  testProject,
		Codigo:     codigo,
		FragmentID: &fragmentID,
		Source:     types.SourceLLM,
		Confidence: 0.7,
	})
	if err != nil {
		t.Fatalf("Submit(%q): %v", codigo, err)
	}
	return cand
}

func TestMergeByIDsDryRunDoesNotWrite(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	cand := submitWithFragment(t, engine, store, "falta de agua", "frag-1", "sin agua potable")

	result, err := engine.MergeByIDs(ctx, MergeIDsRequest{
		ProjectID:    testProject,
		SourceIDs:    []string{cand.ID},
		TargetCodigo: "escasez de agua",
		DryRun:       true,
	})
	if err != nil {
		t.Fatalf("MergeByIDs dry run: %v", err)
	}
	if !result.DryRun || result.WouldMove != 1 {
		t.Errorf("result = %+v, want dry_run with would_move=1", result)
	}

	// The ledger is untouched: no target code, candidate still pending.
	if _, err := store.GetCodeByLabel(ctx, testProject, "escasez de agua"); !apperr.IsNotFound(err) {
		t.Errorf("dry run minted the target code: %v", err)
	}
	got, _ := store.GetCandidate(ctx, testProject, cand.ID)
	if got.State != types.CandidatePending {
		t.Errorf("dry run changed candidate state to %s", got.State)
	}
}

func TestMergeByIDsMovesEvidence(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	cand := submitWithFragment(t, engine, store, "falta de agua", "frag-1", "sin agua potable en la colonia")

	result, err := engine.MergeByIDs(ctx, MergeIDsRequest{
		ProjectID:    testProject,
		SourceIDs:    []string{cand.ID},
		TargetCodigo: "escasez de agua",
		Actor:        "ana",
	})
	if err != nil {
		t.Fatalf("MergeByIDs: %v", err)
	}
	if result.Moved != 1 || result.MarkedMerged != 0 {
		t.Errorf("result = %+v, want moved=1", result)
	}

	// Source candidate points at the survivor.
	got, err := store.GetCandidate(ctx, testProject, cand.ID)
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.State != types.CandidateMerged || got.MergedInto != "escasez de agua" {
		t.Errorf("candidate = %+v, want merged into target", got)
	}
	if got.CodeID == nil || *got.CodeID != result.TargetCodeID {
		t.Errorf("candidate code_id = %v, want %d", got.CodeID, result.TargetCodeID)
	}

	// Evidence is definitive under the target.
	a, err := store.GetAssignment(ctx, testProject, "frag-1", "escasez de agua")
	if err != nil {
		t.Fatalf("evidence lost: %v", err)
	}
	if a.CodeID == nil || *a.CodeID != result.TargetCodeID {
		t.Errorf("assignment code_id = %v, want %d", a.CodeID, result.TargetCodeID)
	}
}

func TestMergeByIDsIdempotentReplay(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	cand := submitWithFragment(t, engine, store, "falta de agua", "frag-1", "sin agua potable")

	req := MergeIDsRequest{
		ProjectID:      testProject,
		SourceIDs:      []string{cand.ID},
		TargetCodigo:   "escasez de agua",
		IdempotencyKey: "merge-key-1",
		Actor:          "ana",
	}
	first, err := engine.MergeByIDs(ctx, req)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, err := engine.MergeByIDs(ctx, req)
	if err != nil {
		t.Fatalf("replayed merge: %v", err)
	}
	if !second.Idempotent {
		t.Errorf("replay not marked idempotent: %+v", second)
	}
	if second.Moved != first.Moved || second.TargetCodeID != first.TargetCodeID {
		t.Errorf("replay diverged: first=%+v second=%+v", first, second)
	}
}

func TestMergeRefusedWhileFrozen(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	cand := submitWithFragment(t, engine, store, "falta de agua", "frag-1", "sin agua potable")
	if _, err := store.SetFreeze(ctx, testProject, true, "admin", "reporting"); err != nil {
		t.Fatalf("SetFreeze: %v", err)
	}

	_, err := engine.MergeByIDs(ctx, MergeIDsRequest{
		ProjectID:    testProject,
		SourceIDs:    []string{cand.ID},
		TargetCodigo: "escasez de agua",
	})
	if !apperr.IsFrozen(err) {
		t.Fatalf("got %v, want frozen", err)
	}

	// Dry runs stay available on frozen projects.
	if _, err := engine.MergeByIDs(ctx, MergeIDsRequest{
		ProjectID:    testProject,
		SourceIDs:    []string{cand.ID},
		TargetCodigo: "escasez de agua",
		DryRun:       true,
	}); err != nil {
		t.Errorf("dry run on frozen project: %v", err)
	}
}

func TestMergePairsRowWise(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	submitWithFragment(t, engine, store, "falta de agua", "frag-1", "sin agua")
	submitWithFragment(t, engine, store, "falta de agua", "frag-2", "cortes de agua")
	other := submitWithFragment(t, engine, store, "conflicto vecinal", "frag-3", "pleito entre vecinos")

	result, err := engine.MergePairs(ctx, MergePairsRequest{
		ProjectID: testProject,
		Pairs:     []MergePair{{SourceCodigo: "falta de agua", TargetCodigo: "escasez de agua"}},
		Actor:     "ana",
	})
	if err != nil {
		t.Fatalf("MergePairs: %v", err)
	}
	if result.Moved != 2 {
		t.Errorf("moved = %d, want 2", result.Moved)
	}

	// Unrelated candidates are untouched.
	got, _ := store.GetCandidate(ctx, testProject, other.ID)
	if got.State != types.CandidatePending {
		t.Errorf("unrelated candidate state = %s", got.State)
	}
}

func TestMergePairsSelfMergeRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.MergePairs(context.Background(), MergePairsRequest{
		ProjectID: testProject,
		Pairs:     []MergePair{{SourceCodigo: "Agua", TargetCodigo: "agua"}},
	})
	if !apperr.IsInvalid(err) {
		t.Fatalf("got %v, want invalid_request", err)
	}
}

func TestMergePairsCatalogNeedsSwitch(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.MergePairs(context.Background(), MergePairsRequest{
		ProjectID:      testProject,
		Pairs:          []MergePair{{SourceCodigo: "a b", TargetCodigo: "c d"}},
		ApplyToCatalog: true,
	})
	if !apperr.IsInvalid(err) {
		t.Fatalf("got %v, want invalid_request while allow_catalog_merge is off", err)
	}
}

func TestMergePairsApplyToCatalog(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.CreateProject(ctx, &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	engine := NewEngine(store, Config{AllowCatalogMerge: true}, nil)

	src := seedCode(t, store, "falta de agua")
	dst := seedCode(t, store, "escasez de agua")

	result, err := engine.MergePairs(ctx, MergePairsRequest{
		ProjectID:      testProject,
		Pairs:          []MergePair{{SourceCodigo: "falta de agua", TargetCodigo: "escasez de agua"}},
		ApplyToCatalog: true,
		Actor:          "ana",
	})
	if err != nil {
		t.Fatalf("MergePairs: %v", err)
	}
	if result.CatalogRows != 1 {
		t.Errorf("catalog_rows = %d, want 1", result.CatalogRows)
	}

	got, err := store.GetCode(ctx, testProject, src.CodeID)
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	if got.Status != types.CodeMerged || got.CanonicalCodeID == nil || *got.CanonicalCodeID != dst.CodeID {
		t.Errorf("source row = %+v, want merged -> %d", got, dst.CodeID)
	}
}

func TestMergeAtomicOnFailure(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	good := submitWithFragment(t, engine, store, "falta de agua", "frag-1", "sin agua")

	_, err := engine.MergeByIDs(ctx, MergeIDsRequest{
		ProjectID:    testProject,
		SourceIDs:    []string{good.ID, "no-such-candidate"},
		TargetCodigo: "escasez de agua",
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("got %v, want not_found", err)
	}

	// No partial success: the good candidate is untouched.
	got, _ := store.GetCandidate(ctx, testProject, good.ID)
	if got.State != types.CandidatePending {
		t.Errorf("partial merge leaked: state = %s", got.State)
	}
}
