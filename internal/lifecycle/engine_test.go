package lifecycle

import (
	"context"
	"testing"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/storage/memory"
	"github.com/tesela-labs/tesela/internal/types"
)

const testProject = "proj-1"

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	if err := store.CreateProject(context.Background(), &types.Project{ID: testProject, Name: "test"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return NewEngine(store, Config{}, nil), store
}

func seedFragment(t *testing.T, store *memory.Store, id, text string) {
	t.Helper()
	_, err := store.UpsertFragments(context.Background(), []*types.Fragment{{
		ID:        id,
		ProjectID: testProject,
		Text:      text,
		CharLen:   len(text),
	}})
	if err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}
}

func seedCode(t *testing.T, store *memory.Store, codigo string) *types.CatalogCode {
	t.Helper()
	code := &types.CatalogCode{ProjectID: testProject, Codigo: codigo, Status: types.CodeActive}
	if _, err := store.CreateCode(context.Background(), code); err != nil {
		t.Fatalf("CreateCode(%q): %v", codigo, err)
	}
	return code
}

func TestCheckBatch(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedCode(t, store, "escasez de agua")
	seedCode(t, store, "conflicto vecinal")

	results, err := engine.CheckBatch(ctx, testProject, []string{
		"escasez de agua",
		"ESCASEZ DE AGUA",
		"escasez agua",
		"soberania alimentaria",
	})
	if err != nil {
		t.Fatalf("CheckBatch: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	if results[0].Exact == nil || results[0].Exact.Codigo != "escasez de agua" {
		t.Errorf("exact label: got %+v, want exact match", results[0])
	}
	if results[1].CaseFold == nil {
		t.Errorf("case variant: got %+v, want case-fold match", results[1])
	}
	if len(results[2].Similar) == 0 {
		t.Errorf("near label: got %+v, want a similarity suggestion", results[2])
	}
	if !results[3].NewLabel {
		t.Errorf("unknown label: got %+v, want new_label", results[3])
	}
}

func TestCheckBatchMatchesOutsideRecentWindow(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.CreateProject(ctx, &types.Project{ID: testProject, Name: "test"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	engine := NewEngine(store, Config{RecentWindow: 1}, nil)

	old := seedCode(t, store, "escasez de agua")
	seedCode(t, store, "corte electrico") // newer; fills the whole window

	// The old label is no longer among the recent rows, but exact and
	// case-fold matches must still find it across the full catalog.
	results, err := engine.CheckBatch(ctx, testProject, []string{
		"escasez de agua",
		"ESCASEZ DE AGUA",
	})
	if err != nil {
		t.Fatalf("CheckBatch: %v", err)
	}
	if results[0].Exact == nil || results[0].Exact.CodeID != old.CodeID {
		t.Errorf("exact: got %+v, want match on code %d", results[0], old.CodeID)
	}
	if results[0].NewLabel {
		t.Errorf("exact: new_label set for a catalogued label")
	}
	if results[1].CaseFold == nil || results[1].CaseFold.CodeID != old.CodeID {
		t.Errorf("case fold: got %+v, want match on code %d", results[1], old.CodeID)
	}
	if results[1].NewLabel {
		t.Errorf("case fold: new_label set for a catalogued label")
	}
}

func TestCheckBatchEmptyLabels(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.CheckBatch(context.Background(), testProject, nil); !apperr.IsInvalid(err) {
		t.Fatalf("got %v, want invalid_request", err)
	}
}

func TestSubmitBackfillsCodeID(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	code := seedCode(t, store, "escasez de agua")

	cand, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "escasez de agua",
		Source:     types.SourceManual,
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if cand.State != types.CandidatePending {
		t.Errorf("state = %s, want pending", cand.State)
	}
	if cand.CodeID == nil || *cand.CodeID != code.CodeID {
		t.Errorf("code_id = %v, want %d backfilled from the catalog", cand.CodeID, code.CodeID)
	}
}

func TestSubmitCollisionReopens(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedFragment(t, store, "frag-1", "no hay agua en la colonia")

	frag := "frag-1"
	first, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "escasez de agua",
		FragmentID: &frag,
		Source:     types.SourceLLM,
		Confidence: 0.4,
	})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "escasez de agua",
		FragmentID: &frag,
		Source:     types.SourceLLM,
		Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("collision minted a new row: %s vs %s", second.ID, first.ID)
	}
	if second.Confidence != 0.8 {
		t.Errorf("confidence = %v, want the higher 0.8", second.Confidence)
	}
}

func TestSubmitUnknownFragment(t *testing.T) {
	engine, _ := newTestEngine(t)
	frag := "missing"
	_, err := engine.Submit(context.Background(), SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "escasez de agua",
		FragmentID: &frag,
		Source:     types.SourceManual,
		Confidence: 1,
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("got %v, want not_found", err)
	}
}

func TestTransition(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cand, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "migracion interna",
		Source:     types.SourceManual,
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := engine.Transition(ctx, testProject, cand.ID, types.CandidateValidated, "ana", "looks right")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.State != types.CandidateValidated || got.Validator != "ana" {
		t.Errorf("got state=%s validator=%s", got.State, got.Validator)
	}

	if _, err := engine.Transition(ctx, testProject, cand.ID, types.CandidatePending, "ana", ""); !apperr.IsInvalid(err) {
		t.Errorf("transition to pending: got %v, want invalid_request", err)
	}
}

func TestPromote(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedFragment(t, store, "frag-1", "no hay agua en la colonia desde hace meses")

	frag := "frag-1"
	cand, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "escasez de agua",
		FragmentID: &frag,
		Source:     types.SourceManual,
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Only validated candidates promote.
	if _, err := engine.Promote(ctx, testProject, cand.ID, "ana"); !apperr.IsConflict(err) {
		t.Fatalf("promote pending: got %v, want conflict", err)
	}

	if _, err := engine.Transition(ctx, testProject, cand.ID, types.CandidateValidated, "ana", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	result, err := engine.Promote(ctx, testProject, cand.ID, "ana")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !result.MintedCode {
		t.Errorf("expected a freshly minted code")
	}
	if result.AssignmentID == 0 {
		t.Errorf("expected an assignment for the evidence fragment")
	}
	if result.Code.Codigo != "escasez de agua" || result.Code.Status != types.CodeActive {
		t.Errorf("code = %+v", result.Code)
	}

	// The assignment denormalises the stable id.
	a, err := store.GetAssignment(ctx, testProject, "frag-1", "escasez de agua")
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if a.CodeID == nil || *a.CodeID != result.Code.CodeID {
		t.Errorf("assignment code_id = %v, want %d", a.CodeID, result.Code.CodeID)
	}
}

func TestPromoteReusesExistingCode(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	code := seedCode(t, store, "escasez de agua")

	cand, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "escasez de agua",
		Source:     types.SourceManual,
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := engine.Transition(ctx, testProject, cand.ID, types.CandidateValidated, "ana", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	result, err := engine.Promote(ctx, testProject, cand.ID, "ana")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if result.MintedCode {
		t.Errorf("promotion minted a duplicate code")
	}
	if result.Code.CodeID != code.CodeID {
		t.Errorf("code_id = %d, want existing %d", result.Code.CodeID, code.CodeID)
	}
}

func TestPromoteFollowsCanonicalChain(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	survivor := seedCode(t, store, "escasez de agua")
	merged := seedCode(t, store, "falta de agua")
	if err := store.UpdateCodePointer(ctx, testProject, merged.CodeID, types.CodeMerged, &survivor.CodeID); err != nil {
		t.Fatalf("UpdateCodePointer: %v", err)
	}

	cand, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "falta de agua",
		Source:     types.SourceManual,
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := engine.Transition(ctx, testProject, cand.ID, types.CandidateValidated, "ana", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	result, err := engine.Promote(ctx, testProject, cand.ID, "ana")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if result.Code.CodeID != survivor.CodeID {
		t.Errorf("promotion landed on %d, want canonical survivor %d", result.Code.CodeID, survivor.CodeID)
	}
}

func TestPromoteBusyWhenLockHeld(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	cand, err := engine.Submit(ctx, SubmitRequest{
		ProjectID:  testProject,
		Codigo:     "escasez de agua",
		Source:     types.SourceManual,
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := engine.Transition(ctx, testProject, cand.ID, types.CandidateValidated, "ana", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	release := store.HoldLock(testProject, types.LockCatalog, "other-session")
	defer release()

	if _, err := engine.Promote(ctx, testProject, cand.ID, "ana"); !apperr.IsBusy(err) {
		t.Fatalf("got %v, want busy", err)
	}
}
