package projection

import (
	"context"
	"testing"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/graph"
	"github.com/tesela-labs/tesela/internal/storage/memory"
	"github.com/tesela-labs/tesela/internal/types"
)

const testProject = "proj-1"

func newTestSync(t *testing.T) (*Synchronizer, *memory.Store, *graph.MemoryStore) {
	t.Helper()
	store := memory.New()
	if err := store.CreateProject(context.Background(), &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	g := graph.NewMemoryStore()
	// Millisecond backoff keeps retry tests fast.
	sync := New(store, g, Config{BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}, nil)
	return sync, store, g
}

func seedLedger(t *testing.T, store *memory.Store) (*types.CatalogCode, int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertFragments(ctx, []*types.Fragment{
		{ID: "frag-1", ProjectID: testProject, Text: "no hay agua", InterviewID: "iv-1"},
		{ID: "frag-2", ProjectID: testProject, Text: "cortes de agua"},
	}); err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}
	code := &types.CatalogCode{ProjectID: testProject, Codigo: "escasez de agua", Status: types.CodeActive}
	if _, err := store.CreateCode(ctx, code); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	aid, err := store.CreateAssignment(ctx, &types.Assignment{
		ProjectID:  testProject,
		FragmentID: "frag-1",
		Codigo:     code.Codigo,
		CodeID:     &code.CodeID,
	})
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	return code, aid
}

func TestSyncProjectMirrorsLedger(t *testing.T) {
	sync, store, g := newTestSync(t)
	ctx := context.Background()
	code, _ := seedLedger(t, store)

	res, err := sync.SyncProject(ctx, testProject, "s-1")
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if res.Synced != 4 || res.Failed != 0 {
		t.Errorf("result = %+v, want synced=4", res)
	}

	if _, ok := g.Fragments[graph.FragmentKey(testProject, "frag-1")]; !ok {
		t.Errorf("fragment frag-1 not projected")
	}
	if _, ok := g.Codes[graph.CodeKey(testProject, code.CodeID)]; !ok {
		t.Errorf("code %d not projected", code.CodeID)
	}
	if len(g.HasCode) != 1 {
		t.Errorf("assignments projected = %d, want 1", len(g.HasCode))
	}

	// Flags flipped: nothing remains.
	for entity, n := range res.Remaining {
		if n != 0 {
			t.Errorf("remaining[%s] = %d", entity, n)
		}
	}

	// A second run has nothing to do.
	res, err = sync.SyncProject(ctx, testProject, "s-1")
	if err != nil {
		t.Fatalf("second SyncProject: %v", err)
	}
	if res.Scanned != 0 {
		t.Errorf("second run scanned %d rows", res.Scanned)
	}
}

func TestSyncSkipsAssignmentsWithoutCodeID(t *testing.T) {
	sync, store, g := newTestSync(t)
	ctx := context.Background()
	if _, err := store.UpsertFragments(ctx, []*types.Fragment{{ID: "frag-1", ProjectID: testProject, Text: "x"}}); err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}
	if _, err := store.CreateAssignment(ctx, &types.Assignment{
		ProjectID:  testProject,
		FragmentID: "frag-1",
		Codigo:     "sin identidad",
	}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	res, err := sync.SyncProject(ctx, testProject, "s-1")
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if len(g.HasCode) != 0 {
		t.Errorf("identity-less assignment reached the graph")
	}
	if res.Failed != 0 {
		t.Errorf("failed = %d; rows without code_id wait for backfill, they do not fail", res.Failed)
	}
}

func TestTransientOutageLeavesRowsPending(t *testing.T) {
	sync, store, g := newTestSync(t)
	ctx := context.Background()
	seedLedger(t, store)

	g.SetOffline(true)
	if _, err := sync.SyncProject(ctx, testProject, "s-1"); !apperr.IsKind(err, apperr.KindDependency) {
		t.Fatalf("got %v, want dependency", err)
	}

	// Nothing marked synced, nothing marked failed: the run aborts and the
	// rows wait for the next pass.
	remaining, err := store.CountUnsynced(ctx, testProject)
	if err != nil {
		t.Fatalf("CountUnsynced: %v", err)
	}
	if remaining[types.SyncFragments] != 2 {
		t.Errorf("remaining fragments = %d, want 2", remaining[types.SyncFragments])
	}

	g.SetOffline(false)
	res, err := sync.SyncProject(ctx, testProject, "s-1")
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if res.Synced != 4 {
		t.Errorf("recovery synced = %d, want 4", res.Synced)
	}
}

func TestPermanentFailureRecordsError(t *testing.T) {
	sync, store, g := newTestSync(t)
	ctx := context.Background()
	if _, err := store.UpsertFragments(ctx, []*types.Fragment{{ID: "frag-1", ProjectID: testProject, Text: "x"}}); err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}
	g.FailWith = apperr.Invalid("malformed node")

	res, err := sync.SyncProject(ctx, testProject, "s-1")
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}

	// The row is halted with its error recorded; it no longer counts as
	// pending work.
	remaining, err := store.CountUnsynced(ctx, testProject)
	if err != nil {
		t.Fatalf("CountUnsynced: %v", err)
	}
	if remaining[types.SyncFragments] != 0 {
		t.Errorf("remaining fragments = %d, want 0 after recording the error", remaining[types.SyncFragments])
	}
}

func TestSyncBusyWhenLockHeld(t *testing.T) {
	sync, store, _ := newTestSync(t)
	release := store.HoldLock(testProject, types.LockSync, "other")
	defer release()

	if _, err := sync.SyncProject(context.Background(), testProject, "s-1"); !apperr.IsBusy(err) {
		t.Fatalf("got %v, want busy", err)
	}
}

func TestSyncAllSkipsBusyProjects(t *testing.T) {
	sync, store, _ := newTestSync(t)
	ctx := context.Background()
	if err := store.CreateProject(ctx, &types.Project{ID: "proj-2"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	release := store.HoldLock(testProject, types.LockSync, "other")
	defer release()

	results, err := sync.SyncAll(ctx, "s-1")
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(results) != 1 || results[0].ProjectID != "proj-2" {
		t.Errorf("results = %+v, want only proj-2", results)
	}
}

func TestRunBudgetBoundsOneRun(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.CreateProject(ctx, &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	var frags []*types.Fragment
	for i := 0; i < 5; i++ {
		frags = append(frags, &types.Fragment{
			ID:        string(rune('a' + i)),
			ProjectID: testProject,
			Text:      "texto",
		})
	}
	if _, err := store.UpsertFragments(ctx, frags); err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}

	g := graph.NewMemoryStore()
	sync := New(store, g, Config{RunBudget: 3, BackoffBase: time.Millisecond}, nil)

	res, err := sync.SyncProject(ctx, testProject, "s-1")
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if res.Synced != 3 {
		t.Errorf("synced = %d, want budget 3", res.Synced)
	}
	if res.Remaining[types.SyncFragments] != 2 {
		t.Errorf("remaining = %d, want 2", res.Remaining[types.SyncFragments])
	}
}
