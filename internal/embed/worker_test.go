package embed

import (
	"context"
	"testing"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/storage/memory"
	"github.com/tesela-labs/tesela/internal/types"
	"github.com/tesela-labs/tesela/internal/vector"
)

const testProject = "proj-1"

func newTestWorker(t *testing.T) (*Worker, *memory.Store, *vector.MemoryStore, *FakeProvider) {
	t.Helper()
	store := memory.New()
	if err := store.CreateProject(context.Background(), &types.Project{ID: testProject}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	vectors := vector.NewMemoryStore()
	provider := &FakeProvider{}
	worker := NewWorker(store, vectors, provider, WorkerConfig{}, nil)
	return worker, store, vectors, provider
}

func seedCandidate(t *testing.T, store *memory.Store, codigo string, fragmentID *string) string {
	t.Helper()
	ctx := context.Background()
	if fragmentID != nil {
		if _, err := store.UpsertFragments(ctx, []*types.Fragment{
			{ID: *fragmentID, ProjectID: testProject, Text: "texto de " + codigo},
		}); err != nil {
			t.Fatalf("UpsertFragments: %v", err)
		}
	}
	id, _, err := store.UpsertCandidate(ctx, &types.Candidate{
		ProjectID:  testProject,
		Codigo:     codigo,
		FragmentID: fragmentID,
		Source:     types.SourceLLM,
		Confidence: 0.6,
		State:      types.CandidatePending,
	})
	if err != nil {
		t.Fatalf("UpsertCandidate(%q): %v", codigo, err)
	}
	return id
}

func TestSweepEmbedsFragmentText(t *testing.T) {
	worker, store, vectors, provider := newTestWorker(t)
	ctx := context.Background()
	frag := "frag-1"
	seedCandidate(t, store, "escasez de agua", &frag)

	n, err := worker.SweepProject(ctx, testProject)
	if err != nil {
		t.Fatalf("SweepProject: %v", err)
	}
	if n != 1 {
		t.Errorf("embedded = %d, want 1", n)
	}
	e, ok := vectors.Get(testProject, frag)
	if !ok {
		t.Fatalf("fragment embedding not stored")
	}
	if e.Model != provider.Model() || len(e.Vector) == 0 {
		t.Errorf("embedding = %+v", e)
	}

	// The candidate leaves the queue; a second sweep is idle.
	n, err = worker.SweepProject(ctx, testProject)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 || provider.Calls != 1 {
		t.Errorf("second sweep embedded %d (provider calls %d)", n, provider.Calls)
	}
}

func TestSweepMarksFragmentlessCandidatesDone(t *testing.T) {
	worker, store, vectors, provider := newTestWorker(t)
	seedCandidate(t, store, "codigo abstracto", nil)

	n, err := worker.SweepProject(context.Background(), testProject)
	if err != nil {
		t.Fatalf("SweepProject: %v", err)
	}
	// No text to embed, but the candidate is marked done so it does not
	// spin in the queue forever.
	if n != 1 {
		t.Errorf("marked = %d, want 1", n)
	}
	if vectors.Len() != 0 {
		t.Errorf("fragmentless candidate produced %d embeddings", vectors.Len())
	}
	if provider.Calls != 0 {
		t.Errorf("provider called %d times for empty batch", provider.Calls)
	}
}

func TestSweepProviderOutageLeavesQueueIntact(t *testing.T) {
	worker, store, vectors, provider := newTestWorker(t)
	ctx := context.Background()
	frag := "frag-1"
	seedCandidate(t, store, "escasez de agua", &frag)

	provider.FailWith = apperr.Dependency(nil, "embedder")
	if _, err := worker.SweepProject(ctx, testProject); err == nil {
		t.Fatalf("outage swallowed")
	}
	if vectors.Len() != 0 {
		t.Errorf("failed sweep stored embeddings")
	}

	// Recovery: the candidate is still queued.
	provider.FailWith = nil
	n, err := worker.SweepProject(ctx, testProject)
	if err != nil {
		t.Fatalf("recovery sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("recovery embedded %d, want 1", n)
	}
}

func TestSweepVectorOutageLeavesQueueIntact(t *testing.T) {
	worker, store, vectors, _ := newTestWorker(t)
	ctx := context.Background()
	frag := "frag-1"
	id := seedCandidate(t, store, "escasez de agua", &frag)

	vectors.SetOffline(true)
	if _, err := worker.SweepProject(ctx, testProject); !apperr.IsKind(err, apperr.KindDependency) {
		t.Fatalf("got %v, want dependency", err)
	}

	// Nothing marked embedded on failure.
	queued, err := store.ListUnembeddedCandidates(ctx, testProject, 10)
	if err != nil {
		t.Fatalf("ListUnembeddedCandidates: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != id {
		t.Errorf("queue = %+v, want the original candidate", queued)
	}
}

func TestSweepCoversAllProjects(t *testing.T) {
	worker, store, vectors, _ := newTestWorker(t)
	ctx := context.Background()
	if err := store.CreateProject(ctx, &types.Project{ID: "proj-2"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	frag1 := "frag-1"
	seedCandidate(t, store, "escasez de agua", &frag1)
	if _, err := store.UpsertFragments(ctx, []*types.Fragment{
		{ID: "frag-2", ProjectID: "proj-2", Text: "otro texto"},
	}); err != nil {
		t.Fatalf("UpsertFragments: %v", err)
	}
	frag2 := "frag-2"
	if _, _, err := store.UpsertCandidate(ctx, &types.Candidate{
		ProjectID:  "proj-2",
		Codigo:     "otro codigo",
		FragmentID: &frag2,
		Source:     types.SourceLLM,
		Confidence: 0.6,
		State:      types.CandidatePending,
	}); err != nil {
		t.Fatalf("UpsertCandidate: %v", err)
	}

	if err := worker.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if vectors.Len() != 2 {
		t.Errorf("embeddings = %d, want 2", vectors.Len())
	}
}
