package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

func TestCreateAxialRelation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	code := seedCode(t, store, "escasez de agua")
	seedFragment(t, store, "frag-1", "no hay agua potable")

	rel, err := engine.CreateAxialRelation(ctx, AxialRequest{
		ProjectID: testProject,
		Categoria: "crisis hidrica",
		Codigo:    "escasez de agua",
		Relation:  types.RelationCause,
		Evidence:  []string{"frag-1"},
		Actor:     "ana",
	})
	if err != nil {
		t.Fatalf("CreateAxialRelation: %v", err)
	}
	if rel.State != types.AxialPending {
		t.Errorf("state = %s, want pending", rel.State)
	}
	if rel.CodeID != code.CodeID {
		t.Errorf("code_id = %d, want %d", rel.CodeID, code.CodeID)
	}
}

func TestCreateAxialResolvesMergedLabel(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	survivor := seedCode(t, store, "escasez de agua")
	merged := seedCode(t, store, "falta de agua")
	if err := store.UpdateCodePointer(ctx, testProject, merged.CodeID, types.CodeMerged, &survivor.CodeID); err != nil {
		t.Fatalf("UpdateCodePointer: %v", err)
	}

	rel, err := engine.CreateAxialRelation(ctx, AxialRequest{
		ProjectID: testProject,
		Categoria: "crisis hidrica",
		Codigo:    "falta de agua",
		Relation:  types.RelationCondition,
		Actor:     "ana",
	})
	if err != nil {
		t.Fatalf("CreateAxialRelation: %v", err)
	}
	if rel.CodeID != survivor.CodeID || rel.Codigo != "escasez de agua" {
		t.Errorf("relation carries %q (%d), want canonical survivor", rel.Codigo, rel.CodeID)
	}
}

func TestCreateAxialRefusedWhileNotReady(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedCode(t, store, "escasez de agua")
	seedFragment(t, store, "frag-1", "texto")

	// One assignment without a stable id makes the ontology inconsistent.
	if _, err := store.CreateAssignment(ctx, &types.Assignment{
		ProjectID:  testProject,
		FragmentID: "frag-1",
		Codigo:     "escasez de agua",
	}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	_, err := engine.CreateAxialRelation(ctx, AxialRequest{
		ProjectID: testProject,
		Categoria: "crisis hidrica",
		Codigo:    "escasez de agua",
		Relation:  types.RelationCause,
	})
	if !apperr.IsNotReady(err) {
		t.Fatalf("got %v, want not_ready", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("refusal is not an *apperr.Error: %v", err)
	}
	if _, ok := ae.Details["blocking_reasons"]; !ok {
		t.Errorf("refusal lacks blocking_reasons: %+v", ae.Details)
	}
}

func TestTransitionAxialRelation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedCode(t, store, "escasez de agua")

	rel, err := engine.CreateAxialRelation(ctx, AxialRequest{
		ProjectID: testProject,
		Categoria: "crisis hidrica",
		Codigo:    "escasez de agua",
		Relation:  types.RelationConsequence,
		Actor:     "ana",
	})
	if err != nil {
		t.Fatalf("CreateAxialRelation: %v", err)
	}

	got, err := engine.TransitionAxialRelation(ctx, testProject, rel.ID, types.AxialValidated, "ana")
	if err != nil {
		t.Fatalf("TransitionAxialRelation: %v", err)
	}
	if got.State != types.AxialValidated {
		t.Errorf("state = %s, want validated", got.State)
	}

	if _, err := engine.TransitionAxialRelation(ctx, testProject, rel.ID, types.AxialPending, "ana"); !apperr.IsInvalid(err) {
		t.Errorf("transition to pending: got %v, want invalid_request", err)
	}
}
