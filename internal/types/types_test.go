package types

import (
	"strings"
	"testing"
)

func TestCodeStatusIsValid(t *testing.T) {
	tests := []struct {
		status CodeStatus
		want   bool
	}{
		{CodeActive, true},
		{CodeMerged, true},
		{CodeDeprecated, true},
		{CodeStatus("deleted"), false},
		{CodeStatus(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.IsValid(); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCandidateValidate(t *testing.T) {
	frag := "f1"
	tests := []struct {
		name    string
		cand    Candidate
		wantErr string
	}{
		{
			name: "valid",
			cand: Candidate{ProjectID: "p1", Codigo: "escasez de agua", FragmentID: &frag, Source: SourceManual, Confidence: 0.9},
		},
		{
			name:    "empty codigo",
			cand:    Candidate{ProjectID: "p1", Codigo: "  ", Source: SourceManual},
			wantErr: "codigo",
		},
		{
			name:    "missing project",
			cand:    Candidate{Codigo: "x", Source: SourceManual},
			wantErr: "project_id",
		},
		{
			name:    "bad source",
			cand:    Candidate{ProjectID: "p1", Codigo: "x", Source: CandidateSource("oracle")},
			wantErr: "invalid source",
		},
		{
			name:    "confidence out of range",
			cand:    Candidate{ProjectID: "p1", Codigo: "x", Source: SourceLLM, Confidence: 1.5},
			wantErr: "confidence",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cand.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAxialRelationValidate(t *testing.T) {
	base := AxialRelation{
		ProjectID: "p1",
		Categoria: "gestion del agua",
		Codigo:    "escasez de agua",
		CodeID:    7,
		Relation:  RelationCause,
		Evidence:  []string{"f1", "f2"},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("valid relation rejected: %v", err)
	}

	thin := base
	thin.Evidence = []string{"f1"}
	if err := thin.Validate(); err == nil {
		t.Fatal("expected error for evidence below minimum")
	}

	badRel := base
	badRel.Relation = RelationType("correlates")
	if err := badRel.Validate(); err == nil {
		t.Fatal("expected error for unknown relation type")
	}
}

func TestAssignmentCitaBound(t *testing.T) {
	a := Assignment{ProjectID: "p1", FragmentID: "f1", Codigo: "x"}

	a.Cita = strings.Repeat("palabra ", MaxCitaWords)
	if err := a.Validate(); err != nil {
		t.Fatalf("cita at limit rejected: %v", err)
	}

	a.Cita = strings.Repeat("palabra ", MaxCitaWords+1)
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for cita over the word limit")
	}
}

func TestCatalogCodeSelfCanonical(t *testing.T) {
	id := int64(42)
	c := CatalogCode{CodeID: 42, CanonicalCodeID: &id}
	if !c.IsSelfCanonical() {
		t.Error("expected self-canonical")
	}

	other := int64(7)
	c.CanonicalCodeID = &other
	if c.IsSelfCanonical() {
		t.Error("expected not self-canonical")
	}

	c.CanonicalCodeID = nil
	if c.IsSelfCanonical() {
		t.Error("nil canonical must not be self-canonical")
	}
}

func TestCatalogCodeValidateMergedNeedsCanonical(t *testing.T) {
	c := CatalogCode{CodeID: 3, ProjectID: "p1", Codigo: "falta agua", Status: CodeMerged}
	if err := c.Validate(); err == nil {
		t.Fatal("merged row without canonical_code_id must be invalid")
	}
	target := int64(9)
	c.CanonicalCodeID = &target
	if err := c.Validate(); err != nil {
		t.Fatalf("merged row with canonical rejected: %v", err)
	}
}

func TestReadinessCounters(t *testing.T) {
	tests := []struct {
		name        string
		counters    ReadinessCounters
		wantReady   bool
		wantReasons []string
	}{
		{
			name:      "all zero",
			counters:  ReadinessCounters{},
			wantReady: true,
		},
		{
			name:        "missing code_id",
			counters:    ReadinessCounters{MissingCodeID: 3},
			wantReady:   false,
			wantReasons: []string{ReasonMissingCodeID},
		},
		{
			name:        "cycle pair",
			counters:    ReadinessCounters{CyclesNonTrivial: 2},
			wantReady:   false,
			wantReasons: []string{ReasonCyclesNonTrivial},
		},
		{
			name: "everything wrong",
			counters: ReadinessCounters{
				MissingCodeID:          1,
				MissingCanonicalCodeID: 1,
				DivergencesTextVsID:    1,
				CyclesNonTrivial:       2,
			},
			wantReady: false,
			wantReasons: []string{
				ReasonMissingCodeID,
				ReasonMissingCanonicalCodeID,
				ReasonDivergencesTextVsID,
				ReasonCyclesNonTrivial,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.counters.Ready(); got != tt.wantReady {
				t.Errorf("Ready() = %v, want %v", got, tt.wantReady)
			}
			got := tt.counters.BlockingReasons()
			if len(got) != len(tt.wantReasons) {
				t.Fatalf("BlockingReasons() = %v, want %v", got, tt.wantReasons)
			}
			for i := range got {
				if got[i] != tt.wantReasons[i] {
					t.Errorf("BlockingReasons()[%d] = %q, want %q", i, got[i], tt.wantReasons[i])
				}
			}
		})
	}
}

func TestLinkPredictionValidate(t *testing.T) {
	p := LinkPrediction{ProjectID: "p1", SourceCodeID: 1, TargetCodeID: 2, Relation: "similar_to", Score: 0.8}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid prediction rejected: %v", err)
	}

	p.TargetCodeID = 1
	if err := p.Validate(); err == nil {
		t.Fatal("self-relation must be invalid")
	}
}

func TestLockClassString(t *testing.T) {
	if LockCatalog.String() != "catalog" || LockAxial.String() != "axial" {
		t.Errorf("unexpected lock class names: %s %s", LockCatalog, LockAxial)
	}
	if got := LockClass(99).String(); got != "class(99)" {
		t.Errorf("unknown class = %q", got)
	}
}

func TestSyncOrder(t *testing.T) {
	want := []SyncEntity{SyncFragments, SyncCodes, SyncAxial, SyncPredictions}
	if len(SyncOrder) != len(want) {
		t.Fatalf("SyncOrder length = %d", len(SyncOrder))
	}
	for i := range want {
		if SyncOrder[i] != want[i] {
			t.Errorf("SyncOrder[%d] = %s, want %s", i, SyncOrder[i], want[i])
		}
	}
}

func TestCountWords(t *testing.T) {
	if got := CountWords("  el agua   no llega  "); got != 4 {
		t.Errorf("CountWords = %d, want 4", got)
	}
	if got := CountWords(""); got != 0 {
		t.Errorf("CountWords(empty) = %d, want 0", got)
	}
}

func TestFreezeStateZeroValue(t *testing.T) {
	var f FreezeState
	if f.IsFrozen {
		t.Error("zero-value freeze state must be unfrozen")
	}
	if f.FrozenAt != nil || f.BrokenAt != nil {
		t.Error("zero-value timestamps must be nil")
	}
}
