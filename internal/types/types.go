// Package types defines core data structures for the tesela ontology core.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CodeStatus represents the lifecycle state of a catalog code.
type CodeStatus string

// Catalog status constants
const (
	CodeActive     CodeStatus = "active"
	CodeMerged     CodeStatus = "merged"
	CodeDeprecated CodeStatus = "deprecated"
)

// IsValid checks if the status value is valid
func (s CodeStatus) IsValid() bool {
	switch s {
	case CodeActive, CodeMerged, CodeDeprecated:
		return true
	}
	return false
}

// CandidateState represents the validation state of a proposed code.
type CandidateState string

// Candidate state constants
const (
	CandidatePending   CandidateState = "pending"
	CandidateValidated CandidateState = "validated"
	CandidateRejected  CandidateState = "rejected"
	CandidateMerged    CandidateState = "merged"
)

// IsValid checks if the state value is valid
func (s CandidateState) IsValid() bool {
	switch s {
	case CandidatePending, CandidateValidated, CandidateRejected, CandidateMerged:
		return true
	}
	return false
}

// CandidateSource identifies the producer that proposed a candidate.
type CandidateSource string

// Candidate source constants
const (
	SourceManual    CandidateSource = "manual"
	SourceLLM       CandidateSource = "llm"
	SourceDiscovery CandidateSource = "discovery"
	SourceSemantic  CandidateSource = "semantic"
	SourceLegacy    CandidateSource = "legacy"
)

// IsValid checks if the source value is valid
func (s CandidateSource) IsValid() bool {
	switch s {
	case SourceManual, SourceLLM, SourceDiscovery, SourceSemantic, SourceLegacy:
		return true
	}
	return false
}

// AxialState represents the validation state of an axial relation.
type AxialState string

// Axial relation state constants
const (
	AxialPending   AxialState = "pending"
	AxialValidated AxialState = "validated"
	AxialRejected  AxialState = "rejected"
)

// IsValid checks if the state value is valid
func (s AxialState) IsValid() bool {
	switch s {
	case AxialPending, AxialValidated, AxialRejected:
		return true
	}
	return false
}

// RelationType classifies a categoria→codigo axial relation.
type RelationType string

// Axial relation type constants
const (
	RelationCause       RelationType = "cause"
	RelationCondition   RelationType = "condition"
	RelationConsequence RelationType = "consequence"
	RelationPartOf      RelationType = "part_of"
)

// IsValid checks if the relation type is valid
func (r RelationType) IsValid() bool {
	switch r {
	case RelationCause, RelationCondition, RelationConsequence, RelationPartOf:
		return true
	}
	return false
}

// PredictionState represents the validation state of a link prediction.
type PredictionState string

// Link prediction state constants
const (
	PredictionPending   PredictionState = "pending"
	PredictionValidated PredictionState = "validated"
	PredictionRejected  PredictionState = "rejected"
)

// IsValid checks if the state value is valid
func (s PredictionState) IsValid() bool {
	switch s {
	case PredictionPending, PredictionValidated, PredictionRejected:
		return true
	}
	return false
}

// PredictionSyncStatus tracks projection of a link prediction to the graph store.
type PredictionSyncStatus string

// Prediction sync status constants
const (
	PredictionSyncPending PredictionSyncStatus = "pending"
	PredictionSyncDone    PredictionSyncStatus = "synced"
	PredictionSyncFailed  PredictionSyncStatus = "failed"
)

// VersionAction classifies an audit event on the catalog.
type VersionAction string

// Version event action constants
const (
	ActionCreate    VersionAction = "create"
	ActionRename    VersionAction = "rename"
	ActionMerge     VersionAction = "merge"
	ActionUnmerge   VersionAction = "unmerge"
	ActionPromote   VersionAction = "promote"
	ActionDeprecate VersionAction = "deprecate"
	ActionValidate  VersionAction = "validate"
	ActionReject    VersionAction = "reject"
	ActionRepair    VersionAction = "repair"
	ActionBackfill  VersionAction = "backfill"
)

// IsValid checks if the action value is valid
func (a VersionAction) IsValid() bool {
	switch a {
	case ActionCreate, ActionRename, ActionMerge, ActionUnmerge, ActionPromote, ActionDeprecate,
		ActionValidate, ActionReject, ActionRepair, ActionBackfill:
		return true
	}
	return false
}

// Outcome classifies the result of a logged admin operation.
type Outcome string

// Operation outcome constants
const (
	OutcomeOK      Outcome = "OK"
	OutcomeNoop    Outcome = "NOOP"
	OutcomeError   Outcome = "ERROR"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// SyncEntity names a projection entity class with its own cursor.
type SyncEntity string

// Projection entity constants, in required sync order.
const (
	SyncFragments   SyncEntity = "fragments"
	SyncCodes       SyncEntity = "codes"
	SyncAssignments SyncEntity = "assignments"
	SyncAxial       SyncEntity = "axial"
	SyncPredictions SyncEntity = "predictions"
)

// IsValid checks if the entity value is valid
func (e SyncEntity) IsValid() bool {
	switch e {
	case SyncFragments, SyncCodes, SyncAssignments, SyncAxial, SyncPredictions:
		return true
	}
	return false
}

// SyncOrder lists projection entities in dependency order: fragments before
// codes, codes before the assignments that join them, link predictions last.
var SyncOrder = []SyncEntity{SyncFragments, SyncCodes, SyncAssignments, SyncAxial, SyncPredictions}

// LockClass identifies an advisory lock scope within a project.
// Locks must be acquired in ascending class order (catalog before axial)
// to prevent deadlocks.
type LockClass int32

// Advisory lock class constants
const (
	LockCatalog LockClass = 1
	LockAxial   LockClass = 2
	LockFreeze  LockClass = 3
	LockSync    LockClass = 4
)

// String returns the class name used in logs and busy errors.
func (c LockClass) String() string {
	switch c {
	case LockCatalog:
		return "catalog"
	case LockAxial:
		return "axial"
	case LockFreeze:
		return "freeze"
	case LockSync:
		return "sync"
	}
	return fmt.Sprintf("class(%d)", int32(c))
}

// Blocking reason names surfaced by the readiness gate. Names are stable
// and appear verbatim in API responses.
const (
	ReasonMissingCodeID          = "missing_code_id"
	ReasonMissingCanonicalCodeID = "missing_canonical_code_id"
	ReasonDivergencesTextVsID    = "divergences_text_vs_id"
	ReasonCyclesNonTrivial       = "cycles_non_trivial"
)

// MaxCitaWords bounds the verbatim extract carried by an assignment.
const MaxCitaWords = 60

// MinAxialEvidence is the minimum evidence cardinality for an axial relation.
const MinAxialEvidence = 2

// Project is the tenancy root for all ontology entities.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CatalogCode is a definitive code. Rows are never deleted; they move to
// merged or deprecated and keep their code_id for life.
type CatalogCode struct {
	CodeID          int64      `json:"code_id"`
	ProjectID       string     `json:"project_id"`
	Codigo          string     `json:"codigo"`
	Status          CodeStatus `json:"status"`
	CanonicalCodeID *int64     `json:"canonical_code_id,omitempty"`
	Memo            string     `json:"memo,omitempty"`
	Neo4jSynced     bool       `json:"neo4j_synced"`
	SyncError       string     `json:"neo4j_sync_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsSelfCanonical reports whether the row points at itself. Self-canonical
// active rows are an expected state, not a violation.
func (c *CatalogCode) IsSelfCanonical() bool {
	return c.CanonicalCodeID != nil && *c.CanonicalCodeID == c.CodeID
}

// Validate checks field-level invariants before persistence.
func (c *CatalogCode) Validate() error {
	if strings.TrimSpace(c.Codigo) == "" {
		return fmt.Errorf("codigo cannot be empty")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", c.Status)
	}
	if c.Status == CodeMerged && c.CanonicalCodeID == nil {
		return fmt.Errorf("merged code %d requires canonical_code_id", c.CodeID)
	}
	return nil
}

// Candidate is a proposed code pending human validation.
type Candidate struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Codigo     string          `json:"codigo"`
	FragmentID *string         `json:"fragment_id,omitempty"`
	Source     CandidateSource `json:"source"`
	Confidence float64         `json:"confidence"`
	State      CandidateState  `json:"state"`
	MergedInto string          `json:"merged_into,omitempty"`
	Memo       string          `json:"memo,omitempty"`
	Validator  string          `json:"validator,omitempty"`
	CodeID     *int64          `json:"code_id,omitempty"` // backfilled when the label exists in the catalog
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Validate checks field-level invariants before persistence.
func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.Codigo) == "" {
		return fmt.Errorf("codigo cannot be empty")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if !c.Source.IsValid() {
		return fmt.Errorf("invalid source: %s", c.Source)
	}
	if c.State != "" && !c.State.IsValid() {
		return fmt.Errorf("invalid state: %s", c.State)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", c.Confidence)
	}
	return nil
}

// Assignment is a definitive code↔fragment link. code_id is denormalised so
// the link survives label renames.
type Assignment struct {
	ID          int64     `json:"id"`
	ProjectID   string    `json:"project_id"`
	FragmentID  string    `json:"fragment_id"`
	Codigo      string    `json:"codigo"`
	CodeID      *int64    `json:"code_id,omitempty"`
	Cita        string    `json:"cita,omitempty"`
	SourceFile  string    `json:"source_file,omitempty"`
	Neo4jSynced bool      `json:"neo4j_synced"`
	SyncError   string    `json:"neo4j_sync_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks field-level invariants before persistence.
func (a *Assignment) Validate() error {
	if a.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if a.FragmentID == "" {
		return fmt.Errorf("fragment_id cannot be empty")
	}
	if strings.TrimSpace(a.Codigo) == "" {
		return fmt.Errorf("codigo cannot be empty")
	}
	if n := CountWords(a.Cita); n > MaxCitaWords {
		return fmt.Errorf("cita exceeds %d words (%d)", MaxCitaWords, n)
	}
	return nil
}

// AxialRelation links a categoria to a codigo with fragment evidence.
type AxialRelation struct {
	ID          int64        `json:"id"`
	ProjectID   string       `json:"project_id"`
	Categoria   string       `json:"categoria"`
	Codigo      string       `json:"codigo"`
	CodeID      int64        `json:"code_id"`
	Relation    RelationType `json:"relation"`
	Memo        string       `json:"memo,omitempty"`
	Evidence    []string     `json:"evidence"`
	State       AxialState   `json:"state"`
	Neo4jSynced bool         `json:"neo4j_synced"`
	SyncError   string       `json:"neo4j_sync_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks field-level invariants before persistence.
func (r *AxialRelation) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if strings.TrimSpace(r.Categoria) == "" {
		return fmt.Errorf("categoria cannot be empty")
	}
	if strings.TrimSpace(r.Codigo) == "" {
		return fmt.Errorf("codigo cannot be empty")
	}
	if !r.Relation.IsValid() {
		return fmt.Errorf("invalid relation: %s", r.Relation)
	}
	if len(r.Evidence) < MinAxialEvidence {
		return fmt.Errorf("evidence requires at least %d fragments, got %d", MinAxialEvidence, len(r.Evidence))
	}
	if r.State != "" && !r.State.IsValid() {
		return fmt.Errorf("invalid state: %s", r.State)
	}
	return nil
}

// Fragment is a chunk of transcribed interview text. Ingestion happens
// upstream; the ledger holds fragments as evidence and projection sources.
type Fragment struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	InterviewID string    `json:"interview_id,omitempty"`
	Text        string    `json:"text"`
	ParIdx      int       `json:"par_idx"`
	CharLen     int       `json:"char_len"`
	Speaker     string    `json:"speaker,omitempty"`
	Neo4jSynced bool      `json:"neo4j_synced"`
	SyncError   string    `json:"neo4j_sync_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Interview groups fragments from a single transcription.
type Interview struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Title      string    `json:"title,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LinkPrediction is a proposed code→code relation from the semantic runner.
// Only validated predictions project to the graph.
type LinkPrediction struct {
	ID           int64                `json:"id"`
	ProjectID    string               `json:"project_id"`
	SourceCodeID int64                `json:"source_code_id"`
	TargetCodeID int64                `json:"target_code_id"`
	Relation     string               `json:"relation"`
	Source       string               `json:"source,omitempty"`
	Score        float64              `json:"score"`
	State        PredictionState      `json:"state"`
	SyncStatus   PredictionSyncStatus `json:"sync_status"`
	SyncError    string               `json:"sync_error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Validate checks field-level invariants before persistence.
func (p *LinkPrediction) Validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if p.SourceCodeID == 0 || p.TargetCodeID == 0 {
		return fmt.Errorf("source and target code_id are required")
	}
	if p.SourceCodeID == p.TargetCodeID {
		return fmt.Errorf("prediction cannot relate a code to itself")
	}
	if strings.TrimSpace(p.Relation) == "" {
		return fmt.Errorf("relation cannot be empty")
	}
	if p.Score < 0 || p.Score > 1 {
		return fmt.Errorf("score must be in [0,1], got %v", p.Score)
	}
	return nil
}

// FreezeState is the per-project operational lock over ontology-mutating
// maintenance. Orthogonal to readiness.
type FreezeState struct {
	ProjectID string     `json:"project_id"`
	IsFrozen  bool       `json:"is_frozen"`
	FrozenAt  *time.Time `json:"frozen_at,omitempty"`
	FrozenBy  string     `json:"frozen_by,omitempty"`
	BrokenAt  *time.Time `json:"broken_at,omitempty"`
	BrokenBy  string     `json:"broken_by,omitempty"`
	Note      string     `json:"note,omitempty"`
}

// VersionEvent is one row of the append-only catalog audit log.
type VersionEvent struct {
	ID        int64           `json:"id"`
	ProjectID string          `json:"project_id"`
	Codigo    string          `json:"codigo"`
	CodeID    *int64          `json:"code_id,omitempty"`
	Action    VersionAction   `json:"action"`
	Actor     string          `json:"actor"`
	Previous  json.RawMessage `json:"previous,omitempty"`
	Next      json.RawMessage `json:"next,omitempty"`
	At        time.Time       `json:"at"`
}

// OpsLogEntry is the persisted record of one admin operation run, mirrored
// by the request.start/request.end structured log events.
type OpsLogEntry struct {
	ID          int64     `json:"id"`
	ProjectID   string    `json:"project_id"`
	SessionID   string    `json:"session_id,omitempty"`
	RequestID   string    `json:"request_id"`
	Operation   string    `json:"operation"`
	DryRun      bool      `json:"dry_run"`
	Confirm     bool      `json:"confirm"`
	WriteIntent bool      `json:"write_intent"`
	BatchSize   int       `json:"batch_size,omitempty"`
	UpdatedRows int       `json:"updated_rows"`
	DurationMS  int64     `json:"duration_ms"`
	StatusCode  int       `json:"status_code"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// OpsLogFilter selects ops log rows for the history endpoints.
type OpsLogFilter struct {
	Kind   string     `json:"kind,omitempty"`   // all | errors | mutations
	Op     string     `json:"op,omitempty"`     // exact operation name
	Intent string     `json:"intent,omitempty"` // all | write_intent_post
	Since  *time.Time `json:"since,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// CandidateFilter selects candidate rows.
type CandidateFilter struct {
	States     []CandidateState `json:"states,omitempty"`
	Codigo     string           `json:"codigo,omitempty"` // case-insensitive exact label
	FragmentID string           `json:"fragment_id,omitempty"`
	Source     CandidateSource  `json:"source,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// SyncCursor records resumable progress per (project, entity).
type SyncCursor struct {
	ProjectID string     `json:"project_id"`
	Entity    SyncEntity `json:"entity"`
	Position  string     `json:"position"` // opaque; last processed row key
	UpdatedAt time.Time  `json:"updated_at"`
}

// ReadinessCounters holds the four structural-consistency counters behind
// the axial_ready gate.
type ReadinessCounters struct {
	MissingCodeID          int `json:"missing_code_id"`
	MissingCanonicalCodeID int `json:"missing_canonical_code_id"`
	DivergencesTextVsID    int `json:"divergences_text_vs_id"`
	CyclesNonTrivial       int `json:"cycles_non_trivial"`
}

// Ready reports whether all four counters are zero.
func (c ReadinessCounters) Ready() bool {
	return c.MissingCodeID == 0 &&
		c.MissingCanonicalCodeID == 0 &&
		c.DivergencesTextVsID == 0 &&
		c.CyclesNonTrivial == 0
}

// BlockingReasons lists the non-zero counters in stable order.
func (c ReadinessCounters) BlockingReasons() []string {
	var reasons []string
	if c.MissingCodeID > 0 {
		reasons = append(reasons, ReasonMissingCodeID)
	}
	if c.MissingCanonicalCodeID > 0 {
		reasons = append(reasons, ReasonMissingCanonicalCodeID)
	}
	if c.DivergencesTextVsID > 0 {
		reasons = append(reasons, ReasonDivergencesTextVsID)
	}
	if c.CyclesNonTrivial > 0 {
		reasons = append(reasons, ReasonCyclesNonTrivial)
	}
	return reasons
}

// ReadinessReport is the full gate result served by GET /readiness.
type ReadinessReport struct {
	ProjectID       string            `json:"project_id"`
	Counters        ReadinessCounters `json:"counters"`
	AxialReady      bool              `json:"axial_ready"`
	BlockingReasons []string          `json:"blocking_reasons,omitempty"`
	Degraded        bool              `json:"degraded,omitempty"` // served from cache during a ledger outage
	ComputedAt      time.Time         `json:"computed_at"`
}

// ProjectStats summarises per-project ledger state for operators.
type ProjectStats struct {
	ProjectID            string                 `json:"project_id"`
	CatalogByStatus      map[CodeStatus]int     `json:"catalog_by_status"`
	CandidatesByState    map[CandidateState]int `json:"candidates_by_state"`
	UnsyncedFragments    int                    `json:"unsynced_fragments"`
	UnsyncedCodes        int                    `json:"unsynced_codes"`
	UnsyncedAxial        int                    `json:"unsynced_axial"`
	UnsyncedPredictions  int                    `json:"unsynced_predictions"`
	PendingCandidates    int                    `json:"pending_candidates"`
	OldestPendingAgeDays float64                `json:"oldest_pending_age_days"`
}

// CodePointer is a minimal view of a catalog row used for canonical-chain
// walks (resolution, cycle detection, repair planning).
type CodePointer struct {
	CodeID          int64      `json:"code_id"`
	CanonicalCodeID *int64     `json:"canonical_code_id,omitempty"`
	Status          CodeStatus `json:"status"`
	Codigo          string     `json:"codigo"`
}

// CountWords counts whitespace-separated words. Used for the cita bound.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
