// Package lifecycle implements the candidate → catalog pipeline: the
// pre-hoc duplicate check, candidate submission, validation, promotion and
// governed merges.
//
// All mutations run inside ledger transactions; merges additionally hold
// the project's catalog advisory lock. Nothing here deletes data: merged
// candidates and codes stay in the ledger with pointers to their survivor.
package lifecycle

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/canonical"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/telemetry"
	"github.com/tesela-labs/tesela/internal/types"
)

// Config tunes the lifecycle engine.
type Config struct {
	// MaxHops bounds canonical chain walks.
	MaxHops int
	// RecentWindow is how many recent catalog rows the pre-hoc similarity
	// scan compares against. Exact and case-fold lookups always cover the
	// whole catalog.
	RecentWindow int
	// SimilarityThreshold is the minimum blended similarity for a
	// suggestion (0..1).
	SimilarityThreshold float64
	// IdempotencyTTL is how long merge responses stay bound to their key.
	IdempotencyTTL time.Duration
	// AllowCatalogMerge lets merge_pairs rewrite catalog rows, not only
	// candidates. Off by default; see the repair runbook before enabling.
	AllowCatalogMerge bool
}

func (c Config) withDefaults() Config {
	if c.MaxHops <= 0 {
		c.MaxHops = canonical.DefaultMaxHops
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 200
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.5
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	return c
}

// Engine is the candidate lifecycle engine.
type Engine struct {
	store    storage.Ledger
	resolver *canonical.Resolver
	cfg      Config
	log      *zap.Logger
}

// NewEngine builds the engine over the ledger.
func NewEngine(store storage.Ledger, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		store:    store,
		resolver: canonical.NewResolver(store, cfg.MaxHops, log),
		cfg:      cfg,
		log:      log,
	}
}

// Suggestion is one near-match from the pre-hoc check.
type Suggestion struct {
	Codigo string  `json:"codigo"`
	CodeID int64   `json:"code_id"`
	Score  float64 `json:"score"`
}

// CheckResult groups the duplicate signals for one submitted label.
type CheckResult struct {
	Label    string       `json:"label"`
	Exact    *Suggestion  `json:"exact,omitempty"`
	CaseFold *Suggestion  `json:"case_fold,omitempty"`
	Similar  []Suggestion `json:"similar,omitempty"`
	NewLabel bool         `json:"new_label"`
}

// CheckBatch computes duplicate suggestions for each label: exact catalog
// match, case-fold match, and token-overlap similarity. The direct matches
// consult the whole catalog; only the similarity scan is bounded to the
// recent window. Never mutates.
func (e *Engine) CheckBatch(ctx context.Context, projectID string, labels []string) ([]CheckResult, error) {
	if len(labels) == 0 {
		return nil, apperr.Invalid("labels cannot be empty")
	}
	recent, err := e.store.ListRecentCodes(ctx, projectID, e.cfg.RecentWindow)
	if err != nil {
		return nil, err
	}

	out := make([]CheckResult, 0, len(labels))
	for _, label := range labels {
		r := CheckResult{Label: label}
		// Labels are unique case-insensitively, so one lookup resolves
		// both direct signals.
		if code, err := e.store.GetCodeByLabel(ctx, projectID, label); err == nil {
			s := &Suggestion{Codigo: code.Codigo, CodeID: code.CodeID, Score: 1}
			if code.Codigo == label {
				r.Exact = s
			} else {
				r.CaseFold = s
			}
		} else if !apperr.IsNotFound(err) {
			return nil, err
		}
		for _, code := range recent {
			if strings.EqualFold(code.Codigo, label) {
				continue
			}
			if score := labelSimilarity(label, code.Codigo); score >= e.cfg.SimilarityThreshold {
				r.Similar = append(r.Similar, Suggestion{Codigo: code.Codigo, CodeID: code.CodeID, Score: score})
			}
		}
		// Highest score first so the operator sees the best candidate on top.
		for i := 1; i < len(r.Similar); i++ {
			for j := i; j > 0 && r.Similar[j].Score > r.Similar[j-1].Score; j-- {
				r.Similar[j], r.Similar[j-1] = r.Similar[j-1], r.Similar[j]
			}
		}
		r.NewLabel = r.Exact == nil && r.CaseFold == nil && len(r.Similar) == 0
		out = append(out, r)
	}
	return out, nil
}

// SubmitRequest proposes a code.
type SubmitRequest struct {
	ProjectID  string
	Codigo     string
	FragmentID *string
	Source     types.CandidateSource
	Confidence float64
	Memo       string
}

// Submit inserts a candidate. A collision on (project, codigo, fragment)
// re-opens the existing row with the higher confidence. The candidate's
// code_id is backfilled immediately when the label is already catalogued.
// Allowed while frozen: a proposal does not alter identity chains.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*types.Candidate, error) {
	cand := &types.Candidate{
		ProjectID:  req.ProjectID,
		Codigo:     strings.TrimSpace(req.Codigo),
		FragmentID: req.FragmentID,
		Source:     req.Source,
		Confidence: req.Confidence,
		State:      types.CandidatePending,
		Memo:       req.Memo,
	}
	if err := cand.Validate(); err != nil {
		return nil, apperr.Invalid("invalid candidate: %v", err)
	}
	if req.FragmentID != nil {
		if _, err := e.store.GetFragment(ctx, req.ProjectID, *req.FragmentID); err != nil {
			return nil, err
		}
	}
	if codeID, err := e.resolver.CodeIDOfLabel(ctx, req.ProjectID, cand.Codigo); err != nil {
		return nil, err
	} else if codeID != nil {
		cand.CodeID = codeID
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		_, _, err := tx.UpsertCandidate(ctx, cand)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.store.GetCandidate(ctx, req.ProjectID, cand.ID)
}

// Transition moves a candidate to validated or rejected. Allowed while
// frozen. Records a version event.
func (e *Engine) Transition(ctx context.Context, projectID, id string, newState types.CandidateState, actor, memo string) (*types.Candidate, error) {
	if newState != types.CandidateValidated && newState != types.CandidateRejected {
		return nil, apperr.Invalid("transition target must be validated or rejected, got %s", newState)
	}
	var out *types.Candidate
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		cand, err := tx.GetCandidate(ctx, projectID, id)
		if err != nil {
			return err
		}
		if cand.State == types.CandidateMerged {
			return apperr.Conflict("candidate %s is merged into %q", id, cand.MergedInto)
		}
		previous, _ := json.Marshal(map[string]any{"state": cand.State})
		cand.State = newState
		cand.Validator = actor
		if memo != "" {
			cand.Memo = memo
		}
		if err := tx.UpdateCandidate(ctx, cand); err != nil {
			return err
		}
		next, _ := json.Marshal(map[string]any{"state": newState})
		action := types.ActionValidate
		if newState == types.CandidateRejected {
			action = types.ActionReject
		}
		if err := tx.AppendVersionEvent(ctx, &types.VersionEvent{
			ProjectID: projectID,
			Codigo:    cand.Codigo,
			CodeID:    cand.CodeID,
			Action:    action,
			Actor:     actor,
			Previous:  previous,
			Next:      next,
		}); err != nil {
			return err
		}
		out = cand
		return nil
	})
	return out, err
}

// PromoteResult reports what promotion created.
type PromoteResult struct {
	Candidate    *types.Candidate   `json:"candidate"`
	Code         *types.CatalogCode `json:"code"`
	AssignmentID int64              `json:"assignment_id,omitempty"`
	MintedCode   bool               `json:"minted_code"`
}

// Promote turns a validated candidate into definitive coding records: a
// catalog row (reusing the code_id when the label already exists,
// case-insensitively) and, when the candidate carries evidence, an
// assignment denormalising that code_id. Allowed while frozen.
func (e *Engine) Promote(ctx context.Context, projectID, candidateID, actor string) (*PromoteResult, error) {
	var result PromoteResult
	err := e.store.RunInProjectLock(ctx, projectID, types.LockCatalog, actor, func(tx storage.Tx) error {
		cand, err := tx.GetCandidate(ctx, projectID, candidateID)
		if err != nil {
			return err
		}
		if cand.State != types.CandidateValidated {
			return apperr.Conflict("candidate %s is %s; only validated candidates promote", candidateID, cand.State)
		}

		code, err := resolveOrCreateCode(ctx, tx, projectID, cand.Codigo, cand.Memo, actor)
		if err != nil {
			return err
		}
		result.MintedCode = code.minted
		result.Code = code.row

		cand.CodeID = &code.row.CodeID
		if err := tx.UpdateCandidate(ctx, cand); err != nil {
			return err
		}

		if cand.FragmentID != nil {
			if _, err := tx.GetAssignment(ctx, projectID, *cand.FragmentID, code.row.Codigo); err == nil {
				// Evidence already definitive; nothing to move.
			} else if !apperr.IsNotFound(err) {
				return err
			} else {
				cita, err := e.citaFor(ctx, projectID, *cand.FragmentID)
				if err != nil {
					return err
				}
				id, err := tx.CreateAssignment(ctx, &types.Assignment{
					ProjectID:  projectID,
					FragmentID: *cand.FragmentID,
					Codigo:     code.row.Codigo,
					CodeID:     &code.row.CodeID,
					Cita:       cita,
				})
				if err != nil {
					return err
				}
				result.AssignmentID = id
			}
		}

		next, _ := json.Marshal(map[string]any{
			"codigo":  code.row.Codigo,
			"code_id": code.row.CodeID,
		})
		if err := tx.AppendVersionEvent(ctx, &types.VersionEvent{
			ProjectID: projectID,
			Codigo:    code.row.Codigo,
			CodeID:    &code.row.CodeID,
			Action:    types.ActionPromote,
			Actor:     actor,
			Next:      next,
		}); err != nil {
			return err
		}
		result.Candidate = cand
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.RecordPromotion(ctx, projectID)
	return &result, nil
}

// citaFor builds the verbatim extract for an assignment, bounded by the
// cita word limit.
func (e *Engine) citaFor(ctx context.Context, projectID, fragmentID string) (string, error) {
	frag, err := e.store.GetFragment(ctx, projectID, fragmentID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	words := strings.Fields(frag.Text)
	if len(words) > types.MaxCitaWords {
		words = words[:types.MaxCitaWords]
	}
	return strings.Join(words, " "), nil
}

type resolvedCode struct {
	row    *types.CatalogCode
	minted bool
}

// resolveOrCreateCode returns the active catalog row for a label, minting
// one when absent. A label resolving to a merged row follows the canonical
// chain to the survivor.
func resolveOrCreateCode(ctx context.Context, tx storage.Tx, projectID, codigo, memo, actor string) (*resolvedCode, error) {
	existing, err := tx.GetCodeByLabel(ctx, projectID, codigo)
	if err == nil {
		if existing.Status == types.CodeActive {
			return &resolvedCode{row: existing}, nil
		}
		pairs, err := tx.ListCanonicalPairs(ctx, projectID)
		if err != nil {
			return nil, err
		}
		chain := canonical.NewChain(pairs, canonical.DefaultMaxHops)
		term, ok := chain.Resolve(existing.CodeID)
		if !ok {
			return nil, apperr.Conflict("label %q belongs to %s code %d with no canonical survivor",
				codigo, existing.Status, existing.CodeID)
		}
		row, err := tx.GetCode(ctx, projectID, term)
		if err != nil {
			return nil, err
		}
		if row.Status != types.CodeActive {
			return nil, apperr.Conflict("canonical code %d for label %q is %s", row.CodeID, codigo, row.Status)
		}
		return &resolvedCode{row: row}, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	code := &types.CatalogCode{ProjectID: projectID, Codigo: codigo, Status: types.CodeActive, Memo: memo}
	if _, err := tx.CreateCode(ctx, code); err != nil {
		return nil, err
	}
	next, _ := json.Marshal(map[string]any{"codigo": codigo, "code_id": code.CodeID})
	if err := tx.AppendVersionEvent(ctx, &types.VersionEvent{
		ProjectID: projectID,
		Codigo:    codigo,
		CodeID:    &code.CodeID,
		Action:    types.ActionCreate,
		Actor:     actor,
		Next:      next,
	}); err != nil {
		return nil, err
	}
	return &resolvedCode{row: code, minted: true}, nil
}
