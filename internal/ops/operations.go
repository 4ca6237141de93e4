package ops

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/canonical"
	"github.com/tesela-labs/tesela/internal/freeze"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/types"
)

// backfillReport details one backfill pass.
type backfillReport struct {
	Assignments   int      `json:"assignments"`
	Candidates    int      `json:"candidates"`
	SkippedLabels []string `json:"skipped_labels,omitempty"` // labels with no catalog row
}

// runBackfill fills code_id into assignments and candidates whose label
// already exists in the catalog. Rows whose label is uncatalogued are left
// for promotion to mint.
func (r *Runner) runBackfill(ctx context.Context, req Request) (*Response, error) {
	if req.DryRun {
		var report backfillReport
		err := r.store.RunInTransaction(ctx, func(tx storage.Tx) error {
			var err error
			report, err = r.backfillPass(ctx, tx, req, true)
			return err
		})
		if err != nil {
			return nil, err
		}
		details, _ := json.Marshal(report)
		return &Response{
			UpdatedRows: report.Assignments + report.Candidates,
			Details:     details,
			Outcome:     outcomeFor(report.Assignments + report.Candidates),
			Message:     "dry run; nothing was changed",
		}, nil
	}

	if err := freeze.EnsureUnfrozen(ctx, r.store, req.ProjectID); err != nil {
		return nil, err
	}
	var resp *Response
	err := r.store.RunInProjectLock(ctx, req.ProjectID, types.LockCatalog, req.SessionID, func(tx storage.Tx) error {
		report, err := r.backfillPass(ctx, tx, req, false)
		if err != nil {
			return err
		}
		details, _ := json.Marshal(report)
		resp = &Response{
			UpdatedRows: report.Assignments + report.Candidates,
			Details:     details,
		}
		return r.bindResult(ctx, tx, req, resp)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Runner) backfillPass(ctx context.Context, tx storage.Tx, req Request, dryRun bool) (backfillReport, error) {
	var report backfillReport
	skipped := make(map[string]bool)

	assignments, err := tx.ListAssignmentsMissingCodeID(ctx, req.ProjectID, req.BatchSize)
	if err != nil {
		return report, err
	}
	for _, a := range assignments {
		code, err := tx.GetCodeByLabel(ctx, req.ProjectID, a.Codigo)
		if err != nil {
			if apperr.IsNotFound(err) {
				skipped[a.Codigo] = true
				continue
			}
			return report, err
		}
		report.Assignments++
		if dryRun {
			continue
		}
		if err := tx.UpdateAssignmentIdentity(ctx, req.ProjectID, a.ID, code.CodeID, a.Codigo); err != nil {
			return report, err
		}
		if err := r.appendRepairEvent(ctx, tx, req, a.Codigo, code.CodeID, types.ActionBackfill,
			map[string]any{"assignment_id": a.ID, "code_id": code.CodeID}); err != nil {
			return report, err
		}
	}

	candidates, err := tx.ListCandidatesMissingCodeID(ctx, req.ProjectID, req.BatchSize)
	if err != nil {
		return report, err
	}
	for _, cand := range candidates {
		code, err := tx.GetCodeByLabel(ctx, req.ProjectID, cand.Codigo)
		if err != nil {
			if apperr.IsNotFound(err) {
				skipped[cand.Codigo] = true
				continue
			}
			return report, err
		}
		report.Candidates++
		if dryRun {
			continue
		}
		id := code.CodeID
		cand.CodeID = &id
		if err := tx.UpdateCandidate(ctx, cand); err != nil {
			return report, err
		}
		if err := r.appendRepairEvent(ctx, tx, req, cand.Codigo, code.CodeID, types.ActionBackfill,
			map[string]any{"candidate_id": cand.ID, "code_id": code.CodeID}); err != nil {
			return report, err
		}
	}

	for label := range skipped {
		report.SkippedLabels = append(report.SkippedLabels, label)
	}
	return report, nil
}

// repairPlan is the computed set of canonical-chain fixes.
type repairPlan struct {
	// CycleBreaks maps each losing cycle member to the surviving code_id
	// (the lowest code_id in its cycle).
	CycleBreaks map[int64]int64 `json:"cycle_breaks,omitempty"`
	// Reactivate lists rows that return to active with a cleared pointer:
	// cycle survivors, and merged rows whose pointer is missing, dangling
	// or self-referential.
	Reactivate []int64 `json:"reactivate,omitempty"`
	// ClearPointers lists active rows with a dangling pointer.
	ClearPointers []int64 `json:"clear_pointers,omitempty"`
	// RewriteAssignments maps assignment id to its corrected identity.
	RewriteAssignments map[int64]types.CodePointer `json:"rewrite_assignments,omitempty"`
}

func (p repairPlan) total() int {
	return len(p.CycleBreaks) + len(p.Reactivate) + len(p.ClearPointers) + len(p.RewriteAssignments)
}

// runRepair restores canonical-chain consistency: breaks cycles (lowest
// code_id survives), clears dangling and self-referential merge pointers,
// and rewrites assignments whose denormalised (code_id, codigo) pair has
// drifted. Identity wins over text: the label is rewritten to follow the
// stable id.
func (r *Runner) runRepair(ctx context.Context, req Request) (*Response, error) {
	if req.DryRun {
		var plan repairPlan
		err := r.store.RunInTransaction(ctx, func(tx storage.Tx) error {
			var err error
			plan, err = r.planRepair(ctx, tx, req)
			return err
		})
		if err != nil {
			return nil, err
		}
		details, _ := json.Marshal(plan)
		return &Response{
			UpdatedRows: plan.total(),
			Details:     details,
			Outcome:     outcomeFor(plan.total()),
			Message:     "dry run; nothing was changed",
		}, nil
	}

	if err := freeze.EnsureUnfrozen(ctx, r.store, req.ProjectID); err != nil {
		return nil, err
	}
	var resp *Response
	err := r.store.RunInProjectLock(ctx, req.ProjectID, types.LockCatalog, req.SessionID, func(tx storage.Tx) error {
		plan, err := r.planRepair(ctx, tx, req)
		if err != nil {
			return err
		}
		if err := r.applyRepair(ctx, tx, req, plan); err != nil {
			return err
		}
		details, _ := json.Marshal(plan)
		resp = &Response{UpdatedRows: plan.total(), Details: details}
		return r.bindResult(ctx, tx, req, resp)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Runner) planRepair(ctx context.Context, tx storage.Tx, req Request) (repairPlan, error) {
	plan := repairPlan{
		CycleBreaks:        make(map[int64]int64),
		RewriteAssignments: make(map[int64]types.CodePointer),
	}
	pairs, err := tx.ListCanonicalPairs(ctx, req.ProjectID)
	if err != nil {
		return plan, err
	}
	byID := make(map[int64]types.CodePointer, len(pairs))
	for _, p := range pairs {
		byID[p.CodeID] = p
	}
	chain := canonical.NewChain(pairs, canonical.DefaultMaxHops)

	for _, group := range cycleGroups(byID, chain.CycleMembers()) {
		winner := group[0]
		for _, id := range group {
			if id < winner {
				winner = id
			}
		}
		for _, id := range group {
			if id != winner {
				plan.CycleBreaks[id] = winner
			}
		}
		// The winner returns to active and sheds the pointer that closed
		// the loop.
		plan.Reactivate = append(plan.Reactivate, winner)
	}

	for _, p := range pairs {
		if _, breaking := plan.CycleBreaks[p.CodeID]; breaking {
			continue
		}
		dangling := false
		if p.CanonicalCodeID != nil {
			if _, ok := byID[*p.CanonicalCodeID]; !ok {
				dangling = true
			}
		}
		switch p.Status {
		case types.CodeMerged:
			if p.CanonicalCodeID == nil || *p.CanonicalCodeID == p.CodeID || dangling {
				plan.Reactivate = append(plan.Reactivate, p.CodeID)
			}
		default:
			if dangling {
				plan.ClearPointers = append(plan.ClearPointers, p.CodeID)
			}
		}
	}

	divergent, err := tx.ListDivergentAssignments(ctx, req.ProjectID, req.BatchSize)
	if err != nil {
		return plan, err
	}
	for _, a := range divergent {
		target, ok := r.repairTarget(chain, byID, a)
		if !ok {
			continue
		}
		plan.RewriteAssignments[a.ID] = target
	}
	return plan, nil
}

// repairTarget picks the corrected identity for a drifted assignment. The
// stable id side wins when it resolves; the text side is the fallback.
func (r *Runner) repairTarget(chain *canonical.Chain, byID map[int64]types.CodePointer, a *types.Assignment) (types.CodePointer, bool) {
	if a.CodeID != nil {
		if term, ok := chain.Resolve(*a.CodeID); ok {
			return byID[term], true
		}
	}
	if labelID, ok := chain.CodeIDOfLabel(a.Codigo); ok {
		if term, ok := chain.Resolve(labelID); ok {
			return byID[term], true
		}
	}
	return types.CodePointer{}, false
}

func (r *Runner) applyRepair(ctx context.Context, tx storage.Tx, req Request, plan repairPlan) error {
	for loser, winner := range plan.CycleBreaks {
		canonicalID := winner
		if err := tx.UpdateCodePointer(ctx, req.ProjectID, loser, types.CodeMerged, &canonicalID); err != nil {
			return err
		}
		row, err := tx.GetCode(ctx, req.ProjectID, loser)
		if err != nil {
			return err
		}
		if err := r.appendRepairEvent(ctx, tx, req, row.Codigo, loser, types.ActionRepair,
			map[string]any{"cycle_break": true, "canonical_code_id": winner}); err != nil {
			return err
		}
	}
	for _, id := range plan.Reactivate {
		if err := tx.UpdateCodePointer(ctx, req.ProjectID, id, types.CodeActive, nil); err != nil {
			return err
		}
		row, err := tx.GetCode(ctx, req.ProjectID, id)
		if err != nil {
			return err
		}
		if err := r.appendRepairEvent(ctx, tx, req, row.Codigo, id, types.ActionRepair,
			map[string]any{"reactivated": true}); err != nil {
			return err
		}
	}
	for _, id := range plan.ClearPointers {
		row, err := tx.GetCode(ctx, req.ProjectID, id)
		if err != nil {
			return err
		}
		if err := tx.UpdateCodePointer(ctx, req.ProjectID, id, row.Status, nil); err != nil {
			return err
		}
		if err := r.appendRepairEvent(ctx, tx, req, row.Codigo, id, types.ActionRepair,
			map[string]any{"cleared_pointer": true}); err != nil {
			return err
		}
	}
	for id, target := range plan.RewriteAssignments {
		if err := tx.UpdateAssignmentIdentity(ctx, req.ProjectID, id, target.CodeID, target.Codigo); err != nil {
			return err
		}
		if err := r.appendRepairEvent(ctx, tx, req, target.Codigo, target.CodeID, types.ActionRepair,
			map[string]any{"assignment_id": id}); err != nil {
			return err
		}
	}
	return nil
}

// cycleGroups partitions cycle members into their cycles.
func cycleGroups(byID map[int64]types.CodePointer, members map[int64]bool) [][]int64 {
	seen := make(map[int64]bool, len(members))
	var groups [][]int64
	for start := range members {
		if seen[start] {
			continue
		}
		var group []int64
		cur := start
		for members[cur] && !seen[cur] {
			seen[cur] = true
			group = append(group, cur)
			p := byID[cur]
			if p.CanonicalCodeID == nil {
				break
			}
			cur = *p.CanonicalCodeID
		}
		groups = append(groups, group)
	}
	return groups
}

// runSync triggers one projection pass. Projection mirrors state without
// altering identity, so it stays available while the project is frozen.
func (r *Runner) runSync(ctx context.Context, req Request) (*Response, error) {
	if req.DryRun {
		remaining, err := r.store.CountUnsynced(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		total := 0
		for _, n := range remaining {
			total += n
		}
		details, _ := json.Marshal(remaining)
		return &Response{
			UpdatedRows: total,
			Details:     details,
			Outcome:     outcomeFor(total),
			Message:     "dry run; nothing was projected",
		}, nil
	}
	res, err := r.sync.SyncProject(ctx, req.ProjectID, req.SessionID)
	if err != nil {
		return nil, err
	}
	details, _ := json.Marshal(res)
	return &Response{UpdatedRows: res.Synced, Details: details}, nil
}

// runFreezeToggle flips the freeze lock.
func (r *Runner) runFreezeToggle(ctx context.Context, req Request) (*Response, error) {
	target := req.Operation == OpFreeze
	st, err := r.frozen.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		updated := 0
		if st.IsFrozen != target {
			updated = 1
		}
		details, _ := json.Marshal(st)
		return &Response{
			UpdatedRows: updated,
			Details:     details,
			Outcome:     outcomeFor(updated),
			Message:     "dry run; nothing was changed",
		}, nil
	}
	if st.IsFrozen == target {
		details, _ := json.Marshal(st)
		return &Response{Outcome: types.OutcomeNoop, Details: details}, nil
	}
	if target {
		st, err = r.frozen.Freeze(ctx, req.ProjectID, req.Actor, req.Note)
	} else {
		st, err = r.frozen.Break(ctx, req.ProjectID, req.Actor, req.Note)
	}
	if err != nil {
		return nil, err
	}
	r.log.Info("freeze toggled",
		zap.String("project_id", req.ProjectID),
		zap.Bool("frozen", st.IsFrozen),
		zap.String("actor", req.Actor))
	details, _ := json.Marshal(st)
	return &Response{UpdatedRows: 1, Details: details}, nil
}

func (r *Runner) appendRepairEvent(ctx context.Context, tx storage.Tx, req Request, codigo string, codeID int64, action types.VersionAction, next map[string]any) error {
	payload, _ := json.Marshal(next)
	id := codeID
	return tx.AppendVersionEvent(ctx, &types.VersionEvent{
		ProjectID: req.ProjectID,
		Codigo:    codigo,
		CodeID:    &id,
		Action:    action,
		Actor:     req.Actor,
		Next:      payload,
	})
}

func outcomeFor(updated int) types.Outcome {
	if updated == 0 {
		return types.OutcomeNoop
	}
	return types.OutcomeOK
}
