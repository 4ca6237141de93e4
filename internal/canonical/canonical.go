// Package canonical resolves code references to their terminal, surviving
// code_id.
//
// A catalog row's canonical_code_id forms a chain: merged codes point at the
// code that subsumed them, directly or transitively. Resolution follows the
// chain to a fixed point (NULL or self-pointer), bounded by a hop budget so
// that cycles terminate. The resolver never writes; cycles are surfaced as a
// null result plus a warning, and the readiness gate reports their members.
package canonical

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// DefaultMaxHops bounds chain walks when no explicit budget is configured.
const DefaultMaxHops = 10

// Chain is an immutable in-memory snapshot of a project's canonical
// pointers, for bulk resolution (readiness counters, repair planning).
type Chain struct {
	byID    map[int64]types.CodePointer
	byLabel map[string]int64
	maxHops int
}

// NewChain indexes the canonical pairs of one project.
func NewChain(pairs []types.CodePointer, maxHops int) *Chain {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	c := &Chain{
		byID:    make(map[int64]types.CodePointer, len(pairs)),
		byLabel: make(map[string]int64, len(pairs)),
		maxHops: maxHops,
	}
	for _, p := range pairs {
		c.byID[p.CodeID] = p
		c.byLabel[strings.ToLower(p.Codigo)] = p.CodeID
	}
	return c
}

// Resolve follows the chain from codeID to its terminal code. ok is false
// when the input is missing, a pointer dangles, or the hop budget runs out
// (a cycle).
func (c *Chain) Resolve(codeID int64) (int64, bool) {
	cur, ok := c.byID[codeID]
	if !ok {
		return 0, false
	}
	for hop := 0; hop < c.maxHops; hop++ {
		if cur.CanonicalCodeID == nil || *cur.CanonicalCodeID == cur.CodeID {
			return cur.CodeID, true
		}
		next, ok := c.byID[*cur.CanonicalCodeID]
		if !ok {
			return 0, false
		}
		cur = next
	}
	return 0, false
}

// CodeIDOfLabel maps a label to its code_id, case-insensitively.
func (c *Chain) CodeIDOfLabel(codigo string) (int64, bool) {
	id, ok := c.byLabel[strings.ToLower(codigo)]
	return id, ok
}

// Divergent reports whether an assignment's denormalised (code_id, codigo)
// pair has drifted: the two sides must resolve to the same canonical code.
func (c *Chain) Divergent(codeID int64, codigo string) bool {
	labelID, ok := c.CodeIDOfLabel(codigo)
	if !ok {
		return true
	}
	idTerm, okID := c.Resolve(codeID)
	labelTerm, okLabel := c.Resolve(labelID)
	if !okID || !okLabel {
		return true
	}
	return idTerm != labelTerm
}

// CycleMembers returns the code_ids participating in canonical cycles of
// length > 1. Self-loops mean "I am canonical" and are excluded. Nodes on a
// tail leading into a cycle are not members.
func (c *Chain) CycleMembers() map[int64]bool {
	state := make(map[int64]int, len(c.byID)) // 0 unvisited, 2 resolved
	inCycle := make(map[int64]bool)

	for start := range c.byID {
		if state[start] != 0 {
			continue
		}
		var path []int64
		pos := make(map[int64]int)
		cur := start
		for {
			p, exists := c.byID[cur]
			if !exists || state[p.CodeID] == 2 {
				break
			}
			if idx, onPath := pos[p.CodeID]; onPath {
				for _, n := range path[idx:] {
					inCycle[n] = true
				}
				break
			}
			pos[p.CodeID] = len(path)
			path = append(path, p.CodeID)
			if p.CanonicalCodeID == nil || *p.CanonicalCodeID == p.CodeID {
				break
			}
			cur = *p.CanonicalCodeID
		}
		for _, n := range path {
			state[n] = 2
		}
	}
	return inCycle
}

// CatalogReader is the slice of the ledger the resolver needs.
type CatalogReader interface {
	GetCode(ctx context.Context, projectID string, codeID int64) (*types.CatalogCode, error)
	GetCodeByLabel(ctx context.Context, projectID, codigo string) (*types.CatalogCode, error)
}

// Resolver is the service-level canonical resolver. Idempotent and pure
// over the catalog snapshot it reads; used by the lifecycle engine, the
// readiness gate and the projection synchronizer.
type Resolver struct {
	catalog CatalogReader
	maxHops int
	log     *zap.Logger
}

// NewResolver builds a resolver over the given catalog reader.
func NewResolver(catalog CatalogReader, maxHops int, log *zap.Logger) *Resolver {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{catalog: catalog, maxHops: maxHops, log: log}
}

// Resolve follows canonical_code_id from codeID to its fixed point and
// returns the terminal code_id. A missing code, a dangling pointer or an
// exhausted hop budget returns nil. Store errors other than not-found
// propagate.
func (r *Resolver) Resolve(ctx context.Context, projectID string, codeID int64) (*int64, error) {
	cur, err := r.catalog.GetCode(ctx, projectID, codeID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for hop := 0; hop < r.maxHops; hop++ {
		if cur.CanonicalCodeID == nil || cur.IsSelfCanonical() {
			id := cur.CodeID
			return &id, nil
		}
		next, err := r.catalog.GetCode(ctx, projectID, *cur.CanonicalCodeID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		cur = next
	}
	r.log.Warn("cycle_detected",
		zap.String("project_id", projectID),
		zap.Int64("code_id", codeID),
		zap.Int("max_hops", r.maxHops))
	return nil, nil
}

// CodeIDOfLabel maps a label to its code_id, case-insensitively. Stable
// during case-only renames. Returns nil when the label is not catalogued.
func (r *Resolver) CodeIDOfLabel(ctx context.Context, projectID, codigo string) (*int64, error) {
	code, err := r.catalog.GetCodeByLabel(ctx, projectID, codigo)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	id := code.CodeID
	return &id, nil
}

// ResolveToActive resolves codeID and loads the terminal row, requiring it
// to be active. Axial writes use this to satisfy the persistence invariant.
func (r *Resolver) ResolveToActive(ctx context.Context, projectID string, codeID int64) (*types.CatalogCode, error) {
	term, err := r.Resolve(ctx, projectID, codeID)
	if err != nil {
		return nil, err
	}
	if term == nil {
		return nil, apperr.Conflict("code %d does not resolve to a canonical code", codeID)
	}
	code, err := r.catalog.GetCode(ctx, projectID, *term)
	if err != nil {
		return nil, err
	}
	if code.Status != types.CodeActive {
		return nil, apperr.Conflict("canonical code %d is %s, not active", code.CodeID, code.Status)
	}
	return code, nil
}
