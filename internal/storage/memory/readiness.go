package memory

import (
	"context"

	"github.com/tesela-labs/tesela/internal/canonical"
	"github.com/tesela-labs/tesela/internal/types"
)

// ReadinessCounters computes the four structural-consistency counters over
// the current state.
func (s *Store) ReadinessCounters(ctx context.Context, projectID string) (types.ReadinessCounters, error) {
	pairs, err := s.ListCanonicalPairs(ctx, projectID)
	if err != nil {
		return types.ReadinessCounters{}, err
	}
	chain := canonical.NewChain(pairs, s.maxHops)

	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.data(projectID)
	if err != nil {
		return types.ReadinessCounters{}, err
	}

	var c types.ReadinessCounters
	for _, a := range d.assignments {
		if a.CodeID == nil {
			if labelCatalogued(d, a.Codigo) {
				c.MissingCodeID++
			}
			continue
		}
		if chain.Divergent(*a.CodeID, a.Codigo) {
			c.DivergencesTextVsID++
		}
	}
	for _, code := range d.codes {
		if code.Status != types.CodeMerged {
			continue
		}
		switch {
		case code.CanonicalCodeID == nil:
			c.MissingCanonicalCodeID++
		case *code.CanonicalCodeID == code.CodeID:
			// A merged row claiming to be its own survivor contradicts
			// its status.
			c.MissingCanonicalCodeID++
		default:
			if _, ok := d.codes[*code.CanonicalCodeID]; !ok {
				c.MissingCanonicalCodeID++
			}
		}
	}
	c.CyclesNonTrivial = len(chain.CycleMembers())
	return c, nil
}
