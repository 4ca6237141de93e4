// Package freeze implements the per-project operational lock over
// ontology-mutating maintenance.
//
// Freeze is orthogonal to readiness: a frozen project may be axial-ready
// and vice versa. While frozen, merges and maintenance operations refuse to
// execute for real; dry runs and individual analyst actions (submit,
// validate, reject, promote) stay available because they do not alter
// existing identity chains.
package freeze

import (
	"context"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/types"
)

// Ledger is the slice of the store the controller needs.
type Ledger interface {
	GetFreeze(ctx context.Context, projectID string) (*types.FreezeState, error)
	SetFreeze(ctx context.Context, projectID string, frozen bool, actor, note string) (*types.FreezeState, error)
}

// Controller exposes get/freeze/break per project.
type Controller struct {
	store Ledger
	log   *zap.Logger
}

// NewController builds a freeze controller over the ledger.
func NewController(store Ledger, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{store: store, log: log}
}

// Get returns the current freeze state.
func (c *Controller) Get(ctx context.Context, projectID string) (*types.FreezeState, error) {
	return c.store.GetFreeze(ctx, projectID)
}

// Freeze activates the lock. Freezing an already frozen project refreshes
// the note and actor; it is not an error.
func (c *Controller) Freeze(ctx context.Context, projectID, actor, note string) (*types.FreezeState, error) {
	st, err := c.store.SetFreeze(ctx, projectID, true, actor, note)
	if err != nil {
		return nil, err
	}
	c.log.Info("project frozen",
		zap.String("project_id", projectID),
		zap.String("actor", actor),
		zap.String("note", note))
	return st, nil
}

// Break releases the lock.
func (c *Controller) Break(ctx context.Context, projectID, actor, note string) (*types.FreezeState, error) {
	st, err := c.store.SetFreeze(ctx, projectID, false, actor, note)
	if err != nil {
		return nil, err
	}
	c.log.Info("project freeze broken",
		zap.String("project_id", projectID),
		zap.String("actor", actor),
		zap.String("note", note))
	return st, nil
}

// EnsureUnfrozen fails with a frozen error when the project lock is active.
// Mutating maintenance paths call this before touching ontology rows.
func EnsureUnfrozen(ctx context.Context, store Ledger, projectID string) error {
	st, err := store.GetFreeze(ctx, projectID)
	if err != nil {
		return err
	}
	if st.IsFrozen {
		return apperr.Frozen(projectID)
	}
	return nil
}
