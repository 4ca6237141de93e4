package embed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/vector"
)

// WorkerConfig tunes the background embedding pass.
type WorkerConfig struct {
	Interval  time.Duration // sweep period; default 30s
	BatchSize int           // candidates per project per sweep; default 100
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Worker embeds the fragments behind newly submitted candidates in the
// background. A provider or vector outage only delays the sweep; the
// candidates stay queued and nothing in the ledger is touched on failure.
type Worker struct {
	store    storage.Ledger
	vectors  vector.Store
	provider Provider
	cfg      WorkerConfig
	log      *zap.Logger
}

// NewWorker builds the embedding worker.
func NewWorker(store storage.Ledger, vectors vector.Store, provider Provider, cfg WorkerConfig, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{store: store, vectors: vectors, provider: provider, cfg: cfg.withDefaults(), log: log}
}

// Run sweeps on an interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.log.Warn("embedding sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep embeds one batch of pending candidates for every project.
func (w *Worker) Sweep(ctx context.Context) error {
	projects, err := w.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.SweepProject(ctx, p.ID)
		if err != nil {
			w.log.Warn("project embedding sweep failed",
				zap.String("project_id", p.ID), zap.Error(err))
			continue
		}
		if n > 0 {
			w.log.Info("embedded candidates",
				zap.String("project_id", p.ID), zap.Int("count", n))
		}
	}
	return nil
}

// SweepProject embeds one batch for a single project and returns how many
// candidates were marked embedded.
func (w *Worker) SweepProject(ctx context.Context, projectID string) (int, error) {
	cands, err := w.store.ListUnembeddedCandidates(ctx, projectID, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(cands) == 0 {
		return 0, nil
	}

	// Candidates without a fragment have no text to key an embedding by;
	// they are marked done without a vector.
	var done []string
	var fragmentIDs []string
	var texts []string
	for _, c := range cands {
		if c.FragmentID == nil || *c.FragmentID == "" {
			done = append(done, c.ID)
			continue
		}
		frag, err := w.store.GetFragment(ctx, projectID, *c.FragmentID)
		if err != nil {
			w.log.Warn("candidate fragment lookup failed",
				zap.String("project_id", projectID),
				zap.String("candidate_id", c.ID),
				zap.Error(err))
			continue
		}
		fragmentIDs = append(fragmentIDs, frag.ID)
		texts = append(texts, frag.Text)
		done = append(done, c.ID)
	}

	if len(texts) > 0 {
		vecs, err := w.provider.Embed(ctx, texts)
		if err != nil {
			return 0, err
		}
		for i, fragmentID := range fragmentIDs {
			err := w.vectors.Upsert(ctx, &vector.Embedding{
				ProjectID:  projectID,
				FragmentID: fragmentID,
				Vector:     vecs[i],
				Model:      w.provider.Model(),
			})
			if err != nil {
				return 0, err
			}
		}
	}

	if len(done) == 0 {
		return 0, nil
	}
	if err := w.store.MarkCandidatesEmbedded(ctx, projectID, done); err != nil {
		return 0, err
	}
	return len(done), nil
}
