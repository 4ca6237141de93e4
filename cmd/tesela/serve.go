package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tesela-labs/tesela/internal/embed"
	"github.com/tesela-labs/tesela/internal/httpapi"
	"github.com/tesela-labs/tesela/internal/storage/postgres"
	"github.com/tesela-labs/tesela/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the projection loop and the embedding worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.shutdown()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	log := a.log

	// One server per host. The projection loop must not run twice against
	// the same graph.
	lock := flock.New(filepath.Join(os.TempDir(), "tesela-serve.lock"))
	held, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("another tesela serve holds %s", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	sync, closeGraph, err := openSync(ctx, a)
	if err != nil {
		return err
	}
	defer closeGraph()
	runner := a.runner(sync)

	server := httpapi.NewServer(a.store, a.engine, a.gate, a.frozen, runner, sync, httpapi.Config{
		APIKeys: a.settings.APIKeys,
	}, log)

	httpSrv := &http.Server{
		Addr:              a.settings.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	// Projection loop: walk every project on a fixed cadence. Busy
	// projects are skipped and picked up next tick.
	grp.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := sync.SyncAll(ctx, "projection-loop"); err != nil {
					log.Warn("projection pass failed", zap.Error(err))
				}
			}
		}
	})

	if a.settings.EmbedderURL != "" {
		pg, ok := a.store.(*postgres.Store)
		if !ok {
			log.Warn("embedding worker needs the postgres ledger, skipping")
		} else {
			vectors := vector.NewPgStore(pg.Pool())
			provider := embed.NewHTTPProvider(embed.HTTPConfig{
				URL:   a.settings.EmbedderURL,
				Model: a.settings.EmbedderModel,
			})
			worker := embed.NewWorker(a.store, vectors, provider, embed.WorkerConfig{
				Interval: a.settings.EmbedderInterval,
			}, log)
			grp.Go(func() error {
				worker.Run(ctx)
				return nil
			})
		}
	}

	return grp.Wait()
}
