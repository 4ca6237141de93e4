// Command tesela is the identity and ontology core of the qualitative
// research platform: the candidate lifecycle ledger, the canonical
// resolver, the readiness gate and the graph projection, behind one HTTP
// surface and this CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/config"
	"github.com/tesela-labs/tesela/internal/freeze"
	"github.com/tesela-labs/tesela/internal/lifecycle"
	"github.com/tesela-labs/tesela/internal/logging"
	"github.com/tesela-labs/tesela/internal/ops"
	"github.com/tesela-labs/tesela/internal/projection"
	"github.com/tesela-labs/tesela/internal/readiness"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/storage/postgres"
	"github.com/tesela-labs/tesela/internal/telemetry"
)

var (
	cfgFile     string
	projectFlag string
	actorFlag   string
	sessionFlag string
	jsonOutput  bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "tesela",
	Short:         "Identity and ontology core for qualitative coding",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize(cfgFile)
	},
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default tesela.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "project id")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "actor recorded in audit rows")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "operator session id")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(autoMergeCmd)
	rootCmd.AddCommand(readinessCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(freezeCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a CLI verb needs against a live ledger.
type app struct {
	settings *config.Settings
	store    storage.Ledger
	engine   *lifecycle.Engine
	gate     *readiness.Gate
	frozen   *freeze.Controller
	log      *zap.Logger
	shutdown func()
}

// openApp connects to the ledger and wires the engines. The caller must
// invoke shutdown when done.
func openApp(ctx context.Context) (*app, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Config{
		Level:      settings.LogLevel,
		File:       settings.LogFile,
		MaxSizeMB:  settings.LogMaxSizeMB,
		MaxBackups: settings.LogMaxBackups,
		MaxAgeDays: settings.LogMaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	if err := telemetry.Init(ctx, telemetry.Config{
		Enabled:         settings.TelemetryEnabled,
		Endpoint:        settings.TelemetryEndpoint,
		MetricsEndpoint: settings.TelemetryMetricsEndpoint,
		Stdout:          settings.TelemetryStdout,
		MetricInterval:  settings.TelemetryMetricInterval,
		ServiceName:     "tesela",
		Version:         Version,
	}); err != nil {
		log.Warn("telemetry init failed", zap.Error(err))
	}

	store, err := postgres.New(ctx, postgres.Config{
		URL:         settings.DatabaseURL,
		MaxConns:    int32(settings.DatabaseMaxConns),
		LockTimeout: settings.AdvisoryLockTimeout,
		MaxHops:     settings.ReadinessMaxHops,
		Logger:      log,
	})
	if err != nil {
		telemetry.Shutdown(ctx)
		return nil, err
	}

	engine := lifecycle.NewEngine(store, lifecycle.Config{
		MaxHops:             settings.ReadinessMaxHops,
		RecentWindow:        settings.RecentWindow,
		SimilarityThreshold: settings.SimilarityThreshold,
		IdempotencyTTL:      settings.IdempotencyTTL,
		AllowCatalogMerge:   settings.AllowCatalogMerge,
	}, log)
	gate := readiness.NewGate(store, readiness.Config{
		BacklogThresholdCount: settings.BacklogThresholdCount,
		BacklogThresholdDays:  settings.BacklogThresholdDays,
	}, log)

	return &app{
		settings: settings,
		store:    store,
		engine:   engine,
		gate:     gate,
		frozen:   freeze.NewController(store, log),
		log:      log,
		shutdown: func() {
			store.Close() //nolint:errcheck
			telemetry.Shutdown(context.Background())
			log.Sync() //nolint:errcheck
		},
	}, nil
}

// runner wires the maintenance runner on top of an open app.
func (a *app) runner(g *projection.Synchronizer) *ops.Runner {
	return ops.NewRunner(a.store, g, a.frozen, ops.Config{
		BatchSize:      a.settings.OpsBatchSize,
		IdempotencyTTL: a.settings.IdempotencyTTL,
	}, a.log)
}

func requireProject() (string, error) {
	if projectFlag == "" {
		return "", fmt.Errorf("--project is required")
	}
	return projectFlag, nil
}

func actor() string {
	if actorFlag != "" {
		return actorFlag
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}
