package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tesela-labs/tesela/internal/graph"
	"github.com/tesela-labs/tesela/internal/ops"
	"github.com/tesela-labs/tesela/internal/projection"
	"github.com/tesela-labs/tesela/internal/types"
)

var (
	opsConfirm   bool
	opsBatchSize int
	opsIdemKey   string
	opsNote      string
	opsLogKind   string
	opsLogLimit  int
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Maintenance operations (dry run by default)",
	Long: "Run a maintenance operation through the shared discipline: dry\n" +
		"run unless --confirm and --session are both given. Every run is\n" +
		"recorded in the ops log.",
}

func opsRunCmd(operation, short string) *cobra.Command {
	return &cobra.Command{
		Use:   operation,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireProject()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.shutdown()

			sync, closeGraph, err := openSync(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer closeGraph()

			resp, err := a.runner(sync).Run(cmd.Context(), ops.Request{
				ProjectID:      projectID,
				Operation:      operation,
				DryRun:         !opsConfirm,
				Confirm:        opsConfirm,
				SessionID:      sessionFlag,
				IdempotencyKey: opsIdemKey,
				BatchSize:      opsBatchSize,
				Actor:          actor(),
				Note:           opsNote,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("%s: outcome=%s updated_rows=%d", resp.Operation, resp.Outcome, resp.UpdatedRows)
			if resp.Idempotent {
				fmt.Print(" (replayed)")
			}
			fmt.Println()
			if resp.Message != "" {
				fmt.Println(resp.Message)
			}
			if resp.DryRun {
				fmt.Println("dry run; pass --confirm and --session to apply")
			}
			return nil
		},
	}
}

// openSync builds the projection synchronizer against the configured graph,
// falling back to an in-memory graph when graph.uri is unset (dry runs
// never reach it).
func openSync(ctx context.Context, a *app) (*projection.Synchronizer, func(), error) {
	var g graph.Store
	closeGraph := func() {}
	if a.settings.GraphURI != "" {
		neo, err := graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
			URI:      a.settings.GraphURI,
			User:     a.settings.GraphUser,
			Password: a.settings.GraphPassword,
			Database: a.settings.GraphDatabase,
		})
		if err != nil {
			return nil, nil, err
		}
		g = neo
		closeGraph = func() { neo.Close(context.Background()) } //nolint:errcheck
	} else {
		a.log.Warn("graph.uri not set, projection targets an in-memory graph")
		g = graph.NewMemoryStore()
	}
	sync := projection.New(a.store, g, projection.Config{
		BatchSize:   a.settings.SyncBatchSize,
		RunBudget:   a.settings.SyncRunBudget,
		MaxAttempts: a.settings.SyncRetryMaxAttempts,
		BackoffBase: a.settings.SyncRetryBase,
		BackoffCap:  a.settings.SyncRetryCap,
	}, a.log)
	return sync, closeGraph, nil
}

var opsLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the ops log",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := requireProject()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.shutdown()

		entries, err := a.store.ListOpsLog(cmd.Context(), projectID, types.OpsLogFilter{
			Kind:  opsLogKind,
			Limit: opsLogLimit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entries)
			return nil
		}
		for _, e := range entries {
			mode := "dry"
			if e.WriteIntent {
				mode = "write"
			}
			fmt.Printf("%s  %-20s %-5s %-7s rows=%-5d %dms\n",
				e.StartedAt.Format("2006-01-02 15:04:05"), e.Operation, mode, e.Outcome, e.UpdatedRows, e.DurationMS)
		}
		fmt.Printf("%d entr(ies)\n", len(entries))
		return nil
	},
}

func init() {
	backfill := opsRunCmd("backfill_code_ids", "Backfill stable code ids onto assignments and candidates")
	repair := opsRunCmd("repair_canonical", "Repair canonical chains: cycles, dangling pointers, divergences")
	syncOp := opsRunCmd("sync_projection", "Push unsynced ledger rows to the graph")

	for _, c := range []*cobra.Command{backfill, repair, syncOp} {
		c.Flags().BoolVar(&opsConfirm, "confirm", false, "apply instead of the default dry run")
		c.Flags().IntVar(&opsBatchSize, "batch-size", 0, "rows per pass (0 = server default)")
		c.Flags().StringVar(&opsIdemKey, "idempotency-key", "", "replay protection key")
		c.Flags().StringVar(&opsNote, "note", "", "operator note")
		opsCmd.AddCommand(c)
	}

	opsLogCmd.Flags().StringVar(&opsLogKind, "kind", "", "filter: all | errors | mutations")
	opsLogCmd.Flags().IntVar(&opsLogLimit, "limit", 50, "max entries")
	opsCmd.AddCommand(opsLogCmd)
}
