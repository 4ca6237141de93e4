package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tesela-labs/tesela/internal/lifecycle"
)

var (
	mergeTarget  string
	mergeMemo    string
	mergeIdemKey string
	mergeCatalog bool
	mergeConfirm bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge <candidate-id>...",
	Short: "Merge candidates into a target label",
	Long: "Merge the given candidate rows into --into. Runs dry by default;\n" +
		"pass --confirm to apply. Evidence is never lost: every source\n" +
		"fragment ends up linked to the target.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := requireProject()
		if err != nil {
			return err
		}
		if mergeTarget == "" {
			return fmt.Errorf("--into is required")
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.shutdown()

		result, err := a.engine.MergeByIDs(cmd.Context(), lifecycle.MergeIDsRequest{
			ProjectID:      projectID,
			SourceIDs:      args,
			TargetCodigo:   mergeTarget,
			Memo:           mergeMemo,
			DryRun:         !mergeConfirm,
			IdempotencyKey: mergeIdemKey,
			Actor:          actor(),
			SessionID:      sessionFlag,
		})
		if err != nil {
			return err
		}
		printMergeResult(result)
		return nil
	},
}

var autoMergeCmd = &cobra.Command{
	Use:   "auto-merge <source=target>...",
	Short: "Merge all candidates matching each source label into its target",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := requireProject()
		if err != nil {
			return err
		}
		pairs := make([]lifecycle.MergePair, 0, len(args))
		for _, raw := range args {
			src, dst, ok := strings.Cut(raw, "=")
			if !ok || src == "" || dst == "" {
				return fmt.Errorf("invalid pair %q, expected source=target", raw)
			}
			pairs = append(pairs, lifecycle.MergePair{SourceCodigo: src, TargetCodigo: dst})
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.shutdown()

		result, err := a.engine.MergePairs(cmd.Context(), lifecycle.MergePairsRequest{
			ProjectID:      projectID,
			Pairs:          pairs,
			Memo:           mergeMemo,
			DryRun:         !mergeConfirm,
			IdempotencyKey: mergeIdemKey,
			Actor:          actor(),
			SessionID:      sessionFlag,
			ApplyToCatalog: mergeCatalog,
		})
		if err != nil {
			return err
		}
		printMergeResult(result)
		return nil
	},
}

func printMergeResult(r *lifecycle.MergeResult) {
	if jsonOutput {
		outputJSON(r)
		return
	}
	if r.DryRun {
		fmt.Printf("dry run: would move %d assignment(s)", r.WouldMove)
		if r.CatalogRows > 0 {
			fmt.Printf(", rewrite %d catalog row(s)", r.CatalogRows)
		}
		fmt.Println(" (pass --confirm to apply)")
		return
	}
	fmt.Printf("moved %d, marked %d candidate(s) merged", r.Moved, r.MarkedMerged)
	if r.CatalogRows > 0 {
		fmt.Printf(", rewrote %d catalog row(s)", r.CatalogRows)
	}
	if r.Idempotent {
		fmt.Print(" (replayed)")
	}
	fmt.Println()
}

func init() {
	for _, c := range []*cobra.Command{mergeCmd, autoMergeCmd} {
		c.Flags().StringVar(&mergeMemo, "memo", "", "merge note")
		c.Flags().BoolVar(&mergeConfirm, "confirm", false, "apply the merge instead of the default dry run")
		c.Flags().StringVar(&mergeIdemKey, "idempotency-key", "", "replay protection key")
	}
	mergeCmd.Flags().StringVar(&mergeTarget, "into", "", "target label")
	autoMergeCmd.Flags().BoolVar(&mergeCatalog, "apply-to-catalog", false, "also rewrite catalog rows (needs allow_catalog_merge)")
}
