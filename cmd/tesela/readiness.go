package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var readinessCmd = &cobra.Command{
	Use:   "readiness",
	Short: "Show the axial readiness gate for a project",
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

		report, err := a.gate.Report(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(report)
			return nil
		}
		c := report.Counters
		fmt.Printf("missing_code_id:           %d\n", c.MissingCodeID)
		fmt.Printf("missing_canonical_code_id: %d\n", c.MissingCanonicalCodeID)
		fmt.Printf("divergences_text_vs_id:    %d\n", c.DivergencesTextVsID)
		fmt.Printf("cycles_non_trivial:        %d\n", c.CyclesNonTrivial)
		if report.AxialReady {
			fmt.Println("axial_ready: true")
		} else {
			fmt.Printf("axial_ready: false (%s)\n", strings.Join(report.BlockingReasons, ", "))
		}
		if report.Degraded {
			fmt.Println("warning: served from cache, ledger unreachable")
		}
		return nil
	},
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Show the analysis scheduling gate (candidate backlog)",
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

		gate, err := a.gate.Analysis(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(gate)
			return nil
		}
		fmt.Printf("pending: %d, oldest: %.1f day(s)\n", gate.Pending, gate.OldestAgeDays)
		if gate.CanSchedule {
			fmt.Println("can_schedule: true")
		} else {
			fmt.Printf("can_schedule: false (%s)\n", strings.Join(gate.Reasons, ", "))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show project ledger statistics",
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

		stats, err := a.store.GetProjectStats(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		outputJSON(stats)
		return nil
	},
}

var versionsLimit int

var versionsCmd = &cobra.Command{
	Use:   "versions [label]",
	Short: "Show the audit trail, optionally filtered to one label",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := requireProject()
		if err != nil {
			return err
		}
		codigo := ""
		if len(args) == 1 {
			codigo = args[0]
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.shutdown()

		events, err := a.store.ListVersionEvents(cmd.Context(), projectID, codigo, versionsLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(events)
			return nil
		}
		for _, e := range events {
			fmt.Printf("%s  %-10s %-30s %s\n", e.At.Format("2006-01-02 15:04:05"), e.Action, e.Codigo, e.Actor)
		}
		fmt.Printf("%d event(s)\n", len(events))
		return nil
	},
}

func init() {
	versionsCmd.Flags().IntVar(&versionsLimit, "limit", 100, "max events")
}
