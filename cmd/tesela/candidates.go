package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tesela-labs/tesela/internal/lifecycle"
	"github.com/tesela-labs/tesela/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check <label>...",
	Short: "Resolve labels against the catalog before submitting",
	Args:  cobra.MinimumNArgs(1),
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

		results, err := a.engine.CheckBatch(cmd.Context(), projectID, args)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(results)
			return nil
		}
		for _, r := range results {
			switch {
			case r.Exact != nil:
				fmt.Printf("%s: exact match %q (code_id %d)\n", r.Label, r.Exact.Codigo, r.Exact.CodeID)
			case r.CaseFold != nil:
				fmt.Printf("%s: case variant of %q (code_id %d)\n", r.Label, r.CaseFold.Codigo, r.CaseFold.CodeID)
			case len(r.Similar) > 0:
				fmt.Printf("%s: %d similar label(s), closest %q (%.2f)\n", r.Label, len(r.Similar), r.Similar[0].Codigo, r.Similar[0].Score)
			default:
				fmt.Printf("%s: new label\n", r.Label)
			}
		}
		return nil
	},
}

var (
	submitFragment   string
	submitSource     string
	submitConfidence float64
	submitMemo       string
)

var submitCmd = &cobra.Command{
	Use:   "submit <label>",
	Short: "Propose a candidate code",
	Args:  cobra.ExactArgs(1),
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

		req := lifecycle.SubmitRequest{
			ProjectID:  projectID,
			Codigo:     args[0],
			Source:     types.CandidateSource(submitSource),
			Confidence: submitConfidence,
			Memo:       submitMemo,
		}
		if submitFragment != "" {
			req.FragmentID = &submitFragment
		}
		cand, err := a.engine.Submit(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(cand)
			return nil
		}
		fmt.Printf("candidate %s (%s) state=%s\n", cand.ID, cand.Codigo, cand.State)
		return nil
	},
}

var (
	listStates []string
	listLabel  string
	listLimit  int
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List candidates",
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

		filter := types.CandidateFilter{Codigo: listLabel, Limit: listLimit}
		for _, raw := range listStates {
			st := types.CandidateState(raw)
			if !st.IsValid() {
				return fmt.Errorf("unknown state %q", raw)
			}
			filter.States = append(filter.States, st)
		}
		cands, err := a.store.ListCandidates(cmd.Context(), projectID, filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(cands)
			return nil
		}
		for _, c := range cands {
			frag := "-"
			if c.FragmentID != nil {
				frag = *c.FragmentID
			}
			fmt.Printf("%-38s %-10s %-30s frag=%s\n", c.ID, c.State, c.Codigo, frag)
		}
		fmt.Printf("%d candidate(s)\n", len(cands))
		return nil
	},
}

func transitionCmd(use, short string, state types.CandidateState) *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
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

			cand, err := a.engine.Transition(cmd.Context(), projectID, args[0], state, actor(), memo)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(cand)
				return nil
			}
			fmt.Printf("candidate %s -> %s\n", cand.ID, cand.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "decision note")
	return cmd
}

var validateCmd = transitionCmd("validate <candidate-id>", "Validate a pending candidate", types.CandidateValidated)
var rejectCmd = transitionCmd("reject <candidate-id>", "Reject a pending candidate", types.CandidateRejected)

var promoteCmd = &cobra.Command{
	Use:   "promote <candidate-id>",
	Short: "Promote a validated candidate into the catalog",
	Args:  cobra.ExactArgs(1),
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

		result, err := a.engine.Promote(cmd.Context(), projectID, args[0], actor())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Printf("promoted %q as code_id %d\n", result.Code.Codigo, result.Code.CodeID)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitFragment, "fragment", "", "evidence fragment id")
	submitCmd.Flags().StringVar(&submitSource, "source", "manual", "candidate source (manual|llm|discovery|semantic|legacy)")
	submitCmd.Flags().Float64Var(&submitConfidence, "confidence", 1.0, "source confidence 0..1")
	submitCmd.Flags().StringVar(&submitMemo, "memo", "", "submission note")

	candidatesCmd.Flags().StringSliceVar(&listStates, "state", nil, "filter by state (repeatable)")
	candidatesCmd.Flags().StringVar(&listLabel, "codigo", "", "filter by label")
	candidatesCmd.Flags().IntVar(&listLimit, "limit", 100, "max rows")
}
