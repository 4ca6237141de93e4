package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tesela-labs/tesela/internal/types"
)

var freezeNote string

var freezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Show or toggle the project identity lock",
}

var freezeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the freeze state",
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

		state, err := a.frozen.Get(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		printFreeze(state)
		return nil
	},
}

var freezeOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Freeze the project's identity layer",
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

		state, err := a.frozen.Freeze(cmd.Context(), projectID, actor(), freezeNote)
		if err != nil {
			return err
		}
		printFreeze(state)
		return nil
	},
}

var freezeBreakCmd = &cobra.Command{
	Use:   "break",
	Short: "Lift the freeze (say why in --note)",
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

		state, err := a.frozen.Break(cmd.Context(), projectID, actor(), freezeNote)
		if err != nil {
			return err
		}
		printFreeze(state)
		return nil
	},
}

func printFreeze(state *types.FreezeState) {
	if jsonOutput {
		outputJSON(state)
		return
	}
	if state.IsFrozen {
		fmt.Printf("frozen (by %s", state.FrozenBy)
		if state.FrozenAt != nil {
			fmt.Printf(" at %s", state.FrozenAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println(")")
	} else {
		fmt.Println("not frozen")
	}
	if state.Note != "" {
		fmt.Printf("note: %s\n", state.Note)
	}
}

func init() {
	freezeCmd.AddCommand(freezeStatusCmd, freezeOnCmd, freezeBreakCmd)
	freezeCmd.PersistentFlags().StringVar(&freezeNote, "note", "", "reason for the toggle")
}
