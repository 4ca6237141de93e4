package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tesela-labs/tesela/internal/apperr"
	"github.com/tesela-labs/tesela/internal/lifecycle"
	"github.com/tesela-labs/tesela/internal/storage"
	"github.com/tesela-labs/tesela/internal/types"
)

// seedFixture is the demo-data shape: one project with its interviews,
// catalog codes and open candidates, all in one YAML file.
type seedFixture struct {
	Project struct {
		ID             string `yaml:"id"`
		OrganizationID string `yaml:"organization_id"`
		Name           string `yaml:"name"`
	} `yaml:"project"`
	Interviews []struct {
		ID         string `yaml:"id"`
		Title      string `yaml:"title"`
		SourceFile string `yaml:"source_file"`
		Fragments  []struct {
			ID      string `yaml:"id"`
			Text    string `yaml:"text"`
			ParIdx  int    `yaml:"par_idx"`
			Speaker string `yaml:"speaker"`
		} `yaml:"fragments"`
	} `yaml:"interviews"`
	Codes []struct {
		Codigo string `yaml:"codigo"`
		Memo   string `yaml:"memo"`
	} `yaml:"codes"`
	Candidates []struct {
		Codigo     string  `yaml:"codigo"`
		FragmentID string  `yaml:"fragment_id"`
		Source     string  `yaml:"source"`
		Confidence float64 `yaml:"confidence"`
		Memo       string  `yaml:"memo"`
	} `yaml:"candidates"`
}

var seedFixturePath string

var seedCmd = &cobra.Command{
	Use:   "seed --fixture demo.yaml",
	Short: "Load a demo project from a YAML fixture",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(seedFixturePath)
		if err != nil {
			return err
		}
		var fx seedFixture
		if err := yaml.Unmarshal(raw, &fx); err != nil {
			return fmt.Errorf("%s: %w", seedFixturePath, err)
		}
		if fx.Project.ID == "" {
			return fmt.Errorf("%s: fixture has no project.id", seedFixturePath)
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.shutdown()

		counts, err := loadFixture(cmd.Context(), a, &fx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(counts)
			return nil
		}
		fmt.Printf("seeded project %s: %d fragment(s), %d code(s), %d candidate(s)\n",
			fx.Project.ID, counts["fragments"], counts["codes"], counts["candidates"])
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFixturePath, "fixture", "", "fixture file (YAML)")
	seedCmd.MarkFlagRequired("fixture") //nolint:errcheck
}

// loadFixture upserts the fixture content. Re-running against the same
// ledger is safe: the project, interviews and fragments upsert, catalog
// labels that already exist are left alone, and candidate collisions
// re-open the existing row.
func loadFixture(ctx context.Context, a *app, fx *seedFixture) (map[string]int, error) {
	counts := map[string]int{}

	err := a.store.CreateProject(ctx, &types.Project{
		ID:             fx.Project.ID,
		OrganizationID: fx.Project.OrganizationID,
		Name:           fx.Project.Name,
	})
	if err != nil && !apperr.IsConflict(err) {
		return nil, err
	}

	for _, iv := range fx.Interviews {
		err := a.store.UpsertInterview(ctx, &types.Interview{
			ID:         iv.ID,
			ProjectID:  fx.Project.ID,
			Title:      iv.Title,
			SourceFile: iv.SourceFile,
		})
		if err != nil {
			return nil, fmt.Errorf("interview %s: %w", iv.ID, err)
		}
		frags := make([]*types.Fragment, 0, len(iv.Fragments))
		for _, f := range iv.Fragments {
			frags = append(frags, &types.Fragment{
				ID:          f.ID,
				ProjectID:   fx.Project.ID,
				InterviewID: iv.ID,
				Text:        f.Text,
				ParIdx:      f.ParIdx,
				CharLen:     len(f.Text),
				Speaker:     f.Speaker,
			})
		}
		n, err := a.store.UpsertFragments(ctx, frags)
		if err != nil {
			return nil, fmt.Errorf("interview %s: %w", iv.ID, err)
		}
		counts["fragments"] += n
	}

	for _, c := range fx.Codes {
		if _, err := a.store.GetCodeByLabel(ctx, fx.Project.ID, c.Codigo); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		err := a.store.RunInTransaction(ctx, func(tx storage.Tx) error {
			_, err := tx.CreateCode(ctx, &types.CatalogCode{
				ProjectID: fx.Project.ID,
				Codigo:    c.Codigo,
				Status:    types.CodeActive,
				Memo:      c.Memo,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("code %q: %w", c.Codigo, err)
		}
		counts["codes"]++
	}

	for _, c := range fx.Candidates {
		req := lifecycle.SubmitRequest{
			ProjectID:  fx.Project.ID,
			Codigo:     c.Codigo,
			Source:     types.CandidateSource(c.Source),
			Confidence: c.Confidence,
			Memo:       c.Memo,
		}
		if c.FragmentID != "" {
			fid := c.FragmentID
			req.FragmentID = &fid
		}
		if _, err := a.engine.Submit(ctx, req); err != nil {
			return nil, fmt.Errorf("candidate %q: %w", c.Codigo, err)
		}
		counts["candidates"]++
	}

	return counts, nil
}
