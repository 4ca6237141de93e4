package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tesela-labs/tesela/internal/types"
)

// ingestFile is the shape the exporters produce: one interview and its
// fragments, as JSON or YAML.
type ingestFile struct {
	Interview struct {
		ID         string `json:"id" yaml:"id"`
		Title      string `json:"title,omitempty" yaml:"title,omitempty"`
		SourceFile string `json:"source_file,omitempty" yaml:"source_file,omitempty"`
	} `json:"interview" yaml:"interview"`
	Fragments []struct {
		ID      string `json:"id" yaml:"id"`
		Text    string `json:"text" yaml:"text"`
		ParIdx  int    `json:"par_idx" yaml:"par_idx"`
		Speaker string `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	} `json:"fragments" yaml:"fragments"`
}

func decodeIngestFile(path string, raw []byte, in *ingestFile) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, in)
	default:
		return json.Unmarshal(raw, in)
	}
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json|file.yaml>...",
	Short: "Ingest interview fragments from export files",
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

		total := 0
		for _, path := range args {
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var in ingestFile
			if err := decodeIngestFile(path, raw, &in); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if in.Interview.ID != "" {
				err := a.store.UpsertInterview(cmd.Context(), &types.Interview{
					ID:         in.Interview.ID,
					ProjectID:  projectID,
					Title:      in.Interview.Title,
					SourceFile: in.Interview.SourceFile,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			frags := make([]*types.Fragment, 0, len(in.Fragments))
			for _, f := range in.Fragments {
				frags = append(frags, &types.Fragment{
					ID:          f.ID,
					ProjectID:   projectID,
					InterviewID: in.Interview.ID,
					Text:        f.Text,
					ParIdx:      f.ParIdx,
					CharLen:     len(f.Text),
					Speaker:     f.Speaker,
				})
			}
			n, err := a.store.UpsertFragments(cmd.Context(), frags)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			total += n
		}
		if jsonOutput {
			outputJSON(map[string]int{"upserted": total})
			return nil
		}
		fmt.Printf("upserted %d fragment(s)\n", total)
		return nil
	},
}
