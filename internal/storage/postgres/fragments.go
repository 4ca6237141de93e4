package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tesela-labs/tesela/internal/types"
)

const fragmentCols = `id, project_id, interview_id, text, par_idx, char_len, speaker,
	neo4j_synced, neo4j_sync_error, created_at`

func scanFragment(row rowScanner) (*types.Fragment, error) {
	var f types.Fragment
	err := row.Scan(&f.ID, &f.ProjectID, &f.InterviewID, &f.Text, &f.ParIdx, &f.CharLen,
		&f.Speaker, &f.Neo4jSynced, &f.SyncError, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertInterview registers an interview. Re-registration refreshes the
// title and source file only.
func (q queries) UpsertInterview(ctx context.Context, iv *types.Interview) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO interviews (id, project_id, title, source_file)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, id) DO UPDATE SET
		     title       = EXCLUDED.title,
		     source_file = EXCLUDED.source_file`,
		iv.ID, iv.ProjectID, iv.Title, iv.SourceFile)
	return translateError(err, fmt.Sprintf("interview %s", iv.ID))
}

// UpsertFragments registers a batch of fragments in one round trip and
// returns the number of new rows. A re-registered fragment keeps its sync
// flag unless the text changed.
func (q queries) UpsertFragments(ctx context.Context, frags []*types.Fragment) (int, error) {
	if len(frags) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, f := range frags {
		batch.Queue(
			`INSERT INTO fragments (id, project_id, interview_id, text, par_idx, char_len, speaker)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (project_id, id) DO UPDATE SET
			     interview_id = EXCLUDED.interview_id,
			     text         = EXCLUDED.text,
			     par_idx      = EXCLUDED.par_idx,
			     char_len     = EXCLUDED.char_len,
			     speaker      = EXCLUDED.speaker,
			     neo4j_synced = fragments.neo4j_synced AND fragments.text = EXCLUDED.text
			 RETURNING (xmax = 0)`,
			f.ID, f.ProjectID, f.InterviewID, f.Text, f.ParIdx, f.CharLen, f.Speaker)
	}
	results := q.db.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for i := range frags {
		var isNew bool
		if err := results.QueryRow().Scan(&isNew); err != nil {
			return created, translateError(err, fmt.Sprintf("fragment %s", frags[i].ID))
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

// GetFragment loads one fragment by id.
func (q queries) GetFragment(ctx context.Context, projectID, id string) (*types.Fragment, error) {
	f, err := scanFragment(q.db.QueryRow(ctx,
		`SELECT `+fragmentCols+` FROM fragments WHERE project_id = $1 AND id = $2`,
		projectID, id))
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("fragment %s", id))
	}
	return f, nil
}
