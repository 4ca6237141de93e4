package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetIdempotentResponse returns the bound response for a key, if any and
// not expired. Expired rows are ignored rather than eagerly deleted; Put
// reaps them opportunistically.
func (q queries) GetIdempotentResponse(ctx context.Context, projectID, key string) ([]byte, bool, error) {
	var response []byte
	err := q.db.QueryRow(ctx,
		`SELECT response FROM idempotency
		 WHERE project_id = $1 AND key = $2 AND expires_at > now()`,
		projectID, key).Scan(&response)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return response, true, nil
}

// PutIdempotentResponse binds a response snapshot to the key. Committing in
// the operation's transaction makes the binding atomic with the work it
// protects. A re-bind of an expired key replaces the snapshot.
func (q queries) PutIdempotentResponse(ctx context.Context, projectID, key string, response []byte, ttl time.Duration) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM idempotency WHERE project_id = $1 AND expires_at <= now()`,
		projectID)
	if err != nil {
		return fmt.Errorf("failed to reap expired idempotency keys: %w", err)
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO idempotency (project_id, key, response, expires_at)
		 VALUES ($1, $2, $3, now() + $4)
		 ON CONFLICT (project_id, key) DO UPDATE SET
		     response = EXCLUDED.response, expires_at = EXCLUDED.expires_at
		 WHERE idempotency.expires_at <= now()`,
		projectID, key, response, ttl)
	if err != nil {
		return fmt.Errorf("failed to bind idempotency key: %w", err)
	}
	return nil
}
