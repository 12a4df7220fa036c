package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"seller-gateway/internal/database/postgresql"
	"seller-gateway/internal/wizard"
)

var _ wizard.CheckpointStore = (*PostgresStore)(nil)

const schema = `CREATE TABLE IF NOT EXISTS wizard_checkpoints (
	session_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	step       INTEGER NOT NULL,
	draft_id   BIGINT NOT NULL DEFAULT 0,
	form       JSONB NOT NULL,
	images     TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS wizard_checkpoints_expires_at_idx ON wizard_checkpoints (expires_at)`

const selectCheckpoint = `SELECT session_id, user_id, step, draft_id, form, images, updated_at
FROM wizard_checkpoints
WHERE session_id = $1 AND expires_at > now()`

const upsertCheckpoint = `INSERT INTO wizard_checkpoints (session_id, user_id, step, draft_id, form, images, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id) DO UPDATE SET
	step = EXCLUDED.step,
	draft_id = EXCLUDED.draft_id,
	form = EXCLUDED.form,
	images = EXCLUDED.images,
	updated_at = EXCLUDED.updated_at,
	expires_at = EXCLUDED.expires_at`

const deleteCheckpoint = `DELETE FROM wizard_checkpoints WHERE session_id = $1`

const deleteExpired = `DELETE FROM wizard_checkpoints WHERE expires_at <= now()`

// PostgresStore persists checkpoints in the wizard_checkpoints table. Rows
// past expires_at are invisible to Get and removed by Purge.
type PostgresStore struct {
	db  postgresql.DBPool
	ttl time.Duration
}

func NewPostgresStore(db postgresql.DBPool, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

// EnsureSchema creates the table if it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create wizard_checkpoints: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*wizard.Checkpoint, bool, error) {
	var (
		cp   wizard.Checkpoint
		step int
		form []byte
	)
	err := s.db.QueryRow(ctx, selectCheckpoint, sessionID).
		Scan(&cp.SessionID, &cp.UserID, &step, &cp.DraftID, &form, &cp.Images, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres checkpoint get: %w", err)
	}

	if err := json.Unmarshal(form, &cp.Form); err != nil {
		return nil, false, fmt.Errorf("postgres checkpoint %s has a corrupt form: %w", sessionID, err)
	}
	cp.Step = wizard.Step(step)
	return &cp, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, cp wizard.Checkpoint) error {
	form, err := json.Marshal(cp.Form)
	if err != nil {
		return err
	}
	images := cp.Images
	if images == nil {
		images = []string{}
	}
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, upsertCheckpoint,
		cp.SessionID, cp.UserID, int(cp.Step), cp.DraftID, form, images, updatedAt, updatedAt.Add(s.ttl),
	)
	if err != nil {
		return fmt.Errorf("postgres checkpoint set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, deleteCheckpoint, sessionID); err != nil {
		return fmt.Errorf("postgres checkpoint clear: %w", err)
	}
	return nil
}

// Purge deletes expired rows and reports how many went.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteExpired)
	if err != nil {
		return 0, fmt.Errorf("postgres checkpoint purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
