package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/impara/comicgen/internal/domain"
)

// PGStore persists strips and pending handles in PostgreSQL. The strip record
// is stored whole as JSONB with the status mirrored into its own column for
// the active-job listing.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed store and ensures its schema.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	s := &PGStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS strips (
    id         TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS pending_handles (
    handle  TEXT PRIMARY KEY,
    job_id  TEXT NOT NULL,
    phase   TEXT NOT NULL,
    item_id TEXT NOT NULL
);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (s *PGStore) GetStrip(ctx context.Context, id string) (*domain.Strip, error) {
	query := `SELECT state FROM strips WHERE id = $1;`
	var state []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("strip %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get strip %s: %w", id, err)
	}
	var strip domain.Strip
	if err := json.Unmarshal(state, &strip); err != nil {
		return nil, fmt.Errorf("store: decode strip %s: %w", id, err)
	}
	return &strip, nil
}

func (s *PGStore) PutStrip(ctx context.Context, strip *domain.Strip) error {
	state, err := json.Marshal(strip)
	if err != nil {
		return fmt.Errorf("store: encode strip %s: %w", strip.ID, err)
	}
	query := `
INSERT INTO strips (id, status, state, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, state = EXCLUDED.state, updated_at = NOW();
`
	if _, err := s.pool.Exec(ctx, query, strip.ID, strip.Status, state); err != nil {
		return fmt.Errorf("store: put strip %s: %w", strip.ID, err)
	}
	return nil
}

func (s *PGStore) ListActive(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM strips WHERE status IN ($1, $2);`
	rows, err := s.pool.Query(ctx, query, domain.JobStatusInit, domain.JobStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("store: list active strips: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan strip id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) PutHandle(ctx context.Context, handle string, ref domain.HandleRef) error {
	query := `
INSERT INTO pending_handles (handle, job_id, phase, item_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (handle) DO UPDATE
SET job_id = EXCLUDED.job_id, phase = EXCLUDED.phase, item_id = EXCLUDED.item_id;
`
	if _, err := s.pool.Exec(ctx, query, handle, ref.JobID, ref.Phase, ref.ItemID); err != nil {
		return fmt.Errorf("store: put handle: %w", err)
	}
	return nil
}

func (s *PGStore) GetHandle(ctx context.Context, handle string) (domain.HandleRef, error) {
	query := `SELECT job_id, phase, item_id FROM pending_handles WHERE handle = $1;`
	var ref domain.HandleRef
	if err := s.pool.QueryRow(ctx, query, handle).Scan(&ref.JobID, &ref.Phase, &ref.ItemID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HandleRef{}, fmt.Errorf("handle %s: %w", handle, domain.ErrNotFound)
		}
		return domain.HandleRef{}, fmt.Errorf("store: get handle: %w", err)
	}
	return ref, nil
}

func (s *PGStore) DeleteHandle(ctx context.Context, handle string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pending_handles WHERE handle = $1;`, handle); err != nil {
		return fmt.Errorf("store: delete handle: %w", err)
	}
	return nil
}
