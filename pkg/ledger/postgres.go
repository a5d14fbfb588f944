package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PGConn is the subset of *pgxpool.Pool used by PostgresStore.
type PGConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps one JSONB row per invocation.
type PostgresStore struct {
	db PGConn
}

func NewPostgresStore(db PGConn) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS artifact_ledger (
			invocation_id TEXT PRIMARY KEY,
			state JSONB NOT NULL DEFAULT '{"artifacts":[]}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create artifact_ledger table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*AppState, bool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT state FROM artifact_ledger WHERE invocation_id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query state: %w", err)
	}
	var state AppState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("failed to decode state: %w", err)
	}
	return &state, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, id string, state *AppState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO artifact_ledger (invocation_id, state)
		VALUES ($1, $2)
		ON CONFLICT (invocation_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`, id, raw)
	if err != nil {
		return fmt.Errorf("failed to upsert state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM artifact_ledger WHERE invocation_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) All(ctx context.Context) (map[string]*AppState, error) {
	rows, err := s.db.Query(ctx, `SELECT invocation_id, state FROM artifact_ledger`)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*AppState)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		var state AppState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("failed to decode state for %s: %w", id, err)
		}
		out[id] = &state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM artifact_ledger`); err != nil {
		return fmt.Errorf("failed to clear states: %w", err)
	}
	return nil
}
