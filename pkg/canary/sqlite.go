package canary

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const rolloutSchema = `
CREATE TABLE IF NOT EXISTS canary_rollouts (
	id         TEXT PRIMARY KEY,
	policy_id  TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	state      TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	document   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_canary_policy ON canary_rollouts(policy_id, version);
CREATE INDEX IF NOT EXISTS idx_canary_state ON canary_rollouts(state);
`

// SQLiteStorage is a durable rollout store.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) a rollout store at the
// given path.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		dbPath, (5 * time.Second).Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening canary database: %w", err)
	}
	if _, err := db.Exec(rolloutSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing canary schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Save implements Storage.
func (s *SQLiteStorage) Save(ctx context.Context, r *Rollout) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding rollout %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO canary_rollouts (id, policy_id, version, state, created_at, document)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			document = excluded.document`,
		r.ID, r.PolicyID, r.Version, string(r.State), r.CreatedAt.UnixNano(), string(doc))
	if err != nil {
		return fmt.Errorf("saving rollout %s: %w", r.ID, err)
	}
	return nil
}

// Get implements Storage.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*Rollout, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM canary_rollouts WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &RolloutNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading rollout %s: %w", id, err)
	}
	return decodeRollout(doc)
}

// Active implements Storage.
func (s *SQLiteStorage) Active(ctx context.Context, policyID string, version int) (*Rollout, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM canary_rollouts
		 WHERE policy_id = ? AND version = ? AND state NOT IN (?, ?)
		 LIMIT 1`,
		policyID, version, string(StatePromoted), string(StateRolledBack)).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading active rollout for %s@v%d: %w", policyID, version, err)
	}
	return decodeRollout(doc)
}

// ListActive implements Storage.
func (s *SQLiteStorage) ListActive(ctx context.Context) ([]*Rollout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM canary_rollouts
		 WHERE state NOT IN (?, ?)
		 ORDER BY created_at ASC, id ASC`,
		string(StatePromoted), string(StateRolledBack))
	if err != nil {
		return nil, fmt.Errorf("listing active rollouts: %w", err)
	}
	defer rows.Close()

	var out []*Rollout
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning rollout: %w", err)
		}
		r, err := decodeRollout(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing active rollouts: %w", err)
	}
	return out, nil
}

// Close implements Storage.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func decodeRollout(doc string) (*Rollout, error) {
	var r Rollout
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decoding stored rollout: %w", err)
	}
	return &r, nil
}
