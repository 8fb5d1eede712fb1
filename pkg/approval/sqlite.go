package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const approvalSchema = `
CREATE TABLE IF NOT EXISTS approval_requests (
	id         TEXT PRIMARY KEY,
	state      TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	deadline   INTEGER NOT NULL,
	document   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approval_state ON approval_requests(state);
`

// SQLiteStorage is a durable approval store.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) an approval store at the
// given path.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		dbPath, (5 * time.Second).Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening approval database: %w", err)
	}
	if _, err := db.Exec(approvalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing approval schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Save implements Storage.
func (s *SQLiteStorage) Save(ctx context.Context, r *Request) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding request %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, state, created_at, deadline, document)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			deadline = excluded.deadline,
			document = excluded.document`,
		r.ID, string(r.State), r.CreatedAt.UnixNano(), r.Deadline.UnixNano(), string(doc))
	if err != nil {
		return fmt.Errorf("saving request %s: %w", r.ID, err)
	}
	return nil
}

// Get implements Storage.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*Request, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM approval_requests WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &RequestNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading request %s: %w", id, err)
	}
	return decodeRequest(doc)
}

// ListPending implements Storage.
func (s *SQLiteStorage) ListPending(ctx context.Context) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM approval_requests WHERE state = ? ORDER BY created_at ASC, id ASC`,
		string(StatePending))
	if err != nil {
		return nil, fmt.Errorf("listing pending requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		r, err := decodeRequest(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending requests: %w", err)
	}
	return out, nil
}

// Close implements Storage.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func decodeRequest(doc string) (*Request, error) {
	var r Request
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decoding stored request: %w", err)
	}
	return &r, nil
}
