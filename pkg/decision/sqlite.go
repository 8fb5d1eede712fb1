package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the SQLite decision store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// BusyTimeout is how long to wait on database locks.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/decisions.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		BusyTimeout:  5 * time.Second,
	}
}

const decisionSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	disposition  TEXT NOT NULL,
	evaluated_at INTEGER NOT NULL,
	recorded_at  INTEGER NOT NULL,
	document     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_policies (
	decision_id TEXT NOT NULL,
	policy_id   TEXT NOT NULL,
	version     INTEGER NOT NULL,
	PRIMARY KEY (decision_id, policy_id),
	FOREIGN KEY (decision_id) REFERENCES decisions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_decisions_evaluated_at ON decisions(evaluated_at);
CREATE INDEX IF NOT EXISTS idx_decisions_source ON decisions(source);
CREATE INDEX IF NOT EXISTS idx_decision_policies_policy ON decision_policies(policy_id);
`

// SQLiteStorage is a durable decision store.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) a decision store.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)",
		config.Path, config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Backend: "sqlite", Operation: "open", Err: err}
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	if _, err := db.Exec(decisionSchema); err != nil {
		db.Close()
		return nil, &StorageError{Backend: "sqlite", Operation: "init schema", Err: err}
	}

	return &SQLiteStorage{
		db:     db,
		logger: slog.Default().With("component", "decision.storage.sqlite"),
	}, nil
}

// Store implements Storage. Duplicate IDs are ignored.
func (s *SQLiteStorage) Store(ctx context.Context, record *Record) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return &StorageError{Backend: "sqlite", Operation: "encode", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Backend: "sqlite", Operation: "begin", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO decisions (id, source, disposition, evaluated_at, recorded_at, document)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Source, string(record.Result.Batch),
		record.Context.EvaluatedAt.UnixNano(), record.RecordedAt.UnixNano(), string(doc))
	if err != nil {
		return &StorageError{Backend: "sqlite", Operation: "insert", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already recorded; content-derived IDs make this a no-op.
		return nil
	}

	for _, ref := range record.Result.PolicyVersions {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO decision_policies (decision_id, policy_id, version) VALUES (?, ?, ?)`,
			record.ID, ref.PolicyID, ref.Version)
		if err != nil {
			return &StorageError{Backend: "sqlite", Operation: "insert policy ref", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Backend: "sqlite", Operation: "commit", Err: err}
	}
	return nil
}

// Get implements Storage.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM decisions WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, &StorageError{Backend: "sqlite", Operation: "get", Err: err}
	}
	return decodeRecord(doc)
}

// Query implements Storage.
func (s *SQLiteStorage) Query(ctx context.Context, q *Query) ([]*Record, error) {
	where, args := buildFilters(q)
	sqlQuery := `SELECT d.document FROM decisions d` + where + ` ORDER BY d.evaluated_at DESC, d.id ASC`
	if q != nil && q.Limit > 0 {
		sqlQuery += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	} else if q != nil && q.Offset > 0 {
		sqlQuery += fmt.Sprintf(` LIMIT -1 OFFSET %d`, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &StorageError{Backend: "sqlite", Operation: "query", Err: err}
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, &StorageError{Backend: "sqlite", Operation: "scan", Err: err}
		}
		record, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: "sqlite", Operation: "query", Err: err}
	}
	return out, nil
}

// Count implements Storage.
func (s *SQLiteStorage) Count(ctx context.Context, q *Query) (int64, error) {
	where, args := buildFilters(q)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions d`+where, args...).Scan(&n)
	if err != nil {
		return 0, &StorageError{Backend: "sqlite", Operation: "count", Err: err}
	}
	return n, nil
}

// Prune implements Storage.
func (s *SQLiteStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM decisions WHERE evaluated_at < ?`, before.UnixNano())
	if err != nil {
		return 0, &StorageError{Backend: "sqlite", Operation: "prune", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Backend: "sqlite", Operation: "prune", Err: err}
	}
	if n > 0 {
		s.logger.Info("pruned decision records", "count", n, "before", before)
	}
	return n, nil
}

// Close implements Storage.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func buildFilters(q *Query) (string, []any) {
	if q == nil {
		return "", nil
	}
	var clauses []string
	var args []any

	if q.StartTime != nil {
		clauses = append(clauses, "d.evaluated_at >= ?")
		args = append(args, q.StartTime.UnixNano())
	}
	if q.EndTime != nil {
		clauses = append(clauses, "d.evaluated_at <= ?")
		args = append(args, q.EndTime.UnixNano())
	}
	if q.Source != "" {
		clauses = append(clauses, "d.source = ?")
		args = append(args, q.Source)
	}
	if q.Disposition != "" {
		clauses = append(clauses, "d.disposition = ?")
		args = append(args, string(q.Disposition))
	}
	if q.PolicyID != "" {
		clauses = append(clauses,
			"EXISTS (SELECT 1 FROM decision_policies p WHERE p.decision_id = d.id AND p.policy_id = ?)")
		args = append(args, q.PolicyID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func decodeRecord(doc string) (*Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(doc), &record); err != nil {
		return nil, &StorageError{Backend: "sqlite", Operation: "decode", Err: err}
	}
	return &record, nil
}
