package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"vantage-hq/warden/pkg/rcp"
)

// SQLiteStore is a durable policy store backed by SQLite. It uses a
// write-ahead log for concurrent readers and keeps the activation CAS
// inside a single immediate transaction.
type SQLiteStore struct {
	db *sql.DB

	getVersionStmt   *sql.Stmt
	listVersionsStmt *sql.Stmt
	activeStmt       *sql.Stmt
	effectiveStmt    *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (creating if needed) a policy store at the given
// path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig opens a policy store with custom settings.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// _txlock=immediate makes transactions take the write lock at
	// BEGIN, so a concurrent activation waits on the busy timeout and
	// then loses the CAS cleanly instead of failing mid-transaction
	// with a snapshot error.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening policy database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policy_versions (
		policy_id    TEXT    NOT NULL,
		version      INTEGER NOT NULL,
		checksum     TEXT    NOT NULL,
		document     TEXT    NOT NULL,
		published_by TEXT    NOT NULL,
		published_at INTEGER NOT NULL,
		PRIMARY KEY (policy_id, version)
	);
	CREATE TABLE IF NOT EXISTS policy_active (
		policy_id  TEXT    PRIMARY KEY,
		version    INTEGER NOT NULL,
		disabled   INTEGER NOT NULL DEFAULT 0,
		reason     TEXT    NOT NULL DEFAULT '',
		changed_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS policy_activation_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		policy_id  TEXT    NOT NULL,
		version    INTEGER NOT NULL,
		disabled   INTEGER NOT NULL DEFAULT 0,
		reason     TEXT    NOT NULL DEFAULT '',
		changed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activation_log_policy_time
		ON policy_activation_log(policy_id, changed_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing policy schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getVersionStmt, err = s.db.Prepare(`
		SELECT document, checksum FROM policy_versions
		WHERE policy_id = ? AND version = ?`)
	if err != nil {
		return fmt.Errorf("preparing get statement: %w", err)
	}

	s.listVersionsStmt, err = s.db.Prepare(`
		SELECT version, document, checksum FROM policy_versions
		WHERE policy_id = ? ORDER BY version ASC`)
	if err != nil {
		return fmt.Errorf("preparing list statement: %w", err)
	}

	s.activeStmt, err = s.db.Prepare(`
		SELECT version FROM policy_active WHERE policy_id = ?`)
	if err != nil {
		return fmt.Errorf("preparing active statement: %w", err)
	}

	s.effectiveStmt, err = s.db.Prepare(`
		SELECT v.version, v.document, v.checksum
		FROM policy_active a
		JOIN policy_versions v ON v.policy_id = a.policy_id AND v.version = a.version
		WHERE a.disabled = 0
		ORDER BY a.policy_id ASC`)
	if err != nil {
		return fmt.Errorf("preparing effective statement: %w", err)
	}

	return nil
}

// Publish implements Store.
func (s *SQLiteStore) Publish(ctx context.Context, p *rcp.Policy, principal string, held rcp.Authority) (*rcp.PolicyVersion, error) {
	if err := checkPublish(p, principal, held); err != nil {
		return nil, err
	}

	frozen, err := clonePolicy(p)
	if err != nil {
		return nil, err
	}

	// Timestamps are the store's to assign: zeroed before hashing so
	// the checksum covers content only and republishing an unchanged
	// draft hashes the same.
	frozen.CreatedAt = time.Time{}
	frozen.UpdatedAt = time.Time{}
	checksum, err := Checksum(frozen)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning publish transaction: %w", err)
	}
	defer tx.Rollback()

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM policy_versions WHERE policy_id = ?`,
		p.ID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("reading latest version of %q: %w", p.ID, err)
	}

	// CreatedAt is the equal-priority ordering tie-break and belongs to
	// the policy, not the version: later versions inherit it from the
	// first one's document.
	now := time.Now().UTC()
	if latest > 0 {
		first, err := s.versionInTx(ctx, tx, p.ID, 1)
		if err != nil {
			return nil, err
		}
		frozen.CreatedAt = first.Policy.CreatedAt
		frozen.UpdatedAt = now
	} else {
		frozen.CreatedAt = now
	}
	doc, err := json.Marshal(frozen)
	if err != nil {
		return nil, fmt.Errorf("encoding policy %q: %w", p.ID, err)
	}

	version := latest + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO policy_versions (policy_id, version, checksum, document, published_by, published_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, version, checksum, string(doc), principal, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("inserting version %d of %q: %w", version, p.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing publish of %q: %w", p.ID, err)
	}

	return &rcp.PolicyVersion{Policy: frozen, Version: version, Checksum: checksum}, nil
}

// Activate implements Store.
func (s *SQLiteStore) Activate(ctx context.Context, policyID string, version, expected int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning activation transaction: %w", err)
	}
	defer tx.Rollback()

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM policy_versions WHERE policy_id = ?`,
		policyID).Scan(&latest)
	if err != nil {
		return fmt.Errorf("reading versions of %q: %w", policyID, err)
	}
	if latest == 0 {
		return &PolicyNotFoundError{PolicyID: policyID}
	}
	if version < 1 || version > latest {
		return &VersionNotFoundError{PolicyID: policyID, Version: version}
	}

	current := 0
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM policy_active WHERE policy_id = ?`, policyID).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading active version of %q: %w", policyID, err)
	}
	if current != expected {
		return &ActivationConflictError{PolicyID: policyID, Expected: expected, Actual: current}
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO policy_active (policy_id, version, disabled, reason, changed_at)
		 VALUES (?, ?, 0, '', ?)
		 ON CONFLICT(policy_id) DO UPDATE SET
			version = excluded.version,
			disabled = 0,
			reason = '',
			changed_at = excluded.changed_at`,
		policyID, version, now.Unix())
	if err != nil {
		return fmt.Errorf("activating version %d of %q: %w", version, policyID, err)
	}

	// The log keeps nanosecond timestamps so at-time queries resolve
	// changes landing within the same second.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO policy_activation_log (policy_id, version, disabled, reason, changed_at)
		 VALUES (?, ?, 0, '', ?)`,
		policyID, version, now.UnixNano())
	if err != nil {
		return fmt.Errorf("logging activation of %q: %w", policyID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing activation of %q: %w", policyID, err)
	}
	return nil
}

// ActiveVersion implements Store.
func (s *SQLiteStore) ActiveVersion(ctx context.Context, policyID string) (int, error) {
	var version int
	err := s.activeStmt.QueryRowContext(ctx, policyID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading active version of %q: %w", policyID, err)
	}
	return version, nil
}

// ListEffective implements Store.
func (s *SQLiteStore) ListEffective(ctx context.Context) ([]*rcp.PolicyVersion, error) {
	rows, err := s.effectiveStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing effective policies: %w", err)
	}
	defer rows.Close()

	var out []*rcp.PolicyVersion
	for rows.Next() {
		pv, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		if !pv.Policy.Enabled {
			continue
		}
		out = append(out, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing effective policies: %w", err)
	}
	return out, nil
}

// ListEffectiveAt implements Store. It resolves each policy's last
// activation-log entry at or before the given instant.
func (s *SQLiteStore) ListEffectiveAt(ctx context.Context, at time.Time) ([]*rcp.PolicyVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.version, v.document, v.checksum
		FROM policy_activation_log l
		JOIN (
			SELECT policy_id, MAX(id) AS id
			FROM policy_activation_log
			WHERE changed_at <= ?
			GROUP BY policy_id
		) latest ON latest.id = l.id
		JOIN policy_versions v ON v.policy_id = l.policy_id AND v.version = l.version
		WHERE l.disabled = 0
		ORDER BY l.policy_id ASC`,
		at.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("listing policies effective at %s: %w", at, err)
	}
	defer rows.Close()

	var out []*rcp.PolicyVersion
	for rows.Next() {
		pv, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		if !pv.Policy.Enabled {
			continue
		}
		out = append(out, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing policies effective at %s: %w", at, err)
	}
	return out, nil
}

// GetVersion implements Store.
func (s *SQLiteStore) GetVersion(ctx context.Context, policyID string, version int) (*rcp.PolicyVersion, error) {
	var doc, checksum string
	err := s.getVersionStmt.QueryRowContext(ctx, policyID, version).Scan(&doc, &checksum)
	if err == sql.ErrNoRows {
		return nil, &VersionNotFoundError{PolicyID: policyID, Version: version}
	}
	if err != nil {
		return nil, fmt.Errorf("reading version %d of %q: %w", version, policyID, err)
	}
	return decodeVersion(policyID, version, doc, checksum)
}

// ListVersions implements Store.
func (s *SQLiteStore) ListVersions(ctx context.Context, policyID string) ([]*rcp.PolicyVersion, error) {
	rows, err := s.listVersionsStmt.QueryContext(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("listing versions of %q: %w", policyID, err)
	}
	defer rows.Close()

	var out []*rcp.PolicyVersion
	for rows.Next() {
		pv, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing versions of %q: %w", policyID, err)
	}
	if len(out) == 0 {
		return nil, &PolicyNotFoundError{PolicyID: policyID}
	}
	return out, nil
}

// ForceDisable implements Store.
func (s *SQLiteStore) ForceDisable(ctx context.Context, policyID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("disabling policy %q: %w", policyID, err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM policy_active WHERE policy_id = ?`, policyID).Scan(&version)
	if err == sql.ErrNoRows {
		return &PolicyNotFoundError{PolicyID: policyID}
	}
	if err != nil {
		return fmt.Errorf("disabling policy %q: %w", policyID, err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE policy_active SET disabled = 1, reason = ?, changed_at = ? WHERE policy_id = ?`,
		reason, now.Unix(), policyID)
	if err != nil {
		return fmt.Errorf("disabling policy %q: %w", policyID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO policy_activation_log (policy_id, version, disabled, reason, changed_at)
		 VALUES (?, ?, 1, ?, ?)`,
		policyID, version, reason, now.UnixNano())
	if err != nil {
		return fmt.Errorf("logging disable of %q: %w", policyID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("disabling policy %q: %w", policyID, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.getVersionStmt, s.listVersionsStmt, s.activeStmt, s.effectiveStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// versionInTx reads one published version inside an open transaction.
func (s *SQLiteStore) versionInTx(ctx context.Context, tx *sql.Tx, policyID string, version int) (*rcp.PolicyVersion, error) {
	var doc, checksum string
	err := tx.QueryRowContext(ctx,
		`SELECT document, checksum FROM policy_versions WHERE policy_id = ? AND version = ?`,
		policyID, version).Scan(&doc, &checksum)
	if err == sql.ErrNoRows {
		return nil, &VersionNotFoundError{PolicyID: policyID, Version: version}
	}
	if err != nil {
		return nil, fmt.Errorf("reading version %d of %q: %w", version, policyID, err)
	}
	return decodeVersion(policyID, version, doc, checksum)
}

func scanVersion(rows *sql.Rows) (*rcp.PolicyVersion, error) {
	var version int
	var doc, checksum string
	if err := rows.Scan(&version, &doc, &checksum); err != nil {
		return nil, fmt.Errorf("scanning policy version: %w", err)
	}
	return decodeVersion("", version, doc, checksum)
}

func decodeVersion(policyID string, version int, doc, checksum string) (*rcp.PolicyVersion, error) {
	var p rcp.Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decoding stored policy %q version %d: %w", policyID, version, err)
	}
	return &rcp.PolicyVersion{Policy: &p, Version: version, Checksum: checksum}, nil
}
