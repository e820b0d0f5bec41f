package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CurrentSchemaVersion is the schema version written by [OpenSQLite].
const CurrentSchemaVersion = 2

// SQLiteStore appends every recorded result to a SQLite database.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and migrates it to
// [CurrentSchemaVersion].
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for version := current + 1; version <= CurrentSchemaVersion; version++ {
		if err := s.runMigration(version); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) runMigration(version int) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stmt string
	switch version {
	case 1:
		stmt = `
		CREATE TABLE results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			response_time_ms INTEGER NOT NULL,
			completed_at TIMESTAMP NOT NULL
		);
		CREATE INDEX idx_results_name ON results(name, completed_at);
		`
	case 2:
		stmt = `
		ALTER TABLE results ADD COLUMN labels JSON;
		ALTER TABLE results ADD COLUMN name_lookup_ms INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE results ADD COLUMN connect_ms INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE results ADD COLUMN first_byte_ms INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE results ADD COLUMN downloaded_bytes INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE results ADD COLUMN uploaded_bytes INTEGER NOT NULL DEFAULT 0;
		`
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	if _, err := tx.Exec(stmt); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// Record implements [Recorder].
func (s *SQLiteStore) Record(r Result) error {
	var labels []byte
	if len(r.Labels) > 0 {
		var err error
		if labels, err = json.Marshal(r.Labels); err != nil {
			return fmt.Errorf("encode labels: %w", err)
		}
	}

	_, err := s.conn.Exec(`
		INSERT INTO results (
			name, method, url, status_code, status, error, response_time_ms, completed_at,
			labels, name_lookup_ms, connect_ms, first_byte_ms, downloaded_bytes, uploaded_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Name, r.Method, r.URL, r.StatusCode, r.Status, r.Error, r.ResponseTimeMs, r.CompletedAt.UTC(),
		nullableJSON(labels), r.NameLookupMs, r.ConnectMs, r.FirstByteMs, r.DownloadedBytes, r.UploadedBytes,
	)
	if err != nil {
		return fmt.Errorf("insert result %q: %w", r.Name, err)
	}
	return nil
}

// History returns up to limit results for name, newest first. An empty name
// matches every job; limit <= 0 means no limit.
func (s *SQLiteStore) History(ctx context.Context, name string, limit int) ([]Result, error) {
	query := `
		SELECT name, method, url, status_code, status, error, response_time_ms, completed_at,
			labels, name_lookup_ms, connect_ms, first_byte_ms, downloaded_bytes, uploaded_bytes
		FROM results
		WHERE (? = '' OR name = ?)
		ORDER BY completed_at DESC, id DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.conn.QueryContext(ctx, query, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var (
			r           Result
			labels      sql.NullString
			completedAt time.Time
		)
		err := rows.Scan(&r.Name, &r.Method, &r.URL, &r.StatusCode, &r.Status, &r.Error, &r.ResponseTimeMs, &completedAt,
			&labels, &r.NameLookupMs, &r.ConnectMs, &r.FirstByteMs, &r.DownloadedBytes, &r.UploadedBytes)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.CompletedAt = completedAt
		if labels.Valid && labels.String != "" {
			if err := json.Unmarshal([]byte(labels.String), &r.Labels); err != nil {
				return nil, fmt.Errorf("decode labels for %q: %w", r.Name, err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
