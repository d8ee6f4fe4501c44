package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersionV1 = 1

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV1

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS outputs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	source_name TEXT NOT NULL,
	input_path  TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	files       TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS outputs_created_at ON outputs(created_at);
`

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != currentSchemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// SaveOutput inserts or replaces o. A zero CreatedAt is set to now.
func (s *SqlStore) SaveOutput(o *Output) error {
	if o.ID == "" {
		return errors.New("save output: empty id")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	files, err := json.Marshal(o.Files)
	if err != nil {
		return fmt.Errorf("save output: encode files: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO outputs(id, kind, source_name, input_path, output_dir, files, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Kind, o.SourceName, o.InputPath, o.OutputDir, string(files),
		o.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	return nil
}

const selectOutput = `SELECT id, kind, source_name, input_path, output_dir, files, created_at FROM outputs`

type scanner interface {
	Scan(dest ...any) error
}

func scanOutput(row scanner) (*Output, error) {
	var o Output
	var files, created string
	if err := row.Scan(&o.ID, &o.Kind, &o.SourceName, &o.InputPath, &o.OutputDir, &files, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &o.Files); err != nil {
		return nil, fmt.Errorf("decode files of %s: %w", o.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("decode created_at of %s: %w", o.ID, err)
	}
	o.CreatedAt = t
	return &o, nil
}

// GetOutput returns the output with id, or ErrNotFound.
func (s *SqlStore) GetOutput(id string) (*Output, error) {
	o, err := scanOutput(s.db.QueryRow(selectOutput+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get output %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get output %s: %w", id, err)
	}
	return o, nil
}

// ListOutputs returns every output, newest first.
func (s *SqlStore) ListOutputs() ([]*Output, error) {
	rows, err := s.db.Query(selectOutput + ` ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()
	var out []*Output
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("list outputs: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
