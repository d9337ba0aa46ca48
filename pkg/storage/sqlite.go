package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/tertulia/pkg/core"
)

// SQLiteStore persists line run records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite run storage at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore creates a SQLite-backed run storage and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureLineRunSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PersistLineRun stores a single turn execution record.
func (s *SQLiteStore) PersistLineRun(ctx context.Context, record LineRunRecord) error {
	if record.ID == "" {
		record.ID = NewRecordID()
	}
	output, err := encodeOutput(record.Output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO line_runs (
			id, run_id, line_index, turn, role_kind, role_name, status, output_json, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.RunID,
		record.LineIndex,
		record.Turn,
		record.RoleKind,
		record.RoleName,
		string(record.Status),
		string(output),
		record.Error,
		normalizeTime(record.StartedAt),
		normalizeTime(record.FinishedAt),
	)
	return err
}

// ListLineRuns returns records matching the filter, in line/turn order.
func (s *SQLiteStore) ListLineRuns(ctx context.Context, filter Filter) ([]LineRunRecord, error) {
	query := `
		SELECT id, run_id, line_index, turn, role_kind, role_name, status, output_json, error_text, started_at, finished_at
		FROM line_runs
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.RoleKind != "" {
		addFilter("role_kind = ?", filter.RoleKind)
	}
	if filter.Status != "" {
		addFilter("status = ?", string(filter.Status))
	}
	query += where + " ORDER BY line_index ASC, turn ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LineRunRecord
	for rows.Next() {
		var (
			record     LineRunRecord
			status     string
			outputJSON string
			started    sql.NullTime
			finished   sql.NullTime
		)
		if err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.LineIndex,
			&record.Turn,
			&record.RoleKind,
			&record.RoleName,
			&status,
			&outputJSON,
			&record.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		record.Status = core.RunStatus(status)
		if outputJSON != "" {
			if out, err := decodeOutput([]byte(outputJSON)); err == nil {
				record.Output = out
			}
		}
		if started.Valid {
			record.StartedAt = started.Time
		}
		if finished.Valid {
			record.FinishedAt = finished.Time
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func ensureLineRunSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS line_runs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			line_index INTEGER NOT NULL,
			turn INTEGER NOT NULL,
			role_kind TEXT NOT NULL,
			role_name TEXT,
			status TEXT NOT NULL,
			output_json TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_line_runs_run ON line_runs(run_id);
		CREATE INDEX IF NOT EXISTS idx_line_runs_role ON line_runs(role_kind);
		CREATE INDEX IF NOT EXISTS idx_line_runs_status ON line_runs(status);
	`)
	return err
}

func encodeOutput(output map[string]any) ([]byte, error) {
	if output == nil {
		return []byte(""), nil
	}
	return json.Marshal(output)
}

func decodeOutput(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
