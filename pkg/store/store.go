// Package store keeps the history of analysis results in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pdfmri/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id                TEXT PRIMARY KEY,
	scan_path         TEXT NOT NULL,
	label             TEXT NOT NULL,
	confidence        REAL NOT NULL,
	snapshot_path     TEXT,
	simulated         INTEGER NOT NULL DEFAULT 0,
	placeholder_model INTEGER NOT NULL DEFAULT 0,
	feature_count     INTEGER NOT NULL DEFAULT 0,
	errors_json       TEXT,
	duration_ms       INTEGER NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS analyses_scan_path ON analyses(scan_path);
CREATE INDEX IF NOT EXISTS analyses_created_at ON analyses(created_at);
`

// Store records analysis results.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at path and creates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r. Results without an ID get a new one.
func (s *Store) Record(ctx context.Context, r models.Result) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	var errs any
	if len(r.Errors) > 0 {
		b, err := json.Marshal(r.Errors)
		if err != nil {
			return fmt.Errorf("marshal errors: %w", err)
		}
		errs = string(b)
	}
	var snap any
	if r.SnapshotPath != "" {
		snap = r.SnapshotPath
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, scan_path, label, confidence, snapshot_path, simulated,
			placeholder_model, feature_count, errors_json, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ScanPath, string(r.Label), r.Confidence, snap, r.Simulated,
		r.PlaceholderModel, r.FeatureCount, errs, r.Duration.Milliseconds(),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// List returns the most recent results first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]models.Result, error) {
	q := `SELECT id, scan_path, label, confidence, snapshot_path, simulated, placeholder_model,
		feature_count, errors_json, duration_ms, created_at
		FROM analyses ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []models.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasScan reports whether scanPath has been analysed before. Runs that
// could not load the scan do not count.
func (s *Store) HasScan(ctx context.Context, scanPath string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE scan_path = ? AND label <> ?`,
		scanPath, string(models.AnalysisFailed)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query scan: %w", err)
	}
	return n > 0, nil
}

// Stats summarises the history.
type Stats struct {
	Total   int
	ByLabel map[models.Label]int

	// Simulated counts results built on fallback features or a placeholder model.
	Simulated int
}

// Stats counts the recorded results per label.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByLabel: make(map[models.Label]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM analyses GROUP BY label`)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.ByLabel[models.Label(label)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE simulated = 1 OR placeholder_model = 1`).Scan(&st.Simulated)
	if err != nil {
		return Stats{}, fmt.Errorf("query simulated: %w", err)
	}
	return st, nil
}

func scanResult(rows *sql.Rows) (models.Result, error) {
	var (
		r          models.Result
		label      string
		snap, errs sql.NullString
		durationMS int64
		createdAt  string
	)
	err := rows.Scan(&r.ID, &r.ScanPath, &label, &r.Confidence, &snap, &r.Simulated,
		&r.PlaceholderModel, &r.FeatureCount, &errs, &durationMS, &createdAt)
	if err != nil {
		return models.Result{}, fmt.Errorf("scan analysis: %w", err)
	}

	r.Label = models.Label(label)
	r.SnapshotPath = snap.String
	r.Duration = time.Duration(durationMS) * time.Millisecond
	if errs.Valid {
		if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
			return models.Result{}, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return models.Result{}, fmt.Errorf("parse created_at: %w", err)
	}
	return r, nil
}
