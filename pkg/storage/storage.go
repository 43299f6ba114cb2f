// Package storage keeps a local catalog of completed report fetches, so
// `wmsnap history` can show what was downloaded when. Jobs themselves are
// never persisted; only finished downloads land here.
package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

// Fetch is one completed download.
type Fetch struct {
	ID           int64
	ReportType   string
	StartDate    string
	EndDate      string
	AdvertiserID string
	OutputPath   string
	Rows         int
	FetchedAt    time.Time
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS fetches (
  id            INTEGER PRIMARY KEY,
  report_type   TEXT NOT NULL,
  start_date    TEXT NOT NULL,
  end_date      TEXT NOT NULL,
  advertiser_id TEXT NOT NULL,
  output_path   TEXT NOT NULL,
  row_count     INTEGER NOT NULL DEFAULT 0,
  fetched_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_fetches_time ON fetches(fetched_at);
	`); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// RecordFetch inserts one completed download.
func (d *DB) RecordFetch(ctx context.Context, f Fetch) error {
	when := f.FetchedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO fetches(report_type, start_date, end_date, advertiser_id, output_path, row_count, fetched_at) VALUES(?,?,?,?,?,?,?)`,
		f.ReportType, f.StartDate, f.EndDate, f.AdvertiserID, f.OutputPath, f.Rows, when.Format(time.RFC3339))
	return err
}

// ListFetches returns all recorded fetches, most recent first.
func (d *DB) ListFetches(ctx context.Context) ([]Fetch, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, report_type, start_date, end_date, advertiser_id, output_path, row_count, fetched_at FROM fetches ORDER BY fetched_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fetch
	for rows.Next() {
		var f Fetch
		var fetchedAt string
		if err := rows.Scan(&f.ID, &f.ReportType, &f.StartDate, &f.EndDate, &f.AdvertiserID, &f.OutputPath, &f.Rows, &fetchedAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, fetchedAt); err == nil {
			f.FetchedAt = t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
