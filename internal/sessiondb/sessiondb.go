// Package sessiondb records periodic pipeline statistics samples in SQLite
// so external monitors can inspect a session after the fact. Frame payloads
// are never persisted; only counters and liveness.
package sessiondb

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the session statistics database.
type DB struct {
	*sql.DB
	path string
}

// Open opens (or creates) the session database at path. Run Migrate before
// recording samples.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Sample is one periodic statistics row. Counter fields are cumulative
// totals at RecordedAt; the monitor derives rates by differencing.
type Sample struct {
	RecordedAt    time.Time
	Tier          string
	Sequence      uint64
	Combined      uint64
	Delivered     uint64
	Dropped       uint64
	Skipped       uint64
	FramingErrors uint64
	Resyncs       uint64
	ActiveLinks   int
}

// RecordSample appends one statistics row.
func (db *DB) RecordSample(s Sample) error {
	_, err := db.Exec(`
		INSERT INTO pipeline_samples (
			recorded_at, tier, sequence, combined, delivered,
			dropped, skipped, framing_errors, resyncs, active_links
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RecordedAt.UTC().Format(time.RFC3339Nano), s.Tier,
		s.Sequence, s.Combined, s.Delivered,
		s.Dropped, s.Skipped, s.FramingErrors, s.Resyncs, s.ActiveLinks,
	)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit rows, newest first.
func (db *DB) RecentSamples(limit int) ([]Sample, error) {
	rows, err := db.Query(`
		SELECT recorded_at, tier, sequence, combined, delivered,
		       dropped, skipped, framing_errors, resyncs, active_links
		FROM pipeline_samples ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var ts string
		if err := rows.Scan(&ts, &s.Tier, &s.Sequence, &s.Combined, &s.Delivered,
			&s.Dropped, &s.Skipped, &s.FramingErrors, &s.Resyncs, &s.ActiveLinks); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			s.RecordedAt = t
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
