// Package catalog provides a WAL-mode SQLite-backed index of recorded
// archive files: a scan populates one row per file with its path, track
// name, frame count, native rate, and scan time, so a caller can query
// "every Sebring archive" without re-opening and re-parsing every archive
// file on each query. Car and session date are not recorded.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/apexdata/pitwall/internal/archive"
	"github.com/apexdata/pitwall/internal/metatext"
)

// Catalog is a WAL-mode SQLite-backed index of recorded archive files. It
// is safe for concurrent use.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path, enables WAL
// journal mode, and applies the schema. Pass ":memory:" for a
// process-local, non-persistent catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}

	// A single archive scan writes while queries read concurrently;
	// limiting to one connection serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS archive_file (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    path          TEXT    NOT NULL UNIQUE,
    track_name    TEXT    NOT NULL,
    frame_count   INTEGER NOT NULL,
    native_hz     REAL    NOT NULL,
    scanned_at    TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_archive_file_track
    ON archive_file (track_name);
`

// Record is one catalog entry describing a scanned archive file.
type Record struct {
	ID         int64
	Path       string
	TrackName  string
	FrameCount int
	NativeHz   float64
	ScannedAt  time.Time
}

// ScanFile opens path as an archive, extracts its track name, frame
// count, and native rate, and upserts a Record for it. The archive
// source is closed before ScanFile returns.
func (c *Catalog) ScanFile(ctx context.Context, path string, parser *metatext.Parser) (Record, error) {
	src, err := archive.Open(path)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: open archive %q: %w", path, err)
	}
	defer src.Close()

	trackName := ""
	if blob, err := src.SessionBlob(ctx, -1); err == nil && blob != nil {
		if tree, err := parser.Parse(string(blob)); err == nil {
			trackName = tree.WeekendInfo.TrackName
		}
	}

	rec := Record{
		Path:      path,
		TrackName: trackName,
		NativeHz:  src.NativeHz(),
	}

	for {
		frame, err := src.NextFrame(ctx)
		if err != nil {
			return Record{}, fmt.Errorf("catalog: scan %q: %w", path, err)
		}
		if frame == nil {
			break
		}
		rec.FrameCount++
	}

	row := c.db.QueryRowContext(ctx,
		`INSERT INTO archive_file (path, track_name, frame_count, native_hz)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   track_name = excluded.track_name,
		   frame_count = excluded.frame_count,
		   native_hz = excluded.native_hz,
		   scanned_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 RETURNING id, scanned_at`,
		rec.Path, rec.TrackName, rec.FrameCount, rec.NativeHz,
	)

	var scannedAtStr string
	if err := row.Scan(&rec.ID, &scannedAtStr); err != nil {
		return Record{}, fmt.Errorf("catalog: upsert %q: %w", path, err)
	}
	rec.ScannedAt, _ = time.Parse("2006-01-02T15:04:05.000Z", scannedAtStr)

	return rec, nil
}

// ByTrack returns every catalog entry whose track_name exactly matches
// track, most recently scanned first.
func (c *Catalog) ByTrack(ctx context.Context, track string) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, path, track_name, frame_count, native_hz, scanned_at
		 FROM archive_file WHERE track_name = ? ORDER BY scanned_at DESC`, track)
	if err != nil {
		return nil, fmt.Errorf("catalog: query by track: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var scannedAtStr string
		if err := rows.Scan(&r.ID, &r.Path, &r.TrackName, &r.FrameCount, &r.NativeHz, &scannedAtStr); err != nil {
			return nil, fmt.Errorf("catalog: scan row: %w", err)
		}
		r.ScannedAt, _ = time.Parse("2006-01-02T15:04:05.000Z", scannedAtStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}
