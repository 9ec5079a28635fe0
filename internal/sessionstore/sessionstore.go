// Package sessionstore provides a PostgreSQL-backed durable archive of
// parsed session metadata trees, keyed by track and recorded date, for
// historical querying across many recorded sessions.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apexdata/pitwall/internal/metatext"
)

// Store is the PostgreSQL-backed session metadata archive.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgxpool connection to connStr, pings the database, and
// applies the schema.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionstore: pool.Ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionstore: apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS session_record (
    id           BIGSERIAL PRIMARY KEY,
    track_name   TEXT NOT NULL,
    recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    tree         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_record_track
    ON session_record (track_name, recorded_at DESC);
`

// Record is one stored session, with its decoded tree alongside the
// indexing columns used to search for it.
type Record struct {
	ID         int64
	TrackName  string
	RecordedAt time.Time
	Tree       *metatext.SessionTree
}

// Save persists tree as a new Record, indexed by its own track name and
// the given recordedAt.
func (s *Store) Save(ctx context.Context, tree *metatext.SessionTree, recordedAt time.Time) (int64, error) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: marshal tree: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO session_record (track_name, recorded_at, tree)
		VALUES ($1, $2, $3)
		RETURNING id`,
		tree.WeekendInfo.TrackName, recordedAt, raw,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: insert: %w", err)
	}
	return id, nil
}

// ByTrack returns every stored session for track, most recent first.
func (s *Store) ByTrack(ctx context.Context, track string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, track_name, recorded_at, tree
		FROM session_record
		WHERE track_name = $1
		ORDER BY recorded_at DESC`, track)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: query by track: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the n most recently stored sessions across all tracks.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, track_name, recorded_at, tree
		FROM session_record
		ORDER BY recorded_at DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: query recent: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.TrackName, &rec.RecordedAt, &raw); err != nil {
			return nil, fmt.Errorf("sessionstore: scan row: %w", err)
		}
		var tree metatext.SessionTree
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("sessionstore: unmarshal tree: %w", err)
		}
		rec.Tree = &tree
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
