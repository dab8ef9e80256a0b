package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/session"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session has no archived row.
var ErrNotFound = errors.New("session not archived")

// ArchivedSession is one persisted session row.
type ArchivedSession struct {
	ID         string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	EndedAt    time.Time `json:"ended_at"`
	SampleRate int       `json:"sample_rate"`
	ChunkCount uint64    `json:"chunk_count"`
	Transcript string    `json:"transcript"`
	Summary    string    `json:"summary,omitempty"`
}

// Store wraps a SQLite-backed session archive.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open initializes the archive at the given path. An empty path yields a
// disabled store whose writes are no-ops.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return &Store{log: log}, nil
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP NOT NULL,
    sample_rate INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL,
    transcript TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool {
	return s.db != nil
}

// SaveSession archives an ended session. Re-archiving the same ID replaces
// the row, which keeps the manager's retry on a failed save safe.
func (s *Store) SaveSession(ctx context.Context, record *session.Record) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at, ended_at, sample_rate, chunk_count, transcript)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		     ended_at=excluded.ended_at,
		     chunk_count=excluded.chunk_count,
		     transcript=excluded.transcript`,
		record.ID,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.EndedAt.UTC().Format(time.RFC3339Nano),
		record.SampleRate,
		record.ChunkCount,
		record.Transcript)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", record.ID, err)
	}
	s.log.Debug("session archived", "session_id", record.ID)
	return nil
}

// SaveSummary attaches a generated summary to an archived session.
func (s *Store) SaveSummary(ctx context.Context, sessionID, summary string) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ? WHERE session_id = ?`, summary, sessionID)
	if err != nil {
		return fmt.Errorf("save summary for %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession retrieves one archived session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*ArchivedSession, error) {
	if s.db == nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, ended_at, sample_rate, chunk_count, transcript, summary
		 FROM sessions WHERE session_id = ?`, sessionID)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListSessions returns archived sessions, most recently ended first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*ArchivedSession, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, created_at, ended_at, sample_rate, chunk_count, transcript, summary
		 FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*ArchivedSession
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*ArchivedSession, error) {
	var rec ArchivedSession
	var created, ended string
	if err := row.Scan(&rec.ID, &created, &ended, &rec.SampleRate, &rec.ChunkCount, &rec.Transcript, &rec.Summary); err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, ended); err == nil {
		rec.EndedAt = ts
	}
	return &rec, nil
}
