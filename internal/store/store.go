// Package store persists the Last.fm session and the import history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/etheramiel/Scrobbler/internal/scrobble"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	statusOK     = "ok"
	statusFailed = "failed"
)

// Store handles session and history persistence.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Session is a saved Last.fm login.
type Session struct {
	Username string
	Key      string
}

// Run summarizes one import.
type Run struct {
	ID         string
	LogPath    string
	StartedAt  time.Time
	FinishedAt time.Time
	Submitted  int
	Failed     int
	Duplicates int
	Adjusted   int
}

// Open opens (or creates) the database at dbPath. If dbPath is empty, the
// default location is used.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		var err error
		dbPath, err = DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve state db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One writer; progress callbacks and the importer share the handle.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DefaultPath returns the OS-specific database location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "rockscrob"
	if runtime.GOOS == "windows" {
		name = "Rockscrob"
	}
	return filepath.Join(dir, name, "state", "rockscrob.db"), nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			username TEXT NOT NULL,
			session_key TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS import_runs (
			id TEXT PRIMARY KEY,
			log_path TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0,
			submitted INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			duplicates INTEGER NOT NULL DEFAULT 0,
			adjusted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			album TEXT NOT NULL,
			original_ts INTEGER NOT NULL,
			log_ts INTEGER NOT NULL DEFAULT 0,
			submitted_ts INTEGER NOT NULL,
			adjusted INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate state schema: %w", err)
		}
	}

	// Databases from before log_ts keyed plays on the offset timestamp.
	hasLogTS, err := s.hasColumn(ctx, "submissions", "log_ts")
	if err != nil {
		return err
	}
	if !hasLogTS {
		for _, stmt := range []string{
			`ALTER TABLE submissions ADD COLUMN log_ts INTEGER NOT NULL DEFAULT 0;`,
			`UPDATE submissions SET log_ts = original_ts;`,
			`DROP INDEX IF EXISTS idx_submissions_play;`,
		} {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate submissions: %w", err)
			}
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_submissions_log
			ON submissions (artist, title, log_ts, status);`); err != nil {
		return fmt.Errorf("migrate state schema: %w", err)
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	return n > 0, nil
}

// SaveSession stores the login, replacing any previous one.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, username, session_key, saved_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username,
			session_key = excluded.session_key, saved_at = excluded.saved_at`,
		sess.Username, sess.Key, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the saved login, if any.
func (s *Store) LoadSession(ctx context.Context) (Session, bool, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `SELECT username, session_key FROM session WHERE id = 1`).
		Scan(&sess.Username, &sess.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	return sess, true, nil
}

// ClearSession removes the saved login.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// BeginRun records the start of an import and returns its id.
func (s *Store) BeginRun(ctx context.Context, logPath string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (id, log_path, started_at) VALUES (?, ?, ?)`,
		id, logPath, s.now().Unix())
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counts of an import.
func (s *Store) FinishRun(ctx context.Context, id string, r scrobble.Report) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET finished_at = ?, submitted = ?, failed = ?, duplicates = ?, adjusted = ?
		 WHERE id = ?`,
		s.now().Unix(), r.Submitted, r.Failed, r.Duplicates, r.Adjusted, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LastRuns returns the n most recent imports, newest first.
func (s *Store) LastRuns(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, log_path, started_at, finished_at, submitted, failed, duplicates, adjusted
		 FROM import_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.LogPath, &started, &finished,
			&r.Submitted, &r.Failed, &r.Duplicates, &r.Adjusted); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// History returns a scrobble.History that records into run runID.
func (s *Store) History(runID string) *History {
	return &History{store: s, runID: runID}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// History implements scrobble.History on top of the submissions table.
type History struct {
	store *Store
	runID string
}

// Submitted reports whether the same play was accepted in any earlier run.
// Plays are matched on the log timestamp, so changing the clock offset
// between runs does not submit them again.
func (h *History) Submitted(ctx context.Context, e scrobble.NormalizedEvent) (bool, error) {
	var n int
	err := h.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE artist = ? AND title = ? AND log_ts = ? AND status = ?`,
		e.Artist, e.Title, logTimestamp(e), statusOK).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup submission: %w", err)
	}
	return n > 0, nil
}

// Record stores the outcome of one submission.
func (h *History) Record(ctx context.Context, r scrobble.ItemResult) error {
	status, errText := statusOK, ""
	if r.Err != nil {
		status, errText = statusFailed, r.Err.Error()
	}
	adjusted := 0
	if r.Event.WasAdjusted {
		adjusted = 1
	}
	_, err := h.store.db.ExecContext(ctx,
		`INSERT INTO submissions (run_id, artist, title, album, original_ts, log_ts, submitted_ts, adjusted, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.runID, r.Event.Artist, r.Event.Title, r.Event.Album, r.Event.OriginalTimestamp,
		logTimestamp(r.Event), r.Event.SubmissionTimestamp, adjusted, status, errText, h.store.now().Unix())
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// logTimestamp falls back to the original timestamp for events that were not
// read from a log.
func logTimestamp(e scrobble.NormalizedEvent) int64 {
	if e.LogTimestamp != 0 {
		return e.LogTimestamp
	}
	return e.OriginalTimestamp
}
