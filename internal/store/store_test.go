package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/etheramiel/Scrobbler/internal/scrobble"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "rockscrob.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDir(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "state.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected db file: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if _, ok, err := s.LoadSession(ctx); err != nil || ok {
		t.Fatalf("expected no session, got ok=%v err=%v", ok, err)
	}

	if err := s.SaveSession(ctx, Session{Username: "rj", Key: "k1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveSession(ctx, Session{Username: "rj", Key: "k2"}); err != nil {
		t.Fatalf("SaveSession overwrite: %v", err)
	}

	sess, ok, err := s.LoadSession(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadSession: ok=%v err=%v", ok, err)
	}
	if sess.Username != "rj" || sess.Key != "k2" {
		t.Errorf("unexpected session %+v", sess)
	}

	if err := s.ClearSession(ctx); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, ok, _ := s.LoadSession(ctx); ok {
		t.Error("session still present after clear")
	}
}

func TestHistory(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	runID, err := s.BeginRun(ctx, "/media/.scrobbler.log")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	h := s.History(runID)

	ok := scrobble.NormalizedEvent{
		PlayEvent:           scrobble.PlayEvent{Artist: "Radiohead", Title: "Karma Police", Timestamp: 1000},
		OriginalTimestamp:   1000,
		SubmissionTimestamp: 5000,
		WasAdjusted:         true,
	}
	failed := scrobble.NormalizedEvent{
		PlayEvent:           scrobble.PlayEvent{Artist: "Portishead", Title: "Roads", Timestamp: 2000},
		OriginalTimestamp:   2000,
		SubmissionTimestamp: 2000,
	}

	if err := h.Record(ctx, scrobble.ItemResult{Event: ok}); err != nil {
		t.Fatalf("Record ok: %v", err)
	}
	if err := h.Record(ctx, scrobble.ItemResult{Event: failed, Err: errors.New("boom")}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// A later run sees the accepted play but not the failed one.
	other := s.History("other-run")
	if seen, err := other.Submitted(ctx, ok); err != nil || !seen {
		t.Errorf("expected accepted play to be seen, got %v, %v", seen, err)
	}
	if seen, err := other.Submitted(ctx, failed); err != nil || seen {
		t.Errorf("failed play must not count as submitted, got %v, %v", seen, err)
	}

	moved := ok
	moved.OriginalTimestamp = 1001
	if seen, _ := other.Submitted(ctx, moved); seen {
		t.Error("different original timestamp must not match")
	}
}

func TestHistoryIgnoresClockOffset(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	play := func(offsetHours int64) scrobble.NormalizedEvent {
		ts := 1_000_000_000 + offsetHours*3600
		return scrobble.NormalizedEvent{
			PlayEvent: scrobble.PlayEvent{
				Artist: "Radiohead", Title: "Karma Police",
				Timestamp: ts, LogTimestamp: 1_000_000_000,
			},
			OriginalTimestamp:   ts,
			SubmissionTimestamp: 1_704_000_000,
			WasAdjusted:         true,
		}
	}

	if err := s.History("first").Record(ctx, scrobble.ItemResult{Event: play(0)}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if seen, err := s.History("second").Submitted(ctx, play(-2)); err != nil || !seen {
		t.Errorf("same log line with another offset should be seen, got %v, %v", seen, err)
	}
}

func TestOpenMigratesOldSubmissions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			album TEXT NOT NULL,
			original_ts INTEGER NOT NULL,
			submitted_ts INTEGER NOT NULL,
			adjusted INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX idx_submissions_play ON submissions (artist, title, original_ts, status);`,
		`INSERT INTO submissions (run_id, artist, title, album, original_ts, submitted_ts, adjusted, status, created_at)
			VALUES ('old', 'Portishead', 'Roads', '', 2000, 2000, 0, 'ok', 1);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed old schema: %v", err)
		}
	}
	db.Close()

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	e := scrobble.NormalizedEvent{
		PlayEvent:         scrobble.PlayEvent{Artist: "Portishead", Title: "Roads", Timestamp: 2000, LogTimestamp: 2000},
		OriginalTimestamp: 2000,
	}
	if seen, err := s.History("new").Submitted(context.Background(), e); err != nil || !seen {
		t.Errorf("expected migrated row to be seen, got %v, %v", seen, err)
	}
}

func TestRuns(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := s.BeginRun(ctx, "a.log")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.FinishRun(ctx, first, scrobble.Report{Submitted: 3, Failed: 1, Adjusted: 2}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	second, err := s.BeginRun(ctx, "b.log")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if first == second {
		t.Fatal("run ids must be unique")
	}

	runs, err := s.LastRuns(ctx, 10)
	if err != nil {
		t.Fatalf("LastRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second || runs[1].ID != first {
		t.Errorf("expected newest first, got %s, %s", runs[0].ID, runs[1].ID)
	}
	if !runs[0].FinishedAt.IsZero() {
		t.Error("unfinished run should have zero FinishedAt")
	}
	r := runs[1]
	if r.LogPath != "a.log" || r.Submitted != 3 || r.Failed != 1 || r.Adjusted != 2 {
		t.Errorf("unexpected run %+v", r)
	}

	runs, _ = s.LastRuns(ctx, 1)
	if len(runs) != 1 {
		t.Errorf("expected limit 1, got %d", len(runs))
	}
}
