package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/etheramiel/Scrobbler/internal/scrobble"
	"github.com/etheramiel/Scrobbler/internal/ui"
)

func testEvents() []scrobble.NormalizedEvent {
	return []scrobble.NormalizedEvent{
		scrobble.Unchanged(scrobble.PlayEvent{Artist: "Radiohead", Title: "Karma Police", Album: "OK Computer", Timestamp: 1_704_100_000}),
		{
			PlayEvent:           scrobble.PlayEvent{Artist: "Portishead", Title: "Roads", Album: "Dummy", Timestamp: 1_600_000_000},
			OriginalTimestamp:   1_600_000_000,
			SubmissionTimestamp: 1_704_000_000,
			WasAdjusted:         true,
		},
		scrobble.Unchanged(scrobble.PlayEvent{Artist: "Massive Attack", Title: "Teardrop", Timestamp: 1_704_200_000}),
	}
}

func newTestModel(fn ImportFunc) Model {
	return New(testEvents(), Options{
		Theme:    ui.NoColor(true),
		Location: time.UTC,
		Import:   fn,
		Source:   ".scrobbler.log",
	})
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func updateModel(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		m, _ = updateModel(m, key(k))
	}
	return m
}

func TestSelectionKeys(t *testing.T) {
	m := newTestModel(nil)
	if m.selectedCount() != 3 {
		t.Fatalf("expected all rows selected, got %d", m.selectedCount())
	}

	m = press(m, " ")
	if m.rows[0].sel != Unchecked {
		t.Error("space should uncheck the row under the cursor")
	}

	m = press(m, "j", "down", "j") // cursor stops at the last row
	if m.cursor != 2 {
		t.Errorf("expected cursor 2, got %d", m.cursor)
	}
	m = press(m, " ", "k", "up", "up")
	if m.cursor != 0 {
		t.Errorf("expected cursor 0, got %d", m.cursor)
	}
	if got := m.selectedCount(); got != 1 {
		t.Errorf("expected 1 selected, got %d", got)
	}

	m = press(m, "i")
	if m.rows[0].sel != Checked || m.rows[1].sel != Unchecked || m.rows[2].sel != Checked {
		t.Errorf("invert produced %v %v %v", m.rows[0].sel, m.rows[1].sel, m.rows[2].sel)
	}

	m = press(m, "n")
	if m.selectedCount() != 0 {
		t.Error("n should clear the selection")
	}
	m = press(m, "a")
	if m.selectedCount() != 3 {
		t.Error("a should select everything")
	}
}

func TestSelectedKeepsOrder(t *testing.T) {
	m := press(newTestModel(nil), "j", " ")
	got := m.Selected()
	if len(got) != 2 || got[0].Artist != "Radiohead" || got[1].Artist != "Massive Attack" {
		t.Errorf("unexpected selection %+v", got)
	}
}

func TestUpdateDoesNotShareRows(t *testing.T) {
	before := newTestModel(nil)
	after := press(before, " ")
	if before.rows[0].sel != Checked {
		t.Error("toggle leaked into the previous model value")
	}
	if after.rows[0].sel != Unchecked {
		t.Error("toggle not applied")
	}
}

func TestEnterWithNothingSelected(t *testing.T) {
	m := press(newTestModel(nil), "n", "enter")
	if m.stage != stageReview {
		t.Errorf("expected to stay in review, got stage %d", m.stage)
	}
	if !strings.Contains(m.View(), "Nothing selected") {
		t.Error("expected status message")
	}
}

func TestConfirmCancel(t *testing.T) {
	m := press(newTestModel(nil), "enter")
	if m.stage != stageConfirm {
		t.Fatalf("expected confirm stage, got %d", m.stage)
	}
	if !strings.Contains(m.View(), "Import 3 scrobbles") {
		t.Errorf("expected confirm prompt, got:\n%s", m.View())
	}
	m = press(m, "n")
	if m.stage != stageReview {
		t.Errorf("expected review stage, got %d", m.stage)
	}
}

// drain runs cmd and feeds resulting messages back until the import ends.
func drain(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for i := 0; cmd != nil && i < 100; i++ {
		msg := cmd()
		if msg == nil {
			break
		}
		m, cmd = updateModel(m, msg)
	}
	return m
}

func TestImportFlow(t *testing.T) {
	var got []scrobble.NormalizedEvent
	fn := func(ctx context.Context, events []scrobble.NormalizedEvent, progress func(scrobble.Progress)) (scrobble.Report, error) {
		got = events
		report := scrobble.Report{Total: len(events)}
		for i, e := range events {
			res := scrobble.ItemResult{Event: e}
			if e.Artist == "Massive Attack" {
				res.Err = errors.New("lastfm ignored scrobble")
				report.Failed++
			} else {
				report.Submitted++
			}
			report.Results = append(report.Results, res)
			progress(scrobble.Progress{Index: i + 1, Total: len(events), Result: res})
		}
		return report, nil
	}

	m := press(newTestModel(fn), "enter")
	m, cmd := updateModel(m, key("y"))
	if m.stage != stageImporting {
		t.Fatalf("expected importing stage, got %d", m.stage)
	}
	m = drain(t, m, cmd)

	if len(got) != 3 {
		t.Fatalf("expected 3 events imported, got %d", len(got))
	}
	report, done := m.Report()
	if !done {
		t.Fatal("expected import to finish")
	}
	if report.Submitted != 2 || report.Failed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	view := m.View()
	if !strings.Contains(view, "Submitted: 2 | Failed: 1") {
		t.Errorf("expected summary line, got:\n%s", view)
	}
	if !strings.Contains(view, "Teardrop") {
		t.Error("expected failed item to be listed")
	}

	_, cmd = updateModel(m, key("q"))
	if cmd == nil {
		t.Error("expected quit command")
	}
}

func TestImportWithoutSubmitter(t *testing.T) {
	m := press(newTestModel(nil), "enter", "y")
	if _, done := m.Report(); !done {
		t.Fatal("expected done stage")
	}
	if !errors.Is(m.Err(), scrobble.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", m.Err())
	}
}

func TestImportCancel(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context, events []scrobble.NormalizedEvent, progress func(scrobble.Progress)) (scrobble.Report, error) {
		close(started)
		<-ctx.Done()
		return scrobble.Report{Total: len(events)}, ctx.Err()
	}

	m := press(newTestModel(fn), "enter")
	m, cmd := updateModel(m, key("y"))
	<-started
	m, _ = updateModel(m, key("q"))
	m = drain(t, m, cmd)

	if !errors.Is(m.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", m.Err())
	}
}

func TestFinishAfterQuit(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context, events []scrobble.NormalizedEvent, progress func(scrobble.Progress)) (scrobble.Report, error) {
		report := scrobble.Report{Total: len(events)}
		for i, e := range events[:2] {
			report.Submitted++
			progress(scrobble.Progress{Index: i + 1, Total: len(events), Result: scrobble.ItemResult{Event: e}})
			if i == 0 {
				close(started)
			}
		}
		<-ctx.Done()
		return report, ctx.Err()
	}

	m := press(newTestModel(fn), "enter")
	m, _ = updateModel(m, key("y"))
	<-started

	// Nothing reads the updates channel after the program quits.
	m, cmd := updateModel(m, key("ctrl+c"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, done := m.Report(); done {
		t.Fatal("import should still be running")
	}

	m = m.Finish()
	report, done := m.Report()
	if !done {
		t.Fatal("expected Finish to end the import")
	}
	if report.Submitted != 2 {
		t.Errorf("expected 2 submitted, got %+v", report)
	}
	if !errors.Is(m.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", m.Err())
	}
}

func TestFinishIdle(t *testing.T) {
	m := newTestModel(nil).Finish()
	if _, done := m.Report(); done {
		t.Error("Finish should not end an idle review")
	}
}

func TestViewTable(t *testing.T) {
	m := newTestModel(nil)
	view := m.View()
	for _, want := range []string{
		"Songs: 3 | Selected: 3 | Adjusted: 1",
		"[x]",
		"Karma Police",
		"OK Computer",
		"2020-09-13 12:26:40", // original play time of the adjusted row
		"2023-12-31 05:20:00", // its submission time
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m = press(m, " ")
	if !strings.Contains(m.View(), "[ ]") {
		t.Error("expected unchecked box after toggle")
	}
}

func TestViewCounts(t *testing.T) {
	m := New(nil, Options{Theme: ui.NoColor(true), Excluded: 4, Malformed: 2})
	view := m.View()
	if !strings.Contains(view, "Excluded: 4") || !strings.Contains(view, "Skipped lines: 2") {
		t.Errorf("unexpected counts:\n%s", view)
	}
	if !strings.Contains(view, "No scrobbles to import.") {
		t.Error("expected empty message")
	}
}

func TestScrolling(t *testing.T) {
	events := make([]scrobble.NormalizedEvent, 50)
	for i := range events {
		events[i] = scrobble.Unchanged(scrobble.PlayEvent{Artist: "A", Title: "T", Timestamp: int64(i)})
	}
	m := New(events, Options{Theme: ui.NoColor(true), Location: time.UTC})
	m, _ = updateModel(m, tea.WindowSizeMsg{Width: 120, Height: 16})

	for range 30 {
		m = press(m, "j")
	}
	if m.cursor != 30 {
		t.Fatalf("expected cursor 30, got %d", m.cursor)
	}
	if m.offset > m.cursor || m.cursor >= m.offset+m.visibleRows() {
		t.Errorf("cursor %d outside viewport [%d, %d)", m.cursor, m.offset, m.offset+m.visibleRows())
	}

	m = press(m, "G")
	if m.cursor != 49 || m.offset != 50-m.visibleRows() {
		t.Errorf("expected end of list, cursor %d offset %d", m.cursor, m.offset)
	}
	m = press(m, "g")
	if m.cursor != 0 || m.offset != 0 {
		t.Errorf("expected top of list, cursor %d offset %d", m.cursor, m.offset)
	}
}

func TestPad(t *testing.T) {
	if got := pad("abc", 5); got != "abc  " {
		t.Errorf("pad short: %q", got)
	}
	if got := pad("Ólafur Arnalds", 6); got != "Ólafu…" {
		t.Errorf("pad long: %q", got)
	}
}
