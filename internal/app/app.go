package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/etheramiel/Scrobbler/internal/scrobble"
	"github.com/etheramiel/Scrobbler/internal/ui"
)

// Selection is the per-row import choice.
type Selection int

const (
	Checked Selection = iota
	Unchecked
)

// Toggle returns the opposite selection.
func (s Selection) Toggle() Selection {
	if s == Checked {
		return Unchecked
	}
	return Checked
}

type stage int

const (
	stageReview stage = iota
	stageConfirm
	stageImporting
	stageDone
)

// ImportFunc submits the chosen events, reporting progress after each one.
type ImportFunc func(ctx context.Context, events []scrobble.NormalizedEvent, progress func(scrobble.Progress)) (scrobble.Report, error)

// Options configures the review screen.
type Options struct {
	Theme    ui.Theme
	Location *time.Location
	Import   ImportFunc
	// Source is shown in the title bar, usually the log path.
	Source string
	// Malformed and Excluded are the counts dropped before review.
	Malformed int
	Excluded  int
}

type row struct {
	event scrobble.NormalizedEvent
	sel   Selection
}

// Model is the bubbletea model for reviewing and importing scrobbles.
type Model struct {
	opts  Options
	theme ui.Theme
	loc   *time.Location
	rows  []row

	stage    stage
	cursor   int
	offset   int
	width    int
	height   int
	status   string
	progress scrobble.Progress
	report   scrobble.Report
	err      error

	job    *importJob
	cancel context.CancelFunc
}

// importJob is a running import. report and err are written once, before
// done is closed.
type importJob struct {
	updates chan tea.Msg
	done    chan struct{}
	report  scrobble.Report
	err     error
}

type progressMsg scrobble.Progress

type doneMsg struct {
	report scrobble.Report
	err    error
}

// New returns a model with every event selected.
func New(events []scrobble.NormalizedEvent, opts Options) Model {
	rows := make([]row, len(events))
	for i, e := range events {
		rows[i] = row{event: e, sel: Checked}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return Model{
		opts:  opts,
		theme: opts.Theme,
		loc:   loc,
		rows:  rows,
		stage: stageReview,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// Selected returns the checked events in log order.
func (m Model) Selected() []scrobble.NormalizedEvent {
	out := make([]scrobble.NormalizedEvent, 0, len(m.rows))
	for _, r := range m.rows {
		if r.sel == Checked {
			out = append(out, r.event)
		}
	}
	return out
}

// Report returns the import outcome and whether the import has finished.
func (m Model) Report() (scrobble.Report, bool) {
	return m.report, m.stage == stageDone
}

// Err returns the error that ended the import, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) selectedCount() int {
	n := 0
	for _, r := range m.rows {
		if r.sel == Checked {
			n++
		}
	}
	return n
}

func (m Model) adjustedCount() int {
	n := 0
	for _, r := range m.rows {
		if r.event.WasAdjusted {
			n++
		}
	}
	return n
}

func (m Model) setAll(fn func(Selection) Selection) Model {
	rows := make([]row, len(m.rows))
	for i, r := range m.rows {
		r.sel = fn(r.sel)
		rows[i] = r
	}
	m.rows = rows
	return m
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.offset = m.scrollOffset()
		return m, nil
	case progressMsg:
		m.progress = scrobble.Progress(msg)
		return m, waitForUpdate(m.job)
	case doneMsg:
		m.stage = stageDone
		m.report = msg.report
		m.err = msg.err
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	}

	switch m.stage {
	case stageConfirm:
		switch key {
		case "y", "Y":
			return m.startImport()
		case "n", "N", "esc", "q":
			m.stage = stageReview
			m.status = "Import cancelled"
		}
		return m, nil
	case stageImporting:
		if key == "q" && m.cancel != nil {
			m.cancel()
			m.status = "Stopping…"
		}
		return m, nil
	case stageDone:
		if key == "q" || key == "enter" || key == "esc" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch key {
	case "q", "esc":
		return m, tea.Quit
	case "j", "down":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "g", "home":
		m.cursor = 0
	case "G", "end":
		m.cursor = max(len(m.rows)-1, 0)
	case " ":
		if len(m.rows) > 0 {
			rows := append([]row(nil), m.rows...)
			rows[m.cursor].sel = rows[m.cursor].sel.Toggle()
			m.rows = rows
		}
	case "a":
		m = m.setAll(func(Selection) Selection { return Checked })
	case "n":
		m = m.setAll(func(Selection) Selection { return Unchecked })
	case "i":
		m = m.setAll(Selection.Toggle)
	case "enter":
		if m.selectedCount() == 0 {
			m.status = "Nothing selected"
			return m, nil
		}
		m.stage = stageConfirm
		m.status = ""
	}
	m.offset = m.scrollOffset()
	return m, nil
}

func (m Model) startImport() (tea.Model, tea.Cmd) {
	events := m.Selected()
	if m.opts.Import == nil {
		m.stage = stageDone
		m.err = scrobble.ErrNotConfigured
		return m, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &importJob{
		updates: make(chan tea.Msg, 1),
		done:    make(chan struct{}),
	}
	importFn := m.opts.Import
	go func() {
		defer close(job.updates)
		report, err := importFn(ctx, events, func(p scrobble.Progress) {
			select {
			case job.updates <- progressMsg(p):
			case <-ctx.Done():
			}
		})
		job.report, job.err = report, err
		close(job.done)
	}()

	m.stage = stageImporting
	m.progress = scrobble.Progress{Total: len(events)}
	m.job = job
	m.cancel = cancel
	return m, waitForUpdate(job)
}

// waitForUpdate delivers the next progress message, then the final report
// once the job is over.
func waitForUpdate(job *importJob) tea.Cmd {
	if job == nil {
		return nil
	}
	return func() tea.Msg {
		if msg, ok := <-job.updates; ok {
			return msg
		}
		<-job.done
		return doneMsg{report: job.report, err: job.err}
	}
}

// Finish stops an import the program left running and waits for its report.
// It is a no-op unless the model is still importing.
func (m Model) Finish() Model {
	if m.stage != stageImporting || m.job == nil {
		return m
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	<-m.job.done
	m.stage = stageDone
	m.report = m.job.report
	m.err = m.job.err
	return m
}

// visibleRows is the number of table rows that fit on screen.
func (m Model) visibleRows() int {
	if m.height <= 0 {
		return 20
	}
	return max(m.height-6, 1)
}

func (m Model) scrollOffset() int {
	n := m.visibleRows()
	off := m.offset
	if m.cursor < off {
		off = m.cursor
	}
	if m.cursor >= off+n {
		off = m.cursor - n + 1
	}
	return clamp(off, 0, max(len(m.rows)-n, 0))
}

func (m Model) View() string {
	title := "rockscrob"
	if m.opts.Source != "" {
		title += " ▸ " + m.opts.Source
	}
	top := lipgloss.NewStyle().Bold(true).Render(title)

	var main string
	switch m.stage {
	case stageImporting:
		main = m.renderProgress()
	case stageDone:
		main = m.renderSummary()
	default:
		main = m.renderTable()
	}

	return lipgloss.JoinVertical(lipgloss.Left, top, m.renderCounts(), main, m.renderFooter())
}

func (m Model) renderCounts() string {
	counts := fmt.Sprintf("Songs: %d | Selected: %d | Adjusted: %d", len(m.rows), m.selectedCount(), m.adjustedCount())
	if m.opts.Excluded > 0 {
		counts += fmt.Sprintf(" | Excluded: %d", m.opts.Excluded)
	}
	if m.opts.Malformed > 0 {
		counts += fmt.Sprintf(" | Skipped lines: %d", m.opts.Malformed)
	}
	return m.theme.Title.Render(counts)
}

const (
	colArtist = 22
	colTitle  = 28
	colAlbum  = 22
	colDate   = len(scrobble.DateLayout)
)

func (m Model) renderTable() string {
	if len(m.rows) == 0 {
		return m.theme.Dim.Render("No scrobbles to import.")
	}

	var b strings.Builder
	header := fmt.Sprintf("     %s  %s  %s  %s  %s",
		pad("Artist", colArtist), pad("Title", colTitle), pad("Album", colAlbum),
		pad("Played", colDate), pad("Submit as", colDate))
	b.WriteString(m.theme.Dim.Render(header) + "\n")

	end := min(m.offset+m.visibleRows(), len(m.rows))
	for i := m.offset; i < end; i++ {
		r := m.rows[i]
		prefix := "  "
		if i == m.cursor {
			prefix = "⏵ "
		}
		line := fmt.Sprintf("%s%s %s  %s  %s  %s  %s",
			prefix, ui.Checkbox(r.sel == Checked),
			pad(r.event.Artist, colArtist), pad(r.event.Title, colTitle), pad(r.event.Album, colAlbum),
			r.event.DateString(m.loc), r.event.SubmissionTime(m.loc).Format(scrobble.DateLayout))
		style := m.theme.Text
		if r.event.WasAdjusted {
			style = m.theme.Warning
		}
		if i == m.cursor {
			style = style.Inherit(m.theme.Cursor)
		}
		b.WriteString(style.Render(line) + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderProgress() string {
	p := m.progress
	line := fmt.Sprintf("Importing %d/%d", p.Index, p.Total)
	if p.Index > 0 {
		e := p.Result.Event
		line += fmt.Sprintf(": %s - %s", e.Artist, e.Title)
	}
	out := m.theme.Accent.Render(line)
	if p.Result.Err != nil {
		out += "\n" + m.theme.Error.Render(p.Result.Err.Error())
	}
	return out
}

func (m Model) renderSummary() string {
	r := m.report
	var b strings.Builder
	b.WriteString(m.theme.Success.Render(fmt.Sprintf("Submitted: %d | Failed: %d", r.Submitted, r.Failed)))
	if r.Duplicates > 0 {
		b.WriteString(m.theme.Dim.Render(fmt.Sprintf(" | Already submitted: %d", r.Duplicates)))
	}
	for _, res := range r.Results {
		if res.Err != nil {
			b.WriteString("\n" + m.theme.Error.Render(fmt.Sprintf("✗ %s - %s: %v", res.Event.Artist, res.Event.Title, res.Err)))
		}
	}
	if m.err != nil {
		b.WriteString("\n" + m.theme.Error.Render(m.err.Error()))
	}
	return b.String()
}

func (m Model) renderFooter() string {
	var help string
	switch m.stage {
	case stageConfirm:
		return m.theme.Warning.Render(fmt.Sprintf("Import %d scrobbles to Last.fm? (y/n)", m.selectedCount()))
	case stageImporting:
		help = "q stop"
	case stageDone:
		help = "q quit"
	default:
		help = "j/k move · space toggle · a all · n none · i invert · enter import · q quit"
	}
	if m.status != "" {
		return m.theme.Dim.Render(m.status + "  " + help)
	}
	return m.theme.Dim.Render(help)
}

// pad truncates or right-pads s to exactly w cells.
func pad(s string, w int) string {
	runes := []rune(s)
	if len(runes) > w {
		return string(runes[:w-1]) + "…"
	}
	return s + strings.Repeat(" ", w-len(runes))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
