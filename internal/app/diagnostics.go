package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/etheramiel/Scrobbler/internal/store"
	"github.com/etheramiel/Scrobbler/internal/ui"
)

// Diagnostics is the environment report printed by -doctor.
type Diagnostics struct {
	Version    string
	ConfigPath string
	ConfigErr  error
	LogDir     string
	DBPath     string
	DBSize     int64

	HasAPIKeys bool
	Username   string
	HasSession bool

	Location     *time.Location
	WindowDays   int
	ClockOffset  int
	LibraryRoots []string

	Runs []store.Run
}

// Healthy reports whether an import could run with this setup.
func (d Diagnostics) Healthy() bool {
	return d.ConfigErr == nil && d.HasAPIKeys && d.HasSession
}

// Render formats the report with theme.
func (d Diagnostics) Render(theme ui.Theme) string {
	var b strings.Builder

	b.WriteString(theme.Title.Render(" ═══ rockscrob doctor ═══ "))
	b.WriteString("\n\n")

	b.WriteString(theme.Accent.Render("Runtime"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Version: %s\n", d.Version)
	fmt.Fprintf(&b, "  Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	b.WriteString("\n")

	b.WriteString(theme.Accent.Render("Config"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Path: %s\n", d.ConfigPath)
	if d.ConfigErr != nil {
		b.WriteString(theme.Error.Render(fmt.Sprintf("  ✗ %v", d.ConfigErr)))
		b.WriteString("\n")
	}
	if d.Location != nil {
		fmt.Fprintf(&b, "  Time zone: %s\n", d.Location)
	}
	fmt.Fprintf(&b, "  Window: %d days, clock offset %+dh\n", d.WindowDays, d.ClockOffset)
	if len(d.LibraryRoots) > 0 {
		fmt.Fprintf(&b, "  Library: %s\n", strings.Join(d.LibraryRoots, ", "))
	}
	b.WriteString("\n")

	b.WriteString(theme.Accent.Render("Last.fm"))
	b.WriteString("\n")
	b.WriteString(status(theme, d.HasAPIKeys, "API key and secret set", "API key or secret missing"))
	user := d.Username
	if user == "" {
		user = "unknown user"
	}
	b.WriteString(status(theme, d.HasSession, "Logged in as "+user, "Not logged in (run with -login or -auth)"))
	b.WriteString("\n")

	b.WriteString(theme.Accent.Render("State"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Database: %s (%s)\n", d.DBPath, formatBytes(uint64(max(d.DBSize, 0))))
	fmt.Fprintf(&b, "  Logs: %s\n", d.LogDir)
	b.WriteString("\n")

	b.WriteString(theme.Accent.Render("Recent imports"))
	b.WriteString("\n")
	if len(d.Runs) == 0 {
		b.WriteString(theme.Dim.Render("  None yet"))
		b.WriteString("\n")
	}
	for _, r := range d.Runs {
		state := "unfinished"
		if !r.FinishedAt.IsZero() {
			state = fmt.Sprintf("%d submitted, %d failed, %d duplicates, %d adjusted",
				r.Submitted, r.Failed, r.Duplicates, r.Adjusted)
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n", r.StartedAt.Format("2006-01-02 15:04"), r.LogPath, theme.Dim.Render(state))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(1, 2).
		Render(strings.TrimSuffix(b.String(), "\n"))
}

func status(theme ui.Theme, ok bool, good, bad string) string {
	if ok {
		return theme.Success.Render("  ● "+good) + "\n"
	}
	return theme.Error.Render("  ○ "+bad) + "\n"
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
