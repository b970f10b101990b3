package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/etheramiel/Scrobbler/internal/app"
	"github.com/etheramiel/Scrobbler/internal/config"
	"github.com/etheramiel/Scrobbler/internal/library"
	"github.com/etheramiel/Scrobbler/internal/logging"
	"github.com/etheramiel/Scrobbler/internal/scrobble"
	"github.com/etheramiel/Scrobbler/internal/scrobble/lastfm"
	"github.com/etheramiel/Scrobbler/internal/scrobblelog"
	"github.com/etheramiel/Scrobbler/internal/store"
	"github.com/etheramiel/Scrobbler/internal/ui"
	"github.com/etheramiel/Scrobbler/internal/window"
)

var version = "0.1.0"

type options struct {
	cfgPath     string
	offset      int
	windowDays  int
	mode        string
	tz          string
	now         string
	library     string
	skipSkipped bool
	dryRun      bool
	yes         bool
	login       bool
	auth        bool
	logout      bool
	doctor      bool
	showVersion bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `rockscrob - import a Rockbox .scrobbler.log into Last.fm

Usage: rockscrob [options] <path/to/.scrobbler.log>

Options:
  -config string
        Path to config file (default: ~/.config/rockscrob/config.toml)
  -version
        Print version and exit

Import:
  -offset int
        Hours added to every timestamp to fix the player clock (-12..12)
  -window-days int
        Days Last.fm accepts scrobbles for (1..14, default 14)
  -mode string
        What to do with older plays: adjust (remap into the window) or exclude
  -tz string
        Time zone for time-of-day math (default: local)
  -now string
        Pretend the current time is this RFC3339 instant
  -library string
        Comma-separated music roots used to fill in missing albums
  -skip-skipped
        Ignore plays rated S (skipped)
  -dry-run
        Print what would be submitted and exit
  -yes
        Import everything without the review screen

Account:
  -login
        Log in with username and password
  -auth
        Log in through the browser
  -logout
        Forget the saved session

Diagnostics:
  -doctor
        Check configuration, login and recent imports

Examples:
  rockscrob /media/IPOD/.scrobbler.log              # Review and import
  rockscrob -offset -2 -dry-run .scrobbler.log      # Preview with clock fix
  rockscrob -mode exclude -yes .scrobbler.log       # Submit only recent plays
  rockscrob -auth                                   # Authorize in the browser

`)
	}

	var opts options
	flag.StringVar(&opts.cfgPath, "config", "", "")
	flag.IntVar(&opts.offset, "offset", 0, "")
	flag.IntVar(&opts.windowDays, "window-days", 0, "")
	flag.StringVar(&opts.mode, "mode", "", "")
	flag.StringVar(&opts.tz, "tz", "", "")
	flag.StringVar(&opts.now, "now", "", "")
	flag.StringVar(&opts.library, "library", "", "")
	flag.BoolVar(&opts.skipSkipped, "skip-skipped", false, "")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "")
	flag.BoolVar(&opts.yes, "yes", false, "")
	flag.BoolVar(&opts.login, "login", false, "")
	flag.BoolVar(&opts.auth, "auth", false, "")
	flag.BoolVar(&opts.logout, "logout", false, "")
	flag.BoolVar(&opts.doctor, "doctor", false, "")
	flag.BoolVar(&opts.showVersion, "version", false, "")
	flag.Parse()

	if opts.showVersion {
		fmt.Println("rockscrob", version)
		return
	}

	cfg, resolvedPath, cfgErr := config.Load(opts.cfgPath)
	if cfgErr == nil {
		cfgErr = applyFlags(cfg, opts)
	}
	if cfgErr != nil && !opts.doctor {
		log.Fatalf("load config: %v", cfgErr)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	logger, logFile, err := logging.Setup("", slog.LevelDebug)
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	logger.Info("starting rockscrob", slog.String("version", version), slog.String("config", resolvedPath))

	st, err := store.Open(cfg.State.DBPath)
	if err != nil {
		logger.Error("open state", slog.Any("err", err))
		log.Fatalf("open state: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := lastfm.New(lastfm.Config{
		APIKey:    cfg.LastFM.APIKey,
		APISecret: cfg.LastFM.APISecret,
	})
	sess, hasSession, err := st.LoadSession(ctx)
	if err != nil {
		logger.Warn("load session", slog.Any("err", err))
	}
	if hasSession {
		client.SetSessionKey(sess.Key)
	}

	switch {
	case opts.doctor:
		runDoctor(ctx, cfg, resolvedPath, cfgErr, st, sess, hasSession, client)
		return
	case opts.logout:
		if err := st.ClearSession(ctx); err != nil {
			log.Fatalf("logout: %v", err)
		}
		logger.Info("session cleared")
		fmt.Println("Logged out.")
		return
	case opts.login:
		if err := runLogin(ctx, cfg, client, st, logger); err != nil {
			logger.Error("login", slog.Any("err", err))
			log.Fatalf("login: %v", err)
		}
		return
	case opts.auth:
		if err := runWebAuth(ctx, client, st, logger); err != nil {
			logger.Error("web auth", slog.Any("err", err))
			log.Fatalf("auth: %v", err)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := runImport(ctx, flag.Arg(0), cfg, opts, client, st, logger); err != nil {
		logger.Error("import", slog.Any("err", err))
		log.Fatalf("import: %v", err)
	}
}

// applyFlags overrides config values with flags given on the command line.
func applyFlags(cfg *config.Config, opts options) error {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "offset":
			cfg.Import.ClockOffsetHours = opts.offset
		case "window-days":
			cfg.Import.WindowDays = opts.windowDays
		case "mode":
			cfg.Import.Mode = opts.mode
		case "tz":
			cfg.Import.TimeZone = opts.tz
		case "skip-skipped":
			cfg.Import.SkipSkipped = opts.skipSkipped
		case "library":
			cfg.Library.Roots = nil
			for _, r := range strings.Split(opts.library, ",") {
				if r = strings.TrimSpace(r); r != "" {
					cfg.Library.Roots = append(cfg.Library.Roots, r)
				}
			}
		}
	})
	return config.Validate(*cfg)
}

func currentTime(value string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse -now: %w", err)
	}
	return t, nil
}

func runImport(ctx context.Context, logPath string, cfg *config.Config, opts options, client *lastfm.Client, st *store.Store, logger *slog.Logger) error {
	now, err := currentTime(opts.now)
	if err != nil {
		return err
	}
	mode, err := window.ParseMode(cfg.Import.Mode)
	if err != nil {
		return err
	}
	loc := cfg.Location()

	parsed, err := scrobblelog.ParseFile(logPath, scrobblelog.Options{
		ClockOffsetHours: cfg.Import.ClockOffsetHours,
		SkipSkipped:      cfg.Import.SkipSkipped,
	})
	if err != nil {
		return err
	}
	logger.Info("parsed log",
		slog.String("path", logPath),
		slog.Int("events", len(parsed.Events)),
		slog.Int("malformed", parsed.Stats.Malformed()),
		slog.Int("skipped", parsed.Stats.SkippedRating),
		slog.String("client", parsed.Header.Client))

	events := parsed.Events
	if len(cfg.Library.Roots) > 0 {
		idx, err := library.Scan(ctx, cfg.Library.Roots, logger)
		if err != nil {
			return fmt.Errorf("scan library: %w", err)
		}
		var filled int
		events, filled = library.Backfill(events, idx)
		logger.Info("album backfill", slog.Int("indexed", idx.Len()), slog.Int("filled", filled))
	}

	res := window.Apply(mode, events, now, window.Options{WindowDays: cfg.Import.WindowDays, Location: loc})
	logger.Info("window applied",
		slog.String("mode", string(mode)),
		slog.Time("window_start", res.WindowStart),
		slog.Int("adjusted", res.Adjusted),
		slog.Int("excluded", res.Excluded),
		slog.Int("future", res.Future),
		slog.Int("out_of_order", res.OutOfOrder))

	if opts.dryRun {
		printPlan(res, parsed.Stats, loc)
		return nil
	}
	if len(res.Events) == 0 {
		fmt.Println("No scrobbles to import.")
		return nil
	}
	if !client.IsEnabled() {
		return fmt.Errorf("%w: set the API key and secret, then run rockscrob -login or -auth", scrobble.ErrNotConfigured)
	}

	runID, err := st.BeginRun(ctx, logPath)
	if err != nil {
		return err
	}
	importer := scrobble.NewImporter(client, scrobble.ImporterOptions{
		History:  st.History(runID),
		Interval: cfg.SubmitInterval(),
		Logger:   logger.With(slog.String("run", runID)),
	})

	var report scrobble.Report
	var importErr error
	if opts.yes {
		report, importErr = importer.Import(ctx, res.Events, func(p scrobble.Progress) {
			mark := "✓"
			switch {
			case p.Result.Duplicate:
				mark = "="
			case p.Result.Err != nil:
				mark = "✗"
			}
			fmt.Printf("[%d/%d] %s %s - %s\n", p.Index, p.Total, mark, p.Result.Event.Artist, p.Result.Event.Title)
		})
	} else {
		report, importErr = runReview(res, parsed.Stats, logPath, cfg, importer)
	}

	// record the run even when the import was interrupted
	if err := st.FinishRun(context.Background(), runID, report); err != nil {
		logger.Warn("finish run", slog.Any("err", err))
	}
	if report.Total > 0 {
		fmt.Printf("Submitted: %d | Failed: %d", report.Submitted, report.Failed)
		if report.Duplicates > 0 {
			fmt.Printf(" | Already submitted: %d", report.Duplicates)
		}
		fmt.Println()
	}
	if errors.Is(importErr, scrobble.ErrUnauthorized) {
		return fmt.Errorf("%w: log in again with -login or -auth", importErr)
	}
	return importErr
}

func runReview(res window.Result, stats scrobblelog.Stats, logPath string, cfg *config.Config, importer *scrobble.Importer) (scrobble.Report, error) {
	noColor := os.Getenv("NO_COLOR") != "" || cfg.UI.NoColor
	model := app.New(res.Events, app.Options{
		Theme:     ui.GetTheme(cfg.UI.Theme, noColor),
		Location:  cfg.Location(),
		Import:    importer.Import,
		Source:    filepath.Base(logPath),
		Malformed: stats.Malformed(),
		Excluded:  res.Excluded,
	})
	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	m, ok := final.(app.Model)
	if !ok {
		if err != nil {
			return scrobble.Report{}, fmt.Errorf("tui: %w", err)
		}
		return scrobble.Report{}, nil
	}
	// an import may still be running if the program was interrupted
	m = m.Finish()
	report, _ := m.Report()
	if err != nil {
		return report, fmt.Errorf("tui: %w", err)
	}
	return report, m.Err()
}

func printPlan(res window.Result, stats scrobblelog.Stats, loc *time.Location) {
	fmt.Printf("Window: %s .. %s\n", res.WindowStart.Format(scrobble.DateLayout), res.Now.Format(scrobble.DateLayout))
	for _, e := range res.Events {
		note := ""
		if e.WasAdjusted {
			note = "  (played " + e.DateString(loc) + ")"
		}
		fmt.Printf("%s  %s - %s%s\n", e.SubmissionTime(loc).Format(scrobble.DateLayout), e.Artist, e.Title, note)
	}
	fmt.Printf("Songs: %d | Adjusted: %d | Excluded: %d | Skipped lines: %d\n",
		len(res.Events), res.Adjusted, res.Excluded, stats.Malformed())
}

func runDoctor(ctx context.Context, cfg *config.Config, cfgPath string, cfgErr error, st *store.Store, sess store.Session, hasSession bool, client *lastfm.Client) {
	d := app.Diagnostics{
		Version:      version,
		ConfigPath:   cfgPath,
		ConfigErr:    cfgErr,
		DBPath:       cfg.State.DBPath,
		HasAPIKeys:   client.HasKeys(),
		HasSession:   hasSession,
		Username:     sess.Username,
		Location:     cfg.Location(),
		WindowDays:   cfg.Import.WindowDays,
		ClockOffset:  cfg.Import.ClockOffsetHours,
		LibraryRoots: cfg.Library.Roots,
	}
	if d.DBPath == "" {
		d.DBPath, _ = store.DefaultPath()
	}
	if info, err := os.Stat(d.DBPath); err == nil {
		d.DBSize = info.Size()
	}
	d.LogDir, _ = logging.StateDir()
	if runs, err := st.LastRuns(ctx, 5); err == nil {
		d.Runs = runs
	}

	noColor := os.Getenv("NO_COLOR") != "" || cfg.UI.NoColor
	fmt.Println(d.Render(ui.GetTheme(cfg.UI.Theme, noColor)))
	if !d.Healthy() {
		fmt.Println("Setup incomplete.")
	}
}
