package scrobble

import (
	"context"
	"log/slog"
	"time"
)

// Submitter is the interface implemented by scrobbling backends.
type Submitter interface {
	// Name returns a human-readable name for the backend.
	Name() string
	// IsEnabled returns true if the backend is configured and authenticated.
	IsEnabled() bool
	// Submit sends one scrobble.
	Submit(ctx context.Context, s Submission) error
}

// History remembers which events were already submitted so a log can be
// imported more than once without duplicate scrobbles.
type History interface {
	Submitted(ctx context.Context, e NormalizedEvent) (bool, error)
	Record(ctx context.Context, r ItemResult) error
}

// ItemResult is the outcome of submitting one event.
type ItemResult struct {
	Event     NormalizedEvent
	Err       error
	Duplicate bool
}

// OK reports whether the event was accepted by the backend.
func (r ItemResult) OK() bool { return r.Err == nil && !r.Duplicate }

// Progress is reported after every event.
type Progress struct {
	Index  int // 1-based
	Total  int
	Result ItemResult
}

// Report aggregates the outcome of an import.
type Report struct {
	Total      int
	Submitted  int
	Failed     int
	Duplicates int
	Adjusted   int
	Results    []ItemResult
}

// ImporterOptions configures an Importer.
type ImporterOptions struct {
	History History
	// Interval is the pause between submissions.
	Interval time.Duration
	Logger   *slog.Logger
}

// Importer submits normalized events one by one and accounts for each.
type Importer struct {
	submitter Submitter
	history   History
	interval  time.Duration
	logger    *slog.Logger
}

// NewImporter creates an importer for the given backend.
func NewImporter(s Submitter, opts ImporterOptions) *Importer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		submitter: s,
		history:   opts.History,
		interval:  opts.Interval,
		logger:    logger,
	}
}

// Import submits events in order using their submission timestamps. Failures
// are recorded per item and never abort the run; only ctx cancellation does,
// in which case the partial report is returned with ctx.Err().
func (im *Importer) Import(ctx context.Context, events []NormalizedEvent, progress func(Progress)) (Report, error) {
	report := Report{Total: len(events)}
	if !im.submitter.IsEnabled() {
		return report, ErrNotConfigured
	}

	im.logger.Info("import started",
		slog.String("backend", im.submitter.Name()),
		slog.Int("events", len(events)))

	for i, e := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := im.submitOne(ctx, e)
		report.Results = append(report.Results, res)
		switch {
		case res.Duplicate:
			report.Duplicates++
		case res.Err != nil:
			report.Failed++
			im.logger.Warn("scrobble failed",
				slog.String("artist", e.Artist),
				slog.String("title", e.Title),
				slog.Any("err", res.Err))
		default:
			report.Submitted++
			if e.WasAdjusted {
				report.Adjusted++
			}
		}

		if progress != nil {
			progress(Progress{Index: i + 1, Total: len(events), Result: res})
		}

		if !res.Duplicate && i < len(events)-1 && im.interval > 0 {
			if err := sleep(ctx, im.interval); err != nil {
				return report, err
			}
		}
	}

	im.logger.Info("import finished",
		slog.Int("submitted", report.Submitted),
		slog.Int("failed", report.Failed),
		slog.Int("duplicates", report.Duplicates))
	return report, nil
}

func (im *Importer) submitOne(ctx context.Context, e NormalizedEvent) ItemResult {
	if im.history != nil {
		seen, err := im.history.Submitted(ctx, e)
		if err != nil {
			im.logger.Warn("history lookup", slog.Any("err", err))
		} else if seen {
			return ItemResult{Event: e, Duplicate: true}
		}
	}

	res := ItemResult{Event: e, Err: im.submitter.Submit(ctx, e.Submission())}
	if im.history != nil {
		if err := im.history.Record(ctx, res); err != nil {
			im.logger.Warn("history record", slog.Any("err", err))
		}
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
