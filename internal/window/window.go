// Package window fits play events into the trailing acceptance window of a
// scrobbling service.
//
// Events inside the window pass through unchanged. Older events are either
// dropped (ModeExclude) or remapped into the window (ModeAdjust) keeping their
// original time of day and, where a one-day move allows, their relative order.
package window

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/etheramiel/Scrobbler/internal/scrobble"
)

const (
	// DefaultDays is how far back Last.fm accepts scrobbles.
	DefaultDays = 14

	secondsPerDay = 24 * 60 * 60
	// Old events sharing a single instant are spread over this many days.
	spreadDays = 13
)

// Mode selects what happens to events older than the window.
type Mode string

const (
	ModeAdjust  Mode = "adjust"
	ModeExclude Mode = "exclude"
)

// ParseMode parses a mode name; empty means ModeAdjust.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAdjust:
		return ModeAdjust, nil
	case ModeExclude:
		return ModeExclude, nil
	default:
		return "", fmt.Errorf("unknown window mode %q (want adjust or exclude)", s)
	}
}

// Options controls the window computation.
type Options struct {
	// WindowDays is the window length; 0 means DefaultDays.
	WindowDays int
	// Location is the zone whose wall clock defines "time of day"; nil means time.Local.
	Location *time.Location
}

func (o Options) days() int {
	if o.WindowDays <= 0 {
		return DefaultDays
	}
	return o.WindowDays
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// Result is the outcome of Normalize, Exclude or Apply.
type Result struct {
	Events []scrobble.NormalizedEvent
	// Adjusted counts remapped events, Excluded counts dropped ones.
	Adjusted int
	Excluded int
	// Future counts passed-through events stamped after now.
	Future int
	// OutOfOrder counts remapped events that land before their predecessor
	// because no nearby day fits both the window and their time of day.
	OutOfOrder  int
	WindowStart time.Time
	Now         time.Time
}

// Apply runs the normalizer selected by mode.
func Apply(mode Mode, events []scrobble.PlayEvent, now time.Time, opts Options) Result {
	if mode == ModeExclude {
		return Exclude(events, now, opts)
	}
	return Normalize(events, now, opts)
}

// Bounds returns the window as unix seconds, both ends inclusive.
func Bounds(now time.Time, days int) (start, end int64) {
	end = now.Unix()
	return end - int64(days)*secondsPerDay, end
}

// Exclude keeps the events inside the window, in input order, and drops the rest.
func Exclude(events []scrobble.PlayEvent, now time.Time, opts Options) Result {
	loc := opts.location()
	start, end := Bounds(now, opts.days())
	res := Result{
		Events:      make([]scrobble.NormalizedEvent, 0, len(events)),
		WindowStart: time.Unix(start, 0).In(loc),
		Now:         time.Unix(end, 0).In(loc),
	}
	for _, e := range events {
		if e.Timestamp < start {
			res.Excluded++
			continue
		}
		if e.Timestamp > end {
			res.Future++
		}
		res.Events = append(res.Events, scrobble.Unchanged(e))
	}
	return res
}

// Normalize remaps events older than the window into it. In-window events
// come first, unchanged and in input order, followed by the remapped events
// in chronological order. now is never read from the system clock.
func Normalize(events []scrobble.PlayEvent, now time.Time, opts Options) Result {
	loc := opts.location()
	start, end := Bounds(now, opts.days())
	res := Result{
		Events:      make([]scrobble.NormalizedEvent, 0, len(events)),
		WindowStart: time.Unix(start, 0).In(loc),
		Now:         time.Unix(end, 0).In(loc),
	}

	var old []scrobble.PlayEvent
	for _, e := range events {
		if e.Timestamp < start {
			old = append(old, e)
			continue
		}
		if e.Timestamp > end {
			res.Future++
		}
		res.Events = append(res.Events, scrobble.Unchanged(e))
	}
	if len(old) == 0 {
		return res
	}

	// Stable: ties keep input order, which decides the degenerate spread.
	slices.SortStableFunc(old, func(a, b scrobble.PlayEvent) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	bases := remapBases(old, start, end)
	prev := start
	for i, e := range old {
		ts, ordered := place(bases[i], e.Timestamp, start, end, prev, loc)
		if !ordered {
			res.OutOfOrder++
		}
		prev = ts

		res.Events = append(res.Events, scrobble.NormalizedEvent{
			PlayEvent:           e,
			SubmissionTimestamp: ts,
			WasAdjusted:         true,
			OriginalTimestamp:   e.Timestamp,
		})
	}
	res.Adjusted = len(old)
	return res
}

// remapBases maps sorted old timestamps onto [start, end] proportionally.
// When they all share one instant they are spread evenly from start instead.
func remapBases(old []scrobble.PlayEvent, start, end int64) []int64 {
	first := old[0].Timestamp
	span := old[len(old)-1].Timestamp - first
	available := end - start
	bases := make([]int64, len(old))

	if span > 0 {
		for i, e := range old {
			proportion := float64(e.Timestamp-first) / float64(span)
			bases[i] = start + int64(proportion*float64(available))
		}
		return bases
	}

	spread := min(int64(spreadDays)*secondsPerDay, available)
	var interval float64
	if len(old) > 1 {
		interval = float64(spread) / float64(len(old)-1)
	}
	for i := range old {
		bases[i] = start + int64(float64(i)*interval)
	}
	return bases
}

// withTimeOfDay returns the calendar date of base with the wall clock of orig.
func withTimeOfDay(base, orig int64, loc *time.Location) int64 {
	b := time.Unix(base, 0).In(loc)
	o := time.Unix(orig, 0).In(loc)
	return time.Date(b.Year(), b.Month(), b.Day(), o.Hour(), o.Minute(), o.Second(), 0, loc).Unix()
}

// place puts the wall clock of orig on the date of base, or on the day after
// or before it, picking the first of those that lies in [start, end] and not
// before prev. When none does, the in-window candidate is returned with
// ordered false. Only when no candidate fits the window is ts clamped.
func place(base, orig, start, end, prev int64, loc *time.Location) (ts int64, ordered bool) {
	ts = withTimeOfDay(base, orig, loc)
	var fallback int64
	found := false
	for _, c := range []int64{ts, addDays(ts, 1, loc), addDays(ts, -1, loc)} {
		if c < start || c > end {
			continue
		}
		if c >= prev {
			return c, true
		}
		if !found {
			fallback, found = c, true
		}
	}
	if found {
		return fallback, false
	}
	ts = min(max(ts, start), end)
	return ts, ts >= prev
}

func addDays(ts int64, days int, loc *time.Location) int64 {
	return time.Unix(ts, 0).In(loc).AddDate(0, 0, days).Unix()
}
