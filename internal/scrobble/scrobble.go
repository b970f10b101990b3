package scrobble

import (
	"errors"
	"time"
)

var (
	ErrNotConfigured = errors.New("scrobbling not configured")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
)

// DateLayout is the human-readable rendering used for timestamps in logs and the UI.
const DateLayout = "2006-01-02 15:04:05"

// Rating is the listened/skipped marker recorded by the player.
type Rating string

const (
	RatingListened Rating = "L"
	RatingSkipped  Rating = "S"
)

// PlayEvent is a single play read from a device log. Values are never mutated
// after parsing; transformations return new values.
type PlayEvent struct {
	Artist string
	Album  string
	Title  string
	// Timestamp is seconds since epoch with any clock offset already applied.
	Timestamp int64
	// LogTimestamp is the value written in the log, before the offset.
	LogTimestamp int64
	TrackNumber  int
	Duration     time.Duration
	Rating       Rating
	MBID         string
	// Line is the 1-based line in the source log.
	Line int
}

// Time returns the play time in loc. A nil loc means time.Local.
func (e PlayEvent) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(e.Timestamp, 0).In(loc)
}

// DateString renders the play time for display.
func (e PlayEvent) DateString(loc *time.Location) string {
	return e.Time(loc).Format(DateLayout)
}

// NormalizedEvent is a PlayEvent annotated with the timestamp to submit.
type NormalizedEvent struct {
	PlayEvent
	SubmissionTimestamp int64
	WasAdjusted         bool
	OriginalTimestamp   int64
}

// Unchanged wraps e without adjusting its timestamp.
func Unchanged(e PlayEvent) NormalizedEvent {
	return NormalizedEvent{
		PlayEvent:           e,
		SubmissionTimestamp: e.Timestamp,
		OriginalTimestamp:   e.Timestamp,
	}
}

// SubmissionTime returns the submission timestamp in loc.
func (e NormalizedEvent) SubmissionTime(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(e.SubmissionTimestamp, 0).In(loc)
}

// Submission builds the collaborator payload for this event.
func (e NormalizedEvent) Submission() Submission {
	return Submission{
		Artist:      e.Artist,
		Title:       e.Title,
		Album:       e.Album,
		Timestamp:   time.Unix(e.SubmissionTimestamp, 0),
		TrackNumber: e.TrackNumber,
		Duration:    e.Duration,
		MBID:        e.MBID,
	}
}

// Submission is a single scrobble as sent to a remote service.
type Submission struct {
	Artist    string
	Title     string
	Album     string
	Timestamp time.Time
	// Optional metadata; zero values are omitted.
	TrackNumber int
	Duration    time.Duration
	MBID        string
}
