// Package scrobblelog reads the AUDIOSCROBBLER/1.1 `.scrobbler.log` written by
// Rockbox and other portable players.
//
// Each record line holds tab separated fields:
//
//	artist, album, title, track position, duration (s), rating (L|S), unix timestamp, mbid
//
// Lines starting with '#' that are not records are headers.
package scrobblelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/etheramiel/Scrobbler/internal/scrobble"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	fieldArtist = iota
	fieldAlbum
	fieldTitle
	fieldTrackNumber
	fieldDuration
	fieldRating
	fieldTimestamp
	fieldMBID

	minFields = fieldTimestamp + 1
)

const maxLineBytes = 1 << 20

// Options controls parsing.
type Options struct {
	// ClockOffsetHours is added to every timestamp to correct device clock drift.
	ClockOffsetHours int
	// SkipSkipped drops lines rated S (skipped).
	SkipSkipped bool
}

// Header holds the values of the '#' lines.
type Header struct {
	Version  string
	TimeZone string
	Client   string
}

// Stats counts what happened to every line.
type Stats struct {
	Lines         int
	Blank         int
	Headers       int
	TooFewFields  int
	MissingField  int
	BadTimestamp  int
	TooLong       int
	SkippedRating int
}

// Malformed returns the number of record lines that were dropped as invalid.
func (s Stats) Malformed() int {
	return s.TooFewFields + s.MissingField + s.BadTimestamp + s.TooLong
}

// Result is the outcome of a parse.
type Result struct {
	Events []scrobble.PlayEvent
	Header Header
	Stats  Stats
}

// ParseFile opens path and parses it. Open and read failures are returned;
// malformed lines are not errors.
func ParseFile(path string, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	res, err := Parse(f, opts)
	if err != nil {
		return res, fmt.Errorf("read log %s: %w", path, err)
	}
	return res, nil
}

// Parse reads a log from r. Invalid UTF-8 is replaced with U+FFFD and a
// UTF-16 byte order mark is honored, so decoding never aborts the parse.
// Lines longer than 1 MiB are skipped and counted in Stats.TooLong.
func Parse(r io.Reader, opts Options) (Result, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	br := bufio.NewReaderSize(decoded, 64*1024)

	var res Result
	offset := int64(opts.ClockOffsetHours) * int64(time.Hour/time.Second)

	for {
		raw, tooLong, err := readLine(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		res.Stats.Lines++
		if tooLong {
			res.Stats.TooLong++
			continue
		}
		line := strings.TrimRight(string(raw), "\r")

		if strings.TrimSpace(line) == "" {
			res.Stats.Blank++
			continue
		}
		if isHeader(line) {
			res.Stats.Headers++
			res.Header.apply(line)
			continue
		}

		e, ok := parseRecord(line, &res.Stats)
		if !ok {
			continue
		}
		if opts.SkipSkipped && e.Rating == scrobble.RatingSkipped {
			res.Stats.SkippedRating++
			continue
		}
		e.Timestamp += offset
		e.Line = res.Stats.Lines
		res.Events = append(res.Events, e)
	}
	return res, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed whole and reported as tooLong.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(line) > 0 || tooLong) {
				return line, tooLong, nil
			}
			return nil, false, err
		}
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes {
				line, tooLong = nil, true
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// isHeader reports whether line is a '#' header. A line with a full set of
// fields is a record even when the artist starts with '#'.
func isHeader(line string) bool {
	return strings.HasPrefix(line, "#") && strings.Count(line, "\t") < minFields-1
}

func parseRecord(line string, stats *Stats) (scrobble.PlayEvent, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < minFields {
		stats.TooFewFields++
		return scrobble.PlayEvent{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	e := scrobble.PlayEvent{
		Artist: fields[fieldArtist],
		Album:  fields[fieldAlbum],
		Title:  fields[fieldTitle],
		Rating: scrobble.Rating(strings.ToUpper(fields[fieldRating])),
	}
	if e.Artist == "" || e.Title == "" {
		stats.MissingField++
		return scrobble.PlayEvent{}, false
	}

	ts, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		stats.BadTimestamp++
		return scrobble.PlayEvent{}, false
	}
	e.Timestamp = ts
	e.LogTimestamp = ts

	// Optional fields are best effort.
	if n, err := strconv.Atoi(fields[fieldTrackNumber]); err == nil && n > 0 {
		e.TrackNumber = n
	}
	if secs, err := strconv.Atoi(fields[fieldDuration]); err == nil && secs > 0 {
		e.Duration = time.Duration(secs) * time.Second
	}
	if len(fields) > fieldMBID {
		e.MBID = fields[fieldMBID]
	}
	return e, true
}

func (h *Header) apply(line string) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	key, value, ok := strings.Cut(body, "/")
	if !ok {
		return
	}
	switch strings.ToUpper(key) {
	case "AUDIOSCROBBLER":
		h.Version = value
	case "TZ":
		h.TimeZone = value
	case "CLIENT":
		h.Client = value
	}
}
