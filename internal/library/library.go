// Package library indexes the audio files on a mounted player so log lines
// without an album can be completed from the files' tags.
package library

import (
	"context"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dhowden/tag"
	"github.com/etheramiel/Scrobbler/internal/scrobble"
	"github.com/hbollon/go-edlib"
)

// MinSimilarity is the Jaro-Winkler score two names need to be considered the same.
const MinSimilarity = 0.92

var allowedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
}

// Index maps artist and title to album.
type Index struct {
	// normalized artist -> normalized title -> album
	albums map[string]map[string]string
	tracks int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{albums: make(map[string]map[string]string)}
}

// Len returns the number of indexed tracks.
func (idx *Index) Len() int { return idx.tracks }

// Add records a track. Entries with an empty field are ignored; the first
// album seen for an artist/title pair wins.
func (idx *Index) Add(artist, title, album string) {
	a, t := normalize(artist), normalize(title)
	album = strings.TrimSpace(album)
	if a == "" || t == "" || album == "" {
		return
	}
	titles, ok := idx.albums[a]
	if !ok {
		titles = make(map[string]string)
		idx.albums[a] = titles
	}
	if _, exists := titles[t]; exists {
		return
	}
	titles[t] = album
	idx.tracks++
}

// Album looks up the album of a track, falling back to fuzzy matching of
// artist and title.
func (idx *Index) Album(artist, title string) (string, bool) {
	a, t := normalize(artist), normalize(title)
	if a == "" || t == "" {
		return "", false
	}

	titles, ok := idx.albums[a]
	if !ok {
		titles, ok = idx.albums[bestMatch(a, slices.Sorted(maps.Keys(idx.albums)))]
		if !ok {
			return "", false
		}
	}
	if album, ok := titles[t]; ok {
		return album, true
	}
	album, ok := titles[bestMatch(t, slices.Sorted(maps.Keys(titles)))]
	return album, ok
}

// Scan walks roots and indexes every supported audio file with readable tags.
// Unreadable files are skipped.
func Scan(ctx context.Context, roots []string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := NewIndex()
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			idx.addFile(path, logger)
			return nil
		})
		if err != nil {
			return idx, err
		}
	}
	logger.Info("library scanned", slog.Int("tracks", idx.Len()), slog.Any("roots", roots))
	return idx, nil
}

func (idx *Index) addFile(path string, logger *slog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		logger.Debug("read tags", slog.String("path", path), slog.Any("err", err))
		return
	}
	artist := meta.Artist()
	if artist == "" {
		artist = meta.AlbumArtist()
	}
	idx.Add(artist, meta.Title(), meta.Album())
}

// Backfill returns a copy of events with empty albums filled from idx, and
// the number of events that were filled.
func Backfill(events []scrobble.PlayEvent, idx *Index) ([]scrobble.PlayEvent, int) {
	out := make([]scrobble.PlayEvent, len(events))
	copy(out, events)
	if idx == nil {
		return out, 0
	}
	filled := 0
	for i := range out {
		if out[i].Album != "" {
			continue
		}
		if album, ok := idx.Album(out[i].Artist, out[i].Title); ok {
			out[i].Album = album
			filled++
		}
	}
	return out, filled
}

func bestMatch(needle string, candidates []string) string {
	var best string
	var bestScore float32
	for _, c := range candidates {
		sim, err := edlib.StringsSimilarity(needle, c, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if sim > bestScore {
			best, bestScore = c, sim
		}
	}
	if bestScore < MinSimilarity {
		return ""
	}
	return best
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
