package tagging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.senan.xyz/taglib"
	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/session"
)

var (
	ErrNoAudio       = errors.New("no audio files")
	ErrFolderChanged = errors.New("folder changed since it was queued")
	ErrDuplicate     = errors.New("album already in library")
	ErrNoCandidate   = errors.New("no candidate chosen")
	ErrFileExists    = errors.New("destination file exists")
)

type Query struct {
	Album  string
	Artist string
	Year   int
	Tracks int
}

// MetadataSource looks up releases matching the current tags of a folder.
type MetadataSource interface {
	Source() session.Source
	Search(ctx context.Context, q Query) ([]*session.AlbumInfo, error)
}

type Tagger struct {
	io      TagIO
	sources []MetadataSource
	match   conf.Match
	library conf.Library
	log     *zap.Logger
}

func NewTagger(io TagIO, match conf.Match, library conf.Library, sources ...MetadataSource) *Tagger {
	match.Defaults()

	if library.PathTemplate == "" {
		library.PathTemplate = conf.DefaultPathTemplate
	}

	return &Tagger{
		io:      io,
		sources: sources,
		match:   match,
		library: library,
		log:     zap.L().With(zap.String("infra", "tagger")),
	}
}

// Read returns an item for every audio file directly inside dir, ordered
// by file name.
func (t *Tagger) Read(dir string) ([]*session.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if folder.IsAudio(entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	if len(names) == 0 {
		return nil, ErrNoAudio
	}

	sort.Strings(names)

	items := make([]*session.Item, len(names))
	for i, name := range names {
		items[i] = t.readItem(filepath.Join(dir, name))
	}

	return items, nil
}

func (t *Tagger) readItem(path string) *session.Item {
	item := fallbackItem(path)

	tags, err := t.io.ReadTags(path)
	if err != nil {
		item.Tags["source"] = "filename"
		t.log.Debug("tags unreadable, using filename",
			zap.String("path", path),
			zap.Error(err),
		)
	} else {
		applyTags(item, tags)
		item.Tags["source"] = "tags"

		raw := make(map[string]any, len(tags))
		for k, v := range tags {
			raw[k] = v
		}
		item.Tags["raw"] = raw
	}

	if props, err := t.io.ReadProperties(path); err == nil {
		item.Length = props.Length.Seconds()
		item.Tags["bitrate"] = props.Bitrate
		item.Tags["sample_rate"] = props.SampleRate
		item.Tags["images"] = props.Images
	}

	return item
}

var trackPrefix = regexp.MustCompile(`^(\d{1,3})(?:\s*[-._]\s*|\s+)(.+)$`)

// fallbackItem derives metadata from the path: "NN - Title" file names,
// the parent directory as album and the one above it as artist.
func fallbackItem(path string) *session.Item {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSpace(strings.TrimSuffix(base, ext))

	item := &session.Item{
		Path:   path,
		Format: strings.TrimPrefix(strings.ToLower(ext), "."),
		Title:  name,
		Tags:   make(map[string]any),
	}

	if m := trackPrefix.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			item.Track = n
			item.Title = strings.TrimSpace(m[2])
		}
	}

	dir := filepath.Dir(path)
	item.Album = filepath.Base(dir)

	parent := filepath.Dir(dir)
	if parent != dir && parent != string(filepath.Separator) && parent != "." {
		item.Artist = filepath.Base(parent)
		item.AlbumArtist = item.Artist
	}

	return item
}

func firstTag(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		for _, v := range tags[key] {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}

	return ""
}

// leadingNumber parses values like "3", "03/12" or "1999-05-01".
func leadingNumber(value string) int {
	end := 0
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}

	n, err := strconv.Atoi(value[:end])
	if err != nil {
		return 0
	}

	return n
}

func applyTags(item *session.Item, tags map[string][]string) {
	if v := firstTag(tags, taglib.Title); v != "" {
		item.Title = v
	}

	if v := firstTag(tags, taglib.Artist); v != "" {
		item.Artist = v
	}

	if v := firstTag(tags, taglib.AlbumArtist); v != "" {
		item.AlbumArtist = v
	} else if item.Artist != "" {
		item.AlbumArtist = item.Artist
	}

	if v := firstTag(tags, taglib.Album); v != "" {
		item.Album = v
	}

	if n := leadingNumber(firstTag(tags, taglib.TrackNumber)); n > 0 {
		item.Track = n
	}

	if n := leadingNumber(firstTag(tags, taglib.DiscNumber)); n > 0 {
		item.Disc = n
	}

	if n := leadingNumber(firstTag(tags, taglib.Date, "YEAR", "ORIGINALDATE")); n > 0 {
		item.Year = n
	}
}

// Candidates builds the as-is candidate from the current tags and asks
// every metadata source for more. Results are ordered by distance and the
// as-is candidate is always kept.
func (t *Tagger) Candidates(ctx context.Context, items []*session.Item) ([]*session.Candidate, error) {
	if len(items) == 0 {
		return nil, ErrNoAudio
	}

	q := queryFor(items)

	found := make([]*session.Candidate, 0)
	for _, source := range t.sources {
		infos, err := source.Search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			t.log.Warn("metadata lookup failed",
				zap.String("source", string(source.Source())),
				zap.Error(err),
			)
			continue
		}

		for _, info := range infos {
			c := session.NewCandidate(source.Source(), *info)
			Score(c, items)
			found = append(found, c)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Distance < found[j].Distance
	})

	if limit := t.match.MaxCandidates; len(found) > limit {
		found = found[:limit]
	}

	asis := AsIs(items)
	Score(asis, items)

	// ties prefer the looked up release
	candidates := append(found, asis)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})

	return candidates, nil
}

// AsIs describes the album by the tags the items already carry.
func AsIs(items []*session.Item) *session.Candidate {
	q := queryFor(items)

	info := session.AlbumInfo{
		Album:  q.Album,
		Artist: q.Artist,
		Year:   q.Year,
		Tracks: make([]session.TrackInfo, len(items)),
	}

	for i, item := range items {
		info.Tracks[i] = session.TrackInfo{
			Title:  item.Title,
			Artist: item.Artist,
			Track:  item.Track,
			Disc:   item.Disc,
			Length: item.Length,
		}
	}

	return session.NewCandidate(session.AsIs, info)
}

func queryFor(items []*session.Item) Query {
	albums := make([]string, len(items))
	artists := make([]string, len(items))
	years := make([]string, 0, len(items))

	for i, item := range items {
		albums[i] = item.Album

		artist := item.AlbumArtist
		if artist == "" {
			artist = item.Artist
		}
		artists[i] = artist

		if item.Year > 0 {
			years = append(years, strconv.Itoa(item.Year))
		}
	}

	year, _ := strconv.Atoi(mostCommon(years))

	return Query{
		Album:  mostCommon(albums),
		Artist: mostCommon(artists),
		Year:   year,
		Tracks: len(items),
	}
}

func mostCommon(values []string) string {
	counts := make(map[string]int)

	var best string
	for _, v := range values {
		if v == "" {
			continue
		}

		counts[v]++
		if counts[v] > counts[best] || (counts[v] == counts[best] && v < best) {
			best = v
		}
	}

	return best
}

func (t *Tagger) Recommend(distance float64) Recommendation {
	return Recommend(distance, t.match)
}

// Artwork returns the first embedded picture of the file.
func (t *Tagger) Artwork(path string) ([]byte, error) {
	return t.io.ReadImage(path)
}
