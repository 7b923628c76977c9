package tagging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/session"
)

type staticSource struct {
	infos []*session.AlbumInfo
	err   error
}

func (s *staticSource) Source() session.Source {
	return session.MusicBrainz
}

func (s *staticSource) Search(ctx context.Context, q Query) ([]*session.AlbumInfo, error) {
	return s.infos, s.err
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0644))
}

func kindOfBlue() *session.AlbumInfo {
	return &session.AlbumInfo{
		ReleaseID: "rel-1",
		Album:     "Kind of Blue",
		Artist:    "Miles Davis",
		Year:      1959,
		Tracks: []session.TrackInfo{
			{TrackID: "rec-1", Title: "So What", Track: 1},
			{TrackID: "rec-2", Title: "Freddie Freeloader", Track: 2},
		},
	}
}

func TestReadFallsBackToPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Miles Davis", "Kind of Blue")
	touch(t, filepath.Join(dir, "02 - Freddie Freeloader.flac"))
	touch(t, filepath.Join(dir, "01 So What.mp3"))
	touch(t, filepath.Join(dir, "cover.jpg"))
	touch(t, filepath.Join(dir, ".hidden.flac"))

	tagger := NewTagger(NewMemoryTagIO(), conf.Match{}, conf.Library{})

	items, err := tagger.Read(dir)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "So What", items[0].Title)
	assert.Equal(t, 1, items[0].Track)
	assert.Equal(t, "mp3", items[0].Format)
	assert.Equal(t, "Kind of Blue", items[0].Album)
	assert.Equal(t, "Miles Davis", items[0].Artist)
	assert.Equal(t, "filename", items[0].Tags["source"])

	assert.Equal(t, "Freddie Freeloader", items[1].Title)
	assert.Equal(t, 2, items[1].Track)
}

func TestReadTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.flac")
	touch(t, path)

	io := NewMemoryTagIO()
	io.WriteTags(path, map[string][]string{
		"TITLE":       {"So What"},
		"ARTIST":      {"Miles Davis"},
		"ALBUM":       {"Kind of Blue"},
		"TRACKNUMBER": {"1/5"},
		"DISCNUMBER":  {"1"},
		"DATE":        {"1959-08-17"},
	})
	io.SetProperties(path, Properties{Length: 545 * time.Second})

	tagger := NewTagger(io, conf.Match{}, conf.Library{})

	items, err := tagger.Read(dir)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "So What", item.Title)
	assert.Equal(t, "Miles Davis", item.AlbumArtist)
	assert.Equal(t, 1, item.Track)
	assert.Equal(t, 1, item.Disc)
	assert.Equal(t, 1959, item.Year)
	assert.Equal(t, 545.0, item.Length)
	assert.Equal(t, "tags", item.Tags["source"])
}

func TestReadNoAudio(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "notes.txt"))

	tagger := NewTagger(NewMemoryTagIO(), conf.Match{}, conf.Library{})

	_, err := tagger.Read(dir)
	assert.ErrorIs(t, err, ErrNoAudio)
}

func testItems() []*session.Item {
	return []*session.Item{
		{Path: "/in/01.flac", Title: "So What", Artist: "Miles Davis", AlbumArtist: "Miles Davis", Album: "Kind of Blue", Track: 1, Year: 1959},
		{Path: "/in/02.flac", Title: "Freddie Freeloader", Artist: "Miles Davis", AlbumArtist: "Miles Davis", Album: "Kind of Blue", Track: 2, Year: 1959},
	}
}

func TestCandidates(t *testing.T) {
	other := &session.AlbumInfo{
		ReleaseID: "rel-2",
		Album:     "Sketches of Spain",
		Artist:    "Miles Davis",
		Tracks:    []session.TrackInfo{{Title: "Concierto de Aranjuez", Track: 1}},
	}

	source := &staticSource{infos: []*session.AlbumInfo{other, kindOfBlue()}}
	tagger := NewTagger(NewMemoryTagIO(), conf.Match{MaxCandidates: 1}, conf.Library{}, source)

	candidates, err := tagger.Candidates(context.Background(), testItems())
	require.NoError(t, err)
	require.Len(t, candidates, 2, "one source candidate plus as-is")

	best := candidates[0]
	assert.Equal(t, session.MusicBrainz, best.Source)
	assert.Equal(t, "rel-1", best.Info.ReleaseID)
	assert.Equal(t, 0.0, best.Distance)
	assert.Empty(t, best.Penalties)
	assert.Equal(t, map[int]int{0: 0, 1: 1}, best.Mapping)

	assert.Equal(t, session.AsIs, candidates[1].Source)
	assert.Equal(t, Strong, tagger.Recommend(best.Distance))
}

func TestCandidatesSourceFailure(t *testing.T) {
	source := &staticSource{err: errors.New("unavailable")}
	tagger := NewTagger(NewMemoryTagIO(), conf.Match{}, conf.Library{}, source)

	candidates, err := tagger.Candidates(context.Background(), testItems())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, session.AsIs, candidates[0].Source)
}

func TestScorePenalties(t *testing.T) {
	items := testItems()[:1]
	items[0].Title = "So Wha"

	c := session.NewCandidate(session.MusicBrainz, *kindOfBlue())
	c.Info.Year = 1960
	Score(c, items)

	assert.Greater(t, c.Distance, 0.0)
	assert.Less(t, c.Distance, 1.0)
	assert.Equal(t, []string{"tracks", "track_title", "missing_tracks", "year"}, c.Penalties)
	assert.Equal(t, map[int]int{0: 0}, c.Mapping)
}

func TestMapByTitle(t *testing.T) {
	items := []*session.Item{
		{Title: "freddie freeloader"},
		{Title: "So What!"},
		{Title: "Completely Unrelated"},
	}

	mapping := Map(items, kindOfBlue().Tracks)
	assert.Equal(t, map[int]int{0: 1, 1: 0}, mapping)
}

func TestStringDistance(t *testing.T) {
	assert.Equal(t, 0.0, StringDistance("Kind of Blue", "kind of  blue!"))
	assert.Equal(t, 1.0, StringDistance("", "x"))
	assert.InDelta(t, 0.25, StringDistance("abcd", "abce"), 1e-9)
}

func TestRecommend(t *testing.T) {
	match := conf.Match{}
	match.Defaults()

	assert.Equal(t, Strong, Recommend(0.04, match))
	assert.Equal(t, Medium, Recommend(0.2, match))
	assert.Equal(t, Low, Recommend(0.5, match))
}

func TestRenderPath(t *testing.T) {
	info := session.AlbumInfo{Album: "AC/DC: Live?", Artist: "AC/DC", Year: 1992}
	track := session.TrackInfo{Title: "Back in Black", Track: 3}

	path := RenderPath(conf.DefaultPathTemplate, info, track)
	assert.Equal(t, filepath.Join("AC_DC", "AC_DC_ Live_", "03 Back in Black"), path)

	path = RenderPath("$year/$disc-$track $artist - $title", info, track)
	assert.Equal(t, filepath.Join("1992", "1-03 AC_DC - Back in Black"), path)
}

func TestApplyMovesAndTags(t *testing.T) {
	inbox := t.TempDir()
	lib := t.TempDir()

	items := testItems()
	items[0].Path = filepath.Join(inbox, "01.flac")
	items[1].Path = filepath.Join(inbox, "02.flac")
	touch(t, items[0].Path)
	touch(t, items[1].Path)

	io := NewMemoryTagIO()
	tagger := NewTagger(io, conf.Match{}, conf.Library{Directory: lib})

	c := session.NewCandidate(session.MusicBrainz, *kindOfBlue())
	Score(c, items)

	placements, err := tagger.Apply(context.Background(), items, c)
	require.NoError(t, err)
	require.Len(t, placements, 2)

	dest := filepath.Join(lib, "Miles Davis", "Kind of Blue", "01 So What.flac")
	assert.Equal(t, dest, placements[0].Dest)
	assert.FileExists(t, dest)
	assert.NoFileExists(t, items[0].Path)

	tags, err := io.ReadTags(dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"So What"}, tags["TITLE"])
	assert.Equal(t, []string{"rel-1"}, tags["MUSICBRAINZ_ALBUMID"])
	assert.Equal(t, []string{"1959"}, tags["DATE"])
}

func TestApplyCopyAndCollision(t *testing.T) {
	inbox := t.TempDir()
	lib := t.TempDir()

	items := testItems()
	items[0].Path = filepath.Join(inbox, "01.flac")
	items[1].Path = filepath.Join(inbox, "02.flac")
	touch(t, items[0].Path)
	touch(t, items[1].Path)

	taken := filepath.Join(lib, "Miles Davis", "Kind of Blue", "02 Freddie Freeloader.flac")
	touch(t, taken)

	tagger := NewTagger(NewMemoryTagIO(), conf.Match{}, conf.Library{Directory: lib, Copy: true})

	c := session.NewCandidate(session.MusicBrainz, *kindOfBlue())
	Score(c, items)

	placements, err := tagger.Apply(context.Background(), items, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileExists)
	require.Len(t, placements, 1)

	assert.FileExists(t, items[0].Path, "copy keeps the source")
	assert.FileExists(t, placements[0].Dest)
}

func TestApplyWithoutCandidate(t *testing.T) {
	tagger := NewTagger(NewMemoryTagIO(), conf.Match{}, conf.Library{})

	_, err := tagger.Apply(context.Background(), testItems(), nil)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestRemovePrunesEmptyDirs(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "Artist", "Album", "01.flac")
	b := filepath.Join(root, "Artist", "Other", "01.flac")
	touch(t, a)
	touch(t, b)

	require.NoError(t, Remove(root, []string{a}))

	assert.NoDirExists(t, filepath.Join(root, "Artist", "Album"))
	assert.DirExists(t, filepath.Join(root, "Artist"))
	assert.DirExists(t, root)
}
