package musicbrainz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/session"
	"github.com/flarexio/tagger/tagging"
)

const searchResponse = `{
  "releases": [
    {"id": "rel-1", "score": 100, "title": "Kind of Blue"}
  ]
}`

const releaseResponse = `{
  "id": "rel-1",
  "title": "Kind of Blue",
  "date": "1959-08-17",
  "country": "US",
  "artist-credit": [{"name": "Miles Davis", "joinphrase": ""}],
  "label-info": [{"label": {"name": "Columbia"}}],
  "media": [
    {
      "position": 1,
      "tracks": [
        {"id": "t1", "position": 1, "title": "So What", "length": 545000, "recording": {"id": "rec-1"}},
        {"id": "t2", "position": 2, "title": "Freddie Freeloader", "length": 589000, "recording": {"id": "rec-2"},
         "artist-credit": [{"name": "Miles Davis", "joinphrase": " & "}, {"name": "Wynton Kelly"}]}
      ]
    }
  ]
}`

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)

		assert.Equal(t, "tagger-test/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))

		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/ws/2/release/":
			assert.Equal(t, `release:"Kind of Blue" AND artist:"Miles Davis"`, r.URL.Query().Get("query"))
			w.Write([]byte(searchResponse))

		case "/ws/2/release/rel-1":
			assert.Equal(t, "recordings artist-credits labels", r.URL.Query().Get("inc"))
			w.Write([]byte(releaseResponse))

		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(baseURL string) *Client {
	return NewClient(conf.MusicBrainz{
		Enabled:   true,
		BaseURL:   baseURL,
		UserAgent: "tagger-test/1.0",
		RateLimit: 1000,
		CacheTTL:  time.Minute,
	})
}

func TestSearch(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	defer srv.Close()

	client := newTestClient(srv.URL)

	ctx := context.Background()
	q := tagging.Query{Album: "Kind of Blue", Artist: "Miles Davis", Tracks: 2}

	infos, err := client.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info := infos[0]
	assert.Equal(t, "rel-1", info.ReleaseID)
	assert.Equal(t, "Kind of Blue", info.Album)
	assert.Equal(t, "Miles Davis", info.Artist)
	assert.Equal(t, 1959, info.Year)
	assert.Equal(t, "Columbia", info.Label)
	assert.Equal(t, "US", info.Country)

	require.Len(t, info.Tracks, 2)
	assert.Equal(t, session.TrackInfo{
		TrackID: "rec-1",
		Title:   "So What",
		Track:   1,
		Length:  545,
	}, info.Tracks[0])
	assert.Equal(t, "Miles Davis & Wynton Kelly", info.Tracks[1].Artist)
	assert.Zero(t, info.Tracks[1].Disc)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	// memoized
	_, err = client.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	assert.Equal(t, session.MusicBrainz, client.Source())
}

func TestSearchEmptyQuery(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")

	infos, err := client.Search(context.Background(), tagging.Query{})
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	_, err := client.Search(context.Background(), tagging.Query{Album: "X"})
	assert.ErrorContains(t, err, "503")
}

func TestBuildQueryEscapes(t *testing.T) {
	q := buildQuery(tagging.Query{Album: `Say "Hi"`, Artist: `A\B`})
	assert.Equal(t, `release:"Say \"Hi\"" AND artist:"A\\B"`, q)
}
