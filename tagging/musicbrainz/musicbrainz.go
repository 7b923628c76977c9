package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/session"
	"github.com/flarexio/tagger/tagging"
)

const searchLimit = 5

func NewClient(cfg conf.MusicBrainz) *Client {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 1
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(limit), 1),
		cache:     cache.New(ttl, 2*ttl),
	}
}

// Client queries the MusicBrainz web service. Requests are throttled to
// the configured rate and responses are memoized.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	cache     *cache.Cache
}

func (c *Client) Source() session.Source {
	return session.MusicBrainz
}

type artistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
}

func joinCredits(credits []artistCredit) string {
	var b strings.Builder
	for _, credit := range credits {
		b.WriteString(credit.Name)
		b.WriteString(credit.JoinPhrase)
	}

	return strings.TrimSpace(b.String())
}

type release struct {
	ID           string         `json:"id"`
	Score        int            `json:"score"`
	Title        string         `json:"title"`
	Date         string         `json:"date"`
	Country      string         `json:"country"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	LabelInfo    []struct {
		Label struct {
			Name string `json:"name"`
		} `json:"label"`
	} `json:"label-info"`
	Media []struct {
		Position int `json:"position"`
		Tracks   []struct {
			ID           string         `json:"id"`
			Position     int            `json:"position"`
			Title        string         `json:"title"`
			Length       int            `json:"length"`
			ArtistCredit []artistCredit `json:"artist-credit"`
			Recording    struct {
				ID string `json:"id"`
			} `json:"recording"`
		} `json:"tracks"`
	} `json:"media"`
}

func (r *release) info() *session.AlbumInfo {
	info := &session.AlbumInfo{
		ReleaseID: r.ID,
		Album:     r.Title,
		Artist:    joinCredits(r.ArtistCredit),
		Country:   r.Country,
		Tracks:    make([]session.TrackInfo, 0),
	}

	if len(r.Date) >= 4 {
		info.Year, _ = strconv.Atoi(r.Date[:4])
	}

	if len(r.LabelInfo) > 0 {
		info.Label = r.LabelInfo[0].Label.Name
	}

	multiDisc := len(r.Media) > 1
	for _, medium := range r.Media {
		for _, t := range medium.Tracks {
			track := session.TrackInfo{
				TrackID: t.Recording.ID,
				Title:   t.Title,
				Artist:  joinCredits(t.ArtistCredit),
				Track:   t.Position,
				Length:  float64(t.Length) / 1000,
			}

			if multiDisc {
				track.Disc = medium.Position
			}

			info.Tracks = append(info.Tracks, track)
		}
	}

	return info
}

var luceneEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
)

func buildQuery(q tagging.Query) string {
	parts := make([]string, 0, 2)
	if q.Album != "" {
		parts = append(parts, `release:"`+luceneEscaper.Replace(q.Album)+`"`)
	}

	if q.Artist != "" {
		parts = append(parts, `artist:"`+luceneEscaper.Replace(q.Artist)+`"`)
	}

	return strings.Join(parts, " AND ")
}

// Search finds releases by album and artist and returns them with their
// full track lists.
func (c *Client) Search(ctx context.Context, q tagging.Query) ([]*session.AlbumInfo, error) {
	query := buildQuery(q)
	if query == "" {
		return []*session.AlbumInfo{}, nil
	}

	key := "search:" + query
	if cached, found := c.cache.Get(key); found {
		return cached.([]*session.AlbumInfo), nil
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(searchLimit))
	params.Set("fmt", "json")

	var result struct {
		Releases []release `json:"releases"`
	}

	if err := c.get(ctx, "/ws/2/release/", params, &result); err != nil {
		return nil, err
	}

	infos := make([]*session.AlbumInfo, 0, len(result.Releases))
	for _, r := range result.Releases {
		info, err := c.Release(ctx, r.ID)
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	c.cache.SetDefault(key, infos)
	return infos, nil
}

// Release looks up a release with its recordings.
func (c *Client) Release(ctx context.Context, id string) (*session.AlbumInfo, error) {
	key := "release:" + id
	if cached, found := c.cache.Get(key); found {
		return cached.(*session.AlbumInfo), nil
	}

	params := url.Values{}
	params.Set("inc", "recordings artist-credits labels")
	params.Set("fmt", "json")

	var r release
	if err := c.get(ctx, "/ws/2/release/"+url.PathEscape(id), params, &r); err != nil {
		return nil, err
	}

	info := r.info()
	c.cache.SetDefault(key, info)

	return info, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("musicbrainz: %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
