package tagging

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/session"
)

const (
	weightAlbum         = 3.0
	weightArtist        = 3.0
	weightTracks        = 2.0
	weightTrackTitle    = 1.0
	weightMissingTrack  = 0.9
	weightUnmatchedItem = 0.9
	weightYear          = 0.5
	maxTitleMapDistance = 0.7
)

// penalty names in report order
var penaltyOrder = []string{
	"album",
	"artist",
	"tracks",
	"track_title",
	"missing_tracks",
	"unmatched_items",
	"year",
}

type Recommendation string

const (
	Strong Recommendation = "strong"
	Medium Recommendation = "medium"
	Low    Recommendation = "low"
)

func Recommend(distance float64, match conf.Match) Recommendation {
	switch {
	case distance <= match.StrongThreshold:
		return Strong
	case distance <= match.MediumThreshold:
		return Medium
	default:
		return Low
	}
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// StringDistance is the Levenshtein distance of the normalized strings
// divided by the longer length, 0 for equal and 1 when either is empty.
func StringDistance(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return 1
	}

	if a == b {
		return 0
	}

	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}

	d := float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
	return math.Min(d, 1)
}

type distance struct {
	total  float64
	max    float64
	byName map[string]float64
}

func (d *distance) add(name string, weight float64, dist float64) {
	d.total += weight * dist
	d.max += weight

	if d.byName == nil {
		d.byName = make(map[string]float64)
	}
	d.byName[name] += weight * dist
}

func (d *distance) value() float64 {
	if d.max == 0 {
		return 0
	}

	return d.total / d.max
}

func (d *distance) penalties() []string {
	names := make([]string, 0)
	for _, name := range penaltyOrder {
		if d.byName[name] > 0 {
			names = append(names, name)
		}
	}

	return names
}

// Map links items to the candidate's tracks by track number first and the
// closest title after that.
func Map(items []*session.Item, tracks []session.TrackInfo) map[int]int {
	mapping := make(map[int]int)
	usedTracks := make(map[int]bool)

	for i, item := range items {
		if item.Track <= 0 {
			continue
		}

		for j, track := range tracks {
			if usedTracks[j] || track.Track != item.Track {
				continue
			}

			if item.Disc > 0 && track.Disc > 0 && item.Disc != track.Disc {
				continue
			}

			mapping[i] = j
			usedTracks[j] = true
			break
		}
	}

	type pair struct {
		item, track int
		dist        float64
	}

	pairs := make([]pair, 0)
	for i, item := range items {
		if _, ok := mapping[i]; ok {
			continue
		}

		for j, track := range tracks {
			if usedTracks[j] {
				continue
			}

			d := StringDistance(item.Title, track.Title)
			if d <= maxTitleMapDistance {
				pairs = append(pairs, pair{i, j, d})
			}
		}
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].dist < pairs[b].dist
	})

	for _, p := range pairs {
		if _, ok := mapping[p.item]; ok || usedTracks[p.track] {
			continue
		}

		mapping[p.item] = p.track
		usedTracks[p.track] = true
	}

	return mapping
}

// Score fills the mapping, distance and penalties of the candidate.
func Score(c *session.Candidate, items []*session.Item) {
	c.Mapping = Map(items, c.Info.Tracks)

	q := queryFor(items)

	var d distance
	d.add("album", weightAlbum, StringDistance(q.Album, c.Info.Album))
	d.add("artist", weightArtist, StringDistance(q.Artist, c.Info.Artist))

	if n, m := len(items), len(c.Info.Tracks); n != m {
		longest := math.Max(float64(n), float64(m))
		d.add("tracks", weightTracks, math.Abs(float64(n-m))/longest)
	} else {
		d.add("tracks", weightTracks, 0)
	}

	matched := make(map[int]bool, len(c.Mapping))
	for i, j := range c.Mapping {
		matched[j] = true
		d.add("track_title", weightTrackTitle, StringDistance(items[i].Title, c.Info.Tracks[j].Title))
	}

	for j := range c.Info.Tracks {
		if !matched[j] {
			d.add("missing_tracks", weightMissingTrack, 1)
		}
	}

	for i := range items {
		if _, ok := c.Mapping[i]; !ok {
			d.add("unmatched_items", weightUnmatchedItem, 1)
		}
	}

	if q.Year > 0 && c.Info.Year > 0 {
		diff := math.Abs(float64(q.Year - c.Info.Year))
		d.add("year", weightYear, math.Min(diff/10, 1))
	}

	c.Distance = d.value()
	c.Penalties = d.penalties()
}
