package tagging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"go.senan.xyz/taglib"
	"go.uber.org/zap"

	"github.com/flarexio/tagger/session"
)

type Placement struct {
	Source string
	Dest   string
	Item   *session.Item
	Track  session.TrackInfo
}

var templateVars = []string{
	"$albumartist",
	"$artist",
	"$album",
	"$title",
	"$track",
	"$disc",
	"$year",
}

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "",
)

// Sanitize makes a single path component safe for common filesystems.
func Sanitize(component string) string {
	s := strings.TrimSpace(unsafeChars.Replace(component))
	s = strings.Trim(s, ". ")
	if s == "" {
		return "_"
	}

	return s
}

// RenderPath expands the template for one track. Every variable is
// sanitized before it is substituted so values never add directories.
func RenderPath(template string, info session.AlbumInfo, track session.TrackInfo) string {
	values := map[string]string{
		"$albumartist": info.Artist,
		"$artist":      track.Artist,
		"$album":       info.Album,
		"$title":       track.Title,
		"$track":       fmt.Sprintf("%02d", track.Track),
		"$disc":        strconv.Itoa(track.Disc),
		"$year":        strconv.Itoa(info.Year),
	}

	if values["$artist"] == "" {
		values["$artist"] = info.Artist
	}

	if track.Disc == 0 {
		values["$disc"] = "1"
	}

	if info.Year == 0 {
		values["$year"] = "0000"
	}

	parts := strings.Split(template, "/")
	for i, part := range parts {
		for _, v := range templateVars {
			part = strings.ReplaceAll(part, v, strings.ReplaceAll(Sanitize(values[v]), "$", "_"))
		}

		parts[i] = Sanitize(part)
	}

	return filepath.Join(parts...)
}

func tagsFor(info session.AlbumInfo, track session.TrackInfo) map[string][]string {
	artist := track.Artist
	if artist == "" {
		artist = info.Artist
	}

	tags := map[string][]string{
		taglib.Title:       {track.Title},
		taglib.Artist:      {artist},
		taglib.AlbumArtist: {info.Artist},
		taglib.Album:       {info.Album},
	}

	if track.Track > 0 {
		tags[taglib.TrackNumber] = []string{strconv.Itoa(track.Track)}
	}

	if track.Disc > 0 {
		tags[taglib.DiscNumber] = []string{strconv.Itoa(track.Disc)}
	}

	if info.Year > 0 {
		tags[taglib.Date] = []string{strconv.Itoa(info.Year)}
	}

	if info.ReleaseID != "" {
		tags["MUSICBRAINZ_ALBUMID"] = []string{info.ReleaseID}
	}

	if track.TrackID != "" {
		tags["MUSICBRAINZ_TRACKID"] = []string{track.TrackID}
	}

	if info.Label != "" {
		tags["LABEL"] = []string{info.Label}
	}

	return tags
}

// Apply places every mapped item below the library directory and writes
// the candidate's tags to the placed file. Items whose destination already
// exists fail individually; all failures are returned together.
func (t *Tagger) Apply(ctx context.Context, items []*session.Item, c *session.Candidate) ([]*Placement, error) {
	if c == nil {
		return nil, ErrNoCandidate
	}

	var result *multierror.Error

	placements := make([]*Placement, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		j, ok := c.Mapping[i]
		if !ok || j < 0 || j >= len(c.Info.Tracks) {
			t.log.Debug("item not mapped, left in place", zap.String("path", item.Path))
			continue
		}

		track := c.Info.Tracks[j]

		rel := RenderPath(t.library.PathTemplate, c.Info, track)
		dest := filepath.Join(t.library.Directory, rel+strings.ToLower(filepath.Ext(item.Path)))

		if err := t.place(item.Path, dest, tagsFor(c.Info, track)); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", item.Path, err))
			continue
		}

		placements = append(placements, &Placement{
			Source: item.Path,
			Dest:   dest,
			Item:   item,
			Track:  track,
		})
	}

	return placements, result.ErrorOrNil()
}

func (t *Tagger) place(src string, dest string, tags map[string][]string) error {
	if _, err := os.Stat(dest); err == nil {
		return ErrFileExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	if t.library.Copy {
		if err := copyFile(src, dest); err != nil {
			return err
		}

		if err := t.io.WriteTags(dest, tags); err != nil {
			os.Remove(dest)
			return err
		}

		return nil
	}

	if err := moveFile(src, dest); err != nil {
		return err
	}

	if err := t.io.WriteTags(dest, tags); err != nil {
		moveFile(dest, src)
		return err
	}

	return nil
}

func moveFile(src string, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dest); err != nil {
		return err
	}

	return os.Remove(src)
}

func copyFile(src string, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}

	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}

// Remove deletes the files and then every directory left empty up to,
// but not including, root.
func Remove(root string, paths []string) error {
	var result *multierror.Error

	dirs := make(map[string]struct{})
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
			continue
		}

		dirs[filepath.Dir(p)] = struct{}{}
	}

	root = filepath.Clean(root)
	for dir := range dirs {
		for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
			if err := os.Remove(dir); err != nil {
				break
			}

			dir = filepath.Dir(dir)
		}
	}

	return result.ErrorOrNil()
}
