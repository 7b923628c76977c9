package folder

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrNotDirectory = errors.New("not a directory")
	ErrNotInInbox   = errors.New("folder not in any inbox")
)

var audioExtensions = map[string]struct{}{
	".aac":  {},
	".aif":  {},
	".aiff": {},
	".alac": {},
	".flac": {},
	".m4a":  {},
	".mp3":  {},
	".ogg":  {},
	".opus": {},
	".wav":  {},
	".wma":  {},
}

func IsAudio(name string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

type Folder struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	IsAlbum  bool      `json:"is_album"`
	Files    []string  `json:"files"`
	Children []*Folder `json:"children"`
}

// Hash digests the metadata of every entry below path. Contents are not
// read; a file counts as changed when its size or mtime changes.
func Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if !info.IsDir() {
		return "", ErrNotDirectory
	}

	var entries []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == path {
			return nil
		}

		if hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entry := filepath.ToSlash(rel)
		if d.IsDir() {
			entry += "/\x00d"
		} else {
			entry += "\x00" + strconv.FormatInt(info.Size(), 10) +
				"\x00" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(entries)

	h := xxhash.New()
	for _, entry := range entries {
		h.WriteString(entry)
		h.WriteString("\n")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Walk builds the folder tree below path. Subfolders without any audio
// file in their subtree are left out.
func Walk(path string) (*Folder, error) {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	return walk(path)
}

func walk(path string) (*Folder, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	hash, err := Hash(path)
	if err != nil {
		return nil, err
	}

	f := &Folder{
		Name:     filepath.Base(path),
		Path:     path,
		Hash:     hash,
		Files:    make([]string, 0),
		Children: make([]*Folder, 0),
	}

	for _, entry := range entries {
		if hidden(entry.Name()) {
			continue
		}

		if entry.IsDir() {
			child, err := walk(filepath.Join(path, entry.Name()))
			if err != nil {
				return nil, err
			}

			if child.hasAudio() {
				f.Children = append(f.Children, child)
			}

			continue
		}

		if IsAudio(entry.Name()) {
			f.Files = append(f.Files, entry.Name())
		}
	}

	f.IsAlbum = len(f.Files) > 0
	return f, nil
}

func (f *Folder) hasAudio() bool {
	return f.IsAlbum || len(f.Children) > 0
}

// AlbumDirs lists the directories in the tree, the root included, which
// directly contain audio files.
func (f *Folder) AlbumDirs() []string {
	dirs := make([]string, 0)
	if f.IsAlbum {
		dirs = append(dirs, f.Path)
	}

	for _, child := range f.Children {
		dirs = append(dirs, child.AlbumDirs()...)
	}

	sort.Strings(dirs)
	return dirs
}

func AlbumDirs(path string) ([]string, error) {
	f, err := Walk(path)
	if err != nil {
		return nil, err
	}

	return f.AlbumDirs(), nil
}

// Find returns the node for path within the tree.
func (f *Folder) Find(path string) (*Folder, bool) {
	path = filepath.Clean(path)
	if f.Path == path {
		return f, true
	}

	for _, child := range f.Children {
		if found, ok := child.Find(path); ok {
			return found, true
		}
	}

	return nil, false
}
