package library

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flarexio/tagger/session"
)

var (
	ErrAlbumNotFound = errors.New("album not found")
	ErrItemNotFound  = errors.New("item not found")
)

type AlbumID ulid.ULID

func MakeAlbumID() AlbumID {
	return AlbumID(ulid.Make())
}

func ParseAlbumID(id string) (AlbumID, error) {
	albumID, err := ulid.Parse(id)
	if err != nil {
		return AlbumID{}, err
	}
	return AlbumID(albumID), nil
}

func (id AlbumID) Time() time.Time {
	return ulid.Time(ulid.ULID(id).Time())
}

func (id AlbumID) String() string {
	return ulid.ULID(id).String()
}

func (id AlbumID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *AlbumID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	albumID, err := ParseAlbumID(s)
	if err != nil {
		return err
	}

	*id = albumID
	return nil
}

type Album struct {
	ID          AlbumID           `json:"id"`
	SessionID   session.SessionID `json:"session_id"`
	ReleaseID   string            `json:"release_id,omitempty"`
	Album       string            `json:"album"`
	AlbumArtist string            `json:"albumartist"`
	Year        int               `json:"year,omitempty"`
	Path        string            `json:"path"`
	Items       []*Item           `json:"items"`
	CreatedAt   time.Time         `json:"created_at"`
}

func NewAlbum(sessionID session.SessionID, info session.AlbumInfo) *Album {
	id := MakeAlbumID()

	return &Album{
		ID:          id,
		SessionID:   sessionID,
		ReleaseID:   info.ReleaseID,
		Album:       info.Album,
		AlbumArtist: info.Artist,
		Year:        info.Year,
		Items:       make([]*Item, 0),
		CreatedAt:   id.Time(),
	}
}

func (a *Album) AddItem(item *Item) {
	item.AlbumID = a.ID
	a.Items = append(a.Items, item)
}

type Item struct {
	ID         uint64         `json:"id"`
	AlbumID    AlbumID        `json:"album_id"`
	Path       string         `json:"path"`
	SourcePath string         `json:"source_path"`
	Title      string         `json:"title"`
	Artist     string         `json:"artist"`
	Track      int            `json:"track"`
	Disc       int            `json:"disc"`
	Length     float64        `json:"length"`
	Tags       map[string]any `json:"tags"`
}

type Repository interface {
	// Command

	Store(a *Album) error
	Delete(id AlbumID) error

	// Query

	List(query string) ([]*Album, error)
	Find(id AlbumID) (*Album, error)
	FindDuplicate(releaseID string, albumArtist string, album string) (*Album, error)
	FindItem(id uint64) (*Item, error)
	Count() (albums int, items int, err error)

	Close() error
}
