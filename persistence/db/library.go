package db

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/session"
)

type Album struct {
	ID          string `gorm:"primaryKey"`
	SessionID   string `gorm:"index"`
	ReleaseID   string `gorm:"index"`
	Album       string `gorm:"index"`
	AlbumArtist string `gorm:"index"`
	Year        int
	Path        string
	Items       []*LibraryItem `gorm:"foreignKey:AlbumID"`
	CreatedAt   time.Time
}

func NewAlbum(a *library.Album) (*Album, error) {
	items := make([]*LibraryItem, len(a.Items))
	for i, it := range a.Items {
		item, err := NewLibraryItem(it)
		if err != nil {
			return nil, err
		}

		items[i] = item
	}

	return &Album{
		ID:          a.ID.String(),
		SessionID:   a.SessionID.String(),
		ReleaseID:   a.ReleaseID,
		Album:       a.Album,
		AlbumArtist: a.AlbumArtist,
		Year:        a.Year,
		Path:        a.Path,
		Items:       items,
		CreatedAt:   a.CreatedAt,
	}, nil
}

func (a *Album) reconstitute() (*library.Album, error) {
	id, err := library.ParseAlbumID(a.ID)
	if err != nil {
		return nil, err
	}

	sessionID, err := session.ParseSessionID(a.SessionID)
	if err != nil {
		return nil, err
	}

	items := make([]*library.Item, len(a.Items))
	for i, it := range a.Items {
		item, err := it.reconstitute()
		if err != nil {
			return nil, err
		}

		items[i] = item
	}

	return &library.Album{
		ID:          id,
		SessionID:   sessionID,
		ReleaseID:   a.ReleaseID,
		Album:       a.Album,
		AlbumArtist: a.AlbumArtist,
		Year:        a.Year,
		Path:        a.Path,
		Items:       items,
		CreatedAt:   a.CreatedAt,
	}, nil
}

type LibraryItem struct {
	ID         uint64 `gorm:"primaryKey"`
	AlbumID    string `gorm:"index"`
	Path       string `gorm:"uniqueIndex"`
	SourcePath string
	Title      string
	Artist     string
	Track      int
	Disc       int
	Length     float64
	Tags       JSONDict
}

func NewLibraryItem(it *library.Item) (*LibraryItem, error) {
	tags, err := NewJSONDict(it.Tags)
	if err != nil {
		return nil, err
	}

	return &LibraryItem{
		ID:         it.ID,
		AlbumID:    it.AlbumID.String(),
		Path:       it.Path,
		SourcePath: it.SourcePath,
		Title:      it.Title,
		Artist:     it.Artist,
		Track:      it.Track,
		Disc:       it.Disc,
		Length:     it.Length,
		Tags:       tags,
	}, nil
}

func (it *LibraryItem) reconstitute() (*library.Item, error) {
	albumID, err := library.ParseAlbumID(it.AlbumID)
	if err != nil {
		return nil, err
	}

	return &library.Item{
		ID:         it.ID,
		AlbumID:    albumID,
		Path:       it.Path,
		SourcePath: it.SourcePath,
		Title:      it.Title,
		Artist:     it.Artist,
		Track:      it.Track,
		Disc:       it.Disc,
		Length:     it.Length,
		Tags:       map[string]any(it.Tags),
	}, nil
}

func NewLibraryRepository(db *gorm.DB) library.Repository {
	repo := new(libraryRepository)
	repo.db = db
	return repo
}

type libraryRepository struct {
	db *gorm.DB
}

func (repo *libraryRepository) Store(a *library.Album) error {
	album, err := NewAlbum(a) // convert Domain to Data model
	if err != nil {
		return err
	}

	err = repo.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("album_id = ?", album.ID).Delete(&LibraryItem{}).Error; err != nil {
			return err
		}

		if err := tx.Omit(clause.Associations).Save(album).Error; err != nil {
			return err
		}

		if len(album.Items) == 0 {
			return nil
		}

		return tx.Create(&album.Items).Error
	})
	if err != nil {
		return err
	}

	// write back generated item ids
	for i, item := range album.Items {
		a.Items[i].ID = item.ID
	}

	return nil
}

func (repo *libraryRepository) Delete(id library.AlbumID) error {
	return repo.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("album_id = ?", id.String()).Delete(&LibraryItem{}).Error; err != nil {
			return err
		}

		result := tx.Delete(&Album{}, "id = ?", id.String())
		if err := result.Error; err != nil {
			return err
		}

		if result.RowsAffected == 0 {
			return library.ErrAlbumNotFound
		}

		return nil
	})
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("disc, track, path")
	})
}

func (repo *libraryRepository) List(query string) ([]*library.Album, error) {
	q := preloadItems(repo.db).Order("album_artist, album")
	if query != "" {
		pattern := "%" + query + "%"
		q = q.Where("album LIKE ? OR album_artist LIKE ?", pattern, pattern)
	}

	var albums []*Album
	if err := q.Find(&albums).Error; err != nil {
		return nil, err
	}

	results := make([]*library.Album, 0, len(albums))
	for _, a := range albums {
		album, err := a.reconstitute()
		if err != nil {
			return nil, err
		}

		results = append(results, album)
	}

	return results, nil
}

func (repo *libraryRepository) Find(id library.AlbumID) (*library.Album, error) {
	var album *Album

	result := preloadItems(repo.db).Take(&album, "id = ?", id.String())
	if err := result.Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, library.ErrAlbumNotFound
		}

		return nil, err
	}

	return album.reconstitute()
}

func (repo *libraryRepository) FindDuplicate(releaseID string, albumArtist string, album string) (*library.Album, error) {
	q := preloadItems(repo.db)
	if releaseID != "" {
		q = q.Where("release_id = ?", releaseID)
	} else {
		q = q.Where("LOWER(album_artist) = LOWER(?) AND LOWER(album) = LOWER(?)", albumArtist, album)
	}

	var a *Album
	if err := q.Take(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, library.ErrAlbumNotFound
		}

		return nil, err
	}

	return a.reconstitute()
}

func (repo *libraryRepository) FindItem(id uint64) (*library.Item, error) {
	var item *LibraryItem

	result := repo.db.Take(&item, "id = ?", id)
	if err := result.Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, library.ErrItemNotFound
		}

		return nil, err
	}

	return item.reconstitute()
}

func (repo *libraryRepository) Count() (int, int, error) {
	var albums, items int64

	if err := repo.db.Model(&Album{}).Count(&albums).Error; err != nil {
		return 0, 0, err
	}

	if err := repo.db.Model(&LibraryItem{}).Count(&items).Error; err != nil {
		return 0, 0, err
	}

	return int(albums), int(items), nil
}

func (repo *libraryRepository) Close() error {
	return nil
}

func (repo *libraryRepository) Truncate() error {
	if err := repo.db.Exec("DELETE FROM library_items").Error; err != nil {
		return err
	}

	return repo.db.Exec("DELETE FROM albums").Error
}
