package persistence

import (
	"errors"

	"gorm.io/gorm"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/persistence/db"
	"github.com/flarexio/tagger/session"
)

type Repositories struct {
	Sessions session.Repository
	Library  library.Repository

	conn *gorm.DB
}

func NewRepositories(cfg conf.Persistence) (*Repositories, error) {
	switch cfg.Driver {
	case conf.SQLite:
		conn, err := db.Open(cfg)
		if err != nil {
			return nil, err
		}

		return &Repositories{
			Sessions: db.NewSessionRepository(conn),
			Library:  db.NewLibraryRepository(conn),
			conn:     conn,
		}, nil

	default:
		return nil, errors.New("driver not supported")
	}
}

func (r *Repositories) Close() error {
	if err := r.Sessions.Close(); err != nil {
		return err
	}

	if err := r.Library.Close(); err != nil {
		return err
	}

	sqlDB, err := r.conn.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
