package pubsub

import (
	"context"
	"errors"
	"time"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/session"
)

var ErrBusClosed = errors.New("bus closed")

type UpdateType string

const (
	SessionUpdated UpdateType = "session_updated"
	SessionDeleted UpdateType = "session_deleted"
	InboxChanged   UpdateType = "inbox_changed"
	LibraryChanged UpdateType = "library_changed"
)

// Update reports the progress of a tagging session to connected clients.
type Update struct {
	Type       UpdateType      `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	FolderPath string          `json:"folder_path,omitempty"`
	FolderHash string          `json:"folder_hash,omitempty"`
	Status     *session.Status `json:"status,omitempty"`
	Message    string          `json:"message,omitempty"`
	Progress   float64         `json:"progress"`
	Error      string          `json:"error,omitempty"`
	At         time.Time       `json:"at"`
}

func NewSessionUpdate(s *session.Session, progress float64) *Update {
	status := s.Status

	return &Update{
		Type:       SessionUpdated,
		SessionID:  s.ID.String(),
		FolderPath: s.FolderPath,
		FolderHash: s.FolderHash,
		Status:     &status,
		Message:    s.Message,
		Progress:   progress,
		Error:      s.Error,
		At:         time.Now(),
	}
}

type Bus interface {
	Publish(ctx context.Context, u *Update) error

	// Subscribe delivers updates until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan *Update, error)

	Close() error
}

func NewBus(cfg conf.EventBus) (Bus, error) {
	switch cfg.Provider {
	case conf.InMemBus:
		return NewInMemBus(), nil
	case conf.RedisBus:
		return NewRedisBus(cfg)
	case conf.NATS:
		bus, err := NewNATSBus(cfg)
		if err != nil {
			return nil, err
		}

		return bus, nil
	default:
		return nil, errors.New("provider not supported")
	}
}
