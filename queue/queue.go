package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/session"
)

var (
	ErrDuplicateJob = errors.New("job already queued")
	ErrQueueClosed  = errors.New("queue closed")
	ErrInvalidKind  = errors.New("invalid job kind")
)

type Kind int

const (
	Preview Kind = iota
	Import
	AutoImport
)

var kinds = []Kind{Preview, Import, AutoImport}

func ParseKind(kind string) (Kind, error) {
	kind = strings.ToLower(kind)
	switch kind {
	case "preview":
		return Preview, nil
	case "import":
		return Import, nil
	case "auto_import", "auto":
		return AutoImport, nil
	default:
		return -1, ErrInvalidKind
	}
}

func (k Kind) String() string {
	switch k {
	case Preview:
		return "preview"
	case Import:
		return "import"
	case AutoImport:
		return "auto_import"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	kind, err := ParseKind(raw)
	if err != nil {
		return err
	}

	*k = kind
	return nil
}

type Job struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	SessionID  session.SessionID `json:"session_id"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

func NewJob(kind Kind, sessionID session.SessionID) *Job {
	return &Job{
		ID:         ulid.Make().String(),
		Kind:       kind,
		SessionID:  sessionID,
		EnqueuedAt: time.Now(),
	}
}

type Handler func(ctx context.Context, job *Job) error

type Queue interface {
	Enqueue(ctx context.Context, job *Job) error

	// Consume runs the handler for dequeued jobs until ctx is done.
	Consume(ctx context.Context, handler Handler) error

	Close() error
}

func NewQueue(cfg conf.Queue) (Queue, error) {
	switch cfg.Driver {
	case conf.InMemQueue:
		return NewInMemQueue(cfg), nil
	case conf.Asynq:
		return NewAsynqQueue(cfg), nil
	default:
		return nil, errors.New("driver not supported")
	}
}
