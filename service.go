package tagger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/pubsub"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
	"github.com/flarexio/tagger/tagging"
)

var (
	ErrAutoTagDisabled = errors.New("autotag disabled for inbox")
	ErrArtworkNotFound = errors.New("artwork not found")
	ErrNoFolders       = errors.New("no folders given")
	ErrInterrupted     = errors.New("job interrupted by restart")
)

type Service interface {
	Inbox() ([]*folder.Folder, error)
	Folder(path string) (*folder.Folder, error)
	Enqueue(ctx context.Context, kind queue.Kind, paths []string) ([]*session.Session, error)
	Sessions(filter session.Filter) ([]*session.Session, error)
	Session(id session.SessionID) (*session.Session, error)
	SessionByFolder(path string) (*session.Session, error)
	ChooseCandidate(id session.SessionID, taskID session.TaskID, candidateID session.CandidateID, action session.DuplicateAction) (*session.Session, error)
	DeleteSession(id session.SessionID) error
	Albums(query string) ([]*library.Album, error)
	Album(id library.AlbumID) (*library.Album, error)
	Artwork(itemID uint64) ([]byte, error)
	Stats() (*Stats, error)
	AutoTag(ctx context.Context, inbox conf.Inbox, path string) (*session.Session, error)
	Recover(ctx context.Context) (int, error)
	Handler() (JobHandler, error)
}

// JobHandler runs the queued jobs of a session.
type JobHandler interface {
	PreviewHandler(ctx context.Context, job *queue.Job) error
	ImportHandler(ctx context.Context, job *queue.Job) error
	AutoImportHandler(ctx context.Context, job *queue.Job) error
}

type ServiceMiddleware func(Service) Service

type Stats struct {
	Sessions map[string]int `json:"sessions"`
	Albums   int            `json:"albums"`
	Items    int            `json:"items"`
	Inboxes  int            `json:"inboxes"`
}

func NewService(cfg *conf.Config, sessions session.Repository, albums library.Repository, tagger *tagging.Tagger, jobs queue.Queue, bus pubsub.Bus) Service {
	return &service{
		cfg:      cfg,
		sessions: sessions,
		albums:   albums,
		tagger:   tagger,
		jobs:     jobs,
		bus:      bus,
		log:      zap.L().With(zap.String("service", "tagger")),
	}
}

type service struct {
	cfg      *conf.Config
	sessions session.Repository
	albums   library.Repository
	tagger   *tagging.Tagger
	jobs     queue.Queue
	bus      pubsub.Bus
	log      *zap.Logger

	// serialises the busy check and store of enqueue
	enqueueMu sync.Mutex
}

func (svc *service) Inbox() ([]*folder.Folder, error) {
	folders := make([]*folder.Folder, 0, len(svc.cfg.Inboxes))
	for _, inbox := range svc.cfg.Inboxes {
		f, err := folder.Walk(inbox.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, err
		}

		f.Name = inbox.Name
		folders = append(folders, f)
	}

	return folders, nil
}

func (svc *service) Folder(path string) (*folder.Folder, error) {
	path = filepath.Clean(path)
	if _, ok := svc.cfg.FindInbox(path); !ok {
		return nil, folder.ErrNotInInbox
	}

	return folder.Walk(path)
}

func (svc *service) Enqueue(ctx context.Context, kind queue.Kind, paths []string) ([]*session.Session, error) {
	if len(paths) == 0 {
		return nil, ErrNoFolders
	}

	sessions := make([]*session.Session, 0, len(paths))
	for _, path := range paths {
		s, err := svc.enqueue(ctx, kind, filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		sessions = append(sessions, s)
	}

	return sessions, nil
}

func (svc *service) enqueue(ctx context.Context, kind queue.Kind, path string) (*session.Session, error) {
	if _, ok := svc.cfg.FindInbox(path); !ok {
		return nil, folder.ErrNotInInbox
	}

	svc.enqueueMu.Lock()
	defer svc.enqueueMu.Unlock()

	hash, err := folder.Hash(path)
	if err != nil {
		return nil, err
	}

	s, err := svc.reusableSession(path, hash)
	if err != nil {
		return nil, err
	}

	message := "queued for " + kind.String()
	if s == nil {
		s = session.NewSession(path, hash)
		s.Message = message
	} else if err := s.Transition(session.Pending, message); err != nil {
		return nil, err
	}

	if err := svc.sessions.Store(s); err != nil {
		return nil, err
	}

	svc.publish(ctx, s, 0)

	job := queue.NewJob(kind, s.ID)
	if err := svc.jobs.Enqueue(ctx, job); err != nil {
		return nil, svc.fail(ctx, s, err)
	}

	return s, nil
}

// reusableSession returns the session of the unchanged folder, nil when a
// new one is needed, or ErrSessionBusy while the folder has a job.
func (svc *service) reusableSession(path string, hash string) (*session.Session, error) {
	latest, err := svc.sessions.FindLatestByPath(path)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}

		latest = nil
	}

	if latest != nil && latest.Busy() {
		return nil, session.ErrSessionBusy
	}

	s, err := svc.sessions.FindByHash(path, hash)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, nil
		}

		return nil, err
	}

	if !s.Status.CanTransition(session.Pending) {
		return nil, nil
	}

	return s, nil
}

func (svc *service) Sessions(filter session.Filter) ([]*session.Session, error) {
	if filter.Folder != "" {
		filter.Folder = filepath.Clean(filter.Folder)
	}

	return svc.sessions.List(filter)
}

func (svc *service) Session(id session.SessionID) (*session.Session, error) {
	return svc.sessions.Find(id)
}

func (svc *service) SessionByFolder(path string) (*session.Session, error) {
	return svc.sessions.FindLatestByPath(filepath.Clean(path))
}

func (svc *service) ChooseCandidate(id session.SessionID, taskID session.TaskID, candidateID session.CandidateID, action session.DuplicateAction) (*session.Session, error) {
	s, err := svc.sessions.Find(id)
	if err != nil {
		return nil, err
	}

	if s.Busy() {
		return nil, session.ErrSessionBusy
	}

	if s.Status == session.Imported {
		return nil, session.ErrInvalidTransition
	}

	task, err := s.Task(taskID)
	if err != nil {
		return nil, err
	}

	if err := task.Choose(candidateID); err != nil {
		return nil, err
	}

	if action != "" {
		task.DuplicateAction = action
	}

	if s.Status == session.Previewed {
		if err := s.Transition(session.Previewed, "candidate chosen"); err != nil {
			return nil, err
		}
	}

	if err := svc.sessions.Store(s); err != nil {
		return nil, err
	}

	svc.publish(context.Background(), s, 1)
	return s, nil
}

func (svc *service) DeleteSession(id session.SessionID) error {
	s, err := svc.sessions.Find(id)
	if err != nil {
		return err
	}

	if s.Busy() {
		return session.ErrSessionBusy
	}

	if err := svc.sessions.Delete(id); err != nil {
		return err
	}

	svc.notify(context.Background(), &pubsub.Update{
		Type:       pubsub.SessionDeleted,
		SessionID:  s.ID.String(),
		FolderPath: s.FolderPath,
		FolderHash: s.FolderHash,
	})

	return nil
}

func (svc *service) Albums(query string) ([]*library.Album, error) {
	return svc.albums.List(query)
}

func (svc *service) Album(id library.AlbumID) (*library.Album, error) {
	return svc.albums.Find(id)
}

func (svc *service) Artwork(itemID uint64) ([]byte, error) {
	item, err := svc.albums.FindItem(itemID)
	if err != nil {
		return nil, err
	}

	image, err := svc.tagger.Artwork(item.Path)
	if err != nil {
		return nil, err
	}

	if len(image) == 0 {
		return nil, ErrArtworkNotFound
	}

	return image, nil
}

func (svc *service) Stats() (*Stats, error) {
	counts, err := svc.sessions.CountByStatus()
	if err != nil {
		return nil, err
	}

	albums, items, err := svc.albums.Count()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Sessions: make(map[string]int, len(counts)),
		Albums:   albums,
		Items:    items,
		Inboxes:  len(svc.cfg.Inboxes),
	}

	for status, n := range counts {
		stats.Sessions[status.String()] = n
	}

	return stats, nil
}

func (svc *service) AutoTag(ctx context.Context, inbox conf.Inbox, path string) (*session.Session, error) {
	var kind queue.Kind
	switch inbox.AutoTag {
	case conf.AutoTagPreview:
		kind = queue.Preview
	case conf.AutoTagImport:
		kind = queue.AutoImport
	default:
		return nil, ErrAutoTagDisabled
	}

	path = filepath.Clean(path)

	// emptied by an import, or no audio yet
	dirs, err := folder.AlbumDirs(path)
	if err != nil {
		return nil, err
	}

	if len(dirs) == 0 {
		return nil, nil
	}

	hash, err := folder.Hash(path)
	if err != nil {
		return nil, err
	}

	// nothing changed since the last run
	s, err := svc.sessions.FindByHash(path, hash)
	if err == nil && (s.Status == session.Previewed || s.Status == session.Imported) {
		return s, nil
	}

	return svc.enqueue(ctx, kind, path)
}

// Recover fails every session left busy by jobs that no queue holds any
// more.
func (svc *service) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []session.Status{session.Pending, session.Previewing, session.Importing} {
		status := status

		sessions, err := svc.sessions.List(session.Filter{Status: &status})
		if err != nil {
			return recovered, err
		}

		for _, s := range sessions {
			svc.fail(ctx, s, ErrInterrupted)
			recovered++
		}
	}

	return recovered, nil
}

func (svc *service) Handler() (JobHandler, error) {
	return svc, nil
}

func (svc *service) publish(ctx context.Context, s *session.Session, progress float64) {
	svc.notify(ctx, pubsub.NewSessionUpdate(s, progress))
}

func (svc *service) notify(ctx context.Context, u *pubsub.Update) {
	if u.At.IsZero() {
		u.At = time.Now()
	}

	if err := svc.bus.Publish(ctx, u); err != nil {
		svc.log.Warn("publish update failed",
			zap.String("type", string(u.Type)),
			zap.String("session_id", u.SessionID),
			zap.Error(err),
		)
	}
}

// fail stores the failed session and returns err.
func (svc *service) fail(ctx context.Context, s *session.Session, err error) error {
	s.Fail(err)

	if storeErr := svc.sessions.Store(s); storeErr != nil {
		svc.log.Error("store failed session",
			zap.String("session_id", s.ID.String()),
			zap.Error(storeErr),
		)
	}

	svc.publish(ctx, s, 1)
	return err
}
