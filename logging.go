package tagger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	return func(next Service) Service {
		return &loggingMiddleware{
			log.With(
				zap.String("service", "tagger"),
				zap.String("middleware", "logging"),
			),
			next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Inbox() ([]*folder.Folder, error) {
	log := mw.log.With(
		zap.String("action", "inbox"),
	)

	folders, err := mw.next.Inbox()
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("inbox listed", zap.Int("inboxes", len(folders)))
	return folders, nil
}

func (mw *loggingMiddleware) Folder(path string) (*folder.Folder, error) {
	log := mw.log.With(
		zap.String("action", "folder"),
		zap.String("folder", path),
	)

	f, err := mw.next.Folder(path)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("folder walked")
	return f, nil
}

func (mw *loggingMiddleware) Enqueue(ctx context.Context, kind queue.Kind, paths []string) ([]*session.Session, error) {
	log := mw.log.With(
		zap.String("action", "enqueue"),
		zap.String("kind", kind.String()),
		zap.Strings("folders", paths),
	)

	sessions, err := mw.next.Enqueue(ctx, kind, paths)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID.String()
	}

	log.Info("jobs enqueued", zap.String("session_ids", strings.Join(ids, ",")))
	return sessions, nil
}

func (mw *loggingMiddleware) Sessions(filter session.Filter) ([]*session.Session, error) {
	log := mw.log.With(
		zap.String("action", "sessions"),
	)

	sessions, err := mw.next.Sessions(filter)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("sessions listed", zap.Int("count", len(sessions)))
	return sessions, nil
}

func (mw *loggingMiddleware) Session(id session.SessionID) (*session.Session, error) {
	log := mw.log.With(
		zap.String("action", "session"),
		zap.String("session_id", id.String()),
	)

	s, err := mw.next.Session(id)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("session found")
	return s, nil
}

func (mw *loggingMiddleware) SessionByFolder(path string) (*session.Session, error) {
	log := mw.log.With(
		zap.String("action", "session_by_folder"),
		zap.String("folder", path),
	)

	s, err := mw.next.SessionByFolder(path)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("session found", zap.String("session_id", s.ID.String()))
	return s, nil
}

func (mw *loggingMiddleware) ChooseCandidate(id session.SessionID, taskID session.TaskID, candidateID session.CandidateID, action session.DuplicateAction) (*session.Session, error) {
	log := mw.log.With(
		zap.String("action", "choose_candidate"),
		zap.String("session_id", id.String()),
		zap.String("task_id", taskID.String()),
		zap.String("candidate_id", candidateID.String()),
	)

	s, err := mw.next.ChooseCandidate(id, taskID, candidateID, action)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("candidate chosen")
	return s, nil
}

func (mw *loggingMiddleware) DeleteSession(id session.SessionID) error {
	log := mw.log.With(
		zap.String("action", "delete_session"),
		zap.String("session_id", id.String()),
	)

	if err := mw.next.DeleteSession(id); err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("session deleted")
	return nil
}

func (mw *loggingMiddleware) Albums(query string) ([]*library.Album, error) {
	log := mw.log.With(
		zap.String("action", "albums"),
		zap.String("query", query),
	)

	albums, err := mw.next.Albums(query)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("albums listed", zap.Int("count", len(albums)))
	return albums, nil
}

func (mw *loggingMiddleware) Album(id library.AlbumID) (*library.Album, error) {
	log := mw.log.With(
		zap.String("action", "album"),
		zap.String("album_id", id.String()),
	)

	a, err := mw.next.Album(id)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("album found")
	return a, nil
}

func (mw *loggingMiddleware) Artwork(itemID uint64) ([]byte, error) {
	log := mw.log.With(
		zap.String("action", "artwork"),
		zap.Uint64("item_id", itemID),
	)

	image, err := mw.next.Artwork(itemID)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("artwork read", zap.Int("bytes", len(image)))
	return image, nil
}

func (mw *loggingMiddleware) Stats() (*Stats, error) {
	log := mw.log.With(
		zap.String("action", "stats"),
	)

	stats, err := mw.next.Stats()
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	return stats, nil
}

func (mw *loggingMiddleware) AutoTag(ctx context.Context, inbox conf.Inbox, path string) (*session.Session, error) {
	log := mw.log.With(
		zap.String("action", "autotag"),
		zap.String("inbox", inbox.Name),
		zap.String("mode", inbox.AutoTag.String()),
		zap.String("folder", path),
	)

	s, err := mw.next.AutoTag(ctx, inbox, path)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	if s == nil {
		log.Debug("no audio to tag")
		return nil, nil
	}

	log.Info("folder autotagged", zap.String("session_id", s.ID.String()))
	return s, nil
}

func (mw *loggingMiddleware) Recover(ctx context.Context) (int, error) {
	log := mw.log.With(
		zap.String("action", "recover"),
	)

	n, err := mw.next.Recover(ctx)
	if err != nil {
		log.Error(err.Error())
		return n, err
	}

	if n > 0 {
		log.Warn("interrupted sessions failed", zap.Int("count", n))
	}

	return n, nil
}

func (mw *loggingMiddleware) Handler() (JobHandler, error) {
	handler, err := mw.next.Handler()
	if err != nil {
		return nil, err
	}

	return &loggingJobHandler{
		log:  mw.log.With(zap.String("handler", "job")),
		next: handler,
	}, nil
}

type loggingJobHandler struct {
	log  *zap.Logger
	next JobHandler
}

func (h *loggingJobHandler) jobLogger(action string, job *queue.Job) *zap.Logger {
	return h.log.With(
		zap.String("action", action),
		zap.String("job_id", job.ID),
		zap.String("session_id", job.SessionID.String()),
	)
}

func (h *loggingJobHandler) PreviewHandler(ctx context.Context, job *queue.Job) error {
	log := h.jobLogger("preview", job)

	if err := h.next.PreviewHandler(ctx, job); err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("session previewed")
	return nil
}

func (h *loggingJobHandler) ImportHandler(ctx context.Context, job *queue.Job) error {
	log := h.jobLogger("import", job)

	if err := h.next.ImportHandler(ctx, job); err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("session imported")
	return nil
}

func (h *loggingJobHandler) AutoImportHandler(ctx context.Context, job *queue.Job) error {
	log := h.jobLogger("auto_import", job)

	if err := h.next.AutoImportHandler(ctx, job); err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("session auto imported")
	return nil
}
