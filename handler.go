package tagger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/pubsub"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
	"github.com/flarexio/tagger/tagging"
)

func (svc *service) PreviewHandler(ctx context.Context, job *queue.Job) error {
	s, err := svc.start(ctx, job, session.Previewing, "reading folder")
	if err != nil {
		return err
	}

	if err := svc.preview(ctx, s); err != nil {
		return svc.fail(ctx, s, err)
	}

	if err := s.Transition(session.Previewed, "preview ready"); err != nil {
		return svc.fail(ctx, s, err)
	}

	if err := svc.sessions.Store(s); err != nil {
		return err
	}

	svc.publish(ctx, s, 1)
	return nil
}

func (svc *service) ImportHandler(ctx context.Context, job *queue.Job) error {
	s, err := svc.start(ctx, job, session.Importing, "importing")
	if err != nil {
		return err
	}

	if len(s.Tasks) == 0 {
		if err := svc.preview(ctx, s); err != nil {
			return svc.fail(ctx, s, err)
		}
	}

	return svc.importSession(ctx, s)
}

func (svc *service) AutoImportHandler(ctx context.Context, job *queue.Job) error {
	s, err := svc.start(ctx, job, session.Previewing, "reading folder")
	if err != nil {
		return err
	}

	if err := svc.preview(ctx, s); err != nil {
		return svc.fail(ctx, s, err)
	}

	match := svc.cfg.Match
	if inbox, ok := svc.cfg.FindInbox(s.FolderPath); ok && inbox.Threshold > 0 {
		match.StrongThreshold = inbox.Threshold
	}

	weak := 0
	for _, task := range s.Tasks {
		// current tags always match themselves
		c := task.Chosen()
		if c == nil || c.Source == session.AsIs || tagging.Recommend(c.Distance, match) != tagging.Strong {
			weak++
		}
	}

	if weak > 0 {
		message := fmt.Sprintf("%d of %d albums need review", weak, len(s.Tasks))
		if err := s.Transition(session.Previewed, message); err != nil {
			return svc.fail(ctx, s, err)
		}

		if err := svc.sessions.Store(s); err != nil {
			return err
		}

		svc.publish(ctx, s, 1)
		return nil
	}

	if err := s.Transition(session.Importing, "strong match, importing"); err != nil {
		return svc.fail(ctx, s, err)
	}

	if err := svc.sessions.Store(s); err != nil {
		return err
	}

	svc.publish(ctx, s, 0)
	return svc.importSession(ctx, s)
}

// start loads the session of the job, moves it out of pending and checks
// that the folder still matches the hash it was queued with.
func (svc *service) start(ctx context.Context, job *queue.Job, to session.Status, message string) (*session.Session, error) {
	s, err := svc.sessions.Find(job.SessionID)
	if err != nil {
		return nil, err
	}

	if s.Status != session.Pending {
		return nil, fmt.Errorf("session %s is %s: %w", s.ID, s.Status, session.ErrInvalidTransition)
	}

	if err := s.Transition(to, message); err != nil {
		return nil, err
	}

	if err := svc.sessions.Store(s); err != nil {
		return nil, err
	}

	svc.publish(ctx, s, 0)

	hash, err := folder.Hash(s.FolderPath)
	if err != nil {
		return nil, svc.fail(ctx, s, err)
	}

	if hash != s.FolderHash {
		return nil, svc.fail(ctx, s, tagging.ErrFolderChanged)
	}

	return s, nil
}

// preview builds one task per album directory with its ranked candidates.
func (svc *service) preview(ctx context.Context, s *session.Session) error {
	dirs, err := folder.AlbumDirs(s.FolderPath)
	if err != nil {
		return err
	}

	if len(dirs) == 0 {
		return tagging.ErrNoAudio
	}

	action, err := session.ParseDuplicateAction(svc.cfg.Library.DuplicateAction)
	if err != nil {
		return err
	}

	s.ResetTasks()
	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := svc.tagger.Read(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}

		candidates, err := svc.tagger.Candidates(ctx, items)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}

		task := session.NewTask(dir, items)
		task.DuplicateAction = action
		task.SetCandidates(candidates)
		s.AddTask(task)

		s.Message = fmt.Sprintf("looked up %d of %d albums", i+1, len(dirs))
		svc.publish(ctx, s, float64(i+1)/float64(len(dirs)))
	}

	return svc.sessions.Store(s)
}

func (svc *service) importSession(ctx context.Context, s *session.Session) error {
	imported := 0
	for i, task := range s.Tasks {
		if err := svc.importTask(ctx, s, task); err != nil {
			return svc.fail(ctx, s, fmt.Errorf("%s: %w", task.Path, err))
		}

		imported++
		s.Message = fmt.Sprintf("imported %d of %d albums", i+1, len(s.Tasks))
		svc.publish(ctx, s, float64(i+1)/float64(len(s.Tasks)))
	}

	if err := s.Transition(session.Imported, fmt.Sprintf("imported %d albums", imported)); err != nil {
		return svc.fail(ctx, s, err)
	}

	if err := svc.sessions.Store(s); err != nil {
		return err
	}

	svc.publish(ctx, s, 1)
	svc.notify(ctx, &pubsub.Update{Type: pubsub.LibraryChanged, SessionID: s.ID.String()})
	svc.notify(ctx, &pubsub.Update{Type: pubsub.InboxChanged, FolderPath: s.FolderPath})

	return nil
}

func (svc *service) importTask(ctx context.Context, s *session.Session, task *session.Task) error {
	c := task.Chosen()
	if c == nil {
		return tagging.ErrNoCandidate
	}

	existing, err := svc.albums.FindDuplicate(c.Info.ReleaseID, c.Info.Artist, c.Info.Album)
	switch {
	case errors.Is(err, library.ErrAlbumNotFound):

	case err != nil:
		return err

	default:
		if err := svc.resolveDuplicate(existing, task.DuplicateAction); err != nil {
			return err
		}
	}

	placements, applyErr := svc.tagger.Apply(ctx, task.Items, c)

	if len(placements) > 0 {
		album := library.NewAlbum(s.ID, c.Info)
		album.Path = filepath.Dir(placements[0].Dest)

		for _, p := range placements {
			album.AddItem(&library.Item{
				Path:       p.Dest,
				SourcePath: p.Source,
				Title:      p.Track.Title,
				Artist:     firstNonEmpty(p.Track.Artist, c.Info.Artist),
				Track:      p.Track.Track,
				Disc:       p.Track.Disc,
				Length:     firstPositive(p.Item.Length, p.Track.Length),
				Tags:       p.Item.Tags,
			})
		}

		if err := svc.albums.Store(album); err != nil {
			return err
		}

		svc.log.Info("album imported",
			zap.String("session_id", s.ID.String()),
			zap.String("album_id", album.ID.String()),
			zap.String("album", album.Album),
			zap.Int("items", len(album.Items)),
		)
	}

	return applyErr
}

func (svc *service) resolveDuplicate(existing *library.Album, action session.DuplicateAction) error {
	switch action {
	case session.DuplicateKeep:
		return nil

	case session.DuplicateRemove:
		paths := make([]string, len(existing.Items))
		for i, item := range existing.Items {
			paths[i] = item.Path
		}

		if err := tagging.Remove(svc.cfg.Library.Directory, paths); err != nil {
			return err
		}

		return svc.albums.Delete(existing.ID)

	default:
		return fmt.Errorf("%s - %s: %w", existing.AlbumArtist, existing.Album, tagging.ErrDuplicate)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}

	return 0
}
