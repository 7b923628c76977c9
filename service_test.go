package tagger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/persistence"
	"github.com/flarexio/tagger/pubsub"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
	"github.com/flarexio/tagger/tagging"
)

type recordingQueue struct {
	jobs []*queue.Job
	sync.Mutex
}

func (q *recordingQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	q.Lock()
	defer q.Unlock()

	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Consume(ctx context.Context, handler queue.Handler) error {
	<-ctx.Done()
	return nil
}

func (q *recordingQueue) Close() error {
	return nil
}

func (q *recordingQueue) last() *queue.Job {
	q.Lock()
	defer q.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}

	return q.jobs[len(q.jobs)-1]
}

type fakeSource struct {
	infos []*session.AlbumInfo
}

func (s *fakeSource) Source() session.Source {
	return session.MusicBrainz
}

func (s *fakeSource) Search(ctx context.Context, q tagging.Query) ([]*session.AlbumInfo, error) {
	return s.infos, nil
}

func kindOfBlue() *session.AlbumInfo {
	return &session.AlbumInfo{
		ReleaseID: "rel-kind-of-blue",
		Album:     "Kind of Blue",
		Artist:    "Miles Davis",
		Year:      1959,
		Tracks: []session.TrackInfo{
			{TrackID: "rec-1", Title: "So What", Track: 1},
			{TrackID: "rec-2", Title: "Freddie Freeloader", Track: 2},
		},
	}
}

type serviceTestSuite struct {
	suite.Suite
	inbox    string
	library  string
	cfg      *conf.Config
	repos    *persistence.Repositories
	tagio    *tagging.MemoryTagIO
	source   *fakeSource
	jobs     *recordingQueue
	bus      pubsub.Bus
	registry *prometheus.Registry
	svc      Service
}

func (suite *serviceTestSuite) SetupTest() {
	root := suite.T().TempDir()
	suite.inbox = filepath.Join(root, "inbox")
	suite.library = filepath.Join(root, "library")
	suite.Require().NoError(os.MkdirAll(suite.inbox, 0755))

	cfg := &conf.Config{
		Inboxes: []conf.Inbox{
			{Name: "inbox", Path: suite.inbox, AutoTag: conf.AutoTagImport, Debounce: time.Second},
		},
		Library: conf.Library{
			Directory: suite.library,
		},
	}
	cfg.Defaults()
	suite.cfg = cfg

	repos, err := persistence.NewRepositories(conf.Persistence{
		Driver: conf.SQLite,
		Name:   "service_" + ulid.Make().String(),
		InMem:  true,
	})
	suite.Require().NoError(err)
	suite.repos = repos

	suite.tagio = tagging.NewMemoryTagIO()
	suite.source = &fakeSource{infos: []*session.AlbumInfo{kindOfBlue()}}
	suite.jobs = new(recordingQueue)
	suite.bus = pubsub.NewInMemBus()

	tagger := tagging.NewTagger(suite.tagio, cfg.Match, cfg.Library, suite.source)

	svc := NewService(cfg, repos.Sessions, repos.Library, tagger, suite.jobs, suite.bus)
	suite.registry = prometheus.NewRegistry()
	svc = InstrumentingMiddleware(suite.registry)(svc)
	svc = LoggingMiddleware(zap.NewNop())(svc)
	suite.svc = svc
}

func (suite *serviceTestSuite) TearDownTest() {
	suite.bus.Close()
	suite.repos.Close()
}

// album creates Miles Davis/Kind of Blue below parent within the inbox.
func (suite *serviceTestSuite) album(parent string) string {
	dir := filepath.Join(suite.inbox, parent, "Miles Davis", "Kind of Blue")
	suite.Require().NoError(os.MkdirAll(dir, 0755))

	for _, file := range []string{"01 So What.flac", "02 Freddie Freeloader.flac"} {
		suite.Require().NoError(os.WriteFile(filepath.Join(dir, file), []byte(file), 0644))
	}

	return dir
}

func (suite *serviceTestSuite) enqueue(kind queue.Kind, dir string) *session.Session {
	sessions, err := suite.svc.Enqueue(context.Background(), kind, []string{dir})
	suite.Require().NoError(err)
	suite.Require().Len(sessions, 1)
	return sessions[0]
}

func (suite *serviceTestSuite) run() error {
	job := suite.jobs.last()
	suite.Require().NotNil(job)

	_, err := JobEndpoint(suite.svc)(context.Background(), job)
	return err
}

func (suite *serviceTestSuite) TestEnqueueCreatesSession() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := suite.bus.Subscribe(ctx)
	suite.Require().NoError(err)

	dir := suite.album("")
	s := suite.enqueue(queue.Preview, dir)

	suite.Equal(session.Pending, s.Status)
	suite.Equal(dir, s.FolderPath)

	hash, err := folder.Hash(dir)
	suite.Require().NoError(err)
	suite.Equal(hash, s.FolderHash)

	job := suite.jobs.last()
	suite.Equal(queue.Preview, job.Kind)
	suite.Equal(s.ID, job.SessionID)

	select {
	case u := <-updates:
		suite.Equal(pubsub.SessionUpdated, u.Type)
		suite.Equal(s.ID.String(), u.SessionID)
	case <-time.After(time.Second):
		suite.Fail("no update published")
	}
}

func (suite *serviceTestSuite) TestEnqueueOutsideInbox() {
	_, err := suite.svc.Enqueue(context.Background(), queue.Preview, []string{suite.T().TempDir()})
	suite.ErrorIs(err, folder.ErrNotInInbox)

	_, err = suite.svc.Enqueue(context.Background(), queue.Preview, nil)
	suite.ErrorIs(err, ErrNoFolders)
}

func (suite *serviceTestSuite) TestEnqueueBusy() {
	dir := suite.album("")
	suite.enqueue(queue.Preview, dir)

	_, err := suite.svc.Enqueue(context.Background(), queue.Import, []string{dir})
	suite.ErrorIs(err, session.ErrSessionBusy)
}

func (suite *serviceTestSuite) TestEnqueueConcurrent() {
	dir := suite.album("")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		busy int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			var err error
			if i%2 == 0 {
				_, err = suite.svc.Enqueue(context.Background(), queue.Preview, []string{dir})
			} else {
				_, err = suite.svc.AutoTag(context.Background(), suite.cfg.Inboxes[0], dir)
			}

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				ok++
			case errors.Is(err, session.ErrSessionBusy):
				busy++
			}
		}(i)
	}

	wg.Wait()

	suite.Equal(1, ok)
	suite.Equal(7, busy)
	suite.Len(suite.jobs.jobs, 1)

	sessions, err := suite.svc.Sessions(session.Filter{Folder: dir})
	suite.Require().NoError(err)
	suite.Len(sessions, 1)
}

func (suite *serviceTestSuite) TestPreview() {
	dir := suite.album("")
	s := suite.enqueue(queue.Preview, dir)

	suite.Require().NoError(suite.run())

	s, err := suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Previewed, s.Status)
	suite.Require().Len(s.Tasks, 1)

	task := s.Tasks[0]
	suite.Equal(dir, task.Path)
	suite.Len(task.Items, 2)
	suite.Equal(session.DuplicateSkip, task.DuplicateAction)
	suite.Require().Len(task.Candidates, 2)

	chosen := task.Chosen()
	suite.Equal(session.MusicBrainz, chosen.Source)
	suite.Equal(0.0, chosen.Distance)

	// unchanged folder reuses the session
	again := suite.enqueue(queue.Preview, dir)
	suite.Equal(s.ID, again.ID)
}

func (suite *serviceTestSuite) TestFolderChanged() {
	dir := suite.album("")
	s := suite.enqueue(queue.Preview, dir)

	suite.Require().NoError(os.WriteFile(filepath.Join(dir, "03 Blue in Green.flac"), []byte("x"), 0644))

	err := suite.run()
	suite.ErrorIs(err, tagging.ErrFolderChanged)

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Failed, s.Status)
	suite.Equal(tagging.ErrFolderChanged.Error(), s.Error)
}

func (suite *serviceTestSuite) TestImport() {
	dir := suite.album("")
	s := suite.enqueue(queue.Import, dir)

	suite.Require().NoError(suite.run())

	s, err := suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Imported, s.Status)

	albums, err := suite.svc.Albums("")
	suite.Require().NoError(err)
	suite.Require().Len(albums, 1)

	album := albums[0]
	suite.Equal("rel-kind-of-blue", album.ReleaseID)
	suite.Equal(s.ID, album.SessionID)
	suite.Require().Len(album.Items, 2)

	dest := filepath.Join(suite.library, "Miles Davis", "Kind of Blue", "01 So What.flac")
	suite.Equal(dest, album.Items[0].Path)
	suite.FileExists(dest)
	suite.NoFileExists(filepath.Join(dir, "01 So What.flac"))

	tags, err := suite.tagio.ReadTags(dest)
	suite.Require().NoError(err)
	suite.Equal([]string{"rel-kind-of-blue"}, tags["MUSICBRAINZ_ALBUMID"])

	_, err = suite.svc.Artwork(album.Items[0].ID)
	suite.ErrorIs(err, ErrArtworkNotFound)

	suite.tagio.SetImage(dest, []byte("jpeg"))
	image, err := suite.svc.Artwork(album.Items[0].ID)
	suite.Require().NoError(err)
	suite.Equal([]byte("jpeg"), image)

	jobs, err := testutil.GatherAndCount(suite.registry, "tagger_jobs_total")
	suite.Require().NoError(err)
	suite.Equal(1, jobs)

	stats, err := suite.svc.Stats()
	suite.Require().NoError(err)
	suite.Equal(1, stats.Albums)
	suite.Equal(2, stats.Items)
	suite.Equal(1, stats.Sessions["imported"])
	suite.Equal(1, stats.Inboxes)
}

func (suite *serviceTestSuite) TestImportDuplicate() {
	first := suite.album("")
	suite.enqueue(queue.Import, first)
	suite.Require().NoError(suite.run())

	second := suite.album("incoming")
	s := suite.enqueue(queue.Import, second)

	err := suite.run()
	suite.ErrorIs(err, tagging.ErrDuplicate)

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Failed, s.Status)
	suite.FileExists(filepath.Join(second, "01 So What.flac"), "skipped files stay in the inbox")
}

func (suite *serviceTestSuite) TestImportReplacesDuplicate() {
	first := suite.album("")
	suite.enqueue(queue.Import, first)
	suite.Require().NoError(suite.run())

	albums, err := suite.svc.Albums("")
	suite.Require().NoError(err)
	suite.Require().Len(albums, 1)
	old := albums[0]

	second := suite.album("incoming")
	s := suite.enqueue(queue.Preview, second)
	suite.Require().NoError(suite.run())

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)

	task := s.Tasks[0]
	_, err = suite.svc.ChooseCandidate(s.ID, task.ID, task.Chosen().ID, session.DuplicateRemove)
	suite.Require().NoError(err)

	again := suite.enqueue(queue.Import, second)
	suite.Equal(s.ID, again.ID)
	suite.Require().NoError(suite.run())

	albums, err = suite.svc.Albums("")
	suite.Require().NoError(err)
	suite.Require().Len(albums, 1)
	suite.NotEqual(old.ID, albums[0].ID)
	suite.Equal(filepath.Join(second, "01 So What.flac"), albums[0].Items[0].SourcePath)
}

func (suite *serviceTestSuite) TestAutoImportStrongMatch() {
	dir := suite.album("")

	s, err := suite.svc.AutoTag(context.Background(), suite.cfg.Inboxes[0], dir)
	suite.Require().NoError(err)
	suite.Equal(queue.AutoImport, suite.jobs.last().Kind)

	suite.Require().NoError(suite.run())

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Imported, s.Status)
}

func (suite *serviceTestSuite) TestAutoImportNeedsReview() {
	suite.source.infos = nil

	dir := suite.album("")
	s := suite.enqueue(queue.AutoImport, dir)

	suite.Require().NoError(suite.run())

	s, err := suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Previewed, s.Status)
	suite.Equal("1 of 1 albums need review", s.Message)
	suite.Equal(session.AsIs, s.Tasks[0].Chosen().Source)

	albums, err := suite.svc.Albums("")
	suite.Require().NoError(err)
	suite.Empty(albums)
}

func (suite *serviceTestSuite) TestAutoTagSkipsUnchangedFolder() {
	inbox := suite.cfg.Inboxes[0]
	inbox.AutoTag = conf.AutoTagPreview

	dir := suite.album("")

	s, err := suite.svc.AutoTag(context.Background(), inbox, dir)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.run())

	again, err := suite.svc.AutoTag(context.Background(), inbox, dir)
	suite.Require().NoError(err)
	suite.Equal(s.ID, again.ID)
	suite.Len(suite.jobs.jobs, 1)

	inbox.AutoTag = conf.AutoTagOff
	_, err = suite.svc.AutoTag(context.Background(), inbox, dir)
	suite.ErrorIs(err, ErrAutoTagDisabled)
}

func (suite *serviceTestSuite) TestAutoTagAfterImport() {
	suite.album("")
	top := filepath.Join(suite.inbox, "Miles Davis")

	s, err := suite.svc.AutoTag(context.Background(), suite.cfg.Inboxes[0], top)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.run())

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Imported, s.Status)

	// the moved files leave the folder without audio
	again, err := suite.svc.AutoTag(context.Background(), suite.cfg.Inboxes[0], top)
	suite.Require().NoError(err)
	suite.Nil(again)
	suite.Len(suite.jobs.jobs, 1)

	sessions, err := suite.svc.Sessions(session.Filter{Folder: top})
	suite.Require().NoError(err)
	suite.Len(sessions, 1)
}

func (suite *serviceTestSuite) TestAutoTagCopiedFolder() {
	inbox := suite.cfg.Inboxes[0]
	inbox.AutoTag = conf.AutoTagPreview

	a := suite.album("a")
	b := suite.album("b")

	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, dir := range []string{a, b} {
		for _, file := range []string{"01 So What.flac", "02 Freddie Freeloader.flac"} {
			suite.Require().NoError(os.Chtimes(filepath.Join(dir, file), mtime, mtime))
		}
	}

	hashA, err := folder.Hash(a)
	suite.Require().NoError(err)
	hashB, err := folder.Hash(b)
	suite.Require().NoError(err)
	suite.Require().Equal(hashA, hashB)

	first, err := suite.svc.AutoTag(context.Background(), inbox, a)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.run())

	second, err := suite.svc.AutoTag(context.Background(), inbox, b)
	suite.Require().NoError(err)
	suite.NotEqual(first.ID, second.ID)
	suite.Require().NoError(suite.run())

	again, err := suite.svc.AutoTag(context.Background(), inbox, a)
	suite.Require().NoError(err)
	suite.Equal(first.ID, again.ID)
	suite.Len(suite.jobs.jobs, 2)
}

func (suite *serviceTestSuite) TestChooseCandidate() {
	dir := suite.album("")
	s := suite.enqueue(queue.Preview, dir)

	_, err := suite.svc.ChooseCandidate(s.ID, session.MakeTaskID(), session.MakeCandidateID(), "")
	suite.ErrorIs(err, session.ErrSessionBusy)

	suite.Require().NoError(suite.run())

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)

	task := s.Tasks[0]
	asis := task.Candidates[1]

	_, err = suite.svc.ChooseCandidate(s.ID, task.ID, session.MakeCandidateID(), "")
	suite.ErrorIs(err, session.ErrCandidateNotFound)

	_, err = suite.svc.ChooseCandidate(s.ID, session.MakeTaskID(), asis.ID, "")
	suite.ErrorIs(err, session.ErrTaskNotFound)

	_, err = suite.svc.ChooseCandidate(s.ID, task.ID, asis.ID, session.DuplicateKeep)
	suite.Require().NoError(err)

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(asis.ID, s.Tasks[0].Chosen().ID)
	suite.Equal(session.DuplicateKeep, s.Tasks[0].DuplicateAction)
}

func (suite *serviceTestSuite) TestDeleteSession() {
	dir := suite.album("")
	s := suite.enqueue(queue.Preview, dir)

	suite.ErrorIs(suite.svc.DeleteSession(s.ID), session.ErrSessionBusy)

	suite.Require().NoError(suite.run())
	suite.Require().NoError(suite.svc.DeleteSession(s.ID))

	_, err := suite.svc.Session(s.ID)
	suite.ErrorIs(err, session.ErrSessionNotFound)

	_, err = suite.svc.SessionByFolder(dir)
	suite.ErrorIs(err, session.ErrSessionNotFound)
}

func (suite *serviceTestSuite) TestRecover() {
	dir := suite.album("")
	s := suite.enqueue(queue.Preview, dir)

	n, err := suite.svc.Recover(context.Background())
	suite.Require().NoError(err)
	suite.Equal(1, n)

	s, err = suite.svc.Session(s.ID)
	suite.Require().NoError(err)
	suite.Equal(session.Failed, s.Status)
	suite.Equal(ErrInterrupted.Error(), s.Error)

	// a stale job for the failed session is rejected
	suite.ErrorIs(suite.run(), session.ErrInvalidTransition)
}

func (suite *serviceTestSuite) TestInboxAndFolder() {
	dir := suite.album("")

	inbox, err := suite.svc.Inbox()
	suite.Require().NoError(err)
	suite.Require().Len(inbox, 1)
	suite.Equal("inbox", inbox[0].Name)
	suite.Equal([]string{dir}, inbox[0].AlbumDirs())

	f, err := suite.svc.Folder(dir)
	suite.Require().NoError(err)
	suite.True(f.IsAlbum)
	suite.Len(f.Files, 2)

	_, err = suite.svc.Folder(suite.library)
	suite.ErrorIs(err, folder.ErrNotInInbox)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(serviceTestSuite))
}
