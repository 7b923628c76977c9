package tagger

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
)

type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	jobs     *prometheus.CounterVec
}

func InstrumentingMiddleware(reg prometheus.Registerer) ServiceMiddleware {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tagger",
			Name:      "requests_total",
			Help:      "Number of service requests received.",
		}, []string{"method", "error"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tagger",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving service requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tagger",
			Name:      "jobs_total",
			Help:      "Number of jobs handled.",
		}, []string{"kind", "status"}),
	}

	reg.MustRegister(m.requests, m.latency, m.jobs)

	return func(next Service) Service {
		return &instrumentingMiddleware{m, next}
	}
}

type instrumentingMiddleware struct {
	*metrics
	next Service
}

func (mw *instrumentingMiddleware) observe(method string, begin time.Time, err error) {
	mw.requests.WithLabelValues(method, strconv.FormatBool(err != nil)).Inc()
	mw.latency.WithLabelValues(method).Observe(time.Since(begin).Seconds())
}

func (mw *instrumentingMiddleware) Inbox() (folders []*folder.Folder, err error) {
	defer func(begin time.Time) { mw.observe("inbox", begin, err) }(time.Now())
	return mw.next.Inbox()
}

func (mw *instrumentingMiddleware) Folder(path string) (f *folder.Folder, err error) {
	defer func(begin time.Time) { mw.observe("folder", begin, err) }(time.Now())
	return mw.next.Folder(path)
}

func (mw *instrumentingMiddleware) Enqueue(ctx context.Context, kind queue.Kind, paths []string) (sessions []*session.Session, err error) {
	defer func(begin time.Time) { mw.observe("enqueue", begin, err) }(time.Now())
	return mw.next.Enqueue(ctx, kind, paths)
}

func (mw *instrumentingMiddleware) Sessions(filter session.Filter) (sessions []*session.Session, err error) {
	defer func(begin time.Time) { mw.observe("sessions", begin, err) }(time.Now())
	return mw.next.Sessions(filter)
}

func (mw *instrumentingMiddleware) Session(id session.SessionID) (s *session.Session, err error) {
	defer func(begin time.Time) { mw.observe("session", begin, err) }(time.Now())
	return mw.next.Session(id)
}

func (mw *instrumentingMiddleware) SessionByFolder(path string) (s *session.Session, err error) {
	defer func(begin time.Time) { mw.observe("session_by_folder", begin, err) }(time.Now())
	return mw.next.SessionByFolder(path)
}

func (mw *instrumentingMiddleware) ChooseCandidate(id session.SessionID, taskID session.TaskID, candidateID session.CandidateID, action session.DuplicateAction) (s *session.Session, err error) {
	defer func(begin time.Time) { mw.observe("choose_candidate", begin, err) }(time.Now())
	return mw.next.ChooseCandidate(id, taskID, candidateID, action)
}

func (mw *instrumentingMiddleware) DeleteSession(id session.SessionID) (err error) {
	defer func(begin time.Time) { mw.observe("delete_session", begin, err) }(time.Now())
	return mw.next.DeleteSession(id)
}

func (mw *instrumentingMiddleware) Albums(query string) (albums []*library.Album, err error) {
	defer func(begin time.Time) { mw.observe("albums", begin, err) }(time.Now())
	return mw.next.Albums(query)
}

func (mw *instrumentingMiddleware) Album(id library.AlbumID) (a *library.Album, err error) {
	defer func(begin time.Time) { mw.observe("album", begin, err) }(time.Now())
	return mw.next.Album(id)
}

func (mw *instrumentingMiddleware) Artwork(itemID uint64) (image []byte, err error) {
	defer func(begin time.Time) { mw.observe("artwork", begin, err) }(time.Now())
	return mw.next.Artwork(itemID)
}

func (mw *instrumentingMiddleware) Stats() (stats *Stats, err error) {
	defer func(begin time.Time) { mw.observe("stats", begin, err) }(time.Now())
	return mw.next.Stats()
}

func (mw *instrumentingMiddleware) AutoTag(ctx context.Context, inbox conf.Inbox, path string) (s *session.Session, err error) {
	defer func(begin time.Time) { mw.observe("autotag", begin, err) }(time.Now())
	return mw.next.AutoTag(ctx, inbox, path)
}

func (mw *instrumentingMiddleware) Recover(ctx context.Context) (n int, err error) {
	defer func(begin time.Time) { mw.observe("recover", begin, err) }(time.Now())
	return mw.next.Recover(ctx)
}

func (mw *instrumentingMiddleware) Handler() (JobHandler, error) {
	handler, err := mw.next.Handler()
	if err != nil {
		return nil, err
	}

	return &instrumentingJobHandler{mw.jobs, handler}, nil
}

type instrumentingJobHandler struct {
	jobs *prometheus.CounterVec
	next JobHandler
}

func (h *instrumentingJobHandler) count(kind queue.Kind, err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}

	h.jobs.WithLabelValues(kind.String(), status).Inc()
}

func (h *instrumentingJobHandler) PreviewHandler(ctx context.Context, job *queue.Job) (err error) {
	defer func() { h.count(queue.Preview, err) }()
	return h.next.PreviewHandler(ctx, job)
}

func (h *instrumentingJobHandler) ImportHandler(ctx context.Context, job *queue.Job) (err error) {
	defer func() { h.count(queue.Import, err) }()
	return h.next.ImportHandler(ctx, job)
}

func (h *instrumentingJobHandler) AutoImportHandler(ctx context.Context, job *queue.Job) (err error) {
	defer func() { h.count(queue.AutoImport, err) }()
	return h.next.AutoImportHandler(ctx, job)
}
