package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
)

const inmemCapacity = 1024

func NewInMemQueue(cfg conf.Queue) Queue {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &inmemQueue{
		log:         zap.L().With(zap.String("infra", "queue"), zap.String("driver", "inmem")),
		concurrency: concurrency,
		jobs:        make(chan *Job, inmemCapacity),
		done:        make(chan struct{}),
		ids:         make(map[string]struct{}),
	}
}

type inmemQueue struct {
	log         *zap.Logger
	concurrency int
	jobs        chan *Job
	done        chan struct{}
	closeOnce   sync.Once

	// ids of queued and running jobs
	ids map[string]struct{}
	sync.Mutex
}

func (q *inmemQueue) Enqueue(ctx context.Context, job *Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	q.Lock()
	if _, ok := q.ids[job.ID]; ok {
		q.Unlock()
		return ErrDuplicateJob
	}
	q.ids[job.ID] = struct{}{}
	q.Unlock()

	select {
	case q.jobs <- job:
		return nil

	case <-q.done:
		q.release(job.ID)
		return ErrQueueClosed

	case <-ctx.Done():
		q.release(job.ID)
		return ctx.Err()
	}
}

func (q *inmemQueue) release(id string) {
	q.Lock()
	delete(q.ids, id)
	q.Unlock()
}

func (q *inmemQueue) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}

	wg.Wait()
	return nil
}

func (q *inmemQueue) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-q.done:
			return

		case job := <-q.jobs:
			log := q.log.With(
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind.String()),
				zap.String("session_id", job.SessionID.String()),
			)

			if err := handler(ctx, job); err != nil {
				log.Error(err.Error())
			} else {
				log.Debug("job done")
			}

			q.release(job.ID)
		}
	}
}

func (q *inmemQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})

	return nil
}
