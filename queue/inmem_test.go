package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/session"
)

func TestInMemQueueFIFO(t *testing.T) {
	q := NewInMemQueue(conf.Queue{Concurrency: 1})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := make([]*Job, 5)
	for i := range jobs {
		jobs[i] = NewJob(Preview, session.MakeSessionID())
		require.NoError(t, q.Enqueue(ctx, jobs[i]))
	}

	var (
		mu  sync.Mutex
		got []string
	)

	done := make(chan struct{})
	go func() {
		q.Consume(ctx, func(ctx context.Context, job *Job) error {
			mu.Lock()
			got = append(got, job.ID)
			n := len(got)
			mu.Unlock()

			if n == len(jobs) {
				cancel()
			}

			return errors.New("handler errors do not stop the queue")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not return")
	}

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, got, len(jobs))
	for i, job := range jobs {
		assert.Equal(t, job.ID, got[i])
	}
}

func TestInMemQueueDuplicate(t *testing.T) {
	q := NewInMemQueue(conf.Queue{})
	defer q.Close()

	ctx := context.Background()
	job := NewJob(Import, session.MakeSessionID())

	require.NoError(t, q.Enqueue(ctx, job))
	assert.ErrorIs(t, q.Enqueue(ctx, job), ErrDuplicateJob)
}

func TestInMemQueueReleasesFinishedJobs(t *testing.T) {
	q := NewInMemQueue(conf.Queue{})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 2)
	go q.Consume(ctx, func(ctx context.Context, job *Job) error {
		handled <- struct{}{}
		return nil
	})

	job := NewJob(Preview, session.MakeSessionID())
	require.NoError(t, q.Enqueue(ctx, job))
	<-handled

	assert.Eventually(t, func() bool {
		return q.Enqueue(ctx, job) == nil
	}, time.Second, 10*time.Millisecond)
	<-handled
}

func TestInMemQueueClosed(t *testing.T) {
	q := NewInMemQueue(conf.Queue{})
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), NewJob(Preview, session.MakeSessionID()))
	assert.ErrorIs(t, err, ErrQueueClosed)

	// consume returns at once
	assert.NoError(t, q.Consume(context.Background(), func(context.Context, *Job) error { return nil }))
}

func TestKindJSON(t *testing.T) {
	job := NewJob(AutoImport, session.MakeSessionID())

	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"auto_import"`)

	var back *Job
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, job.ID, back.ID)
	assert.Equal(t, AutoImport, back.Kind)
	assert.Equal(t, job.SessionID, back.SessionID)

	_, err = ParseKind("bogus")
	assert.ErrorIs(t, err, ErrInvalidKind)
}
