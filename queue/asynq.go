package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
)

func redisOpt(cfg conf.Redis) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewAsynqQueue(cfg conf.Queue) Queue {
	return &asynqQueue{
		cfg:    cfg,
		client: asynq.NewClient(redisOpt(cfg.Redis)),
		log:    zap.L().With(zap.String("infra", "queue"), zap.String("driver", "asynq")),
	}
}

type asynqQueue struct {
	cfg    conf.Queue
	client *asynq.Client
	log    *zap.Logger
}

func (q *asynqQueue) Enqueue(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	task := asynq.NewTask(job.Kind.String(), payload)

	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.cfg.Name),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(0),
		asynq.Timeout(q.cfg.Timeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return ErrDuplicateJob
		}

		return err
	}

	return nil
}

func (q *asynqQueue) Consume(ctx context.Context, handler Handler) error {
	srv := asynq.NewServer(redisOpt(q.cfg.Redis), asynq.Config{
		Concurrency: q.cfg.Concurrency,
		Queues: map[string]int{
			q.cfg.Name: 1,
		},
		Logger: q.log.Sugar(),
	})

	mux := asynq.NewServeMux()
	for _, kind := range kinds {
		mux.HandleFunc(kind.String(), func(ctx context.Context, t *asynq.Task) error {
			var job *Job
			if err := json.Unmarshal(t.Payload(), &job); err != nil {
				return err
			}

			log := q.log.With(
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind.String()),
				zap.String("session_id", job.SessionID.String()),
			)

			if err := handler(ctx, job); err != nil {
				log.Error(err.Error())
				return err
			}

			log.Debug("job done")
			return nil
		})
	}

	if err := srv.Start(mux); err != nil {
		return err
	}

	<-ctx.Done()
	srv.Shutdown()

	return nil
}

func (q *asynqQueue) Close() error {
	return q.client.Close()
}
