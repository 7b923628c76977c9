package queue

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/tagger/queue"
)

// JobHandler adapts the job endpoint to a queue consumer.
func JobHandler(endpoint endpoint.Endpoint) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		_, err := endpoint(ctx, job)
		return err
	}
}
