package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/sd"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/tagger"
	"github.com/flarexio/tagger/session"
)

const requestTimeout = 5000 * time.Millisecond

// EnqueueFactory builds enqueue endpoints for remote tagger instances
// reachable over the NATS server at url.
func EnqueueFactory(url string) (sd.Factory, error) {
	nc, err := nats.Connect(url, nats.Name("tagger-cli"))
	if err != nil {
		return nil, err
	}

	return func(instance string) (endpoint.Endpoint, io.Closer, error) {
		return EnqueueEndpoint(nc, instance+".enqueue"), closer{nc}, nil
	}, nil
}

type closer struct {
	nc *nats.Conn
}

func (c closer) Close() error {
	c.nc.Close()
	return nil
}

func EnqueueEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		req, ok := request.(tagger.EnqueueRequest)
		if !ok {
			return nil, tagger.ErrInvalidRequest
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		msg, err := nc.RequestWithContext(ctx, topic, data)
		if err != nil {
			return nil, err
		}

		if desc := msg.Header.Get(micro.ErrorHeader); desc != "" {
			return nil, errors.New(desc)
		}

		var sessions []*session.Session
		if err := json.Unmarshal(msg.Data, &sessions); err != nil {
			return nil, err
		}

		return sessions, nil
	}
}
