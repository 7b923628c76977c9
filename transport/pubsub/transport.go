package pubsub

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/tagger"
)

func EnqueueHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req tagger.EnqueueRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(code(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func StatsHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		resp, err := endpoint(context.Background(), nil)
		if err != nil {
			r.Error(code(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func code(err error) string {
	return strconv.Itoa(tagger.StatusCode(err))
}
