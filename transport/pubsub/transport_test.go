package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/micro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/tagger"
	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
)

type fakeRequest struct {
	micro.Request

	data      []byte
	code      string
	responded any
}

func (r *fakeRequest) Data() []byte {
	return r.data
}

func (r *fakeRequest) Error(code, description string, data []byte, opts ...micro.RespondOpt) error {
	r.code = code
	return nil
}

func (r *fakeRequest) RespondJSON(v any, opts ...micro.RespondOpt) error {
	r.responded = v
	return nil
}

func TestEnqueueHandler(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var got tagger.EnqueueRequest
	handler := EnqueueHandler(func(ctx context.Context, request any) (any, error) {
		got = request.(tagger.EnqueueRequest)
		return []*session.Session{session.NewSession("/inbox/album", "hash")}, nil
	})

	data, err := json.Marshal(tagger.EnqueueRequest{Kind: queue.AutoImport, Folders: []string{"/inbox/album"}})
	require.NoError(err)

	r := &fakeRequest{data: data}
	handler(r)

	assert.Empty(r.code)
	assert.Equal(queue.AutoImport, got.Kind)
	assert.Equal([]string{"/inbox/album"}, got.Folders)
	assert.NotNil(r.responded)
}

func TestEnqueueHandlerErrors(t *testing.T) {
	assert := assert.New(t)

	handler := EnqueueHandler(func(ctx context.Context, request any) (any, error) {
		return nil, errors.New("boom")
	})

	r := &fakeRequest{data: []byte("{")}
	handler(r)
	assert.Equal("400", r.code)

	r = &fakeRequest{data: []byte(`{"kind":"preview","folders":["/a"]}`)}
	handler(r)
	assert.Equal("417", r.code)
	assert.Nil(r.responded)

	busy := EnqueueHandler(func(ctx context.Context, request any) (any, error) {
		return nil, fmt.Errorf("/a: %w", session.ErrSessionBusy)
	})

	r = &fakeRequest{data: []byte(`{"kind":"preview","folders":["/a"]}`)}
	busy(r)
	assert.Equal("409", r.code)

	outside := EnqueueHandler(func(ctx context.Context, request any) (any, error) {
		return nil, folder.ErrNotInInbox
	})

	r = &fakeRequest{data: []byte(`{"kind":"preview","folders":["/a"]}`)}
	outside(r)
	assert.Equal("400", r.code)
}
