package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/tagger/session"
)

func receive(t *testing.T, ch <-chan *Update) *Update {
	t.Helper()

	select {
	case u, ok := <-ch:
		require.True(t, ok, "channel closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return nil
	}
}

func TestInMemBusFanOut(t *testing.T) {
	bus := NewInMemBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	s := session.NewSession("/inbox/Album", "abcd")
	require.NoError(t, bus.Publish(ctx, NewSessionUpdate(s, 0.5)))

	for _, ch := range []<-chan *Update{a, b} {
		u := receive(t, ch)
		assert.Equal(t, SessionUpdated, u.Type)
		assert.Equal(t, s.ID.String(), u.SessionID)
		assert.Equal(t, session.Pending, *u.Status)
		assert.Equal(t, 0.5, u.Progress)
	}
}

func TestInMemBusUnsubscribeOnCancel(t *testing.T) {
	bus := NewInMemBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	assert.NoError(t, bus.Publish(context.Background(), &Update{Type: InboxChanged}))
}

func TestInMemBusSlowSubscriber(t *testing.T) {
	bus := NewInMemBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(ctx, &Update{Type: InboxChanged, Progress: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked")
	}

	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, 0.0, receive(t, ch).Progress)
}

func TestInMemBusClosed(t *testing.T) {
	bus := NewInMemBus()

	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	_, ok := <-ch
	assert.False(t, ok)

	assert.ErrorIs(t, bus.Publish(context.Background(), &Update{}), ErrBusClosed)

	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestSubscriberDeliver(t *testing.T) {
	s := newSubscriber(NewInMemBus().(*inmemBus).log)

	data, err := json.Marshal(&Update{Type: LibraryChanged, Message: "imported"})
	require.NoError(t, err)

	s.deliver(data)
	s.deliver([]byte("not json"))

	u := receive(t, s.ch)
	assert.Equal(t, LibraryChanged, u.Type)
	assert.Equal(t, "imported", u.Message)

	s.close()
	s.close()
	s.deliver(data)

	_, ok := <-s.ch
	assert.False(t, ok)
}
