package pubsub

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 64

func NewInMemBus() Bus {
	return &inmemBus{
		log:  zap.L().With(zap.String("infra", "bus"), zap.String("provider", "inmem")),
		subs: make(map[chan *Update]struct{}),
	}
}

// inmemBus fans updates out to every subscriber. A subscriber whose buffer
// is full misses the update; publishers never block.
type inmemBus struct {
	log    *zap.Logger
	subs   map[chan *Update]struct{}
	closed bool
	sync.RWMutex
}

func (b *inmemBus) Publish(ctx context.Context, u *Update) error {
	b.RLock()
	defer b.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			b.log.Warn("subscriber too slow, update dropped",
				zap.String("session_id", u.SessionID),
			)
		}
	}

	return nil
}

func (b *inmemBus) Subscribe(ctx context.Context) (<-chan *Update, error) {
	b.Lock()
	defer b.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	ch := make(chan *Update, subscriberBuffer)
	b.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()

	return ch, nil
}

func (b *inmemBus) unsubscribe(ch chan *Update) {
	b.Lock()
	defer b.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *inmemBus) Close() error {
	b.Lock()
	defer b.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}

	return nil
}
