package pubsub

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
)

func NewNATSBus(cfg conf.EventBus) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, nats.Name("tagger"))
	if err != nil {
		return nil, err
	}

	return &NATSBus{
		nc:      nc,
		subject: cfg.Subject,
		log:     zap.L().With(zap.String("infra", "bus"), zap.String("provider", "nats")),
	}, nil
}

type NATSBus struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

// Conn exposes the connection for services sharing it.
func (b *NATSBus) Conn() *nats.Conn {
	return b.nc
}

func (b *NATSBus) Publish(ctx context.Context, u *Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	return b.nc.Publish(b.subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context) (<-chan *Update, error) {
	s := newSubscriber(b.log)

	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		s.deliver(msg.Data)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		s.close()
	}()

	return s.ch, nil
}

func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}
