package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flarexio/tagger/conf"
)

func NewRedisBus(cfg conf.EventBus) (Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return &redisBus{
		rdb:     rdb,
		channel: cfg.Subject,
		log:     zap.L().With(zap.String("infra", "bus"), zap.String("provider", "redis")),
	}, nil
}

type redisBus struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func (b *redisBus) Publish(ctx context.Context, u *Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	return b.rdb.Publish(ctx, b.channel, data).Err()
}

func (b *redisBus) Subscribe(ctx context.Context) (<-chan *Update, error) {
	ps := b.rdb.Subscribe(ctx, b.channel)

	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	sub := newSubscriber(b.log)
	msgs := ps.Channel()

	go func() {
		defer sub.close()
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case msg, ok := <-msgs:
				if !ok {
					return
				}

				sub.deliver([]byte(msg.Payload))
			}
		}
	}()

	return sub.ch, nil
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}
