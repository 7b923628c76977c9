package pubsub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// subscriber hands decoded updates from a broker callback to a channel.
// Sends never block and stop once the subscriber is closed.
type subscriber struct {
	log    *zap.Logger
	ch     chan *Update
	closed bool
	sync.Mutex
}

func newSubscriber(log *zap.Logger) *subscriber {
	return &subscriber{
		log: log,
		ch:  make(chan *Update, subscriberBuffer),
	}
}

func (s *subscriber) deliver(data []byte) {
	var u *Update
	if err := json.Unmarshal(data, &u); err != nil {
		s.log.Warn("invalid update", zap.Error(err))
		return
	}

	s.Lock()
	defer s.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- u:
	default:
		s.log.Warn("subscriber too slow, update dropped",
			zap.String("session_id", u.SessionID),
		)
	}
}

func (s *subscriber) close() {
	s.Lock()
	defer s.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
