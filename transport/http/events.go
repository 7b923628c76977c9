package http

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/flarexio/tagger/pubsub"
)

const keepAlive = 15 * time.Second

// EventsHandler streams bus updates as server-sent events named "update".
func EventsHandler(bus pubsub.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		updates, err := bus.Subscribe(ctx)
		if err != nil {
			abort(c, http.StatusServiceUnavailable, err)
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeaderNow()
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false

			case u, ok := <-updates:
				if !ok {
					return false
				}

				c.SSEvent("update", u)
				return true

			case <-ticker.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			}
		})
	}
}

// SocketHandler pushes bus updates as JSON frames. A client "ping" text
// frame is answered with "pong".
func SocketHandler(bus pubsub.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		srv := websocket.Server{
			Handshake: func(*websocket.Config, *http.Request) error {
				return nil
			},
			Handler: func(ws *websocket.Conn) {
				serveSocket(c.Request.Context(), ws, bus)
			},
		}

		srv.ServeHTTP(c.Writer, c.Request)
	}
}

func serveSocket(ctx context.Context, ws *websocket.Conn, bus pubsub.Bus) {
	defer ws.Close()

	log := zap.L().With(
		zap.String("transport", "websocket"),
		zap.String("remote", ws.Request().RemoteAddr),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := bus.Subscribe(ctx)
	if err != nil {
		log.Error(err.Error())
		return
	}

	var mu sync.Mutex
	send := func(codec websocket.Codec, v any) error {
		mu.Lock()
		defer mu.Unlock()

		return codec.Send(ws, v)
	}

	go func() {
		defer cancel()

		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}

			if msg == "ping" {
				if err := send(websocket.Message, "pong"); err != nil {
					return
				}
			}
		}
	}()

	log.Debug("socket connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug("socket closed")
			return

		case u, ok := <-updates:
			if !ok {
				return
			}

			if err := send(websocket.JSON, u); err != nil {
				log.Debug("socket send failed", zap.Error(err))
				return
			}
		}
	}
}
