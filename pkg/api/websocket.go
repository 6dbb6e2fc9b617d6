package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mcpden/mcpden/pkg/metrics"
)

const wsWriteTimeout = 10 * time.Second

// The API binds to loopback only, so cross-origin upgrades from the local
// UI are fine.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connectedFrame is the first frame on every event socket
type connectedFrame struct {
	Type string `json:"type"`
}

// handleEvents upgrades the connection and streams every bus event as JSON.
// Each socket gets its own bus mailbox; a slow reader sheds its oldest
// events and receives a backpressure-drop marker, after which it can resync
// from GET /api/events/recent.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.deps.Bus.Subscribe()
	metrics.EventSubscribers.Inc()
	defer func() {
		sub.Close()
		conn.Close()
		metrics.EventSubscribers.Dec()
	}()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(connectedFrame{Type: "connected"}); err != nil {
		return
	}

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// what surfaces the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, open := <-sub.C:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
