package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The event stream is broadcast-only and carries no secrets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsEventBuffer  = 256
)

// handleWS streams clearinghouse events to a websocket subscriber.
// Each connection gets its own bus subscription; a subscriber that
// cannot keep up misses events rather than slowing the core.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WS upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.IncrementSubscribers()
		defer s.metrics.DecrementSubscribers()
	}

	events := s.bus.Subscribe(wsEventBuffer)

	// Reader goroutine: we ignore client frames but need the read loop
	// to notice a closed connection.
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
		case <-r.Context().Done():
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
