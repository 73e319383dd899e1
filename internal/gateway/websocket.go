package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
)

// writeWait bounds a single websocket frame write (events.subscribe).
const writeWait = 10 * time.Second

// pingInterval keeps the connection alive through idle proxies.
const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The event stream is read by the canvas editor, which may run on a
	// different origin during local development; the gateway itself is the
	// access boundary, not CORS.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsSubscribe upgrades to a websocket and relays every eventbus
// topic matching the optional ?topics= query filter (comma-separated) as a
// newline-delimited JSON frame per event.
func (s *Server) handleEventsSubscribe(w http.ResponseWriter, r *http.Request) {
	topics := parseTopics(r.URL.Query().Get("topics"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("events.subscribe: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.bus.Subscribe(eventbus.DefaultQueueSize, topics...)
	defer unsubscribe()

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client frames, closing done when the peer
// disconnects; events.subscribe is a one-way stream but the read loop must
// run to process control frames and detect closure.
func readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
