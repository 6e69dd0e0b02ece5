package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

// DefaultWriteTimeout bounds one broadcast write to a single client.
const DefaultWriteTimeout = 5 * time.Second

// LiveHub fans stored messages out to every attached websocket.
type LiveHub struct {
	mu           sync.Mutex
	conns        map[*websocket.Conn]struct{}
	writeTimeout time.Duration
}

func NewLiveHub() *LiveHub {
	return &LiveHub{conns: map[*websocket.Conn]struct{}{}, writeTimeout: DefaultWriteTimeout}
}

func (h *LiveHub) Add(conn *websocket.Conn) {
	if h == nil || conn == nil {
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *LiveHub) Remove(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	if h != nil {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
	}
	_ = conn.Close()
}

// Broadcast writes m as one text frame to every connection. Connections
// that fail the write or miss the write deadline are dropped.
func (h *LiveHub) Broadcast(m chatlog.Message) {
	if h == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		log.Warn().Err(err).Str("message_id", m.ID).Msg("failed to encode live message")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("component", "api").Msg("ws broadcast failed, dropping connection")
			delete(h.conns, conn)
			_ = conn.Close()
		}
	}
}

func (h *LiveHub) Count() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *LiveHub) CloseAll() {
	if h == nil {
		return
	}
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline())
		_ = conn.Close()
		delete(h.conns, conn)
	}
	h.mu.Unlock()
}
