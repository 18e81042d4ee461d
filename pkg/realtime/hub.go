// Package realtime fans session events out to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

type client struct {
	conn   *websocket.Conn
	userId uuid.UUID
	send   chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub keeps one room of subscribers per live session.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[uuid.UUID]map[*client]struct{})}
}

// Serve upgrades the request and blocks until the subscriber disconnects.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionId, userId uuid.UUID) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, userId: userId, send: make(chan []byte, sendBuffer)}
	h.join(sessionId, c)
	zerolog.Ctx(ctx).Debug().Str("live_session_id", sessionId.String()).Str("user_id", userId.String()).Msg("websocket subscriber joined")

	go h.writeLoop(c)
	h.readLoop(c)

	h.leave(sessionId, c)
	_ = conn.Close()
	zerolog.Ctx(ctx).Debug().Str("live_session_id", sessionId.String()).Str("user_id", userId.String()).Msg("websocket subscriber left")
	return nil
}

// Broadcast sends v to every subscriber of sessionId. Subscribers whose
// buffer is full are disconnected rather than blocking the caller.
func (h *Hub) Broadcast(ctx context.Context, sessionId uuid.UUID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.rooms[sessionId] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		zerolog.Ctx(ctx).Warn().Str("user_id", c.userId.String()).Msg("dropping slow websocket subscriber")
		h.leave(sessionId, c)
	}
}

func (h *Hub) Subscribers(sessionId uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionId])
}

func (h *Hub) join(sessionId uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionId]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[sessionId] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(sessionId uuid.UUID, c *client) {
	h.mu.Lock()
	room := h.rooms[sessionId]
	if _, ok := room[c]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, sessionId)
		}
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// subscribers only listen; inbound frames are discarded
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
