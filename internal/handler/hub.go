package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-live/internal/metrics"
	ws "github.com/stemsi/exstem-live/internal/websocket"
)

// client is one authenticated WebSocket connection. All writes go through
// send so that only writePump touches the socket.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once

	// Set once by the handshake.
	role      ws.Role
	code      string
	studentID string
}

func newClient(id string, conn *websocket.Conn, buffer int) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan interface{}, buffer),
		done: make(chan struct{}),
	}
}

// enqueue queues v for delivery. A full buffer drops the message.
func (c *client) enqueue(v interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- v:
		return true
	default:
		metrics.WSDroppedMessages.Inc()
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains send onto the socket until the client is closed and
// pings the peer every pingPeriod so idle listeners stay connected.
func (c *client) writePump(pingPeriod time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := ws.WriteTyped(c.conn, msg); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("Write failed")
				c.fail()
				return
			}
		case <-ticker.C:
			if err := ws.WritePing(c.conn); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("Ping failed")
				c.fail()
				return
			}
		}
	}
}

func (c *client) fail() {
	c.close()
	c.conn.Close()
}

// hub tracks room membership. A room is named by its exam code.
type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*client
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[string]*client)}
}

func (h *hub) join(code string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[string]*client)
		h.rooms[code] = room
	}
	room[c.id] = c
}

func (h *hub) leave(code, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[code]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, code)
	}
}

// clear removes every member of the room.
func (h *hub) clear(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, code)
}

func (h *hub) members(code string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.rooms[code]))
	for _, c := range h.rooms[code] {
		out = append(out, c)
	}
	return out
}

func (h *hub) authors(code string) []*client {
	var out []*client
	for _, c := range h.members(code) {
		if c.role == ws.RoleAuthor {
			out = append(out, c)
		}
	}
	return out
}

func (h *hub) size(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}
