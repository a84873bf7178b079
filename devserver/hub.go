// ABOUTME: WebSocket hub for the stub backend: connections, project rooms, and room broadcasts.
// ABOUTME: Writes are serialized per connection; a room only receives its own project's events.
package devserver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389-research/conductor/channel"
)

const writeWait = 5 * time.Second

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) send(f channel.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

type hub struct {
	mu     sync.Mutex
	conns  map[*conn]map[string]struct{}
	rooms  map[string]map[*conn]struct{}
	joined map[string]chan struct{}
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		conns:  make(map[*conn]map[string]struct{}),
		rooms:  make(map[string]map[*conn]struct{}),
		joined: make(map[string]chan struct{}),
		logger: logger,
	}
}

func (h *hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = make(map[string]struct{})
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.conns[c] {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.conns, c)
}

// join adds c to projectID's room and signals anyone waiting for a listener.
func (h *hub) join(c *conn, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.conns[c]
	if !ok {
		return
	}
	rooms[projectID] = struct{}{}
	members := h.rooms[projectID]
	if members == nil {
		members = make(map[*conn]struct{})
		h.rooms[projectID] = members
	}
	members[c] = struct{}{}

	ch := h.joinedLocked(projectID)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// joinedSignal returns a channel closed once projectID has had a listener.
func (h *hub) joinedSignal(projectID string) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joinedLocked(projectID)
}

func (h *hub) joinedLocked(projectID string) chan struct{} {
	ch, ok := h.joined[projectID]
	if !ok {
		ch = make(chan struct{})
		h.joined[projectID] = ch
	}
	return ch
}

// broadcast sends an event to every connection in projectID's room.
func (h *hub) broadcast(projectID, event string, data any) {
	f, err := channel.NewFrame(event, data)
	if err != nil {
		h.logger.Error("encode frame", "event", event, "error", err)
		return
	}
	h.mu.Lock()
	members := make([]*conn, 0, len(h.rooms[projectID]))
	for c := range h.rooms[projectID] {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		if err := c.send(f); err != nil {
			h.logger.Debug("socket write failed", "event", event, "project_id", projectID, "error", err)
		}
	}
}

// closeAll drops every connection. Clients observe a disconnect.
func (h *hub) closeAll() int {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	return len(conns)
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
