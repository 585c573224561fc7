package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reelchain/internal/logging"
)

const (
	writeWait   = 10 * time.Second
	backlogSize = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn  *websocket.Conn
	jobID string
	mu    sync.Mutex
	last  uint64
}

// sendLocked writes evt unless the client already received it. c.mu must be held.
func (c *client) sendLocked(evt Event) error {
	if evt.Sequence <= c.last {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.last = evt.Sequence
	return nil
}

func (c *client) send(evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(evt)
}

// Hub streams events to websocket clients. It is a Bus sink and an
// http.Handler for the events endpoint.
type Hub struct {
	bus     *Bus
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub registers a hub on bus.
func NewHub(bus *Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Hub{
		bus:     bus,
		logger:  logger.With(logging.String(logging.FieldComponent, "events")),
		clients: make(map[*client]struct{}),
	}
	bus.AddSink(h)
	return h
}

// ServeHTTP upgrades the connection, replays buffered events newer than the
// "since" query parameter and then streams live events. A "job_id" query
// parameter restricts the stream to one job.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	jobID := strings.TrimSpace(query.Get("job_id"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	c := &client{conn: conn, jobID: jobID}

	// Live events block on c.mu until the backlog is written; sequence
	// tracking in sendLocked drops anything delivered twice.
	c.mu.Lock()
	h.register(c)
	backlog, _, _ := h.bus.Fetch(r.Context(), since, backlogSize, false)
	for _, evt := range backlog {
		if !c.matches(evt) {
			continue
		}
		if err := c.sendLocked(evt); err != nil {
			c.mu.Unlock()
			h.unregister(c)
			return
		}
	}
	c.mu.Unlock()

	go func() {
		defer h.unregister(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Append broadcasts evt to every matching client.
func (h *Hub) Append(evt Event) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.matches(evt) {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(evt); err != nil {
			h.logger.Debug("websocket write failed; dropping client", logging.Error(err))
			h.unregister(c)
		}
	}
}

// ConnectionCount reports the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event stream client connected", logging.Int("connections", total), logging.String(logging.FieldJobID, c.jobID))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (c *client) matches(evt Event) bool {
	return c.jobID == "" || c.jobID == evt.JobID
}
