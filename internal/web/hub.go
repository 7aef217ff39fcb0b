// Package web serves the status/results API and fans domain events out to
// live websocket consumers.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

const (
	drainBatchSize = 16
	drainIdleSleep = 50 * time.Millisecond
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// StatusSnapshot is the serving side's view of the device session, derived
// entirely from the event stream so it never touches session state.
type StatusSnapshot struct {
	DeviceConnected      bool
	TransferInProgress   bool
	ObservationsReceived int
}

// Hub owns the consumer registry and is the sole consumer of the event
// queue: one drain goroutine applies each event to the status snapshot and
// fans it out to every registered consumer.
type Hub struct {
	queue      ports.EventQueue
	results    ports.ResultStore
	obs        ports.Observability
	serverIP   string
	devicePort int

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
	status  StatusSnapshot
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func NewHub(queue ports.EventQueue, results ports.ResultStore, obs ports.Observability, serverIP string, devicePort int) *Hub {
	return &Hub{
		queue:      queue,
		results:    results,
		obs:        obs,
		serverIP:   serverIP,
		devicePort: devicePort,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
	}
}

// Run drains the event queue until ctx is cancelled. Fan-out to one
// consumer never blocks or fails fan-out to another.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		batch := h.queue.DequeueBatch(drainBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.pingClients()
			case <-time.After(drainIdleSleep):
			}
			continue
		}

		for _, ev := range batch {
			h.apply(ev)
			h.broadcast(ev)
		}
		h.obs.SetGauge("coag_event_queue_length", float64(h.queue.Len()))
	}
}

// Status returns the current session view for the query interface.
func (h *Hub) Status() StatusSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Hub) apply(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case domain.EventConnected:
		h.status.DeviceConnected = true
		h.status.TransferInProgress = true
		h.status.ObservationsReceived = 0
		h.obs.SetGauge("coag_transfer_in_progress", 1)
	case domain.EventProgress:
		if ev.Received != nil {
			h.status.ObservationsReceived = *ev.Received
		}
	case domain.EventComplete:
		h.status.DeviceConnected = false
		h.status.TransferInProgress = false
		if ev.Observations != nil {
			h.status.ObservationsReceived = *ev.Observations
		}
		h.obs.SetGauge("coag_transfer_in_progress", 0)
	}
}

// HandleWS upgrades the connection, registers the consumer, and sends it the
// init event. The read loop only detects disconnects; consumers never drive
// the protocol.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.obs.LogError("ws_upgrade_failed", err)
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[conn] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.obs.SetGauge("coag_ws_clients", float64(count))

	init := domain.NewInitEvent(h.serverIP, h.devicePort, h.results.Exists())
	if err := h.send(c, init); err != nil {
		h.removeClient(c)
		return
	}

	go h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast delivers ev to a snapshot of the registry. A send failure
// removes that consumer and continues with the rest.
func (h *Hub) broadcast(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.obs.LogError("ws_marshal_failed", err)
		return
	}

	for _, c := range h.snapshot() {
		if err := h.sendRaw(c, data); err != nil {
			h.removeClient(c)
		}
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) send(c *client, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.sendRaw(c, data)
}

// sendRaw serializes writes per connection; gorilla/websocket does not
// allow concurrent writers.
func (h *Hub) sendRaw(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) pingClients() {
	for _, c := range h.snapshot() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			h.removeClient(c)
		}
	}
}

func (h *Hub) removeClient(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.conn)
		count := len(h.clients)
		h.mu.Unlock()
		h.obs.SetGauge("coag_ws_clients", float64(count))
		_ = c.conn.Close()
	})
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		h.removeClient(c)
	}
}
