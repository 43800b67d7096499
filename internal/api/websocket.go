package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/alerts"
	"github.com/camarigor/ocean-hq/internal/storage"
)

const (
	EventStateChanged = "state_changed"
	EventAlert        = "alert"

	// subscriberBuffer is how many encoded events a subscriber may lag behind
	// before it is disconnected
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one message on the live stream
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`

	entityID string
}

// subscriber is one WebSocket connection. Only writeLoop writes to conn.
type subscriber struct {
	conn     *websocket.Conn
	send     chan []byte
	entities map[string]bool // empty means every entity
}

func (c *subscriber) wants(entityID string) bool {
	return len(c.entities) == 0 || c.entities[entityID]
}

func (c *subscriber) writeLoop(log *zap.Logger) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug("WebSocket write error", zap.Error(err))
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// WebSocketHub fans state changes and alerts out to subscribers
type WebSocketHub struct {
	subscribers map[*subscriber]struct{}
	count       atomic.Int64

	events     chan Event
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{}
	stopOnce   sync.Once
	log        *zap.Logger
}

// NewWebSocketHub creates a new WebSocketHub
func NewWebSocketHub(log *zap.Logger) *WebSocketHub {
	return &WebSocketHub{
		subscribers: make(map[*subscriber]struct{}),
		events:      make(chan Event, 256),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		done:        make(chan struct{}),
		log:         log.Named("ws"),
	}
}

// Run owns the subscriber set until Stop is called
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			for c := range h.subscribers {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.subscribers[c] = struct{}{}
			h.count.Store(int64(len(h.subscribers)))
			h.log.Debug("WebSocket client connected",
				zap.Int("clients", len(h.subscribers)),
				zap.Int("entities", len(c.entities)))

		case c := <-h.unregister:
			h.remove(c)

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *WebSocketHub) remove(c *subscriber) {
	if _, ok := h.subscribers[c]; !ok {
		return
	}
	delete(h.subscribers, c)
	close(c.send)
	h.count.Store(int64(len(h.subscribers)))
	h.log.Debug("WebSocket client disconnected", zap.Int("clients", len(h.subscribers)))
}

// deliver encodes ev at most once and queues it for every interested
// subscriber. A subscriber whose queue is full is disconnected.
func (h *WebSocketHub) deliver(ev Event) {
	var data []byte
	for c := range h.subscribers {
		if !c.wants(ev.entityID) {
			continue
		}
		if data == nil {
			var err error
			if data, err = sonic.Marshal(ev); err != nil {
				h.log.Error("Failed to encode WebSocket event", zap.String("type", ev.Type), zap.Error(err))
				return
			}
		}

		select {
		case c.send <- data:
		default:
			h.log.Warn("WebSocket client too slow, disconnecting", zap.String("type", ev.Type))
			h.remove(c)
		}
	}
}

// PublishStateChange queues a state change for subscribers of its entity
func (h *WebSocketHub) PublishStateChange(change *storage.StateChange) {
	h.publish(Event{Type: EventStateChanged, Data: change, entityID: change.EntityID})
}

// PublishAlert queues an alert for subscribers of the entity that raised it
func (h *WebSocketHub) PublishAlert(alert *alerts.Alert) {
	h.publish(Event{Type: EventAlert, Data: alert, entityID: alert.EntityID})
}

func (h *WebSocketHub) publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Warn("WebSocket event buffer full, dropping event",
			zap.String("type", ev.Type),
			zap.String("entity_id", ev.entityID))
	}
}

func (h *WebSocketHub) drop(c *subscriber) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Stop disconnects every subscriber and ends Run
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	return int(h.count.Load())
}

// entityFilter reads the repeated entity_id query parameter
func entityFilter(r *http.Request) map[string]bool {
	ids := r.URL.Query()["entity_id"]
	if len(ids) == 0 {
		return nil
	}
	filter := make(map[string]bool, len(ids))
	for _, id := range ids {
		filter[id] = true
	}
	return filter
}

// handleWebSocket upgrades the connection and streams events to it.
// GET /api/ws[?entity_id=sensor.a&entity_id=sensor.b]
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	c := &subscriber{
		conn:     conn,
		send:     make(chan []byte, subscriberBuffer),
		entities: entityFilter(r),
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writeLoop(s.hub.log)

	// Read loop to detect client disconnect
	go func() {
		defer s.hub.drop(c)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
