// Package wsbridge fans typed event-bus publications out to live
// dashboard WebSocket connections.
//
// Adapted from internal/common/realtime.WebSocketHub: the same
// register/unregister/broadcast channel triplet and read/write pump
// goroutines, retargeted from raw GPS-tracking JSON frames at one
// broadcast/per-company fan-out onto typed eventbus.Event values with an
// optional per-truck subscription filter. The Redis cross-instance pub/sub
// that hub relies on is dropped here: this bus is in-process and
// single-instance by design (see eventbus's package doc), so there is no
// second instance to fan out to.
package wsbridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/internal/logging"
)

var forwardedTopics = []eventbus.Topic{
	eventbus.TopicFuelLevelChange,
	eventbus.TopicRefuelDetected,
	eventbus.TopicAnomalyDetected,
	eventbus.TopicSensorMalfunction,
	eventbus.TopicActivityTransition,
	eventbus.TopicDriverSessionEnd,
	eventbus.TopicMaintenanceHint,
}

// outboundMessage is the wire shape sent to dashboard clients.
type outboundMessage struct {
	Topic     eventbus.Topic `json:"topic"`
	TruckID   string         `json:"truck_id"`
	Payload   interface{}    `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config holds connection tuning, mirroring WebSocketConfig.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
}

// DefaultConfig returns WebSocketHub's connection tuning defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  512,
	}
}

// client is one connected dashboard socket. A non-empty truckFilter
// restricts delivery to events for that truck only; empty means "all
// trucks" (the fleet-wide overview dashboard).
type client struct {
	id          string
	truckFilter string
	conn        *websocket.Conn
	send        chan []byte
	bridge      *Bridge
}

// Bridge owns the connected client set and subscribes itself to the
// event bus once at construction.
type Bridge struct {
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan eventbus.Event

	config *Config
}

// New creates a Bridge subscribed to every dashboard-relevant topic on
// bus and starts its dispatch loop.
func New(bus *eventbus.Bus, config *Config) *Bridge {
	if config == nil {
		config = DefaultConfig()
	}
	b := &Bridge{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan eventbus.Event, 256),
		config:     config,
	}

	for _, topic := range forwardedTopics {
		topic := topic
		bus.Subscribe(topic, "wsbridge", func(e eventbus.Event) {
			b.broadcast <- e
		})
	}

	go b.run()
	return b
}

func (b *Bridge) run() {
	for {
		select {
		case c := <-b.register:
			b.clients[c] = true
			logging.Debug("dashboard client connected", "client_id", c.id, "total", len(b.clients))

		case c := <-b.unregister:
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c.send)
				logging.Debug("dashboard client disconnected", "client_id", c.id, "total", len(b.clients))
			}

		case event := <-b.broadcast:
			data, err := json.Marshal(outboundMessage{
				Topic:     event.Topic,
				TruckID:   event.TruckID,
				Payload:   event.Payload,
				Timestamp: event.Timestamp,
			})
			if err != nil {
				logging.Warn("failed to marshal dashboard event", "error", err)
				continue
			}
			for c := range b.clients {
				if c.truckFilter != "" && c.truckFilter != event.TruckID {
					continue
				}
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(b.clients, c)
				}
			}
		}
	}
}

// HandleWebSocket upgrades the request and registers the resulting
// connection. An optional `truck_id` query parameter restricts the feed
// to that truck; omitted, the client receives every truck's events.
func (b *Bridge) HandleWebSocket(c *gin.Context) {
	truckID := c.Query("truck_id")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  b.config.ReadBufferSize,
		WriteBufferSize: b.config.WriteBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("dashboard websocket upgrade failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to upgrade to websocket"})
		return
	}

	cl := &client{
		id:          fmt.Sprintf("%s_%d", truckID, time.Now().UnixNano()),
		truckFilter: truckID,
		conn:        conn,
		send:        make(chan []byte, 256),
		bridge:      b,
	}
	b.register <- cl

	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.bridge.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.bridge.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.bridge.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.bridge.config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.bridge.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.bridge.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.bridge.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
