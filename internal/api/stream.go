package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	heartbeatIdle  = 20 * time.Second
)

// Hub fans StreamMessage broadcasts out to every connected client, with a
// bounded per-client buffer: a client that falls behind is dropped rather
// than slowing down the rest.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *slog.Logger

	lastSendMu sync.Mutex
	lastSend   time.Time
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run drives the hub's register/unregister/broadcast loop and a heartbeat
// ticker that fires whenever no other message has gone out for
// heartbeatIdle. It has no stop signal and never returns.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(heartbeatIdle)
	defer heartbeat.Stop()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("client connected", "count", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "count", len(h.clients))

		case message := <-h.broadcast:
			h.markSent()
			h.fanOut(message)

		case <-heartbeat.C:
			if h.idleFor() >= heartbeatIdle {
				h.fanOut(h.encode(StreamMessage{Type: StreamHeartbeat}))
			}
		}
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) markSent() {
	h.lastSendMu.Lock()
	h.lastSend = time.Now()
	h.lastSendMu.Unlock()
}

func (h *Hub) idleFor() time.Duration {
	h.lastSendMu.Lock()
	defer h.lastSendMu.Unlock()
	if h.lastSend.IsZero() {
		return heartbeatIdle
	}
	return time.Since(h.lastSend)
}

func (h *Hub) encode(msg StreamMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal stream message", "err", err)
		return nil
	}
	return data
}

// Broadcast queues msg for every connected client without blocking. If the
// outbound buffer is full, the oldest queued message is evicted to make room.
func (h *Hub) Broadcast(msg StreamMessage) {
	data := h.encode(msg)
	if data == nil {
		return
	}
	select {
	case h.broadcast <- data:
		return
	default:
	}
	select {
	case <-h.broadcast:
		h.logger.Warn("broadcast channel full, dropping oldest message", "type", msg.Type)
	default:
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "err", err)
			}
			break
		}
		// The stream is read-only from the client's perspective; RPCs go
		// over the HTTP surface instead.
	}
}

// NewClient registers conn with hub and starts its read/write pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	client.hub.register <- client
	go client.writePump()
	go client.readPump()
	return client
}
