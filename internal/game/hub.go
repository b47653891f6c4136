package game

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"crash/internal/logging"
)

// TextMessage is the websocket text frame type, shared by every websocket
// implementation.
const TextMessage = 1

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type HubConfig struct {
	BroadcastBuffer int
	ClientQueue     int
	WriteTimeout    time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{BroadcastBuffer: 256, ClientQueue: 64, WriteTimeout: 10 * time.Second}
}

type Client struct {
	conn     Conn
	playerID string
	send     chan []byte
	done     chan struct{}
	closed   chan struct{}
}

// PlayerID returns the player the connection was opened for, if any.
func (c *Client) PlayerID() string {
	return c.playerID
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Closed is closed once the hub has stopped writing and closed the
// connection.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Hub fans events out to websocket clients. Publishing never blocks the
// caller, and a client that cannot keep up is disconnected rather than
// slowing anyone else down.
type Hub struct {
	cfg        HubConfig
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	mu         sync.RWMutex
	dropped    atomic.Int64
	log        *zap.Logger
}

func NewHub(cfg HubConfig, log *zap.Logger) *Hub {
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = DefaultHubConfig().BroadcastBuffer
	}
	if cfg.ClientQueue <= 0 {
		cfg.ClientQueue = DefaultHubConfig().ClientQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultHubConfig().WriteTimeout
	}
	return &Hub{
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, cfg.BroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		log:        logging.OrNop(log).Named("hub"),
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			go h.writePump(client)
			h.log.Debug("client connected", zap.String("player_id", client.playerID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", zap.String("player_id", client.playerID), zap.Int("total", total))

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
				continue
			}
			h.fanOut(data)
		}
	}
}

func (h *Hub) fanOut(data []byte) {
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		h.removeLocked(client)
		h.log.Warn("slow client dropped", zap.String("player_id", client.playerID))
	}
	h.mu.Unlock()
}

// removeLocked must be called with mu held for writing.
func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	close(c.done)
}

func (h *Hub) writePump(c *Client) {
	defer close(c.closed)
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
			h.Unregister(c)
			return
		}
		if err := c.conn.WriteMessage(TextMessage, data); err != nil {
			h.log.Debug("write failed", zap.String("player_id", c.playerID), zap.Error(err))
			h.Unregister(c)
			return
		}
	}
}

// Publish queues an event for every client. When the hub is backed up the
// event is dropped.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.dropped.Add(1)
		h.log.Warn("broadcast channel full, dropping event", zap.String("type", string(ev.Type)))
	}
}

// Register attaches a connection. The optional initial event is queued
// ahead of any broadcast.
func (h *Hub) Register(conn Conn, playerID string, initial *Event) *Client {
	c := &Client{
		conn:     conn,
		playerID: playerID,
		send:     make(chan []byte, h.cfg.ClientQueue),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			c.send <- data
		}
	}
	select {
	case h.register <- c:
	case <-h.stopped:
		close(c.done)
		conn.Close()
		close(c.closed)
	}
	return c
}

// Send queues a direct message for one client, such as an action reply.
// It reports false when the client is gone or its queue is full.
func (h *Hub) Send(c *Client, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-c.done:
	case <-h.stopped:
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because the hub was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
