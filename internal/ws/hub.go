// Package ws fans the engine's stream frames out to websocket subscribers.
// A subscriber is attached to one game; on connect the persisted timeline is
// replayed before live frames flow, so a late joiner sees the game from the
// beginning.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 15 * time.Second
	maxMessageSize = 4096

	sendBuffer   = 256
	pendingLimit = 512
)

type broadcastMessage struct {
	gameID uuid.UUID
	frame  models.StreamFrame
}

// Hub owns the per-game subscriber sets. All registration and delivery runs
// on the hub goroutine, so client lifecycles never race with fan-out.
type Hub struct {
	log *zap.Logger

	games      map[uuid.UUID]map[*Client]bool
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		log:        logger,
		games:      make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan broadcastMessage, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the hub until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Emit queues one frame for the game's subscribers. Never blocks: when the
// hub is saturated the frame is dropped, and the persisted timeline remains
// the source of truth.
func (h *Hub) Emit(gameID uuid.UUID, frame models.StreamFrame) {
	select {
	case h.broadcast <- broadcastMessage{gameID: gameID, frame: frame}:
	default:
		h.log.Warn("hub saturated, frame dropped",
			zap.String("game_id", gameID.String()),
			zap.String("event", string(frame.Event)))
	}
}

func (h *Hub) addClient(c *Client) {
	if h.games[c.gameID] == nil {
		h.games[c.gameID] = make(map[*Client]bool)
	}
	h.games[c.gameID][c] = true
	h.log.Debug("subscriber joined", zap.String("game_id", c.gameID.String()))
}

func (h *Hub) removeClient(c *Client) {
	clients, ok := h.games[c.gameID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.games, c.gameID)
	}
	close(c.send)
	h.log.Debug("subscriber left", zap.String("game_id", c.gameID.String()))
}

func (h *Hub) deliver(msg broadcastMessage) {
	clients, ok := h.games[msg.gameID]
	if !ok {
		return
	}
	raw, err := json.Marshal(msg.frame)
	if err != nil {
		h.log.Error("marshal frame failed", zap.Error(err))
		return
	}
	for c := range clients {
		if !c.accept(msg.frame.ID, raw) {
			// Send buffer full: the subscriber is too slow to keep, same as a
			// dead connection.
			delete(clients, c)
			close(c.send)
		}
	}
	if len(clients) == 0 {
		delete(h.games, msg.gameID)
	}
}

func (h *Hub) closeAll() {
	for gameID, clients := range h.games {
		for c := range clients {
			close(c.send)
		}
		delete(h.games, gameID)
	}
}

type pendingFrame struct {
	id  *int64
	raw []byte
}

// Client is one subscriber connection. It starts in replay mode: live frames
// park in pending while the handler streams history, then GoLive flushes the
// parked frames (minus the ones the replay already covered) and switches to
// channel delivery.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	gameID uuid.UUID
	send   chan []byte

	mu        sync.Mutex
	replaying bool
	pending   []pendingFrame

	// lastID is the highest persisted id written during replay. Only the
	// subscribe handler touches it.
	lastID int64
}

func NewClient(hub *Hub, conn *websocket.Conn, gameID uuid.UUID) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		gameID:    gameID,
		send:      make(chan []byte, sendBuffer),
		replaying: true,
	}
}

// Register attaches the client to the hub. Live frames begin parking in the
// pending buffer immediately, closing the gap between the history read and
// the switch to live delivery.
func (c *Client) Register() {
	c.hub.register <- c
}

// accept routes one live frame: parked during replay, queued for the write
// pump otherwise. Returns false when the client cannot keep up.
func (c *Client) accept(id *int64, raw []byte) bool {
	c.mu.Lock()
	if c.replaying {
		if len(c.pending) < pendingLimit {
			c.pending = append(c.pending, pendingFrame{id: id, raw: raw})
		}
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// Replay writes one historical event straight to the connection. Only valid
// before GoLive, while the handler still owns the connection.
func (c *Client) Replay(ev *models.RoundEvent) error {
	frame := models.FrameFromEvent(ev)
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := c.writeDirect(raw); err != nil {
		return err
	}
	c.lastID = ev.ID
	return nil
}

// GoLive drains the parked frames (skipping ids the replay already sent) and
// flips the client to channel delivery. Pending is drained in batches outside
// the lock so a slow write never stalls the hub.
func (c *Client) GoLive() error {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.replaying = false
			c.mu.Unlock()
			return nil
		}
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, f := range batch {
			if f.id != nil && *f.id <= c.lastID {
				continue
			}
			if err := c.writeDirect(f.raw); err != nil {
				return err
			}
		}
	}
}

func (c *Client) writeDirect(raw []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// Unregister detaches a client that failed before its pumps started.
func (c *Client) Unregister() {
	c.hub.unregister <- c
	c.conn.Close()
}

// ReadPump consumes the connection until it dies. Subscribers don't speak;
// reads only service pong frames and detect disconnects.
func (c *Client) ReadPump() {
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
			return
		}
	}
}

// WritePump drains the send channel and keeps the connection alive with
// periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
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
