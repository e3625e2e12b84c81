package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// StateSource supplies the public round state pushed to new viewers.
type StateSource interface {
	PublicState(ctx context.Context, eventID uint) (*PublicRound, error)
}

// StateFunc adapts a function to StateSource.
type StateFunc func(ctx context.Context, eventID uint) (*PublicRound, error)

func (f StateFunc) PublicState(ctx context.Context, eventID uint) (*PublicRound, error) {
	return f(ctx, eventID)
}

// Hub fans notifications out to websocket viewers of each event. It is the
// websocket Publisher.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Notification
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	state      StateSource
}

type Client struct {
	hub     *Hub
	id      string
	socket  *websocket.Conn
	send    chan []byte
	eventID uint
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(state StateSource) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Notification, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		state:      state,
	}
}

// Run owns client membership until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.WithFields(log.Fields{"client": client.id, "event_id": client.eventID, "total": total}).Debug("viewer connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			log.WithFields(log.Fields{"client": client.id, "event_id": client.eventID, "total": total}).Debug("viewer disconnected")

		case n := <-h.broadcast:
			h.deliver(n)
		}
	}
}

// Publish queues n for the viewers of its event. A full queue drops n.
func (h *Hub) Publish(_ context.Context, n Notification) {
	select {
	case h.broadcast <- n:
	default:
		log.WithField("type", n.Type).Warn("hub: broadcast queue full, dropping notification")
	}
}

func (h *Hub) deliver(n Notification) {
	data, err := json.Marshal(Message{Type: n.Type, Payload: n})
	if err != nil {
		log.WithError(err).Error("hub: marshal notification")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	sent := 0
	for client := range h.clients {
		if client.eventID != n.EventID {
			continue
		}
		select {
		case client.send <- data:
			sent++
		default:
			// Slow viewer; drop it rather than stall the hub.
			close(client.send)
			delete(h.clients, client)
		}
	}
	log.WithFields(log.Fields{"type": n.Type, "event_id": n.EventID, "viewers": sent}).Debug("notification delivered")
}

// ViewerCount reports the connected viewers of an event.
func (h *Hub) ViewerCount(eventID uint) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for client := range h.clients {
		if client.eventID == eventID {
			n++
		}
	}
	return n
}

// Attach registers a websocket connection as a viewer of eventID and starts
// its pumps. The current public state is sent first. It returns nil once the
// hub has stopped.
func (h *Hub) Attach(conn *websocket.Conn, eventID uint) *Client {
	client := &Client{
		hub:     h,
		id:      uuid.NewString(),
		socket:  conn,
		send:    make(chan []byte, sendBuffer),
		eventID: eventID,
	}

	// The buffer is private until registration, so the snapshot goes first.
	if data, ok := client.stateMessage(); ok {
		client.send <- data
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) stateMessage() ([]byte, bool) {
	if c.hub.state == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	round, err := c.hub.state.PublicState(ctx, c.eventID)
	if err != nil {
		log.WithError(err).WithField("event_id", c.eventID).Warn("hub: load state for viewer")
		return nil, false
	}
	data, err := json.Marshal(Message{Type: "state", Payload: map[string]interface{}{"round": round}})
	if err != nil {
		log.WithError(err).Error("hub: marshal state")
		return nil, false
	}
	return data, true
}

func (c *Client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("hub: marshal message")
		return
	}
	c.enqueueRaw(data)
}

// enqueueRaw only writes while the client is registered; the hub closes
// send on removal.
func (c *Client) enqueueRaw(data []byte) {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("client", c.id).Debug("websocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		c.enqueue(Message{Type: "pong", Payload: "pong"})
	case "request_state":
		if data, ok := c.stateMessage(); ok {
			c.enqueueRaw(data)
		}
	default:
		log.WithFields(log.Fields{"client": c.id, "type": msg.Type}).Debug("unknown viewer message")
	}
}
