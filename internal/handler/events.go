package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tokenwars/internal/notify"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient represents a single WebSocket connection.
type wsClient struct {
	stream *EventStream
	conn   *websocket.Conn
	send   chan []byte
	types  map[string]bool // subscribed event types; empty means all
	mu     sync.RWMutex
}

// wsSubscribeMsg is the JSON frame a client sends to narrow or widen the set
// of event types it receives.
type wsSubscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Types  []string `json:"types"`
}

// EventStream fans competition events out to connected WebSocket clients.
// Clients receive every event type by default and can narrow the set with a
// subscribe frame.
type EventStream struct {
	Hub    *notify.Hub
	Logger *zap.Logger

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

func NewEventStream(hub *notify.Hub, logger *zap.Logger) *EventStream {
	return &EventStream{
		Hub:        hub,
		Logger:     logger,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

func (s *EventStream) Register(r *gin.Engine) {
	r.GET("/api/events/stream", s.handleWS)
}

// Run consumes the event hub and broadcasts each event to subscribed clients.
// It should be called in a goroutine and exits when ctx is cancelled.
func (s *EventStream) Run(ctx context.Context) error {
	if s == nil || s.Hub == nil {
		return nil
	}
	events := s.Hub.Subscribe("", sendBufferSize)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for c := range s.clients {
				close(c.send)
				delete(s.clients, c)
			}
			s.mu.Unlock()
			return ctx.Err()

		case c := <-s.register:
			s.mu.Lock()
			s.clients[c] = true
			s.mu.Unlock()
			s.logger().Info("ws: client connected", zap.Int("total_clients", s.clientCount()))

		case c := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
			}
			s.mu.Unlock()
			s.logger().Info("ws: client disconnected", zap.Int("total_clients", s.clientCount()))

		case evt := <-events:
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			s.mu.RLock()
			for c := range s.clients {
				if !c.wantsType(evt.Type) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Client's send buffer is full; drop the message.
					s.logger().Warn("ws: dropping event for slow client")
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *EventStream) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger().Error("ws: upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		stream: s,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		types:  make(map[string]bool),
	}

	s.register <- client

	go client.writePump()
	go client.readPump()
}

func (s *EventStream) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *EventStream) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// readPump reads frames from the connection, handling subscription requests.
func (c *wsClient) readPump() {
	defer func() {
		c.stream.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.stream.logger().Warn("ws: unexpected close error", zap.Error(err))
			}
			return
		}

		var sub wsSubscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *wsClient) handleSubscription(msg wsSubscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Types {
			c.types[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.types, t)
		}
	}
}

// wantsType reports whether the client should receive the given event type.
// A client with no explicit subscriptions receives everything.
func (c *wsClient) wantsType(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.types) == 0 {
		return true
	}
	return c.types[eventType]
}

// writePump pumps events from the stream to the connection and sends periodic
// ping frames for keepalive.
func (c *wsClient) writePump() {
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
