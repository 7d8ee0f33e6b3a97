package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
	publishBuffer  = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

// Hub fans channel messages out to subscribed clients
// Only Run touches the client set
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	publish    chan envelope
	done       chan struct{}
	log        *zap.SugaredLogger
}

type subscription struct {
	client   *Client
	channels []string
	add      bool
}

type envelope struct {
	channel string
	payload []byte
}

// Client is one websocket connection
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool // owned by Hub.Run
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		publish:    make(chan envelope, publishBuffer),
		done:       make(chan struct{}),
		log:        logger.Sugar(),
	}
}

// Run dispatches until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.log.Debugw("ws_connected", "client", c.id, "clients", len(h.clients))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.log.Debugw("ws_disconnected", "client", c.id, "clients", len(h.clients))
			}

		case s := <-h.subscribe:
			if !h.clients[s.client] {
				continue
			}
			for _, ch := range s.channels {
				if s.add {
					s.client.subscriptions[ch] = true
				} else {
					delete(s.client.subscriptions, ch)
				}
			}

		case m := <-h.publish:
			for c := range h.clients {
				if !c.subscriptions[m.channel] {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					h.log.Warnw("ws_slow_client", "client", c.id, "channel", m.channel)
					h.drop(c)
				}
			}
		}
	}
}

// send hands v to the Run loop unless the hub has stopped
func send[T any](h *Hub, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// Broadcast queues data for every subscriber of channel
// It never blocks; when the queue is full the message is dropped
func (h *Hub) Broadcast(channel, msgType string, data any) {
	payload, err := json.Marshal(WSMessage{Type: msgType, Channel: channel, Data: data})
	if err != nil {
		h.log.Errorw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}
	select {
	case h.publish <- envelope{channel: channel, payload: payload}:
	default:
		h.log.Warnw("ws_publish_dropped", "channel", channel)
	}
}

func (c *Client) readPump() {
	defer func() {
		send(c.hub, c.hub.unregister, c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_error", "client", c.id, "err", err)
			}
			return
		}

		var req SubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(WSMessage{Type: "error", Data: "invalid message"})
			continue
		}
		switch req.Op {
		case "subscribe":
			send(c.hub, c.hub.subscribe, subscription{client: c, channels: req.Channels, add: true})
			c.reply(WSMessage{Type: "subscribed", Data: req.Channels})
		case "unsubscribe":
			send(c.hub, c.hub.subscribe, subscription{client: c, channels: req.Channels})
			c.reply(WSMessage{Type: "unsubscribed", Data: req.Channels})
		default:
			c.reply(WSMessage{Type: "error", Data: "unknown op"})
		}
	}
}

// reply goes through the hub so it never races a close of c.send
func (c *Client) reply(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	send(c.hub, c.hub.publish, envelope{channel: directChannel(c), payload: payload})
}

func directChannel(c *Client) string {
	return "client:" + c.id
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		id:            uuid.NewString(),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}
	client.subscriptions[directChannel(client)] = true
	if !send(s.hub, s.hub.register, client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func tradesChannel(ticker string) string    { return "trades:" + ticker }
func orderbookChannel(ticker string) string { return "orderbook:" + ticker }
