// Package bridge runs the websocket fan-out hub that ws-carrier tabs
// connect to. Frames are relayed verbatim to every other connection and
// never echoed to the sender, giving connected clients the same
// semantics as a same-origin broadcast channel.
package bridge

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// sendCap is the outbound buffer per connection; a client that cannot
// keep up loses frames rather than stalling the hub (at-most-once).
const sendCap = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	// Tabs connect from localhost pages, file:// shells and the like.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub relays frames between all connected tabs.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Handler upgrades /ws requests and serves the connection until it drops.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("BRIDGE: upgrade: %v", err)
			return
		}
		c := &client{conn: conn, send: make(chan []byte, sendCap)}

		h.mu.Lock()
		h.clients[c] = struct{}{}
		n := len(h.clients)
		h.mu.Unlock()
		log.Printf("BRIDGE: tab connected (%d attached)", n)

		go c.writeLoop()
		h.readLoop(c)
	})
}

func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.broadcast(c, data)
	}
}

// broadcast relays data to every client except the sender.
func (h *Hub) broadcast(from *client, data []byte) {
	h.mu.Lock()
	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Printf("BRIDGE: slow tab, dropping frame")
		}
	}
	h.mu.Unlock()
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	_ = c.conn.Close()
	log.Printf("BRIDGE: tab disconnected (%d attached)", n)
}

func (c *client) writeLoop() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Run serves the hub on addr until ctx is canceled.
func Run(ctx context.Context, addr string) error {
	hub := NewHub()
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Printf("BRIDGE: listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
