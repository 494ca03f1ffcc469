// Package wsnotify streams bus events to websocket clients.
package wsnotify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/bus"
)

// Namespaces forwarded to clients.
var Namespaces = []string{"chats.", "conversation.", "instance.", "message."}

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans bus events out to connected clients. Run is the only writer to
// client connections.
type Hub struct {
	bus     *bus.Bus
	logger  *zap.Logger
	lock    sync.RWMutex
	clients map[*websocket.Conn]bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub creates a hub reading from b.
func NewHub(b *bus.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{bus: b, logger: logger, clients: make(map[*websocket.Conn]bool)}
}

// Start subscribes to the bus and begins broadcasting.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.SubscribeAny(256, Namespaces...)

	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				h.Broadcast(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends broadcasting and closes every client.
func (h *Hub) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done

	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		_ = c.Close()
		delete(h.clients, c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.clients[conn] = true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.clients, conn)
}

// Broadcast writes evt to every client, dropping the ones that fail.
func (h *Hub) Broadcast(evt bus.Event) {
	var dead []*websocket.Conn
	h.lock.RLock()
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(evt); err != nil {
			dead = append(dead, c)
		}
	}
	h.lock.RUnlock()

	for _, c := range dead {
		h.logger.Debug("dropping websocket client", zap.String("remote", c.RemoteAddr().String()))
		_ = c.Close()
		h.remove(c)
	}
}

// Handler upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are ignored.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.add(conn)
	defer func() {
		h.remove(conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
