// Package websocket pushes document change notifications to connected
// browsers.
package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/starhp/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	sendBuffer = 64
)

var _ http.Handler = (*Hub)(nil)

// ErrClosed is returned by Broadcast after Shutdown.
var ErrClosed = stderrors.New("websocket hub is shut down")

// Hub tracks connected clients and fans broadcasts out to them. A single
// goroutine owns registration and broadcasting; the clients map is also
// read under clientsMutex.
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	origins []string
	logger  logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewHub creates a Hub and starts its goroutine. origins are host patterns
// accepted besides the request host.
func NewHub(origins []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client, 32),
		unregister: make(chan *websocket.Conn, 32),
		origins:    origins,
		logger:     logger.WithComponent("websocket"),
		ctx:        ctx,
		cancel:     cancel,
	}
	go hub.runHub()

	return hub
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects or the hub shuts down.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)

		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has written the response.
		h.logger.Debug(r.Context(), "websocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())

		return
	}

	client := &Client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")

		return
	}

	h.handleClient(client)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

func (h *Hub) runHub() {
	for {
		select {
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "client connected", "clients", count)

		case conn := <-h.unregister:
			h.unregisterClient(conn)

		case message := <-h.broadcast:
			h.broadcastToClients(message)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) unregisterClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	client, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
		close(client.send)
	}
	count := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		go closeConn(conn, websocket.StatusNormalClosure, "")
		h.logger.Debug(h.ctx, "client disconnected", "clients", count)
	}
}

// broadcastToClients drops clients whose send buffer is full.
func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.RLock()
	var slow []*websocket.Conn
	for conn, client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, conn)
		}
	}
	h.clientsMutex.RUnlock()

	for _, conn := range slow {
		h.unregisterClient(conn)
	}
}

// handleClient writes queued messages and pings. Incoming messages are
// discarded.
func (h *Hub) handleClient(client *Client) {
	defer func() {
		select {
		case h.unregister <- client.conn:
		case <-h.ctx.Done():
		}
	}()

	ctx := client.conn.CloseRead(h.ctx)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-client.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := client.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "websocket write failed", "error", err.Error())

				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := client.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg UpdateMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return ErrClosed
	}
}

// Notify broadcasts a change of the document name, logging failures.
func (h *Hub) Notify(name string, gone bool) {
	if err := h.Broadcast(NewUpdate(name, gone)); err != nil {
		h.logger.Warn(h.ctx, err, "cannot broadcast update", "name", name)
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()

	return len(h.clients)
}

// Shutdown stops the hub and closes every connection.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.cancel()

		h.clientsMutex.Lock()
		defer h.clientsMutex.Unlock()
		for conn := range h.clients {
			go closeConn(conn, websocket.StatusGoingAway, "server shutting down")
			delete(h.clients, conn)
		}
	})
}

// closeConn runs the close handshake, which waits for the peer.
func closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	_ = conn.Close(code, reason)
}
