// Package ws implements the WebSocket hub that streams live fleet status
// to dashboard clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64 // queued messages per client before drops start
)

// MessageSnapshot is sent to each client right after it connects.
const MessageSnapshot = "fleet.snapshot"

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection and its outbound queue.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts messages.
// It implements broadcast.Broadcaster.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*conn]struct{}
	snapshot func() any
	log      *slog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
		log:   logger.Component(log, "ws"),
	}
}

// SetSnapshot sets the function whose result greets new clients.
func (h *Hub) SetSnapshot(fn func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// ServeHTTP upgrades the request to a WebSocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard may be served from another origin
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer), cancel: cancel}

	h.mu.RLock()
	snapshot := h.snapshot
	h.mu.RUnlock()

	// The snapshot goes out before the client joins the broadcast set.
	if snapshot != nil {
		if data, err := encode(MessageSnapshot, snapshot()); err == nil {
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = ws.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				cancel()
				_ = ws.Close(websocket.StatusInternalError, "snapshot failed")
				return
			}
		}
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("websocket connected", "remote", r.RemoteAddr)

	go h.writeLoop(ctx, c)

	// Read loop detects disconnects and consumes pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast queues a message for every connected client. It never waits
// on a client; a client whose queue is full misses the message.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			h.log.Debug("websocket client queue full, dropping message", "type", msg.Type)
		}
	}
}

// BroadcastEvent marshals payload under eventType and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, Message{Type: eventType, Payload: raw})
}

// writeLoop drains one client's queue until the connection ends.
func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()
	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("websocket disconnected")
	}
}

func encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: eventType, Payload: raw})
}
