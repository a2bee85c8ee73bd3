package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultClientBuffer = 32
	writeTimeout        = 5 * time.Second
)

// Hub broadcasts events as JSON text frames to connected websocket clients.
// A client whose buffer fills up is disconnected rather than slowing down
// the notifier. Hub is safe for concurrent use.
type Hub struct {
	origins []string
	buffer  int

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

var _ Notifier = (*Hub)(nil)

type hubClient struct {
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithOriginPatterns sets the allowed Origin host patterns for cross-origin
// browser clients (see websocket.AcceptOptions.OriginPatterns).
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithClientBuffer sets how many events may queue per client before it is
// dropped. Defaults to 32.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer:  defaultClientBuffer,
		clients: make(map[*hubClient]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify implements [Notifier]. It never blocks on slow clients.
func (h *Hub) Notify(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("notify: marshal event", "kind", string(ev.Kind), "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("notify: websocket client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects or the Hub is closed. Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("notify: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c := &hubClient{send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
	}()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "disconnected by server")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
