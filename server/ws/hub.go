// Package ws implements a Server-Sent Events (SSE) hub that streams bus
// traffic to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/taskforce/comms"
)

// DefaultKeepAlive is the interval between comment pings on idle streams.
const DefaultKeepAlive = 30 * time.Second

// Event is one SSE frame. ID and Type become the frame's id and event
// fields; the whole event is the JSON data.
type Event struct {
	ID      string `json:"-"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type frame struct {
	id, event string
	data      []byte
}

// client is one open stream. A non-empty agentID limits bus traffic to
// messages to or from that agent plus broadcasts.
type client struct {
	agentID string
	ch      chan frame
}

func (c *client) accepts(msg *comms.Message) bool {
	if c.agentID == "" {
		return true
	}
	return msg.To == c.agentID || msg.From == c.agentID || msg.Type == comms.TypeBroadcast
}

// Hub fans events out to SSE clients. Slow clients drop events rather than
// block publishers.
type Hub struct {
	// KeepAlive overrides DefaultKeepAlive when positive.
	KeepAlive time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

// NewHub creates a Hub ready to accept connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Broadcast sends event to every client regardless of its filter.
func (h *Hub) Broadcast(event Event) {
	h.fanOut(event, func(*client) bool { return true })
}

// Handle is a comms.Handler that forwards bus messages to interested
// clients. Subscribe it under comms.Wildcard.
func (h *Hub) Handle(_ context.Context, msg *comms.Message) error {
	h.fanOut(Event{ID: msg.ID, Type: string(msg.Type), Payload: msg}, func(c *client) bool {
		return c.accepts(msg)
	})
	return nil
}

func (h *Hub) fanOut(event Event, match func(*client) bool) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("hub marshal event", slog.String("type", event.Type), slog.Any("err", err))
		return
	}
	f := frame{id: event.ID, event: event.Type, data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.ch <- f:
		default:
			h.logger.Debug("sse client lagging, event dropped", slog.String("type", event.Type))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close ends every open stream. Later connections return immediately.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

// ServeSSE streams events until the client goes away or the hub closes.
// The agent_id query parameter narrows bus traffic to one agent.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	c := &client{agentID: r.URL.Query().Get("agent_id"), ch: make(chan frame, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	writeFrame(w, frame{event: "connected", data: []byte(`{"type":"connected"}`)})
	flusher.Flush()

	interval := h.KeepAlive
	if interval <= 0 {
		interval = DefaultKeepAlive
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n") //nolint:errcheck
			flusher.Flush()
		case f := <-c.ch:
			writeFrame(w, f)
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, f frame) {
	if f.id != "" {
		fmt.Fprintf(w, "id: %s\n", f.id) //nolint:errcheck
	}
	if f.event != "" {
		fmt.Fprintf(w, "event: %s\n", f.event) //nolint:errcheck
	}
	// A data line must not contain newlines.
	for _, line := range strings.Split(string(f.data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
	}
	fmt.Fprintln(w) //nolint:errcheck
}
