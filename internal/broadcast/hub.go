// Package broadcast fans out JSON envelopes to live clients over Server-Sent Events.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Message types.
const (
	TypeAgentStatus           = "agent_status"
	TypeProductUpdate         = "product_update"
	TypeInitStatus            = "init_status"
	TypeConnectionEstablished = "connection_established"
)

const (
	clientBuffer      = 64
	keepAliveInterval = 25 * time.Second
)

// Hub is the registry of connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	now     func() time.Time
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		now:     time.Now,
		logger:  logger,
	}
}

// Subscribe registers a client and returns its channel and an unsubscribe func.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit sends an envelope to every client. Clients with a full buffer miss it.
// It returns the number of clients the message was queued for.
func (h *Hub) Emit(msgType string, payload any) int {
	msg, err := h.Envelope(msgType, payload)
	if err != nil {
		h.logger.Error("encoding broadcast", "type", msgType, "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for ch := range h.clients {
		select {
		case ch <- msg:
			sent++
		default:
			h.logger.Debug("slow client, dropping message", "type", msgType)
		}
	}
	return sent
}

// Envelope encodes {type, timestamp, ...payload}. payload must encode to a
// JSON object or null.
func (h *Hub) Envelope(msgType string, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if string(raw) != "null" {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, fmt.Errorf("payload is not an object: %w", err)
			}
		}
	}

	t, _ := json.Marshal(msgType)
	ts, _ := json.Marshal(h.now().UTC().Format(time.RFC3339Nano))
	fields["type"] = t
	fields["timestamp"] = ts
	return json.Marshal(fields)
}

// ServeSSE streams envelopes to one client until the request ends. The client
// is greeted with connection_established, then init_status carrying the
// result of initial.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, initial func() any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	write := func(msg []byte) {
		w.Write([]byte("data: "))
		w.Write(msg)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	if msg, err := h.Envelope(TypeConnectionEstablished, map[string]string{"message": "Connected to TrendDrop"}); err == nil {
		write(msg)
	}
	var init any
	if initial != nil {
		init = initial()
	}
	if msg, err := h.Envelope(TypeInitStatus, init); err == nil {
		write(msg)
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			write(msg)
		}
	}
}
