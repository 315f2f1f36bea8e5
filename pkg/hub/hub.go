// Package hub fans the frame bridge's single video stream out to any
// number of websocket preview viewers.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub tracks connected viewers and publishes frames and control
// events to them. Delivery per viewer is latest-frame-wins, so a slow
// viewer never accumulates latency and never stalls the stream.
type Hub struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
}

// New creates an empty hub.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:    name,
		logger:  logger.With("hub", name),
		viewers: make(map[*Viewer]struct{}),
	}
}

// PublishFrame hands a frame to every connected viewer, replacing any
// frame a slow viewer has not yet consumed.
func (h *Hub) PublishFrame(img []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers {
		v.offerFrame(img)
	}
}

// PublishEvent broadcasts a JSON control message to every viewer.
// Events are delivered in order and are never replaced by frames.
func (h *Hub) PublishEvent(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers {
		v.offerEvent(data)
	}
	return nil
}

// ViewerCount reports how many viewers are connected.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) add(v *Viewer) {
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	count := len(h.viewers)
	h.mu.Unlock()
	h.logger.Info("viewer connected", "total", count)
}

func (h *Hub) remove(v *Viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	if ok {
		delete(h.viewers, v)
	}
	count := len(h.viewers)
	h.mu.Unlock()
	if ok {
		h.logger.Info("viewer disconnected", "remaining", count)
	}
}
