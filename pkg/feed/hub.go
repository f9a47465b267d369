package feed

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Hub fans serialized snapshots out to subscribers. It is safe for
// concurrent use.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan []byte
	latest      []byte
	buffer      int
	log         logrus.FieldLogger
}

// NewHub creates a hub whose subscriber channels hold buffer snapshots.
func NewHub(buffer int, log logrus.FieldLogger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		subscribers: make(map[string]chan []byte),
		buffer:      buffer,
		log:         log.WithField("component", "feed"),
	}
}

// Subscribe registers a new subscriber. The latest snapshot, if any, is
// queued immediately.
func (h *Hub) Subscribe() (string, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan []byte, h.buffer)
	if h.latest != nil {
		ch <- h.latest
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish stores data as the latest snapshot and offers it to every
// subscriber without blocking.
func (h *Hub) Publish(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = data
	for id, ch := range h.subscribers {
		select {
		case ch <- data:
		default:
			h.log.WithField("subscriber", id).Warn("Subscriber too slow, skipping push")
		}
	}
}

// Latest returns the most recent snapshot or nil.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
