package webmonitor

import (
	"encoding/json"
	"sync"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
)

// ReportBroadcaster fans report events out to SSE clients.
// Events are serialized once and shared by every client.
type ReportBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	dropped uint64
}

// NewReportBroadcaster creates an empty broadcaster.
func NewReportBroadcaster() *ReportBroadcaster {
	return &ReportBroadcaster{
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (rb *ReportBroadcaster) Subscribe() (int, <-chan []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	id := rb.nextID
	rb.nextID++
	ch := make(chan []byte, 8)
	rb.clients[id] = ch

	logger.Debug("ReportBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(rb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (rb *ReportBroadcaster) Unsubscribe(id int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if ch, ok := rb.clients[id]; ok {
		close(ch)
		delete(rb.clients, id)
		logger.Debug("ReportBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(rb.clients))
	}
}

// Clients returns the number of subscribed clients.
func (rb *ReportBroadcaster) Clients() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.clients)
}

// Publish serializes payload and sends it to every client. Slow clients miss the event.
func (rb *ReportBroadcaster) Publish(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("ReportBroadcaster", "failed to encode event: %v", err)
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, ch := range rb.clients {
		select {
		case ch <- data:
		default:
			rb.dropped++
		}
	}
}
