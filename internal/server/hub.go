package server

import (
	"log"
	"sync"
	"time"
)

// Hub fans call lifecycle events out to monitor-feed subscribers. Slow
// subscribers drop events rather than stall broadcasters.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastCallStarted(sessionID, tenantID, method string) {
	h.broadcastEvent(CallStartedEvent{
		Event:     newEvent("call_started", time.Now().UTC()),
		SessionID: sessionID,
		TenantID:  tenantID,
		Method:    method,
	})
}

func (h *Hub) BroadcastCallEnded(sessionID, tenantID string, duration time.Duration, escalated bool) {
	h.broadcastEvent(CallEndedEvent{
		Event:     newEvent("call_ended", time.Now().UTC()),
		SessionID: sessionID,
		TenantID:  tenantID,
		Duration:  duration.Seconds(),
		Escalated: escalated,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := marshalEvent(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
