package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Conn is the write surface the hub needs from a client connection.
// Implementations must tolerate concurrent Send calls.
type Conn interface {
	Send(ctx context.Context, data []byte) error
}

// sendQueueSize bounds the frames buffered per connection. A consumer
// that falls further behind loses frames instead of stalling senders;
// the next roster broadcast restores its view.
const sendQueueSize = 64

// client pairs a connection with its outbound queue. One writer
// goroutine per client drains the queue, so a stalled connection never
// delays the goroutine that produced an event.
type client struct {
	conn  Conn
	queue chan []byte
}

// Hub tracks every accepted connection and fans outbound events out to
// them. The connection set is a superset of the joined participants: a
// client that connected but never joined still receives broadcasts.
// Senders only enqueue; delivery happens on per-client writers, in
// enqueue order per connection. Thread-safe via sync.RWMutex.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*client
	writeTimeout time.Duration
}

// NewHub creates an empty hub. writeTimeout bounds each delivery attempt.
func NewHub(writeTimeout time.Duration) *Hub {
	return &Hub{
		clients:      make(map[string]*client),
		writeTimeout: writeTimeout,
	}
}

// Register adds a connection under its identity and starts its writer.
// When firstEvent is non-empty, that frame is queued before the
// connection becomes visible to broadcasts, so it is delivered ahead of
// any event racing with registration.
func (h *Hub) Register(id string, c Conn, firstEvent string, firstPayload any) {
	cl := &client{conn: c, queue: make(chan []byte, sendQueueSize)}

	var first []byte
	if firstEvent != "" {
		data, err := marshalEvent(firstEvent, firstPayload)
		if err == nil {
			first = data
		}
	}

	h.mu.Lock()
	if first != nil {
		cl.queue <- first
	}
	h.clients[id] = cl
	h.mu.Unlock()

	go h.writeLoop(id, cl)
	slog.Debug("hub: registered", "id", id)
}

// Unregister removes a connection and stops its writer once the queue
// drains. Safe to call for an unknown id.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	if cl, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(cl.queue)
	}
	h.mu.Unlock()
	slog.Debug("hub: unregistered", "id", id)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo queues an event for a single connection. Returns false if the
// identity is not registered.
func (h *Hub) SendTo(id, event string, payload any) bool {
	data, err := marshalEvent(event, payload)
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	cl, ok := h.clients[id]
	if !ok {
		return false
	}
	h.enqueue(id, cl, data)
	return true
}

// SendToAll queues an event for every registered connection.
func (h *Hub) SendToAll(event string, payload any) {
	h.fanOut("", event, payload)
}

// SendToAllExcept queues an event for every registered connection except
// the sender.
func (h *Hub) SendToAllExcept(senderID, event string, payload any) {
	h.fanOut(senderID, event, payload)
}

// fanOut marshals the payload once and enqueues it for every target
// under RLock. Enqueueing never blocks; the caller returns as soon as
// every queue has accepted or dropped the frame.
func (h *Hub) fanOut(excludeID, event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	for id, cl := range h.clients {
		if id != excludeID {
			h.enqueue(id, cl, data)
		}
	}
	h.mu.RUnlock()
}

// enqueue must be called with the hub lock held, which keeps the queue
// open for the duration of the send.
func (h *Hub) enqueue(id string, cl *client, data []byte) {
	select {
	case cl.queue <- data:
	default:
		slog.Warn("hub: send queue full, dropping frame", "id", id)
	}
}

// writeLoop delivers queued frames until Unregister closes the queue.
// Remaining buffered frames are still delivered before the writer exits.
func (h *Hub) writeLoop(id string, cl *client) {
	for data := range cl.queue {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := cl.conn.Send(ctx, data)
		cancel()
		if err != nil {
			slog.Debug("hub: write failed", "id", id, "error", err)
		}
	}
}

func marshalEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("hub: marshal failed", "event", event, "error", err)
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Payload: raw})
}
