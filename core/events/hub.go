package events

import "sync"

// DefaultSubscriberBuffer is the per-subscriber queue length used when
// Subscribe is called with a non-positive buffer.
const DefaultSubscriberBuffer = 64

// Hub fans committed records out to live subscribers. A subscriber whose
// queue is full is dropped and its channel closed; it can resume from the
// journal using the last sequence it saw.
type Hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]chan Record
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Record)}
}

// Emit implements Emitter. Non-record events are ignored.
func (h *Hub) Emit(evt Event) {
	record, ok := evt.(Record)
	if !ok || h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- record:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function is safe
// to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Record, buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			close(existing)
			delete(h.subs, id)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
