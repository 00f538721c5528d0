package events

import "sync"

// Log is an in-process, append-only Emitter that keeps every event it receives
// in arrival order. Consumers read it by position, never by key.
type Log struct {
	mu      sync.RWMutex
	entries []Event
}

// NewLog returns an empty event log.
func NewLog() *Log { return &Log{} }

// Emit appends the event to the log.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, evt)
	l.mu.Unlock()
}

// Len returns the number of events recorded so far.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Since returns a copy of the events at positions >= from.
func (l *Log) Since(from int) []Event {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	out := make([]Event, len(l.entries)-from)
	copy(out, l.entries[from:])
	return out
}

// Types returns the event types in log order.
func (l *Log) Types() []string {
	events := l.Since(0)
	out := make([]string, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.EventType())
	}
	return out
}

// Reset discards every recorded event.
func (l *Log) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
