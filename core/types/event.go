package types

import "sort"

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute is a single key/value pair of an event in canonical order.
type Attribute struct {
	Key   string
	Value string
}

// SortedAttributes returns the event attributes ordered by key. RLP has no map
// encoding, so persisted events carry their attributes in this form.
func (e *Event) SortedAttributes() []Attribute {
	if e == nil || len(e.Attributes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Attribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, Attribute{Key: k, Value: e.Attributes[k]})
	}
	return out
}
