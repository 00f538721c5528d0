package events

import (
	"errors"
	"fmt"

	"trustescrow/core/types"
)

// MaxRangeLimit caps the number of records returned by a single Range call.
const MaxRangeLimit = 500

type store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var journalHeadKey = []byte("events/head")

func journalEntryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("events/entry/%020d", seq))
}

// Record is a committed notification together with its position in the log.
type Record struct {
	Sequence   uint64
	Type       string
	Attributes []types.Attribute
	Timestamp  uint64
}

// EventType implements Event.
func (r Record) EventType() string { return r.Type }

// Event converts the record back into its map-based payload.
func (r Record) Event() *types.Event {
	attrs := make(map[string]string, len(r.Attributes))
	for _, attr := range r.Attributes {
		attrs[attr.Key] = attr.Value
	}
	return &types.Event{Type: r.Type, Attributes: attrs}
}

// Journal is the durable, sequence-numbered notification log. It is written
// through the same state transaction as the mutation that produced the event,
// so an aborted operation never leaves a notification behind.
type Journal struct {
	store store
}

// NewJournal binds a journal to the provided state view.
func NewJournal(st store) *Journal {
	return &Journal{store: st}
}

// Head returns the sequence number of the last appended record, or zero when
// the log is empty.
func (j *Journal) Head() (uint64, error) {
	if j == nil || j.store == nil {
		return 0, errors.New("events: journal storage unavailable")
	}
	var head uint64
	if _, err := j.store.KVGet(journalHeadKey, &head); err != nil {
		return 0, err
	}
	return head, nil
}

// Append stores the event as the next record and returns it.
func (j *Journal) Append(evt *types.Event, timestamp int64) (Record, error) {
	if evt == nil || evt.Type == "" {
		return Record{}, errors.New("events: event type required")
	}
	head, err := j.Head()
	if err != nil {
		return Record{}, err
	}
	if timestamp < 0 {
		timestamp = 0
	}
	record := Record{
		Sequence:   head + 1,
		Type:       evt.Type,
		Attributes: evt.SortedAttributes(),
		Timestamp:  uint64(timestamp),
	}
	if err := j.store.KVPut(journalEntryKey(record.Sequence), &record); err != nil {
		return Record{}, err
	}
	if err := j.store.KVPut(journalHeadKey, record.Sequence); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Range returns up to limit records starting at sequence from (inclusive).
func (j *Journal) Range(from uint64, limit int) ([]Record, error) {
	head, err := j.Head()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxRangeLimit {
		limit = MaxRangeLimit
	}
	if from == 0 {
		from = 1
	}
	out := make([]Record, 0)
	for seq := from; seq <= head && len(out) < limit; seq++ {
		var record Record
		ok, err := j.store.KVGet(journalEntryKey(seq), &record)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("events: journal gap at sequence %d", seq)
		}
		out = append(out, record)
	}
	return out, nil
}
