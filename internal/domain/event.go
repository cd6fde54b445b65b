// Package domain holds the data model shared across the trigger core's
// components: events, context windows, rules, and notifications.
package domain

import "time"

// Event is a single domain event ingested from the broker.
type Event struct {
	EventID    string                 `json:"event_id"`
	EventType  string                 `json:"event_type"`
	ContextKey string                 `json:"context_key"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data"`
}

// Clone returns a deep-enough copy safe to store independently of the
// original (Data is a shallow map copy, matching the event's own
// JSON-decoded shape where values are scalars/slices/maps already
// detached from the wire buffer).
func (e Event) Clone() Event {
	data := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	return Event{
		EventID:    e.EventID,
		EventType:  e.EventType,
		ContextKey: e.ContextKey,
		Timestamp:  e.Timestamp,
		Data:       data,
	}
}
