package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one immutable entry of the event log. Kind names the entity type
// ("Tweets"), AggregateID the entity instance the change belongs to.
type Event struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   int64           `json:"timestamp"` // unix milliseconds
}

// Clock returns the current time in unix milliseconds. Two calls may return
// the same value; replay breaks such ties by append order.
type Clock func() int64

// Now is the wall clock in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// New creates an event with a fresh id.
func New(kind, aggregateID string, payload json.RawMessage, timestamp int64) Event {
	return Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		AggregateID: aggregateID,
		Payload:     payload,
		Timestamp:   timestamp,
	}
}
