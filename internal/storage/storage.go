package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
)

// EventsCollection is the logical name all events are stored under.
const EventsCollection = "Events"

var (
	// ErrStoreUnavailable indicates the backing storage cannot be opened or is closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEncoding indicates a record could not be serialized.
	ErrEncoding = errors.New("record encoding failed")
	// ErrDecoding indicates a stored record could not be deserialized.
	ErrDecoding = errors.New("record decoding failed")
)

// CheckPayload rejects an event whose payload is missing or not valid JSON.
// Every backend calls it before writing, so all of them refuse the same events.
func CheckPayload(evt event.Event) error {
	if len(evt.Payload) == 0 || !json.Valid(evt.Payload) {
		return fmt.Errorf("%w: event %s payload is not valid JSON", ErrEncoding, evt.ID)
	}
	return nil
}

// EventLog is the append-only, ordered holder of every event of every kind.
type EventLog interface {
	// Append adds evt to the end of the log. Concurrent appends are serialized.
	Append(ctx context.Context, evt event.Event) error
	// All returns every stored event in append order. An empty store yields
	// an empty slice. When some records cannot be decoded the readable events
	// are returned together with a *CorruptError.
	All(ctx context.Context) ([]event.Event, error)
}

// DocumentStore holds whole JSON documents under string keys.
type DocumentStore interface {
	// Load returns the document stored under key, or nil when there is none.
	Load(ctx context.Context, key string) ([]byte, error)
	// Update atomically replaces the document under key with the result of
	// fn applied to its current value (nil when absent). An error from fn
	// aborts the update and is returned unchanged.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}

// Store is a backend providing both the event log and the document store.
type Store interface {
	EventLog
	DocumentStore
	Close() error
}

// CorruptError reports records that were skipped because they could not be
// decoded. It matches ErrDecoding.
type CorruptError struct {
	Collection string
	Positions  []string
	Err        error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s: %d corrupt record(s) skipped at [%s]: %v",
		e.Collection, len(e.Positions), strings.Join(e.Positions, ", "), e.Err)
}

// Unwrap exposes both ErrDecoding and the first decode failure.
func (e *CorruptError) Unwrap() []error {
	return []error{ErrDecoding, e.Err}
}

// Skip records one undecodable record.
func (e *CorruptError) Skip(position string, err error) {
	if e.Err == nil {
		e.Err = err
	}
	e.Positions = append(e.Positions, position)
}

// OrNil returns e when at least one record was skipped.
func (e *CorruptError) OrNil() error {
	if len(e.Positions) == 0 {
		return nil
	}
	return e
}
