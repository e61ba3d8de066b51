package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
)

// Memory keeps events and documents in process memory. Records are held in
// their encoded form so reads go through the same decode path as the durable
// backends.
type Memory struct {
	mu     sync.RWMutex
	closed bool
	events [][]byte
	docs   map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Append encodes evt and adds it to the end of the log.
func (m *Memory) Append(ctx context.Context, evt event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckPayload(evt); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("%w: marshal event %s: %w", ErrEncoding, evt.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreUnavailable
	}
	m.events = append(m.events, data)
	return nil
}

// All decodes every record in append order, skipping the unreadable ones.
func (m *Memory) All(ctx context.Context) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreUnavailable
	}
	corrupt := &CorruptError{Collection: EventsCollection}
	out := make([]event.Event, 0, len(m.events))
	for i, data := range m.events {
		var evt event.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			corrupt.Skip(strconv.Itoa(i+1), err)
			continue
		}
		out = append(out, evt)
	}
	return out, corrupt.OrNil()
}

// Load returns a copy of the document stored under key.
func (m *Memory) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreUnavailable
	}
	doc, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), doc...), nil
}

// Update replaces the document under key with fn's result; nil deletes it.
func (m *Memory) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreUnavailable
	}
	var current []byte
	if doc, ok := m.docs[key]; ok {
		current = append([]byte(nil), doc...)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.docs, key)
		return nil
	}
	m.docs[key] = append([]byte(nil), next...)
	return nil
}

// Close makes every later call fail with ErrStoreUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

