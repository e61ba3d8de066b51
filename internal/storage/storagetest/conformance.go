// Package storagetest holds the behaviour every storage.Store backend must share.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
)

// Open returns a fresh, empty store. The store is closed by the suite.
type Open func(t *testing.T) storage.Store

// Run exercises open against the storage contract.
func Run(t *testing.T, open Open) {
	t.Run("empty log", func(t *testing.T) { testEmptyLog(t, open) })
	t.Run("append order", func(t *testing.T) { testAppendOrder(t, open) })
	t.Run("invalid payload", func(t *testing.T) { testInvalidPayload(t, open) })
	t.Run("concurrent appends", func(t *testing.T) { testConcurrentAppends(t, open) })
	t.Run("documents", func(t *testing.T) { testDocuments(t, open) })
	t.Run("document update abort", func(t *testing.T) { testDocumentAbort(t, open) })
	t.Run("concurrent document updates", func(t *testing.T) { testConcurrentDocumentUpdates(t, open) })
	t.Run("closed", func(t *testing.T) { testClosed(t, open) })
}

func testEmptyLog(t *testing.T, open Open) {
	s := open(t)
	defer s.Close()

	events, err := s.All(context.Background())
	require.NoError(t, err)
	require.Empty(t, events)
}

func testAppendOrder(t *testing.T, open Open) {
	s := open(t)
	defer s.Close()
	ctx := context.Background()

	// Timestamps deliberately out of order: All must follow append order.
	want := []event.Event{
		event.New("Tweets", "a", json.RawMessage(`{"content":"one"}`), 30),
		event.New("Tweets", "b", json.RawMessage(`{"content":"two"}`), 10),
		event.New("Users", "a", json.RawMessage(`{}`), 20),
		event.New("Tweets", "a", json.RawMessage(`{"content":"three"}`), 20),
	}
	for _, evt := range want {
		require.NoError(t, s.Append(ctx, evt))
	}

	first, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, first, len(want))
	for i := range want {
		require.Equal(t, want[i].ID, first[i].ID)
		require.Equal(t, want[i].Kind, first[i].Kind)
		require.Equal(t, want[i].AggregateID, first[i].AggregateID)
		require.JSONEq(t, string(want[i].Payload), string(first[i].Payload))
		require.Equal(t, want[i].Timestamp, first[i].Timestamp)
	}

	second, err := s.All(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func testInvalidPayload(t *testing.T, open Open) {
	s := open(t)
	defer s.Close()
	ctx := context.Background()

	for name, payload := range map[string]json.RawMessage{
		"nil":    nil,
		"empty":  json.RawMessage(``),
		"broken": json.RawMessage(`{oops`),
	} {
		err := s.Append(ctx, event.New("Tweets", "a", payload, 1))
		require.ErrorIs(t, err, storage.ErrEncoding, name)
	}

	// Well-formed JSON that is not an object is stored; replay decides what to do with it.
	require.NoError(t, s.Append(ctx, event.New("Tweets", "a", json.RawMessage(`[1]`), 2)))

	events, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.JSONEq(t, `[1]`, string(events[0].Payload))
}

func testConcurrentAppends(t *testing.T, open Open) {
	s := open(t)
	defer s.Close()
	ctx := context.Background()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				evt := event.New("Tweets", fmt.Sprintf("agg-%d", w), json.RawMessage(`{}`), int64(i))
				if err := s.Append(ctx, evt); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)

	seen := make(map[string]bool, len(events))
	for _, evt := range events {
		require.False(t, seen[evt.ID], "duplicate event %s", evt.ID)
		seen[evt.ID] = true
	}
}

func testDocuments(t *testing.T, open Open) {
	s := open(t)
	defer s.Close()
	ctx := context.Background()

	doc, err := s.Load(ctx, "Tweets")
	require.NoError(t, err)
	require.Nil(t, doc)

	err = s.Update(ctx, "Tweets", func(current []byte) ([]byte, error) {
		require.Nil(t, current)
		return []byte(`[1]`), nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, "Tweets", func(current []byte) ([]byte, error) {
		require.Equal(t, `[1]`, string(current))
		return []byte(`[1,2]`), nil
	})
	require.NoError(t, err)

	doc, err = s.Load(ctx, "Tweets")
	require.NoError(t, err)
	require.Equal(t, `[1,2]`, string(doc))

	other, err := s.Load(ctx, "users")
	require.NoError(t, err)
	require.Nil(t, other)
}

func testDocumentAbort(t *testing.T, open Open) {
	s := open(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "Tweets", func([]byte) ([]byte, error) {
		return []byte(`"kept"`), nil
	}))

	boom := errors.New("boom")
	err := s.Update(ctx, "Tweets", func([]byte) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	doc, err := s.Load(ctx, "Tweets")
	require.NoError(t, err)
	require.Equal(t, `"kept"`, string(doc))
}

func testConcurrentDocumentUpdates(t *testing.T, open Open) {
	s := open(t)
	defer s.Close()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "counter", func(current []byte) ([]byte, error) {
				var n int
				if current != nil {
					if err := json.Unmarshal(current, &n); err != nil {
						return nil, err
					}
				}
				return json.Marshal(n + 1)
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	doc, err := s.Load(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, fmt.Sprint(writers), string(doc))
}

func testClosed(t *testing.T, open Open) {
	s := open(t)
	require.NoError(t, s.Close())
	ctx := context.Background()

	err := s.Append(ctx, event.New("Tweets", "a", json.RawMessage(`{}`), 1))
	require.ErrorIs(t, err, storage.ErrStoreUnavailable)

	_, err = s.All(ctx)
	require.ErrorIs(t, err, storage.ErrStoreUnavailable)

	_, err = s.Load(ctx, "Tweets")
	require.ErrorIs(t, err, storage.ErrStoreUnavailable)
}
