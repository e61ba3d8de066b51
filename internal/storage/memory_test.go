package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage/storagetest"
)

func TestMemoryConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemory()
	})
}

func TestMemorySkipsCorruptRecords(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	good := event.New("Tweets", "a", json.RawMessage(`{"content":"hi"}`), 1)
	require.NoError(t, m.Append(ctx, good))
	m.AppendRaw([]byte(`{"id":`))
	later := event.New("Tweets", "b", json.RawMessage(`{}`), 2)
	require.NoError(t, m.Append(ctx, later))

	events, err := m.All(ctx)
	require.ErrorIs(t, err, storage.ErrDecoding)

	var corrupt *storage.CorruptError
	require.True(t, errors.As(err, &corrupt))
	require.Equal(t, []string{"2"}, corrupt.Positions)
	require.Equal(t, storage.EventsCollection, corrupt.Collection)

	require.Len(t, events, 2)
	require.Equal(t, good.ID, events[0].ID)
	require.Equal(t, later.ID, events[1].ID)
}

func TestMemoryUpdateWithNilRemovesDocument(t *testing.T) {
	m := storage.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, "k", func([]byte) ([]byte, error) { return []byte(`1`), nil }))
	require.NoError(t, m.Update(ctx, "k", func([]byte) ([]byte, error) { return nil, nil }))

	doc, err := m.Load(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, doc)
}
