package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
)

type note struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Stars int    `json:"stars"`
}

func (n *note) merge(payload json.RawMessage) error {
	return event.Merge(payload, map[string]any{
		"id":    &n.ID,
		"title": &n.Title,
		"stars": &n.Stars,
	})
}

func TestEncodeCreateHoldsEveryField(t *testing.T) {
	payload, err := event.EncodeCreate(note{ID: "n1", Title: "first", Stars: 3})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"n1","title":"first","stars":3}`, string(payload))
}

func TestEncodeCreateRejectsUnencodable(t *testing.T) {
	_, err := event.EncodeCreate(map[string]any{"ch": make(chan int)})
	require.ErrorIs(t, err, event.ErrEncoding)
}

func TestEncodeDiffOnlyChangedFields(t *testing.T) {
	before := note{ID: "n1", Title: "first", Stars: 3}
	after := before
	after.Title = "second"

	payload, err := event.EncodeDiff(before, after)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"second"}`, string(payload))
}

func TestEncodeDiffWithoutChangesIsEmptyObject(t *testing.T) {
	n := note{ID: "n1", Title: "first"}
	payload, err := event.EncodeDiff(n, n)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(payload))
}

func TestEncodeDiffRejectsNonObjects(t *testing.T) {
	_, err := event.EncodeDiff("a", "b")
	require.ErrorIs(t, err, event.ErrEncoding)
}

func TestDiffThenMergeLeavesOtherFieldsAlone(t *testing.T) {
	before := note{ID: "n1", Title: "first", Stars: 3}
	after := before
	after.Stars = 9

	payload, err := event.EncodeDiff(before, after)
	require.NoError(t, err)

	restored := before
	require.NoError(t, restored.merge(payload))
	require.Equal(t, after, restored)
}

func TestMergeIgnoresMismatchedAndNullValues(t *testing.T) {
	n := note{ID: "n1", Title: "first", Stars: 3}
	require.NoError(t, n.merge(json.RawMessage(`{"title":null,"stars":"many","unknown":1}`)))
	require.Equal(t, note{ID: "n1", Title: "first", Stars: 3}, n)
}

func TestMergeRejectsNonMapping(t *testing.T) {
	for _, payload := range []string{`[1,2]`, `"text"`, `null`, `{broken`} {
		var n note
		err := n.merge(json.RawMessage(payload))
		require.ErrorIs(t, err, event.ErrPayloadMalformed, payload)
	}
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := event.New("Notes", "n1", json.RawMessage(`{}`), 10)
	b := event.New("Notes", "n1", json.RawMessage(`{}`), 10)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, int64(10), a.Timestamp)
}
