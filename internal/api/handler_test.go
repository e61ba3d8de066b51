package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gyaneshwarpardhi/chronicle/internal/api"
	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/replay"
	"github.com/gyaneshwarpardhi/chronicle/internal/repository"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
	"github.com/gyaneshwarpardhi/chronicle/internal/tweet"
	"github.com/gyaneshwarpardhi/chronicle/internal/user"
)

func newHandler(t *testing.T, events storage.EventLog) http.Handler {
	t.Helper()
	return newHandlerOn(t, storage.NewMemory(), events)
}

func newHandlerOn(t *testing.T, store *storage.Memory, events storage.EventLog) http.Handler {
	t.Helper()
	if events == nil {
		events = store
	}
	repo := tweet.NewRepository(repository.Config{
		Log:       store,
		Documents: store,
		Replayer:  replay.New(store, 2, nil),
		Clock:     event.Now,
	})
	return api.New(api.Deps{
		Tweets: tweet.NewService(repo),
		Users:  user.NewStore(store, bcrypt.MinCost),
		Events: events,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRoot(t *testing.T) {
	h := newHandler(t, nil)

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Hello, World!", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nowhere", "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestUserRoutes(t *testing.T) {
	h := newHandler(t, nil)
	creds := `{"name":"ada","pass":"secret"}`

	rec := do(t, h, http.MethodPost, "/create-user", creds)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "Hello, ada!", decode[map[string]string](t, rec)["message"])

	require.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/create-user", creds).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/login", creds).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/login", `{"name":"ada","pass":"nope"}`).Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/login", `{"name":"bob","pass":"x"}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/login", `{`).Code)
}

func TestTweetLifecycle(t *testing.T) {
	h := newHandler(t, nil)

	rec := do(t, h, http.MethodPost, "/tweet/create", `{"content":"hello","user_id":"u1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[tweet.Tweet](t, rec)
	require.Equal(t, "hello", created.Content)

	rec = do(t, h, http.MethodPost, "/tweet/update", `{"id":"`+created.ID+`","content":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hi", decode[tweet.Tweet](t, rec).Content)

	rec = do(t, h, http.MethodGet, "/tweets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]tweet.Tweet](t, rec)
	require.Len(t, all, 1)
	require.Equal(t, "hi", all[0].Content)

	rec = do(t, h, http.MethodGet, "/tweet/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, all[0], decode[tweet.Tweet](t, rec))

	rec = do(t, h, http.MethodGet, "/tweets/"+created.ID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]event.Event](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]event.Event](t, rec), 2)

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodGet, "/tweet/delete/"+created.ID, "").Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/tweet/delete/"+created.ID, "").Code)

	rec = do(t, h, http.MethodGet, "/tweets/cached", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	// Delete leaves the log alone, so replay still finds the tweet.
	require.Len(t, decode[[]tweet.Tweet](t, do(t, h, http.MethodGet, "/tweets", "")), 1)

	rec = do(t, h, http.MethodGet, "/tweets/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"consistent":false,"missing":["`+created.ID+`"],"extra":[],"changed":[],"malformed":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/tweets/repair", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tweets":1,"skipped":[]}`, rec.Body.String())
	require.Len(t, decode[[]tweet.Tweet](t, do(t, h, http.MethodGet, "/tweets/cached", "")), 1)
}

func TestTweetErrors(t *testing.T) {
	h := newHandler(t, nil)

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tweet/create", `{"content":"","user_id":"u1"}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tweet/create", `not json`).Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/tweet/update", `{"id":"missing","content":"x"}`).Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/tweet/missing", "").Code)

	rec := do(t, h, http.MethodGet, "/tweets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/config/reload", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedTweetDoesNotBreakVerifyOrRepair(t *testing.T) {
	store := storage.NewMemory()
	h := newHandlerOn(t, store, nil)

	rec := do(t, h, http.MethodPost, "/tweet/create", `{"content":"hello","user_id":"u1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	good := decode[tweet.Tweet](t, rec)
	require.NoError(t, store.Append(context.Background(), event.New(tweet.Kind, "x", json.RawMessage(`[1]`), 1)))

	rec = do(t, h, http.MethodGet, "/tweets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []tweet.Tweet{good}, decode[[]tweet.Tweet](t, rec))

	rec = do(t, h, http.MethodGet, "/tweets/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"consistent":true,"missing":[],"extra":[],"changed":[],"malformed":["x"]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/tweets/repair", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tweets":1,"skipped":["x"]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/tweets/cached", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []tweet.Tweet{good}, decode[[]tweet.Tweet](t, rec))
}

// corruptLog returns its events with one record reported unreadable.
type corruptLog struct {
	storage.EventLog
	events []event.Event
}

func (c corruptLog) All(context.Context) ([]event.Event, error) {
	cerr := &storage.CorruptError{Collection: storage.EventsCollection}
	cerr.Skip("2", json.Unmarshal([]byte("{"), new(any)))
	return c.events, cerr.OrNil()
}

func TestEventsServedDespiteCorruptRecords(t *testing.T) {
	evt := event.New(tweet.Kind, "t1", json.RawMessage(`{"id":"t1"}`), 1)
	h := newHandler(t, corruptLog{events: []event.Event{evt}})

	rec := do(t, h, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]event.Event](t, rec)
	require.Len(t, got, 1)
	require.Equal(t, evt.ID, got[0].ID)
}

func TestStoreUnavailableIs503(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.Close())
	h := newHandler(t, store)

	rec := do(t, h, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, decode[map[string]string](t, rec)["error"], "unavailable")
}
