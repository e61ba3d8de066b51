// Package api exposes the tweet, user and event operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/chronicle/internal/config"
	"github.com/gyaneshwarpardhi/chronicle/internal/replay"
	"github.com/gyaneshwarpardhi/chronicle/internal/repository"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
	"github.com/gyaneshwarpardhi/chronicle/internal/tweet"
	"github.com/gyaneshwarpardhi/chronicle/internal/user"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Deps are the collaborators the handler serves.
type Deps struct {
	Tweets *tweet.Service
	Users  *user.Store
	Events storage.EventLog
	Loader *config.Loader // optional; enables POST /config/reload
	Logger *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	tweets *tweet.Service
	users  *user.Store
	events storage.EventLog
	loader *config.Loader
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		tweets: d.Tweets,
		users:  d.Users,
		events: d.Events,
		loader: d.Loader,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /{$}", h.root)
	h.mux.HandleFunc("POST /create-user", h.createUser)
	h.mux.HandleFunc("POST /login", h.login)
	h.mux.HandleFunc("GET /tweets", h.allTweets)
	h.mux.HandleFunc("GET /tweets/cached", h.cachedTweets)
	h.mux.HandleFunc("GET /tweets/verify", h.verifyTweets)
	h.mux.HandleFunc("POST /tweets/repair", h.repairTweets)
	h.mux.HandleFunc("GET /tweet/{id}", h.getTweet)
	h.mux.HandleFunc("GET /tweets/{id}/history", h.tweetHistory)
	h.mux.HandleFunc("POST /tweet/create", h.createTweet)
	h.mux.HandleFunc("POST /tweet/update", h.updateTweet)
	h.mux.HandleFunc("GET /tweet/delete/{id}", h.deleteTweet)
	h.mux.HandleFunc("GET /events", h.allEvents)
	h.mux.HandleFunc("POST /config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(logger, h.mux)
}

// GET /
func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello, World!"))
}

// POST /create-user
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in user.Credentials
	if !h.decode(w, r, &in) {
		return
	}
	u, err := h.users.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      u.ID,
		"message": fmt.Sprintf("Hello, %s!", u.Name),
	})
}

// POST /login
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in user.Credentials
	if !h.decode(w, r, &in) {
		return
	}
	u, err := h.users.Login(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":      u.ID,
		"message": fmt.Sprintf("Hello, %s!", u.Name),
	})
}

// GET /tweets: every tweet rebuilt from the event log, newest first.
func (h *Handler) allTweets(w http.ResponseWriter, r *http.Request) {
	tweets, err := h.tweets.All(r.Context())
	if err != nil && !h.partial(r, err) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tweets))
}

// GET /tweets/cached: the denormalized list document.
func (h *Handler) cachedTweets(w http.ResponseWriter, r *http.Request) {
	tweets, err := h.tweets.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tweets))
}

// GET /tweets/verify
func (h *Handler) verifyTweets(w http.ResponseWriter, r *http.Request) {
	d, err := h.tweets.Verify(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consistent": d.Consistent(),
		"missing":    nonNil(d.Missing),
		"extra":      nonNil(d.Extra),
		"changed":    nonNil(d.Changed),
		"malformed":  nonNil(d.Malformed),
	})
}

// POST /tweets/repair
func (h *Handler) repairTweets(w http.ResponseWriter, r *http.Request) {
	n, err := h.tweets.Repair(r.Context())
	if err != nil && !h.partial(r, err) {
		h.fail(w, r, err)
		return
	}
	skipped := []string{}
	var malformed *replay.MalformedError
	if errors.As(err, &malformed) {
		skipped = malformed.Aggregates
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tweets": n, "skipped": skipped})
}

// GET /tweet/{id}
func (h *Handler) getTweet(w http.ResponseWriter, r *http.Request) {
	t, err := h.tweets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /tweets/{id}/history
func (h *Handler) tweetHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.tweets.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// POST /tweet/create
func (h *Handler) createTweet(w http.ResponseWriter, r *http.Request) {
	var in tweet.CreateTweet
	if !h.decode(w, r, &in) {
		return
	}
	t, err := h.tweets.Create(r.Context(), in)
	if err != nil && !h.stale(r, err) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// POST /tweet/update
func (h *Handler) updateTweet(w http.ResponseWriter, r *http.Request) {
	var in tweet.UpdateTweet
	if !h.decode(w, r, &in) {
		return
	}
	t, err := h.tweets.Update(r.Context(), in)
	if err != nil && !h.stale(r, err) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /tweet/delete/{id}
func (h *Handler) deleteTweet(w http.ResponseWriter, r *http.Request) {
	if err := h.tweets.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /events: the raw log in append order.
func (h *Handler) allEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.All(r.Context())
	if err != nil && !h.partial(r, err) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

// POST /config/reload: re-read the config file from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "no config file loaded")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":  true,
		"log_level": cfg.Log.Level,
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

// partial reports whether err still came with usable results: corrupt
// records skipped or aggregates left out of a replay.
func (h *Handler) partial(r *http.Request, err error) bool {
	var corrupt *storage.CorruptError
	var malformed *replay.MalformedError
	switch {
	case errors.As(err, &corrupt):
		h.logger.WarnContext(r.Context(), "serving log with corrupt records skipped",
			"collection", corrupt.Collection, "positions", corrupt.Positions)
		return true
	case errors.As(err, &malformed):
		h.logger.WarnContext(r.Context(), "serving replay without malformed aggregates",
			"kind", malformed.Kind, "aggregates", malformed.Aggregates)
		return true
	}
	return false
}

// stale reports whether a write reached the log but not the list document.
func (h *Handler) stale(r *http.Request, err error) bool {
	if !errors.Is(err, repository.ErrCacheStale) {
		return false
	}
	h.logger.WarnContext(r.Context(), "tweet list is stale, run POST /tweets/repair", "err", err)
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tweet.ErrInvalid), errors.Is(err, user.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, user.ErrExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
